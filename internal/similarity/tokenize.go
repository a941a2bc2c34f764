package similarity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
)

var wordPattern = regexp.MustCompile(`\w\w+`)

// Tokenize splits text into lower-cased terms of at least two word
// characters, dropping English stop words.
func Tokenize(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(
		text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize document: %w", err)
	}

	var terms []string
	for _, tok := range doc.Tokens() {
		for _, word := range wordPattern.FindAllString(strings.ToLower(tok.Text), -1) {
			if _, stop := stopWords[word]; stop {
				continue
			}
			terms = append(terms, word)
		}
	}
	return terms, nil
}

var stopWords = makeSet(
	"a", "about", "above", "across", "after", "afterwards", "again", "against", "all", "almost",
	"alone", "along", "already", "also", "although", "always", "am", "among", "amongst", "an",
	"and", "another", "any", "anyhow", "anyone", "anything", "anyway", "anywhere", "are", "around",
	"as", "at", "back", "be", "became", "because", "become", "becomes", "becoming", "been",
	"before", "beforehand", "behind", "being", "below", "beside", "besides", "between", "beyond", "both",
	"but", "by", "can", "cannot", "could", "did", "do", "does", "doing", "done",
	"down", "due", "during", "each", "eg", "either", "else", "elsewhere", "enough", "etc",
	"even", "ever", "every", "everyone", "everything", "everywhere", "except", "few", "for", "former",
	"formerly", "from", "further", "had", "has", "hasnt", "have", "having", "he", "hence",
	"her", "here", "hereafter", "hereby", "herein", "hers", "herself", "him", "himself", "his",
	"how", "however", "ie", "if", "in", "inc", "indeed", "into", "is", "it",
	"its", "itself", "just", "last", "latter", "least", "less", "ltd", "made", "many",
	"may", "me", "meanwhile", "might", "more", "moreover", "most", "mostly", "much", "must",
	"my", "myself", "namely", "neither", "never", "nevertheless", "next", "no", "nobody", "none",
	"nor", "not", "nothing", "now", "nowhere", "of", "off", "often", "on", "once",
	"only", "onto", "or", "other", "others", "otherwise", "our", "ours", "ourselves", "out",
	"over", "own", "per", "perhaps", "please", "rather", "re", "same", "seem", "seemed",
	"seeming", "seems", "several", "she", "should", "since", "so", "some", "somehow", "someone",
	"something", "sometime", "sometimes", "somewhere", "still", "such", "than", "that", "the", "their",
	"theirs", "them", "themselves", "then", "thence", "there", "thereafter", "thereby", "therefore", "therein",
	"these", "they", "this", "those", "though", "through", "throughout", "thru", "thus", "to",
	"together", "too", "toward", "towards", "under", "until", "up", "upon", "us", "very",
	"via", "was", "we", "well", "were", "what", "whatever", "when", "whence", "whenever",
	"where", "whereafter", "whereas", "whereby", "wherein", "whereupon", "wherever", "whether", "which", "while",
	"who", "whoever", "whole", "whom", "whose", "why", "will", "with", "within", "without",
	"would", "yet", "you", "your", "yours", "yourself", "yourselves",
)

func makeSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
