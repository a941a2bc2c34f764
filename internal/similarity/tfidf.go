package similarity

import (
	"context"
	"errors"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ErrEmptyVocabulary means no document contributed a single usable term.
var ErrEmptyVocabulary = errors.New("empty vocabulary: documents contain only stop words")

// Vector is a sparse, L2-normalised TF-IDF row. Indices are ascending.
type Vector struct {
	Indices []int
	Values  []float64
}

// Vectorizer turns a corpus into TF-IDF rows over a capped vocabulary.
type Vectorizer struct {
	MaxFeatures int
	Tokenize    func(string) ([]string, error)
}

// FitTransform learns the vocabulary and IDF weights from docs and returns
// one vector per document, in input order.
func (v Vectorizer) FitTransform(docs []string) ([]Vector, []string, error) {
	tokenize := v.Tokenize
	if tokenize == nil {
		tokenize = Tokenize
	}

	counts := make([]map[string]int, len(docs))
	corpusFreq := make(map[string]int)
	for i, doc := range docs {
		terms, err := tokenize(doc)
		if err != nil {
			return nil, nil, err
		}
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
			corpusFreq[t]++
		}
		counts[i] = tf
	}

	if len(corpusFreq) == 0 {
		return nil, nil, ErrEmptyVocabulary
	}

	vocab := topTerms(corpusFreq, v.MaxFeatures)
	index := make(map[string]int, len(vocab))
	for i, term := range vocab {
		index[term] = i
	}

	df := make([]int, len(vocab))
	for _, tf := range counts {
		for term := range tf {
			if j, ok := index[term]; ok {
				df[j]++
			}
		}
	}

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for j := range vocab {
		idf[j] = math.Log((1+n)/(1+float64(df[j]))) + 1
	}

	vectors := make([]Vector, len(docs))
	for i, tf := range counts {
		var vec Vector
		for term := range tf {
			if j, ok := index[term]; ok {
				vec.Indices = append(vec.Indices, j)
			}
		}
		sort.Ints(vec.Indices)

		vec.Values = make([]float64, len(vec.Indices))
		var norm float64
		for k, j := range vec.Indices {
			w := float64(tf[vocab[j]]) * idf[j]
			vec.Values[k] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for k := range vec.Values {
				vec.Values[k] /= norm
			}
		}
		vectors[i] = vec
	}

	return vectors, vocab, nil
}

// topTerms keeps the maxFeatures most frequent terms, ties broken
// alphabetically, and returns them sorted alphabetically.
func topTerms(freq map[string]int, maxFeatures int) []string {
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}

	if maxFeatures > 0 && len(terms) > maxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if freq[terms[i]] != freq[terms[j]] {
				return freq[terms[i]] > freq[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:maxFeatures]
	}

	sort.Strings(terms)
	return terms
}

// Cosine of two normalised vectors.
func Cosine(a, b Vector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			dot += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return math.Max(0, math.Min(1, dot))
}

// Neighbor is one scored candidate for an anchor row.
type Neighbor struct {
	Index int
	Score float64
}

// TopNeighbors computes, for every row, the best topK other rows scoring
// strictly above minScore. Rows are processed by up to workers goroutines;
// the result does not depend on scheduling. ids break score ties ascending.
func TopNeighbors(ctx context.Context, vectors []Vector, ids []int64, topK int, minScore float64, workers int) ([][]Neighbor, error) {
	if len(ids) != len(vectors) {
		return nil, errors.New("ids and vectors differ in length")
	}
	if workers <= 0 {
		workers = 1
	}

	out := make([][]Neighbor, len(vectors))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range vectors {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			candidates := make([]Neighbor, 0, len(vectors)-1)
			for j := range vectors {
				if j == i {
					continue
				}
				score := Cosine(vectors[i], vectors[j])
				if score > minScore {
					candidates = append(candidates, Neighbor{Index: j, Score: score})
				}
			}

			sort.Slice(candidates, func(a, b int) bool {
				if candidates[a].Score != candidates[b].Score {
					return candidates[a].Score > candidates[b].Score
				}
				return ids[candidates[a].Index] < ids[candidates[b].Index]
			})
			if len(candidates) > topK {
				candidates = candidates[:topK]
			}
			out[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
