package similarity

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespace = regexp.MustCompile(`\s+`)

// Document is the text a product contributes to the similarity corpus.
type Document struct {
	ProductID int64
	Text      string
}

// BuildDocument joins a product's name, its description with markup removed
// and its category name.
func BuildDocument(productID int64, name, description, categoryName string) Document {
	parts := make([]string, 0, 3)
	for _, s := range []string{name, PlainText(description), categoryName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return Document{ProductID: productID, Text: strings.Join(parts, " ")}
}

// PlainText strips markup from a product description and collapses whitespace.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(whitespace.ReplaceAllString(html, " "))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return whitespace.ReplaceAllString(html, " ")
	}

	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := whitespace.ReplaceAllString(doc.Text(), " ")
	return strings.TrimSpace(text)
}
