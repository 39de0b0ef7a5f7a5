package preprocessing

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// Tokenizer splits abstracts into normalized lower-case words.
type Tokenizer struct {
	stopWords map[string]bool
}

// NewTokenizer returns a tokenizer. With dropStopWords set, common English
// function words are removed.
func NewTokenizer(dropStopWords bool) *Tokenizer {
	t := &Tokenizer{}
	if dropStopWords {
		t.stopWords = initializeStopWords()
	}
	return t
}

func (t *Tokenizer) Tokenize(text string) []string {
	cleaned := htmlTagRegex.ReplaceAllString(text, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = norm.NFC.String(cleaned)
	cleaned = strings.ToLower(cleaned)

	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := fields[:0]
	for _, field := range fields {
		if t.stopWords[field] {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func initializeStopWords() map[string]bool {
	stopWords := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "will", "with", "this", "but", "they", "have",
		"had", "what", "said", "each", "which", "she", "do", "how", "their",
		"if", "up", "out", "many", "then", "them", "these", "so", "some",
		"we", "our", "not", "can", "been", "were", "than", "also", "into",
	}

	stopWordMap := make(map[string]bool, len(stopWords))
	for _, word := range stopWords {
		stopWordMap[word] = true
	}
	return stopWordMap
}
