package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// WordCount is the total number of occurrences of a word across the corpus.
type WordCount struct {
	WordID int `json:"word_id"`
	Count  int `json:"count"`
}

// ArticleWord records that a word occurs in an article.
type ArticleWord struct {
	ArticleID int `json:"article_id"`
	WordID    int `json:"word_id"`
}

// ArticleWordCount is the number of occurrences of a word in one article.
type ArticleWordCount struct {
	ArticleID int `json:"article_id"`
	WordID    int `json:"word_id"`
	Count     int `json:"count"`
}

// AbstractsPreprocessor holds the abstracts of every document together with
// the word distributions the content-based recommenders train on. Document
// IDs are dense, 0..NumItems()-1.
type AbstractsPreprocessor struct {
	abstracts            map[int]string
	wordToCount          []WordCount
	articleToWord        []ArticleWord
	articleToWordToCount []ArticleWordCount
	vocabulary           []string
	numVocab             int
}

func NewAbstractsPreprocessor(
	abstracts map[int]string,
	wordToCount []WordCount,
	articleToWord []ArticleWord,
	articleToWordToCount []ArticleWordCount,
) *AbstractsPreprocessor {
	numVocab := 0
	for _, wc := range wordToCount {
		if wc.WordID+1 > numVocab {
			numVocab = wc.WordID + 1
		}
	}
	for _, awc := range articleToWordToCount {
		if awc.WordID+1 > numVocab {
			numVocab = awc.WordID + 1
		}
	}

	return &AbstractsPreprocessor{
		abstracts:            abstracts,
		wordToCount:          wordToCount,
		articleToWord:        articleToWord,
		articleToWordToCount: articleToWordToCount,
		numVocab:             numVocab,
	}
}

// NewFromAbstracts tokenizes the abstracts and derives the word distributions.
// Word IDs follow the lexical order of the vocabulary.
func NewFromAbstracts(abstracts map[int]string, tokenizer *Tokenizer) (*AbstractsPreprocessor, error) {
	if tokenizer == nil {
		tokenizer = NewTokenizer(false)
	}

	for docID := range abstracts {
		if docID < 0 || docID >= len(abstracts) {
			return nil, fmt.Errorf("document id %d outside of 0..%d", docID, len(abstracts)-1)
		}
	}

	perDocument := make(map[int]map[string]int, len(abstracts))
	totals := make(map[string]int)
	for docID, abstract := range abstracts {
		counts := make(map[string]int)
		for _, token := range tokenizer.Tokenize(abstract) {
			counts[token]++
			totals[token]++
		}
		perDocument[docID] = counts
	}

	vocabulary := make([]string, 0, len(totals))
	for word := range totals {
		vocabulary = append(vocabulary, word)
	}
	sort.Strings(vocabulary)

	wordIndex := make(map[string]int, len(vocabulary))
	wordToCount := make([]WordCount, len(vocabulary))
	for i, word := range vocabulary {
		wordIndex[word] = i
		wordToCount[i] = WordCount{WordID: i, Count: totals[word]}
	}

	var articleToWord []ArticleWord
	var articleToWordToCount []ArticleWordCount
	for docID := 0; docID < len(abstracts); docID++ {
		words := make([]string, 0, len(perDocument[docID]))
		for word := range perDocument[docID] {
			words = append(words, word)
		}
		sort.Strings(words)

		for _, word := range words {
			articleToWord = append(articleToWord, ArticleWord{ArticleID: docID, WordID: wordIndex[word]})
			articleToWordToCount = append(articleToWordToCount, ArticleWordCount{
				ArticleID: docID,
				WordID:    wordIndex[word],
				Count:     perDocument[docID][word],
			})
		}
	}

	p := NewAbstractsPreprocessor(abstracts, wordToCount, articleToWord, articleToWordToCount)
	p.vocabulary = vocabulary
	return p, nil
}

func (p *AbstractsPreprocessor) Abstracts() map[int]string {
	return p.abstracts
}

func (p *AbstractsPreprocessor) NumItems() int {
	return len(p.abstracts)
}

func (p *AbstractsPreprocessor) NumVocab() int {
	return p.numVocab
}

func (p *AbstractsPreprocessor) WordToCount() []WordCount {
	return p.wordToCount
}

func (p *AbstractsPreprocessor) ArticleToWord() []ArticleWord {
	return p.articleToWord
}

func (p *AbstractsPreprocessor) ArticleToWordToCount() []ArticleWordCount {
	return p.articleToWordToCount
}

// Vocabulary maps word IDs back to words. It is empty when the
// preprocessor was built from precomputed distributions.
func (p *AbstractsPreprocessor) Vocabulary() []string {
	return p.vocabulary
}

// Word returns the word for an ID, or its numeric form when unknown.
func (p *AbstractsPreprocessor) Word(wordID int) string {
	if wordID >= 0 && wordID < len(p.vocabulary) {
		return p.vocabulary[wordID]
	}
	return fmt.Sprintf("#%d", wordID)
}

// TermDocumentMatrix returns the documents × vocabulary count matrix.
// Duplicate (article, word) entries are summed.
func (p *AbstractsPreprocessor) TermDocumentMatrix() (*mat.Dense, error) {
	if p.NumItems() == 0 || p.numVocab == 0 {
		return nil, fmt.Errorf("empty corpus: %d documents, %d words", p.NumItems(), p.numVocab)
	}

	counts := mat.NewDense(p.NumItems(), p.numVocab, nil)
	for _, awc := range p.articleToWordToCount {
		if awc.ArticleID < 0 || awc.ArticleID >= p.NumItems() {
			return nil, fmt.Errorf("article id %d outside of corpus", awc.ArticleID)
		}
		counts.Set(awc.ArticleID, awc.WordID, counts.At(awc.ArticleID, awc.WordID)+float64(awc.Count))
	}

	return counts, nil
}
