package recommender

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/james-bowman/nlp"
	"github.com/james-bowman/sparse"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/preprocessing"
)

// LDA priors. A sparse document prior keeps topic mixtures peaked on
// short abstracts.
const (
	ldaAlpha = 0.1
	ldaEta   = 0.01
)

// LDARecommender models every abstract as a mixture of n_factors topics
// learned with online variational Bayes LDA.
type LDARecommender struct {
	contentBase
	topicWords *mat.Dense
}

func NewLDARecommender(
	initializer *ModelInitializer,
	preprocessor *preprocessing.AbstractsPreprocessor,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	logger *logrus.Logger,
) *LDARecommender {
	return &LDARecommender{
		contentBase: contentBase{
			baseRecommender: newBaseRecommender(initializer, ratings, evaluator, hyper, nIterations, logger),
			preprocessor:    preprocessor,
		},
	}
}

func (l *LDARecommender) Name() string {
	return config.ContentBasedLDA
}

func (l *LDARecommender) Train(ctx context.Context) error {
	if err := l.validate(); err != nil {
		return err
	}
	start := time.Now()

	theta, phi, err := fitLDA(ctx, l.preprocessor, l.nFactors, l.nIterations, l.initializer.Seed())
	if err != nil {
		return err
	}

	if err := l.initializer.SaveMatrix(ctx, "lda_document_distribution", theta); err != nil {
		l.logger.WithError(err).Warn("Failed to persist document distribution")
	}

	l.topicWords = phi
	if err := l.finish(theta); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"algorithm":  l.Name(),
		"documents":  l.NItems(),
		"words":      l.preprocessor.NumVocab(),
		"n_factors":  l.nFactors,
		"iterations": l.nIterations,
		"duration":   time.Since(start),
	}).Info("Content-based model trained")
	return nil
}

// TopicWords is the n_factors × words topic-word distribution.
func (l *LDARecommender) TopicWords() (*mat.Dense, error) {
	if l.topicWords == nil {
		return nil, ErrNotTrained
	}
	return l.topicWords, nil
}

func (l *LDARecommender) TopWords(n int) ([][]string, error) {
	if l.topicWords == nil {
		return nil, ErrNotTrained
	}
	return topWords(l.topicWords, l.preprocessor, n), nil
}

// fitLDA returns the documents × topics distribution θ and the topics ×
// words distribution φ, both row-normalized. Equal seeds give equal fits.
func fitLDA(
	ctx context.Context,
	preprocessor *preprocessing.AbstractsPreprocessor,
	nTopics int,
	nIterations int,
	seed int64,
) (*mat.Dense, *mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	counts, err := preprocessor.TermDocumentMatrix()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build term matrix: %w", err)
	}
	docs, words := counts.Dims()

	termsByDocs := sparse.NewDOK(words, docs)
	for d := 0; d < docs; d++ {
		for w := 0; w < words; w++ {
			if v := counts.At(d, w); v != 0 {
				termsByDocs.Set(w, d, v)
			}
		}
	}

	lda := nlp.NewLatentDirichletAllocation(nTopics)
	lda.Iterations = nIterations
	lda.TransformationPasses = nIterations * 10
	lda.Processes = 1
	lda.Alpha = ldaAlpha
	lda.Eta = ldaEta
	lda.Rnd = rand.New(rand.NewSource(uint64(seed)))

	docsOverTopics, err := lda.FitTransform(termsByDocs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fit LDA: %w", err)
	}

	theta := mat.DenseCopyOf(docsOverTopics.T())
	normalizeRows(theta)

	phi := mat.DenseCopyOf(lda.Components())
	normalizeRows(phi)

	return theta, phi, nil
}

// topWords lists, for every row of a topics × words matrix, the n words
// with the highest weight.
func topWords(topicWords *mat.Dense, preprocessor *preprocessing.AbstractsPreprocessor, n int) [][]string {
	topics, words := topicWords.Dims()
	if n > words {
		n = words
	}
	if n < 0 {
		n = 0
	}

	result := make([][]string, topics)
	for t := 0; t < topics; t++ {
		row := topicWords.RawRowView(t)
		ids := make([]int, words)
		for i := range ids {
			ids[i] = i
		}
		sort.SliceStable(ids, func(a, b int) bool {
			return row[ids[a]] > row[ids[b]]
		})

		result[t] = make([]string, 0, n)
		for _, id := range ids[:n] {
			result[t] = append(result[t], preprocessor.Word(id))
		}
	}
	return result
}
