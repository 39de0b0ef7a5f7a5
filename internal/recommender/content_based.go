package recommender

import (
	"context"
	"fmt"
	"time"

	"github.com/james-bowman/nlp"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/preprocessing"
)

// contentBase holds what every content-based recommender shares: the
// abstracts and the learned document-topic distribution.
type contentBase struct {
	baseRecommender
	preprocessor *preprocessing.AbstractsPreprocessor
	distribution *mat.Dense
}

func (c *contentBase) NItems() int {
	return c.preprocessor.NumItems()
}

func (c *contentBase) Preprocessor() *preprocessing.AbstractsPreprocessor {
	return c.preprocessor
}

// DocumentTopicDistribution is the documents × n_factors matrix whose rows
// are probability distributions over topics.
func (c *contentBase) DocumentTopicDistribution() (*mat.Dense, error) {
	if c.distribution == nil {
		return nil, ErrNotTrained
	}
	return c.distribution, nil
}

func (c *contentBase) Predictions() (*mat.Dense, error) {
	if c.predictions == nil {
		return nil, ErrNotTrained
	}
	return c.predictions, nil
}

// SetRatings swaps the ratings used to build user profiles and recomputes
// predictions when a distribution is available.
func (c *contentBase) SetRatings(ratings *mat.Dense) error {
	_, docs := ratings.Dims()
	if docs != c.NItems() {
		return fmt.Errorf("%w: ratings cover %d documents, corpus has %d", ErrShapeMismatch, docs, c.NItems())
	}
	c.ratings = ratings
	c.predictions = nil
	if c.distribution == nil {
		return nil
	}
	predictions, err := contentPredictions(c.ratings, c.distribution)
	if err != nil {
		return err
	}
	c.predictions = predictions
	return nil
}

func (c *contentBase) validate() error {
	if err := c.baseRecommender.validate(); err != nil {
		return err
	}
	if c.preprocessor == nil {
		return fmt.Errorf("abstracts preprocessor is nil")
	}
	_, docs := c.ratings.Dims()
	if docs != c.NItems() {
		return fmt.Errorf("%w: ratings cover %d documents, corpus has %d", ErrShapeMismatch, docs, c.NItems())
	}
	return nil
}

// finish stores a trained distribution and derives predictions from it.
func (c *contentBase) finish(distribution *mat.Dense) error {
	normalizeRows(distribution)
	predictions, err := contentPredictions(c.ratings, distribution)
	if err != nil {
		return err
	}
	c.distribution = distribution
	c.predictions = predictions
	return nil
}

// ContentBased factorizes the tf-idf weighted documents × words matrix with
// non-negative matrix factorization.
type ContentBased struct {
	contentBase
	topicWords *mat.Dense
}

func NewContentBased(
	initializer *ModelInitializer,
	preprocessor *preprocessing.AbstractsPreprocessor,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	logger *logrus.Logger,
) *ContentBased {
	return &ContentBased{
		contentBase: contentBase{
			baseRecommender: newBaseRecommender(initializer, ratings, evaluator, hyper, nIterations, logger),
			preprocessor:    preprocessor,
		},
	}
}

func (c *ContentBased) Name() string {
	return config.ContentBasedNMF
}

func (c *ContentBased) Train(ctx context.Context) error {
	if err := c.validate(); err != nil {
		return err
	}
	start := time.Now()

	counts, err := c.preprocessor.TermDocumentMatrix()
	if err != nil {
		return fmt.Errorf("failed to build term matrix: %w", err)
	}
	weighted, err := tfidf(counts)
	if err != nil {
		return err
	}

	docs, words := weighted.Dims()
	k := c.nFactors

	w, loaded := c.initializer.LoadMatrix(ctx, "document_distribution", docs, k)
	h := c.initializer.RandomMatrix(k, words)

	var num, den, tmp mat.Dense
	for iteration := 0; iteration < c.nIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// H ← H ∘ (WᵀV) / (WᵀWH)
		num.Mul(w.T(), weighted)
		tmp.Mul(w.T(), w)
		den.Mul(&tmp, h)
		multiplicativeUpdate(h, &num, &den)
		num.Reset()
		den.Reset()
		tmp.Reset()

		// W ← W ∘ (VHᵀ) / (WHHᵀ)
		num.Mul(weighted, h.T())
		tmp.Mul(h, h.T())
		den.Mul(w, &tmp)
		multiplicativeUpdate(w, &num, &den)
		num.Reset()
		den.Reset()
		tmp.Reset()
	}

	var reconstruction mat.Dense
	reconstruction.Mul(w, h)
	reconstruction.Sub(weighted, &reconstruction)
	residual := mat.Norm(&reconstruction, 2)

	if err := c.initializer.SaveMatrix(ctx, "document_distribution", w); err != nil {
		c.logger.WithError(err).Warn("Failed to persist document distribution")
	}

	c.topicWords = h
	if err := c.finish(mat.DenseCopyOf(w)); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"algorithm":  c.Name(),
		"documents":  docs,
		"words":      words,
		"n_factors":  k,
		"iterations": c.nIterations,
		"warm_start": loaded,
		"residual":   residual,
		"duration":   time.Since(start),
	}).Info("Content-based model trained")
	return nil
}

// TopicWords is the n_factors × words matrix learned alongside the
// document distribution.
func (c *ContentBased) TopicWords() (*mat.Dense, error) {
	if c.topicWords == nil {
		return nil, ErrNotTrained
	}
	return c.topicWords, nil
}

// TopWords lists the n highest weighted words of every topic.
func (c *ContentBased) TopWords(n int) ([][]string, error) {
	if c.topicWords == nil {
		return nil, ErrNotTrained
	}
	return topWords(c.topicWords, c.preprocessor, n), nil
}

// tfidf weights a documents × words count matrix. The transformer works on
// words × documents, hence the transposes.
func tfidf(counts *mat.Dense) (*mat.Dense, error) {
	transformer := nlp.NewTfidfTransformer()
	weighted, err := transformer.FitTransform(mat.DenseCopyOf(counts.T()))
	if err != nil {
		return nil, fmt.Errorf("failed to apply tf-idf weighting: %w", err)
	}
	result := mat.DenseCopyOf(weighted.T())
	result.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, result)
	return result, nil
}
