package recommender

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/preprocessing"
)

var (
	ErrNotTrained       = errors.New("recommender has not been trained")
	ErrShapeMismatch    = errors.New("matrix shape mismatch")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrUnknownUser      = errors.New("unknown user")
)

// Recommender is implemented by every model that scores users against documents.
type Recommender interface {
	Train(ctx context.Context) error
	// Predictions is the users × documents score matrix.
	Predictions() (*mat.Dense, error)
	NFactors() int
	NItems() int
	Name() string
}

// ContentRecommender additionally describes every document as a
// distribution over n_factors topics.
type ContentRecommender interface {
	Recommender
	DocumentTopicDistribution() (*mat.Dense, error)
	SetRatings(ratings *mat.Dense) error
	SetNFactors(nFactors int)
}

// baseRecommender carries the state shared by all recommenders.
type baseRecommender struct {
	initializer *ModelInitializer
	evaluator   *Evaluator
	ratings     *mat.Dense
	hyper       config.Hyperparameters
	nIterations int
	nFactors    int
	logger      *logrus.Logger

	predictions *mat.Dense
}

func newBaseRecommender(
	initializer *ModelInitializer,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	logger *logrus.Logger,
) baseRecommender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return baseRecommender{
		initializer: initializer,
		evaluator:   evaluator,
		ratings:     ratings,
		hyper:       hyper,
		nIterations: nIterations,
		nFactors:    hyper.NFactors,
		logger:      logger,
	}
}

func (b *baseRecommender) NFactors() int {
	return b.nFactors
}

// SetNFactors changes the number of latent factors used by the next Train.
func (b *baseRecommender) SetNFactors(nFactors int) {
	b.nFactors = nFactors
	b.hyper.NFactors = nFactors
}

func (b *baseRecommender) NIterations() int {
	return b.nIterations
}

func (b *baseRecommender) Ratings() *mat.Dense {
	return b.ratings
}

func (b *baseRecommender) validate() error {
	if b.nFactors < 1 {
		return fmt.Errorf("n_factors must be at least 1, got %d", b.nFactors)
	}
	if b.nIterations < 1 {
		return fmt.Errorf("n_iterations must be at least 1, got %d", b.nIterations)
	}
	if b.ratings == nil {
		return errors.New("ratings matrix is nil")
	}
	return nil
}

// NewContentRecommender builds the content-based recommender named in the
// recommender configuration.
func NewContentRecommender(
	algorithm string,
	initializer *ModelInitializer,
	preprocessor *preprocessing.AbstractsPreprocessor,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	logger *logrus.Logger,
) (ContentRecommender, error) {
	switch algorithm {
	case config.ContentBasedNMF:
		return NewContentBased(initializer, preprocessor, ratings, evaluator, hyper, nIterations, logger), nil
	case config.ContentBasedLDA:
		return NewLDARecommender(initializer, preprocessor, ratings, evaluator, hyper, nIterations, logger), nil
	case config.ContentBasedLDA2Vec:
		return NewLDA2VecRecommender(initializer, preprocessor, ratings, evaluator, hyper, nIterations, logger), nil
	default:
		return nil, fmt.Errorf("%w: content-based %q", ErrUnknownAlgorithm, algorithm)
	}
}
