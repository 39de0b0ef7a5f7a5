package recommender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
)

// minRegularization keeps the normal equations solvable when _lambda is 0.
const minRegularization = 1e-8

// CollaborativeFiltering factorizes the ratings matrix into user and item
// factors with regularized alternating least squares.
type CollaborativeFiltering struct {
	baseRecommender
	errorMetric string

	userFactors     *mat.Dense
	itemFactors     *mat.Dense
	seedItemFactors *mat.Dense
	trainingErrors  []float64
}

func NewCollaborativeFiltering(
	initializer *ModelInitializer,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	errorMetric string,
	logger *logrus.Logger,
) *CollaborativeFiltering {
	if errorMetric == "" {
		errorMetric = config.ErrorMetricRMSE
	}
	return &CollaborativeFiltering{
		baseRecommender: newBaseRecommender(initializer, ratings, evaluator, hyper, nIterations, logger),
		errorMetric:     errorMetric,
	}
}

func (cf *CollaborativeFiltering) Name() string {
	return config.CollaborativeALS
}

func (cf *CollaborativeFiltering) NItems() int {
	_, docs := cf.ratings.Dims()
	return docs
}

func (cf *CollaborativeFiltering) NUsers() int {
	users, _ := cf.ratings.Dims()
	return users
}

// SetItemFactors seeds the item factors of the next Train, typically with
// a content-based document distribution (documents × n_factors).
func (cf *CollaborativeFiltering) SetItemFactors(itemFactors *mat.Dense) error {
	if err := checkShape(itemFactors, cf.NItems(), cf.nFactors); err != nil {
		return fmt.Errorf("invalid item factors: %w", err)
	}
	cf.seedItemFactors = mat.DenseCopyOf(itemFactors)
	return nil
}

// SetRatings replaces the ratings matrix. Trained factors are discarded
// when the shape changes.
func (cf *CollaborativeFiltering) SetRatings(ratings *mat.Dense) error {
	if cf.ratings != nil {
		if err := sameShape(ratings, cf.ratings); err != nil {
			cf.userFactors, cf.itemFactors, cf.predictions = nil, nil, nil
			cf.seedItemFactors = nil
		}
	}
	cf.ratings = ratings
	return nil
}

func (cf *CollaborativeFiltering) Train(ctx context.Context) error {
	if err := cf.validate(); err != nil {
		return err
	}
	start := time.Now()

	users, docs := cf.ratings.Dims()
	k := cf.nFactors

	// Each iteration solves U from V first, so only V needs a starting point.
	var u, v *mat.Dense
	itemWarm := false
	if cf.seedItemFactors != nil && checkShape(cf.seedItemFactors, docs, k) == nil {
		v = mat.DenseCopyOf(cf.seedItemFactors)
	} else {
		v, itemWarm = cf.initializer.LoadMatrix(ctx, "item_factors", docs, k)
	}

	lambda := cf.hyper.Lambda
	if lambda < minRegularization {
		lambda = minRegularization
	}

	cf.trainingErrors = cf.trainingErrors[:0]
	var predictions mat.Dense
	for iteration := 0; iteration < cf.nIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		nextU, err := alsStep(v, cf.ratings, lambda)
		if err != nil {
			return fmt.Errorf("failed to update user factors: %w", err)
		}
		u = nextU

		nextV, err := alsStep(u, cf.ratings.T(), lambda)
		if err != nil {
			return fmt.Errorf("failed to update item factors: %w", err)
		}
		v = nextV

		predictions.Mul(u, v.T())
		trainingError, err := cf.trainingError(&predictions)
		if err != nil {
			return err
		}
		cf.trainingErrors = append(cf.trainingErrors, trainingError)

		cf.logger.WithFields(logrus.Fields{
			"algorithm":    cf.Name(),
			"iteration":    iteration + 1,
			"error_metric": cf.errorMetric,
			"error":        trainingError,
		}).Debug("ALS iteration finished")
		predictions.Reset()
	}

	for name, m := range map[string]*mat.Dense{"user_factors": u, "item_factors": v} {
		if err := cf.initializer.SaveMatrix(ctx, name, m); err != nil {
			cf.logger.WithError(err).WithField("matrix", name).Warn("Failed to persist factors")
		}
	}

	cf.userFactors = u
	cf.itemFactors = v
	predictions.Mul(u, v.T())
	cf.predictions = mat.DenseCopyOf(&predictions)

	fields := logrus.Fields{
		"algorithm":    cf.Name(),
		"users":        users,
		"documents":    docs,
		"n_factors":    k,
		"iterations":   cf.nIterations,
		"seeded_items": cf.seedItemFactors != nil,
		"warm_start":   itemWarm,
		"duration":     time.Since(start),
		"error_metric": cf.errorMetric,
	}
	if n := len(cf.trainingErrors); n > 0 {
		fields["error"] = cf.trainingErrors[n-1]
	}
	cf.logger.WithFields(fields).Info("Collaborative filtering trained")
	return nil
}

func (cf *CollaborativeFiltering) Predictions() (*mat.Dense, error) {
	if cf.predictions == nil {
		return nil, ErrNotTrained
	}
	return cf.predictions, nil
}

func (cf *CollaborativeFiltering) UserFactors() (*mat.Dense, error) {
	if cf.userFactors == nil {
		return nil, ErrNotTrained
	}
	return cf.userFactors, nil
}

func (cf *CollaborativeFiltering) ItemFactors() (*mat.Dense, error) {
	if cf.itemFactors == nil {
		return nil, ErrNotTrained
	}
	return cf.itemFactors, nil
}

// TrainingErrors returns the configured error metric after every iteration
// of the last Train.
func (cf *CollaborativeFiltering) TrainingErrors() []float64 {
	return append([]float64(nil), cf.trainingErrors...)
}

func (cf *CollaborativeFiltering) trainingError(predictions *mat.Dense) (float64, error) {
	evaluator := cf.evaluator
	if evaluator == nil {
		evaluator = NewEvaluator(cf.ratings, nil)
	}
	switch cf.errorMetric {
	case config.ErrorMetricRMSE:
		return evaluator.RMSE(predictions, cf.ratings)
	case config.ErrorMetricRecall:
		return evaluator.Recall(predictions, cf.ratings)
	default:
		return 0, fmt.Errorf("%w: error metric %q", ErrUnknownAlgorithm, cf.errorMetric)
	}
}

// alsStep solves (FᵀF + λI) X = FᵀRᵀ and returns Xᵀ, the factors of the
// rows of R given the fixed factors F of its columns.
func alsStep(fixed *mat.Dense, ratings mat.Matrix, lambda float64) (*mat.Dense, error) {
	_, k := fixed.Dims()

	var gram mat.Dense
	gram.Mul(fixed.T(), fixed)
	for i := 0; i < k; i++ {
		gram.Set(i, i, gram.At(i, i)+lambda)
	}

	var rhs mat.Dense
	rhs.Mul(fixed.T(), ratings.T())

	var solution mat.Dense
	if err := solution.Solve(&gram, &rhs); err != nil {
		var condition mat.Condition
		if !errors.As(err, &condition) {
			return nil, err
		}
	}
	return mat.DenseCopyOf(solution.T()), nil
}
