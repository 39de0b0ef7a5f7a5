package recommender

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/preprocessing"
	"github.com/temcen/hyprec/pkg/models"
)

// roundingThreshold turns a prediction into a binary recommendation.
const roundingThreshold = 0.5

// Evaluator splits the ratings matrix for validation and scores
// predictions against held-out ratings.
type Evaluator struct {
	ratings      *mat.Dense
	preprocessor *preprocessing.AbstractsPreprocessor
	seed         int64
}

type EvaluatorOption func(*Evaluator)

func WithRandomSeed(seed int64) EvaluatorOption {
	return func(e *Evaluator) {
		e.seed = seed
	}
}

func NewEvaluator(ratings *mat.Dense, preprocessor *preprocessing.AbstractsPreprocessor, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		ratings:      ratings,
		preprocessor: preprocessor,
		seed:         42,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Ratings() *mat.Dense {
	return e.ratings
}

func (e *Evaluator) Preprocessor() *preprocessing.AbstractsPreprocessor {
	return e.preprocessor
}

// Fold is one train/test partition of the ratings.
type Fold struct {
	Train *mat.Dense
	Test  *mat.Dense
}

// NaiveSplit moves a testPercentage share of every user's positive ratings
// into the test matrix. Users with at least two ratings keep at least one
// in each part; users with a single rating keep it for training.
func (e *Evaluator) NaiveSplit(testPercentage float64) (*mat.Dense, *mat.Dense, error) {
	if testPercentage <= 0 || testPercentage >= 1 {
		return nil, nil, fmt.Errorf("test percentage must be in (0,1), got %g", testPercentage)
	}

	rng := rand.New(rand.NewSource(e.seed))
	users, docs := e.ratings.Dims()
	train := mat.DenseCopyOf(e.ratings)
	test := mat.NewDense(users, docs, nil)

	for u := 0; u < users; u++ {
		positives := e.positives(u)
		if len(positives) < 2 {
			continue
		}

		nTest := int(math.Round(testPercentage * float64(len(positives))))
		if nTest == 0 {
			nTest = 1
		}
		if nTest >= len(positives) {
			nTest = len(positives) - 1
		}

		rng.Shuffle(len(positives), func(i, j int) {
			positives[i], positives[j] = positives[j], positives[i]
		})
		for _, d := range positives[:nTest] {
			test.Set(u, d, e.ratings.At(u, d))
			train.Set(u, d, 0)
		}
	}
	return train, test, nil
}

// KFold deals every user's shuffled positive ratings round-robin into k
// folds. Fold i tests on its own share and trains on the rest.
func (e *Evaluator) KFold(k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k must be at least 2, got %d", k)
	}

	rng := rand.New(rand.NewSource(e.seed))
	users, docs := e.ratings.Dims()

	folds := make([]Fold, k)
	for i := range folds {
		folds[i] = Fold{
			Train: mat.DenseCopyOf(e.ratings),
			Test:  mat.NewDense(users, docs, nil),
		}
	}

	for u := 0; u < users; u++ {
		positives := e.positives(u)
		rng.Shuffle(len(positives), func(i, j int) {
			positives[i], positives[j] = positives[j], positives[i]
		})
		for n, d := range positives {
			fold := folds[n%k]
			fold.Test.Set(u, d, e.ratings.At(u, d))
			fold.Train.Set(u, d, 0)
		}
	}
	return folds, nil
}

// RMSE is the root mean squared error over all cells.
func (e *Evaluator) RMSE(predictions, ratings *mat.Dense) (float64, error) {
	if err := sameShape(predictions, ratings); err != nil {
		return 0, err
	}
	var diff mat.Dense
	diff.Sub(predictions, ratings)
	rows, cols := diff.Dims()
	return mat.Norm(&diff, 2) / math.Sqrt(float64(rows*cols)), nil
}

// Recall is the share of positive ratings whose rounded prediction is
// positive. Without positives it is 0.
func (e *Evaluator) Recall(predictions, ratings *mat.Dense) (float64, error) {
	if err := sameShape(predictions, ratings); err != nil {
		return 0, err
	}
	rows, cols := ratings.Dims()
	positives, hits := 0, 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if ratings.At(i, j) <= 0 {
				continue
			}
			positives++
			if predictions.At(i, j) >= roundingThreshold {
				hits++
			}
		}
	}
	if positives == 0 {
		return 0, nil
	}
	return float64(hits) / float64(positives), nil
}

// RecallAtK averages, over users with test ratings, the share of their
// test ratings found in the top k. Ratings known outside the test matrix
// are excluded from ranking.
func (e *Evaluator) RecallAtK(predictions, test *mat.Dense, k int) (float64, error) {
	return e.rankingMetric(predictions, test, k, func(hits []bool, relevant int) float64 {
		found := 0
		for _, hit := range hits {
			if hit {
				found++
			}
		}
		return float64(found) / float64(relevant)
	})
}

func (e *Evaluator) PrecisionAtK(predictions, test *mat.Dense, k int) (float64, error) {
	return e.rankingMetric(predictions, test, k, func(hits []bool, _ int) float64 {
		found := 0
		for _, hit := range hits {
			if hit {
				found++
			}
		}
		return float64(found) / float64(k)
	})
}

func (e *Evaluator) NDCGAtK(predictions, test *mat.Dense, k int) (float64, error) {
	return e.rankingMetric(predictions, test, k, func(hits []bool, relevant int) float64 {
		dcg := 0.0
		for i, hit := range hits {
			if hit {
				dcg += 1 / math.Log2(float64(i+2))
			}
		}
		ideal := 0.0
		for i := 0; i < relevant && i < k; i++ {
			ideal += 1 / math.Log2(float64(i+2))
		}
		return dcg / ideal
	})
}

func (e *Evaluator) MRRAtK(predictions, test *mat.Dense, k int) (float64, error) {
	return e.rankingMetric(predictions, test, k, func(hits []bool, _ int) float64 {
		for i, hit := range hits {
			if hit {
				return 1 / float64(i+1)
			}
		}
		return 0
	})
}

// Evaluate computes every metric of predictions against the test matrix.
func (e *Evaluator) Evaluate(predictions, test *mat.Dense, k int) (*models.EvaluationReport, error) {
	rmse, err := e.RMSE(predictions, test)
	if err != nil {
		return nil, err
	}
	recall, err := e.Recall(predictions, test)
	if err != nil {
		return nil, err
	}
	recallAtK, err := e.RecallAtK(predictions, test, k)
	if err != nil {
		return nil, err
	}
	precisionAtK, err := e.PrecisionAtK(predictions, test, k)
	if err != nil {
		return nil, err
	}
	ndcg, err := e.NDCGAtK(predictions, test, k)
	if err != nil {
		return nil, err
	}
	mrr, err := e.MRRAtK(predictions, test, k)
	if err != nil {
		return nil, err
	}

	users, docs := test.Dims()
	return &models.EvaluationReport{
		RMSE:         rmse,
		Recall:       recall,
		K:            k,
		RecallAtK:    recallAtK,
		PrecisionAtK: precisionAtK,
		NDCGAtK:      ndcg,
		MRRAtK:       mrr,
		Users:        users,
		Documents:    docs,
		GeneratedAt:  time.Now(),
	}, nil
}

// rankingMetric ranks every user's candidates by prediction and averages
// score over users with at least one test rating. hits[i] reports whether
// the i-th ranked document is a test rating.
func (e *Evaluator) rankingMetric(
	predictions, test *mat.Dense,
	k int,
	score func(hits []bool, relevant int) float64,
) (float64, error) {
	if k < 1 {
		return 0, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if err := sameShape(predictions, test); err != nil {
		return 0, err
	}
	if err := sameShape(test, e.ratings); err != nil {
		return 0, err
	}

	users, docs := test.Dims()
	total, counted := 0.0, 0
	for u := 0; u < users; u++ {
		relevant := 0
		candidates := make([]int, 0, docs)
		for d := 0; d < docs; d++ {
			if test.At(u, d) > 0 {
				relevant++
				candidates = append(candidates, d)
				continue
			}
			if e.ratings.At(u, d) > 0 {
				continue
			}
			candidates = append(candidates, d)
		}
		if relevant == 0 {
			continue
		}

		row := predictions.RawRowView(u)
		ranked := rankDocuments(row, candidates)
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		hits := make([]bool, len(ranked))
		for i, d := range ranked {
			hits[i] = test.At(u, d) > 0
		}

		total += score(hits, relevant)
		counted++
	}

	if counted == 0 {
		return 0, nil
	}
	return total / float64(counted), nil
}

func (e *Evaluator) positives(user int) []int {
	_, docs := e.ratings.Dims()
	var positives []int
	for d := 0; d < docs; d++ {
		if e.ratings.At(user, d) > 0 {
			positives = append(positives, d)
		}
	}
	return positives
}

// rankDocuments orders candidates by descending score, lower index first on ties.
func rankDocuments(scores []float64, candidates []int) []int {
	ranked := append([]int(nil), candidates...)
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]] > scores[ranked[b]]
	})
	return ranked
}
