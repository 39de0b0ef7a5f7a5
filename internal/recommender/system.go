package recommender

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/preprocessing"
	"github.com/temcen/hyprec/pkg/models"
)

// contentWeight is the share of the content-based score in the hybrid score.
const contentWeight = 0.5

// RecommenderSystem wires the configured content-based recommender and
// collaborative filtering over one dataset. Content-based training runs
// first and seeds the item factors of collaborative filtering.
type RecommenderSystem struct {
	cfg          *config.RecommenderConfig
	preprocessor *preprocessing.AbstractsPreprocessor
	ratings      *mat.Dense
	store        MatrixStore
	logger       *logrus.Logger

	initializer            *ModelInitializer
	evaluator              *Evaluator
	contentBased           ContentRecommender
	collaborativeFiltering *CollaborativeFiltering

	hybrid  *mat.Dense
	trained bool
}

type SystemOption func(*RecommenderSystem)

// WithMatrixStore persists trained matrices and, when load_matrices is set,
// warm-starts training from them.
func WithMatrixStore(store MatrixStore) SystemOption {
	return func(s *RecommenderSystem) {
		s.store = store
	}
}

func NewRecommenderSystem(
	cfg *config.RecommenderConfig,
	preprocessor *preprocessing.AbstractsPreprocessor,
	ratings *mat.Dense,
	logger *logrus.Logger,
	opts ...SystemOption,
) (*RecommenderSystem, error) {
	if cfg == nil {
		cfg = config.DefaultRecommenderConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if preprocessor == nil || ratings == nil {
		return nil, fmt.Errorf("recommender system needs abstracts and ratings")
	}
	if _, docs := ratings.Dims(); docs != preprocessor.NumItems() {
		return nil, fmt.Errorf("%w: ratings cover %d documents, corpus has %d",
			ErrShapeMismatch, docs, preprocessor.NumItems())
	}

	s := &RecommenderSystem{
		cfg:          cfg,
		preprocessor: preprocessor,
		ratings:      ratings,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initializer = NewModelInitializer(cfg.Hyperparameters, cfg.Options.NIterations,
		WithSeed(cfg.Options.RandomSeed),
		WithStore(s.store),
		WithLoadMatrices(cfg.Options.LoadMatrices),
		WithLogger(logger),
	)
	s.evaluator = NewEvaluator(ratings, preprocessor, WithRandomSeed(cfg.Options.RandomSeed))

	contentBased, collaborative, err := s.buildComponents(s.initializer, s.evaluator, ratings)
	if err != nil {
		return nil, err
	}
	s.contentBased = contentBased
	s.collaborativeFiltering = collaborative

	return s, nil
}

func (s *RecommenderSystem) buildComponents(
	initializer *ModelInitializer,
	evaluator *Evaluator,
	ratings *mat.Dense,
) (ContentRecommender, *CollaborativeFiltering, error) {
	hyper := *initializer.Config()
	nIterations := initializer.NIterations()

	contentBased, err := NewContentRecommender(s.cfg.ContentBased, initializer, s.preprocessor,
		ratings, evaluator, hyper, nIterations, s.logger)
	if err != nil {
		return nil, nil, err
	}

	if s.cfg.CollaborativeFiltering != config.CollaborativeALS {
		return nil, nil, fmt.Errorf("%w: collaborative-filtering %q", ErrUnknownAlgorithm, s.cfg.CollaborativeFiltering)
	}
	collaborative := NewCollaborativeFiltering(initializer, ratings, evaluator, hyper, nIterations,
		s.cfg.ErrorMetric, s.logger)

	return contentBased, collaborative, nil
}

func (s *RecommenderSystem) Config() *config.RecommenderConfig {
	return s.cfg
}

// Hyperparameters are shared with the initializer; changing them before
// Train changes the trained models.
func (s *RecommenderSystem) Hyperparameters() *config.Hyperparameters {
	return s.initializer.Config()
}

func (s *RecommenderSystem) Initializer() *ModelInitializer {
	return s.initializer
}

func (s *RecommenderSystem) Evaluator() *Evaluator {
	return s.evaluator
}

func (s *RecommenderSystem) ContentBased() ContentRecommender {
	return s.contentBased
}

func (s *RecommenderSystem) CollaborativeFiltering() *CollaborativeFiltering {
	return s.collaborativeFiltering
}

func (s *RecommenderSystem) Preprocessor() *preprocessing.AbstractsPreprocessor {
	return s.preprocessor
}

func (s *RecommenderSystem) Ratings() *mat.Dense {
	return s.ratings
}

func (s *RecommenderSystem) NUsers() int {
	users, _ := s.ratings.Dims()
	return users
}

func (s *RecommenderSystem) NItems() int {
	return s.preprocessor.NumItems()
}

func (s *RecommenderSystem) Trained() bool {
	return s.trained
}

// Train trains the content-based recommender, seeds collaborative filtering
// with its document distribution and trains collaborative filtering.
func (s *RecommenderSystem) Train(ctx context.Context) error {
	start := time.Now()

	hybrid, err := trainPipeline(ctx, s.contentBased, s.collaborativeFiltering, s.initializer.Config().NFactors)
	if err != nil {
		return err
	}
	s.hybrid = hybrid
	s.trained = true

	s.logger.WithFields(logrus.Fields{
		"content_based":           s.contentBased.Name(),
		"collaborative_filtering": s.collaborativeFiltering.Name(),
		"users":                   s.NUsers(),
		"documents":               s.NItems(),
		"duration":                time.Since(start),
	}).Info("Recommender system trained")
	return nil
}

func trainPipeline(
	ctx context.Context,
	contentBased ContentRecommender,
	collaborative *CollaborativeFiltering,
	nFactors int,
) (*mat.Dense, error) {
	contentBased.SetNFactors(nFactors)
	collaborative.SetNFactors(nFactors)

	if err := contentBased.Train(ctx); err != nil {
		return nil, fmt.Errorf("failed to train %s: %w", contentBased.Name(), err)
	}
	distribution, err := contentBased.DocumentTopicDistribution()
	if err != nil {
		return nil, err
	}
	if err := collaborative.SetItemFactors(distribution); err != nil {
		return nil, err
	}
	if err := collaborative.Train(ctx); err != nil {
		return nil, fmt.Errorf("failed to train %s: %w", collaborative.Name(), err)
	}

	contentPredictions, err := contentBased.Predictions()
	if err != nil {
		return nil, err
	}
	collaborativePredictions, err := collaborative.Predictions()
	if err != nil {
		return nil, err
	}
	return hybridPredictions(contentPredictions, collaborativePredictions)
}

// hybridPredictions blends content-based scores with collaborative scores
// clamped to [0,1].
func hybridPredictions(content, collaborative *mat.Dense) (*mat.Dense, error) {
	if err := sameShape(content, collaborative); err != nil {
		return nil, err
	}
	clamped := mat.DenseCopyOf(collaborative)
	clampUnit(clamped)

	var hybrid mat.Dense
	hybrid.Scale(contentWeight, content)
	clamped.Scale(1-contentWeight, clamped)
	hybrid.Add(&hybrid, clamped)
	return &hybrid, nil
}

// Predictions is the users × documents hybrid score matrix.
func (s *RecommenderSystem) Predictions() (*mat.Dense, error) {
	if !s.trained {
		return nil, ErrNotTrained
	}
	return s.hybrid, nil
}

// Recommend returns the n highest scored documents the user has not rated.
func (s *RecommenderSystem) Recommend(user, n int) ([]models.ScoredItem, error) {
	if !s.trained {
		return nil, ErrNotTrained
	}
	if user < 0 || user >= s.NUsers() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, user)
	}

	docs := s.NItems()
	candidates := make([]int, 0, docs)
	for d := 0; d < docs; d++ {
		if s.ratings.At(user, d) <= 0 {
			candidates = append(candidates, d)
		}
	}

	row := s.hybrid.RawRowView(user)
	ranked := rankDocuments(row, candidates)
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}

	items := make([]models.ScoredItem, len(ranked))
	for i, d := range ranked {
		items[i] = models.ScoredItem{DocumentID: d, Score: row[d]}
	}
	return items, nil
}

// Popular ranks documents by how many users rated them. It serves users
// the model has never seen.
func (s *RecommenderSystem) Popular(n int) []models.ScoredItem {
	users, docs := s.ratings.Dims()
	counts := make([]float64, docs)
	for d := 0; d < docs; d++ {
		for u := 0; u < users; u++ {
			if s.ratings.At(u, d) > 0 {
				counts[d]++
			}
		}
	}

	all := make([]int, docs)
	for d := range all {
		all[d] = d
	}
	ranked := rankDocuments(counts, all)
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}

	items := make([]models.ScoredItem, len(ranked))
	for i, d := range ranked {
		score := 0.0
		if users > 0 {
			score = counts[d] / float64(users)
		}
		items[i] = models.ScoredItem{DocumentID: d, Score: score}
	}
	return items
}

// Evaluate holds out test_percentage of the ratings, trains fresh
// components on the remainder and scores their hybrid predictions on the
// held-out part. The trained system itself is left untouched.
func (s *RecommenderSystem) Evaluate(ctx context.Context) (*models.EvaluationReport, error) {
	start := time.Now()

	train, test, err := s.evaluator.NaiveSplit(s.cfg.Options.TestPercentage)
	if err != nil {
		return nil, err
	}
	report, err := s.evaluateSplit(ctx, train, test)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"algorithm": report.Algorithm,
		"rmse":      report.RMSE,
		"recall":    report.Recall,
		"ndcg":      report.NDCGAtK,
		"duration":  time.Since(start),
	}).Info("Recommender system evaluated")
	return report, nil
}

// CrossValidate runs the Evaluate procedure on each of options.k_folds
// folds and averages the fold metrics.
func (s *RecommenderSystem) CrossValidate(ctx context.Context) (*models.EvaluationReport, error) {
	start := time.Now()

	folds, err := s.evaluator.KFold(s.cfg.Options.KFolds)
	if err != nil {
		return nil, err
	}

	reports := make([]*models.EvaluationReport, 0, len(folds))
	for i, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report, err := s.evaluateSplit(ctx, fold.Train, fold.Test)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		reports = append(reports, report)
	}

	report := averageReports(reports)
	s.logger.WithFields(logrus.Fields{
		"algorithm": report.Algorithm,
		"folds":     report.Folds,
		"rmse":      report.RMSE,
		"ndcg":      report.NDCGAtK,
		"duration":  time.Since(start),
	}).Info("Recommender system cross-validated")
	return report, nil
}

// evaluateSplit trains fresh components on train and scores them on test.
func (s *RecommenderSystem) evaluateSplit(ctx context.Context, train, test *mat.Dense) (*models.EvaluationReport, error) {
	initializer := NewModelInitializer(*s.initializer.Config(), s.initializer.NIterations(),
		WithSeed(s.cfg.Options.RandomSeed),
		WithLogger(s.logger),
	)
	trainEvaluator := NewEvaluator(train, s.preprocessor, WithRandomSeed(s.cfg.Options.RandomSeed))

	contentBased, collaborative, err := s.buildComponents(initializer, trainEvaluator, train)
	if err != nil {
		return nil, err
	}
	predictions, err := trainPipeline(ctx, contentBased, collaborative, initializer.Config().NFactors)
	if err != nil {
		return nil, err
	}

	report, err := s.evaluator.Evaluate(predictions, test, s.cfg.Options.NRecommendations)
	if err != nil {
		return nil, err
	}
	report.Algorithm = contentBased.Name() + "+" + collaborative.Name()
	report.ErrorMetric = s.cfg.ErrorMetric
	return report, nil
}

func averageReports(reports []*models.EvaluationReport) *models.EvaluationReport {
	avg := *reports[0]
	avg.RMSE, avg.Recall, avg.RecallAtK, avg.PrecisionAtK, avg.NDCGAtK, avg.MRRAtK = 0, 0, 0, 0, 0, 0
	for _, r := range reports {
		avg.RMSE += r.RMSE
		avg.Recall += r.Recall
		avg.RecallAtK += r.RecallAtK
		avg.PrecisionAtK += r.PrecisionAtK
		avg.NDCGAtK += r.NDCGAtK
		avg.MRRAtK += r.MRRAtK
	}
	n := float64(len(reports))
	avg.RMSE /= n
	avg.Recall /= n
	avg.RecallAtK /= n
	avg.PrecisionAtK /= n
	avg.NDCGAtK /= n
	avg.MRRAtK /= n
	avg.Folds = len(reports)
	avg.GeneratedAt = time.Now()
	return &avg
}
