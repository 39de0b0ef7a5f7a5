package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/cache"
	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/internal/preprocessing"
	"github.com/temcen/hyprec/internal/recommender"
	"github.com/temcen/hyprec/pkg/models"
)

const (
	AlgorithmHybrid  = "hybrid"
	AlgorithmPopular = "popular"

	abstractSnippetLength = 240
)

var (
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrNoEvaluation       = errors.New("no evaluation available")
	ErrUnknownDocument    = errors.New("unknown document")
)

// EventPublisher announces ratings and trained models.
type EventPublisher interface {
	PublishRating(ctx context.Context, event models.RatingEvent) error
	PublishModelTrained(ctx context.Context, event models.ModelTrainedEvent) error
}

// RecommendationCache caches top-n lists per model version.
type RecommendationCache interface {
	Get(ctx context.Context, version string, userID int64, count int) ([]models.Recommendation, bool)
	Set(ctx context.Context, version string, userID int64, count int, recommendations []models.Recommendation) error
	Purge(ctx context.Context, keep string) (int, error)
}

// topWordsProvider is implemented by every content-based recommender that
// can name its topics.
type topWordsProvider interface {
	TopWords(n int) ([][]string, error)
}

// servingModel is an immutable trained system together with the id maps
// of the dataset it was trained on.
type servingModel struct {
	version   string
	dataset   *dataset.Dataset
	system    *recommender.RecommenderSystem
	trainedAt time.Time
}

// ModelStatus describes the model currently serving requests.
type ModelStatus struct {
	Trained      bool       `json:"trained"`
	Version      string     `json:"version,omitempty"`
	ContentBased string     `json:"content_based,omitempty"`
	Users        int        `json:"users"`
	Documents    int        `json:"documents"`
	TrainedAt    *time.Time `json:"trained_at,omitempty"`
	Training     bool       `json:"training"`
}

// RecommenderService trains recommender systems from the configured data
// source and serves the latest one. Training builds a new system off to the
// side and swaps it in once it is complete.
type RecommenderService struct {
	config    *config.Config
	recConfig *config.RecommenderConfig
	store     dataset.Store
	logger    *logrus.Logger

	matrices  recommender.MatrixStore
	publisher EventPublisher
	cache     RecommendationCache
	jobs      cache.JobStore
	metrics   *Metrics

	mu         sync.RWMutex
	model      *servingModel
	evaluation *models.EvaluationReport

	trainMu        sync.Mutex
	training       atomic.Bool
	pendingRatings atomic.Int64
	wg             sync.WaitGroup

	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

type ServiceOption func(*RecommenderService)

func WithMatrixStore(store recommender.MatrixStore) ServiceOption {
	return func(s *RecommenderService) {
		s.matrices = store
	}
}

func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *RecommenderService) {
		s.publisher = publisher
	}
}

func WithRecommendationCache(c RecommendationCache) ServiceOption {
	return func(s *RecommenderService) {
		s.cache = c
	}
}

func WithJobStore(jobs cache.JobStore) ServiceOption {
	return func(s *RecommenderService) {
		s.jobs = jobs
	}
}

func WithMetrics(metrics *Metrics) ServiceOption {
	return func(s *RecommenderService) {
		s.metrics = metrics
	}
}

func NewRecommenderService(
	cfg *config.Config,
	recConfig *config.RecommenderConfig,
	store dataset.Store,
	logger *logrus.Logger,
	opts ...ServiceOption,
) *RecommenderService {
	if recConfig == nil {
		recConfig = config.DefaultRecommenderConfig()
	}
	s := &RecommenderService{
		config:    cfg,
		recConfig: recConfig,
		store:     store,
		logger:    logger,
	}
	s.jobCtx, s.cancelJobs = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	if s.jobs == nil {
		s.jobs = cache.NewMemoryJobStore()
	}
	return s
}

func (s *RecommenderService) RecommenderConfig() *config.RecommenderConfig {
	return s.recConfig
}

func (s *RecommenderService) current() *servingModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *RecommenderService) Status() ModelStatus {
	status := ModelStatus{Training: s.training.Load()}
	m := s.current()
	if m == nil {
		return status
	}
	trainedAt := m.trainedAt
	status.Trained = true
	status.Version = m.version
	status.ContentBased = m.system.ContentBased().Name()
	status.Users = m.dataset.NumUsers()
	status.Documents = m.dataset.NumDocuments()
	status.TrainedAt = &trainedAt
	return status
}

// StartTraining queues an asynchronous training job. Only one job runs at
// a time.
func (s *RecommenderService) StartTraining(ctx context.Context, req models.TrainingRequest) (*models.TrainingJob, error) {
	if !s.trainMu.TryLock() {
		return nil, ErrTrainingInProgress
	}

	job := &models.TrainingJob{
		ID:        uuid.New(),
		Status:    models.JobStatusQueued,
		Evaluate:  req.Evaluate || req.CrossValidate,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.trainMu.Unlock()
		return nil, fmt.Errorf("failed to create training job: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"evaluate":       req.Evaluate,
		"cross_validate": req.CrossValidate,
	}).Info("Training job queued")

	queued := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.trainMu.Unlock()
		s.runJob(job, req)
	}()

	return &queued, nil
}

func (s *RecommenderService) runJob(job *models.TrainingJob, req models.TrainingRequest) {
	timeout := s.config.Training.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(s.jobCtx, timeout)
	defer cancel()

	started := time.Now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	s.saveJob(ctx, job)

	report, err := s.train(ctx, job.ID.String(), req)

	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = models.JobStatusFailed
		job.Error = err.Error()
		s.logger.WithError(err).WithField("job_id", job.ID).Error("Training job failed")
	} else {
		job.Status = models.JobStatusCompleted
		job.Report = report
	}
	// The job context may have expired; record the outcome regardless.
	s.saveJob(context.Background(), job)
}

func (s *RecommenderService) saveJob(ctx context.Context, job *models.TrainingJob) {
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to update training job")
	}
}

// Train runs a training job synchronously and returns the evaluation
// report when one was requested.
func (s *RecommenderService) Train(ctx context.Context, req models.TrainingRequest) (*models.EvaluationReport, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	return s.train(ctx, uuid.NewString(), req)
}

func (s *RecommenderService) train(ctx context.Context, version string, req models.TrainingRequest) (*models.EvaluationReport, error) {
	s.training.Store(true)
	defer s.training.Store(false)

	start := time.Now()
	logger := s.logger.WithField("version", version)

	recConfig := *s.recConfig
	if req.NFactors != nil {
		recConfig.Hyperparameters.NFactors = *req.NFactors
	}

	parser := dataset.NewParser(s.store, preprocessing.NewTokenizer(s.config.Data.StopWords), s.logger)
	data, err := parser.Process(ctx)
	if err != nil {
		s.recordTraining("failed", start)
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	var systemOpts []recommender.SystemOption
	if s.matrices != nil {
		systemOpts = append(systemOpts, recommender.WithMatrixStore(s.matrices))
	}
	system, err := recommender.NewRecommenderSystem(&recConfig, data.Preprocessor, data.Ratings, s.logger, systemOpts...)
	if err != nil {
		s.recordTraining("failed", start)
		return nil, fmt.Errorf("failed to build recommender system: %w", err)
	}

	if err := system.Train(ctx); err != nil {
		s.recordTraining("failed", start)
		return nil, err
	}

	var report *models.EvaluationReport
	switch {
	case req.CrossValidate:
		report, err = system.CrossValidate(ctx)
	case req.Evaluate:
		report, err = system.Evaluate(ctx)
	}
	if err != nil {
		s.recordTraining("failed", start)
		return nil, fmt.Errorf("failed to evaluate: %w", err)
	}

	model := &servingModel{
		version:   version,
		dataset:   data,
		system:    system,
		trainedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.model = model
	if report != nil {
		s.evaluation = report
	}
	s.mu.Unlock()
	s.pendingRatings.Store(0)

	duration := time.Since(start)
	s.recordTraining("completed", start)
	s.recordModel(data, report)

	if s.cache != nil {
		if purged, err := s.cache.Purge(ctx, version); err != nil {
			logger.WithError(err).Warn("Failed to purge cached recommendations")
		} else if purged > 0 {
			logger.WithField("purged", purged).Debug("Purged cached recommendations")
		}
	}

	if s.publisher != nil {
		jobID, _ := uuid.Parse(version)
		event := models.ModelTrainedEvent{
			JobID:        jobID,
			ContentBased: system.ContentBased().Name(),
			Users:        data.NumUsers(),
			Documents:    data.NumDocuments(),
			DurationMs:   duration.Milliseconds(),
			Report:       report,
			Timestamp:    time.Now().UTC(),
		}
		if err := s.publisher.PublishModelTrained(ctx, event); err != nil {
			logger.WithError(err).Warn("Failed to publish model trained event")
		}
	}

	logger.WithFields(logrus.Fields{
		"content_based": system.ContentBased().Name(),
		"users":         data.NumUsers(),
		"documents":     data.NumDocuments(),
		"evaluated":     report != nil,
		"duration":      duration,
	}).Info("Model trained")

	return report, nil
}

func (s *RecommenderService) recordTraining(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.TrainingRuns.WithLabelValues(status).Inc()
	if status == "completed" {
		s.metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *RecommenderService) recordModel(data *dataset.Dataset, report *models.EvaluationReport) {
	if s.metrics == nil {
		return
	}
	s.metrics.ModelSize.WithLabelValues("users").Set(float64(data.NumUsers()))
	s.metrics.ModelSize.WithLabelValues("documents").Set(float64(data.NumDocuments()))
	s.metrics.ModelSize.WithLabelValues("vocabulary").Set(float64(data.Preprocessor.NumVocab()))
	if report == nil {
		return
	}
	s.metrics.EvaluationScore.WithLabelValues("rmse").Set(report.RMSE)
	s.metrics.EvaluationScore.WithLabelValues("recall").Set(report.Recall)
	s.metrics.EvaluationScore.WithLabelValues("recall_at_k").Set(report.RecallAtK)
	s.metrics.EvaluationScore.WithLabelValues("precision_at_k").Set(report.PrecisionAtK)
	s.metrics.EvaluationScore.WithLabelValues("ndcg_at_k").Set(report.NDCGAtK)
	s.metrics.EvaluationScore.WithLabelValues("mrr_at_k").Set(report.MRRAtK)
}

// Wait blocks until background training jobs have finished.
func (s *RecommenderService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running training jobs and waits for them to return.
func (s *RecommenderService) Shutdown() {
	s.cancelJobs()
	s.wg.Wait()
}

func (s *RecommenderService) GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	return s.jobs.GetJob(ctx, id)
}

func (s *RecommenderService) LastEvaluation() (*models.EvaluationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.evaluation == nil {
		return nil, ErrNoEvaluation
	}
	report := *s.evaluation
	return &report, nil
}

// Recommend returns the top documents for a user. Users the model has not
// seen get the most popular documents instead.
func (s *RecommenderService) Recommend(ctx context.Context, userID int64, count int) (*models.RecommendationResponse, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecommendationLatency.Observe(time.Since(start).Seconds())
		}
	}()

	m := s.current()
	if m == nil {
		return nil, recommender.ErrNotTrained
	}
	if count <= 0 {
		count = s.recConfig.Options.NRecommendations
	}

	response := &models.RecommendationResponse{
		UserID:      userID,
		GeneratedAt: time.Now().UTC(),
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, m.version, userID, count); ok {
			response.Recommendations = cached
			response.CacheHit = true
			response.ColdStart = len(cached) > 0 && cached[0].Algorithm == AlgorithmPopular
			s.countRequest("cache_hit")
			return response, nil
		}
	}

	var (
		items     []models.ScoredItem
		algorithm = AlgorithmHybrid
	)
	if u, ok := m.dataset.UserIndex(userID); ok {
		var err error
		items, err = m.system.Recommend(u, count)
		if err != nil {
			return nil, err
		}
		s.countRequest("model")
	} else {
		items = m.system.Popular(count)
		algorithm = AlgorithmPopular
		response.ColdStart = true
		s.countRequest("cold_start")
	}

	response.Recommendations = make([]models.Recommendation, len(items))
	for i, item := range items {
		response.Recommendations[i] = models.Recommendation{
			DocumentID: m.dataset.DocumentIDs[item.DocumentID],
			Score:      item.Score,
			Algorithm:  algorithm,
			Position:   i + 1,
			Abstract:   snippet(m.dataset.Abstracts[item.DocumentID]),
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m.version, userID, count, response.Recommendations); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to cache recommendations")
		}
	}

	return response, nil
}

func (s *RecommenderService) countRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.RecommendationRequests.WithLabelValues(outcome).Inc()
	}
}

func snippet(abstract string) string {
	runes := []rune(abstract)
	if len(runes) <= abstractSnippetLength {
		return abstract
	}
	return string(runes[:abstractSnippetLength]) + "..."
}

// Predictions returns the user's full row of hybrid scores.
func (s *RecommenderService) Predictions(ctx context.Context, userID int64) (*models.PredictionResponse, error) {
	m := s.current()
	if m == nil {
		return nil, recommender.ErrNotTrained
	}
	u, ok := m.dataset.UserIndex(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", recommender.ErrUnknownUser, userID)
	}

	predictions, err := m.system.Predictions()
	if err != nil {
		return nil, err
	}

	row := make([]float64, m.dataset.NumDocuments())
	copy(row, predictions.RawRowView(u))
	documentIDs := append([]int64(nil), m.dataset.DocumentIDs...)

	return &models.PredictionResponse{
		UserID:      userID,
		DocumentIDs: documentIDs,
		Predictions: row,
	}, nil
}

// DocumentTopics returns a document's topic weights, heaviest first, with
// the top words of each topic when the recommender can name them.
func (s *RecommenderService) DocumentTopics(ctx context.Context, documentID int64, nWords int) (*models.DocumentTopicsResponse, error) {
	m := s.current()
	if m == nil {
		return nil, recommender.ErrNotTrained
	}
	d, ok := m.dataset.DocumentIndex(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, documentID)
	}

	contentBased := m.system.ContentBased()
	distribution, err := contentBased.DocumentTopicDistribution()
	if err != nil {
		return nil, err
	}

	var words [][]string
	if provider, ok := contentBased.(topWordsProvider); ok && nWords > 0 {
		words, err = provider.TopWords(nWords)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to compute topic words")
			words = nil
		}
	}

	row := distribution.RawRowView(d)
	topics := make([]models.TopicWeight, len(row))
	for k, weight := range row {
		topics[k] = models.TopicWeight{Topic: k, Weight: weight}
		if k < len(words) {
			topics[k].TopWords = words[k]
		}
	}
	sort.SliceStable(topics, func(i, j int) bool { return topics[i].Weight > topics[j].Weight })

	return &models.DocumentTopicsResponse{
		DocumentID: documentID,
		Algorithm:  contentBased.Name(),
		Topics:     topics,
	}, nil
}

// RecordRating persists a rating and publishes it when it is new. Without a
// publisher a new rating counts toward the retrain threshold directly;
// duplicates never count.
func (s *RecommenderService) RecordRating(ctx context.Context, rating models.Rating) (*models.RatingResponse, error) {
	inserted, err := s.store.InsertRating(ctx, rating)
	if err != nil {
		return nil, fmt.Errorf("failed to record rating: %w", err)
	}

	timestamp := time.Now().UTC()
	if rating.Timestamp != nil {
		timestamp = rating.Timestamp.UTC()
	}
	event := models.RatingEvent{
		EventID:    uuid.New(),
		UserID:     rating.UserID,
		DocumentID: rating.DocumentID,
		Timestamp:  timestamp,
		Stored:     inserted,
	}

	response := &models.RatingResponse{
		EventID: event.EventID,
		Status:  "recorded",
	}
	if !inserted {
		response.Status = "duplicate"
		return response, nil
	}

	if s.metrics != nil {
		s.metrics.RatingsRecorded.WithLabelValues("api").Inc()
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRating(ctx, event); err != nil {
			s.logger.WithError(err).WithField("event_id", event.EventID).Warn("Failed to publish rating event")
		} else {
			response.Published = true
		}
	} else {
		s.NoteRating(ctx)
	}

	return response, nil
}

// HandleRatingEvent stores a rating that arrived on the ratings topic and
// counts it toward the retrain threshold, unless it was already present.
func (s *RecommenderService) HandleRatingEvent(ctx context.Context, event models.RatingEvent) error {
	timestamp := event.Timestamp
	rating := models.Rating{
		UserID:     event.UserID,
		DocumentID: event.DocumentID,
		Timestamp:  &timestamp,
	}
	inserted, err := s.store.InsertRating(ctx, rating)
	if err != nil {
		return fmt.Errorf("failed to store rating event %s: %w", event.EventID, err)
	}
	if !inserted && !event.Stored {
		s.logger.WithField("event_id", event.EventID).Debug("Duplicate rating event ignored")
		return nil
	}

	if s.metrics != nil && inserted {
		s.metrics.RatingsRecorded.WithLabelValues("kafka").Inc()
	}
	s.NoteRating(ctx)
	return nil
}

// NoteRating counts a new rating and starts a background retrain once
// training.retrain_after_ratings have arrived since the last model.
func (s *RecommenderService) NoteRating(ctx context.Context) {
	threshold := int64(s.config.Training.RetrainAfterRatings)
	pending := s.pendingRatings.Add(1)
	if threshold <= 0 || pending < threshold {
		return
	}
	if !s.pendingRatings.CompareAndSwap(pending, 0) {
		return
	}

	job, err := s.StartTraining(ctx, models.TrainingRequest{})
	if errors.Is(err, ErrTrainingInProgress) {
		s.logger.Debug("Retrain threshold reached while training, skipping")
		return
	}
	if err != nil {
		s.logger.WithError(err).Warn("Failed to start retrain")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"threshold": threshold,
	}).Info("Retrain triggered by new ratings")
}
