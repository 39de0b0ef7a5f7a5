package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/internal/recommender"
	"github.com/temcen/hyprec/pkg/models"
)

const (
	testDocuments = 8
	testUsers     = 10
	documentBase  = 100
	userBase      = 1000
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// testSource mirrors the recommender fixture with external ids: document d
// is 100+d, user u is 1000+u, and u rated d when u+d is divisible by 3.
func testSource() *dataset.MemorySource {
	abstracts := []string{
		"hell world berlin dna evolution",
		"freiburg is green",
		"the best dna is the dna of dinasours",
		"truth is absolute",
		"berlin is not that green",
		"truth manifests itself",
		"plato said truth is beautiful",
		"freiburg has dna",
	}
	articles := make([]dataset.Article, len(abstracts))
	for d, abstract := range abstracts {
		articles[d] = dataset.Article{ID: int64(documentBase + d), Abstract: abstract}
	}

	var ratings []dataset.RatingRecord
	for u := 0; u < testUsers; u++ {
		for d := 0; d < testDocuments; d++ {
			if (u+d)%3 == 0 {
				ratings = append(ratings, dataset.RatingRecord{UserID: int64(userBase + u), ArticleID: int64(documentBase + d)})
			}
		}
	}
	return dataset.NewMemorySource(articles, ratings)
}

func testConfigs() (*config.Config, *config.RecommenderConfig) {
	cfg := &config.Config{}
	cfg.Training.Timeout = time.Minute

	recConfig := config.DefaultRecommenderConfig()
	recConfig.ContentBased = config.ContentBasedNMF
	recConfig.Options.NRecommendations = 3
	return cfg, recConfig
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRating(ctx context.Context, event models.RatingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishModelTrained(ctx context.Context, event models.ModelTrainedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]models.Recommendation
	purged  []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]models.Recommendation)}
}

func (c *memoryCache) key(version string, userID int64, count int) string {
	return fmt.Sprintf("%s:%d:%d", version, userID, count)
}

func (c *memoryCache) Get(ctx context.Context, version string, userID int64, count int) ([]models.Recommendation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs, ok := c.entries[c.key(version, userID, count)]
	return recs, ok
}

func (c *memoryCache) Set(ctx context.Context, version string, userID int64, count int, recs []models.Recommendation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(version, userID, count)] = recs
	return nil
}

func (c *memoryCache) Purge(ctx context.Context, keep string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = append(c.purged, keep)
	return 0, nil
}

type RecommenderServiceSuite struct {
	suite.Suite

	ctx     context.Context
	source  *dataset.MemorySource
	cache   *memoryCache
	metrics *Metrics
	service *RecommenderService
}

func (s *RecommenderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.source = testSource()
	s.cache = newMemoryCache()
	s.metrics = NewMetrics()

	cfg, recConfig := testConfigs()
	s.service = NewRecommenderService(cfg, recConfig, s.source, testLogger(),
		WithRecommendationCache(s.cache),
		WithMetrics(s.metrics),
	)
}

func (s *RecommenderServiceSuite) train() {
	_, err := s.service.Train(s.ctx, models.TrainingRequest{})
	s.Require().NoError(err)
}

func (s *RecommenderServiceSuite) TestNotTrained() {
	_, err := s.service.Recommend(s.ctx, userBase, 3)
	s.ErrorIs(err, recommender.ErrNotTrained)

	_, err = s.service.Predictions(s.ctx, userBase)
	s.ErrorIs(err, recommender.ErrNotTrained)

	_, err = s.service.DocumentTopics(s.ctx, documentBase, 3)
	s.ErrorIs(err, recommender.ErrNotTrained)

	_, err = s.service.LastEvaluation()
	s.ErrorIs(err, ErrNoEvaluation)

	s.False(s.service.Status().Trained)
}

func (s *RecommenderServiceSuite) TestTrainWithEvaluation() {
	report, err := s.service.Train(s.ctx, models.TrainingRequest{Evaluate: true})
	s.Require().NoError(err)
	s.Require().NotNil(report)
	s.Equal("NMF+ALS", report.Algorithm)

	last, err := s.service.LastEvaluation()
	s.Require().NoError(err)
	s.Equal(report.RMSE, last.RMSE)

	status := s.service.Status()
	s.True(status.Trained)
	s.False(status.Training)
	s.Equal(testUsers, status.Users)
	s.Equal(testDocuments, status.Documents)
	s.Equal(config.ContentBasedNMF, status.ContentBased)
	s.Equal([]string{status.Version}, s.cache.purged)
}

func (s *RecommenderServiceSuite) TestTrainWithCrossValidation() {
	report, err := s.service.Train(s.ctx, models.TrainingRequest{CrossValidate: true})
	s.Require().NoError(err)
	s.Require().NotNil(report)
	s.Equal(s.service.RecommenderConfig().Options.KFolds, report.Folds)

	last, err := s.service.LastEvaluation()
	s.Require().NoError(err)
	s.Equal(report.Folds, last.Folds)
}

func (s *RecommenderServiceSuite) TestNFactorsOverride() {
	nFactors := 3
	_, err := s.service.Train(s.ctx, models.TrainingRequest{NFactors: &nFactors})
	s.Require().NoError(err)

	topics, err := s.service.DocumentTopics(s.ctx, documentBase, 0)
	s.Require().NoError(err)
	s.Len(topics.Topics, 3)

	// The override does not leak into later jobs.
	s.train()
	topics, err = s.service.DocumentTopics(s.ctx, documentBase, 0)
	s.Require().NoError(err)
	s.Len(topics.Topics, config.DefaultHyperparameters().NFactors)
}

func (s *RecommenderServiceSuite) TestRecommend() {
	s.train()

	user := int64(userBase) // rated documents 0, 3 and 6
	response, err := s.service.Recommend(s.ctx, user, 3)
	s.Require().NoError(err)
	s.False(response.ColdStart)
	s.False(response.CacheHit)
	s.Equal(user, response.UserID)
	s.Require().Len(response.Recommendations, 3)

	rated := map[int64]bool{documentBase: true, documentBase + 3: true, documentBase + 6: true}
	for i, rec := range response.Recommendations {
		s.False(rated[rec.DocumentID], "rated document %d recommended", rec.DocumentID)
		s.GreaterOrEqual(rec.DocumentID, int64(documentBase))
		s.Equal(AlgorithmHybrid, rec.Algorithm)
		s.Equal(i+1, rec.Position)
		s.NotEmpty(rec.Abstract)
	}

	cached, err := s.service.Recommend(s.ctx, user, 3)
	s.Require().NoError(err)
	s.True(cached.CacheHit)
	s.Equal(response.Recommendations, cached.Recommendations)

	defaulted, err := s.service.Recommend(s.ctx, user+1, 0)
	s.Require().NoError(err)
	s.Len(defaulted.Recommendations, 3)
}

func (s *RecommenderServiceSuite) TestRecommendColdStart() {
	s.train()

	response, err := s.service.Recommend(s.ctx, 42, 2)
	s.Require().NoError(err)
	s.True(response.ColdStart)
	s.Require().Len(response.Recommendations, 2)
	s.Equal(int64(documentBase), response.Recommendations[0].DocumentID)
	s.Equal(int64(documentBase+3), response.Recommendations[1].DocumentID)
	s.Equal(AlgorithmPopular, response.Recommendations[0].Algorithm)

	cached, err := s.service.Recommend(s.ctx, 42, 2)
	s.Require().NoError(err)
	s.True(cached.CacheHit)
	s.True(cached.ColdStart)
}

func (s *RecommenderServiceSuite) TestPredictions() {
	s.train()

	response, err := s.service.Predictions(s.ctx, userBase+2)
	s.Require().NoError(err)
	s.Len(response.Predictions, testDocuments)
	s.Len(response.DocumentIDs, testDocuments)
	s.Equal(int64(documentBase), response.DocumentIDs[0])
	for _, p := range response.Predictions {
		s.GreaterOrEqual(p, 0.0)
		s.LessOrEqual(p, 1.0)
	}

	_, err = s.service.Predictions(s.ctx, 7)
	s.ErrorIs(err, recommender.ErrUnknownUser)
}

func (s *RecommenderServiceSuite) TestDocumentTopics() {
	s.train()

	response, err := s.service.DocumentTopics(s.ctx, documentBase+2, 2)
	s.Require().NoError(err)
	s.Equal(int64(documentBase+2), response.DocumentID)
	s.Equal(config.ContentBasedNMF, response.Algorithm)
	s.Require().Len(response.Topics, config.DefaultHyperparameters().NFactors)

	total := 0.0
	for i, topic := range response.Topics {
		total += topic.Weight
		s.Len(topic.TopWords, 2)
		if i > 0 {
			s.GreaterOrEqual(response.Topics[i-1].Weight, topic.Weight)
		}
	}
	s.InDelta(1.0, total, 1e-6)

	_, err = s.service.DocumentTopics(s.ctx, 9999, 2)
	s.ErrorIs(err, ErrUnknownDocument)
}

func (s *RecommenderServiceSuite) TestStartTraining() {
	job, err := s.service.StartTraining(s.ctx, models.TrainingRequest{Evaluate: true})
	s.Require().NoError(err)
	s.Equal(models.JobStatusQueued, job.Status)

	s.service.Wait()

	finished, err := s.service.GetJob(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, finished.Status)
	s.NotNil(finished.StartedAt)
	s.NotNil(finished.CompletedAt)
	s.NotNil(finished.Report)
	s.Equal(job.ID.String(), s.service.Status().Version)

	_, err = s.service.GetJob(s.ctx, uuid.New())
	s.Error(err)
}

func (s *RecommenderServiceSuite) TestStartTrainingBusy() {
	s.service.trainMu.Lock()
	_, err := s.service.StartTraining(s.ctx, models.TrainingRequest{})
	s.service.trainMu.Unlock()
	s.ErrorIs(err, ErrTrainingInProgress)
}

func (s *RecommenderServiceSuite) TestStartTrainingFailure() {
	cfg, recConfig := testConfigs()
	service := NewRecommenderService(cfg, recConfig, dataset.NewMemorySource(nil, nil), testLogger())

	job, err := service.StartTraining(s.ctx, models.TrainingRequest{})
	s.Require().NoError(err)
	service.Wait()

	failed, err := service.GetJob(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, failed.Status)
	s.Contains(failed.Error, "no articles")
	s.False(service.Status().Trained)
}

func (s *RecommenderServiceSuite) TestRecordRatingRetrains() {
	s.service.config.Training.RetrainAfterRatings = 2
	s.train()
	version := s.service.Status().Version

	response, err := s.service.RecordRating(s.ctx, models.Rating{UserID: userBase, DocumentID: documentBase + 1})
	s.Require().NoError(err)
	s.Equal("recorded", response.Status)
	s.False(response.Published)

	response, err = s.service.RecordRating(s.ctx, models.Rating{UserID: userBase, DocumentID: documentBase + 1})
	s.Require().NoError(err)
	s.Equal("duplicate", response.Status)
	s.Equal(version, s.service.Status().Version, "duplicates do not count")

	_, err = s.service.RecordRating(s.ctx, models.Rating{UserID: 5, DocumentID: documentBase + 2})
	s.Require().NoError(err)
	s.service.Wait()

	s.NotEqual(version, s.service.Status().Version)

	// User 5 is now part of the model.
	response2, err := s.service.Recommend(s.ctx, 5, 2)
	s.Require().NoError(err)
	s.False(response2.ColdStart)

	_, err = s.service.RecordRating(s.ctx, models.Rating{UserID: 5, DocumentID: 12345})
	s.Error(err)
}

func TestRecommenderServiceSuite(t *testing.T) {
	suite.Run(t, new(RecommenderServiceSuite))
}

func TestRecommenderService_Publisher(t *testing.T) {
	ctx := context.Background()
	cfg, recConfig := testConfigs()
	cfg.Training.RetrainAfterRatings = 1

	publisher := new(MockPublisher)
	service := NewRecommenderService(cfg, recConfig, testSource(), testLogger(), WithPublisher(publisher))

	publisher.On("PublishModelTrained", mock.Anything, mock.MatchedBy(func(event models.ModelTrainedEvent) bool {
		return event.ContentBased == config.ContentBasedNMF && event.Users == testUsers && event.Documents == testDocuments
	})).Return(nil).Once()

	_, err := service.Train(ctx, models.TrainingRequest{})
	require.NoError(t, err)
	version := service.Status().Version

	publisher.On("PublishRating", mock.Anything, mock.MatchedBy(func(event models.RatingEvent) bool {
		return event.UserID == 3 && event.DocumentID == documentBase+4
	})).Return(nil).Once()

	response, err := service.RecordRating(ctx, models.Rating{UserID: 3, DocumentID: documentBase + 4})
	require.NoError(t, err)
	assert.True(t, response.Published)
	assert.NotEqual(t, uuid.Nil, response.EventID)

	publisher.On("PublishRating", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	response, err = service.RecordRating(ctx, models.Rating{UserID: 3, DocumentID: documentBase + 5})
	require.NoError(t, err)
	assert.False(t, response.Published)

	// Duplicates are not published.
	response, err = service.RecordRating(ctx, models.Rating{UserID: 3, DocumentID: documentBase + 4})
	require.NoError(t, err)
	assert.Equal(t, "duplicate", response.Status)
	assert.False(t, response.Published)

	// With a publisher, ratings only trigger retrains once consumed.
	service.Wait()
	assert.Equal(t, version, service.Status().Version)

	publisher.AssertExpectations(t)
	publisher.AssertNumberOfCalls(t, "PublishRating", 2)
}

func TestRecommenderService_HandleRatingEvent(t *testing.T) {
	ctx := context.Background()
	cfg, recConfig := testConfigs()
	source := testSource()
	service := NewRecommenderService(cfg, recConfig, source, testLogger())

	event := models.RatingEvent{EventID: uuid.New(), UserID: 77, DocumentID: documentBase, Timestamp: time.Now()}
	require.NoError(t, service.HandleRatingEvent(ctx, event))

	ratings, err := source.LoadRatings(ctx)
	require.NoError(t, err)
	assert.Contains(t, ratings, dataset.RatingRecord{UserID: 77, ArticleID: documentBase})

	event.DocumentID = 5
	err = service.HandleRatingEvent(ctx, event)
	assert.ErrorIs(t, err, dataset.ErrUnknownArticle)
}

func TestRecommenderService_HandleRatingEventDuplicates(t *testing.T) {
	ctx := context.Background()
	cfg, recConfig := testConfigs()
	cfg.Training.RetrainAfterRatings = 1
	service := NewRecommenderService(cfg, recConfig, testSource(), testLogger())

	_, err := service.Train(ctx, models.TrainingRequest{})
	require.NoError(t, err)
	version := service.Status().Version

	// User 1000 already rated document 100 in the fixture.
	duplicate := models.RatingEvent{EventID: uuid.New(), UserID: userBase, DocumentID: documentBase, Timestamp: time.Now()}
	for i := 0; i < 3; i++ {
		require.NoError(t, service.HandleRatingEvent(ctx, duplicate))
	}
	service.Wait()
	assert.Equal(t, version, service.Status().Version, "duplicate events do not trigger a retrain")

	// A rating the API stored before publishing still counts once consumed.
	stored := models.RatingEvent{EventID: uuid.New(), UserID: userBase, DocumentID: documentBase + 1, Timestamp: time.Now(), Stored: true}
	_, err = service.store.InsertRating(ctx, models.Rating{UserID: stored.UserID, DocumentID: stored.DocumentID})
	require.NoError(t, err)
	require.NoError(t, service.HandleRatingEvent(ctx, stored))
	service.Wait()
	assert.NotEqual(t, version, service.Status().Version)
}
