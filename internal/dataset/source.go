package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/preprocessing"
	"github.com/temcen/hyprec/pkg/models"
)

var (
	ErrNoArticles = errors.New("no articles found")
	ErrNoRatings  = errors.New("no ratings found")

	// ErrUnknownArticle is returned when a rating names an article the
	// source does not hold.
	ErrUnknownArticle = errors.New("unknown article")
)

// Article is a document with its abstract, keyed by its external id.
type Article struct {
	ID       int64
	Abstract string
}

// RatingRecord places an article in a user's library.
type RatingRecord struct {
	UserID    int64
	ArticleID int64
}

// DataSource reads the corpus and the user libraries.
type DataSource interface {
	Name() string
	LoadArticles(ctx context.Context) ([]Article, error)
	LoadRatings(ctx context.Context) ([]RatingRecord, error)
}

// RatingWriter persists a single rating. It reports false when the rating
// was already present.
type RatingWriter interface {
	InsertRating(ctx context.Context, rating models.Rating) (bool, error)
}

// Store is a source that also accepts new ratings.
type Store interface {
	DataSource
	RatingWriter
}

// Dataset is the dense view of a data source. Users and documents are
// indexed in ascending order of their external ids.
type Dataset struct {
	Abstracts    map[int]string
	Ratings      *mat.Dense
	Preprocessor *preprocessing.AbstractsPreprocessor
	UserIDs      []int64
	DocumentIDs  []int64

	userIndex     map[int64]int
	documentIndex map[int64]int
}

func newDataset(userIDs, documentIDs []int64) *Dataset {
	d := &Dataset{
		Abstracts:     make(map[int]string, len(documentIDs)),
		UserIDs:       userIDs,
		DocumentIDs:   documentIDs,
		userIndex:     make(map[int64]int, len(userIDs)),
		documentIndex: make(map[int64]int, len(documentIDs)),
	}
	for i, id := range userIDs {
		d.userIndex[id] = i
	}
	for i, id := range documentIDs {
		d.documentIndex[id] = i
	}
	return d
}

func (d *Dataset) NumUsers() int     { return len(d.UserIDs) }
func (d *Dataset) NumDocuments() int { return len(d.DocumentIDs) }

// UserIndex maps an external user id to its row in Ratings.
func (d *Dataset) UserIndex(id int64) (int, bool) {
	i, ok := d.userIndex[id]
	return i, ok
}

// DocumentIndex maps an external article id to its column in Ratings.
func (d *Dataset) DocumentIndex(id int64) (int, bool) {
	i, ok := d.documentIndex[id]
	return i, ok
}

// Parser turns the rows of a DataSource into a Dataset.
type Parser struct {
	source    DataSource
	tokenizer *preprocessing.Tokenizer
	logger    *logrus.Logger
}

func NewParser(source DataSource, tokenizer *preprocessing.Tokenizer, logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.New()
	}
	return &Parser{
		source:    source,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// Process loads articles and ratings and builds the ratings matrix and the
// word counts. Ratings that reference an unknown article are dropped.
func (p *Parser) Process(ctx context.Context) (*Dataset, error) {
	articles, err := p.source.LoadArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles from %s: %w", p.source.Name(), err)
	}
	if len(articles) == 0 {
		return nil, ErrNoArticles
	}

	ratings, err := p.source.LoadRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings from %s: %w", p.source.Name(), err)
	}

	documentIDs := make([]int64, 0, len(articles))
	abstracts := make(map[int64]string, len(articles))
	for _, article := range articles {
		if _, seen := abstracts[article.ID]; !seen {
			documentIDs = append(documentIDs, article.ID)
		}
		abstracts[article.ID] = article.Abstract
	}
	sortIDs(documentIDs)

	users := make(map[int64]struct{})
	valid := ratings[:0:0]
	dropped := 0
	for _, r := range ratings {
		if _, ok := abstracts[r.ArticleID]; !ok {
			dropped++
			continue
		}
		users[r.UserID] = struct{}{}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, ErrNoRatings
	}

	userIDs := make([]int64, 0, len(users))
	for id := range users {
		userIDs = append(userIDs, id)
	}
	sortIDs(userIDs)

	d := newDataset(userIDs, documentIDs)
	for id, abstract := range abstracts {
		d.Abstracts[d.documentIndex[id]] = abstract
	}

	d.Ratings = mat.NewDense(len(userIDs), len(documentIDs), nil)
	for _, r := range valid {
		d.Ratings.Set(d.userIndex[r.UserID], d.documentIndex[r.ArticleID], 1)
	}

	d.Preprocessor, err = preprocessing.NewFromAbstracts(d.Abstracts, p.tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess abstracts: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"source":     p.source.Name(),
		"users":      d.NumUsers(),
		"documents":  d.NumDocuments(),
		"ratings":    len(valid),
		"dropped":    dropped,
		"vocabulary": d.Preprocessor.NumVocab(),
	}).Info("Dataset loaded")

	return d, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
