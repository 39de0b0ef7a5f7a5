package dataset

import (
	"context"
	"fmt"
	"sync"

	"github.com/temcen/hyprec/pkg/models"
)

// MemorySource keeps articles and ratings in process. It backs the CLI when
// the corpus is read from files and the tests.
type MemorySource struct {
	mu       sync.RWMutex
	articles []Article
	ratings  map[RatingRecord]struct{}
	order    []RatingRecord
}

func NewMemorySource(articles []Article, ratings []RatingRecord) *MemorySource {
	s := &MemorySource{
		articles: append([]Article(nil), articles...),
		ratings:  make(map[RatingRecord]struct{}, len(ratings)),
	}
	for _, r := range ratings {
		s.add(r)
	}
	return s
}

func (s *MemorySource) add(r RatingRecord) bool {
	if _, ok := s.ratings[r]; ok {
		return false
	}
	s.ratings[r] = struct{}{}
	s.order = append(s.order, r)
	return true
}

func (s *MemorySource) Name() string { return "memory" }

func (s *MemorySource) LoadArticles(ctx context.Context) ([]Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Article(nil), s.articles...), nil
}

func (s *MemorySource) LoadRatings(ctx context.Context) ([]RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RatingRecord(nil), s.order...), nil
}

func (s *MemorySource) InsertRating(ctx context.Context, rating models.Rating) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := false
	for _, a := range s.articles {
		if a.ID == rating.DocumentID {
			known = true
			break
		}
	}
	if !known {
		return false, fmt.Errorf("article %d: %w", rating.DocumentID, ErrUnknownArticle)
	}

	return s.add(RatingRecord{UserID: rating.UserID, ArticleID: rating.DocumentID}), nil
}
