package models

import (
	"time"

	"github.com/google/uuid"
)

// Rating marks a document as present in a user's library.
type Rating struct {
	UserID     int64      `json:"user_id" db:"user_id" validate:"min=0"`
	DocumentID int64      `json:"document_id" db:"article_id" validate:"min=0"`
	Timestamp  *time.Time `json:"timestamp,omitempty" db:"created_at"`
}

// RatingEvent is published on the ratings topic. Stored is set when the
// producer already persisted the rating as a new one.
type RatingEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     int64     `json:"user_id"`
	DocumentID int64     `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`
	Stored     bool      `json:"stored,omitempty"`
}

type RatingResponse struct {
	EventID   uuid.UUID `json:"event_id"`
	Status    string    `json:"status"`
	Published bool      `json:"published"`
}
