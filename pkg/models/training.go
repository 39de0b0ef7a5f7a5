package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// TrainingJob tracks one asynchronous train (and optionally evaluate) run.
type TrainingJob struct {
	ID          uuid.UUID         `json:"id"`
	Status      string            `json:"status"`
	Evaluate    bool              `json:"evaluate"`
	Error       string            `json:"error,omitempty"`
	Report      *EvaluationReport `json:"report,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// TrainingRequest controls one training run. CrossValidate evaluates over
// options.k_folds folds instead of a single held-out split.
type TrainingRequest struct {
	Evaluate      bool `json:"evaluate"`
	CrossValidate bool `json:"cross_validate"`
	NFactors      *int `json:"n_factors,omitempty" validate:"omitempty,min=1"`
}

// EvaluationReport summarizes how well predictions recover held-out ratings.
type EvaluationReport struct {
	Algorithm    string    `json:"algorithm"`
	ErrorMetric  string    `json:"error_metric"`
	RMSE         float64   `json:"rmse"`
	Recall       float64   `json:"recall"`
	K            int       `json:"k"`
	RecallAtK    float64   `json:"recall_at_k"`
	PrecisionAtK float64   `json:"precision_at_k"`
	NDCGAtK      float64   `json:"ndcg_at_k"`
	MRRAtK       float64   `json:"mrr_at_k"`
	Folds        int       `json:"folds,omitempty"`
	Users        int       `json:"users"`
	Documents    int       `json:"documents"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// ModelTrainedEvent is published after a training job finishes.
type ModelTrainedEvent struct {
	JobID        uuid.UUID         `json:"job_id"`
	ContentBased string            `json:"content_based"`
	Users        int               `json:"users"`
	Documents    int               `json:"documents"`
	DurationMs   int64             `json:"duration_ms"`
	Report       *EvaluationReport `json:"report,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
