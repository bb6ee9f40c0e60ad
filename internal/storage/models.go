package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Analysis is one stored diagnosis record. Structured sub-objects are kept
// as JSON text.
type Analysis struct {
	ID             string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AnalysisType   string
	Prompt         string
	AdditionalInfo string
	Label          string
	LabelCode      string
	Confidence     *float64
	Summary        *string
	SimilarJSON    string // JSON array stored as text
	ParseStatus    string
	RawResponse    string
	MetadataJSON   string // JSON object stored as text
	Notes          string
}

// AnalysisUpdate lists the fields a caller may change after creation. Nil
// fields are left untouched.
type AnalysisUpdate struct {
	Label   *string
	Summary *string
	Notes   *string
}

// Notification is one delivery attempt to a downstream sink.
type Notification struct {
	ID         string    `json:"id"`
	AnalysisID string    `json:"analysis_id"`
	Sink       string    `json:"sink"`
	Status     string    `json:"status"` // "delivered", "failed", "panic"
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
