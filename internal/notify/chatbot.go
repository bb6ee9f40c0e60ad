package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
)

// ChatbotSink opens a consultation session seeded with the diagnosis.
type ChatbotSink struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewChatbotSink creates a ChatbotSink. A non-positive timeout defaults to
// 15s.
func NewChatbotSink(baseURL string, timeout time.Duration) *ChatbotSink {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChatbotSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (c *ChatbotSink) Name() string           { return "chatbot" }
func (c *ChatbotSink) Timeout() time.Duration { return c.timeout }

type sessionRequest struct {
	Diagnosis       string   `json:"diagnosis"`
	Recommendations string   `json:"recommendations"`
	Summary         string   `json:"summary"`
	SimilarDiseases []string `json:"similar_diseases"`
	ConfidenceScore float64  `json:"confidence_score"`
	AnalysisID      string   `json:"analysis_id"`
	CreatedAt       string   `json:"created_at"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// Send posts the record and returns the created session id.
func (c *ChatbotSink) Send(ctx context.Context, rec diagnosis.Record) (string, error) {
	var resp sessionResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/v1/session/init-from-analysis", sessionPayload(rec), &resp); err != nil {
		return "", err
	}
	return "session " + resp.SessionID, nil
}

func sessionPayload(rec diagnosis.Record) sessionRequest {
	summary := rec.SummaryText()
	if summary == "" {
		summary = rec.Recommendations
	}
	var confidence float64
	if rec.ConfidenceScore != nil {
		confidence = *rec.ConfidenceScore
	}
	return sessionRequest{
		Diagnosis:       rec.Diagnosis,
		Recommendations: rec.Recommendations,
		Summary:         summary,
		SimilarDiseases: rec.SimilarNames(maxSimilarSent),
		ConfidenceScore: confidence,
		AnalysisID:      rec.ID,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}
}
