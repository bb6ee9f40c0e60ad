package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/dermadx/internal/imaging"
	"github.com/kalambet/dermadx/internal/metrics"
	"github.com/kalambet/dermadx/internal/parser"
	"github.com/kalambet/dermadx/internal/provider"
	"github.com/kalambet/dermadx/internal/storage"
)

// ErrInvalidInput is returned for requests that cannot be diagnosed, such
// as an empty description or image.
var ErrInvalidInput = errors.New("invalid input")

// Selector picks the provider for a purpose.
type Selector interface {
	Select(purpose provider.Purpose) (provider.Descriptor, error)
	Backend(id string) (provider.Backend, bool)
}

// Invoker calls a provider with retry.
type Invoker interface {
	Invoke(ctx context.Context, d provider.Descriptor, b provider.Backend, req provider.Request) (provider.Outcome, error)
}

// Notifier relays finished records downstream. Notify must not block and
// must not stop when ctx is canceled.
type Notifier interface {
	Notify(ctx context.Context, rec Record)
}

// Store persists records.
type Store interface {
	CreateAnalysis(a storage.Analysis) error
	GetAnalysis(id string) (storage.Analysis, error)
	ListAnalyses(limit, offset int) ([]storage.Analysis, int, error)
	SearchAnalyses(q string, limit int) ([]storage.Analysis, error)
	UpdateAnalysis(id string, u storage.AnalysisUpdate, now time.Time) (storage.Analysis, error)
	DeleteAnalysis(id string) error
}

// ImageInput is one image diagnosis request.
type ImageInput struct {
	Base64         string
	AdditionalInfo string
	// Questionnaire is passed to the provider verbatim; it must be valid JSON
	// when set.
	Questionnaire json.RawMessage
	Info          *imaging.Info
}

// Service runs diagnoses end to end: select, invoke, parse, assemble,
// store, then notify without waiting.
type Service struct {
	selector  Selector
	invoker   Invoker
	assembler *Assembler
	store     Store
	notifier  Notifier
	logger    *slog.Logger
}

// NewService wires a Service. notifier may be nil.
func NewService(selector Selector, invoker Invoker, store Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		selector:  selector,
		invoker:   invoker,
		assembler: NewAssembler(),
		store:     store,
		notifier:  notifier,
		logger:    logger,
	}
}

// DiagnoseText diagnoses a lesion from its description.
func (s *Service) DiagnoseText(ctx context.Context, description, additionalInfo string) (Record, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Record{}, fmt.Errorf("%w: lesion description is required", ErrInvalidInput)
	}
	return s.diagnose(ctx, Request{Request: provider.Request{
		Mode:           provider.PurposeText,
		Description:    description,
		AdditionalInfo: strings.TrimSpace(additionalInfo),
	}})
}

// DiagnoseImage diagnoses a lesion from a prepared base64 JPEG.
func (s *Service) DiagnoseImage(ctx context.Context, in ImageInput) (Record, error) {
	if in.Base64 == "" {
		return Record{}, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	q, err := normalizeQuestionnaire(in.Questionnaire)
	if err != nil {
		return Record{}, err
	}
	return s.diagnose(ctx, Request{
		Request: provider.Request{
			Mode:           provider.PurposeImage,
			ImageBase64:    in.Base64,
			AdditionalInfo: strings.TrimSpace(in.AdditionalInfo),
			Questionnaire:  q,
		},
		ImageInfo: in.Info,
	})
}

func normalizeQuestionnaire(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: questionnaire is not valid JSON", ErrInvalidInput)
	}
	return json.RawMessage(trimmed), nil
}

func (s *Service) diagnose(ctx context.Context, req Request) (Record, error) {
	start := time.Now()
	analysisType := analysisTypeOf(req)

	rec, err := s.run(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DiagnosisDurationSeconds.WithLabelValues(analysisType, result).Observe(time.Since(start).Seconds())
	return rec, err
}

func (s *Service) run(ctx context.Context, req Request) (Record, error) {
	d, err := s.selector.Select(req.Mode)
	if err != nil {
		return Record{}, err
	}
	backend, ok := s.selector.Backend(d.ID)
	if !ok {
		return Record{}, &provider.ConfigurationError{Purpose: req.Mode, Reason: fmt.Sprintf("no backend for provider %q", d.ID)}
	}

	out, err := s.invoker.Invoke(ctx, d, backend, req.Request)
	if err != nil {
		return Record{}, err
	}

	res := parser.Parser{SimilarScale: parser.ParseScale(d.SimilarScale)}.Parse(out.Raw)
	metrics.ParseTotal.WithLabelValues(string(res.Status)).Inc()
	if res.Status == parser.StatusFallback {
		s.logger.Warn("provider reply had no structured block, using raw text",
			"provider", d.ID, "raw_len", len(out.Raw))
	}

	rec := s.assembler.Assemble(req, out, res, d)

	if a, err := toAnalysis(rec); err != nil {
		s.logger.Error("encoding record for storage", "id", rec.ID, "error", err)
	} else if err := s.store.CreateAnalysis(a); err != nil {
		s.logger.Error("storing record", "id", rec.ID, "error", err)
	}

	s.logger.Info("diagnosis complete",
		"id", rec.ID,
		"type", rec.Metadata.AnalysisType,
		"provider", d.ID,
		"parse_status", res.Status,
		"attempts", out.Attempts,
		"duration_ms", out.Elapsed.Milliseconds(),
	)

	if s.notifier != nil {
		s.notifier.Notify(ctx, rec)
	}
	return rec, nil
}

func analysisTypeOf(req Request) string {
	switch {
	case req.Mode == provider.PurposeText:
		return TypeText
	case len(req.Questionnaire) > 0:
		return TypeImageWithQuestionnaire
	default:
		return TypeImage
	}
}

// Get returns a stored record.
func (s *Service) Get(id string) (Record, error) {
	a, err := s.store.GetAnalysis(id)
	if err != nil {
		return Record{}, err
	}
	return fromAnalysis(a)
}

// List returns one page of records, newest first, with the total count.
func (s *Service) List(limit, offset int) ([]Record, int, error) {
	as, total, err := s.store.ListAnalyses(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	recs, err := fromAnalyses(as)
	return recs, total, err
}

// Search returns records whose prompt, diagnosis or summary contain q.
func (s *Service) Search(q string, limit int) ([]Record, error) {
	as, err := s.store.SearchAnalyses(q, limit)
	if err != nil {
		return nil, err
	}
	return fromAnalyses(as)
}

func fromAnalyses(as []storage.Analysis) ([]Record, error) {
	recs := make([]Record, 0, len(as))
	for _, a := range as {
		r, err := fromAnalysis(a)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// Update holds the editable fields of a record. Nil fields are unchanged.
type Update struct {
	Diagnosis *string `json:"diagnosis"`
	Summary   *string `json:"summary"`
	Notes     *string `json:"notes"`
}

// Update edits a stored record.
func (s *Service) Update(id string, u Update) (Record, error) {
	if u.Diagnosis == nil && u.Summary == nil && u.Notes == nil {
		return Record{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if u.Diagnosis != nil && strings.TrimSpace(*u.Diagnosis) == "" {
		return Record{}, fmt.Errorf("%w: diagnosis must not be empty", ErrInvalidInput)
	}
	a, err := s.store.UpdateAnalysis(id, storage.AnalysisUpdate{
		Label:   u.Diagnosis,
		Summary: u.Summary,
		Notes:   u.Notes,
	}, time.Now())
	if err != nil {
		return Record{}, err
	}
	return fromAnalysis(a)
}

// Delete removes a stored record.
func (s *Service) Delete(id string) error {
	return s.store.DeleteAnalysis(id)
}
