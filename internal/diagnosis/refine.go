package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/dermadx/internal/metrics"
	"github.com/kalambet/dermadx/internal/provider"
)

// Refinement styles.
const (
	StyleDoctorVisit = "doctor-visit"
	StyleDisclaimer  = "default-disclaimer"
)

// Disclaimer is returned in place of a tip when the patient gave no text.
const Disclaimer = "해당 결과는 AI 분석 결과이므로 맹신해서는 안되며 정확한 진단은 병원에서 받아보시길 권장드립니다."

const disclaimerModel = "hardcoded"

// Refinement is a one-line tip telling the patient what to stress when
// describing symptoms to a doctor. Refinements are not stored.
type Refinement struct {
	RefinedText string    `json:"refined_text"`
	Style       string    `json:"style"`
	Model       string    `json:"model"`
	ProviderID  string    `json:"provider_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Refine turns free patient text into a tip for the doctor visit. Blank
// text yields the fixed disclaimer without calling a provider.
func (s *Service) Refine(ctx context.Context, text, language string) (Refinement, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Refinement{
			RefinedText: Disclaimer,
			Style:       StyleDisclaimer,
			Model:       disclaimerModel,
			CreatedAt:   s.assembler.now().UTC(),
		}, nil
	}

	start := time.Now()
	ref, err := s.refine(ctx, text, strings.TrimSpace(language))
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DiagnosisDurationSeconds.WithLabelValues(string(provider.PurposeRefine), result).Observe(time.Since(start).Seconds())
	return ref, err
}

func (s *Service) refine(ctx context.Context, text, language string) (Refinement, error) {
	d, err := s.selector.Select(provider.PurposeRefine)
	if err != nil {
		return Refinement{}, err
	}
	backend, ok := s.selector.Backend(d.ID)
	if !ok {
		return Refinement{}, &provider.ConfigurationError{Purpose: provider.PurposeRefine, Reason: fmt.Sprintf("no backend for provider %q", d.ID)}
	}

	out, err := s.invoker.Invoke(ctx, d, backend, provider.Request{
		Mode:        provider.PurposeRefine,
		Description: text,
		Language:    language,
	})
	if err != nil {
		return Refinement{}, err
	}

	s.logger.Info("refinement complete",
		"provider", d.ID,
		"attempts", out.Attempts,
		"duration_ms", out.Elapsed.Milliseconds(),
	)
	return Refinement{
		RefinedText: strings.TrimSpace(out.Raw),
		Style:       StyleDoctorVisit,
		Model:       d.Model,
		ProviderID:  d.ID,
		CreatedAt:   s.assembler.now().UTC(),
	}, nil
}
