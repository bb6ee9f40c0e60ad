package diagnosis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/dermadx/internal/imaging"
	"github.com/kalambet/dermadx/internal/parser"
	"github.com/kalambet/dermadx/internal/storage"
)

// Analysis types recorded in metadata.
const (
	TypeText                   = "skin_lesion_text_diagnosis"
	TypeImage                  = "skin_lesion_image_diagnosis"
	TypeImageWithQuestionnaire = "skin_lesion_image_questionnaire_diagnosis"
)

// imagePrompt is the prompt echo stored for image requests.
const imagePrompt = "image analysis"

// Record is a finished diagnosis. It is built once by the Assembler and
// only changed afterwards through Service.Update.
type Record struct {
	ID                string           `json:"id"`
	Prompt            string           `json:"prompt"`
	AdditionalInfo    string           `json:"additional_info,omitempty"`
	Diagnosis         string           `json:"diagnosis"`
	DiagnosisCode     string           `json:"diagnosis_code,omitempty"`
	ConfidenceScore   *float64         `json:"confidence_score"`
	Summary           *string          `json:"summary"`
	Recommendations   string           `json:"recommendations"`
	SimilarConditions []parser.Similar `json:"similar_conditions"`
	RawResponse       string           `json:"raw_response"`
	Metadata          Metadata         `json:"metadata"`
	Notes             string           `json:"notes,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Metadata describes how a record was produced.
type Metadata struct {
	ProviderID            string        `json:"provider_id"`
	ModelID               string        `json:"model_id"`
	AnalysisType          string        `json:"analysis_type"`
	ParseStatus           parser.Status `json:"parse_status"`
	Attempts              int           `json:"attempts"`
	ElapsedMs             int64         `json:"elapsed_ms"`
	QuestionnaireIncluded bool          `json:"questionnaire_included"`
	ImageAnalyzed         bool          `json:"image_analyzed"`
	ImageSizeKB           float64       `json:"image_size_kb,omitempty"`
	ImageInfo             *imaging.Info `json:"image_info,omitempty"`
}

// SimilarNames returns up to n similar-condition names in order.
func (r Record) SimilarNames(n int) []string {
	names := make([]string, 0, min(n, len(r.SimilarConditions)))
	for _, s := range r.SimilarConditions {
		if len(names) == n {
			break
		}
		names = append(names, s.Name)
	}
	return names
}

// SummaryText returns the summary or "" when absent.
func (r Record) SummaryText() string {
	if r.Summary == nil {
		return ""
	}
	return *r.Summary
}

func toAnalysis(r Record) (storage.Analysis, error) {
	similar, err := json.Marshal(r.SimilarConditions)
	if err != nil {
		return storage.Analysis{}, fmt.Errorf("encoding similar conditions: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return storage.Analysis{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return storage.Analysis{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		AnalysisType:   r.Metadata.AnalysisType,
		Prompt:         r.Prompt,
		AdditionalInfo: r.AdditionalInfo,
		Label:          r.Diagnosis,
		LabelCode:      r.DiagnosisCode,
		Confidence:     r.ConfidenceScore,
		Summary:        r.Summary,
		SimilarJSON:    string(similar),
		ParseStatus:    string(r.Metadata.ParseStatus),
		RawResponse:    r.RawResponse,
		MetadataJSON:   string(meta),
		Notes:          r.Notes,
	}, nil
}

func fromAnalysis(a storage.Analysis) (Record, error) {
	r := Record{
		ID:                a.ID,
		Prompt:            a.Prompt,
		AdditionalInfo:    a.AdditionalInfo,
		Diagnosis:         a.Label,
		DiagnosisCode:     a.LabelCode,
		ConfidenceScore:   a.Confidence,
		Summary:           a.Summary,
		SimilarConditions: []parser.Similar{},
		RawResponse:       a.RawResponse,
		Notes:             a.Notes,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(a.SimilarJSON), &r.SimilarConditions); err != nil {
		return Record{}, fmt.Errorf("decoding similar conditions of %s: %w", a.ID, err)
	}
	if r.SimilarConditions == nil {
		r.SimilarConditions = []parser.Similar{}
	}
	if err := json.Unmarshal([]byte(a.MetadataJSON), &r.Metadata); err != nil {
		return Record{}, fmt.Errorf("decoding metadata of %s: %w", a.ID, err)
	}
	r.Metadata.AnalysisType = a.AnalysisType
	r.Metadata.ParseStatus = parser.Status(a.ParseStatus)
	r.Recommendations = Recommend(r.Diagnosis, r.ConfidenceScore, r.Metadata.ParseStatus)
	return r, nil
}
