package api

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
)

const (
	formatJSON = "json"
	formatXML  = "xml"
)

// responseFormat normalizes a response_format value. ok is false for
// anything other than json or xml.
func responseFormat(v string) (format string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", formatJSON:
		return formatJSON, true
	case formatXML:
		return formatXML, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeXML(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(code)
	io.WriteString(w, xml.Header)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(v)
}

func writeRecord(w http.ResponseWriter, format string, rec diagnosis.Record) {
	if format == formatXML {
		writeXML(w, http.StatusOK, toXMLAnalysis(rec))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AnalysisList is one page of records.
type AnalysisList struct {
	Analyses   []diagnosis.Record `json:"analyses"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

type xmlAnalysisList struct {
	XMLName    xml.Name      `xml:"analyses_response"`
	Analyses   []xmlAnalysis `xml:"analyses>analysis"`
	TotalCount int           `xml:"total_count"`
	Page       int           `xml:"page"`
	PageSize   int           `xml:"page_size"`
}

type xmlAnalysis struct {
	XMLName           xml.Name     `xml:"analysis"`
	ID                string       `xml:"id"`
	Prompt            string       `xml:"prompt"`
	AdditionalInfo    string       `xml:"additional_info,omitempty"`
	Diagnosis         string       `xml:"diagnosis"`
	DiagnosisCode     string       `xml:"diagnosis_code,omitempty"`
	ConfidenceScore   *float64     `xml:"confidence_score,omitempty"`
	Summary           *string      `xml:"summary,omitempty"`
	Recommendations   string       `xml:"recommendations"`
	SimilarConditions []xmlSimilar `xml:"similar_conditions>condition"`
	RawResponse       string       `xml:"raw_response"`
	Metadata          xmlMetadata  `xml:"metadata"`
	Notes             string       `xml:"notes,omitempty"`
	CreatedAt         string       `xml:"created_at"`
	UpdatedAt         string       `xml:"updated_at"`
}

type xmlSimilar struct {
	Code  string   `xml:"code,attr,omitempty"`
	Score *float64 `xml:"score,attr,omitempty"`
	Scale string   `xml:"scale,attr,omitempty"`
	Name  string   `xml:",chardata"`
}

type xmlMetadata struct {
	ProviderID            string  `xml:"provider_id"`
	ModelID               string  `xml:"model_id"`
	AnalysisType          string  `xml:"analysis_type"`
	ParseStatus           string  `xml:"parse_status"`
	Attempts              int     `xml:"attempts"`
	ElapsedMs             int64   `xml:"elapsed_ms"`
	QuestionnaireIncluded bool    `xml:"questionnaire_included"`
	ImageAnalyzed         bool    `xml:"image_analyzed"`
	ImageSizeKB           float64 `xml:"image_size_kb,omitempty"`
}

func toXMLAnalysis(r diagnosis.Record) xmlAnalysis {
	similar := make([]xmlSimilar, 0, len(r.SimilarConditions))
	for _, s := range r.SimilarConditions {
		similar = append(similar, xmlSimilar{Code: s.Code, Score: s.RawScore, Scale: string(s.Scale), Name: s.Name})
	}
	m := r.Metadata
	return xmlAnalysis{
		ID:                r.ID,
		Prompt:            r.Prompt,
		AdditionalInfo:    r.AdditionalInfo,
		Diagnosis:         r.Diagnosis,
		DiagnosisCode:     r.DiagnosisCode,
		ConfidenceScore:   r.ConfidenceScore,
		Summary:           r.Summary,
		Recommendations:   r.Recommendations,
		SimilarConditions: similar,
		RawResponse:       r.RawResponse,
		Metadata: xmlMetadata{
			ProviderID:            m.ProviderID,
			ModelID:               m.ModelID,
			AnalysisType:          m.AnalysisType,
			ParseStatus:           string(m.ParseStatus),
			Attempts:              m.Attempts,
			ElapsedMs:             m.ElapsedMs,
			QuestionnaireIncluded: m.QuestionnaireIncluded,
			ImageAnalyzed:         m.ImageAnalyzed,
			ImageSizeKB:           m.ImageSizeKB,
		},
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func toXMLAnalysisList(l AnalysisList) xmlAnalysisList {
	out := xmlAnalysisList{
		Analyses:   make([]xmlAnalysis, 0, len(l.Analyses)),
		TotalCount: l.TotalCount,
		Page:       l.Page,
		PageSize:   l.PageSize,
	}
	for _, r := range l.Analyses {
		out.Analyses = append(out.Analyses, toXMLAnalysis(r))
	}
	return out
}
