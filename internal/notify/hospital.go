package notify

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/parser"
)

// Hospital search parameters expected by the care-routing service.
const (
	hospitalRerankMode = "ce"
	hospitalTopK       = 24
	hospitalFinalK     = 2

	// defaultLabelScore is sent when the record carries no confidence.
	defaultLabelScore = 85.0
	maxSimilarSent    = 3
)

// HospitalSink asks the care-routing service to find hospitals for a
// diagnosis. It sends the diagnosis in the same XML layout the models reply
// with.
type HospitalSink struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewHospitalSink creates a HospitalSink. A non-positive timeout defaults to
// 30s.
func NewHospitalSink(baseURL string, timeout time.Duration) *HospitalSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HospitalSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (h *HospitalSink) Name() string           { return "hospital" }
func (h *HospitalSink) Timeout() time.Duration { return h.timeout }

type hospitalRequest struct {
	XML        string `json:"xml"`
	RerankMode string `json:"rerank_mode"`
	TopK       int    `json:"top_k"`
	FinalK     int    `json:"final_k"`
}

type hospitalResponse struct {
	Results []json.RawMessage `json:"results"`
}

// Send posts the record and reports how many hospitals were matched.
func (h *HospitalSink) Send(ctx context.Context, rec diagnosis.Record) (string, error) {
	doc, err := hospitalXML(rec)
	if err != nil {
		return "", err
	}

	var resp hospitalResponse
	err = postJSON(ctx, h.client, h.baseURL+"/search-ft-xml", hospitalRequest{
		XML:        doc,
		RerankMode: hospitalRerankMode,
		TopK:       hospitalTopK,
		FinalK:     hospitalFinalK,
	}, &resp)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d hospitals matched", len(resp.Results)), nil
}

type ftRoot struct {
	XMLName xml.Name         `xml:"root"`
	Label   ftLabel          `xml:"label"`
	Summary string           `xml:"summary"`
	Similar *ftSimilarLabels `xml:"similar_labels,omitempty"`
}

type ftLabel struct {
	Code  string `xml:"id_code,attr"`
	Score string `xml:"score,attr"`
	Name  string `xml:",chardata"`
}

type ftSimilarLabels struct {
	Labels []ftLabel `xml:"similar_label"`
}

func hospitalXML(rec diagnosis.Record) (string, error) {
	code := rec.DiagnosisCode
	if code == "" {
		code = "0"
	}
	score := defaultLabelScore
	if rec.ConfidenceScore != nil {
		score = *rec.ConfidenceScore * 100
	}

	summary := strings.TrimSpace(rec.SummaryText())
	if summary == "" {
		summary = rec.Diagnosis + "에 대한 진단 소견입니다."
	}

	root := ftRoot{
		Label:   ftLabel{Code: code, Score: formatScore(score), Name: rec.Diagnosis},
		Summary: summary,
	}

	var similar []ftLabel
	for i, s := range rec.SimilarConditions {
		if len(similar) == maxSimilarSent {
			break
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		sc := s.Code
		if sc == "" {
			sc = strconv.Itoa(i + 1)
		}
		similar = append(similar, ftLabel{Code: sc, Score: formatScore(similarPercent(s, i)), Name: name})
	}
	if len(similar) > 0 {
		root.Similar = &ftSimilarLabels{Labels: similar}
	}

	out, err := xml.MarshalIndent(root, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding hospital xml: %w", err)
	}
	return string(out), nil
}

// similarPercent reports a similar-condition score as a percentage. Entries
// without a score get a rank-based placeholder that decreases with position.
func similarPercent(s parser.Similar, rank int) float64 {
	if s.RawScore == nil {
		return max(10.0, 30.0-float64(rank)*5)
	}
	if s.Scale == parser.ScaleFraction {
		return *s.RawScore * 100
	}
	return *s.RawScore
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
