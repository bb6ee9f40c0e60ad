package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/parser"
)

func ptr[T any](v T) *T { return &v }

func sampleRecord() diagnosis.Record {
	return diagnosis.Record{
		ID:              "rec-42",
		Diagnosis:       "광선각화증",
		DiagnosisCode:   "0",
		ConfidenceScore: ptr(0.676),
		Summary:         ptr("Scaly patch <sun damage> & redness"),
		Recommendations: "전문의 상담을 권장합니다.",
		SimilarConditions: []parser.Similar{
			{Name: "보웬병", Code: "13", RawScore: ptr(16.6), Scale: parser.ScalePercent},
			{Name: "지루각화증", RawScore: ptr(0.072), Scale: parser.ScaleFraction},
			{Name: "편평세포암"},
			{Name: "사마귀", RawScore: ptr(1.0), Scale: parser.ScalePercent},
		},
		CreatedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestHospitalXML_ReadableByParser(t *testing.T) {
	doc, err := hospitalXML(sampleRecord())
	if err != nil {
		t.Fatalf("hospitalXML: %v", err)
	}

	res := parser.Parse(doc)
	if res.Status != parser.StatusOK {
		t.Fatalf("parse status = %q for %s", res.Status, doc)
	}
	if res.Label != "광선각화증" || res.Code != "0" {
		t.Errorf("label = %q (%q)", res.Label, res.Code)
	}
	if res.Confidence == nil || *res.Confidence != 0.676 {
		t.Errorf("confidence = %v", res.Confidence)
	}
	if res.Summary == nil || *res.Summary != "Scaly patch <sun damage> & redness" {
		t.Errorf("summary = %v", res.Summary)
	}
	if len(res.Similar) != 3 {
		t.Fatalf("similar = %d entries, want 3", len(res.Similar))
	}
	want := []struct {
		name  string
		score float64
	}{
		{"보웬병", 16.6},
		{"지루각화증", 7.2},
		{"편평세포암", 20},
	}
	for i, w := range want {
		s := res.Similar[i]
		if s.Name != w.name || s.RawScore == nil || *s.RawScore != w.score {
			t.Errorf("similar[%d] = %+v, want %s %.1f", i, s, w.name, w.score)
		}
	}
}

func TestHospitalXML_Defaults(t *testing.T) {
	doc, err := hospitalXML(diagnosis.Record{Diagnosis: "free text answer"})
	if err != nil {
		t.Fatalf("hospitalXML: %v", err)
	}
	if !strings.Contains(doc, `score="85.0"`) || !strings.Contains(doc, `id_code="0"`) {
		t.Errorf("label defaults missing: %s", doc)
	}
	if !strings.Contains(doc, "free text answer에 대한 진단 소견입니다.") {
		t.Errorf("summary default missing: %s", doc)
	}
	if strings.Contains(doc, "similar_labels") {
		t.Errorf("empty similar list rendered: %s", doc)
	}
}

func TestHospitalSink_Send(t *testing.T) {
	var got hospitalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search-ft-xml" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"results":[{"name":"A"},{"name":"B"}],"meta":{}}`)
	}))
	defer srv.Close()

	detail, err := NewHospitalSink(srv.URL+"/", 0).Send(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if detail != "2 hospitals matched" {
		t.Errorf("detail = %q", detail)
	}
	if got.RerankMode != "ce" || got.TopK != 24 || got.FinalK != 2 {
		t.Errorf("request = %+v", got)
	}
	if !strings.Contains(got.XML, "<root>") {
		t.Errorf("xml = %q", got.XML)
	}
}

func TestHospitalSink_Defaults(t *testing.T) {
	s := NewHospitalSink("http://h", 0)
	if s.Name() != "hospital" || s.Timeout() != 30*time.Second {
		t.Errorf("sink = %s %v", s.Name(), s.Timeout())
	}
}

func TestChatbotSink_Send(t *testing.T) {
	var got sessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/session/init-from-analysis" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"session_id":"sess-9"}`)
	}))
	defer srv.Close()

	s := NewChatbotSink(srv.URL, 0)
	if s.Timeout() != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", s.Timeout())
	}
	detail, err := s.Send(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if detail != "session sess-9" {
		t.Errorf("detail = %q", detail)
	}
	if got.AnalysisID != "rec-42" || got.Diagnosis != "광선각화증" || got.ConfidenceScore != 0.676 {
		t.Errorf("payload = %+v", got)
	}
	if len(got.SimilarDiseases) != 3 || got.SimilarDiseases[0] != "보웬병" {
		t.Errorf("similar_diseases = %v", got.SimilarDiseases)
	}
	if got.CreatedAt != "2026-05-01T09:00:00Z" {
		t.Errorf("created_at = %q", got.CreatedAt)
	}
}

func TestSessionPayload_SummaryFallsBackToRecommendations(t *testing.T) {
	p := sessionPayload(diagnosis.Record{Diagnosis: "x", Recommendations: "see a doctor"})
	if p.Summary != "see a doctor" || p.ConfidenceScore != 0 {
		t.Errorf("payload = %+v", p)
	}
	if p.SimilarDiseases == nil {
		t.Error("similar_diseases must encode as an empty list")
	}
}

func TestSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewChatbotSink(srv.URL, time.Second).Send(context.Background(), sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("err = %v", err)
	}
}
