// Package parser turns a provider's free-text reply into a structured
// diagnosis. Parsing never fails: replies without a usable <root> block
// come back as a fallback result carrying the raw text as the label.
package parser

import (
	"encoding/xml"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Status tags how a reply was parsed.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFallback Status = "fallback"
)

// Scale tags the convention a similar-condition score was reported on.
type Scale string

const (
	ScalePercent     Scale = "percent"
	ScaleFraction    Scale = "fraction"
	ScaleUnspecified Scale = "unspecified"
)

// ParseScale maps a declared scale name to a Scale. Unknown names yield "".
func ParseScale(s string) Scale {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "percent", "pct", "0-100":
		return ScalePercent
	case "fraction", "ratio", "0-1":
		return ScaleFraction
	}
	return ""
}

// Similar is one secondary condition. RawScore keeps the value exactly as
// the provider reported it; Scale records which convention it follows.
type Similar struct {
	Name     string   `json:"name"`
	Code     string   `json:"code,omitempty"`
	RawScore *float64 `json:"raw_score"`
	Scale    Scale    `json:"scale"`
}

// Result is the structured form of a provider reply.
type Result struct {
	Label      string    `json:"label"`
	Code       string    `json:"code,omitempty"`
	Confidence *float64  `json:"confidence"`
	Summary    *string   `json:"summary"`
	Similar    []Similar `json:"similar"`
	Status     Status    `json:"status"`
}

// Parser holds per-provider parsing hints.
type Parser struct {
	// SimilarScale is the scale the provider declares for similar-condition
	// scores. It applies to entries without an explicit scale attribute.
	SimilarScale Scale
}

var rootPattern = regexp.MustCompile(`(?s)<root>.*?</root>`)

type xmlRoot struct {
	Labels    []xmlLabel   `xml:"label"`
	Summaries []string     `xml:"summary"`
	Similar   []xmlSimilar `xml:"similar_labels>similar_label"`
}

type xmlLabel struct {
	Code  string `xml:"id_code,attr"`
	Score string `xml:"score,attr"`
	Text  string `xml:",chardata"`
}

type xmlSimilar struct {
	Code  string `xml:"id_code,attr"`
	Score string `xml:"score,attr"`
	Scale string `xml:"scale,attr"`
	Text  string `xml:",chardata"`
}

// Parse parses raw with no provider hints.
func Parse(raw string) Result {
	return Parser{}.Parse(raw)
}

// Parse extracts the first <root>…</root> block from raw. The label's score
// attribute (0–100) becomes Confidence in [0,1]; a missing or out-of-range
// score leaves Confidence nil without failing the parse.
func (p Parser) Parse(raw string) Result {
	window := rootPattern.FindString(raw)
	if window == "" {
		return fallback(raw)
	}

	var root xmlRoot
	if err := xml.Unmarshal([]byte(window), &root); err != nil {
		return fallback(raw)
	}
	if len(root.Labels) == 0 {
		return fallback(raw)
	}
	label := root.Labels[0]
	name := strings.TrimSpace(label.Text)
	if name == "" {
		return fallback(raw)
	}

	res := Result{
		Label:   name,
		Code:    strings.TrimSpace(label.Code),
		Similar: []Similar{},
		Status:  StatusOK,
	}

	if score, ok := parseScore(label.Score); ok && score >= 0 && score <= 100 {
		c := math.Round(score/100*1e6) / 1e6
		res.Confidence = &c
	}

	if len(root.Summaries) > 0 {
		if s := strings.TrimSpace(root.Summaries[0]); s != "" {
			res.Summary = &s
		}
	}

	seen := make(map[string]bool, len(root.Similar))
	for _, e := range root.Similar {
		sim, ok := p.similar(e)
		if !ok || seen[sim.Name] {
			continue
		}
		seen[sim.Name] = true
		res.Similar = append(res.Similar, sim)
	}

	return res
}

func (p Parser) similar(e xmlSimilar) (Similar, bool) {
	name := strings.TrimSpace(e.Text)
	if name == "" {
		return Similar{}, false
	}
	sim := Similar{Name: name, Code: strings.TrimSpace(e.Code)}

	if strings.TrimSpace(e.Score) != "" {
		score, ok := parseScore(e.Score)
		if !ok || score < 0 {
			return Similar{}, false
		}
		sim.RawScore = &score
	}

	switch {
	case ParseScale(e.Scale) != "":
		sim.Scale = ParseScale(e.Scale)
	case p.SimilarScale != "":
		sim.Scale = p.SimilarScale
	case sim.RawScore != nil && *sim.RawScore > 1:
		sim.Scale = ScalePercent
	default:
		sim.Scale = ScaleUnspecified
	}
	return sim, true
}

// parseScore accepts a plain number, optionally followed by "%". Negative
// zero comes back as 0.
func parseScore(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v == 0 {
		return 0, true
	}
	return v, true
}

func fallback(raw string) Result {
	return Result{
		Label:   raw,
		Similar: []Similar{},
		Status:  StatusFallback,
	}
}
