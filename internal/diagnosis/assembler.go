package diagnosis

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dermadx/internal/imaging"
	"github.com/kalambet/dermadx/internal/parser"
	"github.com/kalambet/dermadx/internal/provider"
)

// Request is a provider request plus the request-side facts the record
// keeps but providers never see.
type Request struct {
	provider.Request
	ImageInfo *imaging.Info
}

// Assembler builds records. Its clock and id source are injectable for
// tests.
type Assembler struct {
	now   func() time.Time
	newID func() string
}

// NewAssembler returns an Assembler using the wall clock and random UUIDs.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now, newID: uuid.NewString}
}

// Assemble combines invocation metadata and the parsed reply into a new
// record. A fallback parse still yields a valid record whose diagnosis is
// the raw provider text.
func (a *Assembler) Assemble(req Request, out provider.Outcome, res parser.Result, d provider.Descriptor) Record {
	now := a.now().UTC()

	similar := res.Similar
	if similar == nil {
		similar = []parser.Similar{}
	}

	rec := Record{
		ID:                a.newID(),
		AdditionalInfo:    req.AdditionalInfo,
		Diagnosis:         res.Label,
		DiagnosisCode:     res.Code,
		ConfidenceScore:   res.Confidence,
		Summary:           res.Summary,
		Recommendations:   Recommend(res.Label, res.Confidence, res.Status),
		SimilarConditions: similar,
		RawResponse:       out.Raw,
		Metadata: Metadata{
			ProviderID:  d.ID,
			ModelID:     d.Model,
			ParseStatus: res.Status,
			Attempts:    out.Attempts,
			ElapsedMs:   out.Elapsed.Milliseconds(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Mode == provider.PurposeImage {
		rec.Prompt = imagePrompt
		rec.Metadata.ImageAnalyzed = true
		rec.Metadata.QuestionnaireIncluded = len(req.Questionnaire) > 0
		rec.Metadata.ImageSizeKB = imageSizeKB(req.ImageBase64)
		rec.Metadata.ImageInfo = req.ImageInfo
		rec.Metadata.AnalysisType = TypeImage
		if rec.Metadata.QuestionnaireIncluded {
			rec.Metadata.AnalysisType = TypeImageWithQuestionnaire
		}
	} else {
		rec.Prompt = req.Description
		rec.Metadata.AnalysisType = TypeText
	}

	return rec
}

// imageSizeKB approximates the decoded size of a base64 payload in KB,
// rounded to two decimals.
func imageSizeKB(b64 string) float64 {
	return math.Round(float64(len(b64))*0.75/1024*100) / 100
}
