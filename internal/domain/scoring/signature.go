package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/lowmax205/eas/internal/domain/model"
)

// SignatureCheck scores a submitted signature image.
type SignatureCheck struct {
	tuning Tuning
}

// NewSignatureCheck creates a signature check with the given tuning.
func NewSignatureCheck(t Tuning) SignatureCheck { return SignatureCheck{tuning: t} }

func (SignatureCheck) Type() model.CheckType { return model.CheckSignatureQuality }

func (SignatureCheck) Applicable(in Input) bool { return in.Submission.HasSignature() }

func (c SignatureCheck) Run(ctx context.Context, in Input) (Score, error) {
	t := c.tuning

	sig, _, err := decodeGray(in.Submission.Signature)
	if err != nil {
		return Degraded(err.Error(), nil), nil
	}
	coverage := inkCoverage(sig, t.InkThreshold)
	quality := 1.0
	if t.TargetInkCoverage > 0 {
		quality = math.Min(1, coverage/t.TargetInkCoverage)
	}

	similarity := t.NoReferenceSimilarity
	hasReference := len(in.Profile.ReferenceSignature) > 0
	var correlation any
	if hasReference {
		if err := ctx.Err(); err != nil {
			return Degraded("timeout", nil), nil
		}
		ref, _, err := decodeGray(in.Profile.ReferenceSignature)
		if err != nil {
			return Degraded(fmt.Sprintf("reference %v", err), nil), nil
		}
		a := grayPixels(resizeGray(sig, t.CanvasWidth, t.CanvasHeight))
		b := grayPixels(resizeGray(ref, t.CanvasWidth, t.CanvasHeight))
		r := normalizedCrossCorrelation(a, b)
		if math.IsNaN(r) {
			similarity = t.UndefinedCorrelation
			correlation = "nan"
		} else {
			similarity = clamp01((r + 1) / 2)
			correlation = r
		}
	}

	conf := clamp01(t.SignatureQualityWeight*quality + t.SignatureSimilarityWeight*similarity)

	details := map[string]any{
		"ink_coverage":     coverage,
		"quality_score":    quality,
		"similarity_score": similarity,
		"has_reference":    hasReference,
	}
	if correlation != nil {
		details["correlation"] = correlation
	}
	return Score{Passed: conf >= t.SignaturePassThreshold, Confidence: conf, Details: details}, nil
}
