package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/lowmax205/eas/internal/domain/model"
)

// FaceAnalysis is what a face analyzer reports for one image.
type FaceAnalysis struct {
	FacesDetected int
	// Embedding of the most prominent face; empty when the analyzer does
	// not produce embeddings.
	Embedding []float32
}

// FaceAnalyzer detects faces and computes an embedding for one image.
type FaceAnalyzer interface {
	Analyze(ctx context.Context, img []byte) (FaceAnalysis, error)
}

// SingleFace is the analyzer used when no face service is configured: it
// reports exactly one face and no embedding.
type SingleFace struct{}

func (SingleFace) Analyze(context.Context, []byte) (FaceAnalysis, error) {
	return FaceAnalysis{FacesDetected: 1}, nil
}

// ImageCheck scores a submitted selfie.
type ImageCheck struct {
	faces  FaceAnalyzer
	tuning Tuning
}

// NewImageCheck creates an image check backed by fa.
func NewImageCheck(fa FaceAnalyzer, t Tuning) ImageCheck {
	if fa == nil {
		fa = SingleFace{}
	}
	return ImageCheck{faces: fa, tuning: t}
}

func (ImageCheck) Type() model.CheckType { return model.CheckImageQuality }

func (ImageCheck) Applicable(in Input) bool { return in.Submission.HasPhoto() }

func (c ImageCheck) Run(ctx context.Context, in Input) (Score, error) {
	t := c.tuning

	gray, format, err := decodeGray(in.Submission.Photo)
	if err != nil {
		return Degraded(err.Error(), nil), nil
	}
	b := gray.Bounds()
	quality, variance := c.quality(b.Dx(), b.Dy(), grayPixels(gray))

	if err := ctx.Err(); err != nil {
		return Degraded("timeout", nil), nil
	}
	sub, err := c.faces.Analyze(ctx, in.Submission.Photo)
	if err != nil {
		return Degraded(fmt.Sprintf("face analysis: %v", err), nil), nil
	}

	var presence float64
	switch {
	case sub.FacesDetected == 1:
		presence = 1
	case sub.FacesDetected > 1:
		presence = t.MultiFaceCredit
	}

	similarity := t.NeutralFaceSimilarity
	hasReference := len(in.Profile.ReferencePhoto) > 0
	var distance any
	if hasReference {
		ref, err := c.faces.Analyze(ctx, in.Profile.ReferencePhoto)
		if err != nil {
			return Degraded(fmt.Sprintf("reference analysis: %v", err), nil), nil
		}
		switch d, ok := euclidean(sub.Embedding, ref.Embedding); {
		case sub.FacesDetected == 0:
			similarity = 0
		case ok:
			similarity = clamp01(1 - d)
			distance = d
		}
	}

	conf := t.ImageQualityWeight*quality + t.ImageFaceWeight*presence + t.ImageSimilarityWeight*similarity
	conf = clamp01(conf)

	details := map[string]any{
		"format":           format,
		"width":            b.Dx(),
		"height":           b.Dy(),
		"variance":         variance,
		"quality_score":    quality,
		"faces_detected":   sub.FacesDetected,
		"face_score":       presence,
		"similarity_score": similarity,
		"has_reference":    hasReference,
	}
	if distance != nil {
		details["embedding_distance"] = distance
	}
	return Score{Passed: conf >= t.ImagePassThreshold, Confidence: conf, Details: details}, nil
}

// quality applies the resolution floor then normalizes intensity variance.
func (c ImageCheck) quality(w, h int, px []float64) (float64, float64) {
	variance := intensityVariance(px)
	if min(w, h) < c.tuning.MinImageDimension {
		return 0, variance
	}
	if c.tuning.TargetVariance <= 0 {
		return 1, variance
	}
	return math.Min(1, variance/c.tuning.TargetVariance), variance
}
