package scoring

// Tuning holds the heuristic constants of the image and signature checks.
// None of these are validated biometric thresholds; they are defaults.
type Tuning struct {
	// Image check.
	MinImageDimension     int     // shorter side below this scores quality 0
	TargetVariance        float64 // grayscale variance that earns full quality
	MultiFaceCredit       float64
	NeutralFaceSimilarity float64
	ImageQualityWeight    float64
	ImageFaceWeight       float64
	ImageSimilarityWeight float64
	ImagePassThreshold    float64

	// Signature check.
	InkThreshold              uint8   // gray levels below this are ink
	TargetInkCoverage         float64 // coverage that earns full quality
	CanvasWidth               int
	CanvasHeight              int
	NoReferenceSimilarity     float64
	UndefinedCorrelation      float64
	SignatureQualityWeight    float64
	SignatureSimilarityWeight float64
	SignaturePassThreshold    float64
}

// DefaultTuning returns the stock constants.
func DefaultTuning() Tuning {
	return Tuning{
		MinImageDimension:     64,
		TargetVariance:        2500,
		MultiFaceCredit:       0.7,
		NeutralFaceSimilarity: 0.5,
		ImageQualityWeight:    0.3,
		ImageFaceWeight:       0.3,
		ImageSimilarityWeight: 0.4,
		ImagePassThreshold:    0.6,

		InkThreshold:              200,
		TargetInkCoverage:         0.10,
		CanvasWidth:               300,
		CanvasHeight:              150,
		NoReferenceSimilarity:     0.7,
		UndefinedCorrelation:      0.5,
		SignatureQualityWeight:    0.4,
		SignatureSimilarityWeight: 0.6,
		SignaturePassThreshold:    0.5,
	}
}
