package recognize

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Outcome classifies the result of a strict embedding extraction. Expected
// "no face" conditions are values, not errors, so callers branch instead of
// catching.
type Outcome int

const (
	// OutcomeFound means a usable face embedding was extracted.
	OutcomeFound Outcome = iota
	// OutcomeNoFace means no face cleared the detector confidence floor.
	OutcomeNoFace
	// OutcomeLowQuality means the best face was below the quality floor.
	OutcomeLowQuality
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNoFace:
		return "no_face"
	case OutcomeLowQuality:
		return "low_quality"
	}
	return "unknown"
}

// ExtractResult carries the outcome of a strict extraction.
type ExtractResult struct {
	Outcome   Outcome
	Embedding []float32 // unit-norm, set only when Outcome == OutcomeFound
	FaceCount int       // faces above the confidence floor
	DetScore  float64   // detector confidence of the chosen face
}

// Person is a named reference identity: the L2-normalized mean of the
// per-photo embeddings plus the filenames that contributed to it.
type Person struct {
	Name        string
	Embedding   []float32
	SourceFiles []string
}

// Extractor applies confidence and quality policy on top of a Recognizer.
type Extractor struct {
	recognizer       Recognizer
	minDetConfidence float64
	qualityFloor     float64
	logger           *zap.Logger
}

// NewExtractor creates an extractor with the given policy thresholds.
func NewExtractor(r Recognizer, minDetConfidence, qualityFloor float64, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		recognizer:       r,
		minDetConfidence: minDetConfidence,
		qualityFloor:     qualityFloor,
		logger:           logger,
	}
}

// filterByConfidence drops detections below the confidence floor.
func (e *Extractor) filterByConfidence(faces []FaceDetection) []FaceDetection {
	kept := faces[:0]
	for _, f := range faces {
		if f.DetScore >= e.minDetConfidence && len(f.Embedding) > 0 {
			kept = append(kept, f)
		}
	}
	return kept
}

// ExtractReference extracts a single identity embedding from a reference
// photo. A photo with several faces is accepted with a warning, using the
// largest face by bounding box area. The returned embedding is unit-norm.
func (e *Extractor) ExtractReference(ctx context.Context, imageData []byte) (ExtractResult, error) {
	faces, err := e.recognizer.DetectFaces(ctx, imageData)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("face detection: %w", err)
	}

	faces = e.filterByConfidence(faces)
	if len(faces) == 0 {
		return ExtractResult{Outcome: OutcomeNoFace}, nil
	}

	best := faces[0]
	if len(faces) > 1 {
		e.logger.Warn("reference photo contains multiple faces, using the largest",
			zap.Int("faces", len(faces)))
		for _, f := range faces[1:] {
			if f.Area() > best.Area() {
				best = f
			}
		}
	}

	if best.DetScore < e.qualityFloor {
		return ExtractResult{Outcome: OutcomeLowQuality, FaceCount: len(faces), DetScore: best.DetScore}, nil
	}

	return ExtractResult{
		Outcome:   OutcomeFound,
		Embedding: Normalize(best.Embedding),
		FaceCount: len(faces),
		DetScore:  best.DetScore,
	}, nil
}

// ExtractAll returns unit-norm embeddings for every face above the confidence
// floor. Low-quality faces are kept but logged; event photos are never
// rejected here.
func (e *Extractor) ExtractAll(ctx context.Context, imageData []byte) ([]FaceDetection, error) {
	faces, err := e.recognizer.DetectFaces(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}

	faces = e.filterByConfidence(faces)
	for i := range faces {
		if faces[i].DetScore < e.qualityFloor {
			e.logger.Debug("keeping low quality face",
				zap.Int("face_index", faces[i].FaceIndex),
				zap.Float64("det_score", faces[i].DetScore))
		}
		faces[i].Embedding = Normalize(faces[i].Embedding)
	}
	return faces, nil
}

// BuildPerson combines the accepted per-photo embeddings for one person into
// a single identity: arithmetic mean first, then re-normalized to unit norm.
// Returns an error when no photo produced a valid embedding, so the caller
// drops the person instead of matching against a zero vector.
func BuildPerson(name string, embeddings [][]float32, sourceFiles []string) (*Person, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no usable face embedding for %q: provide at least one clear photo of the person", name)
	}

	mean := MeanVector(embeddings)
	if mean == nil {
		return nil, fmt.Errorf("inconsistent embedding dimensions for %q", name)
	}

	files := append([]string(nil), sourceFiles...)
	sort.Strings(files)

	return &Person{
		Name:        name,
		Embedding:   Normalize(mean),
		SourceFiles: files,
	}, nil
}
