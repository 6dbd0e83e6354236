// Package recognize turns face crops into fixed-length embedding vectors and
// applies the per-photo-class acceptance policy on top of a pluggable
// face recognition backend.
package recognize

import "context"

// FaceDetection represents a single detected face. It lives only for the
// duration of the call that produced it and is never persisted.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore  float64   `json:"det_score"`
}

// Area returns the bounding box area in square pixels.
func (f *FaceDetection) Area() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	w := f.BBox[2] - f.BBox[0]
	h := f.BBox[3] - f.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Recognizer is the face recognition backend contract. Exactly one concrete
// implementation is selected at startup via configuration.
type Recognizer interface {
	// DetectFaces locates all faces in an image and returns one embedding
	// per face together with its bounding box and detector confidence.
	DetectFaces(ctx context.Context, imageData []byte) ([]FaceDetection, error)
	// EmbedImage computes a whole-image embedding, used for near-duplicate
	// detection rather than identity matching.
	EmbedImage(ctx context.Context, imageData []byte) ([]float32, error)
}
