// Package facematch decides who is in a frame. Detection and embedding are
// delegated to an Extractor; this package owns the gallery of known
// embeddings and the tiered decision cascade on top of it.
package facematch

import (
	"context"
	"errors"
	"math"
)

// ErrNoKnownEmbeddings means the gallery is empty and nothing can ever match.
var ErrNoKnownEmbeddings = errors.New("no known face embeddings loaded")

// Tier identifies which stage of the cascade accepted a match.
type Tier string

const (
	TierStrict   Tier = "A" // fast detector, strict threshold
	TierLenient  Tier = "B" // accurate detector, lenient threshold
	TierFallback Tier = "C" // fallback detector, optional
)

// Mode selects which detections of a frame are matched.
type Mode int

const (
	// ModeSingle matches only the largest face. Used by entry and exit flows.
	ModeSingle Mode = iota
	// ModeAll matches every detected face.
	ModeAll
)

// Enrollment is one known embedding of a subject.
type Enrollment struct {
	SubjectKey string
	Embedding  []float32
}

// Match is an accepted identification.
type Match struct {
	SubjectKey string
	Distance   float64
	Tier       Tier
	Confidence int
	Region     Region
}

// Extractor finds faces and computes embeddings. Implemented by the face service client.
type Extractor interface {
	Detect(ctx context.Context, image []byte, model string) ([]Region, error)
	Embed(ctx context.Context, image []byte, region Region) ([]float32, error)
}

// Source provides the enrolled embeddings and a marker that changes whenever they do.
type Source interface {
	Marker(ctx context.Context) (string, error)
	Load(ctx context.Context) ([]Enrollment, error)
}

// Confidence converts a distance into a 0-100 score.
func Confidence(distance float64) int {
	c := math.Round((1 - distance) * 100)
	return int(max(0, min(100, c)))
}
