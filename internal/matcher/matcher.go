// Package matcher defines the pluggable sample-to-template comparison
// capability. The engine is modality-agnostic: each modality registers a
// Matcher and orchestration code only sees scores in [0,1].
package matcher

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/medvault/bioauth/internal/models"
)

// Matcher compares a live sample against a stored template and returns a
// similarity score in [0,1].
type Matcher interface {
	Score(sample, template []byte) (float64, error)
}

// Func adapts a function to the Matcher interface.
type Func func(sample, template []byte) (float64, error)

// Score implements Matcher.
func (f Func) Score(sample, template []byte) (float64, error) { return f(sample, template) }

// Registry maps modalities to their matchers.
type Registry struct {
	mu       sync.RWMutex
	matchers map[models.Modality]Matcher
	fallback Matcher
}

// NewRegistry constructs a Registry with the cosine matcher as fallback.
func NewRegistry() *Registry {
	return &Registry{
		matchers: make(map[models.Modality]Matcher),
		fallback: CosineMatcher{},
	}
}

// Register installs a matcher for one modality.
func (r *Registry) Register(modality models.Modality, m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers[modality] = m
}

// For returns the matcher for the modality, falling back to the default.
func (r *Registry) For(modality models.Modality) Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.matchers[modality]; ok {
		return m
	}
	return r.fallback
}

// CosineMatcher scores samples encoded as little-endian float32 embedding
// vectors by cosine similarity, mapped from [-1,1] into [0,1]. Vectors of
// mismatched length score zero.
type CosineMatcher struct{}

// Score implements Matcher.
func (CosineMatcher) Score(sample, template []byte) (float64, error) {
	a, errA := decodeVector(sample)
	if errA != nil {
		return 0, errA
	}
	b, errB := decodeVector(template)
	if errB != nil {
		return 0, errB
	}
	if len(a) != len(b) || len(a) == 0 {
		return 0, nil
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	score := (cos + 1) / 2
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// decodeVector interprets a blob as little-endian float32 values.
func decodeVector(blob []byte) ([]float64, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("matcher: embedding length %d is not a multiple of 4", len(blob))
	}
	vector := make([]float64, 0, len(blob)/4)
	for i := 0; i < len(blob); i += 4 {
		bits := binary.LittleEndian.Uint32(blob[i : i+4])
		v := float64(math.Float32frombits(bits))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("matcher: embedding contains non-finite value")
		}
		vector = append(vector, v)
	}
	return vector, nil
}
