// Package liveness gates raw biometric samples on capture quality and
// liveness before any matching or storage happens.
package liveness

import (
	"math"

	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/models"
)

// Assessment is the verdict for one raw sample.
type Assessment struct {
	QualityScore  float64 // Capture quality in [0,1].
	LivenessPass  bool    // Sample came from a live subject.
	SpoofDetected bool    // Sample matches a known spoof signature.
}

// Assessor scores a raw sample for one modality. Implementations wrap the
// deployment's capture SDK or liveness service.
type Assessor interface {
	Assess(sample []byte, modality models.Modality) (Assessment, error)
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(sample []byte, modality models.Modality) (Assessment, error)

// Assess implements Assessor.
func (f AssessorFunc) Assess(sample []byte, modality models.Modality) (Assessment, error) {
	return f(sample, modality)
}

// Gate applies the fail-closed quality and liveness policy.
type Gate struct {
	assessor        Assessor
	minQualityScore float64
	requireLiveness bool
}

// NewGate constructs a Gate. A nil assessor falls back to the entropy
// heuristic assessor.
func NewGate(assessor Assessor, minQualityScore float64, requireLiveness bool) *Gate {
	if assessor == nil {
		assessor = EntropyAssessor{}
	}
	return &Gate{
		assessor:        assessor,
		minQualityScore: minQualityScore,
		requireLiveness: requireLiveness,
	}
}

// Check assesses the sample and rejects it when quality is below the
// configured floor, liveness fails, or a spoof is detected. Each rejection
// reason maps to a distinct failure kind so callers can audit and alert on
// spoofing separately from ordinary low-quality captures.
func (g *Gate) Check(sample []byte, modality models.Modality) (Assessment, error) {
	result, errAssess := g.assessor.Assess(sample, modality)
	if errAssess != nil {
		return Assessment{}, faults.Infra("assess sample", errAssess)
	}
	if result.SpoofDetected {
		return result, faults.New(faults.KindSpoofDetected, "spoof signature detected")
	}
	if g.requireLiveness && !result.LivenessPass {
		return result, faults.New(faults.KindLivenessFailed, "liveness check failed")
	}
	if result.QualityScore < g.minQualityScore {
		return result, faults.New(faults.KindLowQuality, "sample quality below threshold")
	}
	return result, nil
}

// EntropyAssessor is the built-in fallback assessor. It estimates capture
// quality from byte entropy: flat or saturated captures score near zero.
// Liveness always passes; deployments needing real liveness detection must
// wire a capture-SDK assessor.
type EntropyAssessor struct{}

// Assess implements Assessor.
func (EntropyAssessor) Assess(sample []byte, _ models.Modality) (Assessment, error) {
	if len(sample) == 0 {
		return Assessment{QualityScore: 0, LivenessPass: false}, nil
	}
	var counts [256]float64
	for _, b := range sample {
		counts[b]++
	}
	total := float64(len(sample))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := c / total
		entropy -= p * math.Log2(p)
	}
	// 8 bits is the maximum entropy for a byte stream.
	quality := entropy / 8
	if quality > 1 {
		quality = 1
	}
	return Assessment{QualityScore: quality, LivenessPass: true}, nil
}
