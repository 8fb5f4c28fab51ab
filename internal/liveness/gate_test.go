package liveness

import (
	"crypto/rand"
	"testing"

	"github.com/medvault/bioauth/internal/faults"
	"github.com/medvault/bioauth/internal/models"
)

func fixedAssessor(assessment Assessment) Assessor {
	return AssessorFunc(func(_ []byte, _ models.Modality) (Assessment, error) {
		return assessment, nil
	})
}

func TestGate_PassesGoodSample(t *testing.T) {
	gate := NewGate(fixedAssessor(Assessment{QualityScore: 0.9, LivenessPass: true}), 0.7, true)

	assessment, errCheck := gate.Check([]byte("sample"), models.ModalityFingerprint)
	if errCheck != nil {
		t.Fatalf("expected pass, got %v", errCheck)
	}
	if assessment.QualityScore != 0.9 {
		t.Fatalf("expected assessment passthrough, got %v", assessment.QualityScore)
	}
}

func TestGate_SpoofBeatsEverything(t *testing.T) {
	// A spoofed sample with perfect quality must still fail as a spoof, not
	// fall through to a softer rejection.
	gate := NewGate(fixedAssessor(Assessment{QualityScore: 1.0, LivenessPass: true, SpoofDetected: true}), 0.7, true)

	_, errCheck := gate.Check([]byte("sample"), models.ModalityFace)
	if !faults.Is(errCheck, faults.KindSpoofDetected) {
		t.Fatalf("expected spoof_detected, got %v", errCheck)
	}
	if !faults.SecurityAlert(faults.KindOf(errCheck)) {
		t.Fatalf("spoof must be a security alert")
	}
}

func TestGate_LivenessBeforeQuality(t *testing.T) {
	gate := NewGate(fixedAssessor(Assessment{QualityScore: 0.2, LivenessPass: false}), 0.7, true)

	_, errCheck := gate.Check([]byte("sample"), models.ModalityFace)
	if !faults.Is(errCheck, faults.KindLivenessFailed) {
		t.Fatalf("expected liveness_failed before low_quality, got %v", errCheck)
	}
}

func TestGate_LivenessOptional(t *testing.T) {
	gate := NewGate(fixedAssessor(Assessment{QualityScore: 0.9, LivenessPass: false}), 0.7, false)

	if _, errCheck := gate.Check([]byte("sample"), models.ModalityVoice); errCheck != nil {
		t.Fatalf("expected pass with liveness disabled, got %v", errCheck)
	}
}

func TestGate_LowQuality(t *testing.T) {
	gate := NewGate(fixedAssessor(Assessment{QualityScore: 0.5, LivenessPass: true}), 0.7, true)

	_, errCheck := gate.Check([]byte("sample"), models.ModalityIris)
	if !faults.Is(errCheck, faults.KindLowQuality) {
		t.Fatalf("expected low_quality, got %v", errCheck)
	}
	if faults.Retryable(errCheck) {
		t.Fatalf("low_quality must not be retryable")
	}
}

func TestEntropyAssessor_FlatSampleScoresLow(t *testing.T) {
	assessor := EntropyAssessor{}

	flat := make([]byte, 1024)
	flatResult, errFlat := assessor.Assess(flat, models.ModalityFingerprint)
	if errFlat != nil {
		t.Fatalf("assess flat: %v", errFlat)
	}
	if flatResult.QualityScore != 0 {
		t.Fatalf("expected zero quality for flat sample, got %v", flatResult.QualityScore)
	}

	random := make([]byte, 4096)
	if _, errRand := rand.Read(random); errRand != nil {
		t.Fatalf("rand: %v", errRand)
	}
	randomResult, errRandom := assessor.Assess(random, models.ModalityFingerprint)
	if errRandom != nil {
		t.Fatalf("assess random: %v", errRandom)
	}
	if randomResult.QualityScore < 0.9 {
		t.Fatalf("expected high quality for random sample, got %v", randomResult.QualityScore)
	}
}

func TestEntropyAssessor_EmptySample(t *testing.T) {
	result, errAssess := EntropyAssessor{}.Assess(nil, models.ModalityFingerprint)
	if errAssess != nil {
		t.Fatalf("assess empty: %v", errAssess)
	}
	if result.QualityScore != 0 || result.LivenessPass {
		t.Fatalf("expected empty sample to fail, got %+v", result)
	}
}
