package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/medvault/bioauth/internal/faults"
)

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind faults.Kind
		want int
	}{
		{faults.KindRateLimited, http.StatusTooManyRequests},
		{faults.KindNotEnrolled, http.StatusNotFound},
		{faults.KindDuplicateCredential, http.StatusConflict},
		{faults.KindNoMatch, http.StatusUnauthorized},
		{faults.KindSignatureInvalid, http.StatusUnauthorized},
		{faults.KindPossibleReplay, http.StatusUnauthorized},
		{faults.KindSpoofDetected, http.StatusUnauthorized},
		{faults.KindLowQuality, http.StatusBadRequest},
		{faults.KindLivenessFailed, http.StatusBadRequest},
		{faults.KindChallengeExpired, http.StatusBadRequest},
		{faults.KindInfrastructure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForKind(tc.kind); got != tc.want {
			t.Fatalf("kind %s: expected %d, got %d", tc.kind, tc.want, got)
		}
	}
}

func TestWriteFault_Flags(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	writeFault(c, faults.New(faults.KindSpoofDetected, "spoof signature detected"))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var body map[string]any
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode body: %v", errDecode)
	}
	if body["error"] != string(faults.KindSpoofDetected) {
		t.Fatalf("expected kind in error field, got %v", body["error"])
	}
	if body["securityAlert"] != true {
		t.Fatalf("expected securityAlert flag")
	}
	if _, ok := body["retryable"]; ok {
		t.Fatalf("spoof must not be retryable")
	}

	recorder = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(recorder)
	writeFault(c, faults.Infra("db down", errors.New("connection refused")))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode body: %v", errDecode)
	}
	if body["retryable"] != true {
		t.Fatalf("infrastructure failures must be retryable")
	}
}

func TestWriteFault_UnclassifiedError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	writeFault(c, errors.New("plain error"))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected unexpected errors to map to 500, got %d", recorder.Code)
	}
}
