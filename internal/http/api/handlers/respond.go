package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medvault/bioauth/internal/faults"
)

// statusForKind maps failure kinds to HTTP status codes. Security verdicts
// are 401, malformed or policy-rejected input is 400, and only
// infrastructure failures signal a retryable 5xx.
func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindRateLimited:
		return http.StatusTooManyRequests
	case faults.KindNotEnrolled:
		return http.StatusNotFound
	case faults.KindDuplicateCredential:
		return http.StatusConflict
	case faults.KindNoMatch, faults.KindSignatureInvalid, faults.KindPossibleReplay, faults.KindSpoofDetected:
		return http.StatusUnauthorized
	case faults.KindInfrastructure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeFault renders a taxonomy error as a JSON response.
func writeFault(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	body := gin.H{"error": string(kind)}
	if faults.SecurityAlert(kind) {
		body["securityAlert"] = true
	}
	if faults.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(statusForKind(kind), body)
}
