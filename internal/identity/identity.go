// Package identity is the boundary to the external user-identity system.
// The engine never owns user records; it only needs to know that a user
// exists and how to display them in WebAuthn ceremonies.
package identity

import (
	"context"
	"errors"
	"strings"
)

// User is the minimal identity projection the engine consumes.
type User struct {
	ID          string
	DisplayName string
}

// ErrUnknownUser indicates the identity system does not know the user.
var ErrUnknownUser = errors.New("identity: unknown user")

// Directory resolves external user identifiers.
type Directory interface {
	Resolve(ctx context.Context, userID string) (User, error)
}

// TrustedGateway is a Directory for deployments where an upstream gateway
// has already authenticated the user reference: any non-empty identifier
// resolves to itself. Deployments needing real lookups wrap their identity
// service instead.
type TrustedGateway struct{}

// Resolve implements Directory.
func (TrustedGateway) Resolve(_ context.Context, userID string) (User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return User{}, ErrUnknownUser
	}
	return User{ID: trimmed, DisplayName: trimmed}, nil
}
