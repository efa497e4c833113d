// Package identity provides the identity and tenancy bounded context API.
package identity

import (
	"context"

	"crewcommand_backend/internal/identity/service"

	"github.com/google/uuid"
)

// Service defines the public interface for tenancy operations.
// Other domains should depend on this interface, not on concrete implementations.
type Service interface {
	// ResolveProfile returns the profile bound to an auth subject.
	ResolveProfile(ctx context.Context, authUserID uuid.UUID) (service.Profile, error)
}
