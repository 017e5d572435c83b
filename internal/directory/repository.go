// Package directory exposes the slice of the emergency-service and
// personal-contact directories this service needs: the read used at
// fan-out time and the registration feed that keeps the geo index current.
// Directory management itself (CRUD, search, bulk import) belongs to an
// external collaborator.
package directory

import (
	"context"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// Repository defines the interface for personal contact reads.
type Repository interface {
	// PersonalContacts returns the user's personal emergency contacts in
	// a stable order. An unknown user yields an empty list, not an error.
	PersonalContacts(ctx context.Context, userID string) ([]domain.PersonalContact, error)
}
