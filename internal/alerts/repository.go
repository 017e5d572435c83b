package alerts

import (
	"context"
	"time"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// Repository defines the interface for alert storage. The alert (with its
// attempts and notification records) is the unit of mutual exclusion:
// status transitions are conditional writes so racing writers serialize at
// the store, and attempt updates touch disjoint per-service rows.
type Repository interface {
	CreateAlert(ctx context.Context, alert *domain.Alert) error
	GetAlert(ctx context.Context, id string) (*domain.Alert, error)
	ListActive(ctx context.Context) ([]*domain.Alert, error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Alert, error)

	// AppendContactAttempts adds attempts in the given order. Returns
	// ErrDuplicateAttempt if any (alert, service) pair already exists.
	AppendContactAttempts(ctx context.Context, alertID string, attempts []domain.ContactAttempt) error

	// UpdateAttemptResponse mutates the response fields of one attempt.
	// Returns ErrAlertNotFound or ErrAttemptNotFound.
	UpdateAttemptResponse(ctx context.Context, alertID, serviceID string, response domain.AttemptResponse, estimatedArrival *time.Time, notes *string) error

	// CreateNotificationRecord persists a per-channel record; the record
	// is write-once, a second write for the same channel is a no-op.
	CreateNotificationRecord(ctx context.Context, alertID string, record domain.NotificationRecord) error

	// Status transitions. Each performs a conditional update that only
	// succeeds from the legal source statuses and returns the updated
	// alert. On a lost race or an illegal source status they return
	// ErrTransitionConflict; on unknown id, ErrAlertNotFound.
	Acknowledge(ctx context.Context, alertID, operatorID string, estimatedMinutes *int) (*domain.Alert, error)
	MarkResponding(ctx context.Context, alertID string) (*domain.Alert, error)
	Resolve(ctx context.Context, alertID, operatorID, notes string, resolvedAt time.Time) (*domain.Alert, error)
	Cancel(ctx context.Context, alertID, reason string) (*domain.Alert, error)

	UpdatePriority(ctx context.Context, alertID string, priority domain.Priority) (*domain.Alert, error)
}

// GeoIndex is the external capability answering radius queries. Candidate
// order is distance-ascending and ties keep the index's own order; the
// engine never re-sorts.
type GeoIndex interface {
	FindNearby(ctx context.Context, location domain.Location, radiusMeters int, typeFilter string) ([]domain.NearbyService, error)
	IndexAlertLocation(ctx context.Context, alertID string, location domain.Location) error
	NearbyAlertIDs(ctx context.Context, location domain.Location, radiusMeters int) ([]string, error)
}

// NotificationGateway accepts one outbound notification request. A nil
// error means the carrier accepted the request, nothing more.
type NotificationGateway interface {
	Notify(ctx context.Context, channel domain.NotificationChannel, recipient, subject, body string) error
}

// ContactDirectory resolves a reporter's personal emergency contacts.
type ContactDirectory interface {
	PersonalContacts(ctx context.Context, userID string) ([]domain.PersonalContact, error)
}

// EventEmitter receives lifecycle events for real-time fan-out. Emission is
// fire-and-forget; subscriber delivery is the collaborator's problem.
type EventEmitter interface {
	EmitAlertEvent(alertID string, status domain.AlertStatus, timestamp time.Time)
}
