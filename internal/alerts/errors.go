package alerts

import "errors"

// Input validation errors.
var (
	ErrInvalidLocation      = errors.New("latitude must be in [-90,90] and longitude in [-180,180]")
	ErrInvalidEmergencyType = errors.New("unknown emergency type")
	ErrInvalidPriority      = errors.New("unknown priority")
	ErrInvalidResponse      = errors.New("unknown attempt response")
	ErrDescriptionTooLong   = errors.New("description exceeds maximum length")
)

// Lookup and authorization errors.
var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAttemptNotFound = errors.New("no contact attempt for this service on this alert")
	ErrForbidden       = errors.New("caller is not allowed to perform this action")
)

// State machine errors.
var (
	ErrInvalidTransition = errors.New("transition not allowed from current alert status")

	// ErrTransitionConflict is returned by the repository when a
	// conditional status update matched no rows because another writer got
	// there first. The service re-reads the alert and classifies the
	// outcome; handlers never see this error.
	ErrTransitionConflict = errors.New("alert status changed concurrently")
)

// ErrDuplicateAttempt rejects a second contact of the same service for the
// same alert.
var ErrDuplicateAttempt = errors.New("service already contacted for this alert")
