package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// Service owns the alert lifecycle state machine and the read surface.
// Status transitions go through conditional store updates so two racing
// operators serialize: one wins, the loser re-observes the post-transition
// state. Re-applying the terminal state an alert is already in is a no-op
// success; every other move out of a terminal state is ErrInvalidTransition.
type Service struct {
	repo    Repository
	geo     GeoIndex
	emitter EventEmitter
}

// NewService creates a new lifecycle service.
func NewService(repo Repository, geo GeoIndex, emitter EventEmitter) *Service {
	return &Service{
		repo:    repo,
		geo:     geo,
		emitter: emitter,
	}
}

// GetAlert returns one alert. Reporters see only their own alerts;
// operators see all.
func (s *Service) GetAlert(ctx context.Context, actor domain.Actor, alertID string) (*domain.Alert, error) {
	alert, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsOperator() && alert.ReporterID != actor.ID {
		return nil, ErrForbidden
	}
	return alert, nil
}

// ListActive returns non-terminal alerts, newest first. Operators only.
func (s *Service) ListActive(ctx context.Context, actor domain.Actor) ([]*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}
	return s.repo.ListActive(ctx)
}

// ListNearby returns alerts whose reported location falls within
// radiusMeters of the given point, nearest first. Operators only.
func (s *Service) ListNearby(ctx context.Context, actor domain.Actor, location domain.Location, radiusMeters int) ([]*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}
	if !location.IsValid() {
		return nil, ErrInvalidLocation
	}

	ids, err := s.geo.NearbyAlertIDs(ctx, location, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("nearby alert ids: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Alert{}, nil
	}

	alerts, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Preserve the index's distance ordering.
	byID := make(map[string]*domain.Alert, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
	}
	ordered := make([]*domain.Alert, 0, len(alerts))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// Acknowledge moves a pending alert to acknowledged and assigns the acting
// operator. Operators only.
func (s *Service) Acknowledge(ctx context.Context, actor domain.Actor, alertID string, estimatedMinutes *int) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}

	alert, err := s.repo.Acknowledge(ctx, alertID, actor.ID, estimatedMinutes)
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	s.emitter.EmitAlertEvent(alert.ID, alert.Status, alert.UpdatedAt)
	return alert, nil
}

// MarkResponding moves an acknowledged alert to responding. Operators only.
func (s *Service) MarkResponding(ctx context.Context, actor domain.Actor, alertID string) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}

	alert, err := s.repo.MarkResponding(ctx, alertID)
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	s.emitter.EmitAlertEvent(alert.ID, alert.Status, alert.UpdatedAt)
	return alert, nil
}

// UpdateServiceResponse records the outcome of one contact attempt. It
// never changes the alert-level status. Operators only.
func (s *Service) UpdateServiceResponse(ctx context.Context, actor domain.Actor, alertID, serviceID string, response domain.AttemptResponse, estimatedArrival *time.Time, notes *string) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}
	if !response.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, response)
	}

	if err := s.repo.UpdateAttemptResponse(ctx, alertID, serviceID, response, estimatedArrival, notes); err != nil {
		return nil, err
	}
	contactAttemptsTotal.WithLabelValues(string(response)).Inc()

	return s.repo.GetAlert(ctx, alertID)
}

// Resolve moves any non-terminal alert to resolved, recording resolution
// notes and the actual response time in whole minutes. Resolving an
// already resolved alert is a no-op success. Operators only.
func (s *Service) Resolve(ctx context.Context, actor domain.Actor, alertID, notes string) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}

	alert, err := s.repo.Resolve(ctx, alertID, actor.ID, notes, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return s.reapplyTerminal(ctx, alertID, domain.AlertStatusResolved)
		}
		return nil, err
	}

	alertsResolvedTotal.Inc()
	if alert.ActualResponseTimeMinutes != nil {
		responseTimeMinutes.Observe(float64(*alert.ActualResponseTimeMinutes))
	}
	s.emitter.EmitAlertEvent(alert.ID, alert.Status, alert.UpdatedAt)
	return alert, nil
}

// Cancel moves any non-terminal alert to cancelled. Cancelling an already
// cancelled alert is a no-op success. Allowed to operators and to the
// reporter on their own alert.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, alertID, reason string) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		alert, err := s.repo.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if alert.ReporterID != actor.ID {
			return nil, ErrForbidden
		}
	}

	alert, err := s.repo.Cancel(ctx, alertID, reason)
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return s.reapplyTerminal(ctx, alertID, domain.AlertStatusCancelled)
		}
		return nil, err
	}

	s.emitter.EmitAlertEvent(alert.ID, alert.Status, alert.UpdatedAt)
	return alert, nil
}

// UpdatePriority re-evaluates the triage priority of a non-terminal alert.
// Operators only.
func (s *Service) UpdatePriority(ctx context.Context, actor domain.Actor, alertID string, priority domain.Priority) (*domain.Alert, error) {
	if !actor.Role.IsOperator() {
		return nil, ErrForbidden
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPriority, priority)
	}

	alert, err := s.repo.UpdatePriority(ctx, alertID, priority)
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return alert, nil
}

// reapplyTerminal decides the loser's outcome after a lost terminal
// transition race. If the alert already sits in the wanted terminal state
// the call succeeds without side effects; any other state rejects the move.
func (s *Service) reapplyTerminal(ctx context.Context, alertID string, wanted domain.AlertStatus) (*domain.Alert, error) {
	alert, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == wanted {
		return alert, nil
	}
	return nil, ErrInvalidTransition
}
