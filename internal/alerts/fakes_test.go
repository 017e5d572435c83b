package alerts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// fakeRepo is an in-memory Repository with the same transition semantics
// as the postgres implementation.
type fakeRepo struct {
	mu     sync.Mutex
	alerts map[string]*domain.Alert

	failCreate bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{alerts: make(map[string]*domain.Alert)}
}

func (r *fakeRepo) CreateAlert(_ context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return errors.New("storage down")
	}
	stored := *alert
	r.alerts[alert.ID] = &stored
	return nil
}

func (r *fakeRepo) GetAlert(_ context.Context, id string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return copyAlert(a), nil
}

func (r *fakeRepo) ListActive(_ context.Context) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*domain.Alert, 0)
	for _, a := range r.alerts {
		if !a.Status.IsTerminal() {
			result = append(result, copyAlert(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *fakeRepo) ListByIDs(_ context.Context, ids []string) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*domain.Alert, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.alerts[id]; ok {
			result = append(result, copyAlert(a))
		}
	}
	return result, nil
}

func (r *fakeRepo) AppendContactAttempts(_ context.Context, alertID string, attempts []domain.ContactAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	for _, att := range attempts {
		if a.HasAttempt(att.ServiceID) {
			return ErrDuplicateAttempt
		}
		a.ContactAttempts = append(a.ContactAttempts, att)
	}
	return nil
}

func (r *fakeRepo) UpdateAttemptResponse(_ context.Context, alertID, serviceID string, response domain.AttemptResponse, estimatedArrival *time.Time, notes *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	attempt := a.AttemptFor(serviceID)
	if attempt == nil {
		return ErrAttemptNotFound
	}
	attempt.Response = response
	if estimatedArrival != nil {
		attempt.EstimatedArrival = estimatedArrival
	}
	if notes != nil {
		attempt.Notes = *notes
	}
	return nil
}

func (r *fakeRepo) CreateNotificationRecord(ctx context.Context, alertID string, record domain.NotificationRecord) error {
	// the postgres store refuses writes on an expired context
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	if a.NotificationFor(record.Channel) != nil {
		return nil
	}
	a.Notifications = append(a.Notifications, record)
	return nil
}

func (r *fakeRepo) Acknowledge(_ context.Context, alertID, operatorID string, estimatedMinutes *int) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if a.Status != domain.AlertStatusPending {
		return nil, ErrTransitionConflict
	}
	a.Status = domain.AlertStatusAcknowledged
	a.AssignedOperator = &operatorID
	if estimatedMinutes != nil {
		a.EstimatedResponseTimeMinutes = estimatedMinutes
	}
	a.UpdatedAt = time.Now().UTC()
	return copyAlert(a), nil
}

func (r *fakeRepo) MarkResponding(_ context.Context, alertID string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if a.Status != domain.AlertStatusAcknowledged {
		return nil, ErrTransitionConflict
	}
	a.Status = domain.AlertStatusResponding
	a.UpdatedAt = time.Now().UTC()
	return copyAlert(a), nil
}

func (r *fakeRepo) Resolve(_ context.Context, alertID, operatorID, notes string, resolvedAt time.Time) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if a.Status.IsTerminal() {
		return nil, ErrTransitionConflict
	}
	a.Status = domain.AlertStatusResolved
	if a.AssignedOperator == nil {
		a.AssignedOperator = &operatorID
	}
	a.ResolutionNotes = notes
	a.ResolvedAt = &resolvedAt
	minutes := domain.ResponseTimeMinutes(a.CreatedAt, resolvedAt)
	a.ActualResponseTimeMinutes = &minutes
	a.UpdatedAt = time.Now().UTC()
	return copyAlert(a), nil
}

func (r *fakeRepo) Cancel(_ context.Context, alertID, reason string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if a.Status.IsTerminal() {
		return nil, ErrTransitionConflict
	}
	a.Status = domain.AlertStatusCancelled
	a.ResolutionNotes = reason
	a.UpdatedAt = time.Now().UTC()
	return copyAlert(a), nil
}

func (r *fakeRepo) UpdatePriority(_ context.Context, alertID string, priority domain.Priority) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if a.Status.IsTerminal() {
		return nil, ErrTransitionConflict
	}
	a.Priority = priority
	a.UpdatedAt = time.Now().UTC()
	return copyAlert(a), nil
}

func copyAlert(a *domain.Alert) *domain.Alert {
	c := *a
	c.ContactAttempts = append([]domain.ContactAttempt(nil), a.ContactAttempts...)
	c.Notifications = append([]domain.NotificationRecord(nil), a.Notifications...)
	return &c
}

// fakeGeo serves a canned candidate list.
type fakeGeo struct {
	mu         sync.Mutex
	candidates []domain.NearbyService
	nearbyIDs  []string
	indexed    []string
	findErr    error

	lastTypeFilter string
	lastRadius     int
}

func (g *fakeGeo) FindNearby(_ context.Context, _ domain.Location, radiusMeters int, typeFilter string) ([]domain.NearbyService, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTypeFilter = typeFilter
	g.lastRadius = radiusMeters
	if g.findErr != nil {
		return nil, g.findErr
	}
	return append([]domain.NearbyService(nil), g.candidates...), nil
}

func (g *fakeGeo) IndexAlertLocation(_ context.Context, alertID string, _ domain.Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexed = append(g.indexed, alertID)
	return nil
}

func (g *fakeGeo) NearbyAlertIDs(_ context.Context, _ domain.Location, _ int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.nearbyIDs...), nil
}

// fakeGateway records every notify call; failFor addresses error out and
// blockFor addresses hang until the caller's context expires.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []notifyCall
	failFor  map[string]bool
	blockFor map[string]bool
}

type notifyCall struct {
	channel   domain.NotificationChannel
	recipient string
	subject   string
	body      string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failFor:  make(map[string]bool),
		blockFor: make(map[string]bool),
	}
}

func (g *fakeGateway) Notify(ctx context.Context, channel domain.NotificationChannel, recipient, subject, body string) error {
	g.mu.Lock()
	g.calls = append(g.calls, notifyCall{channel: channel, recipient: recipient, subject: subject, body: body})
	fail := g.failFor[recipient]
	block := g.blockFor[recipient]
	g.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("carrier rejected")
	}
	return nil
}

func (g *fakeGateway) recipients(channel domain.NotificationChannel) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.channel == channel {
			out = append(out, c.recipient)
		}
	}
	return out
}

// fakeContacts returns a fixed address book.
type fakeContacts struct {
	contacts []domain.PersonalContact
	err      error
}

func (c *fakeContacts) PersonalContacts(_ context.Context, _ string) ([]domain.PersonalContact, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.contacts, nil
}

// fakeEmitter records lifecycle events.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

type emittedEvent struct {
	alertID string
	status  domain.AlertStatus
}

func (e *fakeEmitter) EmitAlertEvent(alertID string, status domain.AlertStatus, _ time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emittedEvent{alertID: alertID, status: status})
}

func (e *fakeEmitter) statuses() []domain.AlertStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AlertStatus, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.status
	}
	return out
}
