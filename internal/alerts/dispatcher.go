// Package alerts implements the emergency alert core: dispatch of new
// alerts to nearby services, the alert lifecycle state machine, and the
// operator-facing query surface.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/pkg/ctxlog"
)

// MaxDescriptionLength bounds the free-text description of an alert.
const MaxDescriptionLength = 2000

// recordStoreTimeout bounds the notification record writes that follow the
// fan-out.
const recordStoreTimeout = 5 * time.Second

// DispatchSettings controls nearest-service selection and fan-out.
type DispatchSettings struct {
	// RadiusMeters is the search radius for candidate services.
	RadiusMeters int
	// MaxServices caps how many nearest services are contacted.
	MaxServices int
	// FanoutTimeout bounds the whole concurrent fan-out; gateway calls
	// still in flight when it fires are abandoned and their attempts stay
	// pending.
	FanoutTimeout time.Duration
	// WaitForFanout makes CreateAlert block until the fan-out finished or
	// timed out. When false the fan-out runs in the background and the
	// returned alert carries attempts that are all still pending.
	WaitForFanout bool
}

// Dispatcher creates alerts and fans out notifications to the nearest
// emergency services and the reporter's personal contacts.
type Dispatcher struct {
	repo     Repository
	geo      GeoIndex
	gateway  NotificationGateway
	contacts ContactDirectory
	emitter  EventEmitter
	settings DispatchSettings
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(repo Repository, geo GeoIndex, gateway NotificationGateway, contacts ContactDirectory, emitter EventEmitter, settings DispatchSettings) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		geo:      geo,
		gateway:  gateway,
		contacts: contacts,
		emitter:  emitter,
		settings: settings,
	}
}

// CreateAlertInput holds data for raising a new alert.
type CreateAlertInput struct {
	ReporterID  string
	Location    domain.Location
	Type        domain.EmergencyType
	Description string
	Priority    domain.Priority // empty means DefaultPriority
}

func (in *CreateAlertInput) validate() error {
	if !in.Location.IsValid() {
		return ErrInvalidLocation
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidEmergencyType, in.Type)
	}
	if in.Priority != "" && !in.Priority.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, in.Priority)
	}
	if len(in.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}

// CreateAlert persists a new pending alert, selects the nearest services,
// and notifies them and the reporter's personal contacts concurrently.
// Selection or notification failures never fail the call; the alert exists
// as soon as the initial record is durable. Returns the alert and the
// number of services contacted.
func (d *Dispatcher) CreateAlert(ctx context.Context, input CreateAlertInput) (*domain.Alert, int, error) {
	if err := input.validate(); err != nil {
		return nil, 0, err
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.DefaultPriority
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:          uuid.NewString(),
		ReporterID:  input.ReporterID,
		Location:    input.Location,
		Type:        input.Type,
		Description: input.Description,
		Status:      domain.AlertStatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.repo.CreateAlert(ctx, alert); err != nil {
		return nil, 0, fmt.Errorf("create alert: %w", err)
	}
	alertsCreatedTotal.WithLabelValues(string(alert.Type)).Inc()

	logger := ctxlog.FromContext(ctx).With("alert_id", alert.ID)

	if err := d.geo.IndexAlertLocation(ctx, alert.ID, alert.Location); err != nil {
		logger.Warn("failed to index alert location", "error", err)
	}

	alert.ContactAttempts = d.selectAndRecordServices(ctx, alert)

	if d.settings.WaitForFanout {
		d.fanOut(ctx, alert)
	} else {
		// Hand the background fan-out its own copy so it never races
		// with the caller serializing the returned alert.
		detached := *alert
		go d.fanOut(context.WithoutCancel(ctx), &detached)
	}

	d.emitter.EmitAlertEvent(alert.ID, alert.Status, alert.CreatedAt)

	return alert, len(alert.ContactAttempts), nil
}

// selectAndRecordServices queries the geo index for candidates, takes the
// closest MaxServices distinct services, and persists their attempts in
// distance order. An unreachable index or failed persist degrades to zero
// contacted services.
func (d *Dispatcher) selectAndRecordServices(ctx context.Context, alert *domain.Alert) []domain.ContactAttempt {
	logger := ctxlog.FromContext(ctx).With("alert_id", alert.ID)

	candidates, err := d.geo.FindNearby(ctx, alert.Location, d.settings.RadiusMeters, alert.Type.PreferredServiceType())
	if err != nil {
		logger.Warn("geo index unavailable, alert created without contacted services", "error", err)
		return nil
	}

	seen := make(map[string]struct{}, d.settings.MaxServices)
	attempts := make([]domain.ContactAttempt, 0, d.settings.MaxServices)
	now := time.Now().UTC()
	for _, c := range candidates {
		if _, dup := seen[c.ServiceID]; dup {
			continue
		}
		seen[c.ServiceID] = struct{}{}
		attempts = append(attempts, domain.ContactAttempt{
			ServiceID:   c.ServiceID,
			ContactedAt: now,
			Response:    domain.AttemptResponsePending,
		})
		if len(attempts) == d.settings.MaxServices {
			break
		}
	}
	if len(attempts) == 0 {
		return nil
	}

	if err := d.repo.AppendContactAttempts(ctx, alert.ID, attempts); err != nil {
		logger.Error("failed to persist contact attempts", "error", err)
		return nil
	}
	return attempts
}

// fanOut notifies every selected service and every personal contact of the
// reporter concurrently under one shared deadline. Individual gateway
// failures are logged and absorbed; a slow recipient never blocks the rest
// past the deadline.
func (d *Dispatcher) fanOut(ctx context.Context, alert *domain.Alert) {
	start := time.Now()
	defer func() {
		fanoutDuration.Observe(time.Since(start).Seconds())
	}()

	logger := ctxlog.FromContext(ctx).With("alert_id", alert.ID)

	// Outlive the request context so an early client disconnect does not
	// abort notifications already owed to the recipients.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.settings.FanoutTimeout)
	defer cancel()

	subject, body := composeMessage(alert)

	var wg sync.WaitGroup
	for _, attempt := range alert.ContactAttempts {
		wg.Add(1)
		go func(serviceID string) {
			defer wg.Done()
			err := d.gateway.Notify(nctx, domain.ChannelPush, serviceID, subject, body)
			if err != nil {
				notificationsSentTotal.WithLabelValues(string(domain.ChannelPush), "error").Inc()
				logger.Warn("service notification not accepted", "service_id", serviceID, "error", err)
				return
			}
			notificationsSentTotal.WithLabelValues(string(domain.ChannelPush), "ok").Inc()
		}(attempt.ServiceID)
	}

	contacts, err := d.contacts.PersonalContacts(ctx, alert.ReporterID)
	if err != nil {
		logger.Warn("failed to load personal contacts", "error", err)
	}

	type channelOutcome struct {
		recipients []string
		sent       bool
	}
	outcomes := make(map[domain.NotificationChannel]*channelOutcome)
	var mu sync.Mutex

	for _, contact := range contacts {
		if !contact.Channel.IsValid() {
			continue
		}
		mu.Lock()
		outcome, ok := outcomes[contact.Channel]
		if !ok {
			outcome = &channelOutcome{}
			outcomes[contact.Channel] = outcome
		}
		outcome.recipients = append(outcome.recipients, contact.Address)
		mu.Unlock()

		wg.Add(1)
		go func(channel domain.NotificationChannel, address string) {
			defer wg.Done()
			err := d.gateway.Notify(nctx, channel, address, subject, body)
			if err != nil {
				notificationsSentTotal.WithLabelValues(string(channel), "error").Inc()
				logger.Warn("personal contact notification not accepted",
					"channel", channel, "error", err)
				return
			}
			notificationsSentTotal.WithLabelValues(string(channel), "ok").Inc()
			mu.Lock()
			outcome.sent = true
			mu.Unlock()
		}(contact.Channel, contact.Address)
	}

	wg.Wait()

	// A timed-out fan-out leaves nctx already expired; the records still
	// have to land, so they get their own store deadline.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(nctx), recordStoreTimeout)
	defer scancel()

	for channel, outcome := range outcomes {
		record := domain.NotificationRecord{
			Channel:    channel,
			Sent:       outcome.sent,
			Recipients: outcome.recipients,
			Subject:    subject,
			Message:    body,
		}
		if outcome.sent {
			sentAt := time.Now().UTC()
			record.SentAt = &sentAt
		}
		if err := d.repo.CreateNotificationRecord(sctx, alert.ID, record); err != nil {
			logger.Error("failed to persist notification record", "channel", channel, "error", err)
			continue
		}
		alert.Notifications = append(alert.Notifications, record)
	}
}

// composeMessage builds the outbound subject and body for an alert.
func composeMessage(alert *domain.Alert) (subject, body string) {
	subject = fmt.Sprintf("EMERGENCY: %s alert", alert.Type)

	where := alert.Location.Address
	if where == "" {
		where = fmt.Sprintf("%.5f, %.5f", alert.Location.Latitude, alert.Location.Longitude)
	}
	body = fmt.Sprintf("%s emergency reported at %s (priority %s).", alert.Type, where, alert.Priority)
	if alert.Description != "" {
		body += " " + alert.Description
	}
	return subject, body
}
