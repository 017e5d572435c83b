// Package postgres provides the PostgreSQL implementation of the alerts
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirenhq/sos-dispatch/internal/alerts"
	"github.com/sirenhq/sos-dispatch/internal/domain"
)

const alertColumns = `
	id, reporter_id, latitude, longitude, address, accuracy_meters,
	type, description, status, priority, assigned_operator, resolution_notes,
	estimated_response_time_minutes, actual_response_time_minutes,
	created_at, updated_at, resolved_at`

// Repository implements alerts.Repository using PostgreSQL. Status
// transitions are conditional updates guarded by the legal source statuses,
// so two racing writers serialize on the row and exactly one wins.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateAlert inserts a new alert record.
func (r *Repository) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, reporter_id, latitude, longitude, address, accuracy_meters,
			type, description, status, priority, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		alert.ID,
		alert.ReporterID,
		alert.Location.Latitude,
		alert.Location.Longitude,
		alert.Location.Address,
		alert.Location.AccuracyMeters,
		alert.Type,
		alert.Description,
		alert.Status,
		alert.Priority,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert with its attempts and notification records.
func (r *Repository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := `SELECT` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerts.ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}

	if err := r.loadChildren(ctx, []*domain.Alert{alert}); err != nil {
		return nil, err
	}
	return alert, nil
}

// ListActive retrieves non-terminal alerts, newest first.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.Alert, error) {
	query := `SELECT` + alertColumns + `
		FROM alerts
		WHERE status IN ('pending', 'acknowledged', 'responding')
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	result, err := collectAlerts(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByIDs retrieves the alerts with the given ids; unknown ids are
// silently skipped. Order is unspecified.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Alert, error) {
	if len(ids) == 0 {
		return []*domain.Alert{}, nil
	}

	query := `SELECT` + alertColumns + ` FROM alerts WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list alerts by ids: %w", err)
	}
	defer rows.Close()

	result, err := collectAlerts(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendContactAttempts inserts attempts preserving their order.
func (r *Repository) AppendContactAttempts(ctx context.Context, alertID string, attempts []domain.ContactAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var base int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM contact_attempts WHERE alert_id = $1`,
		alertID).Scan(&base)
	if err != nil {
		return fmt.Errorf("next attempt position: %w", err)
	}

	query := `
		INSERT INTO contact_attempts (alert_id, service_id, position, contacted_at, response, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i, a := range attempts {
		if _, err := tx.Exec(ctx, query, alertID, a.ServiceID, base+i, a.ContactedAt, a.Response, a.Notes); err != nil {
			if isUniqueViolation(err) {
				return alerts.ErrDuplicateAttempt
			}
			return fmt.Errorf("insert contact attempt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateAttemptResponse mutates the response fields of one attempt.
func (r *Repository) UpdateAttemptResponse(ctx context.Context, alertID, serviceID string, response domain.AttemptResponse, estimatedArrival *time.Time, notes *string) error {
	query := `
		UPDATE contact_attempts
		SET response = $3,
		    estimated_arrival = COALESCE($4, estimated_arrival),
		    notes = COALESCE($5, notes)
		WHERE alert_id = $1 AND service_id = $2
	`
	tag, err := r.db.Exec(ctx, query, alertID, serviceID, response, estimatedArrival, notes)
	if err != nil {
		return fmt.Errorf("update attempt response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := r.alertExists(ctx, alertID); err != nil {
			return err
		}
		return alerts.ErrAttemptNotFound
	}
	return nil
}

// CreateNotificationRecord persists a per-channel record; a record already
// written for the channel stays untouched.
func (r *Repository) CreateNotificationRecord(ctx context.Context, alertID string, record domain.NotificationRecord) error {
	query := `
		INSERT INTO notification_records (alert_id, channel, sent, sent_at, recipients, subject, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id, channel) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		alertID, record.Channel, record.Sent, record.SentAt, record.Recipients, record.Subject, record.Message)
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}

// Acknowledge moves a pending alert to acknowledged.
func (r *Repository) Acknowledge(ctx context.Context, alertID, operatorID string, estimatedMinutes *int) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'acknowledged',
		    assigned_operator = $2,
		    estimated_response_time_minutes = COALESCE($3, estimated_response_time_minutes),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING` + alertColumns

	return r.conditionalUpdate(ctx, alertID, query, alertID, operatorID, estimatedMinutes)
}

// MarkResponding moves an acknowledged alert to responding.
func (r *Repository) MarkResponding(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'responding', updated_at = now()
		WHERE id = $1 AND status = 'acknowledged'
		RETURNING` + alertColumns

	return r.conditionalUpdate(ctx, alertID, query, alertID)
}

// Resolve moves a non-terminal alert to resolved. The response time is
// computed inside the same UPDATE so no reader ever sees a resolved alert
// without it.
func (r *Repository) Resolve(ctx context.Context, alertID, operatorID, notes string, resolvedAt time.Time) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'resolved',
		    assigned_operator = COALESCE(assigned_operator, $2),
		    resolution_notes = $3,
		    resolved_at = $4,
		    actual_response_time_minutes = ROUND(EXTRACT(EPOCH FROM ($4::timestamptz - created_at)) / 60.0)::int,
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'acknowledged', 'responding')
		RETURNING` + alertColumns

	return r.conditionalUpdate(ctx, alertID, query, alertID, operatorID, notes, resolvedAt)
}

// Cancel moves a non-terminal alert to cancelled.
func (r *Repository) Cancel(ctx context.Context, alertID, reason string) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET status = 'cancelled',
		    resolution_notes = $2,
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'acknowledged', 'responding')
		RETURNING` + alertColumns

	return r.conditionalUpdate(ctx, alertID, query, alertID, reason)
}

// UpdatePriority re-evaluates the priority of a non-terminal alert.
func (r *Repository) UpdatePriority(ctx context.Context, alertID string, priority domain.Priority) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET priority = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'acknowledged', 'responding')
		RETURNING` + alertColumns

	return r.conditionalUpdate(ctx, alertID, query, alertID, priority)
}

// conditionalUpdate runs a guarded status update. Zero matched rows means
// either the alert does not exist or its status failed the guard; the two
// are told apart by a follow-up existence check.
func (r *Repository) conditionalUpdate(ctx context.Context, alertID, query string, args ...any) (*domain.Alert, error) {
	alert, err := scanAlert(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := r.alertExists(ctx, alertID); err != nil {
				return nil, err
			}
			return nil, alerts.ErrTransitionConflict
		}
		return nil, fmt.Errorf("update alert: %w", err)
	}

	if err := r.loadChildren(ctx, []*domain.Alert{alert}); err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *Repository) alertExists(ctx context.Context, alertID string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, alertID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check alert exists: %w", err)
	}
	if !exists {
		return alerts.ErrAlertNotFound
	}
	return nil
}

// loadChildren attaches contact attempts and notification records to the
// given alerts in one query per child table.
func (r *Repository) loadChildren(ctx context.Context, list []*domain.Alert) error {
	if len(list) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Alert, len(list))
	ids := make([]string, 0, len(list))
	for _, a := range list {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT alert_id, service_id, contacted_at, response, estimated_arrival, notes
		FROM contact_attempts
		WHERE alert_id = ANY($1)
		ORDER BY alert_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load contact attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alertID string
		var a domain.ContactAttempt
		if err := rows.Scan(&alertID, &a.ServiceID, &a.ContactedAt, &a.Response, &a.EstimatedArrival, &a.Notes); err != nil {
			return fmt.Errorf("scan contact attempt: %w", err)
		}
		if alert, ok := byID[alertID]; ok {
			alert.ContactAttempts = append(alert.ContactAttempts, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate contact attempts: %w", err)
	}

	nrows, err := r.db.Query(ctx, `
		SELECT alert_id, channel, sent, sent_at, recipients, subject, message
		FROM notification_records
		WHERE alert_id = ANY($1)
		ORDER BY alert_id, channel
	`, ids)
	if err != nil {
		return fmt.Errorf("load notification records: %w", err)
	}
	defer nrows.Close()

	for nrows.Next() {
		var alertID string
		var n domain.NotificationRecord
		if err := nrows.Scan(&alertID, &n.Channel, &n.Sent, &n.SentAt, &n.Recipients, &n.Subject, &n.Message); err != nil {
			return fmt.Errorf("scan notification record: %w", err)
		}
		if alert, ok := byID[alertID]; ok {
			alert.Notifications = append(alert.Notifications, n)
		}
	}
	if err := nrows.Err(); err != nil {
		return fmt.Errorf("iterate notification records: %w", err)
	}

	return nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var alert domain.Alert
	err := row.Scan(
		&alert.ID,
		&alert.ReporterID,
		&alert.Location.Latitude,
		&alert.Location.Longitude,
		&alert.Location.Address,
		&alert.Location.AccuracyMeters,
		&alert.Type,
		&alert.Description,
		&alert.Status,
		&alert.Priority,
		&alert.AssignedOperator,
		&alert.ResolutionNotes,
		&alert.EstimatedResponseTimeMinutes,
		&alert.ActualResponseTimeMinutes,
		&alert.CreatedAt,
		&alert.UpdatedAt,
		&alert.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func collectAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	result := make([]*domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		result = append(result, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
