package domain

import (
	"math"
	"time"
)

// EmergencyType classifies what kind of help an alert is asking for.
type EmergencyType string

// Emergency types.
const (
	EmergencyTypeMedical  EmergencyType = "medical"
	EmergencyTypePolice   EmergencyType = "police"
	EmergencyTypeFire     EmergencyType = "fire"
	EmergencyTypeAccident EmergencyType = "accident"
	EmergencyTypeOther    EmergencyType = "other"
)

// IsValid checks if the emergency type is valid.
func (t EmergencyType) IsValid() bool {
	switch t {
	case EmergencyTypeMedical, EmergencyTypePolice, EmergencyTypeFire,
		EmergencyTypeAccident, EmergencyTypeOther:
		return true
	}
	return false
}

// PreferredServiceType returns the directory service type to prefer when
// selecting responders for this emergency type. Empty string means no filter.
func (t EmergencyType) PreferredServiceType() string {
	switch t {
	case EmergencyTypeMedical:
		return "hospital"
	case EmergencyTypePolice:
		return "police"
	case EmergencyTypeFire:
		return "fire"
	}
	return ""
}

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

// Alert statuses.
const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResponding   AlertStatus = "responding"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusCancelled    AlertStatus = "cancelled"
)

// IsValid checks if the alert status is valid.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusPending, AlertStatusAcknowledged, AlertStatusResponding,
		AlertStatusResolved, AlertStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Cancellation is reachable from any non-terminal state; resolution from any
// non-terminal state; the acknowledged/responding path is strictly ordered.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case AlertStatusAcknowledged:
		return s == AlertStatusPending
	case AlertStatusResponding:
		return s == AlertStatusAcknowledged
	case AlertStatusResolved, AlertStatusCancelled:
		return true
	}
	return false
}

// Priority represents the triage priority of an alert.
type Priority string

// Priorities.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DefaultPriority is assigned when the reporter does not supply one.
const DefaultPriority = PriorityHigh

// Location is the reported position of an emergency. Immutable once the
// alert is created; a new location requires a new alert.
type Location struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Address        string   `json:"address,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

// IsValid checks coordinate ranges.
func (l Location) IsValid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// AttemptResponse is the recorded outcome of contacting one service.
type AttemptResponse string

// Attempt responses.
const (
	AttemptResponsePending     AttemptResponse = "pending"
	AttemptResponseAccepted    AttemptResponse = "accepted"
	AttemptResponseDeclined    AttemptResponse = "declined"
	AttemptResponseUnavailable AttemptResponse = "unavailable"
)

// IsValid checks if the attempt response is valid.
func (r AttemptResponse) IsValid() bool {
	switch r {
	case AttemptResponsePending, AttemptResponseAccepted,
		AttemptResponseDeclined, AttemptResponseUnavailable:
		return true
	}
	return false
}

// ContactAttempt records one emergency service being notified about one alert.
// Attempts are append-only; only the response fields are mutated afterwards.
type ContactAttempt struct {
	ServiceID        string          `json:"service_id"`
	ContactedAt      time.Time       `json:"contacted_at"`
	Response         AttemptResponse `json:"response"`
	EstimatedArrival *time.Time      `json:"estimated_arrival,omitempty"`
	Notes            string          `json:"notes,omitempty"`
}

// NotificationChannel identifies how a personal emergency contact is reached.
type NotificationChannel string

// Notification channels.
const (
	ChannelSMS   NotificationChannel = "sms"
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// IsValid checks if the notification channel is valid.
func (c NotificationChannel) IsValid() bool {
	return c == ChannelSMS || c == ChannelEmail || c == ChannelPush
}

// NotificationRecord tracks whether a channel was used to notify the
// reporter's personal emergency contacts. Write-once per channel per alert.
type NotificationRecord struct {
	Channel    NotificationChannel `json:"channel"`
	Sent       bool                `json:"sent"`
	SentAt     *time.Time          `json:"sent_at,omitempty"`
	Recipients []string            `json:"recipients,omitempty"`
	Subject    string              `json:"subject,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// Alert is a single emergency report with its lifecycle and
// contacted-service history. The alert owns its attempts and notification
// records; reporter and services are held by reference only.
type Alert struct {
	ID               string               `json:"id"`
	ReporterID       string               `json:"reporter_id"`
	Location         Location             `json:"location"`
	Type             EmergencyType        `json:"type"`
	Description      string               `json:"description,omitempty"`
	Status           AlertStatus          `json:"status"`
	Priority         Priority             `json:"priority"`
	ContactAttempts  []ContactAttempt     `json:"contact_attempts"`
	Notifications    []NotificationRecord `json:"notifications,omitempty"`
	AssignedOperator *string              `json:"assigned_operator,omitempty"`
	ResolutionNotes  string               `json:"resolution_notes,omitempty"`

	EstimatedResponseTimeMinutes *int `json:"estimated_response_time_minutes,omitempty"`
	ActualResponseTimeMinutes    *int `json:"actual_response_time_minutes,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AttemptFor returns the contact attempt for the given service, or nil.
func (a *Alert) AttemptFor(serviceID string) *ContactAttempt {
	for i := range a.ContactAttempts {
		if a.ContactAttempts[i].ServiceID == serviceID {
			return &a.ContactAttempts[i]
		}
	}
	return nil
}

// HasAttempt reports whether the alert already contacted the given service.
func (a *Alert) HasAttempt(serviceID string) bool {
	return a.AttemptFor(serviceID) != nil
}

// NotificationFor returns the notification record for the channel, or nil.
func (a *Alert) NotificationFor(channel NotificationChannel) *NotificationRecord {
	for i := range a.Notifications {
		if a.Notifications[i].Channel == channel {
			return &a.Notifications[i]
		}
	}
	return nil
}

// ResponseTimeMinutes computes the whole-minute response time between
// creation and resolution, rounding half-up.
func ResponseTimeMinutes(createdAt, resolvedAt time.Time) int {
	return int(math.Floor(resolvedAt.Sub(createdAt).Minutes() + 0.5))
}
