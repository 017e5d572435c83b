package alerts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/pkg/httputil"
)

// Handler handles HTTP requests for the alerts module.
type Handler struct {
	dispatcher *Dispatcher
	service    *Service
	validator  *validator.Validate

	// defaultNearbyRadius is used when the nearby query omits radius_m.
	defaultNearbyRadius int
}

// NewHandler creates a new alerts handler.
func NewHandler(dispatcher *Dispatcher, service *Service, defaultNearbyRadius int) *Handler {
	return &Handler{
		dispatcher:          dispatcher,
		service:             service,
		validator:           validator.New(),
		defaultNearbyRadius: defaultNearbyRadius,
	}
}

// RegisterRoutes registers all alert routes. The router must already carry
// the auth middleware; per-route role checks happen in the service.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateAlert)
	r.Get("/", h.ListActive)
	r.Get("/nearby", h.ListNearby)
	r.Get("/{id}", h.GetAlert)
	r.Post("/{id}/acknowledge", h.Acknowledge)
	r.Post("/{id}/responding", h.MarkResponding)
	r.Post("/{id}/response", h.UpdateServiceResponse)
	r.Post("/{id}/resolve", h.Resolve)
	r.Post("/{id}/cancel", h.Cancel)
	r.Patch("/{id}/priority", h.UpdatePriority)
}

// decodeOptional decodes a request body that may be absent. An empty body
// leaves dst zero-valued; ContentLength is not consulted, so chunked
// requests decode like any other.
func decodeOptional(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidLocation, Status: http.StatusBadRequest},
	{Error: ErrInvalidEmergencyType, Status: http.StatusBadRequest},
	{Error: ErrInvalidPriority, Status: http.StatusBadRequest},
	{Error: ErrInvalidResponse, Status: http.StatusBadRequest},
	{Error: ErrDescriptionTooLong, Status: http.StatusBadRequest},
	{Error: ErrForbidden, Status: http.StatusForbidden},
	{Error: ErrAlertNotFound, Status: http.StatusNotFound},
	{Error: ErrAttemptNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrDuplicateAttempt, Status: http.StatusConflict},
}

// CreateAlertRequest represents the request body for raising an alert.
type CreateAlertRequest struct {
	Latitude       float64  `json:"latitude" validate:"min=-90,max=90"`
	Longitude      float64  `json:"longitude" validate:"min=-180,max=180"`
	Address        string   `json:"address" validate:"max=500"`
	AccuracyMeters *float64 `json:"accuracy_meters" validate:"omitempty,gte=0"`
	Type           string   `json:"type" validate:"required,oneof=medical police fire accident other"`
	Description    string   `json:"description" validate:"max=2000"`
	Priority       string   `json:"priority" validate:"omitempty,oneof=low medium high critical"`
}

// CreateAlertResponse is returned to the reporter after dispatch.
type CreateAlertResponse struct {
	Alert                 *domain.Alert `json:"alert"`
	ContactedServiceCount int           `json:"contacted_service_count"`
}

// CreateAlert handles POST /alerts.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, contacted, err := h.dispatcher.CreateAlert(r.Context(), CreateAlertInput{
		ReporterID: actor.ID,
		Location: domain.Location{
			Latitude:       req.Latitude,
			Longitude:      req.Longitude,
			Address:        req.Address,
			AccuracyMeters: req.AccuracyMeters,
		},
		Type:        domain.EmergencyType(req.Type),
		Description: req.Description,
		Priority:    domain.Priority(req.Priority),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, CreateAlertResponse{
		Alert:                 alert,
		ContactedServiceCount: contacted,
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	alert, err := h.service.GetAlert(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// ListActive handles GET /alerts.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	alerts, err := h.service.ListActive(r.Context(), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alerts)
}

// ListNearby handles GET /alerts/nearby?lat=&lng=&radius_m=.
func (h *Handler) ListNearby(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "lat must be a number")
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "lng must be a number")
		return
	}

	radius := h.defaultNearbyRadius
	if raw := r.URL.Query().Get("radius_m"); raw != "" {
		radius, err = strconv.Atoi(raw)
		if err != nil || radius <= 0 {
			httputil.Error(w, http.StatusBadRequest, "radius_m must be a positive integer")
			return
		}
	}

	alerts, err := h.service.ListNearby(r.Context(), actor, domain.Location{Latitude: lat, Longitude: lng}, radius)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alerts)
}

// AcknowledgeRequest represents the request body for acknowledging an alert.
type AcknowledgeRequest struct {
	EstimatedResponseTimeMinutes *int `json:"estimated_response_time_minutes" validate:"omitempty,gte=0"`
}

// Acknowledge handles POST /alerts/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AcknowledgeRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.service.Acknowledge(r.Context(), actor, chi.URLParam(r, "id"), req.EstimatedResponseTimeMinutes)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// MarkResponding handles POST /alerts/{id}/responding.
func (h *Handler) MarkResponding(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	alert, err := h.service.MarkResponding(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// ServiceResponseRequest represents the request body for recording a
// service's response to a contact attempt.
type ServiceResponseRequest struct {
	ServiceID        string     `json:"service_id" validate:"required"`
	Response         string     `json:"response" validate:"required,oneof=pending accepted declined unavailable"`
	EstimatedArrival *time.Time `json:"estimated_arrival"`
	Notes            *string    `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateServiceResponse handles POST /alerts/{id}/response.
func (h *Handler) UpdateServiceResponse(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ServiceResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.service.UpdateServiceResponse(r.Context(), actor, chi.URLParam(r, "id"),
		req.ServiceID, domain.AttemptResponse(req.Response), req.EstimatedArrival, req.Notes)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// ResolveRequest represents the request body for resolving an alert.
type ResolveRequest struct {
	ResolutionNotes string `json:"resolution_notes" validate:"max=2000"`
}

// Resolve handles POST /alerts/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ResolveRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.service.Resolve(r.Context(), actor, chi.URLParam(r, "id"), req.ResolutionNotes)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// CancelRequest represents the request body for cancelling an alert.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// Cancel handles POST /alerts/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CancelRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.service.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}

// UpdatePriorityRequest represents the request body for re-evaluating
// priority.
type UpdatePriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=low medium high critical"`
}

// UpdatePriority handles PATCH /alerts/{id}/priority.
func (h *Handler) UpdatePriority(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdatePriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.service.UpdatePriority(r.Context(), actor, chi.URLParam(r, "id"), domain.Priority(req.Priority))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, alert)
}
