package directory

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/pkg/httputil"
)

// GeoFeeder receives service positions published by the directory
// collaborator.
type GeoFeeder interface {
	RegisterService(ctx context.Context, serviceID, serviceType string, location domain.Location) error
	DeregisterService(ctx context.Context, serviceID, serviceType string) error
}

// Handler handles the service-position feed. The directory collaborator
// pushes positions here; dispatch only ever queries them by distance.
type Handler struct {
	geo       GeoFeeder
	validator *validator.Validate
}

// NewHandler creates a new directory handler.
func NewHandler(geo GeoFeeder) *Handler {
	return &Handler{
		geo:       geo,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the feed routes (admin only).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/services/{id}", h.RegisterService)
	r.Delete("/services/{id}", h.DeregisterService)
}

// RegisterServiceRequest represents the request body for publishing a
// service position.
type RegisterServiceRequest struct {
	Type      string  `json:"type" validate:"required,oneof=hospital police fire"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// RegisterService handles PUT /directory/services/{id}.
func (h *Handler) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req RegisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	location := domain.Location{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.geo.RegisterService(r.Context(), chi.URLParam(r, "id"), req.Type, location); err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeregisterServiceRequest carries the type set of the service being
// removed.
type DeregisterServiceRequest struct {
	Type string `json:"type" validate:"required,oneof=hospital police fire"`
}

// DeregisterService handles DELETE /directory/services/{id}.
func (h *Handler) DeregisterService(w http.ResponseWriter, r *http.Request) {
	var req DeregisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.geo.DeregisterService(r.Context(), chi.URLParam(r, "id"), req.Type); err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
