package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/pkg/httputil"
)

type handlerFixture struct {
	repo   *fakeRepo
	router chi.Router
}

func newHandlerFixture() *handlerFixture {
	repo := newFakeRepo()
	geo := &fakeGeo{}
	emitter := &fakeEmitter{}
	d := NewDispatcher(repo, geo, newFakeGateway(), &fakeContacts{}, emitter, testSettings())
	s := NewService(repo, geo, emitter)

	router := chi.NewRouter()
	NewHandler(d, s, 5000).RegisterRoutes(router)
	return &handlerFixture{repo: repo, router: router}
}

func (f *handlerFixture) seedAlert(t *testing.T) *domain.Alert {
	t.Helper()
	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:         uuid.NewString(),
		ReporterID: reporter.ID,
		Location:   domain.Location{Latitude: 28.6139, Longitude: 77.2090},
		Type:       domain.EmergencyTypeMedical,
		Status:     domain.AlertStatusPending,
		Priority:   domain.PriorityHigh,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.repo.CreateAlert(context.Background(), alert))
	return alert
}

func (f *handlerFixture) do(t *testing.T, actor domain.Actor, method, target, body string, chunked bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if chunked {
		// a chunked transfer carries no length up front
		req.ContentLength = -1
	}
	req = req.WithContext(httputil.WithActor(req.Context(), actor))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCancelChunkedBodyCarriesReason(t *testing.T) {
	f := newHandlerFixture()
	alert := f.seedAlert(t)

	rec := f.do(t, reporter, http.MethodPost, "/"+alert.ID+"/cancel",
		`{"reason":"false alarm"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusCancelled, stored.Status)
	assert.Equal(t, "false alarm", stored.ResolutionNotes)
}

func TestResolveChunkedBodyCarriesNotes(t *testing.T) {
	f := newHandlerFixture()
	alert := f.seedAlert(t)

	rec := f.do(t, operator, http.MethodPost, "/"+alert.ID+"/resolve",
		`{"resolution_notes":"crew on scene, situation contained"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusResolved, stored.Status)
	assert.Equal(t, "crew on scene, situation contained", stored.ResolutionNotes)
}

func TestAcknowledgeEmptyBody(t *testing.T) {
	f := newHandlerFixture()
	alert := f.seedAlert(t)

	rec := f.do(t, operator, http.MethodPost, "/"+alert.ID+"/acknowledge", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusAcknowledged, stored.Status)
	assert.Nil(t, stored.EstimatedResponseTimeMinutes)
}

func TestAcknowledgeMalformedBody(t *testing.T) {
	f := newHandlerFixture()
	alert := f.seedAlert(t)

	rec := f.do(t, operator, http.MethodPost, "/"+alert.ID+"/acknowledge", "{not json", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
