package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

var (
	operator = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
	reporter = domain.Actor{ID: "user-1", Role: domain.RoleReporter}
	stranger = domain.Actor{ID: "user-2", Role: domain.RoleReporter}
)

type serviceFixture struct {
	repo    *fakeRepo
	geo     *fakeGeo
	emitter *fakeEmitter
	s       *Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		repo:    newFakeRepo(),
		geo:     &fakeGeo{},
		emitter: &fakeEmitter{},
	}
	f.s = NewService(f.repo, f.geo, f.emitter)
	return f
}

// seedAlert stores a pending alert owned by user-1 with attempts for the
// given services.
func (f *serviceFixture) seedAlert(t *testing.T, serviceIDs ...string) *domain.Alert {
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
	for _, id := range serviceIDs {
		alert.ContactAttempts = append(alert.ContactAttempts, domain.ContactAttempt{
			ServiceID:   id,
			ContactedAt: now,
			Response:    domain.AttemptResponsePending,
		})
	}
	require.NoError(t, f.repo.CreateAlert(context.Background(), alert))
	return alert
}

func TestGetAlertVisibility(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	got, err := f.s.GetAlert(context.Background(), reporter, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, got.ID)

	_, err = f.s.GetAlert(context.Background(), operator, alert.ID)
	assert.NoError(t, err)

	_, err = f.s.GetAlert(context.Background(), stranger, alert.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.s.GetAlert(context.Background(), operator, uuid.NewString())
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestListActiveOperatorsOnly(t *testing.T) {
	f := newServiceFixture()
	f.seedAlert(t)

	_, err := f.s.ListActive(context.Background(), reporter)
	assert.ErrorIs(t, err, ErrForbidden)

	alerts, err := f.s.ListActive(context.Background(), operator)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestListNearbyPreservesDistanceOrder(t *testing.T) {
	f := newServiceFixture()
	far := f.seedAlert(t)
	near := f.seedAlert(t)
	f.geo.nearbyIDs = []string{near.ID, far.ID, "gone"}

	alerts, err := f.s.ListNearby(context.Background(), operator,
		domain.Location{Latitude: 28.6, Longitude: 77.2}, 5000)
	require.NoError(t, err)

	require.Len(t, alerts, 2)
	assert.Equal(t, near.ID, alerts[0].ID)
	assert.Equal(t, far.ID, alerts[1].ID)

	_, err = f.s.ListNearby(context.Background(), reporter,
		domain.Location{Latitude: 28.6, Longitude: 77.2}, 5000)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAcknowledge(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	eta := 12
	got, err := f.s.Acknowledge(context.Background(), operator, alert.ID, &eta)
	require.NoError(t, err)

	assert.Equal(t, domain.AlertStatusAcknowledged, got.Status)
	require.NotNil(t, got.AssignedOperator)
	assert.Equal(t, operator.ID, *got.AssignedOperator)
	require.NotNil(t, got.EstimatedResponseTimeMinutes)
	assert.Equal(t, 12, *got.EstimatedResponseTimeMinutes)
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusAcknowledged}, f.emitter.statuses())

	// second acknowledge is no longer legal
	_, err = f.s.Acknowledge(context.Background(), operator, alert.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAcknowledgeForbiddenForReporter(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	_, err := f.s.Acknowledge(context.Background(), reporter, alert.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMarkResponding(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	_, err := f.s.MarkResponding(context.Background(), operator, alert.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "responding requires acknowledged")

	_, err = f.s.Acknowledge(context.Background(), operator, alert.ID, nil)
	require.NoError(t, err)

	got, err := f.s.MarkResponding(context.Background(), operator, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusResponding, got.Status)
}

func TestUpdateServiceResponse(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t, "svc-1", "svc-2")

	eta := time.Now().UTC().Add(10 * time.Minute)
	notes := "ambulance en route"
	got, err := f.s.UpdateServiceResponse(context.Background(), operator, alert.ID,
		"svc-1", domain.AttemptResponseAccepted, &eta, &notes)
	require.NoError(t, err)

	attempt := got.AttemptFor("svc-1")
	require.NotNil(t, attempt)
	assert.Equal(t, domain.AttemptResponseAccepted, attempt.Response)
	require.NotNil(t, attempt.EstimatedArrival)
	assert.Equal(t, eta, *attempt.EstimatedArrival)
	assert.Equal(t, notes, attempt.Notes)

	// untouched attempt keeps its state
	other := got.AttemptFor("svc-2")
	require.NotNil(t, other)
	assert.Equal(t, domain.AttemptResponsePending, other.Response)
	assert.Equal(t, domain.AlertStatusPending, got.Status, "attempt responses never move the alert status")
}

func TestUpdateServiceResponseUnknownService(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t, "svc-1")

	_, err := f.s.UpdateServiceResponse(context.Background(), operator, alert.ID,
		"svc-9", domain.AttemptResponseAccepted, nil, nil)
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	got, err := f.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptResponsePending, got.AttemptFor("svc-1").Response)
}

func TestUpdateServiceResponseInvalidValue(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t, "svc-1")

	_, err := f.s.UpdateServiceResponse(context.Background(), operator, alert.ID,
		"svc-1", "maybe", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestConcurrentServiceResponsesNoLostUpdate(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t, "svc-1", "svc-2")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.s.UpdateServiceResponse(context.Background(), operator, alert.ID,
			"svc-1", domain.AttemptResponseAccepted, nil, nil)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.s.UpdateServiceResponse(context.Background(), operator, alert.ID,
			"svc-2", domain.AttemptResponseDeclined, nil, nil)
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := f.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptResponseAccepted, got.AttemptFor("svc-1").Response)
	assert.Equal(t, domain.AttemptResponseDeclined, got.AttemptFor("svc-2").Response)
}

func TestResolveSetsResponseTimeAtomically(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	got, err := f.s.Resolve(context.Background(), operator, alert.ID, "handled on site")
	require.NoError(t, err)

	assert.Equal(t, domain.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	require.NotNil(t, got.ActualResponseTimeMinutes)
	assert.Equal(t, domain.ResponseTimeMinutes(got.CreatedAt, *got.ResolvedAt), *got.ActualResponseTimeMinutes)
	assert.Equal(t, "handled on site", got.ResolutionNotes)
}

func TestResolveIdempotent(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	first, err := f.s.Resolve(context.Background(), operator, alert.ID, "done")
	require.NoError(t, err)

	second, err := f.s.Resolve(context.Background(), operator, alert.ID, "done again")
	require.NoError(t, err)

	assert.Equal(t, domain.AlertStatusResolved, second.Status)
	assert.Equal(t, *first.ActualResponseTimeMinutes, *second.ActualResponseTimeMinutes)
	assert.Equal(t, first.ResolvedAt.Unix(), second.ResolvedAt.Unix())
	assert.Equal(t, "done", second.ResolutionNotes, "replay does not rewrite the resolution")

	// only the winning transition emits an event
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusResolved}, f.emitter.statuses())
}

func TestResolveAfterCancelRejected(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	_, err := f.s.Cancel(context.Background(), operator, alert.ID, "false alarm")
	require.NoError(t, err)

	_, err = f.s.Resolve(context.Background(), operator, alert.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelByOwningReporter(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	got, err := f.s.Cancel(context.Background(), reporter, alert.ID, "accidental tap")
	require.NoError(t, err)

	assert.Equal(t, domain.AlertStatusCancelled, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Nil(t, got.ActualResponseTimeMinutes)
}

func TestCancelForbiddenForOtherReporter(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	_, err := f.s.Cancel(context.Background(), stranger, alert.ID, "nope")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancelIdempotent(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	_, err := f.s.Cancel(context.Background(), operator, alert.ID, "false alarm")
	require.NoError(t, err)

	got, err := f.s.Cancel(context.Background(), operator, alert.ID, "still false")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusCancelled, got.Status)

	_, err = f.s.Acknowledge(context.Background(), operator, alert.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentResolveExactlyOneWins(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*domain.Alert, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			got, err := f.s.Resolve(context.Background(), operator, alert.ID, "race")
			if assert.NoError(t, err) {
				results[i] = got
			}
		}(i)
	}
	wg.Wait()

	// every caller observes the same resolved state
	first := results[0]
	require.NotNil(t, first)
	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, domain.AlertStatusResolved, got.Status)
		assert.Equal(t, *first.ActualResponseTimeMinutes, *got.ActualResponseTimeMinutes)
	}

	// exactly one transition happened
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusResolved}, f.emitter.statuses())
}

func TestUpdatePriority(t *testing.T) {
	f := newServiceFixture()
	alert := f.seedAlert(t)

	got, err := f.s.UpdatePriority(context.Background(), operator, alert.ID, domain.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, got.Priority)

	_, err = f.s.UpdatePriority(context.Background(), reporter, alert.ID, domain.PriorityLow)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.s.UpdatePriority(context.Background(), operator, alert.ID, "urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = f.s.Cancel(context.Background(), operator, alert.ID, "")
	require.NoError(t, err)
	_, err = f.s.UpdatePriority(context.Background(), operator, alert.ID, domain.PriorityLow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
