package bed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/internal/repository/memory"
	"github.com/jwalitptl/hms-api/internal/service/ward"
	"github.com/jwalitptl/hms-api/pkg/auth"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/money"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

type fixture struct {
	store   *memory.Store
	svc     *Service
	metrics *metrics.Metrics
	wardID  uuid.UUID
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newFixture(t *testing.T, wrap func(repository.BedRepository) repository.BedRepository) *fixture {
	t.Helper()
	store := memory.NewStore()
	m := metrics.New("test", prometheus.NewRegistry())
	wards := ward.NewService(store.Wards(), time.Minute, time.Minute, m, fastRetry())

	w, err := wards.CreateWard(context.Background(), &model.CreateWardRequest{Name: "W1", Type: model.WardTypeGeneral})
	require.NoError(t, err)

	beds := store.Beds()
	if wrap != nil {
		beds = wrap(beds)
	}
	return &fixture{
		store:   store,
		svc:     NewService(beds, wards, m, fastRetry()),
		metrics: m,
		wardID:  w.ID,
	}
}

func (f *fixture) createBed(t *testing.T, number string) *model.Bed {
	t.Helper()
	b, err := f.svc.CreateBed(context.Background(), &model.CreateBedRequest{
		BedNumber:  number,
		WardID:     f.wardID,
		RatePerDay: money.FromFloat(2500),
		Features:   []string{"oxygen", " "},
	})
	require.NoError(t, err)
	return b
}

func assignReq(patient uuid.UUID, date string) *model.AssignBedRequest {
	d, _ := model.ParseDate(date)
	return &model.AssignBedRequest{PatientID: patient, AdmissionDate: d}
}

func TestCreateBed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := f.createBed(t, "B1")
	assert.Equal(t, model.BedStatusAvailable, b.Status)
	assert.Nil(t, b.CurrentAdmission)
	assert.Equal(t, []string{"oxygen"}, b.Features)

	_, err := f.svc.CreateBed(ctx, &model.CreateBedRequest{BedNumber: "b1", WardID: f.wardID, RatePerDay: money.FromFloat(100)})
	assert.True(t, apperrors.IsConflict(err), "bed numbers are unique per ward ignoring case")

	_, err = f.svc.CreateBed(ctx, &model.CreateBedRequest{BedNumber: "B2", WardID: uuid.New(), RatePerDay: money.FromFloat(100)})
	assert.True(t, apperrors.IsNotFound(err))

	for _, req := range []*model.CreateBedRequest{
		{BedNumber: "", WardID: f.wardID, RatePerDay: money.FromFloat(100)},
		{BedNumber: "B3", RatePerDay: money.FromFloat(100)},
		{BedNumber: "B3", WardID: f.wardID},
		{BedNumber: "B3", WardID: f.wardID, RatePerDay: money.FromFloat(-1)},
		{BedNumber: "B3", WardID: f.wardID, RatePerDay: money.FromFloat(0.004)},
		{BedNumber: "B3", WardID: f.wardID, RatePerDay: money.FromFloat(2500.005)},
	} {
		_, err := f.svc.CreateBed(ctx, req)
		assert.True(t, apperrors.IsValidation(err), "request %+v", req)
	}

	beds, err := f.svc.ListBeds(ctx, &model.BedFilters{WardID: f.wardID})
	require.NoError(t, err)
	assert.Len(t, beds, 1, "rejected beds are not stored")

	cheap, err := f.svc.CreateBed(ctx, &model.CreateBedRequest{BedNumber: "B4", WardID: f.wardID, RatePerDay: money.FromFloat(0.01)})
	require.NoError(t, err)
	assert.Equal(t, "0.01", cheap.RatePerDay.StringFixed(2))
}

func TestAdmissionScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()

	b1 := f.createBed(t, "B1")

	occupied, err := f.svc.AssignPatient(ctx, b1.ID, assignReq(p1, "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, model.BedStatusOccupied, occupied.Status)
	require.NotNil(t, occupied.CurrentAdmission)
	assert.Equal(t, p1, occupied.CurrentAdmission.PatientID)

	_, err = f.svc.AssignPatient(ctx, b1.ID, assignReq(p2, "2024-01-02"))
	assert.True(t, apperrors.IsConflict(err))

	stored, err := f.svc.GetBed(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, p1, stored.CurrentAdmission.PatientID, "failed assign must not touch the admission")

	released, err := f.svc.Discharge(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BedStatusAvailable, released.Status)
	assert.Nil(t, released.CurrentAdmission)

	again, err := f.svc.AssignPatient(ctx, b1.ID, assignReq(p2, "2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, p2, again.CurrentAdmission.PatientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BedConflicts))
}

func TestAssignPatient_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.createBed(t, "B1")

	_, err := f.svc.AssignPatient(ctx, b.ID, &model.AssignBedRequest{AdmissionDate: model.Date{Time: time.Now()}})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.AssignPatient(ctx, b.ID, &model.AssignBedRequest{PatientID: uuid.New()})
	assert.True(t, apperrors.IsValidation(err))

	req := assignReq(uuid.New(), "2024-03-10")
	before, _ := model.ParseDate("2024-03-01")
	req.ExpectedDischarge = &before
	_, err = f.svc.AssignPatient(ctx, b.ID, req)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.AssignPatient(ctx, uuid.New(), assignReq(uuid.New(), "2024-03-10"))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.createBed(t, "B1")

	_, err := f.svc.ClearMaintenance(ctx, b.ID)
	assert.True(t, apperrors.IsConflict(err))

	m, err := f.svc.SetMaintenance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BedStatusMaintenance, m.Status)

	_, err = f.svc.AssignPatient(ctx, b.ID, assignReq(uuid.New(), "2024-01-01"))
	assert.True(t, apperrors.IsConflict(err))
	_, err = f.svc.Discharge(ctx, b.ID)
	assert.True(t, apperrors.IsConflict(err))

	cleared, err := f.svc.ClearMaintenance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BedStatusAvailable, cleared.Status)

	_, err = f.svc.AssignPatient(ctx, b.ID, assignReq(uuid.New(), "2024-01-01"))
	require.NoError(t, err)
	_, err = f.svc.SetMaintenance(ctx, b.ID)
	assert.True(t, apperrors.IsConflict(err), "occupied beds cannot enter maintenance")
}

func TestListBeds_Filters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b1 := f.createBed(t, "B1")
	f.createBed(t, "B2")

	_, err := f.svc.AssignPatient(ctx, b1.ID, assignReq(uuid.New(), "2024-01-01"))
	require.NoError(t, err)

	occupied, err := f.svc.ListBeds(ctx, &model.BedFilters{Status: model.BedStatusOccupied, WardID: f.wardID})
	require.NoError(t, err)
	require.Len(t, occupied, 1)
	assert.Equal(t, b1.ID, occupied[0].ID)

	none, err := f.svc.ListBeds(ctx, &model.BedFilters{Status: model.BedStatusAvailable, WardID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := f.svc.ListBeds(ctx, nil)
	require.NoError(t, err)
	for _, b := range all {
		assert.True(t, b.Consistent())
	}

	_, err = f.svc.ListBeds(ctx, &model.BedFilters{Status: "broken"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestTransitionsEmitEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := auth.WithActor(context.Background(), &auth.Actor{Subject: "nurse-4", Role: "nurse"})
	b := f.createBed(t, "B1")
	patient := uuid.New()

	_, err := f.svc.AssignPatient(ctx, b.ID, assignReq(patient, "2024-01-01"))
	require.NoError(t, err)
	_, err = f.svc.Discharge(ctx, b.ID)
	require.NoError(t, err)

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventBedAssigned, events[0].EventType)
	assert.Equal(t, model.EventBedDischarged, events[1].EventType)
	assert.Equal(t, "nurse-4", events[1].Actor)

	var payload model.BedDischargedEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, patient, payload.PatientID)
	assert.Equal(t, "2500.00", payload.RatePerDay)
}

func TestAssignPatient_ConcurrentCallersOneWins(t *testing.T) {
	f := newFixture(t, nil)
	b := f.createBed(t, "B1")

	const callers = 20
	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AssignPatient(context.Background(), b.ID, assignReq(uuid.New(), "2024-01-01"))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case apperrors.IsConflict(err):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(callers-1), conflicts)
}

// staleRepo simulates another process updating the bed between our read and write.
type staleRepo struct {
	repository.BedRepository
}

func (r *staleRepo) Update(ctx context.Context, bed *model.Bed, events ...*model.OutboxEvent) error {
	stale := bed.Clone()
	stale.Version--
	return r.BedRepository.Update(ctx, stale, events...)
}

func TestTransition_LostCompareAndSwap(t *testing.T) {
	f := newFixture(t, func(r repository.BedRepository) repository.BedRepository { return &staleRepo{r} })
	b := f.createBed(t, "B1")

	_, err := f.svc.AssignPatient(context.Background(), b.ID, assignReq(uuid.New(), "2024-01-01"))
	assert.True(t, apperrors.IsConflict(err))

	stored, err := f.svc.GetBed(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BedStatusAvailable, stored.Status)
	assert.Empty(t, f.store.Events())
}

type flakyRepo struct {
	repository.BedRepository
	failures int32
}

func (r *flakyRepo) Get(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	if atomic.AddInt32(&r.failures, -1) >= 0 {
		return nil, apperrors.Storage("get bed", errors.New("connection reset"))
	}
	return r.BedRepository.Get(ctx, id)
}

func TestGetBed_RetriesStorageErrors(t *testing.T) {
	flaky := &flakyRepo{}
	f := newFixture(t, func(r repository.BedRepository) repository.BedRepository {
		flaky.BedRepository = r
		return flaky
	})
	b := f.createBed(t, "B1")

	atomic.StoreInt32(&flaky.failures, 2)
	got, err := f.svc.GetBed(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StorageRetries.WithLabelValues("bed.get")))

	atomic.StoreInt32(&flaky.failures, 5)
	_, err = f.svc.GetBed(context.Background(), b.ID)
	assert.True(t, apperrors.IsStorage(err))
}
