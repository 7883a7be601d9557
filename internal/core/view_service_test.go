package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordstore.service/internal/core/model"
	"recordstore.service/internal/core/store"
	"recordstore.service/internal/ports/source"
)

func strPtr(s string) *string { return &s }

type recordedAlert struct {
	identity string
	cause    error
}

type fakeNotifier struct {
	alerts []recordedAlert
}

func (f *fakeNotifier) EditFailed(_ context.Context, identity string, cause error) error {
	f.alerts = append(f.alerts, recordedAlert{identity: identity, cause: cause})
	return nil
}

func seedRow(t *testing.T, src *source.MemorySource, employee, checkIn, status string) string {
	t.Helper()
	row, err := src.Insert(context.Background(), model.TableAttendance, model.RawRow{
		EmployeeID:       employee,
		CheckInTimestamp: strPtr(checkIn),
		Status:           strPtr(status),
	})
	require.NoError(t, err)
	return row.ID.(string)
}

func findByIdentity(t *testing.T, records []model.CanonicalRecord, identity string) model.CanonicalRecord {
	t.Helper()
	for _, rec := range records {
		if rec.Identity == identity {
			return rec
		}
	}
	t.Fatalf("record %s not listed", identity)
	return model.CanonicalRecord{}
}

func TestRefreshLoadsServerState(t *testing.T) {
	src := source.NewMemorySource()
	src.SetEmployee("emp-1", "Ana Popescu")
	id := seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "present")

	svc := NewViewService(src, nil, zerolog.Nop())
	require.NoError(t, svc.Refresh(context.Background()))

	records := svc.List(store.Criteria{})
	require.Len(t, records, 1)
	rec := findByIdentity(t, records, id)
	assert.Equal(t, model.StatusPresent, rec.Status)
	assert.Equal(t, "Ana Popescu", rec.Joined.DisplayName)
}

func TestSubmitEditConfirms(t *testing.T) {
	src := source.NewMemorySource()
	id := seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "present")

	svc := NewViewService(src, nil, zerolog.Nop())
	require.NoError(t, svc.Refresh(context.Background()))

	require.NoError(t, svc.SubmitEdit(context.Background(), id, model.Fields{
		model.FieldStatus: model.StatusLate,
	}))

	rec := findByIdentity(t, svc.List(store.Criteria{}), id)
	assert.Equal(t, model.StatusLate, rec.Status)
	assert.False(t, rec.Pending, "confirmed edit shows no pending flag")
	assert.False(t, rec.Failed)
}

func TestSubmitEditFailureRetainsInput(t *testing.T) {
	src := source.NewMemorySource()
	id := seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "present")

	notifier := &fakeNotifier{}
	svc := NewViewService(src, notifier, zerolog.Nop())
	require.NoError(t, svc.Refresh(context.Background()))

	src.MutationErr = errors.New("permission denied")
	err := svc.SubmitEdit(context.Background(), id, model.Fields{
		model.FieldStatus: model.StatusHalfDay,
	})
	require.Error(t, err)

	rec := findByIdentity(t, svc.List(store.Criteria{}), id)
	assert.Equal(t, model.StatusHalfDay, rec.Status, "submitted value is not reverted")
	assert.True(t, rec.Failed)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, id, notifier.alerts[0].identity)
}

func TestCreateMigratesIdentity(t *testing.T) {
	src := source.NewMemorySource()
	svc := NewViewService(src, nil, zerolog.Nop())

	in := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	identity, err := svc.Create(context.Background(), "emp-3", model.Fields{
		model.FieldStatus:  model.StatusPresent,
		model.FieldCheckIn: &in,
	})
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(identity, "tmp-"), "returned identity is the store-assigned one")

	records := svc.List(store.Criteria{})
	require.Len(t, records, 1, "exactly one record after migration, no temp leftover")
	rec := records[0]
	assert.Equal(t, identity, rec.Identity)
	assert.Equal(t, "emp-3", rec.SubjectID)
	assert.Equal(t, model.StatusPresent, rec.Status)
	assert.False(t, rec.Pending)
}

func TestCreateFailureParksEdit(t *testing.T) {
	src := source.NewMemorySource()
	src.MutationErr = errors.New("backend down")

	notifier := &fakeNotifier{}
	svc := NewViewService(src, notifier, zerolog.Nop())

	identity, err := svc.Create(context.Background(), "emp-4", model.Fields{
		model.FieldStatus: model.StatusPresent,
	})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(identity, "tmp-"))

	rec := findByIdentity(t, svc.List(store.Criteria{}), identity)
	assert.True(t, rec.Pending)
	assert.True(t, rec.Failed)
	assert.Equal(t, "emp-4", rec.SubjectID)
	assert.Len(t, notifier.alerts, 1)
}

func TestRemoveIsFinal(t *testing.T) {
	src := source.NewMemorySource()
	id := seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "present")

	svc := NewViewService(src, nil, zerolog.Nop())
	require.NoError(t, svc.Refresh(context.Background()))
	require.NoError(t, svc.Remove(context.Background(), id))

	assert.Empty(t, svc.List(store.Criteria{}))

	// A full refresh cannot bring it back either: the row is gone from
	// the store and the identity is tombstoned locally.
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Empty(t, svc.List(store.Criteria{}))
}

func TestActivateDeactivateCycle(t *testing.T) {
	src := source.NewMemorySource()
	seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "present")

	svc := NewViewService(src, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, svc.Activate(ctx))
	require.Eventually(t, func() bool { return src.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, svc.List(store.Criteria{}), 1)

	svc.Deactivate()
	require.Eventually(t, func() bool { return src.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	// Re-activation never doubles the subscription.
	require.NoError(t, svc.Activate(ctx))
	require.Eventually(t, func() bool { return src.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	svc.Deactivate()
}

func TestListProjectsFilter(t *testing.T) {
	src := source.NewMemorySource()
	src.SetEmployee("emp-1", "Ana Popescu")
	src.SetEmployee("emp-2", "Bogdan Ionescu")
	idAna := seedRow(t, src, "emp-1", "2024-01-05T09:00:00Z", "absent")
	seedRow(t, src, "emp-2", "2024-01-05T10:00:00Z", "absent")

	svc := NewViewService(src, nil, zerolog.Nop())
	require.NoError(t, svc.Refresh(context.Background()))

	out := svc.List(store.Criteria{Search: "ana", Statuses: []model.Status{model.StatusAbsent}})
	require.Len(t, out, 1)
	assert.Equal(t, idAna, out[0].Identity)
}
