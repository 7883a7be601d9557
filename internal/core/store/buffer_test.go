package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordstore.service/internal/core/model"
)

func serverRecord(identity string, status model.Status, checkIn time.Time) model.CanonicalRecord {
	in := checkIn
	return model.CanonicalRecord{
		Identity:  identity,
		SubjectID: "emp-" + identity,
		Timestamps: map[string]*time.Time{
			model.TSCheckIn:   &in,
			model.TSCheckOut:  nil,
			model.TSSubmitted: nil,
		},
		Status: status,
	}
}

func findRecord(t *testing.T, records []model.CanonicalRecord, identity string) model.CanonicalRecord {
	t.Helper()
	for _, rec := range records {
		if rec.Identity == identity {
			return rec
		}
	}
	t.Fatalf("record %s not in snapshot", identity)
	return model.CanonicalRecord{}
}

func hasRecord(records []model.CanonicalRecord, identity string) bool {
	for _, rec := range records {
		if rec.Identity == identity {
			return true
		}
	}
	return false
}

func TestOptimisticPrecedence(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Second)

	// Local edit at T1 sets status LATE for identity 42.
	b.ApplyLocalEdit("42", model.Fields{model.FieldStatus: model.StatusLate}, t1)

	// Server batch fetched at T0 < T1 reports PRESENT.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("42", model.StatusPresent, t0)}, t0)

	rec := findRecord(t, b.Snapshot(), "42")
	assert.Equal(t, model.StatusLate, rec.Status)
	assert.True(t, rec.Pending)
	assert.False(t, rec.Failed)
}

func TestEventualConfirmation(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("42", model.Fields{model.FieldStatus: model.StatusLate}, t0)

	// Server now reports the submitted value: the edit is confirmed.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("42", model.StatusLate, t0)}, t0.Add(-time.Minute))

	rec := findRecord(t, b.Snapshot(), "42")
	assert.Equal(t, model.StatusLate, rec.Status)
	assert.False(t, rec.Pending, "confirmed edit must clear the pending flag")
	assert.False(t, rec.Failed)
}

func TestSupersededEditDropped(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("42", model.Fields{model.FieldStatus: model.StatusLate}, t0)

	// Server state fetched after the edit, with different fields: the
	// edit was superseded remotely.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("42", model.StatusAbsent, t0)}, t0.Add(time.Minute))

	rec := findRecord(t, b.Snapshot(), "42")
	assert.Equal(t, model.StatusAbsent, rec.Status)
	assert.False(t, rec.Pending)
}

func TestFailedEditRetained(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("7", model.StatusPresent, t0)}, t0)
	b.ApplyLocalEdit("7", model.Fields{model.FieldStatus: model.StatusHalfDay}, t0.Add(time.Second))
	b.ReconcileFailure("7")

	rec := findRecord(t, b.Snapshot(), "7")
	assert.Equal(t, model.StatusHalfDay, rec.Status, "submitted value must not revert")
	assert.True(t, rec.Failed)
	assert.True(t, rec.Pending)

	// A failed edit survives newer server state too: it is only cleared
	// by confirmation, delete, or a newer local edit.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("7", model.StatusPresent, t0)}, t0.Add(time.Hour))
	rec = findRecord(t, b.Snapshot(), "7")
	assert.Equal(t, model.StatusHalfDay, rec.Status)
	assert.True(t, rec.Failed)
}

func TestConfirmConflictKeepsEdit(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("9", model.Fields{model.FieldStatus: model.StatusLate}, t0)

	// The mutation response reports different fields than submitted.
	confirmed := b.Confirm(serverRecord("9", model.StatusAbsent, t0), t0.Add(time.Second))
	assert.False(t, confirmed)

	rec := findRecord(t, b.Snapshot(), "9")
	assert.Equal(t, model.StatusLate, rec.Status, "conflicting edit is re-presented, not reverted")
	assert.True(t, rec.Failed)
}

func TestConfirmMatchClearsEdit(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("9", model.Fields{model.FieldStatus: model.StatusLate}, t0)
	confirmed := b.Confirm(serverRecord("9", model.StatusLate, t0), t0.Add(time.Second))
	assert.True(t, confirmed)

	rec := findRecord(t, b.Snapshot(), "9")
	assert.False(t, rec.Pending)
	assert.False(t, rec.Failed)
}

func TestDeleteFinality(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("13", model.StatusPresent, t0)}, t0)
	b.ApplyLocalEdit("13", model.Fields{model.FieldStatus: model.StatusLate}, t0)
	b.Delete("13")

	assert.False(t, hasRecord(b.Snapshot(), "13"))

	// A stale update arriving after the delete must not resurrect it.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("13", model.StatusPresent, t0)}, t0.Add(time.Hour))
	assert.False(t, hasRecord(b.Snapshot(), "13"))
}

func TestIdentityMigrationAtomicity(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("tmp-abc", model.Fields{
		model.FieldStatus:  model.StatusPresent,
		model.FieldSubject: "emp-1",
	}, t0)

	require.NoError(t, b.MigrateIdentity("tmp-abc", "101"))

	snap := b.Snapshot()
	assert.False(t, hasRecord(snap, "tmp-abc"), "temporary identity must be absent")
	rec := findRecord(t, snap, "101")
	assert.Equal(t, model.StatusPresent, rec.Status)
	assert.True(t, rec.Pending, "pending state carries over to the final identity")

	// A stale feed insert for the temporary identity stays dead.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("tmp-abc", model.StatusPresent, t0)}, t0)
	assert.False(t, hasRecord(b.Snapshot(), "tmp-abc"))
}

func TestIdentityMigrationMissingEntry(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	err := b.MigrateIdentity("tmp-gone", "101")
	assert.ErrorIs(t, err, ErrIdentityMigration)
}

func TestForgetAllowsRefetch(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyLocalEdit("tmp-x", model.Fields{model.FieldStatus: model.StatusPresent}, t0)
	b.Forget("tmp-x")
	assert.False(t, hasRecord(b.Snapshot(), "tmp-x"))

	// Unlike Delete, Forget leaves no tombstone.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("tmp-x", model.StatusPresent, t0)}, t0)
	assert.True(t, hasRecord(b.Snapshot(), "tmp-x"))
}

func TestOptimisticCreateMaterializes(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	in := t0.Add(-time.Hour)

	b.ApplyLocalEdit("tmp-new", model.Fields{
		model.FieldStatus:  model.StatusPresent,
		model.FieldSubject: "emp-9",
		model.FieldCheckIn: &in,
	}, t0)

	rec := findRecord(t, b.Snapshot(), "tmp-new")
	assert.Equal(t, model.StatusPresent, rec.Status)
	assert.Equal(t, "emp-9", rec.SubjectID)
	require.NotNil(t, rec.Timestamps[model.TSCheckIn])
	assert.True(t, rec.Pending)
}

func TestOverlayRecomputesDerived(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)

	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("5", model.StatusPresent, t0)}, t0)

	out := t0.Add(8 * time.Hour)
	b.ApplyLocalEdit("5", model.Fields{model.FieldCheckOut: &out}, t0.Add(9*time.Hour))

	rec := findRecord(t, b.Snapshot(), "5")
	require.NotNil(t, rec.Derived.WorkHours)
	assert.InDelta(t, 8.0, *rec.Derived.WorkHours, 1e-9)
}

func TestSnapshotIsolation(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("1", model.StatusPresent, t0)}, t0)
	snap := b.Snapshot()

	// Later buffer writes must not show through an already-taken snapshot.
	b.ApplyServerBatch([]model.CanonicalRecord{serverRecord("1", model.StatusAbsent, t0)}, t0.Add(time.Minute))
	assert.Equal(t, model.StatusPresent, findRecord(t, snap, "1").Status)

	// And mutating a snapshot record must not corrupt the buffer.
	snap[0].Timestamps[model.TSCheckIn] = nil
	rec := findRecord(t, b.Snapshot(), "1")
	assert.NotNil(t, rec.Timestamps[model.TSCheckIn])
}

func TestBatchSkipsRecordsWithoutIdentity(t *testing.T) {
	b := NewMergeBuffer(zerolog.Nop())
	t0 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	// One malformed record must not drop the rest of the batch.
	b.ApplyServerBatch([]model.CanonicalRecord{
		serverRecord("1", model.StatusPresent, t0),
		{Identity: "", Timestamps: map[string]*time.Time{}},
		serverRecord("2", model.StatusAbsent, t0),
	}, t0)

	snap := b.Snapshot()
	assert.Len(t, snap, 2)
	assert.True(t, hasRecord(snap, "1"))
	assert.True(t, hasRecord(snap, "2"))
}
