package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"recordstore.service/internal/core/model"
	"recordstore.service/internal/core/normalize"
)

// ErrIdentityMigration is returned when the temporary identity being
// migrated has no cached record and no pending edit to move. Fatal to that
// record only; the caller drops it and forces a fresh fetch.
var ErrIdentityMigration = errors.New("identity migration: temporary identity not found")

// bufferState is the immutable snapshot the buffer publishes. A new state is
// built from a clone and swapped in whole, never mutated in place.
type bufferState struct {
	records    map[string]model.CanonicalRecord
	fetched    map[string]time.Time
	pending    map[string]model.PendingEdit
	tombstones map[string]struct{}
}

func newBufferState() *bufferState {
	return &bufferState{
		records:    make(map[string]model.CanonicalRecord),
		fetched:    make(map[string]time.Time),
		pending:    make(map[string]model.PendingEdit),
		tombstones: make(map[string]struct{}),
	}
}

func (s *bufferState) clone() *bufferState {
	next := &bufferState{
		records:    make(map[string]model.CanonicalRecord, len(s.records)),
		fetched:    make(map[string]time.Time, len(s.fetched)),
		pending:    make(map[string]model.PendingEdit, len(s.pending)),
		tombstones: make(map[string]struct{}, len(s.tombstones)),
	}
	for k, v := range s.records {
		next.records[k] = v
	}
	for k, v := range s.fetched {
		next.fetched[k] = v
	}
	for k, v := range s.pending {
		next.pending[k] = v
	}
	for k := range s.tombstones {
		next.tombstones[k] = struct{}{}
	}
	return next
}

// MergeBuffer is the single shared mutable resource of a view. It merges
// freshly normalized server records with outstanding local edits. Writers
// serialize on a mutex, clone the whole state and publish it with one
// pointer swap, so a concurrent Snapshot observes either the fully-old or
// the fully-new state, never a partial one.
type MergeBuffer struct {
	mu  sync.Mutex
	cur atomic.Pointer[bufferState]
	log zerolog.Logger
}

// NewMergeBuffer returns an empty buffer.
func NewMergeBuffer(log zerolog.Logger) *MergeBuffer {
	b := &MergeBuffer{log: log}
	b.cur.Store(newBufferState())
	return b
}

// ApplyServerBatch merges a batch of normalized server records fetched at
// fetchedAt. Per identity:
//   - a pending edit whose submitted fields now match the server record is
//     confirmed and cleared;
//   - a pending edit submitted after fetchedAt (or parked as failed) keeps
//     winning, layered over the stored server record;
//   - an older pending edit whose fields no longer match is superseded and
//     dropped;
//   - with no pending edit the server record replaces the cached copy.
//
// Deleted identities stay deleted: batches never resurrect a tombstone.
func (b *MergeBuffer) ApplyServerBatch(records []model.CanonicalRecord, fetchedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	for _, rec := range records {
		if rec.Identity == "" {
			b.log.Warn().Msg("Server record without identity skipped")
			continue
		}
		if _, dead := next.tombstones[rec.Identity]; dead {
			continue
		}
		if pe, ok := next.pending[rec.Identity]; ok {
			switch {
			case fieldsConfirmed(rec, pe.Fields):
				delete(next.pending, rec.Identity)
			case pe.Failed || pe.SubmittedAt.After(fetchedAt):
				// Edit still wins; keep it layered until confirmed.
			default:
				// Superseded by newer server state.
				delete(next.pending, rec.Identity)
			}
		}
		next.records[rec.Identity] = rec
		next.fetched[rec.Identity] = fetchedAt
	}
	b.cur.Store(next)
}

// Confirm applies the confirmed row of a mutation response. The pending
// edit clears only when every submitted field matches the confirmed state;
// a mismatch keeps the edit and flags it as a conflict so the view can
// re-present the user's input. Returns whether the edit was confirmed.
func (b *MergeBuffer) Confirm(rec model.CanonicalRecord, fetchedAt time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	if _, dead := next.tombstones[rec.Identity]; dead || rec.Identity == "" {
		return false
	}

	confirmed := true
	if pe, ok := next.pending[rec.Identity]; ok {
		if fieldsConfirmed(rec, pe.Fields) {
			delete(next.pending, rec.Identity)
		} else {
			pe.Failed = true
			next.pending[rec.Identity] = pe
			confirmed = false
			b.log.Warn().Str("identity", rec.Identity).
				Msg("Confirmed row differs from submitted fields, keeping edit as conflict")
		}
	}
	next.records[rec.Identity] = rec
	next.fetched[rec.Identity] = fetchedAt
	b.cur.Store(next)
	return confirmed
}

// ApplyLocalEdit records an uncommitted local mutation. The merged view
// reflects it immediately, before any network round trip completes.
func (b *MergeBuffer) ApplyLocalEdit(identity string, fields model.Fields, submittedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	delete(next.tombstones, identity)
	next.pending[identity] = model.PendingEdit{
		Identity:    identity,
		Fields:      fields.Clone(),
		SubmittedAt: submittedAt,
	}
	b.cur.Store(next)
}

// ReconcileFailure marks the pending edit for identity as failed. The edit
// is retained so the user's input is not lost; the flag lets the view
// render an error affordance next to the record.
func (b *MergeBuffer) ReconcileFailure(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	pe, ok := next.pending[identity]
	if !ok {
		return
	}
	pe.Failed = true
	next.pending[identity] = pe
	b.cur.Store(next)
}

// Delete removes an identity from the merged view and drops any pending
// edit for it. The tombstone guarantees delete finality: stale updates for
// the identity arriving later are ignored.
func (b *MergeBuffer) Delete(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	delete(next.records, identity)
	delete(next.fetched, identity)
	delete(next.pending, identity)
	next.tombstones[identity] = struct{}{}
	b.cur.Store(next)
}

// Forget removes an identity without tombstoning it, so a forced refetch
// can bring it back. Used when identity migration fails for a record.
func (b *MergeBuffer) Forget(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	delete(next.records, identity)
	delete(next.fetched, identity)
	delete(next.pending, identity)
	b.cur.Store(next)
}

// MigrateIdentity atomically moves the cached record and any pending edit
// from a client-assigned temporary identity to the store-assigned final
// one. After the swap exactly one entry exists, under the final identity;
// the temporary identity is tombstoned so a stale feed event cannot
// resurrect it. No intermediate state is ever observable.
func (b *MergeBuffer) MigrateIdentity(tempID, finalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cur.Load().clone()
	rec, hasRec := next.records[tempID]
	pe, hasPending := next.pending[tempID]
	if !hasRec && !hasPending {
		return ErrIdentityMigration
	}

	if hasRec {
		delete(next.records, tempID)
		rec.Identity = finalID
		next.records[finalID] = rec
	}
	if t, ok := next.fetched[tempID]; ok {
		delete(next.fetched, tempID)
		next.fetched[finalID] = t
	}
	if hasPending {
		delete(next.pending, tempID)
		pe.Identity = finalID
		next.pending[finalID] = pe
	}
	next.tombstones[tempID] = struct{}{}
	b.cur.Store(next)
	return nil
}

// Snapshot returns the merged view: cached server records with pending
// edits layered on top, plus optimistic records that exist only as a
// pending edit (unacknowledged creates). The returned records share no
// mutable state with the buffer.
func (b *MergeBuffer) Snapshot() []model.CanonicalRecord {
	s := b.cur.Load()

	out := make([]model.CanonicalRecord, 0, len(s.records)+len(s.pending))
	for id, rec := range s.records {
		if pe, ok := s.pending[id]; ok {
			out = append(out, overlay(rec, pe))
			continue
		}
		out = append(out, rec.Clone())
	}
	for id, pe := range s.pending {
		if _, ok := s.records[id]; ok {
			continue
		}
		out = append(out, materialize(pe))
	}
	return out
}

// overlay layers a pending edit's field overrides onto a copy of the
// server record and recomputes the derived fields.
func overlay(rec model.CanonicalRecord, pe model.PendingEdit) model.CanonicalRecord {
	out := rec.Clone()
	applyFields(&out, pe.Fields)
	out.Derived = normalize.Recompute(out.Timestamps)
	out.Pending = true
	out.Failed = pe.Failed
	return out
}

// materialize builds the optimistic record for a create that the store has
// not acknowledged yet.
func materialize(pe model.PendingEdit) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		Identity: pe.Identity,
		Timestamps: map[string]*time.Time{
			model.TSCheckIn:   nil,
			model.TSCheckOut:  nil,
			model.TSSubmitted: nil,
		},
		Status: model.StatusNotMarked,
	}
	applyFields(&rec, pe.Fields)
	rec.Derived = normalize.Recompute(rec.Timestamps)
	rec.Pending = true
	rec.Failed = pe.Failed
	return rec
}

func applyFields(rec *model.CanonicalRecord, fields model.Fields) {
	for name, v := range fields {
		switch name {
		case model.FieldStatus:
			if status, ok := fieldStatus(v); ok {
				rec.Status = status
			}
		case model.FieldCheckIn:
			rec.Timestamps[model.TSCheckIn] = fieldTime(v)
		case model.FieldCheckOut:
			rec.Timestamps[model.TSCheckOut] = fieldTime(v)
		case model.FieldSubject:
			if s, ok := v.(string); ok {
				rec.SubjectID = s
			}
		}
	}
}

// fieldsConfirmed reports whether a server record's state matches every
// overridden field of a pending edit.
func fieldsConfirmed(rec model.CanonicalRecord, fields model.Fields) bool {
	for name, v := range fields {
		switch name {
		case model.FieldStatus:
			status, ok := fieldStatus(v)
			if !ok || rec.Status != status {
				return false
			}
		case model.FieldCheckIn:
			if !timesEqual(rec.Timestamps[model.TSCheckIn], fieldTime(v)) {
				return false
			}
		case model.FieldCheckOut:
			if !timesEqual(rec.Timestamps[model.TSCheckOut], fieldTime(v)) {
				return false
			}
		case model.FieldSubject:
			s, ok := v.(string)
			if !ok || rec.SubjectID != s {
				return false
			}
		}
	}
	return true
}

func fieldStatus(v any) (model.Status, bool) {
	switch s := v.(type) {
	case model.Status:
		return s, true
	case string:
		status, _ := model.ParseStatus(s)
		return status, true
	default:
		return model.StatusUnknown, false
	}
}

func fieldTime(v any) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	case time.Time:
		u := t.UTC()
		return &u
	default:
		return nil
	}
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
