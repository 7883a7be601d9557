package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"recordstore.service/internal/core/feed"
	"recordstore.service/internal/core/model"
	"recordstore.service/internal/core/normalize"
	"recordstore.service/internal/core/notify"
	"recordstore.service/internal/core/store"
	"recordstore.service/internal/ports/source"
)

// ViewService owns the reconciliation pipeline for one active view: it
// loads and refreshes server state, applies optimistic local edits through
// a circuit breaker, and exposes the projected slice the presentation
// layer renders. It is never shared across unrelated views.
type ViewService struct {
	src      source.RemoteSource
	norm     *normalize.Normalizer
	buffer   *store.MergeBuffer
	sub      *feed.Subscriber
	notifier notify.Notifier
	table    string
	cb       *gobreaker.CircuitBreaker
	log      zerolog.Logger

	// gen guards against responses landing after a Deactivate: a query
	// or mutation captured under an old generation is discarded instead
	// of being applied to a buffer with no active consumer.
	gen atomic.Uint64
}

// NewViewService wires the pipeline over the given source. notifier may be
// nil when no alerting channel is configured.
func NewViewService(src source.RemoteSource, notifier notify.Notifier, log zerolog.Logger) *ViewService {
	norm := normalize.New(log)
	buffer := store.NewMergeBuffer(log)

	settings := gobreaker.Settings{
		Name:        "remote-data-source",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
	}

	return &ViewService{
		src:      src,
		norm:     norm,
		buffer:   buffer,
		sub:      feed.New(src, norm, buffer, model.TableAttendance, log),
		notifier: notifier,
		table:    model.TableAttendance,
		cb:       gobreaker.NewCircuitBreaker(settings),
		log:      log,
	}
}

// Activate opens the change-feed subscription and performs the initial
// load. Safe to call again after a Deactivate; the subscription never
// doubles up.
func (s *ViewService) Activate(ctx context.Context) error {
	s.gen.Add(1)
	s.sub.Start(ctx)
	return s.Refresh(ctx)
}

// Deactivate tears down the subscription and invalidates in-flight
// responses.
func (s *ViewService) Deactivate() {
	s.gen.Add(1)
	s.sub.Stop()
}

// Refresh re-queries the full table. It is the user-triggered recovery
// path for transient fetch failures; pending edits are untouched either
// way. A response arriving after Deactivate is dropped.
func (s *ViewService) Refresh(ctx context.Context) error {
	gen := s.gen.Load()

	rows, err := s.src.Select(ctx, s.table, source.Filter{}, "checkintimestamp desc")
	if err != nil {
		return fmt.Errorf("refresh select: %w", err)
	}
	if s.gen.Load() != gen {
		return nil
	}

	records := make([]model.CanonicalRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.norm.Normalize(row))
	}
	s.buffer.ApplyServerBatch(records, time.Now().UTC())
	return nil
}

// List returns the projected, presentation-ready slice of the merged view.
func (s *ViewService) List(c store.Criteria) []model.CanonicalRecord {
	return store.Project(s.buffer.Snapshot(), c)
}

// SubmitEdit applies a local edit optimistically, then pushes it to the
// store. On rejection the edit is retained with a failure flag and an ops
// alert goes out; the caller still gets the error for inline surfacing.
func (s *ViewService) SubmitEdit(ctx context.Context, identity string, fields model.Fields) error {
	submittedAt := time.Now().UTC()
	s.buffer.ApplyLocalEdit(identity, fields, submittedAt)

	gen := s.gen.Load()
	confirmed, err := s.cb.Execute(func() (any, error) {
		return s.src.Update(ctx, s.table, identity, wireFields(fields))
	})
	if s.gen.Load() != gen {
		return nil
	}
	if err != nil {
		s.buffer.ReconcileFailure(identity)
		s.alert(ctx, identity, err)
		return fmt.Errorf("update record %s: %w", identity, err)
	}

	rec := s.norm.Normalize(confirmed.(model.RawRow))
	s.buffer.Confirm(rec, time.Now().UTC())
	return nil
}

// Create inserts a new record optimistically under a temporary identity,
// then migrates it to the store-assigned identity once the insert is
// confirmed. The returned identity is the final one on success, the
// temporary one when the insert failed and the edit is parked.
func (s *ViewService) Create(ctx context.Context, subjectID string, fields model.Fields) (string, error) {
	submittedAt := time.Now().UTC()
	tempID := "tmp-" + uuid.NewString()

	local := fields.Clone()
	local[model.FieldSubject] = subjectID
	s.buffer.ApplyLocalEdit(tempID, local, submittedAt)

	gen := s.gen.Load()
	confirmed, err := s.cb.Execute(func() (any, error) {
		return s.src.Insert(ctx, s.table, wireRow(subjectID, fields))
	})
	if s.gen.Load() != gen {
		return tempID, nil
	}
	if err != nil {
		s.buffer.ReconcileFailure(tempID)
		s.alert(ctx, tempID, err)
		return tempID, fmt.Errorf("create record: %w", err)
	}

	rec := s.norm.Normalize(confirmed.(model.RawRow))
	if err := s.buffer.MigrateIdentity(tempID, rec.Identity); err != nil {
		// Fatal to this record only: drop the optimistic copy and force
		// a fresh fetch for the confirmed identity.
		s.log.Error().Err(err).Str("temp", tempID).Str("final", rec.Identity).
			Msg("Identity migration failed, refetching record")
		s.buffer.Forget(tempID)
		s.refetchOne(ctx, rec.Identity)
		return rec.Identity, nil
	}

	s.buffer.Confirm(rec, time.Now().UTC())
	return rec.Identity, nil
}

// Remove deletes a record. Unlike edits there is no optimistic tombstone
// before confirmation; a failed delete leaves the record in place.
func (s *ViewService) Remove(ctx context.Context, identity string) error {
	gen := s.gen.Load()
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.src.Delete(ctx, s.table, identity)
	})
	if s.gen.Load() != gen {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete record %s: %w", identity, err)
	}
	s.buffer.Delete(identity)
	return nil
}

func (s *ViewService) refetchOne(ctx context.Context, identity string) {
	rows, err := s.src.Select(ctx, s.table, source.Filter{Identity: identity}, "")
	if err != nil {
		s.log.Error().Err(err).Str("identity", identity).Msg("Forced refetch failed")
		return
	}
	records := make([]model.CanonicalRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.norm.Normalize(row))
	}
	s.buffer.ApplyServerBatch(records, time.Now().UTC())
}

func (s *ViewService) alert(ctx context.Context, identity string, cause error) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EditFailed(ctx, identity, cause); err != nil {
		s.log.Error().Err(err).Str("identity", identity).Msg("Failed to send edit-failure alert")
	}
}

// wireFields renders a field override set in the store's column names.
func wireFields(fields model.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		switch name {
		case model.FieldStatus:
			out["status"] = fmt.Sprint(v)
		case model.FieldCheckIn:
			out["checkintimestamp"] = wireTimeValue(v)
		case model.FieldCheckOut:
			out["checkouttimestamp"] = wireTimeValue(v)
		case model.FieldSubject:
			out["employeeid"] = fmt.Sprint(v)
		}
	}
	return out
}

// wireRow renders a create's fields as a wire row.
func wireRow(subjectID string, fields model.Fields) model.RawRow {
	row := model.RawRow{EmployeeID: subjectID}
	now := time.Now().UTC().Format(time.RFC3339)
	row.SubmittedTimestamp = &now
	for name, v := range fields {
		switch name {
		case model.FieldStatus:
			status := fmt.Sprint(v)
			row.Status = &status
		case model.FieldCheckIn:
			row.CheckInTimestamp = wireTimeValue(v)
		case model.FieldCheckOut:
			row.CheckOutTimestamp = wireTimeValue(v)
		}
	}
	return row
}

func wireTimeValue(v any) *string {
	var t *time.Time
	switch tv := v.(type) {
	case *time.Time:
		t = tv
	case time.Time:
		t = &tv
	}
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
