package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"recordstore.service/internal/core/model"
)

// MemorySource is a complete in-memory RemoteSource, change feed included.
// It backs the test suites and local development without Postgres or SQS.
type MemorySource struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[string]map[string]model.RawRow // table -> identity -> row
	employees map[string]string                  // subject id -> display name
	subs      map[int]*memorySub
	nextSub   int

	// MutationErr, when set, fails every Insert/Update/Delete. Test hook
	// for the mutation-rejection path.
	MutationErr error
}

type memorySub struct {
	table  string
	wanted map[EventType]struct{}
	ch     chan ChangeEvent
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		rows:      make(map[string]map[string]model.RawRow),
		employees: make(map[string]string),
		subs:      make(map[int]*memorySub),
	}
}

// SetEmployee seeds join data for a subject id.
func (m *MemorySource) SetEmployee(id, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[id] = displayName
}

// Select returns matching rows with the employee join expanded.
func (m *MemorySource) Select(_ context.Context, table string, f Filter, _ string) ([]model.RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.RawRow, 0)
	for id, row := range m.rows[table] {
		if f.Identity != "" && id != f.Identity {
			continue
		}
		if f.SubjectID != "" && fmt.Sprint(row.EmployeeID) != f.SubjectID {
			continue
		}
		out = append(out, m.joinLocked(row))
	}
	return out, nil
}

// Insert stores a row, assigning the next serial identity when the row
// carries none, and emits an INSERT feed event.
func (m *MemorySource) Insert(_ context.Context, table string, row model.RawRow) (model.RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MutationErr != nil {
		return model.RawRow{}, m.MutationErr
	}

	id := fmt.Sprint(row.ID)
	if row.ID == nil || id == "" {
		m.nextID++
		id = strconv.FormatInt(m.nextID, 10)
	}
	row.ID = id

	if m.rows[table] == nil {
		m.rows[table] = make(map[string]model.RawRow)
	}
	m.rows[table][id] = row

	joined := m.joinLocked(row)
	m.emitLocked(ChangeEvent{Type: EventInsert, Table: table, Row: joined, OccurredAt: time.Now().UTC()})
	return joined, nil
}

// Update applies partial wire-column overrides and emits an UPDATE event.
func (m *MemorySource) Update(_ context.Context, table string, identity string, fields map[string]any) (model.RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MutationErr != nil {
		return model.RawRow{}, m.MutationErr
	}

	row, ok := m.rows[table][identity]
	if !ok {
		return model.RawRow{}, fmt.Errorf("row %s not found in %s", identity, table)
	}

	for wire, v := range fields {
		switch wire {
		case "status":
			row.Status = anyToStringPtr(v)
		case "checkintimestamp":
			row.CheckInTimestamp = anyToStringPtr(v)
		case "checkouttimestamp":
			row.CheckOutTimestamp = anyToStringPtr(v)
		case "submittedtimestamp":
			row.SubmittedTimestamp = anyToStringPtr(v)
		case "employeeid":
			row.EmployeeID = v
		default:
			return model.RawRow{}, fmt.Errorf("column %q is not updatable", wire)
		}
	}
	m.rows[table][identity] = row

	joined := m.joinLocked(row)
	m.emitLocked(ChangeEvent{Type: EventUpdate, Table: table, Row: joined, OccurredAt: time.Now().UTC()})
	return joined, nil
}

// Delete removes a row and emits a DELETE event carrying the identity only.
func (m *MemorySource) Delete(_ context.Context, table string, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MutationErr != nil {
		return m.MutationErr
	}

	delete(m.rows[table], identity)
	m.emitLocked(ChangeEvent{Type: EventDelete, Table: table, Row: model.RawRow{ID: identity}, OccurredAt: time.Now().UTC()})
	return nil
}

// Subscribe registers a feed consumer. The stream closes when ctx is
// cancelled.
func (m *MemorySource) Subscribe(ctx context.Context, table string, events []EventType) (<-chan ChangeEvent, error) {
	wanted := make(map[EventType]struct{}, len(events))
	for _, e := range events {
		wanted[e] = struct{}{}
	}

	sub := &memorySub{table: table, wanted: wanted, ch: make(chan ChangeEvent, 64)}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// SubscriberCount reports active feed subscriptions. Test hook for the
// idempotent subscribe/unsubscribe contract.
func (m *MemorySource) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// EmitStale injects a feed event directly, bypassing row storage. Test
// hook for stale and out-of-order delivery.
func (m *MemorySource) EmitStale(ev ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(ev)
}

func (m *MemorySource) emitLocked(ev ChangeEvent) {
	for _, sub := range m.subs {
		if sub.table != ev.Table {
			continue
		}
		if len(sub.wanted) > 0 {
			if _, ok := sub.wanted[ev.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer; at-least-once permits dropping here, a
			// later refresh reconverges.
		}
	}
}

func (m *MemorySource) joinLocked(row model.RawRow) model.RawRow {
	if name, ok := m.employees[fmt.Sprint(row.EmployeeID)]; ok {
		n := name
		row.Employee = &model.RawEmployee{FullName: &n}
	}
	return row
}

func anyToStringPtr(v any) *string {
	switch s := v.(type) {
	case nil:
		return nil
	case *string:
		return s
	case string:
		return &s
	case time.Time:
		str := s.UTC().Format(time.RFC3339)
		return &str
	default:
		str := fmt.Sprint(v)
		return &str
	}
}
