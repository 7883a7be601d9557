package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recordstore.service/internal/core/model"
)

// Wire columns a partial update may touch.
var updatableColumns = map[string]string{
	"status":             "status",
	"checkintimestamp":   "check_in_time",
	"checkouttimestamp":  "check_out_time",
	"submittedtimestamp": "submitted_at",
	"employeeid":         "employee_id",
}

// PostgresSource is the production RemoteSource: attendance rows in
// PostgreSQL, display fields joined from the employees table, change feed
// delegated to an external provider (SQS in this deployment).
type PostgresSource struct {
	db   *sql.DB
	feed Feed
}

// NewPostgresSource wires a source over an open connection pool. feed may
// be nil for batch-only usage; Subscribe then returns ErrNoFeed.
func NewPostgresSource(db *sql.DB, feed Feed) *PostgresSource {
	return &PostgresSource{db: db, feed: feed}
}

const selectColumns = `a.id, a.employee_id, a.check_in_time, a.check_out_time, a.submitted_at, a.status, e.full_name`

// Select fetches wire rows with the employee join expanded.
func (s *PostgresSource) Select(ctx context.Context, table string, f Filter, orderBy string) ([]model.RawRow, error) {
	if table != model.TableAttendance {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	query := `SELECT ` + selectColumns + `
              FROM attendance_records a
              LEFT JOIN employees e ON e.id = a.employee_id`

	var (
		conds []string
		args  []any
	)
	if f.Identity != "" {
		args = append(args, f.Identity)
		conds = append(conds, fmt.Sprintf("a.id = $%d", len(args)))
	}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		conds = append(conds, fmt.Sprintf("a.employee_id = $%d", len(args)))
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.employee_id", f.SubjectID))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + sanitizeOrderBy(orderBy)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select attendance rows: %w", err)
	}
	defer rows.Close()

	var out []model.RawRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert creates a row and returns the confirmed, join-expanded copy.
func (s *PostgresSource) Insert(ctx context.Context, table string, row model.RawRow) (model.RawRow, error) {
	if table != model.TableAttendance {
		return model.RawRow{}, fmt.Errorf("unknown table %q", table)
	}

	employeeID, _ := row.EmployeeID.(string)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.employee_id", employeeID))

	status := ""
	if row.Status != nil {
		status = *row.Status
	}

	var id int64
	query := `INSERT INTO attendance_records (employee_id, check_in_time, check_out_time, submitted_at, status)
              VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := s.db.QueryRowContext(ctx, query,
		employeeID,
		nullTime(row.CheckInTimestamp),
		nullTime(row.CheckOutTimestamp),
		nullTime(row.SubmittedTimestamp),
		status,
	).Scan(&id)
	if err != nil {
		return model.RawRow{}, fmt.Errorf("insert attendance row: %w", err)
	}

	return s.selectOne(ctx, fmt.Sprintf("%d", id))
}

// Update applies partial wire-column overrides and returns the confirmed row.
func (s *PostgresSource) Update(ctx context.Context, table string, identity string, fields map[string]any) (model.RawRow, error) {
	if table != model.TableAttendance {
		return model.RawRow{}, fmt.Errorf("unknown table %q", table)
	}
	if len(fields) == 0 {
		return s.selectOne(ctx, identity)
	}

	var (
		sets []string
		args []any
	)
	for wire, v := range fields {
		col, ok := updatableColumns[wire]
		if !ok {
			return model.RawRow{}, fmt.Errorf("column %q is not updatable", wire)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, identity)

	query := fmt.Sprintf("UPDATE attendance_records SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return model.RawRow{}, fmt.Errorf("update attendance row %s: %w", identity, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.RawRow{}, fmt.Errorf("update attendance row %s: %w", identity, sql.ErrNoRows)
	}

	return s.selectOne(ctx, identity)
}

// Delete removes one row.
func (s *PostgresSource) Delete(ctx context.Context, table string, identity string) error {
	if table != model.TableAttendance {
		return fmt.Errorf("unknown table %q", table)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, identity)
	if err != nil {
		return fmt.Errorf("delete attendance row %s: %w", identity, err)
	}
	return nil
}

// Subscribe delegates to the configured change-feed provider.
func (s *PostgresSource) Subscribe(ctx context.Context, table string, events []EventType) (<-chan ChangeEvent, error) {
	if s.feed == nil {
		return nil, ErrNoFeed
	}
	return s.feed.Subscribe(ctx, table, events)
}

func (s *PostgresSource) selectOne(ctx context.Context, identity string) (model.RawRow, error) {
	rows, err := s.Select(ctx, model.TableAttendance, Filter{Identity: identity}, "")
	if err != nil {
		return model.RawRow{}, err
	}
	if len(rows) == 0 {
		return model.RawRow{}, fmt.Errorf("attendance row %s: %w", identity, sql.ErrNoRows)
	}
	return rows[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow renders a database row in the wire shape: timestamps as RFC3339
// strings or null, ids as strings, joined display data as a sub-record.
func scanRow(r rowScanner) (model.RawRow, error) {
	var (
		id          int64
		employeeID  sql.NullString
		checkIn     sql.NullTime
		checkOut    sql.NullTime
		submittedAt sql.NullTime
		status      sql.NullString
		fullName    sql.NullString
	)
	if err := r.Scan(&id, &employeeID, &checkIn, &checkOut, &submittedAt, &status, &fullName); err != nil {
		return model.RawRow{}, err
	}

	row := model.RawRow{
		ID:                 fmt.Sprintf("%d", id),
		EmployeeID:         employeeID.String,
		CheckInTimestamp:   wireTime(checkIn),
		CheckOutTimestamp:  wireTime(checkOut),
		SubmittedTimestamp: wireTime(submittedAt),
	}
	if status.Valid {
		row.Status = &status.String
	}
	if fullName.Valid {
		row.Employee = &model.RawEmployee{FullName: &fullName.String}
	}
	return row, nil
}

func wireTime(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.UTC().Format(time.RFC3339)
	return &s
}

func nullTime(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return t.UTC()
	}
	return nil
}

// sanitizeOrderBy allows a small set of store-side orderings and falls
// back to a stable default for anything else.
func sanitizeOrderBy(orderBy string) string {
	switch strings.ToLower(strings.TrimSpace(orderBy)) {
	case "checkintimestamp desc":
		return "a.check_in_time DESC NULLS LAST, a.id ASC"
	case "checkintimestamp asc":
		return "a.check_in_time ASC NULLS LAST, a.id ASC"
	default:
		return "a.id ASC"
	}
}
