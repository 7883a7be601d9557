package normalize

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordstore.service/internal/core/model"
)

func strPtr(s string) *string { return &s }

func TestNormalizeWellFormedRow(t *testing.T) {
	n := New(zerolog.Nop())

	row := model.RawRow{
		ID:               "42",
		EmployeeID:       "emp-7",
		CheckInTimestamp: strPtr("2024-01-05T09:05:00Z"),
		Status:           strPtr("present"),
		Employee:         &model.RawEmployee{FullName: strPtr("Ana Lovelace")},
	}

	rec := n.Normalize(row)

	assert.Equal(t, "42", rec.Identity)
	assert.Equal(t, "emp-7", rec.SubjectID)
	assert.Equal(t, model.StatusPresent, rec.Status)
	require.NotNil(t, rec.Timestamps[model.TSCheckIn])
	assert.Equal(t, time.Date(2024, 1, 5, 9, 5, 0, 0, time.UTC), rec.Timestamps[model.TSCheckIn].UTC())
	// Checkout absent: no work duration, explicitly nil rather than zero.
	assert.Nil(t, rec.Timestamps[model.TSCheckOut])
	assert.Nil(t, rec.Derived.WorkHours)
	assert.Equal(t, "Ana Lovelace", rec.Joined.DisplayName)
	assert.Equal(t, "AL", rec.Joined.Initials)
}

func TestNormalizeMalformedRow(t *testing.T) {
	n := New(zerolog.Nop())

	rec := n.Normalize(model.RawRow{
		ID:               "7",
		CheckInTimestamp: strPtr("not-a-date"),
		Status:           strPtr("XYZ"),
	})

	assert.Nil(t, rec.Timestamps[model.TSCheckIn])
	assert.Equal(t, model.StatusUnknown, rec.Status)
}

func TestNormalizeTotality(t *testing.T) {
	n := New(zerolog.Nop())

	rows := []model.RawRow{
		{},
		{ID: nil, EmployeeID: nil},
		{ID: 3.0, Status: strPtr("")},
		{ID: "x", CheckInTimestamp: strPtr(""), CheckOutTimestamp: strPtr("   ")},
		{ID: "y", CheckInTimestamp: strPtr("2024-13-45T99:99:99Z")},
		{ID: "z", Employee: &model.RawEmployee{}},
		{ID: struct{}{}},
	}

	for _, row := range rows {
		assert.NotPanics(t, func() {
			rec := n.Normalize(row)
			assert.NotNil(t, rec.Timestamps)
			assert.NotEqual(t, model.Status(""), rec.Status)
		})
	}
}

func TestNormalizeStatusMapping(t *testing.T) {
	n := New(zerolog.Nop())

	cases := map[string]model.Status{
		"present":    model.StatusPresent,
		"PRESENT":    model.StatusPresent,
		"  Late ":    model.StatusLate,
		"half_day":   model.StatusHalfDay,
		"HalfDay":    model.StatusHalfDay,
		"not_marked": model.StatusNotMarked,
		"absent":     model.StatusAbsent,
		"vacation?":  model.StatusUnknown,
	}

	for wire, want := range cases {
		rec := n.Normalize(model.RawRow{ID: "1", Status: &wire})
		assert.Equal(t, want, rec.Status, "wire status %q", wire)
	}
}

func TestNormalizeWorkHours(t *testing.T) {
	n := New(zerolog.Nop())

	rec := n.Normalize(model.RawRow{
		ID:                "1",
		CheckInTimestamp:  strPtr("2024-01-05T09:00:00Z"),
		CheckOutTimestamp: strPtr("2024-01-05T17:30:00Z"),
	})
	require.NotNil(t, rec.Derived.WorkHours)
	assert.InDelta(t, 8.5, *rec.Derived.WorkHours, 1e-9)

	// Checkout before checkin is not zero work, it is no work duration.
	rec = n.Normalize(model.RawRow{
		ID:                "2",
		CheckInTimestamp:  strPtr("2024-01-05T17:00:00Z"),
		CheckOutTimestamp: strPtr("2024-01-05T09:00:00Z"),
	})
	assert.Nil(t, rec.Derived.WorkHours)

	// Equal instants likewise.
	rec = n.Normalize(model.RawRow{
		ID:                "3",
		CheckInTimestamp:  strPtr("2024-01-05T09:00:00Z"),
		CheckOutTimestamp: strPtr("2024-01-05T09:00:00Z"),
	})
	assert.Nil(t, rec.Derived.WorkHours)
}

func TestDerivedPurity(t *testing.T) {
	n := New(zerolog.Nop())

	rec := n.Normalize(model.RawRow{
		ID:               "1",
		CheckInTimestamp: strPtr("2024-01-05T09:00:00Z"),
	})
	assert.Nil(t, rec.Derived.WorkHours)

	// Mutating timestamps and recomputing changes derived identically,
	// regardless of any other field.
	out := time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC)
	rec.Timestamps[model.TSCheckOut] = &out
	rec.Derived = Recompute(rec.Timestamps)
	require.NotNil(t, rec.Derived.WorkHours)
	assert.InDelta(t, 4.0, *rec.Derived.WorkHours, 1e-9)

	rec.Timestamps[model.TSCheckOut] = nil
	rec.Derived = Recompute(rec.Timestamps)
	assert.Nil(t, rec.Derived.WorkHours)
}

func TestCoerceID(t *testing.T) {
	assert.Equal(t, "42", CoerceID("42"))
	assert.Equal(t, "42", CoerceID(float64(42)))
	assert.Equal(t, "42", CoerceID(int64(42)))
	assert.Equal(t, "42", CoerceID(42))
	assert.Equal(t, "", CoerceID(nil))
	assert.Equal(t, "", CoerceID(struct{}{}))
}

func TestTimestampLayoutFallbacks(t *testing.T) {
	n := New(zerolog.Nop())

	for _, wire := range []string{
		"2024-01-05T09:05:00Z",
		"2024-01-05T09:05:00.123Z",
		"2024-01-05T09:05:00",
		"2024-01-05 09:05:00",
		"2024-01-05",
	} {
		rec := n.Normalize(model.RawRow{ID: "1", CheckInTimestamp: &wire})
		assert.NotNil(t, rec.Timestamps[model.TSCheckIn], "layout %q", wire)
	}
}
