package model

import (
	"strings"
	"time"
)

// TableAttendance is the remote table the attendance view reconciles against.
const TableAttendance = "attendance_records"

// Named timestamp slots of a CanonicalRecord. Absent or null on the wire
// means "not yet occurred" and is kept as a nil entry.
const (
	TSCheckIn   = "checkIn"
	TSCheckOut  = "checkOut"
	TSSubmitted = "submitted"
)

// Status is the closed attendance classification. Wire rows may carry any
// string; everything unrecognized becomes StatusUnknown at normalization
// rather than leaking free text into the canonical layer.
type Status string

const (
	StatusPresent   Status = "PRESENT"
	StatusAbsent    Status = "ABSENT"
	StatusLate      Status = "LATE"
	StatusHalfDay   Status = "HALF_DAY"
	StatusNotMarked Status = "NOT_MARKED"
	StatusUnknown   Status = "UNKNOWN"
)

// ParseStatus maps a wire status string onto the enumeration,
// case-insensitively. The second return reports whether the value matched.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRESENT":
		return StatusPresent, true
	case "ABSENT":
		return StatusAbsent, true
	case "LATE":
		return StatusLate, true
	case "HALF_DAY", "HALFDAY", "HALF-DAY":
		return StatusHalfDay, true
	case "NOT_MARKED", "NOTMARKED", "NOT-MARKED":
		return StatusNotMarked, true
	default:
		return StatusUnknown, false
	}
}

// Derived holds fields recomputed from the timestamp slots on every
// normalization pass. They are never persisted independently.
type Derived struct {
	// WorkHours is checkOut minus checkIn in hours, nil unless both
	// instants are present and checkOut is after checkIn.
	WorkHours *float64 `json:"workHours,omitempty"`
}

// Joined is read-only display data expanded from a join at fetch time.
type Joined struct {
	DisplayName string `json:"displayName,omitempty"`
	Initials    string `json:"initials,omitempty"`
}

// CanonicalRecord is the normalized shape every feature converges on.
type CanonicalRecord struct {
	Identity   string                `json:"identity"`
	SubjectID  string                `json:"subjectId"`
	Timestamps map[string]*time.Time `json:"timestamps"`
	Status     Status                `json:"status"`
	Derived    Derived               `json:"derived"`
	Joined     Joined                `json:"joined"`

	// Flags attached by the merge buffer for the presentation layer.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// Clone returns a copy that shares no mutable state with the receiver.
func (r CanonicalRecord) Clone() CanonicalRecord {
	out := r
	out.Timestamps = make(map[string]*time.Time, len(r.Timestamps))
	for k, v := range r.Timestamps {
		if v != nil {
			t := *v
			out.Timestamps[k] = &t
		} else {
			out.Timestamps[k] = nil
		}
	}
	if r.Derived.WorkHours != nil {
		h := *r.Derived.WorkHours
		out.Derived.WorkHours = &h
	}
	return out
}

// LatestTimestamp returns the most recent non-nil timestamp slot, or nil
// when no instant has occurred yet.
func (r CanonicalRecord) LatestTimestamp() *time.Time {
	var latest *time.Time
	for _, v := range r.Timestamps {
		if v == nil {
			continue
		}
		if latest == nil || v.After(*latest) {
			latest = v
		}
	}
	return latest
}

// Field names a PendingEdit may override.
const (
	FieldStatus   = "status"
	FieldCheckIn  = "checkIn"
	FieldCheckOut = "checkOut"
	FieldSubject  = "subjectId"
)

// Fields is a partial, field-level override set. Timestamp values are
// *time.Time (nil clears the slot), status values are Status.
type Fields map[string]any

// Clone returns an independent copy of the override set.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// PendingEdit is an uncommitted local mutation awaiting confirmation from
// the remote store. Failed marks a rejected or conflicting mutation whose
// input must be re-presented to the user rather than silently reverted.
type PendingEdit struct {
	Identity    string
	Fields      Fields
	SubmittedAt time.Time
	Failed      bool
}

// RawRow is the wire shape rows arrive in from the remote data source.
// Every field may be absent or null; the normalizer owns turning this into
// a CanonicalRecord and must never fail doing so.
type RawRow struct {
	ID                 any          `json:"id,omitempty"`
	EmployeeID         any          `json:"employeeid,omitempty"`
	CheckInTimestamp   *string      `json:"checkintimestamp,omitempty"`
	CheckOutTimestamp  *string      `json:"checkouttimestamp,omitempty"`
	SubmittedTimestamp *string      `json:"submittedtimestamp,omitempty"`
	Status             *string      `json:"status,omitempty"`
	Employee           *RawEmployee `json:"employee,omitempty"`
}

// RawEmployee is the joined sub-record expanded by the source at fetch time.
// Display data only, never a source of truth.
type RawEmployee struct {
	FullName *string `json:"full_name,omitempty"`
}
