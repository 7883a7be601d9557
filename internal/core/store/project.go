package store

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"recordstore.service/internal/core/model"
)

// Criteria selects and orders the visible slice of the merged record set.
// The zero value matches everything.
type Criteria struct {
	// Search is a case-insensitive substring match against the display
	// name and the subject id.
	Search string
	// Statuses restricts to an exact closed set when non-empty.
	Statuses []model.Status
	// From and To bound the record's most recent timestamp, inclusive.
	// Records with no timestamp at all are excluded when a bound is set.
	From *time.Time
	To   *time.Time
}

// Project filters and orders records for presentation. It is a pure view
// function: full recompute on every call, no state carried between calls,
// and the result is never nil. Ordering is most-recent-timestamp-first with
// ties broken by identity ascending, so pagination is stable across
// re-renders.
func Project(records []model.CanonicalRecord, c Criteria) []model.CanonicalRecord {
	out := make([]model.CanonicalRecord, 0, len(records))
	search := strings.ToLower(strings.TrimSpace(c.Search))
	for _, rec := range records {
		if matches(rec, c, search) {
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].LatestTimestamp(), out[j].LatestTimestamp()
		switch {
		case ti == nil && tj == nil:
			return identityLess(out[i].Identity, out[j].Identity)
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.After(*tj)
		default:
			return identityLess(out[i].Identity, out[j].Identity)
		}
	})
	return out
}

func matches(rec model.CanonicalRecord, c Criteria, search string) bool {
	if search != "" {
		name := strings.ToLower(rec.Joined.DisplayName)
		subject := strings.ToLower(rec.SubjectID)
		if !strings.Contains(name, search) && !strings.Contains(subject, search) {
			return false
		}
	}

	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.From != nil || c.To != nil {
		latest := rec.LatestTimestamp()
		if latest == nil {
			return false
		}
		if c.From != nil && latest.Before(*c.From) {
			return false
		}
		if c.To != nil && latest.After(*c.To) {
			return false
		}
	}
	return true
}

// identityLess orders identities numerically when both parse as integers
// (serial store ids), lexicographically otherwise (temporary uuid ids).
func identityLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
