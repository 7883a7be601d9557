package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"recordstore.service/internal/core/model"
)

// Timestamp layouts accepted from the wire, tried in order. Anything else
// is treated the same as null.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts wire rows into canonical records. The conversion is
// total: any combination of missing, null or malformed fields yields a
// usable record. Malformed values are reported once per distinct value
// through the diagnostic logger, then defaulted, so one bad row never
// drops a batch.
type Normalizer struct {
	log zerolog.Logger

	mu       sync.Mutex
	reported map[string]struct{}
}

// New returns a Normalizer that sends diagnostics to the given logger.
func New(log zerolog.Logger) *Normalizer {
	return &Normalizer{
		log:      log,
		reported: make(map[string]struct{}),
	}
}

// Normalize produces the CanonicalRecord for a raw row. The record content
// is a pure function of the row; diagnostics are the only side channel.
func (n *Normalizer) Normalize(raw model.RawRow) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		Identity:  CoerceID(raw.ID),
		SubjectID: CoerceID(raw.EmployeeID),
		Timestamps: map[string]*time.Time{
			model.TSCheckIn:   n.parseTimestamp("checkintimestamp", raw.CheckInTimestamp),
			model.TSCheckOut:  n.parseTimestamp("checkouttimestamp", raw.CheckOutTimestamp),
			model.TSSubmitted: n.parseTimestamp("submittedtimestamp", raw.SubmittedTimestamp),
		},
		Status: n.parseStatus(raw.Status),
	}

	if raw.Employee != nil && raw.Employee.FullName != nil {
		rec.Joined.DisplayName = strings.TrimSpace(*raw.Employee.FullName)
		rec.Joined.Initials = initials(rec.Joined.DisplayName)
	}

	rec.Derived = Recompute(rec.Timestamps)
	return rec
}

// Recompute derives the computed fields from the timestamp slots alone, so
// they can never drift from their inputs.
func Recompute(ts map[string]*time.Time) model.Derived {
	in := ts[model.TSCheckIn]
	out := ts[model.TSCheckOut]
	if in == nil || out == nil || !out.After(*in) {
		// nil, not zero: zero hours would claim work happened in no time.
		return model.Derived{}
	}
	h := out.Sub(*in).Hours()
	return model.Derived{WorkHours: &h}
}

func (n *Normalizer) parseTimestamp(field string, raw *string) *time.Time {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	s := strings.TrimSpace(*raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	n.reportOnce("timestamp:"+s, func(e *zerolog.Event) {
		e.Str("field", field).Str("value", s).Msg("Unparseable wire timestamp, treating as null")
	})
	return nil
}

func (n *Normalizer) parseStatus(raw *string) model.Status {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return model.StatusUnknown
	}
	status, ok := model.ParseStatus(*raw)
	if !ok {
		n.reportOnce("status:"+strings.ToUpper(strings.TrimSpace(*raw)), func(e *zerolog.Event) {
			e.Str("value", *raw).Msg("Unrecognized wire status, mapping to UNKNOWN")
		})
	}
	return status
}

// reportOnce emits a diagnostic the first time a distinct malformed value is
// seen by this normalizer instance.
func (n *Normalizer) reportOnce(key string, emit func(*zerolog.Event)) {
	n.mu.Lock()
	_, seen := n.reported[key]
	if !seen {
		n.reported[key] = struct{}{}
	}
	n.mu.Unlock()
	if !seen {
		emit(n.log.Warn())
	}
}

// CoerceID renders the identity value a row carries (numeric or string)
// as a stable string key. Unknown shapes become empty.
func CoerceID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		// JSON numbers decode as float64; ids are integral in practice.
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// initials derives up to two avatar initials from a display name.
func initials(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	first := []rune(parts[0])
	out := strings.ToUpper(string(first[0]))
	if len(parts) > 1 {
		last := []rune(parts[len(parts)-1])
		out += strings.ToUpper(string(last[0]))
	}
	return out
}
