// Package report implements the pure transformation layer: date-range
// filtering, cohort grouping, the three report sort contracts, and the
// organization and group roll-ups. Every function here is deterministic
// over its inputs, consumes the decoded records produced by the schema
// package, and never touches the cache or the network.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/schema"
)

// DateLayout is the wire format for report dates (MM-DD-YY).
const DateLayout = "01-02-06"

// ParseDate parses an MM-DD-YY date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// FormatDate renders a time as MM-DD-YY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Range is an inclusive date range.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange parses and validates an MM-DD-YY date range. The range is
// rejected, not coerced, when either bound is malformed or end precedes
// start.
func NewRange(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("invalid start date %q: expected MM-DD-YY", start)
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, fmt.Errorf("invalid end date %q: expected MM-DD-YY", end)
	}
	if e.Before(s) {
		return Range{}, fmt.Errorf("end date %s precedes start date %s", end, start)
	}
	return Range{Start: s, End: e}, nil
}

// Contains reports whether t falls within the range, boundaries included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// CoversAll reports whether the range spans the tenant's entire history:
// it starts at or before the tenant's minimum start date and ends at or
// after today. Such a range bypasses per-row date filtering.
func (r Range) CoversAll(minStart, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !r.Start.After(minStart) && !r.End.Before(today)
}

// rowDate parses the date portion of a record field. Fields may carry a
// trailing time component ("06-15-25 13:45"); only the leading token is
// considered.
func rowDate(field string) (time.Time, bool) {
	token := strings.TrimSpace(field)
	if i := strings.IndexByte(token, ' '); i >= 0 {
		token = token[:i]
	}
	t, err := time.Parse(DateLayout, token)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// timestampLayouts are the submission-timestamp formats the sheets emit,
// most precise first.
var timestampLayouts = []string{
	"01-02-06 15:04:05",
	"01-02-06 15:04",
}

// rowTimestamp parses a full submission timestamp when a time component is
// present, falling back to the bare date. Ordering comparators use this so
// same-day entries keep their intra-day order.
func rowTimestamp(field string) (time.Time, bool) {
	token := strings.TrimSpace(field)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t, true
		}
	}
	return rowDate(token)
}

// FilterSubmissionsByDate keeps submissions whose submitted date parses
// and falls within the range. Records with a missing or unparsable date
// are excluded.
func FilterSubmissionsByDate(subs []schema.Submission, rng Range) []schema.Submission {
	filtered := make([]schema.Submission, 0, len(subs))
	for _, s := range subs {
		d, ok := rowDate(s.Submitted)
		if !ok || !rng.Contains(d) {
			continue
		}
		filtered = append(filtered, s)
	}
	return filtered
}

// FilterRegistrantsByDate keeps registrants whose selected date field
// parses and falls within the range. dateOf picks the field under test
// (enrolled date, issued date); records with an unparsable value are
// excluded.
func FilterRegistrantsByDate(regs []schema.Registrant, dateOf func(schema.Registrant) string, rng Range) []schema.Registrant {
	filtered := make([]schema.Registrant, 0, len(regs))
	for _, r := range regs {
		d, ok := rowDate(dateOf(r))
		if !ok || !rng.Contains(d) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
