package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sheet-reports/sheet-reports/internal/schema"
)

func numeric(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// SortCertificates applies the certificate report ordering: registrants
// without a valid issued date first (organization asc, last name asc,
// first name asc), then registrants with a valid issued date (issued date
// desc, year desc, cohort desc, last name asc, first name asc). Returns
// the ordered wire rows.
func SortCertificates(regs []schema.Registrant) [][]string {
	var pending, issued []schema.Registrant
	for _, r := range regs {
		if _, ok := rowDate(r.IssuedDate); ok {
			issued = append(issued, r)
		} else {
			pending = append(pending, r)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Organization != b.Organization {
			return a.Organization < b.Organization
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.FirstName < b.FirstName
	})

	sort.SliceStable(issued, func(i, j int) bool {
		a, b := issued[i], issued[j]
		da, _ := rowDate(a.IssuedDate)
		db, _ := rowDate(b.IssuedDate)
		if !da.Equal(db) {
			return da.After(db)
		}
		if ya, yb := numeric(a.Year), numeric(b.Year); ya != yb {
			return ya > yb
		}
		if ca, cb := numeric(a.Cohort), numeric(b.Cohort); ca != cb {
			return ca > cb
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.FirstName < b.FirstName
	})

	rows := make([][]string, 0, len(regs))
	for _, r := range pending {
		rows = append(rows, r.Row)
	}
	for _, r := range issued {
		rows = append(rows, r.Row)
	}
	return rows
}

// SortRegistrants applies the registrants-by-cohort ordering to
// submissions: year desc, cohort month desc, submission timestamp desc.
// The timestamp comparison keeps the time-of-day component so same-day
// submissions order by clock time.
func SortRegistrants(subs []schema.Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if ya, yb := numeric(a.Year), numeric(b.Year); ya != yb {
			return ya > yb
		}
		if ca, cb := numeric(a.Cohort), numeric(b.Cohort); ca != cb {
			return ca > cb
		}
		ta, _ := rowTimestamp(a.Submitted)
		tb, _ := rowTimestamp(b.Submitted)
		return ta.After(tb)
	})
}

// SortEnrollees applies the enrollees ordering to registrants: enrolled
// date desc, then last name asc. Records whose enrolled date does not
// parse tie on date and fall through to the name comparator.
func SortEnrollees(regs []schema.Registrant) {
	sort.SliceStable(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		da, _ := rowDate(a.EnrolledDate)
		db, _ := rowDate(b.EnrolledDate)
		if !da.Equal(db) {
			return da.After(db)
		}
		return a.LastName < b.LastName
	})
}
