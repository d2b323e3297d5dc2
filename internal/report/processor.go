package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sheet-reports/sheet-reports/internal/schema"
)

// EnrollmentMode selects which date drives the enrollments report.
type EnrollmentMode string

const (
	// ModeTOUCompletion filters enrolled registrants on their
	// terms-of-use completion date.
	ModeTOUCompletion EnrollmentMode = "tou_completion"
	// ModeRegistrationDate filters on the registration submission date,
	// cross-referencing submissions by email.
	ModeRegistrationDate EnrollmentMode = "registration_date"
)

// ParseEnrollmentMode validates a mode string. An empty mode defaults to
// TOU completion.
func ParseEnrollmentMode(s string) (EnrollmentMode, error) {
	switch EnrollmentMode(s) {
	case "", ModeTOUCompletion:
		return ModeTOUCompletion, nil
	case ModeRegistrationDate:
		return ModeRegistrationDate, nil
	default:
		return "", fmt.Errorf("invalid enrollment mode %q", s)
	}
}

// ErrMissingCrossRef is returned when the registration-date enrollment mode
// is requested without the submissions dataset it cross-references.
var ErrMissingCrossRef = errors.New("registration-date mode requires the submissions dataset")

// CohortGroup is one cohort's slice of a registrants report.
type CohortGroup struct {
	Cohort string     `json:"cohort"`
	Rows   [][]string `json:"rows"`
}

// Registrants builds the registrants-by-cohort report from decoded
// submissions. cohort is either a specific MM-YY key or CohortAll.
// allRange skips the per-record date filter (the caller detected a range
// spanning the tenant's whole history) but never re-introduces empty
// cohorts: grouping stays data-driven.
func Registrants(submissions []schema.Submission, rng Range, cohort string, allRange bool) ([]CohortGroup, error) {
	if !ValidCohortKey(cohort) {
		return nil, fmt.Errorf("invalid cohort key %q", cohort)
	}

	subs := submissions
	if !allRange {
		subs = FilterSubmissionsByDate(subs, rng)
	}

	buckets := make(map[string][]schema.Submission)
	for _, s := range subs {
		key, ok := cohortKey(s.Year, s.Cohort)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], s)
	}

	var keys []string
	if cohort == CohortAll {
		keys = CohortsPresent(subs)
	} else if len(buckets[cohort]) > 0 {
		keys = []string{cohort}
	}

	groups := make([]CohortGroup, 0, len(keys))
	for _, key := range keys {
		group := buckets[key]
		SortRegistrants(group)
		rows := make([][]string, len(group))
		for i, s := range group {
			rows[i] = s.Row
		}
		groups = append(groups, CohortGroup{Cohort: key, Rows: rows})
	}
	return groups, nil
}

// Enrollments builds the enrollees report from decoded registrants. In TOU
// mode the terms-of-use completion date is the filter; in registration-date
// mode the submission date found by email cross-reference is. allRange
// skips the date filter entirely. submissions may be nil except in
// registration-date mode.
func Enrollments(registrants []schema.Registrant, rng Range, submissions []schema.Submission, mode EnrollmentMode, allRange bool) ([][]string, error) {
	var submittedByEmail map[string]string
	if mode == ModeRegistrationDate {
		if submissions == nil {
			return nil, ErrMissingCrossRef
		}
		submittedByEmail = make(map[string]string, len(submissions))
		for _, s := range submissions {
			email := strings.ToLower(s.Email)
			if email == "" {
				continue
			}
			if _, ok := submittedByEmail[email]; !ok {
				submittedByEmail[email] = s.Submitted
			}
		}
	}

	enrolled := make([]schema.Registrant, 0, len(registrants))
	for _, r := range registrants {
		if r.Enrolled != schema.Yes {
			continue
		}

		if !allRange {
			var dateField string
			switch mode {
			case ModeRegistrationDate:
				dateField = submittedByEmail[strings.ToLower(r.Email)]
			default:
				dateField = r.TOUDate
			}
			d, ok := rowDate(dateField)
			if !ok || !rng.Contains(d) {
				continue
			}
		}

		enrolled = append(enrolled, r)
	}

	SortEnrollees(enrolled)
	rows := make([][]string, len(enrolled))
	for i, r := range enrolled {
		rows[i] = r.Row
	}
	return rows, nil
}

// Certificates builds the certificate report from decoded registrants.
// With a nil range every certificated record qualifies ("all time"); with
// a range the issued date must parse and fall within it. The two-group
// sort contract is applied either way.
func Certificates(registrants []schema.Registrant, rng *Range) [][]string {
	certified := make([]schema.Registrant, 0, len(registrants))
	for _, r := range registrants {
		if r.Certificate != schema.Yes {
			continue
		}
		if rng != nil {
			d, ok := rowDate(r.IssuedDate)
			if !ok || !rng.Contains(d) {
				continue
			}
		}
		certified = append(certified, r)
	}
	return SortCertificates(certified)
}

// OrgCount is one organization's roll-up row.
type OrgCount struct {
	Name          string `json:"name"`
	Registrations int    `json:"registrations"`
	Enrollments   int    `json:"enrollments"`
	Certificates  int    `json:"certificates"`
}

// Organizations counts three independently filtered record sets by
// organization. An organization present in any input appears in the output
// even when its other counts are zero. Records with an empty organization
// field are skipped. Output is sorted by organization name.
func Organizations(registrations []schema.Submission, enrollments, certificates []schema.Registrant) []OrgCount {
	counts := make(map[string]*OrgCount)
	bump := func(org string, apply func(*OrgCount)) {
		name := strings.TrimSpace(org)
		if name == "" {
			return
		}
		c, ok := counts[name]
		if !ok {
			c = &OrgCount{Name: name}
			counts[name] = c
		}
		apply(c)
	}

	for _, s := range registrations {
		bump(s.Organization, func(c *OrgCount) { c.Registrations++ })
	}
	for _, r := range enrollments {
		bump(r.Organization, func(c *OrgCount) { c.Enrollments++ })
	}
	for _, r := range certificates {
		bump(r.Organization, func(c *OrgCount) { c.Certificates++ })
	}

	out := make([]OrgCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GroupCount is one configured group's roll-up row.
type GroupCount struct {
	Group         string `json:"group"`
	Registrations int    `json:"registrations"`
	Enrollments   int    `json:"enrollments"`
	Certificates  int    `json:"certificates"`
}

// Groups rolls organization counts up to configured groups. orgGroups maps
// organization name to group name; an organization absent from the map
// contributes to no group. groupNames fixes the output order, and every
// named group appears even with all-zero counts.
func Groups(orgs []OrgCount, orgGroups map[string]string, groupNames []string) []GroupCount {
	byGroup := make(map[string]*GroupCount, len(groupNames))
	out := make([]GroupCount, len(groupNames))
	for i, name := range groupNames {
		out[i] = GroupCount{Group: name}
		byGroup[name] = &out[i]
	}

	for _, org := range orgs {
		group, ok := orgGroups[org.Name]
		if !ok {
			continue
		}
		c, ok := byGroup[group]
		if !ok {
			continue
		}
		c.Registrations += org.Registrations
		c.Enrollments += org.Enrollments
		c.Certificates += org.Certificates
	}

	return out
}
