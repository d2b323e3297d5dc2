// Package schema pins the positional layout of the two raw sheet kinds and
// provides the typed decode step applied at the cache-read boundary. Everything
// downstream of this package works with named fields; the positional indices
// never leak past it.
package schema

import (
	"fmt"
	"strings"
)

// Yes is the canonical sentinel used by the sheets for boolean-ish columns
// (enrolled, certificate). Comparison is exact after trimming; the sheets are
// maintained with data validation so no case folding is applied.
const Yes = "Yes"

// Registrant sheet columns.
const (
	RegColSubmitted = iota
	RegColFirstName
	RegColLastName
	RegColEmail
	RegColOrganization
	RegColYear
	RegColCohort
	RegColEnrolled
	RegColEnrolledDate
	RegColTOUDate
	RegColCertificate
	RegColIssued

	registrantWidth
)

// Submission sheet columns.
const (
	SubColSubmitted = iota
	SubColFirstName
	SubColLastName
	SubColEmail
	SubColOrganization
	SubColYear
	SubColCohort

	submissionWidth
)

// Registrant is one decoded registrants-sheet row. Row retains the original
// positional fields so derived datasets can be persisted in the wire format
// without re-encoding.
type Registrant struct {
	Row []string

	Submitted    string // submission timestamp, "MM-DD-YY HH:MM:SS" or bare date
	FirstName    string
	LastName     string
	Email        string
	Organization string
	Year         string
	Cohort       string // cohort month, "1".."12"
	Enrolled     string
	EnrolledDate string // "MM-DD-YY"
	TOUDate      string // terms-of-use completion date, "MM-DD-YY"
	Certificate  string
	IssuedDate   string // "MM-DD-YY"
}

// Submission is one decoded submissions-sheet row (a registration event).
type Submission struct {
	Row []string

	Submitted    string
	FirstName    string
	LastName     string
	Email        string
	Organization string
	Year         string
	Cohort       string
}

// ErrShortRow reports a row with fewer fields than the schema requires.
type ErrShortRow struct {
	Want, Got int
}

func (e *ErrShortRow) Error() string {
	return fmt.Sprintf("row has %d fields, schema requires %d", e.Got, e.Want)
}

// DecodeRegistrant decodes a single positional row.
func DecodeRegistrant(row []string) (Registrant, error) {
	if len(row) < registrantWidth {
		return Registrant{}, &ErrShortRow{Want: registrantWidth, Got: len(row)}
	}
	return Registrant{
		Row:          row,
		Submitted:    row[RegColSubmitted],
		FirstName:    row[RegColFirstName],
		LastName:     row[RegColLastName],
		Email:        row[RegColEmail],
		Organization: row[RegColOrganization],
		Year:         row[RegColYear],
		Cohort:       row[RegColCohort],
		Enrolled:     row[RegColEnrolled],
		EnrolledDate: row[RegColEnrolledDate],
		TOUDate:      row[RegColTOUDate],
		Certificate:  row[RegColCertificate],
		IssuedDate:   row[RegColIssued],
	}, nil
}

// DecodeSubmission decodes a single positional row.
func DecodeSubmission(row []string) (Submission, error) {
	if len(row) < submissionWidth {
		return Submission{}, &ErrShortRow{Want: submissionWidth, Got: len(row)}
	}
	return Submission{
		Row:          row,
		Submitted:    row[SubColSubmitted],
		FirstName:    row[SubColFirstName],
		LastName:     row[SubColLastName],
		Email:        row[SubColEmail],
		Organization: row[SubColOrganization],
		Year:         row[SubColYear],
		Cohort:       row[SubColCohort],
	}, nil
}

// DecodeRegistrants decodes every well-formed row and skips short ones. A bad
// row never aborts the dataset.
func DecodeRegistrants(rows [][]string) []Registrant {
	out := make([]Registrant, 0, len(rows))
	for _, row := range rows {
		r, err := DecodeRegistrant(row)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DecodeSubmissions decodes every well-formed row and skips short ones.
func DecodeSubmissions(rows [][]string) []Submission {
	out := make([]Submission, 0, len(rows))
	for _, row := range rows {
		s, err := DecodeSubmission(row)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// NormalizeRows trims surrounding whitespace from every field in place and
// returns the rows for chaining. Sheet cells routinely carry trailing spaces
// from manual entry.
func NormalizeRows(rows [][]string) [][]string {
	for _, row := range rows {
		for i, field := range row {
			row[i] = strings.TrimSpace(field)
		}
	}
	return rows
}
