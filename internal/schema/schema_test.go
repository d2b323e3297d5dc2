package schema

import (
	"errors"
	"reflect"
	"testing"
)

// registrantRow builds a full-width registrants row with recognizable values.
func registrantRow() []string {
	return []string{
		"06-01-25 09:30:00", // submitted
		"Ada",               // first
		"Lovelace",          // last
		"ada@example.org",   // email
		"Acme Elementary",   // organization
		"2025",              // year
		"06-25",             // cohort
		"Yes",               // enrolled
		"06-02-25",          // enrolled date
		"06-03-25",          // tou date
		"Yes",               // certificate
		"06-15-25",          // issued
	}
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestDecodeRegistrant(t *testing.T) {
	r, err := DecodeRegistrant(registrantRow())
	if err != nil {
		t.Fatalf("DecodeRegistrant() error: %v", err)
	}
	if r.LastName != "Lovelace" || r.Organization != "Acme Elementary" {
		t.Errorf("decoded fields wrong: %+v", r)
	}
	if r.Enrolled != Yes || r.Certificate != Yes {
		t.Errorf("sentinel fields wrong: enrolled=%q certificate=%q", r.Enrolled, r.Certificate)
	}
	if r.IssuedDate != "06-15-25" {
		t.Errorf("IssuedDate = %q", r.IssuedDate)
	}
}

func TestDecodeRegistrant_ShortRow(t *testing.T) {
	_, err := DecodeRegistrant([]string{"only", "four", "fields", "here"})
	var short *ErrShortRow
	if !errors.As(err, &short) {
		t.Fatalf("error = %v, want *ErrShortRow", err)
	}
	if short.Got != 4 {
		t.Errorf("Got = %d, want 4", short.Got)
	}
}

func TestDecodeSubmission(t *testing.T) {
	s, err := DecodeSubmission([]string{"05-01-25 14:00:00", "Grace", "Hopper", "grace@example.org", "Acme High", "2025", "05-25"})
	if err != nil {
		t.Fatalf("DecodeSubmission() error: %v", err)
	}
	if s.Cohort != "05-25" || s.Organization != "Acme High" {
		t.Errorf("decoded fields wrong: %+v", s)
	}
}

func TestDecodeRegistrants_SkipsMalformedRows(t *testing.T) {
	rows := [][]string{
		registrantRow(),
		{"too", "short"},
		registrantRow(),
	}
	got := DecodeRegistrants(rows)
	if len(got) != 2 {
		t.Errorf("DecodeRegistrants() kept %d rows, want 2", len(got))
	}
}

// ---------------------------------------------------------------------------
// NormalizeRows
// ---------------------------------------------------------------------------

func TestNormalizeRows(t *testing.T) {
	rows := [][]string{{"  Ada ", "Lovelace\t"}, {" Yes "}}
	NormalizeRows(rows)
	want := [][]string{{"Ada", "Lovelace"}, {"Yes"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("NormalizeRows() = %v, want %v", rows, want)
	}
}

// ---------------------------------------------------------------------------
// DemoRelabel
// ---------------------------------------------------------------------------

func TestDemoRelabel_StablePerSourceValue(t *testing.T) {
	rows := [][]string{
		{"a", "Acme Elementary"},
		{"b", "Acme High"},
		{"c", "Acme Elementary"},
		{"d", ""},
	}
	DemoRelabel(rows, 1, "Demo Organization")

	if rows[0][1] != "Demo Organization 1" || rows[2][1] != "Demo Organization 1" {
		t.Errorf("same source must map to same label: %v", rows)
	}
	if rows[1][1] != "Demo Organization 2" {
		t.Errorf("second distinct source = %q, want Demo Organization 2", rows[1][1])
	}
	if rows[3][1] != "" {
		t.Errorf("empty organization must stay empty, got %q", rows[3][1])
	}
}

func TestDemoRelabel_IgnoresShortRows(t *testing.T) {
	rows := [][]string{{"only-one-field"}}
	DemoRelabel(rows, 4, "Demo")
	if rows[0][0] != "only-one-field" {
		t.Errorf("short row mutated: %v", rows)
	}
}

func TestOrgColumn(t *testing.T) {
	if c, err := OrgColumn("registrants"); err != nil || c != RegColOrganization {
		t.Errorf("OrgColumn(registrants) = %d, %v", c, err)
	}
	if c, err := OrgColumn("submissions"); err != nil || c != SubColOrganization {
		t.Errorf("OrgColumn(submissions) = %d, %v", c, err)
	}
	if _, err := OrgColumn("bogus"); err == nil {
		t.Error("OrgColumn(bogus) = nil error, want error")
	}
}
