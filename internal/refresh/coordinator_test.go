package refresh

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/cache/fs"
	"github.com/sheet-reports/sheet-reports/internal/schema"
	"github.com/sheet-reports/sheet-reports/internal/sheets"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// fakeFetcher serves canned rows or errors per sheet name.
type fakeFetcher struct {
	rows   map[string][][]string
	errs   map[string]error
	calls  int64
	bySpec map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rows:   make(map[string][][]string),
		errs:   make(map[string]error),
		bySpec: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, spec sheets.FetchSpec) ([][]string, error) {
	atomic.AddInt64(&f.calls, 1)
	f.bySpec[spec.SheetName]++
	if err, ok := f.errs[spec.SheetName]; ok {
		return nil, err
	}
	return f.rows[spec.SheetName], nil
}

func testTenant() *tenant.Tenant {
	return &tenant.Tenant{
		ID:                  "acme",
		Name:                "Acme Learning",
		APIKey:              "key",
		WorkbookID:          "wb-1",
		RegistrantsSheet:    "Registrants",
		RegistrantsStartRow: 3,
		SubmissionsSheet:    "Submissions",
		SubmissionsStartRow: 2,
	}
}

func registrantRow(first, last, email, enrolled, cert string) []string {
	return []string{"01-01-25", first, last, email, "Acme", "2025", "1", enrolled, "01-05-25", "01-06-25", cert, ""}
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	backend, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("fs.New returned error: %v", err)
	}
	return cache.NewStore(backend)
}

// --- Freshness ---

func TestEnsureFreshRefreshesStaleCache(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No")}
	fetcher.rows["Submissions"] = [][]string{{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"}}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	result := coord.EnsureFresh(ctx, tn, time.Hour)
	if result.Status != StatusSuccess || !result.Refreshed {
		t.Fatalf("expected refreshed success, got %+v", result)
	}
	if !store.IsFresh(ctx, tn.ID, time.Hour) {
		t.Error("cache must be fresh immediately after a successful refresh")
	}

	again := coord.EnsureFresh(ctx, tn, time.Hour)
	if again.Refreshed {
		t.Errorf("fresh cache should not trigger a second refresh: %+v", again)
	}
	if got := atomic.LoadInt64(&fetcher.calls); got != 2 {
		t.Errorf("expected 2 fetches (one per dataset), got %d", got)
	}
}

func TestEnsureFreshZeroTTLAlwaysRefreshes(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{}
	fetcher.rows["Submissions"] = [][]string{}
	coord := New(store, fetcher)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if result := coord.EnsureFresh(ctx, testTenant(), 0); !result.Refreshed {
			t.Fatalf("zero TTL must always refresh, cycle %d got %+v", i, result)
		}
	}
	if got := fetcher.bySpec["Registrants"]; got != 2 {
		t.Errorf("expected 2 registrants fetches, got %d", got)
	}
}

func TestEnsureFreshRepairsIncompleteNamespace(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No")}
	fetcher.rows["Submissions"] = [][]string{{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"}}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	// Only a freshly stamped registrants envelope exists; the submissions
	// dataset and every derived entry were never written.
	if err := store.WriteRaw(ctx, tn.ID, cache.EntryRawRegistrants, [][]string{}, time.Now()); err != nil {
		t.Fatalf("WriteRaw returned error: %v", err)
	}

	result := coord.EnsureFresh(ctx, tn, time.Hour)
	if !result.Refreshed {
		t.Fatalf("incomplete cache must trigger a refresh, got %+v", result)
	}
	if got := atomic.LoadInt64(&fetcher.calls); got != 2 {
		t.Errorf("expected 2 fetches to repair the namespace, got %d", got)
	}
	if _, err := store.ReadRows(ctx, tn.ID, cache.EntryRegistrations); err != nil {
		t.Errorf("registrations must be readable after the repair cycle: %v", err)
	}
}

func TestEnsureFreshRetriesAfterStaleFallback(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No")}
	fetcher.rows["Submissions"] = [][]string{{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"}}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	// Seed a cycle stamped two hours in the past.
	past := time.Now().Add(-2 * time.Hour)
	coord.now = func() time.Time { return past }
	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("seed refresh failed: %+v", r)
	}
	coord.now = time.Now

	// Submissions outage: the cycle restamps registrants but serves the old
	// submissions envelope as a fallback.
	fetcher.errs["Submissions"] = unavailable()
	if r := coord.EnsureFresh(ctx, tn, time.Hour); r.Status != StatusWarning {
		t.Fatalf("expected warning on degraded cycle, got %+v", r)
	}

	// The fallback keeps its old timestamp, so the cache stays stale and
	// the next request retries the fetch instead of no-opping for a TTL.
	before := fetcher.bySpec["Submissions"]
	if r := coord.EnsureFresh(ctx, tn, time.Hour); !r.Refreshed {
		t.Fatalf("degraded cache must trigger another refresh, got %+v", r)
	}
	if fetcher.bySpec["Submissions"] <= before {
		t.Error("expected a submissions refetch after the degraded cycle")
	}
}

// --- Idempotence ---

func TestForceRefreshStableSourceYieldsIdenticalDerived(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{
		registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, schema.Yes),
		registrantRow("Grace", "Hopper", "grace@x.org", "No", "No"),
	}
	fetcher.rows["Submissions"] = [][]string{{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"}}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	readDerived := func() map[string][]byte {
		out := make(map[string][]byte)
		for _, name := range cache.DerivedEntries {
			rows, err := store.ReadRows(ctx, tn.ID, name)
			if err != nil {
				t.Fatalf("ReadRows(%s) returned error: %v", name, err)
			}
			var buf bytes.Buffer
			for _, row := range rows {
				for _, f := range row {
					buf.WriteString(f)
					buf.WriteByte(0)
				}
				buf.WriteByte('\n')
			}
			out[name] = buf.Bytes()
		}
		return out
	}

	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("first force refresh failed: %+v", r)
	}
	first := readDerived()
	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("second force refresh failed: %+v", r)
	}
	second := readDerived()

	for name := range first {
		if !bytes.Equal(first[name], second[name]) {
			t.Errorf("derived entry %s differs across identical refreshes", name)
		}
	}
}

// --- Derivation ---

func TestDerivedDatasetsFollowFlagColumns(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{
		registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, schema.Yes),
		registrantRow("Grace", "Hopper", "grace@x.org", schema.Yes, "No"),
		registrantRow("Alan", "Turing", "alan@x.org", "No", "No"),
	}
	fetcher.rows["Submissions"] = [][]string{
		{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"},
		{"01-03-25", "Grace", "Hopper", "grace@x.org", "Acme", "2025", "1"},
	}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("refresh failed: %+v", r)
	}

	registrations, err := store.ReadRows(ctx, tn.ID, cache.EntryRegistrations)
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}
	if len(registrations) != 2 {
		t.Errorf("registrations should carry every submission row, got %d", len(registrations))
	}

	enrollments, err := store.ReadRows(ctx, tn.ID, cache.EntryEnrollments)
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}
	if len(enrollments) != 2 {
		t.Errorf("expected 2 enrolled rows, got %d", len(enrollments))
	}

	certificates, err := store.ReadRows(ctx, tn.ID, cache.EntryCertificates)
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}
	if len(certificates) != 1 || certificates[0][schema.RegColFirstName] != "Ada" {
		t.Errorf("expected only Ada's certificate row, got %v", certificates)
	}
}

func TestRefreshNormalizesAndRelabelsDemoTenant(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{
		registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No"),
	}
	fetcher.rows["Submissions"] = [][]string{
		{" 01-02-25 ", "Ada", "Lovelace", "ada@x.org", "  Real School ", "2025", "1"},
		{"01-03-25", "Grace", "Hopper", "grace@x.org", "Other School", "2025", "1"},
	}
	coord := New(store, fetcher)
	tn := testTenant()
	tn.Demo = true
	tn.DemoLabel = "Demo Organization"
	ctx := context.Background()

	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("refresh failed: %+v", r)
	}

	envelope, err := store.ReadRaw(ctx, tn.ID, cache.EntryRawSubmissions)
	if err != nil {
		t.Fatalf("ReadRaw returned error: %v", err)
	}
	if envelope.Data[0][schema.SubColSubmitted] != "01-02-25" {
		t.Errorf("fields should be trimmed, got %q", envelope.Data[0][schema.SubColSubmitted])
	}
	if envelope.Data[0][schema.SubColOrganization] != "Demo Organization 1" {
		t.Errorf("expected relabeled org, got %q", envelope.Data[0][schema.SubColOrganization])
	}
	if envelope.Data[1][schema.SubColOrganization] != "Demo Organization 2" {
		t.Errorf("expected second distinct label, got %q", envelope.Data[1][schema.SubColOrganization])
	}
}

// --- Failure handling ---

func unavailable() error {
	return &sheets.ClassifiedError{Kind: sheets.ServiceUnavailable, Message: "upstream down"}
}

func TestPartialFailureKeepsCachedDatasetAndWarns(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No")}
	fetcher.rows["Submissions"] = [][]string{{"01-02-25", "Ada", "Lovelace", "ada@x.org", "Acme", "2025", "1"}}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	// Seed the cache with a good cycle, then break submissions.
	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("seed refresh failed: %+v", r)
	}
	before, err := store.ReadRaw(ctx, tn.ID, cache.EntryRawSubmissions)
	if err != nil {
		t.Fatalf("ReadRaw returned error: %v", err)
	}

	fetcher.errs["Submissions"] = unavailable()
	result := coord.ForceRefresh(ctx, tn)
	if result.Status != StatusWarning {
		t.Fatalf("expected warning on partial failure, got %+v", result)
	}

	after, err := store.ReadRaw(ctx, tn.ID, cache.EntryRawSubmissions)
	if err != nil {
		t.Fatalf("cached submissions must remain readable: %v", err)
	}
	if after.GlobalTimestamp != before.GlobalTimestamp {
		t.Error("stale fallback must not be restamped as fresh")
	}
	if len(after.Data) != len(before.Data) {
		t.Error("cached submissions data changed during failed fetch")
	}
}

func TestFetchFailureWithEmptyCacheIsError(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.errs["Registrants"] = unavailable()
	coord := New(store, fetcher)

	result := coord.ForceRefresh(context.Background(), testTenant())
	if result.Status != StatusError {
		t.Errorf("no cache and no fetch should be an error, got %+v", result)
	}
}

func TestAuthFailureIsErrorAndLeavesCacheUntouched(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{registrantRow("Ada", "Lovelace", "ada@x.org", schema.Yes, "No")}
	fetcher.rows["Submissions"] = [][]string{}
	coord := New(store, fetcher)
	tn := testTenant()
	ctx := context.Background()

	if r := coord.ForceRefresh(ctx, tn); r.Status != StatusSuccess {
		t.Fatalf("seed refresh failed: %+v", r)
	}
	before, err := store.ReadRaw(ctx, tn.ID, cache.EntryRawRegistrants)
	if err != nil {
		t.Fatalf("ReadRaw returned error: %v", err)
	}

	fetcher.errs["Registrants"] = &sheets.ClassifiedError{Kind: sheets.AuthError, Message: "bad key"}
	result := coord.ForceRefresh(ctx, tn)
	if result.Status != StatusError {
		t.Fatalf("expected error on auth failure, got %+v", result)
	}

	after, err := store.ReadRaw(ctx, tn.ID, cache.EntryRawRegistrants)
	if err != nil {
		t.Fatalf("ReadRaw returned error: %v", err)
	}
	if after.GlobalTimestamp != before.GlobalTimestamp || len(after.Data) != len(before.Data) {
		t.Error("auth failure must leave existing cache untouched")
	}
}

// --- Tenant isolation ---

func TestRefreshDoesNotTouchOtherTenants(t *testing.T) {
	store := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.rows["Registrants"] = [][]string{}
	fetcher.rows["Submissions"] = [][]string{}
	coord := New(store, fetcher)
	ctx := context.Background()

	if r := coord.ForceRefresh(ctx, testTenant()); r.Status != StatusSuccess {
		t.Fatalf("refresh failed: %+v", r)
	}

	other := testTenant()
	other.ID = "globex"
	if store.IsFresh(ctx, other.ID, time.Hour) {
		t.Error("refreshing one tenant must not make another appear fresh")
	}
	entries, err := store.Metadata(ctx, other.ID)
	if err != nil {
		t.Fatalf("Metadata returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("other tenant's namespace should be empty, found %v", entries)
	}
}
