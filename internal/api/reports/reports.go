// Package reports serves the tenant report views. Every handler follows the
// same shape: validate request parameters at the boundary, ensure the
// tenant's cache is fresh, compute the view with the pure report functions,
// and serialize the typed result.
//
// The data assembly lives in core functions that return typed values; the
// gin handlers are thin adapters that only translate parameters in and JSON
// out. Internal callers (the admin package, tests) can call the core
// functions directly without going through HTTP.
package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/middleware"
	"github.com/sheet-reports/sheet-reports/internal/refresh"
	"github.com/sheet-reports/sheet-reports/internal/report"
	"github.com/sheet-reports/sheet-reports/internal/schema"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// Handler serves all report routes for resolved tenants.
type Handler struct {
	store       *cache.Store
	coordinator *refresh.Coordinator
	ttl         time.Duration
	now         func() time.Time
}

// NewHandler constructs the report handler. ttl bounds cache staleness on
// every request path.
func NewHandler(store *cache.Store, coordinator *refresh.Coordinator, ttl time.Duration) *Handler {
	return &Handler{
		store:       store,
		coordinator: coordinator,
		ttl:         ttl,
		now:         time.Now,
	}
}

// errUpstream marks a refresh failure that left no usable cache.
type errUpstream struct{ message string }

func (e *errUpstream) Error() string { return e.message }

// ensureFresh runs the freshness check and translates a hard refresh error
// into errUpstream. A warning result is returned to the caller so the
// response can carry it alongside the data.
func (h *Handler) ensureFresh(ctx context.Context, t *tenant.Tenant) (string, error) {
	result := h.coordinator.EnsureFresh(ctx, t, h.ttl)
	if result.Status == refresh.StatusError {
		return "", &errUpstream{message: result.Message}
	}
	if result.Status == refresh.StatusWarning {
		return result.Message, nil
	}
	return "", nil
}

// parseRange reads and validates the start/end query parameters.
func parseRange(c *gin.Context) (report.Range, error) {
	start := c.Query("start")
	end := c.Query("end")
	if start == "" || end == "" {
		return report.Range{}, errors.New("start and end query parameters are required (MM-DD-YY)")
	}
	return report.NewRange(start, end)
}

// respond serializes a successful report, attaching the degradation warning
// when the refresh cycle produced one.
func respond(c *gin.Context, data any, warning string) {
	body := gin.H{"data": data}
	if warning != "" {
		body["warning"] = warning
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, err error) {
	var upstream *errUpstream
	if errors.As(err, &upstream) {
		c.JSON(http.StatusBadGateway, gin.H{"error": upstream.message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func tenantFrom(c *gin.Context) (*tenant.Tenant, bool) {
	t, ok := middleware.TenantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
	}
	return t, ok
}

// --- Registrants ---

// RegistrantsResult is the typed registrants-by-cohort report.
type RegistrantsResult struct {
	Cohorts []report.CohortGroup `json:"cohorts"`
}

// registrantsReport is the core assembly for the registrants view.
func (h *Handler) registrantsReport(ctx context.Context, t *tenant.Tenant, rng report.Range, cohort string) (*RegistrantsResult, error) {
	rows, err := h.store.ReadRows(ctx, t.ID, cache.EntryRegistrations)
	if err != nil {
		return nil, fmt.Errorf("reading registrations: %w", err)
	}

	allRange := rng.CoversAll(t.MinStartDate, h.now())
	groups, err := report.Registrants(schema.DecodeSubmissions(rows), rng, cohort, allRange)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []report.CohortGroup{}
	}
	return &RegistrantsResult{Cohorts: groups}, nil
}

// Registrants handles GET /reports/registrants?start=&end=&cohort=.
func (h *Handler) Registrants(c *gin.Context) {
	t, ok := tenantFrom(c)
	if !ok {
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cohort := c.DefaultQuery("cohort", report.CohortAll)
	if !report.ValidCohortKey(cohort) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid cohort key %q", cohort)})
		return
	}

	warning, err := h.ensureFresh(c.Request.Context(), t)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.registrantsReport(c.Request.Context(), t, rng, cohort)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, result.Cohorts, warning)
}

// --- Enrollments ---

// enrollmentsReport is the core assembly for the enrollees view.
func (h *Handler) enrollmentsReport(ctx context.Context, t *tenant.Tenant, rng report.Range, mode report.EnrollmentMode) ([][]string, error) {
	envelope, err := h.store.ReadRaw(ctx, t.ID, cache.EntryRawRegistrants)
	if err != nil {
		return nil, fmt.Errorf("reading registrants: %w", err)
	}

	var submissions []schema.Submission
	if mode == report.ModeRegistrationDate {
		rows, err := h.store.ReadRows(ctx, t.ID, cache.EntryRegistrations)
		if err != nil {
			return nil, fmt.Errorf("reading registrations for cross-reference: %w", err)
		}
		submissions = schema.DecodeSubmissions(rows)
	}

	allRange := rng.CoversAll(t.MinStartDate, h.now())
	return report.Enrollments(schema.DecodeRegistrants(envelope.Data), rng, submissions, mode, allRange)
}

// Enrollments handles GET /reports/enrollments?start=&end=&mode=.
func (h *Handler) Enrollments(c *gin.Context) {
	t, ok := tenantFrom(c)
	if !ok {
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := report.ParseEnrollmentMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	warning, err := h.ensureFresh(c.Request.Context(), t)
	if err != nil {
		respondError(c, err)
		return
	}

	rows, err := h.enrollmentsReport(c.Request.Context(), t, rng, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, rows, warning)
}

// --- Certificates ---

// certificatesReport is the core assembly for the certificates view.
func (h *Handler) certificatesReport(ctx context.Context, t *tenant.Tenant, rng report.Range) ([][]string, error) {
	envelope, err := h.store.ReadRaw(ctx, t.ID, cache.EntryRawRegistrants)
	if err != nil {
		return nil, fmt.Errorf("reading registrants: %w", err)
	}

	registrants := schema.DecodeRegistrants(envelope.Data)
	if rng.CoversAll(t.MinStartDate, h.now()) {
		return report.Certificates(registrants, nil), nil
	}
	return report.Certificates(registrants, &rng), nil
}

// Certificates handles GET /reports/certificates?start=&end=.
func (h *Handler) Certificates(c *gin.Context) {
	t, ok := tenantFrom(c)
	if !ok {
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	warning, err := h.ensureFresh(c.Request.Context(), t)
	if err != nil {
		respondError(c, err)
		return
	}

	rows, err := h.certificatesReport(c.Request.Context(), t, rng)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, rows, warning)
}

// --- Organizations and groups ---

// OrganizationsResult is the typed roll-up report. Groups is nil unless the
// caller requested group roll-ups.
type OrganizationsResult struct {
	Organizations []report.OrgCount   `json:"organizations"`
	Groups        []report.GroupCount `json:"groups,omitempty"`
}

// organizationsReport filters the three derived datasets independently by
// their own date columns, then rolls them up per organization and,
// optionally, per configured group.
func (h *Handler) organizationsReport(ctx context.Context, t *tenant.Tenant, rng report.Range, withGroups bool) (*OrganizationsResult, error) {
	regRows, err := h.store.ReadRows(ctx, t.ID, cache.EntryRegistrations)
	if err != nil {
		return nil, fmt.Errorf("reading registrations: %w", err)
	}
	enrRows, err := h.store.ReadRows(ctx, t.ID, cache.EntryEnrollments)
	if err != nil {
		return nil, fmt.Errorf("reading enrollments: %w", err)
	}
	certRows, err := h.store.ReadRows(ctx, t.ID, cache.EntryCertificates)
	if err != nil {
		return nil, fmt.Errorf("reading certificates: %w", err)
	}

	// Each derived dataset is filtered on its own date.
	registrations := schema.DecodeSubmissions(regRows)
	enrollments := schema.DecodeRegistrants(enrRows)
	certificates := schema.DecodeRegistrants(certRows)
	if !rng.CoversAll(t.MinStartDate, h.now()) {
		registrations = report.FilterSubmissionsByDate(registrations, rng)
		enrollments = report.FilterRegistrantsByDate(enrollments, func(r schema.Registrant) string { return r.EnrolledDate }, rng)
		certificates = report.FilterRegistrantsByDate(certificates, func(r schema.Registrant) string { return r.IssuedDate }, rng)
	}

	orgs := report.Organizations(registrations, enrollments, certificates)
	result := &OrganizationsResult{Organizations: orgs}
	if withGroups {
		groups := report.Groups(orgs, t.OrgGroups, t.GroupNames)
		if groups == nil {
			groups = []report.GroupCount{}
		}
		result.Groups = groups
	}
	return result, nil
}

// Organizations handles GET /reports/organizations?start=&end=&groups=.
func (h *Handler) Organizations(c *gin.Context) {
	t, ok := tenantFrom(c)
	if !ok {
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	withGroups := c.Query("groups") == "true"

	warning, err := h.ensureFresh(c.Request.Context(), t)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.organizationsReport(c.Request.Context(), t, rng, withGroups)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, result, warning)
}
