package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/schema"
)

// CohortAll is the cohort selector meaning "every cohort present in the
// data."
const CohortAll = "all"

// cohortKey builds an MM-YY key from a row's year and cohort-month fields.
// Returns false when either field is not numeric.
func cohortKey(yearField, monthField string) (string, bool) {
	year, err := strconv.Atoi(strings.TrimSpace(yearField))
	if err != nil {
		return "", false
	}
	month, err := strconv.Atoi(strings.TrimSpace(monthField))
	if err != nil || month < 1 || month > 12 {
		return "", false
	}
	return fmt.Sprintf("%02d-%02d", month, year%100), true
}

// ValidCohortKey reports whether s is a well-formed MM-YY cohort key.
func ValidCohortKey(s string) bool {
	if s == CohortAll {
		return true
	}
	_, err := time.Parse("01-06", s)
	return err == nil
}

// CohortSpan enumerates every calendar MM-YY key from the range's start
// month through its end month, ascending, including months with no data.
func CohortSpan(rng Range) []string {
	var keys []string
	cursor := time.Date(rng.Start.Year(), rng.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(rng.End.Year(), rng.End.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		keys = append(keys, cursor.Format("01-06"))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return keys
}

// CohortsPresent collects the distinct MM-YY keys actually present in the
// submissions, sorted newest first (year desc, month desc). Months with no
// records never appear.
func CohortsPresent(subs []schema.Submission) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range subs {
		key, ok := cohortKey(s.Year, s.Cohort)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		// MM-YY: compare year desc, then month desc.
		if keys[i][3:] != keys[j][3:] {
			return keys[i][3:] > keys[j][3:]
		}
		return keys[i][:2] > keys[j][:2]
	})
	return keys
}
