package schema

import "fmt"

// OrgColumn returns the organization column index for the named dataset kind.
// Kind strings match the cache entry vocabulary: "registrants" or "submissions".
func OrgColumn(kind string) (int, error) {
	switch kind {
	case "registrants":
		return RegColOrganization, nil
	case "submissions":
		return SubColOrganization, nil
	default:
		return 0, fmt.Errorf("unknown dataset kind: %s", kind)
	}
}

// DemoRelabel rewrites the organization column of every row with an anonymized
// label, numbered per distinct source value in first-seen order. The same
// source organization always maps to the same label within one dataset, so
// roll-ups still group correctly after relabeling. Applied by the refresh
// coordinator before persistence, which is the only writer, so every consumer
// observes relabeled data.
func DemoRelabel(rows [][]string, orgCol int, label string) [][]string {
	seen := make(map[string]string)
	n := 0
	for _, row := range rows {
		if orgCol >= len(row) {
			continue
		}
		src := row[orgCol]
		if src == "" {
			continue
		}
		mapped, ok := seen[src]
		if !ok {
			n++
			mapped = fmt.Sprintf("%s %d", label, n)
			seen[src] = mapped
		}
		row[orgCol] = mapped
	}
	return rows
}
