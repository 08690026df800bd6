package orchestrator

import (
	"sort"
	"strings"

	"github.com/mpataki/analyst/internal/models"
	"github.com/mpataki/analyst/internal/sqltool"
)

// Citations lists retrieved chunk IDs plus every allowlisted table named in
// the executed query, when that execution succeeded.
func Citations(s models.State) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, d := range s.Documents {
		add(d.ID)
	}
	if s.SQLQuery != "" && s.SQLResult != nil && !s.SQLResult.Failed() {
		for _, table := range sqltool.Tables {
			if strings.Contains(s.SQLQuery, table) {
				add("Table: " + table)
			}
		}
	}

	sort.Strings(out)
	return out
}

// Confidence is 0.3 when the final query failed, 0.9 when documents backed
// the answer and 0.7 otherwise.
func Confidence(s models.State) float64 {
	switch {
	case s.SQLResult.Failed():
		return 0.3
	case len(s.Documents) > 0:
		return 0.9
	default:
		return 0.7
	}
}
