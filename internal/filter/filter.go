// ABOUTME: Actionability predicate for security alerts.
// ABOUTME: Applies the configured severity and category criteria to each alert.

package filter

import (
	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"
)

// Filter decides which alerts are worth notifying about.
type Filter struct {
	severity   types.Severity
	categories map[string]struct{}
}

// New creates a filter for one severity level and an optional category
// allowlist. An empty category list disables category gating.
func New(severity types.Severity, categories []string) *Filter {
	f := &Filter{severity: severity}

	if len(categories) > 0 {
		f.categories = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			f.categories[c] = struct{}{}
		}
	}

	return f
}

// Actionable reports whether an alert passes the configured criteria.
// The severity check is strict equality: a filter of "high" matches high
// alerts only, never medium or low. When a category allowlist is active,
// alerts without a category are excluded.
func (f *Filter) Actionable(alert types.Alert) bool {
	if alert.Severity != f.severity {
		return false
	}

	if f.categories != nil {
		if alert.Category == "" {
			return false
		}
		if _, ok := f.categories[alert.Category]; !ok {
			return false
		}
	}

	return true
}
