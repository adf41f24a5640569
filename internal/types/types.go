// ABOUTME: Common types shared across the slack-alarm-pusher system.
// ABOUTME: Defines data structures for dependencies, resolved packages, and security alerts.

package types

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered alert severity reported by the intelligence service.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a severity string case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

// Dependency is one row of the account's dependency inventory: a single
// package version as used by one repository. Transient within a poll cycle.
type Dependency struct {
	Type       string `json:"type"` // ecosystem: npm, pypi, golang, maven, nuget, gem
	Name       string `json:"name"`
	Version    string `json:"version"`
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
}

// Alert is a single security issue attached to a resolved package.
type Alert struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category,omitempty"` // vulnerability, malware, ...
	Key         string   `json:"key,omitempty"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
}

// DedupKey returns the stable identifying key for this alert: the explicit
// key field when present, the id next, the title as a last resort.
func (a Alert) DedupKey() string {
	if a.Key != "" {
		return a.Key
	}
	if a.ID != "" {
		return a.ID
	}
	return a.Title
}

// ResolvedPackage is one package coordinate with its current set of alerts,
// as returned by the batch purl lookup.
type ResolvedPackage struct {
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Alerts  []Alert `json:"alerts,omitempty"`
}

// AlertIdentity is the dedup key space: the same underlying issue rediscovered
// in a later cycle produces an identical identity. Comparable so it can be
// used directly as a map key.
type AlertIdentity struct {
	Purl      string `json:"purl"`
	AlertType string `json:"alert_type"`
	AlertKey  string `json:"alert_key"`
}

// NewAlertIdentity builds the identity for an alert observed on a package
// coordinate.
func NewAlertIdentity(purl string, alert Alert) AlertIdentity {
	return AlertIdentity{
		Purl:      purl,
		AlertType: alert.Type,
		AlertKey:  alert.DedupKey(),
	}
}

// NotifiedAlert records one delivered (or attempted) notification for the
// /alerts endpoint and tests.
type NotifiedAlert struct {
	Purl       string    `json:"purl"`
	AlertType  string    `json:"alert_type"`
	Severity   Severity  `json:"severity"`
	Category   string    `json:"category,omitempty"`
	Key        string    `json:"key"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message"`
	NotifiedAt time.Time `json:"notified_at"`
	Delivered  bool      `json:"delivered"`
}

// PollStats is a snapshot of scheduler counters since process start.
type PollStats struct {
	Cycles              int           `json:"cycles"`
	DependenciesFetched int           `json:"dependencies_fetched"`
	UniquePackages      int           `json:"unique_packages"`
	BatchesResolved     int           `json:"batches_resolved"`
	PageFailures        int           `json:"page_failures"`
	BatchFailures       int           `json:"batch_failures"`
	AlertsSeen          int           `json:"alerts_seen"`
	AlertsNotified      int           `json:"alerts_notified"`
	NotifyFailures      int           `json:"notify_failures"`
	LedgerSize          int           `json:"ledger_size"`
	LastCycleTime       time.Time     `json:"last_cycle_time"`
	LastCycleDuration   time.Duration `json:"last_cycle_duration"`
}
