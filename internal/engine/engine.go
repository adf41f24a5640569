// ABOUTME: Poll scheduler that drives the fetch, resolve, filter, notify cycle.
// ABOUTME: Owns the dedup ledger and guarantees at-most-once notification per alert identity.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/filter"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/ledger"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/purl"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/sirupsen/logrus"
)

// DependencySource retrieves the account's full dependency inventory,
// optionally scoped to a repository subset. A partial inventory may be
// returned together with the error that truncated it.
type DependencySource interface {
	Name() string
	FetchDependencies(ctx context.Context, repos []string) ([]types.Dependency, error)
}

// PackageResolver resolves one bounded batch of package coordinates to their
// current alerts.
type PackageResolver interface {
	Name() string
	ResolvePackages(ctx context.Context, purls []string) ([]types.ResolvedPackage, error)
}

// AlertSink delivers one human-readable notification.
type AlertSink interface {
	Name() string
	Notify(ctx context.Context, text string) error
}

// Config holds configuration for the alert pipeline.
type Config struct {
	APIBaseURL       string
	APIKey           string
	SlackWebhookURL  string
	Port             int
	PollInterval     time.Duration
	Severity         types.Severity
	Repos            []string
	Categories       []string
	PageLimit        int
	BatchSize        int
	BatchCooldown    time.Duration
	RequestTimeout   time.Duration
	LedgerMaxEntries int
	LedgerFile       string
}

// recentAlertLimit bounds the notification history kept for the /alerts
// endpoint.
const recentAlertLimit = 500

// Engine runs the polling loop: one sequential cycle of fetch, dedupe,
// batch-resolve, filter, and notify, then a sleep until the next tick.
// Batches are processed strictly in sequence with a fixed cooldown between
// them; there is no concurrent fan-out, so the ledger needs no locking.
type Engine struct {
	source   DependencySource
	resolver PackageResolver
	sink     AlertSink
	filter   *filter.Filter
	ledger   *ledger.Ledger
	config   *Config
	logger   *logrus.Logger

	// Snapshot state read by the HTTP endpoints.
	mutex        sync.RWMutex
	stats        types.PollStats
	recentAlerts []types.NotifiedAlert
}

// NewEngine creates the alert pipeline engine.
func NewEngine(source DependencySource, resolver PackageResolver, sink AlertSink, ledg *ledger.Ledger, config *Config, logger *logrus.Logger) *Engine {
	return &Engine{
		source:   source,
		resolver: resolver,
		sink:     sink,
		filter:   filter.New(config.Severity, config.Categories),
		ledger:   ledg,
		config:   config,
		logger:   logger,
	}
}

// Start runs poll cycles until the context is cancelled. The first cycle
// runs immediately, then one per poll interval.
func (e *Engine) Start(ctx context.Context) {
	logger := e.logger.WithField("component", "poll_scheduler")

	if e.config.LedgerFile != "" {
		if err := e.ledger.LoadSnapshot(e.config.LedgerFile); err != nil {
			logger.WithError(err).Error("Failed to restore ledger snapshot, starting empty")
		}
	}

	e.runCycle(ctx)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	logger.WithField("interval", e.config.PollInterval).Info("Starting periodic alert polling")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll scheduler stopping")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle performs one full fetch, resolve, filter, notify pass. Failures
// are absorbed per page, per batch, per line, and per notification; nothing
// here aborts the cycle.
func (e *Engine) runCycle(ctx context.Context) {
	logger := e.logger.WithField("operation", "poll_cycle")
	startTime := time.Now()

	logger.Info("Starting poll cycle")

	var cycle types.PollStats

	deps, err := e.source.FetchDependencies(ctx, e.config.Repos)
	if err != nil {
		// Partial inventory: process what was accumulated before the failure.
		logger.WithError(err).Warn("Inventory fetch truncated, continuing with partial inventory")
		cycle.PageFailures++
	}
	cycle.DependenciesFetched = len(deps)

	coords := purl.DedupeCoordinates(deps)
	cycle.UniquePackages = len(coords)

	batches := chunkCoordinates(coords, e.config.BatchSize)

	for i, batch := range batches {
		if i > 0 && e.config.BatchCooldown > 0 {
			select {
			case <-ctx.Done():
				logger.Info("Poll cycle interrupted by shutdown")
				return
			case <-time.After(e.config.BatchCooldown):
			}
		}

		resolved, err := e.resolver.ResolvePackages(ctx, batch)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"batch":      i + 1,
				"batch_size": len(batch),
			}).Error("Batch lookup failed, treating batch as empty")
			cycle.BatchFailures++
			continue
		}
		cycle.BatchesResolved++

		// Alerts are filtered, deduped, and notified per batch rather than
		// after all batches complete, so they surface as soon as possible.
		e.processResolved(ctx, resolved, &cycle)
	}

	duration := time.Since(startTime)

	e.mutex.Lock()
	e.stats.Cycles++
	e.stats.DependenciesFetched += cycle.DependenciesFetched
	e.stats.UniquePackages += cycle.UniquePackages
	e.stats.BatchesResolved += cycle.BatchesResolved
	e.stats.PageFailures += cycle.PageFailures
	e.stats.BatchFailures += cycle.BatchFailures
	e.stats.AlertsSeen += cycle.AlertsSeen
	e.stats.AlertsNotified += cycle.AlertsNotified
	e.stats.NotifyFailures += cycle.NotifyFailures
	e.stats.LedgerSize = e.ledger.Size()
	e.stats.LastCycleTime = time.Now()
	e.stats.LastCycleDuration = duration
	e.mutex.Unlock()

	if e.config.LedgerFile != "" {
		if err := e.ledger.SaveSnapshot(e.config.LedgerFile); err != nil {
			logger.WithError(err).Error("Failed to save ledger snapshot")
		}
	}

	logger.WithFields(logrus.Fields{
		"duration":        duration,
		"dependencies":    cycle.DependenciesFetched,
		"unique_packages": cycle.UniquePackages,
		"batches":         len(batches),
		"batch_failures":  cycle.BatchFailures,
		"alerts_seen":     cycle.AlertsSeen,
		"alerts_notified": cycle.AlertsNotified,
		"notify_failures": cycle.NotifyFailures,
		"ledger_size":     e.ledger.Size(),
	}).Info("Poll cycle completed")
}

func (e *Engine) processResolved(ctx context.Context, resolved []types.ResolvedPackage, cycle *types.PollStats) {
	logger := e.logger.WithField("operation", "process_alerts")

	for _, pkg := range resolved {
		coordinate := purl.FromParts(pkg.Type, pkg.Name, pkg.Version)

		for _, alert := range pkg.Alerts {
			cycle.AlertsSeen++

			if !e.filter.Actionable(alert) {
				continue
			}

			identity := types.NewAlertIdentity(coordinate, alert)
			if !e.ledger.IsNew(identity) {
				continue
			}

			message := formatAlert(coordinate, alert)

			// The identity is already marked seen: a failed delivery is
			// dropped, never retried on a later cycle.
			err := e.sink.Notify(ctx, message)
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"purl":      coordinate,
					"alert_key": identity.AlertKey,
				}).Error("Notification delivery failed, dropping alert")
				cycle.NotifyFailures++
			} else {
				logger.WithFields(logrus.Fields{
					"purl":      coordinate,
					"alert_key": identity.AlertKey,
					"severity":  alert.Severity,
				}).Info("Notified new alert")
			}
			cycle.AlertsNotified++

			e.recordAlert(types.NotifiedAlert{
				Purl:       coordinate,
				AlertType:  alert.Type,
				Severity:   alert.Severity,
				Category:   alert.Category,
				Key:        identity.AlertKey,
				Title:      alert.Title,
				Message:    message,
				NotifiedAt: time.Now(),
				Delivered:  err == nil,
			})
		}
	}
}

func (e *Engine) recordAlert(alert types.NotifiedAlert) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.recentAlerts = append(e.recentAlerts, alert)
	if len(e.recentAlerts) > recentAlertLimit {
		e.recentAlerts = e.recentAlerts[len(e.recentAlerts)-recentAlertLimit:]
	}
}

// formatAlert renders the notification text for one alert. The text always
// carries the package coordinate and the alert's identifying key.
func formatAlert(coordinate string, alert types.Alert) string {
	message := fmt.Sprintf("Security alert for %s: %s severity %s", coordinate, alert.Type, alert.Severity)

	if alert.Category != "" {
		message += fmt.Sprintf(" (%s)", alert.Category)
	}
	if key := alert.DedupKey(); key != "" {
		message += ": " + key
	}
	if alert.Title != "" && alert.Title != alert.DedupKey() {
		message += " " + alert.Title
	}

	return message
}

// chunkCoordinates splits the deduplicated coordinate list into bounded
// batches to respect upstream rate and payload limits.
func chunkCoordinates(coords []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}

	var batches [][]string
	for start := 0; start < len(coords); start += size {
		end := start + size
		if end > len(coords) {
			end = len(coords)
		}
		batches = append(batches, coords[start:end])
	}

	return batches
}

// GetStats returns a copy of the scheduler counters.
func (e *Engine) GetStats() types.PollStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.stats
}

// GetRecentAlerts returns a copy of the recently notified alerts, newest
// last.
func (e *Engine) GetRecentAlerts() []types.NotifiedAlert {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	alerts := make([]types.NotifiedAlert, len(e.recentAlerts))
	copy(alerts, e.recentAlerts)
	return alerts
}
