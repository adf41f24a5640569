// ABOUTME: HTTP handler for the recently notified alerts endpoint.
// ABOUTME: Serves notification history with severity and purl filtering plus summary counts.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/sirupsen/logrus"
)

type AlertProvider interface {
	GetRecentAlerts() []types.NotifiedAlert
	GetStats() types.PollStats
}

type AlertsHandler struct {
	provider AlertProvider
	logger   *logrus.Logger
}

type AlertsResponse struct {
	Alerts      []types.NotifiedAlert `json:"alerts"`
	Summary     AlertsSummary         `json:"summary"`
	LastUpdated string                `json:"last_updated"`
}

type AlertsSummary struct {
	TotalNotified     int            `json:"total_notified"`
	DroppedDeliveries int            `json:"dropped_deliveries"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
	LedgerSize        int            `json:"ledger_size"`
	Cycles            int            `json:"cycles"`
}

func NewAlertsHandler(provider AlertProvider, logger *logrus.Logger) *AlertsHandler {
	return &AlertsHandler{
		provider: provider,
		logger:   logger,
	}
}

func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/alerts")

	purlFilter := strings.TrimSpace(r.URL.Query().Get("purl"))
	severityFilter := strings.TrimSpace(r.URL.Query().Get("severity"))
	limitParam := strings.TrimSpace(r.URL.Query().Get("limit"))

	if severityFilter != "" {
		if _, err := types.ParseSeverity(severityFilter); err != nil {
			http.Error(w, "Invalid severity filter. Must be one of: low, medium, high", http.StatusBadRequest)
			return
		}
	}

	var limit int
	if limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter. Must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	if len(purlFilter) > 200 {
		http.Error(w, "Purl filter too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return
	}

	alerts := h.provider.GetRecentAlerts()
	stats := h.provider.GetStats()

	severityBreakdown := make(map[string]int)
	dropped := 0
	filtered := make([]types.NotifiedAlert, 0, len(alerts))

	for _, alert := range alerts {
		severityBreakdown[alert.Severity.String()]++
		if !alert.Delivered {
			dropped++
		}

		if purlFilter != "" && !strings.Contains(alert.Purl, purlFilter) {
			continue
		}
		if severityFilter != "" && alert.Severity.String() != severityFilter {
			continue
		}
		filtered = append(filtered, alert)
	}

	// Newest first; the engine appends in notification order.
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	response := AlertsResponse{
		Alerts: filtered,
		Summary: AlertsSummary{
			TotalNotified:     len(alerts),
			DroppedDeliveries: dropped,
			SeverityBreakdown: severityBreakdown,
			LedgerSize:        stats.LedgerSize,
			Cycles:            stats.Cycles,
		},
		LastUpdated: stats.LastCycleTime.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") != "" {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(response); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.WithFields(logrus.Fields{
		"filtered_alerts": len(filtered),
		"total_alerts":    len(alerts),
	}).Debug("Served alerts response")
}

// CreateAlertsHandler creates a standard HTTP handler
func CreateAlertsHandler(provider AlertProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewAlertsHandler(provider, logger)
	return handler.ServeHTTP
}
