// ABOUTME: Entry point for the slack-alarm-pusher alert pipeline service.
// ABOUTME: Handles configuration parsing, wiring, and the observability HTTP server.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/engine"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/ledger"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/metrics"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/server"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/slack"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/socket"
	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

func main() {
	// Best-effort .env load for local development
	_ = godotenv.Load()

	config := parseConfig()

	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Set debug level if requested
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	pusher, err := NewPusher(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create alert pusher")
	}

	if err := pusher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Alert pusher terminated")
	}
}

// fileConfig mirrors the optional YAML config file. Flags and environment
// variables take precedence over it.
type fileConfig struct {
	APIBaseURL       string   `yaml:"api_url"`
	APIKey           string   `yaml:"api_key"`
	SlackWebhookURL  string   `yaml:"slack_webhook_url"`
	Port             int      `yaml:"port"`
	PollInterval     string   `yaml:"poll_interval"`
	Severity         string   `yaml:"severity"`
	Repos            []string `yaml:"repos"`
	Categories       []string `yaml:"categories"`
	PageLimit        int      `yaml:"page_limit"`
	BatchSize        int      `yaml:"batch_size"`
	BatchCooldown    string   `yaml:"batch_cooldown"`
	RequestTimeout   string   `yaml:"request_timeout"`
	LedgerMaxEntries int      `yaml:"ledger_max_entries"`
	LedgerFile       string   `yaml:"ledger_file"`
}

func parseConfig() *engine.Config {
	config := &engine.Config{}

	var configFile, severity, repos, categories string

	flag.StringVar(&configFile, "config", "", "Path to optional YAML config file")
	flag.StringVar(&config.APIBaseURL, "api-url", "https://api.socket.dev", "Base URL of the vulnerability-intelligence API")
	flag.StringVar(&config.APIKey, "api-key", "", "API key for the vulnerability-intelligence API")
	flag.StringVar(&config.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL (empty disables notifications)")
	flag.IntVar(&config.Port, "port", 9090, "Port for the metrics/alerts/health HTTP server")
	flag.DurationVar(&config.PollInterval, "poll-interval", 5*time.Minute, "Interval between poll cycles")
	flag.StringVar(&severity, "severity", "high", "Alert severity to notify on (exact match: low, medium or high)")
	flag.StringVar(&repos, "repos", "", "Comma-separated repository allowlist (empty means all)")
	flag.StringVar(&categories, "categories", "", "Comma-separated alert category allowlist (empty means all)")
	flag.IntVar(&config.PageLimit, "page-limit", 1000, "Page size for dependency inventory fetches")
	flag.IntVar(&config.BatchSize, "batch-size", 10, "Package coordinates per batch lookup")
	flag.DurationVar(&config.BatchCooldown, "batch-cooldown", time.Second, "Fixed pause between consecutive batch lookups")
	flag.DurationVar(&config.RequestTimeout, "request-timeout", 30*time.Second, "Timeout for each upstream request")
	flag.IntVar(&config.LedgerMaxEntries, "ledger-max-entries", 0, "Bound the dedup ledger to this many identities (0 = unbounded)")
	flag.StringVar(&config.LedgerFile, "ledger-file", "", "Snapshot the dedup ledger to this file (empty disables persistence)")
	flag.Parse()

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	// Override with environment variables if set
	if envAPIKey := os.Getenv("SOCKET_API_KEY"); envAPIKey != "" {
		config.APIKey = envAPIKey
	}
	if envWebhook := os.Getenv("SLACK_WEBHOOK_URL"); envWebhook != "" {
		config.SlackWebhookURL = envWebhook
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			config.Port = port
		} else {
			log.Printf("Invalid PORT environment variable: %s", envPort)
		}
	}
	if envInterval := os.Getenv("POLL_INTERVAL_MS"); envInterval != "" {
		if ms, err := strconv.Atoi(envInterval); err == nil && ms > 0 {
			config.PollInterval = time.Duration(ms) * time.Millisecond
		} else {
			log.Printf("Invalid POLL_INTERVAL_MS environment variable: %s", envInterval)
		}
	}
	if envSeverity := os.Getenv("SEVERITY"); envSeverity != "" {
		severity = envSeverity
	}
	if envRepos := os.Getenv("REPOS"); envRepos != "" {
		repos = envRepos
	}
	if envCategories := os.Getenv("CATEGORIES"); envCategories != "" {
		categories = envCategories
	}

	config.Repos = splitList(repos)
	config.Categories = splitList(categories)

	if configFile != "" {
		if err := applyConfigFile(config, configFile, setFlags, &severity); err != nil {
			log.Fatalf("Failed to load config file %s: %v", configFile, err)
		}
	}

	parsedSeverity, err := types.ParseSeverity(severity)
	if err != nil {
		log.Fatalf("Invalid severity filter: %v", err)
	}
	config.Severity = parsedSeverity

	// Validate configuration
	if config.APIKey == "" {
		log.Fatal("API key is required (set -api-key or SOCKET_API_KEY)")
	}
	if config.PollInterval <= 0 {
		log.Fatal("Poll interval must be positive")
	}
	if config.BatchSize <= 0 || config.PageLimit <= 0 {
		log.Fatal("Batch size and page limit must be positive")
	}

	return config
}

// applyConfigFile fills config fields from the YAML file without overriding
// values supplied by flags or the environment.
func applyConfigFile(config *engine.Config, path string, setFlags map[string]bool, severity *string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	if fc.APIBaseURL != "" && !setFlags["api-url"] {
		config.APIBaseURL = fc.APIBaseURL
	}
	if fc.APIKey != "" && config.APIKey == "" {
		config.APIKey = fc.APIKey
	}
	if fc.SlackWebhookURL != "" && config.SlackWebhookURL == "" {
		config.SlackWebhookURL = fc.SlackWebhookURL
	}
	if fc.Port != 0 && !setFlags["port"] && os.Getenv("PORT") == "" {
		config.Port = fc.Port
	}
	if fc.PollInterval != "" && !setFlags["poll-interval"] && os.Getenv("POLL_INTERVAL_MS") == "" {
		interval, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("parsing poll_interval: %w", err)
		}
		config.PollInterval = interval
	}
	if fc.Severity != "" && !setFlags["severity"] && os.Getenv("SEVERITY") == "" {
		*severity = fc.Severity
	}
	if len(fc.Repos) > 0 && len(config.Repos) == 0 {
		config.Repos = fc.Repos
	}
	if len(fc.Categories) > 0 && len(config.Categories) == 0 {
		config.Categories = fc.Categories
	}
	if fc.PageLimit != 0 && !setFlags["page-limit"] {
		config.PageLimit = fc.PageLimit
	}
	if fc.BatchSize != 0 && !setFlags["batch-size"] {
		config.BatchSize = fc.BatchSize
	}
	if fc.BatchCooldown != "" && !setFlags["batch-cooldown"] {
		cooldown, err := time.ParseDuration(fc.BatchCooldown)
		if err != nil {
			return fmt.Errorf("parsing batch_cooldown: %w", err)
		}
		config.BatchCooldown = cooldown
	}
	if fc.RequestTimeout != "" && !setFlags["request-timeout"] {
		timeout, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("parsing request_timeout: %w", err)
		}
		config.RequestTimeout = timeout
	}
	if fc.LedgerMaxEntries != 0 && !setFlags["ledger-max-entries"] {
		config.LedgerMaxEntries = fc.LedgerMaxEntries
	}
	if fc.LedgerFile != "" && !setFlags["ledger-file"] {
		config.LedgerFile = fc.LedgerFile
	}

	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type Pusher struct {
	config *engine.Config
	logger *logrus.Logger
	engine *engine.Engine
}

func NewPusher(config *engine.Config, logger *logrus.Logger) (*Pusher, error) {
	logger.WithFields(logrus.Fields{
		"api_url":       config.APIBaseURL,
		"port":          config.Port,
		"poll_interval": config.PollInterval,
		"severity":      config.Severity,
		"repos":         config.Repos,
		"categories":    config.Categories,
	}).Info("Initializing slack-alarm-pusher")

	client := socket.New(config.APIBaseURL, config.APIKey, config.PageLimit, config.RequestTimeout, logger)

	var sink engine.AlertSink
	if config.SlackWebhookURL != "" {
		sink = slack.NewWebhook(config.SlackWebhookURL, config.RequestTimeout, logger)
	} else {
		logger.Info("No Slack webhook configured, notifications will be logged only")
		sink = slack.NewNoop(logger)
	}

	ledg, err := ledger.New(config.LedgerMaxEntries, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup ledger: %w", err)
	}

	alertEngine := engine.NewEngine(client, client, sink, ledg, config, logger)

	return &Pusher{
		config: config,
		logger: logger,
		engine: alertEngine,
	}, nil
}

func (p *Pusher) Start(ctx context.Context) error {
	// Start the polling engine
	go p.engine.Start(ctx)

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", p.securityMiddleware(metrics.CreateMetricsHandler(p.engine, p.logger)))
	mux.HandleFunc("/alerts", p.securityMiddleware(server.CreateAlertsHandler(p.engine, p.logger)))
	mux.HandleFunc("/health", p.securityMiddleware(p.healthHandler))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", p.config.Port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		p.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	p.logger.WithField("port", p.config.Port).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (p *Pusher) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Log the request
		p.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func (p *Pusher) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
