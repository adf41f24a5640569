// ABOUTME: Socket vulnerability-intelligence API client built on resty.
// ABOUTME: Implements paginated dependency search and NDJSON batch purl resolution.

package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	// maxLineBytes bounds a single NDJSON line; package records with large
	// alert arrays can exceed bufio.Scanner's default 64K buffer.
	maxLineBytes = 1 << 20
)

// Client talks to the Socket-style vulnerability-intelligence API. It is the
// system's DependencySource and PackageResolver.
type Client struct {
	httpc     *resty.Client
	pageLimit int
	logger    *logrus.Logger
}

// New creates an API client with bearer-token auth and a bounded per-request
// timeout.
func New(baseURL, apiKey string, pageLimit int, timeout time.Duration, logger *logrus.Logger) *Client {
	httpc := resty.New()
	httpc.SetBaseURL(baseURL)
	httpc.SetAuthToken(apiKey)
	httpc.SetTimeout(timeout)
	httpc.SetHeader("Content-Type", "application/json")

	return &Client{
		httpc:     httpc,
		pageLimit: pageLimit,
		logger:    logger,
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return "socket"
}

type dependenciesPage struct {
	Rows  []types.Dependency `json:"rows"`
	End   bool               `json:"end"`
	Limit int                `json:"limit"`
}

// FetchDependencies retrieves the full dependency inventory for the account,
// following the offset cursor until the server sets the end flag. When repos
// is non-empty it is passed as a server-side repository filter.
//
// A failed page truncates the fetch: the rows accumulated so far are returned
// together with the page error, so one bad page yields a partial inventory
// instead of a lost cycle.
func (c *Client) FetchDependencies(ctx context.Context, repos []string) ([]types.Dependency, error) {
	logger := c.logger.WithField("operation", "fetch_dependencies")

	var all []types.Dependency
	offset := 0

	for {
		body := map[string]interface{}{
			"limit":  c.pageLimit,
			"offset": offset,
		}
		if len(repos) > 0 {
			body["repos"] = strings.Join(repos, ",")
		}

		var page dependenciesPage
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&page).
			Post("/v0/dependencies/search")
		if err != nil {
			logger.WithError(err).WithField("offset", offset).Error("Dependency page fetch failed, truncating inventory")
			return all, fmt.Errorf("dependency search at offset %d: %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			logger.WithFields(logrus.Fields{
				"offset": offset,
				"status": resp.StatusCode(),
			}).Error("Dependency page fetch returned non-OK status, truncating inventory")
			return all, fmt.Errorf("dependency search at offset %d: status %d", offset, resp.StatusCode())
		}

		all = append(all, page.Rows...)

		if page.End {
			break
		}
		if len(page.Rows) == 0 {
			// Server claims more pages but returned none; stop rather than spin.
			logger.WithField("offset", offset).Warn("Empty page without end flag, stopping pagination")
			break
		}

		step := page.Limit
		if step <= 0 {
			step = c.pageLimit
		}
		offset += step
	}

	logger.WithField("dependency_count", len(all)).Debug("Fetched dependency inventory")
	return all, nil
}

// ResolvePackages resolves a batch of package coordinates to their current
// alerts. The response is a newline-delimited stream of per-package JSON
// objects; a malformed line is logged and skipped without failing the batch.
// A request-level failure returns an error and the caller treats the batch
// as empty.
func (c *Client) ResolvePackages(ctx context.Context, purls []string) ([]types.ResolvedPackage, error) {
	logger := c.logger.WithFields(logrus.Fields{
		"operation":  "resolve_packages",
		"batch_size": len(purls),
	})

	components := make([]map[string]string, 0, len(purls))
	for _, p := range purls {
		components = append(components, map[string]string{"purl": p})
	}

	resp, err := c.httpc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("alerts", "true").
		SetBody(map[string]interface{}{"components": components}).
		Post("/v0/purl")
	if err != nil {
		return nil, fmt.Errorf("batch purl lookup: %w", err)
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("batch purl lookup: status %d", resp.StatusCode())
	}

	var resolved []types.ResolvedPackage

	scanner := bufio.NewScanner(resp.RawBody())
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var pkg types.ResolvedPackage
		if err := json.Unmarshal([]byte(line), &pkg); err != nil {
			logger.WithError(err).Warn("Skipping malformed package record")
			continue
		}
		resolved = append(resolved, pkg)
	}
	if err := scanner.Err(); err != nil {
		// Keep whatever parsed before the stream broke.
		logger.WithError(err).WithField("packages_parsed", len(resolved)).Error("Package response stream ended early")
	}

	logger.WithField("packages_resolved", len(resolved)).Debug("Resolved package batch")
	return resolved, nil
}
