// ABOUTME: Unit tests for the Socket API client against httptest fakes.
// ABOUTME: Covers pagination, partial-page truncation, and NDJSON batch parsing.

package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type searchRequest struct {
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Repos  string `json:"repos"`
}

func TestFetchDependenciesFollowsCursor(t *testing.T) {
	var requests []searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/dependencies/search", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		page := map[string]interface{}{
			"rows": []types.Dependency{
				{Type: "npm", Name: fmt.Sprintf("pkg-%d", req.Offset), Version: "1.0.0", Repository: "app"},
			},
			"end":   req.Offset >= 4,
			"limit": 2,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 2, 5*time.Second, testLogger())

	deps, err := client.FetchDependencies(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, deps, 3)
	assert.Equal(t, []searchRequest{
		{Limit: 2, Offset: 0},
		{Limit: 2, Offset: 2},
		{Limit: 2, Offset: 4},
	}, requests)
}

func TestFetchDependenciesRepoFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "storefront,billing", req.Repos)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rows":[],"end":true,"limit":100}`)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 100, 5*time.Second, testLogger())

	_, err := client.FetchDependencies(context.Background(), []string{"storefront", "billing"})
	require.NoError(t, err)
}

func TestFetchDependenciesPartialPageTruncation(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls >= 2 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rows":[{"type":"npm","name":"left-pad","version":"1.3.0","repository":"app"}],"end":false,"limit":1}`)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 1, 5*time.Second, testLogger())

	deps, err := client.FetchDependencies(context.Background(), nil)

	// Page 1 survives; the failed page 2 is reported but does not discard it.
	require.Error(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "left-pad", deps[0].Name)
	assert.Equal(t, 2, calls)
}

func TestFetchDependenciesEmptyPageWithoutEndStops(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rows":[],"end":false,"limit":100}`)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 100, 5*time.Second, testLogger())

	deps, err := client.FetchDependencies(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Equal(t, 1, calls)
}

func TestResolvePackages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/purl", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("alerts"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Components []struct {
				Purl string `json:"purl"`
			} `json:"components"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Components, 2)
		assert.Equal(t, "pkg:npm/left-pad@1.3.0", req.Components[0].Purl)

		fmt.Fprintln(w, `{"type":"npm","name":"left-pad","version":"1.3.0","alerts":[{"type":"vuln","severity":"high","category":"vulnerability","key":"CVE-X","title":"Padding overflow"}]}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"type":"rubygems","name":"rails","version":"7.0.0"}`)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 100, 5*time.Second, testLogger())

	resolved, err := client.ResolvePackages(context.Background(), []string{
		"pkg:npm/left-pad@1.3.0",
		"pkg:rubygems/rails@7.0.0",
	})
	require.NoError(t, err)

	// The malformed line is skipped, both valid records survive.
	require.Len(t, resolved, 2)
	assert.Equal(t, "left-pad", resolved[0].Name)
	require.Len(t, resolved[0].Alerts, 1)
	assert.Equal(t, "CVE-X", resolved[0].Alerts[0].Key)
	assert.Equal(t, types.SeverityHigh, resolved[0].Alerts[0].Severity)
	assert.Equal(t, "rails", resolved[1].Name)
	assert.Empty(t, resolved[1].Alerts)
}

func TestResolvePackagesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 100, 5*time.Second, testLogger())

	resolved, err := client.ResolvePackages(context.Background(), []string{"pkg:npm/left-pad@1.3.0"})
	require.Error(t, err)
	assert.Empty(t, resolved)
}

func TestResolvePackagesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 100, 50*time.Millisecond, testLogger())

	_, err := client.ResolvePackages(context.Background(), []string{"pkg:npm/left-pad@1.3.0"})
	require.Error(t, err)
}
