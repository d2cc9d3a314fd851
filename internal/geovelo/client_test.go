// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package geovelo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/velohome/velosync/internal/config"
)

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(&config.GeoveloConfig{
		BaseURL:  server.URL,
		Username: "rider@example.com",
		UserID:   4242,
		PageSize: 2,
		Timeout:  5 * time.Second,
	}, "s3cret")
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	var gotAuth, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/authentication/geovelo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authentication")
		gotAPIKey = r.Header.Get("Api-Key")
		w.Header().Set("Authorization", "tok-abc123")
		w.Header().Set("Userid", "9977")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, server)
	session, err := client.Authenticate(context.Background())
	checkNoError(t, err)

	wantBlob := base64.StdEncoding.EncodeToString([]byte("rider@example.com;s3cret"))
	if gotAuth != wantBlob {
		t.Errorf("Authentication header = %q, want %q", gotAuth, wantBlob)
	}
	if gotAPIKey != apiKey {
		t.Errorf("Api-Key header = %q", gotAPIKey)
	}
	if session.Token != "tok-abc123" {
		t.Errorf("token = %q", session.Token)
	}
	if session.UserID != 9977 {
		t.Errorf("user id = %d, want 9977 from Userid header", session.UserID)
	}
}

func TestAuthenticateFallsBackToConfiguredUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Authorization", "tok")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	session, err := testClient(t, server).Authenticate(context.Background())
	checkNoError(t, err)
	if session.UserID != 4242 {
		t.Errorf("user id = %d, want configured 4242", session.UserID)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient(t, server).Authenticate(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthenticationError", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", authErr.StatusCode)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // 200 but no Authorization header
	}))
	defer server.Close()

	_, err := testClient(t, server).Authenticate(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthenticationError", err)
	}
}

// tracesFixture serves a fixed number of trace pages and records requests.
// Next links are deliberately emitted with an http scheme and a foreign
// host to exercise the client-side rewrite.
type tracesFixture struct {
	pages    int
	requests []string
	tokens   []string
}

func (f *tracesFixture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.URL.String())
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}

		resp := map[string]interface{}{
			"results": []map[string]interface{}{
				{
					"id":             page*10 + 1,
					"start_datetime": "2024-01-10T08:00:00+0100",
					"end_datetime":   "2024-01-10T08:30:00+0100",
					"distance":       5200.5,
					"duration":       1800,
				},
			},
		}
		if page < f.pages {
			resp["next"] = fmt.Sprintf("http://insecure.geovelo.example/api/v6/users/4242/traces?page=%d&page_size=2", page+1)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode fixture: %v", err)
		}
	}
}

func TestFetchTracesDrainsPagination(t *testing.T) {
	fixture := &tracesFixture{pages: 3}
	server := httptest.NewServer(fixture.handler(t))
	defer server.Close()

	client := testClient(t, server)
	session := &Session{Token: "tok", UserID: 4242}

	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	traces, err := client.FetchTraces(context.Background(), session, start, end)
	checkNoError(t, err)

	if len(traces) != 3 {
		t.Fatalf("got %d traces, want 3 across pages", len(traces))
	}
	if traces[0].ID != 11 || traces[1].ID != 21 || traces[2].ID != 31 {
		t.Errorf("trace ids = %d,%d,%d, want page order preserved", traces[0].ID, traces[1].ID, traces[2].ID)
	}

	if len(fixture.requests) != 3 {
		t.Fatalf("server saw %d requests, want 3", len(fixture.requests))
	}

	// First request carries the full custom-period query.
	first := fixture.requests[0]
	for _, want := range []string{"period=custom", "date_start=03-01-2024", "date_end=10-01-2024", "ordering=-start_datetime", "page_size=2"} {
		if !strings.Contains(first, want) {
			t.Errorf("first request %q missing %q", first, want)
		}
	}

	// Every page request, including rewritten next links, is authorized.
	for i, tok := range fixture.tokens {
		if tok != "tok" {
			t.Errorf("request %d Authorization = %q, want session token", i, tok)
		}
	}
}

func TestFetchTracesRepeatedNextLink(t *testing.T) {
	// Server always reports the same next link; the client must refuse to
	// loop instead of fetching forever.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"results": []map[string]interface{}{},
			"next":    "http://insecure.geovelo.example/api/v6/users/4242/traces?page=2",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := testClient(t, server)
	session := &Session{Token: "tok", UserID: 4242}

	_, err := client.FetchTraces(context.Background(), session, time.Now().Add(-time.Hour), time.Now())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError for pagination loop", err)
	}
}

func TestFetchTracesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(t, server)
	session := &Session{Token: "tok", UserID: 4242}

	_, err := client.FetchTraces(context.Background(), session, time.Now().Add(-time.Hour), time.Now())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.StatusCode)
	}
	if apiErr.Op != "fetch_traces" {
		t.Errorf("op = %q", apiErr.Op)
	}
}

func TestFetchZones(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/4242/h3_zones" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["871fb4664ffffff","871fb4665ffffff"]`))
	}))
	defer server.Close()

	client := testClient(t, server)
	zones, err := client.FetchZones(context.Background(), &Session{Token: "tok", UserID: 4242})
	checkNoError(t, err)

	if len(zones) != 2 {
		t.Fatalf("got %d zones, want 2", len(zones))
	}
	if zones[0] != "871fb4664ffffff" {
		t.Errorf("zone[0] = %q", zones[0])
	}
}

func TestRewriteNextURL(t *testing.T) {
	client := NewClient(&config.GeoveloConfig{
		BaseURL: "https://backend.geovelo.fr",
		Timeout: time.Second,
	}, "")

	tests := []struct {
		name string
		next string
		want string
	}{
		{
			name: "insecure scheme rewritten",
			next: "http://backend.geovelo.fr/api/v6/users/1/traces?page=2",
			want: "https://backend.geovelo.fr/api/v6/users/1/traces?page=2",
		},
		{
			name: "foreign host rewritten",
			next: "http://internal-lb.geovelo.fr/api/v6/users/1/traces?page=3&page_size=50",
			want: "https://backend.geovelo.fr/api/v6/users/1/traces?page=3&page_size=50",
		},
		{
			name: "already correct left alone",
			next: "https://backend.geovelo.fr/api/v6/users/1/traces?page=4",
			want: "https://backend.geovelo.fr/api/v6/users/1/traces?page=4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.rewriteNextURL(tt.next)
			checkNoError(t, err)
			if got != tt.want {
				t.Errorf("rewriteNextURL(%q) = %q, want %q", tt.next, got, tt.want)
			}
		})
	}
}

func TestFetchTracesContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := testClient(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.FetchTraces(ctx, &Session{Token: "tok", UserID: 4242}, time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
