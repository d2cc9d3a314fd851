// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package geovelo is the HTTP client for the Geovelo web API.
//
// The client covers exactly the three operations the sync core needs:
// credential exchange, paginated trace fetch over a custom date range, and
// the single-shot explored-zones fetch. It performs no retries and no
// backoff; a failed call surfaces as a typed error and the next scheduled
// sync cycle is the retry.
package geovelo

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/velohome/velosync/internal/config"
	"github.com/velohome/velosync/internal/logging"
)

// apiKey is the static Geovelo API key. It is not a secret: the same value
// ships in the public web frontend and is visible in browser developer tools.
const apiKey = "0f8c781a-b4b4-4d19-b931-1e82f22e769f"

// userAgent mirrors a desktop browser; the backend rejects obviously
// non-browser agents on some endpoints.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:92.0) Gecko/20100101 Firefox/92.0"

// maxPages bounds pagination in case the server ever echoes a repeating
// follow-up link. Never observed, but an infinite fetch loop would pin the
// process until the request timeout.
const maxPages = 1000

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// dateParamLayout is the day-month-year format the traces endpoint expects.
const dateParamLayout = "02-01-2006"

// API defines the Geovelo operations consumed by the sync engine.
// Implemented by Client for production and by BreakerClient when circuit
// breaking is enabled; tests substitute fakes.
type API interface {
	// Authenticate exchanges credentials for a session token and the
	// authenticated numeric user identifier.
	Authenticate(ctx context.Context) (*Session, error)

	// FetchTraces returns every trace in [start, end], newest first,
	// draining pagination to exhaustion.
	FetchTraces(ctx context.Context, session *Session, start, end time.Time) ([]Trace, error)

	// FetchZones returns the freshly explored-zone tokens. Single shot,
	// not paginated.
	FetchZones(ctx context.Context, session *Session) ([]ZoneID, error)
}

// Client talks to the Geovelo backend. Safe for concurrent use; each request
// builds its own http.Request.
type Client struct {
	baseURL  string
	username string
	password string
	userID   int64
	pageSize int
	client   *http.Client
}

// NewClient creates a Geovelo API client from configuration. The password
// must already be resolved (decrypted) by the caller.
func NewClient(cfg *config.GeoveloConfig, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: password,
		userID:   cfg.UserID,
		pageSize: cfg.PageSize,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// The backend answers pagination links with a redirect that
			// drops the Authorization header. Links are rewritten client
			// side instead (see rewriteNextURL), so redirects are refused
			// outright to make any remaining case loud.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Authenticate performs the credential exchange.
//
// Credentials travel as base64("username;password") in a custom
// Authentication header (the separator really is a semicolon, not a colon).
// On success the Authorization response header carries the opaque token and
// the Userid header the numeric account id.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	reqURL := c.baseURL + "/api/v1/authentication/geovelo"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, http.NoBody)
	if err != nil {
		return nil, &APIError{Op: "authenticate", UserID: c.userID, Err: err}
	}

	blob := base64.StdEncoding.EncodeToString([]byte(c.username + ";" + c.password))
	req.Header.Set("Api-Key", apiKey)
	req.Header.Set("Authentication", blob)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Source", "website")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Op: "authenticate", UserID: c.userID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthenticationError{Username: c.username, StatusCode: resp.StatusCode}
	}

	token := resp.Header.Get("Authorization")
	if token == "" {
		return nil, &AuthenticationError{Username: c.username, StatusCode: resp.StatusCode}
	}

	session := &Session{Token: token, UserID: c.userID}
	if raw := resp.Header.Get("Userid"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			session.UserID = id
		}
	}

	logging.Debug().Int64("user_id", session.UserID).Msg("Geovelo authentication succeeded")
	return session, nil
}

// FetchTraces fetches all traces in the date range, following pagination
// links until the server reports no next page. Pages are requested strictly
// sequentially; results are concatenated in page order, so the overall
// sequence is newest first.
func (c *Client) FetchTraces(ctx context.Context, session *Session, start, end time.Time) ([]Trace, error) {
	params := url.Values{}
	params.Set("period", "custom")
	params.Set("date_start", start.Format(dateParamLayout))
	params.Set("date_end", end.Format(dateParamLayout))
	params.Set("ordering", "-start_datetime")
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(c.pageSize))

	pageURL := fmt.Sprintf("%s/api/v6/users/%d/traces?%s", c.baseURL, session.UserID, params.Encode())

	var traces []Trace
	seen := make(map[string]bool)

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, &APIError{Op: "fetch_traces", UserID: session.UserID,
				Err: fmt.Errorf("pagination did not terminate after %d pages", maxPages)}
		}
		if seen[pageURL] {
			return nil, &APIError{Op: "fetch_traces", UserID: session.UserID,
				Err: fmt.Errorf("pagination loop: server repeated %s", pageURL)}
		}
		seen[pageURL] = true

		result, err := c.fetchTracePage(ctx, session, pageURL)
		if err != nil {
			return nil, err
		}
		traces = append(traces, result.Results...)

		if result.Next == nil || *result.Next == "" {
			break
		}

		next, err := c.rewriteNextURL(*result.Next)
		if err != nil {
			return nil, &APIError{Op: "fetch_traces", UserID: session.UserID, Err: err}
		}
		pageURL = next

		logging.Trace().Int("page", page+1).Int("traces", len(traces)).Msg("Following traces pagination")
	}

	logging.Debug().Int("traces", len(traces)).Time("start", start).Time("end", end).Msg("Fetched traces")
	return traces, nil
}

// fetchTracePage requests a single page of the traces endpoint.
func (c *Client) fetchTracePage(ctx context.Context, session *Session, pageURL string) (*tracePage, error) {
	resp, err := c.doAuthorized(ctx, session, "fetch_traces", pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page tracePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &APIError{Op: "fetch_traces", UserID: session.UserID,
			Err: fmt.Errorf("decode page: %w", err)}
	}
	return &page, nil
}

// rewriteNextURL corrects the follow-up link reported by the server.
//
// The backend returns pagination links with an http scheme (and sometimes a
// different host); following them verbatim triggers a redirect that silently
// drops the auth headers upstream. The link is therefore forced back onto
// the client's own secure base before being followed.
func (c *Client) rewriteNextURL(next string) (string, error) {
	nextURL, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse next link %q: %w", next, err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", c.baseURL, err)
	}

	nextURL.Scheme = base.Scheme
	nextURL.Host = base.Host
	return nextURL.String(), nil
}

// FetchZones fetches the explored-zone tokens for the session's user.
func (c *Client) FetchZones(ctx context.Context, session *Session) ([]ZoneID, error) {
	reqURL := fmt.Sprintf("%s/api/v1/users/%d/h3_zones", c.baseURL, session.UserID)

	resp, err := c.doAuthorized(ctx, session, "fetch_zones", reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var zones []ZoneID
	if err := json.NewDecoder(resp.Body).Decode(&zones); err != nil {
		return nil, &APIError{Op: "fetch_zones", UserID: session.UserID,
			Err: fmt.Errorf("decode zones: %w", err)}
	}
	return zones, nil
}

// doAuthorized performs an authorized GET and verifies the response status.
// The caller owns the response body on success.
func (c *Client) doAuthorized(ctx context.Context, session *Session, op, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &APIError{Op: op, UserID: session.UserID, Err: err}
	}

	req.Header.Set("Api-Key", apiKey)
	req.Header.Set("Authorization", session.Token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Source", "website")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, UserID: session.UserID, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		_ = resp.Body.Close()
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, UserID: session.UserID,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))}
	}

	return resp, nil
}

// readBodyForError reads at most maxErrorBodySize bytes of a response body
// for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
