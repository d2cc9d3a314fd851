// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package geovelo

import "fmt"

// AuthenticationError reports a failed credential exchange. It is fatal for
// the sync cycle that encounters it; nothing persisted changes.
type AuthenticationError struct {
	Username   string
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("geovelo: unable to get authorization token for %s (status %d)", e.Username, e.StatusCode)
}

// APIError reports any non-auth remote failure: a non-success status, a
// transport error, a malformed response, or a rejected call while the
// circuit breaker is open. StatusCode is 0 when no HTTP response was
// received. The client performs no retries; retry policy belongs to the
// caller's next scheduled cycle.
type APIError struct {
	Op         string
	StatusCode int
	UserID     int64
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geovelo: %s failed for user %d: %v", e.Op, e.UserID, e.Err)
	}
	return fmt.Sprintf("geovelo: %s failed for user %d (status %d)", e.Op, e.UserID, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
