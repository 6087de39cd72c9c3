// SPDX-License-Identifier: AGPL-3.0-or-later

package kfp

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the pipelines API server.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API error with HTTP 404 status.
func IsNotFound(err error) bool { return HasStatusCode(err, http.StatusNotFound) }

// IsUnauthorized reports whether err is an API error with HTTP 401 or 403 status.
func IsUnauthorized(err error) bool {
	return HasStatusCode(err, http.StatusUnauthorized) || HasStatusCode(err, http.StatusForbidden)
}

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
