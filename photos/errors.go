/*
Copyright 2024 Pixelgraph, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package photos

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"
)

// UpstreamError is a non-retryable upstream failure: any 4xx other than
// 401/429, or a 5xx that survived the retry budget. Status and Message are
// extracted from the JSON error body when present.
type UpstreamError struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream returned %v %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream returned %v: %s", e.StatusCode, e.Body)
}

// IsUpstreamError checks whether err carries an UpstreamError.
func IsUpstreamError(err error) bool {
	var upstreamErr *UpstreamError
	return errors.As(trace.Unwrap(err), &upstreamErr)
}

// RateLimitedError reports an upstream 429 along with the server-requested
// wait, when the response carried one.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by upstream, retry after %s", e.RetryAfter)
	}
	return "rate limited by upstream"
}

// IsRateLimited checks whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rateErr *RateLimitedError
	return errors.As(trace.Unwrap(err), &rateErr)
}

// isRetryableStatus reports whether a response status is worth another
// attempt within the retry budget.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// responseError converts a non-2xx response into the error taxonomy:
// 401 access denied, 429 rate limited, everything else an UpstreamError.
func responseError(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized:
		return trace.AccessDenied("access token rejected by upstream")
	case code == http.StatusTooManyRequests:
		return trace.Wrap(&RateLimitedError{RetryAfter: retryAfter(resp)})
	default:
		body := string(resp.Body())
		return trace.Wrap(&UpstreamError{
			StatusCode: code,
			Status:     gjson.Get(body, "error.status").String(),
			Message:    gjson.Get(body, "error.message").String(),
			Body:       body,
		})
	}
}

func retryAfter(resp *resty.Response) time.Duration {
	header := resp.Header().Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
