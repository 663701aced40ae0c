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
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"

	"github.com/pixelgraph/photoslib/lib"
	"github.com/pixelgraph/photoslib/lib/backoff"
	"github.com/pixelgraph/photoslib/lib/logger"
)

const (
	defaultBaseURL = "https://photoslibrary.googleapis.com"

	photosHTTPTimeout = 30 * time.Second
	photosMaxConns    = 100

	// defaultMaxAttempts is the transport retry budget for transient failures.
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second

	// defaultPagesPerSecond paces catalog page fetches to stay clear of
	// upstream quotas.
	defaultPagesPerSecond = 2
)

// TokenProvider hands out an access token valid at the time of the call.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// tokenForceRefresher is implemented by providers that can rotate a token
// rejected upstream before its nominal expiry.
type tokenForceRefresher interface {
	ForceRefresh(ctx context.Context, staleToken string) (string, error)
}

// Client is an authenticated client of the photo-library API: it annotates
// every call with a fresh token, retries transient failures with backoff,
// and caches fetched catalog pages.
type Client struct {
	client *resty.Client
	media  *resty.Client
	tokens TokenProvider
	clock  clockwork.Clock

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	albumPages *pageCache[Album]
	mediaPages *pageCache[MediaItem]
	pace       limiter.Store
}

// ClientConfig holds Client settings.
type ClientConfig struct {
	TokenProvider TokenProvider
	// BaseURL overrides the service endpoint, used in tests.
	BaseURL string
	// CacheTTL overrides the page cache freshness window.
	CacheTTL time.Duration
	// MaxAttempts overrides the transient-failure retry budget.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// PagesPerSecond overrides the catalog page pacing.
	PagesPerSecond uint64
	Clock          clockwork.Clock
}

func (c *ClientConfig) CheckAndSetDefaults() error {
	if c.TokenProvider == nil {
		return trace.BadParameter("missing required value TokenProvider")
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	} else {
		url, err := lib.AddrToURL(c.BaseURL)
		if err != nil {
			return trace.Wrap(err)
		}
		c.BaseURL = url.String()
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.PagesPerSecond == 0 {
		c.PagesPerSecond = defaultPagesPerSecond
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewClient builds a Client.
func NewClient(conf ClientConfig) (*Client, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	pace, err := memorystore.New(&memorystore.Config{
		Tokens:   conf.PagesPerSecond,
		Interval: time.Second,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	json := jsoniter.ConfigFastest

	client := resty.
		NewWithClient(&http.Client{
			Timeout: photosHTTPTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     photosMaxConns,
				MaxIdleConnsPerHost: photosMaxConns,
			},
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetBaseURL(conf.BaseURL)

	// Media bytes are fetched through capability URLs: no auth header, no
	// base URL, plain binary responses.
	media := resty.NewWithClient(&http.Client{
		Timeout: photosHTTPTimeout,
		Transport: &http.Transport{
			MaxConnsPerHost:     photosMaxConns,
			MaxIdleConnsPerHost: photosMaxConns,
		},
	})

	return &Client{
		client:      client,
		media:       media,
		tokens:      conf.TokenProvider,
		clock:       conf.Clock,
		maxAttempts: conf.MaxAttempts,
		backoffBase: conf.BackoffBase,
		backoffCap:  conf.BackoffCap,
		albumPages:  newPageCache[Album](conf.CacheTTL, conf.Clock),
		mediaPages:  newPageCache[MediaItem](conf.CacheTTL, conf.Clock),
		pace:        pace,
	}, nil
}

// call runs one logical API call with the transport policy: a fresh token
// per attempt, capped jittered backoff on network errors, 429 and 5xx up to
// the attempt budget, and exactly one forced token refresh on 401.
func (c *Client) call(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	log := logger.Get(ctx)
	bk := backoff.NewDecorr(c.backoffBase, c.backoffCap, c.clock)
	refreshed := false

	for attempt := 1; ; attempt++ {
		// Fetched fresh per attempt so a mid-flight refresh is picked up.
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		resp, err := fn(c.client.R().SetContext(ctx).SetAuthToken(token))
		if err != nil {
			if ctx.Err() != nil {
				return nil, trace.Wrap(ctx.Err())
			}
			err = trace.ConnectionProblem(err, "request failed")
			if attempt >= c.maxAttempts {
				return nil, trace.Wrap(err)
			}
			log.WithError(err).Debugf("Retrying after network error, attempt %d/%d", attempt, c.maxAttempts)
			if err := bk.Do(ctx); err != nil {
				return nil, trace.Wrap(err)
			}
			continue
		}
		if resp.IsSuccess() {
			return resp, nil
		}

		err = responseError(resp)
		switch {
		case trace.IsAccessDenied(err):
			if refreshed {
				return nil, trace.Wrap(err)
			}
			refresher, ok := c.tokens.(tokenForceRefresher)
			if !ok {
				return nil, trace.Wrap(err)
			}
			refreshed = true
			if _, err := refresher.ForceRefresh(ctx, token); err != nil {
				return nil, trace.Wrap(err)
			}
			log.Debug("Access token rejected upstream, refreshed and retrying once")
			continue
		case isRetryableStatus(resp.StatusCode()):
			if attempt >= c.maxAttempts {
				return nil, trace.Wrap(err)
			}
			if IsRateLimited(err) {
				if wait := retryAfter(resp); wait > 0 {
					log.Debugf("Rate limited, honoring Retry-After of %s", wait)
					select {
					case <-c.clock.After(wait):
					case <-ctx.Done():
						return nil, trace.Wrap(ctx.Err())
					}
					continue
				}
			}
			log.Debugf("Retrying after %d response, attempt %d/%d", resp.StatusCode(), attempt, c.maxAttempts)
			if err := bk.Do(ctx); err != nil {
				return nil, trace.Wrap(err)
			}
			continue
		default:
			return nil, trace.Wrap(err)
		}
	}
}

// pacePage blocks until the page limiter admits another catalog page fetch.
func (c *Client) pacePage(ctx context.Context) error {
	for {
		_, _, reset, ok, err := c.pace.Take(ctx, "pages")
		if err != nil {
			return trace.Wrap(err)
		}
		if ok {
			return nil
		}
		// The limiter window runs on the wall clock and reset carries a
		// wall timestamp, so the wait does too. c.clock only drives the
		// retry backoff and the page cache.
		wait := time.Duration(int64(reset) - time.Now().UnixNano())
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return trace.Wrap(ctx.Err())
		}
	}
}
