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

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/pixelgraph/photoslib/auth/oauth"
	"github.com/pixelgraph/photoslib/auth/state"
)

// defaultExpiryMargin is subtracted from the token expiry when deciding
// whether a refresh is due, so tokens are rotated before they actually lapse.
const defaultExpiryMargin = 2 * time.Minute

// AccessTokenProvider hands out an access token valid at the time of the call.
type AccessTokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// StaticAccessTokenProvider is an AccessTokenProvider with a fixed token,
// used in tests and for short-lived scripts.
type StaticAccessTokenProvider struct {
	token string
}

func NewStaticAccessTokenProvider(token string) *StaticAccessTokenProvider {
	return &StaticAccessTokenProvider{token: token}
}

func (s *StaticAccessTokenProvider) GetValidToken(_ context.Context) (string, error) {
	return s.token, nil
}

// Manager owns the credential pair: it refreshes the access token before
// expiry, persists every rotation, and serializes concurrent refreshes so at
// most one refresh request is ever in flight.
type Manager struct {
	state        state.State
	refresher    oauth.Refresher
	clock        clockwork.Clock
	expiryMargin time.Duration

	log log.FieldLogger

	mu    sync.Mutex // guards creds and the refresh round-trip
	creds *state.Credentials
}

// ManagerConfig holds Manager settings.
type ManagerConfig struct {
	State     state.State
	Refresher oauth.Refresher
	Clock     clockwork.Clock
	// ExpiryMargin overrides the proactive-refresh margin.
	ExpiryMargin time.Duration
	Log          log.FieldLogger
}

func (c *ManagerConfig) CheckAndSetDefaults() error {
	if c.State == nil {
		return trace.BadParameter("missing required value State")
	}
	if c.Refresher == nil {
		return trace.BadParameter("missing required value Refresher")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ExpiryMargin == 0 {
		c.ExpiryMargin = defaultExpiryMargin
	}
	if c.Log == nil {
		c.Log = log.StandardLogger()
	}
	return nil
}

// NewManager builds a Manager and loads the persisted credentials.
func NewManager(ctx context.Context, conf ManagerConfig) (*Manager, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	creds, err := conf.State.GetCredentials(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{
		state:        conf.State,
		refresher:    conf.Refresher,
		clock:        conf.Clock,
		expiryMargin: conf.ExpiryMargin,
		log:          conf.Log,
		creds:        creds,
	}, nil
}

// GetValidToken returns an access token that is not within the expiry margin,
// refreshing first when needed. Concurrent callers during a refresh block on
// the same refresh and reuse its result.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldRefresh(m.creds) {
		return m.creds.AccessToken, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", trace.Wrap(err)
	}
	return m.creds.AccessToken, nil
}

// ForceRefresh rotates the credentials even if they look fresh. It is meant
// for the transport's 401 path where the token was rejected upstream before
// its nominal expiry. When the current token no longer equals staleToken a
// concurrent caller has already refreshed, and that result is reused.
func (m *Manager) ForceRefresh(ctx context.Context, staleToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creds.AccessToken != staleToken {
		return m.creds.AccessToken, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", trace.Wrap(err)
	}
	return m.creds.AccessToken, nil
}

func (m *Manager) shouldRefresh(creds *state.Credentials) bool {
	return !m.clock.Now().Add(m.expiryMargin).Before(creds.ExpiresAt)
}

// refreshLocked performs one refresh round-trip and publishes the result.
// Callers must hold m.mu. An access-denied error means the refresh token was
// revoked upstream; it is surfaced as is and must not be retried here.
func (m *Manager) refreshLocked(ctx context.Context) error {
	creds, err := m.refresher.Refresh(ctx, m.creds.RefreshToken)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := m.state.PutCredentials(ctx, creds); err != nil {
		return trace.Wrap(err)
	}
	m.creds = creds
	m.log.WithField("expires_at", creds.ExpiresAt).Debug("Refreshed access token")
	return nil
}

var _ AccessTokenProvider = &Manager{}
