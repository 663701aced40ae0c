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

package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/pixelgraph/photoslib/auth/state"
)

const (
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	tokenHTTPTimeout = 30 * time.Second
	tokenMaxConns    = 10
)

// tokenResponse is the wire shape of a successful token-endpoint response.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresInSeconds int    `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenAuthorizer implements Authorizer against a standard OAuth2 token
// endpoint using the authorization-code and refresh-token grants.
type TokenAuthorizer struct {
	client *resty.Client
	clock  clockwork.Clock

	clientID     string
	clientSecret string
}

// Config holds TokenAuthorizer settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the token endpoint, used in tests.
	TokenURL string
	Clock    clockwork.Clock
}

func (c *Config) CheckAndSetDefaults() error {
	if c.ClientID == "" {
		return trace.BadParameter("missing required value ClientID")
	}
	if c.ClientSecret == "" {
		return trace.BadParameter("missing required value ClientSecret")
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewTokenAuthorizer returns a new TokenAuthorizer.
func NewTokenAuthorizer(conf Config) (*TokenAuthorizer, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := resty.
		NewWithClient(&http.Client{
			Timeout: tokenHTTPTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     tokenMaxConns,
				MaxIdleConnsPerHost: tokenMaxConns,
			},
		}).
		SetHeader("Accept", "application/json").
		SetBaseURL(conf.TokenURL)
	return &TokenAuthorizer{
		client:       client,
		clock:        conf.Clock,
		clientID:     conf.ClientID,
		clientSecret: conf.ClientSecret,
	}, nil
}

// Exchange implements Exchanger.
func (a *TokenAuthorizer) Exchange(ctx context.Context, authorizationCode string, redirectURI string) (*state.Credentials, error) {
	var result tokenResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"code":          authorizationCode,
			"redirect_uri":  redirectURI,
			"grant_type":    "authorization_code",
		}).
		SetResult(&result).
		SetError(&result).
		Post("")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return a.credentials(resp, result, "")
}

// Refresh implements Refresher. A rejected refresh token surfaces as an
// access-denied error: recovering requires a fresh user consent, so callers
// must not retry.
func (a *TokenAuthorizer) Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error) {
	var result tokenResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"refresh_token": refreshToken,
			"grant_type":    "refresh_token",
		}).
		SetResult(&result).
		SetError(&result).
		Post("")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return a.credentials(resp, result, refreshToken)
}

func (a *TokenAuthorizer) credentials(resp *resty.Response, result tokenResponse, prevRefreshToken string) (*state.Credentials, error) {
	if resp.IsError() {
		if result.Error == "invalid_grant" || resp.StatusCode() == http.StatusUnauthorized {
			return nil, trace.AccessDenied("token refresh rejected: %s %s", result.Error, result.ErrorDescription)
		}
		return nil, trace.Errorf("token endpoint returned %v: %s %s", resp.StatusCode(), result.Error, result.ErrorDescription)
	}
	if result.AccessToken == "" {
		return nil, trace.Errorf("no access token in response")
	}
	refreshToken := result.RefreshToken
	if refreshToken == "" {
		// The refresh grant usually omits the refresh token; it stays valid.
		refreshToken = prevRefreshToken
	}
	return &state.Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    a.clock.Now().UTC().Add(time.Duration(result.ExpiresInSeconds) * time.Second),
	}, nil
}

var _ Authorizer = &TokenAuthorizer{}
