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

	"github.com/pixelgraph/photoslib/auth/state"
)

// Authorizer covers both halves of the OAuth2 lifecycle: the initial
// code exchange and the subsequent refresh grants.
type Authorizer interface {
	Exchanger
	Refresher
}

type Exchanger interface {
	Exchange(ctx context.Context, authorizationCode string, redirectURI string) (*state.Credentials, error)
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error)
}
