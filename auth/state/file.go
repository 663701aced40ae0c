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

package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

type fileState struct {
	filename string
}

// NewFileState returns a State backed by a single JSON file. Unknown fields
// in the file are ignored so newer schema revisions stay readable.
func NewFileState(filename string) (State, error) {
	return &fileState{filename: filename}, nil
}

func (f *fileState) GetCredentials(_ context.Context) (*Credentials, error) {
	payload, err := os.ReadFile(f.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("no credentials found at %q, run the consent flow first", f.filename)
		}
		return nil, trace.Wrap(err)
	}

	var creds Credentials
	err = json.Unmarshal(payload, &creds)
	if err != nil {
		return nil, trace.Wrap(err)
	} else if creds.AccessToken == "" {
		return nil, trace.NotFound("state does not contain `access_token`")
	} else if creds.RefreshToken == "" {
		return nil, trace.NotFound("state does not contain `refresh_token`")
	} else if creds.ExpiresAt.IsZero() {
		return nil, trace.NotFound("state does not contain `expires_at`")
	}

	return &creds, nil
}

func (f *fileState) PutCredentials(_ context.Context, creds *Credentials) error {
	out := *creds
	out.SchemaVersion = SchemaVersion
	payload, err := json.Marshal(&out)
	if err != nil {
		return trace.Wrap(err)
	}

	// Write-then-rename so a concurrent reader never observes a torn record.
	tmp, err := os.CreateTemp(filepath.Dir(f.filename), ".credentials-*")
	if err != nil {
		return trace.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return trace.Wrap(err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.Rename(tmp.Name(), f.filename))
}
