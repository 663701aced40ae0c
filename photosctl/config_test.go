package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photosctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[photos]
credentials_file = "/tmp/credentials.json"
client_id = "client-id"
client_secret = "topsecret"

[cache]
dir = "/tmp/cache"
ttl = "10m"

[load]
workers = 3
deadline = "90s"
`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "client-id", conf.Photos.ClientID)
	require.Equal(t, "topsecret", conf.Photos.ClientSecret)
	require.Equal(t, "/tmp/cache", conf.Cache.Dir)
	require.Equal(t, 3, conf.Load.Workers)

	ttl, err := conf.CacheTTL()
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, ttl)
	deadline, err := conf.LoadDeadline()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, deadline)

	// Log defaults kick in.
	require.Equal(t, "stderr", conf.Log.Output)
	require.Equal(t, "info", conf.Log.Severity)
}

func TestLoadConfigSecretFromFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "client_secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("filed-secret\n"), 0600))

	path := writeConfig(t, `
[photos]
credentials_file = "/tmp/credentials.json"
client_id = "client-id"
client_secret = "`+secretPath+`"
`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "filed-secret", conf.Photos.ClientSecret)
}

func TestLoadConfigMissingValues(t *testing.T) {
	for name, content := range map[string]string{
		"no credentials file": `
[photos]
client_id = "client-id"
client_secret = "topsecret"
`,
		"no client id": `
[photos]
credentials_file = "/tmp/credentials.json"
client_secret = "topsecret"
`,
		"bad ttl": `
[photos]
credentials_file = "/tmp/credentials.json"
client_id = "client-id"
client_secret = "topsecret"

[cache]
ttl = "soon"
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			require.Error(t, err)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}
