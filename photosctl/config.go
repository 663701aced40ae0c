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

package main

import (
	"os"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"

	"github.com/pixelgraph/photoslib/lib/logger"
)

// Config stores the full configuration for photosctl to run.
type Config struct {
	Photos PhotosConfig  `toml:"photos"`
	Cache  CacheConfig   `toml:"cache"`
	Load   LoaderConfig  `toml:"load"`
	Log    logger.Config `toml:"log"`
}

// PhotosConfig holds the library-service connection options.
type PhotosConfig struct {
	// CredentialsFile is the JSON file the OAuth tokens persist in.
	CredentialsFile string `toml:"credentials_file"`
	ClientID        string `toml:"client_id"`
	// ClientSecret is the OAuth client secret, or a path to a file
	// holding it.
	ClientSecret string `toml:"client_secret"`
	// BaseURL and TokenURL override the service endpoints, used in tests.
	BaseURL  string `toml:"base_url"`
	TokenURL string `toml:"token_url"`
}

// CacheConfig holds the transformed-image disk cache options.
type CacheConfig struct {
	// Dir enables the disk cache when non-empty.
	Dir string `toml:"dir"`
	// TTL is the catalog page cache freshness window, e.g. "5m".
	TTL string `toml:"ttl"`
}

// LoaderConfig holds the batch-loading options.
type LoaderConfig struct {
	Workers int `toml:"workers"`
	// Deadline bounds one batch, e.g. "2m".
	Deadline string `toml:"deadline"`
}

const exampleConfig = `# Example photosctl configuration TOML file

[photos]
credentials_file = "/var/lib/photosctl/credentials.json" # Stored OAuth tokens
client_id = "0000-xxxx.apps.example.com"                 # OAuth client id
client_secret = "/var/lib/photosctl/client_secret"       # OAuth client secret or path to it

[cache]
dir = "/var/cache/photosctl"  # Transformed-image cache directory. Empty disables the cache.
# ttl = "5m"                  # Catalog page cache freshness window.

[load]
workers = 6       # Concurrent media fetches per batch.
# deadline = "2m" # Overall batch deadline.

[log]
output = "stderr" # Logger output. Could be "stdout", "stderr" or "/var/log/photosctl.log"
severity = "INFO" # Logger severity. Could be "INFO", "ERROR", "DEBUG" or "WARN".
`

// LoadConfig reads the config file, initializes a new Config struct object, and returns it.
// Optionally returns an error if the file is not readable, or if file format is invalid.
func LoadConfig(filepath string) (*Config, error) {
	t, err := toml.LoadFile(filepath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	conf := &Config{}
	if err := t.Unmarshal(conf); err != nil {
		return nil, trace.Wrap(err)
	}
	if strings.HasPrefix(conf.Photos.ClientSecret, "/") {
		secretBytes, err := os.ReadFile(conf.Photos.ClientSecret)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		conf.Photos.ClientSecret = strings.TrimSpace(string(secretBytes))
	}
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return conf, nil
}

// CheckAndSetDefaults checks the config struct for any logical errors, and sets default values
// if some values are missing.
func (c *Config) CheckAndSetDefaults() error {
	if c.Photos.CredentialsFile == "" {
		return trace.BadParameter("missing required value photos.credentials_file")
	}
	if c.Photos.ClientID == "" {
		return trace.BadParameter("missing required value photos.client_id")
	}
	if c.Photos.ClientSecret == "" {
		return trace.BadParameter("missing required value photos.client_secret")
	}
	if _, err := c.CacheTTL(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := c.LoadDeadline(); err != nil {
		return trace.Wrap(err)
	}
	if c.Load.Workers < 0 {
		return trace.BadParameter("load.workers must not be negative")
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}
	return nil
}

// CacheTTL parses the configured page cache TTL, 0 meaning the default.
func (c *Config) CacheTTL() (time.Duration, error) {
	return parseOptionalDuration(c.Cache.TTL, "cache.ttl")
}

// LoadDeadline parses the configured batch deadline, 0 meaning the default.
func (c *Config) LoadDeadline() (time.Duration, error) {
	return parseOptionalDuration(c.Load.Deadline, "load.deadline")
}

func parseOptionalDuration(value, key string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, trace.BadParameter("invalid %s value %q", key, value)
	}
	if d < 0 {
		return 0, trace.BadParameter("%s must not be negative", key)
	}
	return d, nil
}
