package upstream

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the upstream connection settings. The zero value is a
// disabled upstream; use DefaultConfig for the hex.pm defaults.
type Config struct {
	// Enabled toggles upstream access. When false every fetch returns
	// ErrDisabled without any network activity.
	Enabled bool
	// APIURL is the base URL of the upstream JSON API.
	APIURL string
	// RepoURL is the base URL of the upstream repository CDN serving
	// tarballs and registry blobs.
	RepoURL string
	// APIKey is sent as the Authorization header when non-empty.
	APIKey string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// RetryAttempts is the total number of tries per request.
	RetryAttempts int
	// RetryDelay is the constant pause between tries.
	RetryDelay time.Duration
}

// DefaultConfig returns the hex.pm defaults with the upstream disabled.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		APIURL:        "https://hex.pm/api",
		RepoURL:       "https://repo.hex.pm",
		Timeout:       15 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// Validate checks that the config values are inside their allowed ranges.
func (c Config) Validate() error {
	if c.Timeout < time.Second || c.Timeout > 5*time.Minute {
		return fmt.Errorf("upstream timeout %v out of range [1s, 5m]", c.Timeout)
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 9 {
		return fmt.Errorf("upstream retry attempts %d out of range [1, 9]", c.RetryAttempts)
	}
	if c.RetryDelay < 100*time.Millisecond || c.RetryDelay > time.Minute {
		return fmt.Errorf("upstream retry delay %v out of range [100ms, 1m]", c.RetryDelay)
	}
	for _, raw := range []string{c.APIURL, c.RepoURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream URL: %q", raw)
		}
	}
	return nil
}
