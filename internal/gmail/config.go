// Package gmail provides the Gmail-backed mail source for candidate
// discovery and message fetching.
package gmail

import (
	"fmt"
	"os"
	"time"
)

// Config holds the configuration for the Gmail mail source.
type Config struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	TokenFile     string
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// LoadFromEnv loads the configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	c.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	c.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	c.RefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")

	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("missing Gmail authentication: provide OAuth2 client credentials")
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("no OAuth2 client configured")
	}

	if c.RefreshToken == "" && c.TokenFile == "" {
		return fmt.Errorf("no token source configured; provide a refresh token or a token file")
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative")
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}

	return nil
}
