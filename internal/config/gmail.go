package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-bills-must-flow/internal/gmail"
)

// LoadGmailConfig loads Gmail configuration from Viper and environment
// variables. It follows this precedence:
// 1. Viper configuration (from config file or BILLS_ env vars)
// 2. Direct environment variables (GMAIL_*)
// 3. Default values
func LoadGmailConfig() (*gmail.Config, error) {
	config := gmail.DefaultConfig()

	// Load from Viper first
	if v := viper.GetString("gmail.client_id"); v != "" {
		config.ClientID = v
	}
	if v := viper.GetString("gmail.client_secret"); v != "" {
		config.ClientSecret = v
	}
	if v := viper.GetString("gmail.refresh_token"); v != "" {
		config.RefreshToken = v
	}
	if v := viper.GetString("gmail.token_file"); v != "" {
		config.TokenFile = ExpandPath(v)
	}

	// Override with direct environment variables if not set
	if config.ClientID == "" {
		config.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if config.ClientSecret == "" {
		config.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}
	if config.RefreshToken == "" {
		config.RefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")
	}

	// Default token location
	if config.TokenFile == "" {
		config.TokenFile = ExpandPath("~/.config/bills/gmail-token.json")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gmail config: %w", err)
	}

	return &config, nil
}

// BackendConfig holds ledger backend connection settings.
type BackendConfig struct {
	URL    string
	APIKey string
	OrgID  string
}

// LoadBackendConfig loads ledger backend configuration from Viper and
// environment variables.
func LoadBackendConfig() (*BackendConfig, error) {
	config := &BackendConfig{
		URL:    viper.GetString("backend.url"),
		APIKey: viper.GetString("backend.api_key"),
		OrgID:  viper.GetString("backend.org_id"),
	}

	if config.URL == "" {
		config.URL = os.Getenv("BILLS_BACKEND_URL")
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("BILLS_BACKEND_API_KEY")
	}
	if config.OrgID == "" {
		config.OrgID = os.Getenv("BILLS_BACKEND_ORG_ID")
	}

	if config.URL == "" {
		return nil, fmt.Errorf("missing backend URL: set backend.url or BILLS_BACKEND_URL")
	}

	return config, nil
}
