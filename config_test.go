package lti

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{BaseURL: "https://tool.example.com"}
	cfg.setDefaults()

	assert.Equal(t, []string{CapabilityBasicLaunch}, cfg.RequiredCapabilities)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultNonceMaxAge, cfg.NonceMaxAge)
	assert.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.HTTPClient)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPClient.Timeout)
}

func TestConfig_SetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		BaseURL:              "https://tool.example.com",
		RequiredCapabilities: []string{CapabilityBasicLaunch, "Context.id"},
		HTTPTimeout:          3 * time.Second,
		NonceMaxAge:          time.Minute,
	}
	cfg.setDefaults()

	assert.Equal(t, []string{CapabilityBasicLaunch, "Context.id"}, cfg.RequiredCapabilities)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, time.Minute, cfg.NonceMaxAge)
	assert.Equal(t, 3*time.Second, cfg.HTTPClient.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"https URL", "https://tool.example.com", false},
		{"http URL", "http://localhost:8080", false},
		{"empty", "", true},
		{"no scheme", "tool.example.com", true},
		{"wrong scheme", "ftp://tool.example.com", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{BaseURL: tt.baseURL}
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
