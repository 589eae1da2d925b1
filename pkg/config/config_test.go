package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_PATH", "BASE_URL", "BASIC_AUTH_USERNAME", "BASIC_AUTH_PASSWORD",
	"TEST_LISTING_ID", "TEST_PRICING_ID", "TEST_CLIENT_ORG_KEY", "TEST_HOLD_ID",
	"TEST_LANDMARK_ID", "TEST_ACCESS_CODE", "PRODUCT_TYPE", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name          string
		configContent string
		configPath    string
		envVars       map[string]string
		expectedError bool
		validateFunc  func(*testing.T, *Config)
	}{
		{
			name:          "defaults without a file",
			expectedError: false,
			validateFunc: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
				assert.Equal(t, 60*time.Second, cfg.API.Timeout)
				assert.Equal(t, DefaultListingID, cfg.TestData.ListingID)
				assert.Equal(t, DefaultPricingID, cfg.TestData.PricingID)
				assert.Equal(t, DefaultClientOrgKey, cfg.TestData.ClientOrgKey)
				assert.Equal(t, 0, cfg.TestData.ProductType)
				assert.Equal(t, "CA", cfg.TestData.LicensePlateState)
				assert.Equal(t, "sequential", cfg.TestData.Customers)
				assert.Equal(t, "info", cfg.Logging.Level)
			},
		},
		{
			name: "valid configuration file",
			configContent: `
api:
  base_url: "https://api-stage.smartpass.com"
  username: "loadtest"
  password: "secret"
  timeout: 15s

test_data:
  listing_id: "11111111-1111-1111-1111-111111111111"
  pricing_id: "22222222-2222-2222-2222-222222222222"
  client_org_key: "33333333-3333-3333-3333-333333333333"
  product_type: 1
  access_code: "VIP"
  customers: faker

logging:
  level: debug
  format: console

run:
  scenario: purchase-sustained
  status_addr: ":9090"
`,
			expectedError: false,
			validateFunc: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://api-stage.smartpass.com", cfg.API.BaseURL)
				assert.Equal(t, "loadtest", cfg.API.Username)
				assert.Equal(t, 15*time.Second, cfg.API.Timeout)
				assert.Equal(t, 1, cfg.TestData.ProductType)
				assert.Equal(t, "VIP", cfg.TestData.AccessCode)
				assert.Equal(t, "faker", cfg.TestData.Customers)
				assert.Equal(t, "console", cfg.Logging.Format)
				assert.Equal(t, "purchase-sustained", cfg.Run.Scenario)
				assert.Equal(t, ":9090", cfg.Run.StatusAddr)
				// untouched defaults survive
				assert.Equal(t, "faked", cfg.TestData.PaymentToken)
				assert.Equal(t, "report", cfg.Run.ReportDir)
			},
		},
		{
			name: "environment variable overrides",
			configContent: `
api:
  base_url: "https://api-stage.smartpass.com"
test_data:
  listing_id: "from-file"
`,
			envVars: map[string]string{
				"BASE_URL":            "https://api-perf.smartpass.com",
				"BASIC_AUTH_USERNAME": "env-user",
				"BASIC_AUTH_PASSWORD": "env-pass",
				"TEST_LISTING_ID":     "from-env",
				"TEST_LANDMARK_ID":    "landmark-1",
				"PRODUCT_TYPE":        "1",
				"LOG_LEVEL":           "warn",
			},
			expectedError: false,
			validateFunc: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://api-perf.smartpass.com", cfg.API.BaseURL)
				assert.Equal(t, "env-user", cfg.API.Username)
				assert.Equal(t, "env-pass", cfg.API.Password)
				assert.Equal(t, "from-env", cfg.TestData.ListingID)
				assert.Equal(t, "landmark-1", cfg.TestData.LandmarkID)
				assert.Equal(t, 1, cfg.TestData.ProductType)
				assert.Equal(t, "warn", cfg.Logging.Level)
			},
		},
		{
			name:          "invalid product type from environment",
			envVars:       map[string]string{"PRODUCT_TYPE": "two"},
			expectedError: true,
		},
		{
			name:          "product type out of range",
			envVars:       map[string]string{"PRODUCT_TYPE": "2"},
			expectedError: true,
		},
		{
			name:          "invalid base url",
			envVars:       map[string]string{"BASE_URL": "not a url"},
			expectedError: true,
		},
		{
			name:          "invalid YAML syntax",
			configContent: `invalid: yaml: content: [unclosed`,
			expectedError: true,
		},
		{
			name:          "nonexistent config file",
			configPath:    "/nonexistent/path/config.yaml",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			configPath := tt.configPath
			if tt.configContent != "" {
				configPath = filepath.Join(tempDir, filepath.Base(t.Name())+".yaml")
				require.NoError(t, os.WriteFile(configPath, []byte(tt.configContent), 0o644))
			}

			cfg, err := Load(configPath)
			if tt.expectedError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validateFunc != nil {
				tt.validateFunc(t, cfg)
			}
		})
	}
}

func TestLoadFromConfigPathEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "stage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  scenario: payment-soak\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "payment-soak", cfg.Run.Scenario)
}
