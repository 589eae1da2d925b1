package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL      = "https://api.example.com"
	DefaultListingID    = "00000000-0000-0000-0000-000000000001"
	DefaultPricingID    = "00000000-0000-0000-0000-000000000002"
	DefaultHoldID       = "00000000-0000-0000-0000-000000000002"
	DefaultClientOrgKey = "00000000-0000-0000-0000-000000000003"
)

type Config struct {
	API      APIConfig      `yaml:"api"`
	TestData TestDataConfig `yaml:"test_data"`
	Logging  LoggingConfig  `yaml:"logging"`
	Run      RunConfig      `yaml:"run"`
}

type APIConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

type TestDataConfig struct {
	ListingID         string `yaml:"listing_id" validate:"required"`
	PricingID         string `yaml:"pricing_id" validate:"required"`
	ClientOrgKey      string `yaml:"client_org_key" validate:"required"`
	HoldID            string `yaml:"hold_id"`
	LandmarkID        string `yaml:"landmark_id"`
	AccessCode        string `yaml:"access_code"`
	ProductType       int    `yaml:"product_type" validate:"oneof=0 1"`
	PaymentToken      string `yaml:"payment_token"`
	RecaptchaToken    string `yaml:"recaptcha_token"`
	LicensePlateState string `yaml:"license_plate_state" validate:"omitempty,len=2"`
	// Customers selects how purchaser name/email are generated:
	// "sequential" derives them from the VU and iteration, "faker" randomizes.
	Customers string `yaml:"customers" validate:"oneof=sequential faker"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type RunConfig struct {
	Scenario      string `yaml:"scenario"`
	ReportDir     string `yaml:"report_dir"`
	SummaryExport string `yaml:"summary_export"`
	StatusAddr    string `yaml:"status_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 60 * time.Second,
		},
		TestData: TestDataConfig{
			ListingID:         DefaultListingID,
			PricingID:         DefaultPricingID,
			ClientOrgKey:      DefaultClientOrgKey,
			HoldID:            DefaultHoldID,
			PaymentToken:      "faked",
			RecaptchaToken:    "test-recaptcha-token",
			LicensePlateState: "CA",
			Customers:         "sequential",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Run: RunConfig{
			Scenario:  "complete-purchase-flow",
			ReportDir: "report",
		},
	}
}

// Load reads configuration from an optional YAML file on top of the defaults,
// then applies environment variable overrides and validates the result.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	config := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) error {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if username := os.Getenv("BASIC_AUTH_USERNAME"); username != "" {
		config.API.Username = username
	}
	if password := os.Getenv("BASIC_AUTH_PASSWORD"); password != "" {
		config.API.Password = password
	}

	if listingID := os.Getenv("TEST_LISTING_ID"); listingID != "" {
		config.TestData.ListingID = listingID
	}
	if pricingID := os.Getenv("TEST_PRICING_ID"); pricingID != "" {
		config.TestData.PricingID = pricingID
	}
	if orgKey := os.Getenv("TEST_CLIENT_ORG_KEY"); orgKey != "" {
		config.TestData.ClientOrgKey = orgKey
	}
	if holdID := os.Getenv("TEST_HOLD_ID"); holdID != "" {
		config.TestData.HoldID = holdID
	}
	if landmarkID := os.Getenv("TEST_LANDMARK_ID"); landmarkID != "" {
		config.TestData.LandmarkID = landmarkID
	}
	if accessCode := os.Getenv("TEST_ACCESS_CODE"); accessCode != "" {
		config.TestData.AccessCode = accessCode
	}
	if productType := os.Getenv("PRODUCT_TYPE"); productType != "" {
		pt, err := strconv.Atoi(productType)
		if err != nil {
			return errors.Wrapf(err, "invalid PRODUCT_TYPE %q", productType)
		}
		config.TestData.ProductType = pt
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	return nil
}
