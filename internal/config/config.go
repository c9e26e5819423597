package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration.
type Config struct {
	// Database
	PostgresDSN string

	// Key material store
	KeystoreBackend string // memory or secure
	SealerProvider  string // local, aws-kms or vault
	LocalMasterKey  string // hex, local sealer only
	AWSKMSKeyID     string
	AWSKMSRegion    string
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string

	// Relay
	RelayURL string

	// Prometheus scrape endpoint. Empty disables it.
	MetricsAddr string

	// Protocol deadlines
	RequestTimeout time.Duration
	PairingTimeout time.Duration

	// Chains accepted in session proposals, e.g. "eip155:1,eip155:137"
	SupportedChains []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		KeystoreBackend: getEnv("KEYSTORE_BACKEND", "secure"),
		SealerProvider:  getEnv("SEALER_PROVIDER", "local"),
		LocalMasterKey:  getEnv("SEALER_LOCAL_MASTER_KEY", ""),
		AWSKMSKeyID:     getEnv("SEALER_AWS_KMS_KEY_ID", ""),
		AWSKMSRegion:    getEnv("SEALER_AWS_KMS_REGION", ""),
		VaultAddress:    getEnv("SEALER_VAULT_ADDR", ""),
		VaultToken:      getEnv("SEALER_VAULT_TOKEN", ""),
		VaultTransitKey: getEnv("SEALER_VAULT_TRANSIT_KEY", "walletcore"),
		RelayURL:        getEnv("RELAY_URL", "wss://relay.walletconnect.com"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 5*time.Minute),
		PairingTimeout:  getEnvDuration("PAIRING_TIMEOUT", time.Minute),
		SupportedChains: getEnvList("SUPPORTED_CHAINS", []string{"eip155:1", "eip155:137"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.KeystoreBackend != "memory" && c.KeystoreBackend != "secure" {
		return fmt.Errorf("KEYSTORE_BACKEND must be 'memory' or 'secure', got: %s", c.KeystoreBackend)
	}

	if c.KeystoreBackend == "secure" {
		switch c.SealerProvider {
		case "local":
			if c.LocalMasterKey == "" {
				return fmt.Errorf("SEALER_LOCAL_MASTER_KEY is required when SEALER_PROVIDER is 'local'")
			}
		case "aws-kms":
			if c.AWSKMSKeyID == "" {
				return fmt.Errorf("SEALER_AWS_KMS_KEY_ID is required when SEALER_PROVIDER is 'aws-kms'")
			}
		case "vault":
			if c.VaultAddress == "" || c.VaultToken == "" {
				return fmt.Errorf("SEALER_VAULT_ADDR and SEALER_VAULT_TOKEN are required when SEALER_PROVIDER is 'vault'")
			}
		default:
			return fmt.Errorf("SEALER_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.SealerProvider)
		}
	}

	if len(c.SupportedChains) == 0 {
		return fmt.Errorf("SUPPORTED_CHAINS must list at least one chain")
	}

	if c.RequestTimeout <= 0 || c.PairingTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable with a default value.
// Accepts Go duration syntax or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable with a default value
func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
