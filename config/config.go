package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// LoaderOrderListing keeps objects in the order the storage backend lists them.
	LoaderOrderListing = "listing"
	// LoaderOrderTimestamp sorts staged objects by the fetch time embedded in their key.
	LoaderOrderTimestamp = "timestamp"
)

type Config struct {
	Coinflow CoinflowConfig `yaml:"coinflow"`
	Source   SourceConfig   `yaml:"source"`
	Storage  StorageConfig  `yaml:"storage"`
	Loader   LoaderConfig   `yaml:"loader"`
	Writer   WriterConfig   `yaml:"writer"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type CoinflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	CoinGecko CoinGeckoConfig `yaml:"coingecko"`
}

type CoinGeckoConfig struct {
	BaseURL           string        `yaml:"base_url"`
	VsCurrency        string        `yaml:"vs_currency"`
	Order             string        `yaml:"order"`
	PerPage           int           `yaml:"per_page"`
	Sparkline         bool          `yaml:"sparkline"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	APIKey            string        `yaml:"api_key"`
	APIKeyHeader      string        `yaml:"api_key_header"`
}

type StorageConfig struct {
	S3       S3Config       `yaml:"s3"`
	Local    LocalConfig    `yaml:"local"`
	Prefixes PrefixesConfig `yaml:"prefixes"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type PrefixesConfig struct {
	Raw       string `yaml:"raw"`
	Processed string `yaml:"processed"`
	Manifest  string `yaml:"manifest"`
}

type LoaderConfig struct {
	Order string `yaml:"order"`
}

type WriterConfig struct {
	Parquet  ParquetConfig  `yaml:"parquet"`
	Manifest ManifestConfig `yaml:"manifest"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
}

type ManifestConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch  CloudWatchConfig  `yaml:"cloudwatch"`
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

// Default returns the configuration used when a key is absent from the YAML
// file. The values match the public CoinGecko markets endpoint and the bucket
// layout the pipeline has always written to.
func Default() Config {
	return Config{
		Source: SourceConfig{
			CoinGecko: CoinGeckoConfig{
				BaseURL:      "https://api.coingecko.com/api/v3",
				VsCurrency:   "usd",
				Order:        "market_cap_desc",
				PerPage:      250,
				Sparkline:    false,
				Timeout:      30 * time.Second,
				APIKeyHeader: "x-cg-demo-api-key",
			},
		},
		Storage: StorageConfig{
			Local: LocalConfig{Dir: "data"},
			Prefixes: PrefixesConfig{
				Raw:       "coin_data/raw_data/",
				Processed: "coin_data/coin_process data/",
				Manifest:  "coin_data/metadata/",
			},
		},
		Loader: LoaderConfig{Order: LoaderOrderListing},
		Writer: WriterConfig{
			Parquet: ParquetConfig{Compression: "snappy"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			CloudWatch:  CloudWatchConfig{Namespace: "Coinflow", Dashboard: "Coinflow"},
			Pushgateway: PushgatewayConfig{Job: "coinflow"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Loader.Order = strings.ToLower(strings.TrimSpace(config.Loader.Order))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides replaces credentials and the bucket with values from the
// environment so secrets never have to live in the YAML file.
func applyEnvOverrides(config *Config) {
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		config.Source.CoinGecko.APIKey = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Coinflow.Name == "" {
		return fmt.Errorf("coinflow.name is required")
	}

	if cfg.Coinflow.Version == "" {
		return fmt.Errorf("coinflow.version is required")
	}

	cg := cfg.Source.CoinGecko
	if cg.BaseURL == "" {
		return fmt.Errorf("source.coingecko.base_url is required")
	}
	if cg.PerPage <= 0 {
		return fmt.Errorf("source.coingecko.per_page must be greater than 0")
	}
	if cg.Timeout <= 0 {
		return fmt.Errorf("source.coingecko.timeout must be greater than 0")
	}
	if cg.RequestsPerMinute < 0 {
		return fmt.Errorf("source.coingecko.requests_per_minute must not be negative")
	}

	p := cfg.Storage.Prefixes
	if p.Raw == "" || p.Processed == "" {
		return fmt.Errorf("storage.prefixes.raw and storage.prefixes.processed are required")
	}
	if p.Raw == p.Processed {
		return fmt.Errorf("storage.prefixes.raw and storage.prefixes.processed must differ")
	}
	if cfg.Writer.Manifest.Enabled {
		if p.Manifest == "" {
			return fmt.Errorf("storage.prefixes.manifest is required when writer.manifest is enabled")
		}
		// manifests are JSON and would be picked up by the raw loader
		if strings.HasPrefix(p.Manifest, p.Raw) {
			return fmt.Errorf("storage.prefixes.manifest must not be nested under storage.prefixes.raw")
		}
	}

	switch cfg.Loader.Order {
	case LoaderOrderListing, LoaderOrderTimestamp:
	default:
		return fmt.Errorf("loader.order '%s' is invalid", cfg.Loader.Order)
	}

	if !cfg.Storage.S3.Enabled && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("storage.s3.enabled is required in the %s environment", AppEnvironment())
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	} else if cfg.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local.dir is required when S3 is disabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
