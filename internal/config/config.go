package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultInterval = 15 * time.Minute

// Config defines the exporter configuration schema shared by the CLI
// commands and the provisioner.
type Config struct {
	LogGroups         []string `yaml:"log_groups"`
	DestinationBucket string   `yaml:"destination_bucket"`
	Region            string   `yaml:"region"`
	Interval          string   `yaml:"interval"`
	ResourcePrefix    string   `yaml:"resource_prefix"`
	LambdaARN         string   `yaml:"lambda_arn"`
	MetricsAddr       string   `yaml:"metrics_addr"`
	S3                S3       `yaml:"s3"`

	interval time.Duration
}

// S3 carries endpoint overrides for local object-store stacks.
type S3 struct {
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DestinationBucket == "" {
		return Config{}, fmt.Errorf("destination_bucket is required")
	}
	if cfg.Region == "" {
		return Config{}, fmt.Errorf("region is required")
	}
	if len(cfg.LogGroups) == 0 {
		return Config{}, fmt.Errorf("at least one entry in log_groups is required")
	}

	cfg.interval = defaultInterval
	if cfg.Interval != "" {
		parsed, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return Config{}, fmt.Errorf("parse interval: %w", err)
		}
		if parsed < time.Minute {
			return Config{}, fmt.Errorf("interval %s below the one minute floor", parsed)
		}
		cfg.interval = parsed
	}
	if cfg.ResourcePrefix == "" {
		cfg.ResourcePrefix = "log-export"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}

	return cfg, nil
}

// IntervalDuration is the parsed schedule interval.
func (c Config) IntervalDuration() time.Duration {
	if c.interval == 0 {
		return defaultInterval
	}
	return c.interval
}
