package config

import (
	"time"
)

// Config is the top-level daemon configuration
type Config struct {
	DataDir string        `mapstructure:"data_dir" json:"data_dir"`
	HTTP    HTTPConfig    `mapstructure:"http" json:"http"`
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Session SessionConfig `mapstructure:"session" json:"session"`
	Usage   UsageConfig   `mapstructure:"usage" json:"usage"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// HTTPConfig configures the read API server
type HTTPConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	// Type is "local" or "s3"
	Type string `mapstructure:"type" json:"type"`

	// Prefix is the root of the session key namespace
	Prefix string `mapstructure:"prefix" json:"prefix"`

	S3 S3Config `mapstructure:"s3" json:"s3"`
}

// S3Config configures the S3-compatible backend
type S3Config struct {
	Bucket string `mapstructure:"bucket" json:"bucket"`
	Region string `mapstructure:"region" json:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	// (MinIO, Ceph). Path-style addressing is used when set.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

// SessionConfig bounds session lifecycle behavior
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace"`
}

// UsageConfig configures the optional usage reporter
type UsageConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

// LoggingConfig configures the daemon logger
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	File    string `mapstructure:"file" json:"file"`
	Console bool   `mapstructure:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" json:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8321,
		},
		Storage: StorageConfig{
			Type:   "local",
			Prefix: "sessions",
		},
		Session: SessionConfig{
			IdleTimeout:   5 * time.Minute,
			SweepInterval: 30 * time.Second,
			RetryAttempts: 5,
			ShutdownGrace: 30 * time.Second,
		},
		Usage: UsageConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
