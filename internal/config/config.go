package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	DataDir     string `yaml:"dataDir"`
	DBBackend   string `yaml:"dbBackend"`
	DatabaseURL string `yaml:"databaseUrl"`
	LogFormat   string `yaml:"logFormat"`
	LogLevel    string `yaml:"logLevel"`
	APIToken    string `yaml:"apiToken"`

	S3BucketID        string `yaml:"s3BucketId"`
	S3Prefix          string `yaml:"s3Prefix"`
	S3Region          string `yaml:"s3Region"`
	S3Endpoint        string `yaml:"s3Endpoint"`
	S3AccessKeyID     string `yaml:"s3AccessKeyId"`
	S3SecretAccessKey string `yaml:"s3SecretAccessKey"`
	S3ForcePathStyle  bool   `yaml:"s3ForcePathStyle"`
	UploadMaxBytes    int64  `yaml:"uploadMaxBytes"`

	// UploadMaxConcurrentRequests caps in-flight submission creates; 0 disables the cap.
	UploadMaxConcurrentRequests int `yaml:"uploadMaxConcurrentRequests"`

	Kubeconfig        string        `yaml:"kubeconfig"`
	Namespace         string        `yaml:"namespace"`
	Project           string        `yaml:"project"`
	RunaiPath         string        `yaml:"runaiPath"`
	JobStatusTTL      time.Duration `yaml:"jobStatusTtl"`
	JobStatusEarlyTTL time.Duration `yaml:"jobStatusEarlyTtl"`
}

// LoadFile reads a YAML config file. An empty path yields a zero Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %q not found", path)
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return cfg, nil
}
