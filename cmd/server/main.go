package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deepreef/internal/app"
	"deepreef/internal/config"
	"deepreef/internal/jobstatus"
	"deepreef/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	// Values from CONFIG_FILE become the defaults that env and flags override.
	file, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("%v", err)
	}

	var cfg config.Config

	flag.StringVar(&cfg.Addr, "addr", getEnv("ADDR", or(file.Addr, "127.0.0.1:8080")), "listen address")
	flag.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", or(file.DataDir, "./data")), "data directory (sqlite db)")
	flag.StringVar(&cfg.DBBackend, "db-backend", getEnv("DB_BACKEND", or(file.DBBackend, "sqlite")), "database backend (sqlite or postgres)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", file.DatabaseURL), "postgres connection string (required when db-backend=postgres)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", or(file.LogFormat, "text")), "log format (text or json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", or(file.LogLevel, "info")), "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.APIToken, "api-token", getEnv("API_TOKEN", file.APIToken), "optional API token (X-Api-Token)")

	flag.StringVar(&cfg.S3BucketID, "s3-bucket", getEnv("S3_BUCKET_ID", file.S3BucketID), "bucket for submission inputs (empty keeps them in memory)")
	flag.StringVar(&cfg.S3Prefix, "s3-prefix", getEnv("S3_PREFIX", or(file.S3Prefix, "submissions")), "key prefix under the bucket")
	flag.StringVar(&cfg.S3Region, "s3-region", getEnv("S3_REGION", or(file.S3Region, "us-east-1")), "bucket region")
	flag.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", file.S3Endpoint), "custom S3 endpoint (MinIO, Ceph)")
	flag.StringVar(&cfg.S3AccessKeyID, "s3-access-key-id", getEnv("S3_ACCESS_KEY_ID", file.S3AccessKeyID), "static access key (empty uses the default credential chain)")
	flag.StringVar(&cfg.S3SecretAccessKey, "s3-secret-access-key", getEnv("S3_SECRET_ACCESS_KEY", file.S3SecretAccessKey), "static secret key")
	flag.BoolVar(&cfg.S3ForcePathStyle, "s3-force-path-style", getEnvBool("S3_FORCE_PATH_STYLE", file.S3ForcePathStyle), "use path-style bucket addressing")
	flag.Int64Var(&cfg.UploadMaxBytes, "upload-max-bytes", getEnvInt64("UPLOAD_MAX_BYTES", file.UploadMaxBytes), "max request bytes per submission create (0=unlimited)")
	flag.IntVar(&cfg.UploadMaxConcurrentRequests, "upload-max-concurrent-requests", getEnvInt("UPLOAD_MAX_CONCURRENT_REQUESTS", file.UploadMaxConcurrentRequests), "max concurrent submission creates (0=unlimited)")

	flag.StringVar(&cfg.Kubeconfig, "kubeconfig", getEnv("KUBECONFIG", file.Kubeconfig), "kubeconfig for the processing cluster (empty uses in-cluster config)")
	flag.StringVar(&cfg.Namespace, "namespace", getEnv("NAMESPACE", file.Namespace), "namespace of the processing pods")
	flag.StringVar(&cfg.Project, "project", getEnv("PROJECT", file.Project), "run:ai project")
	flag.StringVar(&cfg.RunaiPath, "runai-path", getEnv("RUNAI_PATH", file.RunaiPath), "path of the runai CLI (empty disables job deletion)")
	flag.DurationVar(&cfg.JobStatusTTL, "job-status-ttl", getEnvDuration("JOB_STATUS_TTL", orDuration(file.JobStatusTTL, jobstatus.DefaultTTL)), "job status cache lifetime")
	flag.DurationVar(&cfg.JobStatusEarlyTTL, "job-status-early-ttl", getEnvDuration("JOB_STATUS_EARLY_TTL", orDuration(file.JobStatusEarlyTTL, jobstatus.DefaultEarlyTTL)), "age after which a background refresh starts")
	flag.Parse()

	logger, err := logging.Setup(cfg.LogFormat)
	if err != nil {
		log.Fatalf("invalid LOG_FORMAT %q: %v", cfg.LogFormat, err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid LOG_LEVEL %q: %v", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		logging.Fatalf("server error: %v", err)
	}
}

func or(val, fallback string) string {
	if strings.TrimSpace(val) != "" {
		return val
	}
	return fallback
}

func orDuration(val, fallback time.Duration) time.Duration {
	if val > 0 {
		return val
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}
