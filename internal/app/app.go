package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"deepreef/internal/api"
	"deepreef/internal/config"
	"deepreef/internal/db"
	"deepreef/internal/jobstatus"
	"deepreef/internal/k8s"
	"deepreef/internal/logging"
	"deepreef/internal/metrics"
	"deepreef/internal/objectstore"
	"deepreef/internal/store"
	"deepreef/internal/submissions"
	"deepreef/internal/transects"
	"deepreef/internal/ws"
)

const (
	defaultAddr                        = "127.0.0.1:8080"
	defaultDataDir                     = "./data"
	defaultS3Prefix                    = "submissions"
	defaultS3Region                    = "us-east-1"
	defaultUploadMaxConcurrentRequests = 8
	shutdownTimeout                    = 10 * time.Second
)

func applySafeDefaults(cfg *config.Config) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.S3Prefix = strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/")
	if cfg.S3Prefix == "" {
		cfg.S3Prefix = defaultS3Prefix
	}
	if strings.TrimSpace(cfg.S3Region) == "" {
		cfg.S3Region = defaultS3Region
	}
	if cfg.UploadMaxBytes < 0 {
		cfg.UploadMaxBytes = 0
	}
	if cfg.UploadMaxConcurrentRequests < 0 {
		cfg.UploadMaxConcurrentRequests = defaultUploadMaxConcurrentRequests
	}
	if cfg.JobStatusTTL <= 0 {
		cfg.JobStatusTTL = jobstatus.DefaultTTL
	}
	if cfg.JobStatusEarlyTTL <= 0 || cfg.JobStatusEarlyTTL > cfg.JobStatusTTL {
		cfg.JobStatusEarlyTTL = min(jobstatus.DefaultEarlyTTL, cfg.JobStatusTTL)
	}
	// run:ai schedules a project's workloads in the runai-<project> namespace.
	if strings.TrimSpace(cfg.Namespace) == "" && strings.TrimSpace(cfg.Project) != "" {
		cfg.Namespace = "runai-" + strings.TrimSpace(cfg.Project)
	}
}

func Run(ctx context.Context, cfg config.Config) error {
	applySafeDefaults(&cfg)

	loopback, err := isLoopbackListenAddr(cfg.Addr)
	if err != nil {
		return err
	}
	if !loopback && cfg.APIToken == "" {
		logging.Warnf("listening on non-loopback addr %q without API_TOKEN; every client can write", cfg.Addr)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}

	gdb, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	st := store.New(gdb, store.Options{})
	m := metrics.New()
	hub := ws.NewHub()

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	runai := &k8s.Runai{Path: cfg.RunaiPath, Kubeconfig: cfg.Kubeconfig, Project: cfg.Project}
	cluster := &k8s.Cluster{Namespace: cfg.Namespace, Kubeconfig: cfg.Kubeconfig, Runai: runai}
	jobCache := jobstatus.New(cluster, jobstatus.Options{
		TTL:      cfg.JobStatusTTL,
		EarlyTTL: cfg.JobStatusEarlyTTL,
		Metrics:  m,
	})
	if cfg.Namespace == "" {
		logging.Warnf("NAMESPACE is not set; run status will report the cluster as unavailable")
	}

	var jobAdmin api.JobAdmin
	if runai.Enabled() {
		jobAdmin = runai
	} else {
		logging.Infof("RUNAI_PATH is not set; job deletion is disabled")
	}

	handler := api.New(api.Dependencies{
		Config: cfg,
		DB:     st,
		Submissions: submissions.New(submissions.Options{
			Store:   st,
			Objects: objects,
			Prefix:  cfg.S3Prefix,
			Jobs:    jobCache,
			Hub:     hub,
			Metrics: m,
		}),
		Transects: transects.New(transects.Options{Store: st, Jobs: jobCache, Hub: hub}),
		Jobs:      jobCache,
		JobAdmin:  jobAdmin,
		Hub:       hub,
		Metrics:   m,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("listening on http://%s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func openDatabase(cfg config.Config) (*gorm.DB, func(), error) {
	backend, err := db.ParseBackend(cfg.DBBackend)
	if err != nil {
		return nil, nil, err
	}
	dbCfg := db.Config{Backend: backend, DatabaseURL: cfg.DatabaseURL}
	if backend == db.BackendSQLite {
		dbCfg.SQLitePath = filepath.Join(cfg.DataDir, "deepreef.db")
	} else if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required when DB_BACKEND=%s", backend)
	}

	gdb, err := db.Open(dbCfg)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, err
	}
	if backend == db.BackendSQLite {
		_ = os.Chmod(dbCfg.SQLitePath, 0o600)
	}
	return gdb, func() { _ = sqlDB.Close() }, nil
}

// newObjectStore connects to the configured bucket, or keeps uploads in
// memory when none is configured.
func newObjectStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	if strings.TrimSpace(cfg.S3BucketID) == "" {
		logging.Warnf("S3_BUCKET_ID is not set; uploads are kept in memory and lost on restart")
		return objectstore.NewMemory(), nil
	}
	s3, err := objectstore.NewS3(ctx, objectstore.S3Config{
		Bucket:          cfg.S3BucketID,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		ForcePathStyle:  cfg.S3ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	logging.Infof("object store: bucket %s, prefix %s", s3.Bucket(), cfg.S3Prefix)
	return s3, nil
}

func isLoopbackListenAddr(addr string) (bool, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false, fmt.Errorf("invalid addr %q (expected host:port): %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return false, nil
	}
	if host == "localhost" {
		return true, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false, nil
	}
	return ip.IsLoopback(), nil
}
