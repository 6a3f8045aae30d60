package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileEmptyPath(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepreef.yml")
	body := "addr: 0.0.0.0:9000\ns3BucketId: reef-media\ns3Prefix: deepreef\nnamespace: reef\njobStatusTtl: 45s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.S3BucketID != "reef-media" || cfg.S3Prefix != "deepreef" {
		t.Fatalf("unexpected s3 settings: %+v", cfg)
	}
	if cfg.Namespace != "reef" {
		t.Fatalf("Namespace=%q", cfg.Namespace)
	}
	if cfg.JobStatusTTL != 45*time.Second {
		t.Fatalf("JobStatusTTL=%s, want 45s", cfg.JobStatusTTL)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
