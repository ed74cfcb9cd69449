package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestLoad(t *testing.T) {
	unsetEnv(t, "FOREST_USERNAME", "FOREST_PASSWORD", "SESSION_HASH_KEY", "SESSION_BLOCK_KEY",
		"PERMIT_SESSION_DIR", "PERMIT_DB_PATH", "NPM_BASE_URL", "FOREST_BASE_URL", "PERMIT_WORKERS")

	t.Run("defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Session.MaxAge != 60*time.Second || cfg.Fetch.Timeout != 10*time.Second {
			t.Errorf("unexpected durations: %v %v", cfg.Session.MaxAge, cfg.Fetch.Timeout)
		}
		if cfg.NPM.BaseURL != "https://npm.cpami.gov.tw" {
			t.Errorf("unexpected npm base %q", cfg.NPM.BaseURL)
		}
		if cfg.HasForestCredentials() {
			t.Error("expected no forest credentials")
		}
	})

	t.Run("file, dotenv and environment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "permitcheck.yaml")
		writeFile(t, path, `
forest:
  base_url: https://jm.example/
session:
  dir: /var/lib/permitcheck
  max_age: 90s
fetch:
  timeout: 3s
  workers: 4
database:
  path: runs.sqlite3
`)
		writeFile(t, filepath.Join(dir, ".env"), "FOREST_USERNAME=hiker\nFOREST_PASSWORD=secret\nPERMIT_DB_PATH=env.sqlite3\n")
		t.Setenv("PERMIT_DB_PATH", "override.sqlite3")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Session.MaxAge != 90*time.Second || cfg.Fetch.Timeout != 3*time.Second || cfg.Fetch.Workers != 4 {
			t.Errorf("unexpected values: %+v %+v", cfg.Session, cfg.Fetch)
		}
		if cfg.Fetch.RetryDelay != 500*time.Millisecond {
			t.Errorf("default retry delay lost: %v", cfg.Fetch.RetryDelay)
		}
		if cfg.Forest.Username != "hiker" || cfg.Forest.Password != "secret" {
			t.Errorf("credentials not read from .env: %+v", cfg.Forest)
		}
		if cfg.Database.Path != "override.sqlite3" {
			t.Errorf("environment must win over .env, got %q", cfg.Database.Path)
		}

		s := cfg.ForestSession()
		if s.LoginURL != "https://jm.example/members/?mode=sign_in" || s.TestURL != "https://jm.example/members/index.php" {
			t.Errorf("unexpected urls: %s %s", s.LoginURL, s.TestURL)
		}
		if s.LoginData.Get("is_uu") != "hiker" || s.LoginData.Get("mode") != "log_in" {
			t.Errorf("unexpected login data: %v", s.LoginData)
		}
		if s.TestString != ForestSuccessString || s.MaxAge != 90*time.Second {
			t.Errorf("unexpected session config: %+v", s)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		writeFile(t, path, "fetch:\n  timeout: soon\n")
		if _, err := Load(path); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestKeys(t *testing.T) {
	cfg := Default()
	hash, block, err := cfg.Keys()
	if err != nil || hash != nil || block != nil {
		t.Errorf("expected no keys, got %v %v %v", hash, block, err)
	}

	cfg.Session.HashKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg.Session.BlockKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	hash, block, err = cfg.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(hash) != 32 || len(block) != 16 {
		t.Errorf("unexpected key sizes %d %d", len(hash), len(block))
	}

	cfg.Session.HashKey = "not base64!"
	if _, _, err := cfg.Keys(); err == nil {
		t.Error("expected a decode error")
	}
}
