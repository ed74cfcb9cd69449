// Package config loads the checker configuration from a YAML file, a .env
// file and the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"permitcheck.dev/worker/park"
	"permitcheck.dev/worker/session"
)

// DefaultPath is read when Load is given no path and the file exists.
const DefaultPath = "permitcheck.yaml"

// ForestSuccessString is shown on the forestry member page once logged in.
const ForestSuccessString = "歡迎來到會員專區"

type Config struct {
	NPM      SiteConfig     `yaml:"npm"`
	Forest   ForestConfig   `yaml:"forest"`
	Session  SessionConfig  `yaml:"session"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Database DatabaseConfig `yaml:"database"`
}

type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ForestConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SessionConfig struct {
	Dir       string        `yaml:"dir"`
	MaxAgeStr string        `yaml:"max_age"`
	HashKey   string        `yaml:"hash_key"`  // base64
	BlockKey  string        `yaml:"block_key"` // base64, optional
	MaxAge    time.Duration `yaml:"-"`
}

type FetchConfig struct {
	TimeoutStr    string        `yaml:"timeout"`
	RetryDelayStr string        `yaml:"retry_delay"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Workers       int           `yaml:"workers"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"-"`
	RetryDelay    time.Duration `yaml:"-"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		NPM:    SiteConfig{BaseURL: park.DefaultNPMBaseURL},
		Forest: ForestConfig{BaseURL: park.DefaultJiamingBaseURL},
		Session: SessionConfig{
			Dir:       ".",
			MaxAgeStr: session.DefaultMaxAge.String(),
		},
		Fetch: FetchConfig{
			TimeoutStr:    session.DefaultTimeout.String(),
			RetryDelayStr: session.DefaultRetryDelay.String(),
			MaxAttempts:   session.DefaultMaxAttempts,
			RatePerSecond: 5,
			UserAgent:     session.DefaultUserAgent,
		},
		Database: DatabaseConfig{Path: "permitcheck.sqlite3"},
	}
}

// Load reads path on top of the defaults, then applies .env and environment
// overrides. An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	envFile := ".env"
	if path != "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv sets variables from file without overriding the environment.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Forest.Username, "FOREST_USERNAME")
	setString(&c.Forest.Password, "FOREST_PASSWORD")
	setString(&c.Session.HashKey, "SESSION_HASH_KEY")
	setString(&c.Session.BlockKey, "SESSION_BLOCK_KEY")
	setString(&c.Session.Dir, "PERMIT_SESSION_DIR")
	setString(&c.Database.Path, "PERMIT_DB_PATH")
	setString(&c.NPM.BaseURL, "NPM_BASE_URL")
	setString(&c.Forest.BaseURL, "FOREST_BASE_URL")
	if v := os.Getenv("PERMIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fetch.Workers = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) parseDurations() error {
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.max_age", c.Session.MaxAgeStr, &c.Session.MaxAge},
		{"fetch.timeout", c.Fetch.TimeoutStr, &c.Fetch.Timeout},
		{"fetch.retry_delay", c.Fetch.RetryDelayStr, &c.Fetch.RetryDelay},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// Keys decodes the session sealing keys. Both are nil when no hash key is
// set.
func (c *Config) Keys() (hashKey, blockKey []byte, err error) {
	if c.Session.HashKey == "" {
		return nil, nil, nil
	}
	hashKey, err = base64.StdEncoding.DecodeString(c.Session.HashKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode session hash key: %w", err)
	}
	if c.Session.BlockKey != "" {
		blockKey, err = base64.StdEncoding.DecodeString(c.Session.BlockKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode session block key: %w", err)
		}
	}
	return hashKey, blockKey, nil
}

// PublicSession is the fetch configuration of sites that need no login.
func (c *Config) PublicSession() session.Config {
	return session.Config{
		MaxAge:        c.Session.MaxAge,
		UserAgent:     c.Fetch.UserAgent,
		Timeout:       c.Fetch.Timeout,
		MaxAttempts:   c.Fetch.MaxAttempts,
		RetryDelay:    c.Fetch.RetryDelay,
		RatePerSecond: c.Fetch.RatePerSecond,
	}
}

// ForestSession is the login configuration of the forestry member site.
func (c *Config) ForestSession() session.Config {
	base := strings.TrimRight(c.Forest.BaseURL, "/")
	cfg := c.PublicSession()
	cfg.LoginURL = base + "/members/?mode=sign_in"
	cfg.LoginData = url.Values{
		"is_uu": {c.Forest.Username},
		"is_pp": {c.Forest.Password},
		"mode":  {"log_in"},
	}
	cfg.TestURL = base + "/members/index.php"
	cfg.TestString = ForestSuccessString
	return cfg
}

// HasForestCredentials reports whether a forestry login is configured.
func (c *Config) HasForestCredentials() bool {
	return c.Forest.Username != "" && c.Forest.Password != ""
}
