// Package config loads the dispatcher's settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = "3000"
	DefaultVAPIDSubject   = "mailto:admin@example.com"
	DefaultIcon           = "/icons/icon-192.png"
	DefaultConcurrency    = 16
	DefaultPushTimeout    = 10 * time.Second
	DefaultPushTTL        = 24 * 60 * 60
	DefaultContentTimeout = 15 * time.Second
	DefaultStorageURL     = "memory://"
)

// Config holds every recognized option.
type Config struct {
	Port string `yaml:"port"`

	VAPIDSubject    string `yaml:"vapidMailto"`
	VAPIDPublicKey  string `yaml:"vapidPublicKey"`
	VAPIDPrivateKey string `yaml:"vapidPrivateKey"`

	PostsJSONURL   string        `yaml:"postsJsonUrl"`
	ContentTimeout time.Duration `yaml:"contentTimeout"`
	AssetBaseURL   string        `yaml:"assetBaseUrl"`

	DatabaseURL string `yaml:"databaseUrl"`

	TitlePrefix string `yaml:"titlePrefix"`
	Icon        string `yaml:"icon"`

	Concurrency int           `yaml:"concurrency"`
	PushTimeout time.Duration `yaml:"pushTimeout"`
	PushTTL     int           `yaml:"pushTTL"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	StaticDir      string   `yaml:"staticDir"`
	LogFormat      string   `yaml:"logFormat"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		VAPIDSubject:   DefaultVAPIDSubject,
		ContentTimeout: DefaultContentTimeout,
		DatabaseURL:    DefaultStorageURL,
		Icon:           DefaultIcon,
		Concurrency:    DefaultConcurrency,
		PushTimeout:    DefaultPushTimeout,
		PushTTL:        DefaultPushTTL,
		AllowedOrigins: []string{"*"},
		LogFormat:      "json",
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if non-empty),
// then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("VAPID_MAILTO", &c.VAPIDSubject)
	str("VAPID_PUBLIC_KEY", &c.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &c.VAPIDPrivateKey)
	str("POSTS_JSON_URL", &c.PostsJSONURL)
	str("ASSET_BASE_URL", &c.AssetBaseURL)
	str("DATABASE_URL", &c.DatabaseURL)
	str("NOTIFICATION_TITLE_PREFIX", &c.TitlePrefix)
	str("NOTIFICATION_ICON", &c.Icon)
	str("STATIC_DIR", &c.StaticDir)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitList(v)
	}

	if v, ok := lookup("DISPATCH_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v, ok := lookup("PUSH_TTL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUSH_TTL: %w", err)
		}
		c.PushTTL = n
	}
	for key, dst := range map[string]*time.Duration{
		"PUSH_TIMEOUT":    &c.PushTimeout,
		"CONTENT_TIMEOUT": &c.ContentTimeout,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must be set"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("push timeout must be positive, got %s", c.PushTimeout))
	}
	if c.ContentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("content timeout must be positive, got %s", c.ContentTimeout))
	}
	if c.PushTTL < 0 {
		errs = append(errs, fmt.Errorf("push TTL must not be negative, got %d", c.PushTTL))
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
