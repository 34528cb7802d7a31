package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hansbot/internal/storage"
	logx "hansbot/pkg/logx"
)

// Config is the process configuration. Fields missing from the file keep
// the values of their `default` tags.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Vault     VaultConfig     `json:"vault"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Events    EventsConfig    `json:"events"`
}

type LoggingConfig struct {
	Level   string            `json:"level" default:"info"`
	Console bool              `json:"console" default:"true"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" default:"./hansbot.log"`
}

// StorageConfig selects the persistence driver: memory, file or sqlite.
type StorageConfig struct {
	Driver      string `json:"driver" default:"sqlite"`
	Path        string `json:"path" default:"./data/hansbot.db"`
	BusyTimeout string `json:"busy_timeout" default:"5s"`
}

// VaultConfig holds the deployment secret used to seal guild credentials.
// Key wins over KeyEnv.
type VaultConfig struct {
	Key    string `json:"key,omitempty"`
	KeyEnv string `json:"key_env" default:"HANS_VAULT_KEY"`
}

// SchedulerConfig drives the standup clock.
//
// Timezone is an IANA name or "Local". Spec is the cron expression of the
// tick driver; it should fire at least once per minute.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" default:"true"`
	Timezone string `json:"timezone" default:"Local"`
	Spec     string `json:"spec" default:"* * * * *"`
}

// DeliveryConfig configures how fired standup messages leave the process.
type DeliveryConfig struct {
	Driver     string `json:"driver" default:"log"`
	Token      string `json:"token,omitempty"`
	TokenEnv   string `json:"token_env" default:"HANS_TELEGRAM_TOKEN"`
	Workers    int    `json:"workers" default:"4"`
	RatePerSec int    `json:"rate_per_sec" default:"5"`
	Timeout    string `json:"timeout" default:"10s"`
}

type EventsConfig struct {
	FetchConcurrency int `json:"fetch_concurrency" default:"4"`
}

func (c LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func (c StorageConfig) ToStorage() (storage.Config, error) {
	bt, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: bt}, nil
}

// ResolveKey returns the vault key, reading KeyEnv when Key is empty.
func (c VaultConfig) ResolveKey() string {
	if k := strings.TrimSpace(c.Key); k != "" {
		return k
	}
	if env := strings.TrimSpace(c.KeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Location resolves Timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// ResolveToken returns the bot token, reading TokenEnv when Token is empty.
func (c DeliveryConfig) ResolveToken() string {
	if t := strings.TrimSpace(c.Token); t != "" {
		return t
	}
	if env := strings.TrimSpace(c.TokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Validate checks the parts of the config that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := c.Storage.ToStorage(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Delivery.Driver)) {
	case "", "log":
	case "telegram":
		if c.Delivery.ResolveToken() == "" {
			errs = append(errs, errors.New("delivery.token: required for the telegram driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.driver: unknown driver %q", c.Delivery.Driver))
	}
	if c.Delivery.Workers < 0 {
		errs = append(errs, errors.New("delivery.workers: must be >= 0"))
	}
	if c.Delivery.RatePerSec < 0 {
		errs = append(errs, errors.New("delivery.rate_per_sec: must be >= 0"))
	}
	if _, err := ParseDurationField("delivery.timeout", c.Delivery.Timeout); err != nil {
		errs = append(errs, err)
	}
	if c.Events.FetchConcurrency < 0 {
		errs = append(errs, errors.New("events.fetch_concurrency: must be >= 0"))
	}
	return errors.Join(errs...)
}
