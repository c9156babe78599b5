package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Gate     GateConfig     `json:"gate"`
	Dispatch DispatchConfig `json:"dispatch"`
	Stats    StatsConfig    `json:"stats"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	OwnerID int64  `json:"owner_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives log lines when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the backend of the persisted state document.
//
//	"storage": { "driver": "sqlite", "path": "./codegate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file, sqlite or memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type GateConfig struct {
	// WarningTTL is how long a rejection notice stays visible.
	WarningTTL string `json:"warning_ttl,omitempty"`
}

type DispatchConfig struct {
	MaxQuantity int    `json:"max_quantity,omitempty"`
	PauseMin    string `json:"pause_min,omitempty"`
	PauseMax    string `json:"pause_max,omitempty"`
	// RatePerSec caps sends across all runs. 0 disables the limiter.
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	MaxDuration string  `json:"max_duration,omitempty"`
}

type StatsConfig struct {
	// ReportCron is a robfig/cron spec. Omitted means @hourly, "" disables.
	ReportCron *string `json:"report_cron,omitempty"`
}

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultWarningTTL  = 20 * time.Second
	DefaultMaxQuantity = 100
	DefaultPauseMin    = 100 * time.Millisecond
	DefaultPauseMax    = 500 * time.Millisecond
	DefaultMaxDuration = 10 * time.Minute
	DefaultReportCron  = "@hourly"
	DefaultStoragePath = "./codegate_state.json"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Path: DefaultStoragePath},
	}
}

func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.PollTimeout, DefaultPollTimeout)
	return d
}

func (c GateConfig) WarningTTLOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("gate.warning_ttl", c.WarningTTL, DefaultWarningTTL)
	return d
}

func (c DispatchConfig) MaxQuantityOrDefault() int {
	if c.MaxQuantity <= 0 || c.MaxQuantity > DefaultMaxQuantity {
		return DefaultMaxQuantity
	}
	return c.MaxQuantity
}

// Pauses returns the [min, max) pause window after a successful send.
func (c DispatchConfig) Pauses() (time.Duration, time.Duration) {
	lo, err := ParseDurationField("dispatch.pause_min", c.PauseMin)
	if err != nil || strings.TrimSpace(c.PauseMin) == "" {
		lo = DefaultPauseMin
	}
	hi, err := ParseDurationField("dispatch.pause_max", c.PauseMax)
	if err != nil || strings.TrimSpace(c.PauseMax) == "" {
		hi = DefaultPauseMax
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (c DispatchConfig) MaxDurationOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("dispatch.max_duration", c.MaxDuration, DefaultMaxDuration)
	return d
}

func (c StatsConfig) Schedule() string {
	if c.ReportCron == nil {
		return DefaultReportCron
	}
	return strings.TrimSpace(*c.ReportCron)
}

func (c StorageConfig) DriverOrDefault() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return "file"
	}
	return d
}

// Validate checks the fields that must be well formed before the config is
// committed. Missing credentials are reported by RequireCredentials.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.poll_timeout", c.Telegram.PollTimeout)
	check("gate.warning_ttl", c.Gate.WarningTTL)
	check("dispatch.pause_min", c.Dispatch.PauseMin)
	check("dispatch.pause_max", c.Dispatch.PauseMax)
	check("dispatch.max_duration", c.Dispatch.MaxDuration)
	check("storage.busy_timeout", c.Storage.BusyTimeout)

	if q := c.Dispatch.MaxQuantity; q < 0 || q > DefaultMaxQuantity {
		errs = append(errs, fmt.Errorf("dispatch.max_quantity must be in [0, %d]", DefaultMaxQuantity))
	}
	if c.Dispatch.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("dispatch.rate_per_sec must be >= 0"))
	}
	if lo, hi := c.Dispatch.PauseMin, c.Dispatch.PauseMax; strings.TrimSpace(lo) != "" && strings.TrimSpace(hi) != "" {
		dl, e1 := ParseDurationField("", lo)
		dh, e2 := ParseDurationField("", hi)
		if e1 == nil && e2 == nil && dh < dl {
			errs = append(errs, fmt.Errorf("dispatch.pause_max must be >= dispatch.pause_min"))
		}
	}
	switch c.Storage.DriverOrDefault() {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	if c.Telegram.OwnerID < 0 {
		errs = append(errs, fmt.Errorf("telegram.owner_id must be a user id"))
	}
	return errors.Join(errs...)
}

// RequireCredentials reports a missing bot token or owner id.
func (c *Config) RequireCredentials() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is empty (set CODEGATE_BOT_TOKEN or BOT_TOKEN)"))
	}
	if c.Telegram.OwnerID == 0 {
		errs = append(errs, errors.New("telegram.owner_id is empty (set CODEGATE_OWNER_ID or OWNER_ID)"))
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a non-negative Go duration. Empty means zero.
// path prefixes the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return def, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
