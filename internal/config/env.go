package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the variables that take precedence over the file.
// The unprefixed names are accepted for deployments that only set those.
type envOverrides struct {
	Token       string `env:"CODEGATE_BOT_TOKEN"`
	TokenAlt    string `env:"BOT_TOKEN"`
	OwnerID     int64  `env:"CODEGATE_OWNER_ID"`
	OwnerIDAlt  int64  `env:"OWNER_ID"`
	LogLevel    string `env:"CODEGATE_LOG_LEVEL"`
	StoreDriver string `env:"CODEGATE_STORAGE_DRIVER"`
	StorePath   string `env:"CODEGATE_STORAGE_PATH"`
}

// ApplyEnv overlays environment variables onto cfg. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	var err error
	if environ == nil {
		err = env.Parse(&o)
	} else {
		err = env.ParseWithOptions(&o, env.Options{Environment: environ})
	}
	if err != nil {
		return err
	}

	if v := firstNonEmpty(o.Token, o.TokenAlt); v != "" {
		cfg.Telegram.Token = v
	}
	switch {
	case o.OwnerID != 0:
		cfg.Telegram.OwnerID = o.OwnerID
	case o.OwnerIDAlt != 0:
		cfg.Telegram.OwnerID = o.OwnerIDAlt
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.StoreDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(o.StorePath); v != "" {
		cfg.Storage.Path = v
	}
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
