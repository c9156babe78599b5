package app

import (
	"codegate/internal/config"
	"codegate/internal/dispatch"
	"codegate/internal/storage"
	logx "codegate/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = config.DefaultStoragePath
	}
	return storage.Config{
		Driver:      cfg.Storage.DriverOrDefault(),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchSettings(cfg *config.Config) dispatch.Settings {
	lo, hi := cfg.Dispatch.Pauses()
	return dispatch.Settings{
		MaxQuantity: cfg.Dispatch.MaxQuantityOrDefault(),
		PauseMin:    lo,
		PauseMax:    hi,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		MaxDuration: cfg.Dispatch.MaxDurationOrDefault(),
	}
}
