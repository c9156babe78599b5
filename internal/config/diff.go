package config

import (
	"sort"
	"strings"

	logx "codegate/pkg/logx"
)

// SummarizeChange lists the changed sections, log attributes describing the
// new values (never the token), and the changed sections that only take
// effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
			oldCfg.Telegram.OwnerID != newCfg.Telegram.OwnerID ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			restart = append(restart, "telegram")
		}
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int64("telegram.owner_id", newCfg.Telegram.OwnerID),
			logx.Int64("telegram.log_chat_id", newCfg.Telegram.LogChatID),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.DriverOrDefault()),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if oldCfg.Gate != newCfg.Gate {
		changed = append(changed, "gate")
		attrs = append(attrs, logx.Duration("gate.warning_ttl", newCfg.Gate.WarningTTLOrDefault()))
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		lo, hi := newCfg.Dispatch.Pauses()
		attrs = append(attrs,
			logx.Int("dispatch.max_quantity", newCfg.Dispatch.MaxQuantityOrDefault()),
			logx.Duration("dispatch.pause_min", lo),
			logx.Duration("dispatch.pause_max", hi),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.Duration("dispatch.max_duration", newCfg.Dispatch.MaxDurationOrDefault()),
		)
	}

	if oldCfg.Stats.Schedule() != newCfg.Stats.Schedule() {
		changed = append(changed, "stats")
		attrs = append(attrs, logx.String("stats.report_cron", newCfg.Stats.Schedule()))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
