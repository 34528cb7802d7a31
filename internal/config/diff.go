package config

import (
	"strings"

	logx "hansbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// log fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Vault.ResolveKey() != newCfg.Vault.ResolveKey() {
		changed = append(changed, "vault")
		fields = append(fields, logx.Bool("vault.key_set", newCfg.Vault.ResolveKey() != ""))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.spec", newCfg.Scheduler.Spec),
		)
	}
	od, nd := oldCfg.Delivery, newCfg.Delivery
	if od.Driver != nd.Driver || od.Workers != nd.Workers || od.RatePerSec != nd.RatePerSec ||
		od.Timeout != nd.Timeout || od.ResolveToken() != nd.ResolveToken() {
		changed = append(changed, "delivery")
		fields = append(fields,
			logx.String("delivery.driver", nd.Driver),
			logx.Int("delivery.workers", nd.Workers),
			logx.Bool("delivery.token_set", nd.ResolveToken() != ""),
		)
	}
	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		fields = append(fields, logx.Int("events.fetch_concurrency", newCfg.Events.FetchConcurrency))
	}
	return changed, fields
}

// RequiresRestart reports whether the change touches sections that are only
// read at startup.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}
