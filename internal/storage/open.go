package storage

import (
	"context"
	"errors"
	"strings"

	logx "hansbot/pkg/logx"
)

// Store is the persistence API used by the guild store, the standup scheduler
// and the command layer.
type Store interface {
	GetPlugin(ctx context.Context, tenantID, plugin string) (rec PluginRecord, ok bool, err error)
	PutPlugin(ctx context.Context, rec PluginRecord) error
	// DeletePlugins removes every plugin record of a tenant.
	DeletePlugins(ctx context.Context, tenantID string) error

	ListJobs(ctx context.Context) ([]JobRecord, error)
	PutJob(ctx context.Context, rec JobRecord) error
	DeleteJob(ctx context.Context, tenantID, channelID string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
