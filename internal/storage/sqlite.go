package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "hansbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetPlugin(ctx context.Context, tenantID, plugin string) (PluginRecord, bool, error) {
	var (
		rec      PluginRecord
		settings sql.NullString
		updated  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, settings, updated_at FROM guild_plugins WHERE tenant_id = ? AND plugin = ?`,
		tenantID, plugin,
	).Scan(&rec.Enabled, &settings, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return PluginRecord{}, false, nil
	}
	if err != nil {
		return PluginRecord{}, false, err
	}
	rec.TenantID = tenantID
	rec.Plugin = plugin
	if settings.Valid && settings.String != "" {
		rec.Settings = []byte(settings.String)
	}
	rec.UpdatedAt = parseTime(updated)
	return rec, true, nil
}

func (s *sqliteStore) PutPlugin(ctx context.Context, rec PluginRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_plugins(tenant_id, plugin, enabled, settings, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(tenant_id, plugin) DO UPDATE SET
		   enabled=excluded.enabled, settings=excluded.settings, updated_at=excluded.updated_at`,
		rec.TenantID, rec.Plugin, rec.Enabled, nullStr(string(rec.Settings)), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeletePlugins(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guild_plugins WHERE tenant_id = ?`, tenantID)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, channel_id, hour, weekdays, message, mention_role, last_fired_slot, updated_at
		 FROM standup_jobs ORDER BY tenant_id, channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			j       JobRecord
			role    sql.NullString
			slot    sql.NullString
			updated string
		)
		if err := rows.Scan(&j.TenantID, &j.ChannelID, &j.Hour, &j.Weekdays, &j.Message, &role, &slot, &updated); err != nil {
			return nil, err
		}
		j.MentionRole = role.String
		j.LastFiredSlot = slot.String
		j.UpdatedAt = parseTime(updated)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutJob(ctx context.Context, rec JobRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO standup_jobs(tenant_id, channel_id, hour, weekdays, message, mention_role, last_fired_slot, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, channel_id) DO UPDATE SET
		   hour=excluded.hour, weekdays=excluded.weekdays, message=excluded.message,
		   mention_role=excluded.mention_role, last_fired_slot=excluded.last_fired_slot,
		   updated_at=excluded.updated_at`,
		rec.TenantID, rec.ChannelID, rec.Hour, rec.Weekdays, rec.Message,
		nullStr(rec.MentionRole), nullStr(rec.LastFiredSlot), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteJob(ctx context.Context, tenantID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM standup_jobs WHERE tenant_id = ? AND channel_id = ?`, tenantID, channelID)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, tenant_id, actor_id, plugin, action, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.TenantID, nullStr(e.ActorID), nullStr(e.Plugin),
		e.Action, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
