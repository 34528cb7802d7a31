package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (default; nothing survives a restart)
//   - "file": JSON snapshot + append-only journal
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PluginRecord is one (tenant, plugin) configuration row.
// Settings is the JSON encoding of the plugin's settings variant; secret
// fields are already sealed when they reach this layer.
type PluginRecord struct {
	TenantID  string          `json:"tenant_id"`
	Plugin    string          `json:"plugin"`
	Enabled   bool            `json:"enabled"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobRecord is the persisted form of a standup job, fire history included.
type JobRecord struct {
	TenantID      string    `json:"tenant_id"`
	ChannelID     string    `json:"channel_id"`
	Hour          int       `json:"hour"`
	Weekdays      uint8     `json:"weekdays"` // bit i set = time.Weekday(i)
	Message       string    `json:"message"`
	MentionRole   string    `json:"mention_role,omitempty"`
	LastFiredSlot string    `json:"last_fired_slot,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuditEntry records an operator configuration action.
type AuditEntry struct {
	At       time.Time `json:"at"`
	TenantID string    `json:"tenant_id"`
	ActorID  string    `json:"actor_id,omitempty"`
	Plugin   string    `json:"plugin,omitempty"`
	Action   string    `json:"action"`
	OK       bool      `json:"ok"`
	Error    string    `json:"err,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

func jobKey(tenantID, channelID string) string { return tenantID + "\x00" + channelID }

func pluginKey(tenantID, plugin string) string { return tenantID + "\x00" + plugin }

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
