package guild

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"hansbot/internal/storage"
	"hansbot/internal/vault"
	logx "hansbot/pkg/logx"
)

// Config is the effective configuration of one plugin in one guild.
type Config struct {
	TenantID string
	Plugin   Plugin
	Enabled  bool
	// Settings is never nil; it is the zero variant until Configured.
	Settings   Settings
	Configured bool
	UpdatedAt  time.Time
}

// Resolution is what an event handler needs to decide whether and how to act.
type Resolution struct {
	Plugin     Plugin
	Enabled    bool
	Settings   Settings
	Configured bool
}

// Change describes a committed write. Deleted is set when the tenant was removed.
type Change struct {
	TenantID string
	Plugin   Plugin
	Prev     Config
	Next     Config
	Deleted  bool
}

// Store persists and validates per-guild plugin configuration.
//
// Writes to one (tenant, plugin) key are serialized with a per-key lock;
// different keys proceed concurrently. Change hooks run while the key is still
// held, so observers see writes to a key in commit order.
type Store struct {
	db    storage.Store
	vault *vault.Vault
	log   logx.Logger
	now   func() time.Time

	locks keyedMutex

	hmu   sync.RWMutex
	hooks []func(ctx context.Context, c Change)
}

// NewStore builds a Store. v may be nil when no credentials key is configured;
// credential operations then fail.
func NewStore(db storage.Store, v *vault.Vault, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, vault: v, log: log, now: time.Now}
}

// OnChange registers fn to observe committed writes.
func (s *Store) OnChange(fn func(ctx context.Context, c Change)) {
	if fn == nil {
		return
	}
	s.hmu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hmu.Unlock()
}

func (s *Store) notify(ctx context.Context, c Change) {
	s.hmu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hmu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, c)
	}
}

// Get returns the stored config, or a disabled default for unknown tenants.
func (s *Store) Get(ctx context.Context, tenantID string, p Plugin) (Config, error) {
	if err := checkKey(tenantID, p); err != nil {
		return Config{}, err
	}
	return s.load(ctx, tenantID, p)
}

// Toggle sets the enabled flag, creating a disabled record first if needed.
// Toggling to the current value writes nothing.
func (s *Store) Toggle(ctx context.Context, tenantID string, p Plugin, enable bool) (prev, next bool, err error) {
	if err := checkKey(tenantID, p); err != nil {
		return false, false, err
	}
	unlock := s.locks.Lock(lockKey(tenantID, p))
	defer unlock()

	cur, raw, exists, err := s.loadRaw(ctx, tenantID, p)
	if err != nil {
		return false, false, err
	}
	if exists && cur.Enabled == enable {
		return enable, enable, nil
	}

	upd := cur
	upd.Enabled = enable
	upd.UpdatedAt = s.now()
	if err := s.db.PutPlugin(ctx, storage.PluginRecord{
		TenantID:  tenantID,
		Plugin:    p.String(),
		Enabled:   enable,
		Settings:  raw,
		UpdatedAt: upd.UpdatedAt,
	}); err != nil {
		return cur.Enabled, cur.Enabled, fmt.Errorf("guild: toggle %s: %w", p, err)
	}
	s.log.Debug("plugin toggled", logx.String("tenant", tenantID), logx.String("plugin", p.String()), logx.Bool("enabled", enable))
	s.notify(ctx, Change{TenantID: tenantID, Plugin: p, Prev: cur, Next: upd})
	return cur.Enabled, enable, nil
}

// SetSettings validates and stores a full settings payload for its plugin.
// The enabled flag is left as is.
func (s *Store) SetSettings(ctx context.Context, tenantID string, settings Settings) (Config, error) {
	if settings == nil {
		return Config{}, invalid("settings", "required")
	}
	return s.Update(ctx, tenantID, settings.Plugin(), func(Settings) (Settings, error) {
		return settings, nil
	})
}

// Update runs an atomic read-modify-write of one plugin's settings. fn gets
// the current variant (zero when unconfigured) and returns the replacement.
// If fn or validation fails nothing is written.
func (s *Store) Update(ctx context.Context, tenantID string, p Plugin, fn func(cur Settings) (Settings, error)) (Config, error) {
	if err := checkKey(tenantID, p); err != nil {
		return Config{}, err
	}
	unlock := s.locks.Lock(lockKey(tenantID, p))
	defer unlock()

	cur, _, _, err := s.loadRaw(ctx, tenantID, p)
	if err != nil {
		return Config{}, err
	}
	next, err := fn(cur.Settings)
	if err != nil {
		return Config{}, err
	}
	if next == nil {
		return Config{}, invalid("settings", "required")
	}
	if next.Plugin() != p {
		return Config{}, invalid("settings", fmt.Sprintf("%s payload given for plugin %s", next.Plugin(), p))
	}
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return Config{}, fmt.Errorf("guild: encode %s settings: %w", p, err)
	}

	upd := cur
	upd.Settings = next
	upd.Configured = true
	upd.UpdatedAt = s.now()
	if err := s.db.PutPlugin(ctx, storage.PluginRecord{
		TenantID:  tenantID,
		Plugin:    p.String(),
		Enabled:   upd.Enabled,
		Settings:  raw,
		UpdatedAt: upd.UpdatedAt,
	}); err != nil {
		return Config{}, fmt.Errorf("guild: store %s settings: %w", p, err)
	}
	s.log.Debug("plugin settings stored", logx.String("tenant", tenantID), logx.String("plugin", p.String()))
	s.notify(ctx, Change{TenantID: tenantID, Plugin: p, Prev: cur, Next: upd})
	return upd, nil
}

// SetCredentials seals the ChatGPT credentials and stores them.
func (s *Store) SetCredentials(ctx context.Context, tenantID, apiKey, orgID string) (Config, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Config{}, invalid("api_key", "required")
	}
	if strings.TrimSpace(orgID) == "" {
		return Config{}, invalid("org_id", "required")
	}
	if s.vault == nil {
		return Config{}, fmt.Errorf("guild: credentials vault is not configured")
	}
	key, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return Config{}, err
	}
	org, err := s.vault.Encrypt(orgID)
	if err != nil {
		return Config{}, err
	}
	return s.SetSettings(ctx, tenantID, ChatGPTSettings{APIKey: key, OrgID: org})
}

// Credentials decrypts the stored ChatGPT credentials. A decryption failure
// only affects this call.
func (s *Store) Credentials(ctx context.Context, tenantID string) (apiKey, orgID string, err error) {
	cfg, err := s.Get(ctx, tenantID, PluginChatGPT)
	if err != nil {
		return "", "", err
	}
	if !cfg.Configured {
		return "", "", invalid("api_key", "credentials are not set")
	}
	if s.vault == nil {
		return "", "", fmt.Errorf("guild: credentials vault is not configured")
	}
	cs := cfg.Settings.(ChatGPTSettings)
	if apiKey, err = s.vault.Decrypt(cs.APIKey); err != nil {
		return "", "", fmt.Errorf("guild: api key: %w", err)
	}
	if orgID, err = s.vault.Decrypt(cs.OrgID); err != nil {
		return "", "", fmt.Errorf("guild: organization id: %w", err)
	}
	return apiKey, orgID, nil
}

// ResolveForEvent returns the configuration of the plugin governing event.
func (s *Store) ResolveForEvent(ctx context.Context, tenantID, event string) (Resolution, error) {
	p, err := PluginForEvent(event)
	if err != nil {
		return Resolution{}, err
	}
	cfg, err := s.Get(ctx, tenantID, p)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Plugin: p, Enabled: cfg.Enabled, Settings: cfg.Settings, Configured: cfg.Configured}, nil
}

// DeleteTenant removes every plugin record of a guild.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return invalid("tenant_id", "required")
	}
	// Fixed lock order (registry order) keeps concurrent deletes deadlock free.
	prev := make([]Config, 0, len(pluginNames))
	for _, p := range Plugins() {
		unlock := s.locks.Lock(lockKey(tenantID, p))
		defer unlock()
		cfg, err := s.load(ctx, tenantID, p)
		if err != nil {
			return err
		}
		prev = append(prev, cfg)
	}
	if err := s.db.DeletePlugins(ctx, tenantID); err != nil {
		return fmt.Errorf("guild: delete tenant: %w", err)
	}
	s.log.Info("guild configuration removed", logx.String("tenant", tenantID))
	for _, cfg := range prev {
		s.notify(ctx, Change{
			TenantID: tenantID,
			Plugin:   cfg.Plugin,
			Prev:     cfg,
			Next:     Config{TenantID: tenantID, Plugin: cfg.Plugin, Settings: emptySettings(cfg.Plugin)},
			Deleted:  true,
		})
	}
	return nil
}

func (s *Store) load(ctx context.Context, tenantID string, p Plugin) (Config, error) {
	cfg, _, _, err := s.loadRaw(ctx, tenantID, p)
	return cfg, err
}

func (s *Store) loadRaw(ctx context.Context, tenantID string, p Plugin) (Config, json.RawMessage, bool, error) {
	rec, ok, err := s.db.GetPlugin(ctx, tenantID, p.String())
	if err != nil {
		return Config{}, nil, false, fmt.Errorf("guild: load %s: %w", p, err)
	}
	if !ok {
		return Config{TenantID: tenantID, Plugin: p, Settings: emptySettings(p)}, nil, false, nil
	}
	settings, err := decodeSettings(p, rec.Settings)
	if err != nil {
		return Config{}, nil, true, err
	}
	return Config{
		TenantID:   tenantID,
		Plugin:     p,
		Enabled:    rec.Enabled,
		Settings:   settings,
		Configured: len(rec.Settings) > 0,
		UpdatedAt:  rec.UpdatedAt,
	}, rec.Settings, true, nil
}

func checkKey(tenantID string, p Plugin) error {
	if strings.TrimSpace(tenantID) == "" {
		return invalid("tenant_id", "required")
	}
	if !p.Valid() {
		return &UnknownPluginError{Name: p.String()}
	}
	return nil
}

func lockKey(tenantID string, p Plugin) string { return tenantID + "/" + p.String() }
