package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"hansbot/internal/events"
	"hansbot/internal/guild"
	"hansbot/internal/storage"
	logx "hansbot/pkg/logx"
)

const auditTimeout = time.Second

// Auditor records configuration actions. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Request identifies who runs an operation and in which guild.
type Request struct {
	TenantID string
	ActorID  string
}

type Handler struct {
	store    *guild.Store
	audit    Auditor
	resolver *events.Resolver
	log      logx.Logger
	now      func() time.Time
}

// New builds a Handler. audit and resolver may be nil.
func New(store *guild.Store, audit Auditor, resolver *events.Resolver, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{store: store, audit: audit, resolver: resolver, log: log, now: time.Now}
}

// ToggleResult reports the enabled flag before and after a Toggle.
type ToggleResult struct {
	Plugin guild.Plugin
	Prev   bool
	Next   bool
}

// Toggle flips a plugin on or off by name.
func (h *Handler) Toggle(ctx context.Context, req Request, plugin string, enable bool) (res ToggleResult, err error) {
	err = h.run(ctx, req, plugin, "toggle", map[string]any{"enable": enable}, func() error {
		p, err := guild.ParsePlugin(plugin)
		if err != nil {
			return err
		}
		prev, next, err := h.store.Toggle(ctx, req.TenantID, p, enable)
		if err != nil {
			return err
		}
		res = ToggleResult{Plugin: p, Prev: prev, Next: next}
		return nil
	})
	return res, err
}

// SetCredentials stores the guild's OpenAI key and organization, sealed.
func (h *Handler) SetCredentials(ctx context.Context, req Request, apiKey, orgID string) error {
	// Plaintext never goes into the audit meta.
	return h.run(ctx, req, guild.PluginChatGPT.String(), "set_credentials", nil, func() error {
		_, err := h.store.SetCredentials(ctx, req.TenantID, apiKey, orgID)
		return err
	})
}

func (h *Handler) SetVerify(ctx context.Context, req Request, roleID string) error {
	return h.run(ctx, req, guild.PluginVerify.String(), "set_verify", map[string]any{"role_id": roleID}, func() error {
		_, err := h.store.SetSettings(ctx, req.TenantID, guild.VerifySettings{RoleID: strings.TrimSpace(roleID)})
		return err
	})
}

// ThreadsOptions are the set-threads inputs. A nil Enabled means true.
type ThreadsOptions struct {
	ChannelID   string
	Enabled     *bool
	Title       string
	AutoMessage string
}

func (h *Handler) SetThreads(ctx context.Context, req Request, opt ThreadsOptions) (settings guild.ThreadsSettings, err error) {
	enabled := true
	if opt.Enabled != nil {
		enabled = *opt.Enabled
	}
	settings = guild.ThreadsSettings{
		ChannelID:   strings.TrimSpace(opt.ChannelID),
		Title:       strings.TrimSpace(opt.Title),
		AutoMessage: opt.AutoMessage,
		Enabled:     enabled,
	}
	meta := map[string]any{"channel_id": settings.ChannelID, "enabled": enabled}
	err = h.run(ctx, req, guild.PluginThreads.String(), "set_threads", meta, func() error {
		_, err := h.store.SetSettings(ctx, req.TenantID, settings)
		return err
	})
	return settings, err
}

func (h *Handler) SetActivity(ctx context.Context, req Request, channelID string) error {
	return h.run(ctx, req, guild.PluginActivity.String(), "set_activity", map[string]any{"channel_id": channelID}, func() error {
		_, err := h.store.SetSettings(ctx, req.TenantID, guild.ActivitySettings{ChannelID: strings.TrimSpace(channelID)})
		return err
	})
}

func (h *Handler) SetModeration(ctx context.Context, req Request, logChannelID string) error {
	return h.run(ctx, req, guild.PluginModeration.String(), "set_moderation", map[string]any{"channel_id": logChannelID}, func() error {
		_, err := h.store.SetSettings(ctx, req.TenantID, guild.ModerationSettings{LogChannelID: strings.TrimSpace(logChannelID)})
		return err
	})
}

// StandupOptions are the set-standup inputs. Hour is the raw option text
// ("9", "21"); Weekdays is an optional day list such as "mon,wed,fri".
type StandupOptions struct {
	ChannelID string
	Hour      string
	Message   string
	Role      string
	Weekdays  string
}

// SetStandup stores the standup settings. The scheduler job follows through
// the store's change hook.
func (h *Handler) SetStandup(ctx context.Context, req Request, opt StandupOptions) (settings guild.StandupSettings, err error) {
	meta := map[string]any{"channel_id": opt.ChannelID, "hour": opt.Hour, "weekdays": opt.Weekdays}
	err = h.run(ctx, req, guild.PluginStandup.String(), "set_standup", meta, func() error {
		hour, err := guild.ParseHour(opt.Hour)
		if err != nil {
			return err
		}
		days, err := guild.ParseWeekdays(opt.Weekdays)
		if err != nil {
			return err
		}
		cfg, err := h.store.SetSettings(ctx, req.TenantID, guild.StandupSettings{
			ChannelID:   strings.TrimSpace(opt.ChannelID),
			Hour:        hour,
			Weekdays:    days,
			Message:     opt.Message,
			MentionRole: strings.TrimSpace(opt.Role),
		})
		if err != nil {
			return err
		}
		settings = cfg.Settings.(guild.StandupSettings)
		return nil
	})
	return settings, err
}

// RemoveGuild drops every plugin record of the guild, standup jobs included.
func (h *Handler) RemoveGuild(ctx context.Context, req Request) error {
	return h.run(ctx, req, "", "remove_guild", nil, func() error {
		return h.store.DeleteTenant(ctx, req.TenantID)
	})
}

// UserEvents returns the scheduled events the actor is subscribed to, with
// calendar links. It only reads and is not audited.
func (h *Handler) UserEvents(ctx context.Context, req Request, evts []events.Event) (out []events.Subscribed, err error) {
	defer h.recoverInto(&err, "user_events")
	if h.resolver == nil {
		return nil, fmt.Errorf("commands: events resolver is not configured")
	}
	out, err = h.resolver.Resolve(ctx, req.TenantID, evts, req.ActorID)
	if err != nil {
		h.log.Warn("user events failed", logx.String("tenant", req.TenantID), logx.String("actor", req.ActorID), logx.Err(err))
	}
	return out, err
}

// run executes fn, recovers a panic into an error, logs the outcome and
// writes the audit entry.
func (h *Handler) run(ctx context.Context, req Request, plugin, action string, meta map[string]any, fn func() error) (err error) {
	start := h.now()
	defer func() {
		if r := recover(); r != nil {
			err = h.panicErr(action, r)
		}
		fields := []logx.Field{
			logx.String("tenant", req.TenantID),
			logx.String("actor", req.ActorID),
			logx.String("action", action),
			logx.Duration("took", time.Since(start)),
		}
		if plugin != "" {
			fields = append(fields, logx.String("plugin", plugin))
		}
		if err != nil {
			h.log.Warn("command failed", append(fields, logx.Err(err))...)
		} else {
			h.log.Info("command ok", fields...)
		}
		h.record(ctx, req, plugin, action, meta, start, err)
	}()
	return fn()
}

// recoverInto must be deferred directly.
func (h *Handler) recoverInto(err *error, action string) {
	if r := recover(); r != nil {
		*err = h.panicErr(action, r)
	}
}

func (h *Handler) panicErr(action string, r any) error {
	h.log.Error("panic recovered", logx.String("action", action), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
	return fmt.Errorf("commands: %s: panic: %v", action, r)
}

func (h *Handler) record(ctx context.Context, req Request, plugin, action string, meta map[string]any, at time.Time, opErr error) {
	if h.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:       at,
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Plugin:   plugin,
		Action:   action,
		OK:       opErr == nil,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := h.audit.AppendAudit(cctx, e); err != nil {
		h.log.Debug("audit write failed", logx.String("action", action), logx.Err(err))
	}
}
