package standup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hansbot/internal/delivery"
	"hansbot/internal/guild"
	"hansbot/internal/storage"
	logx "hansbot/pkg/logx"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// JobStore is the persistence the scheduler needs.
type JobStore interface {
	ListJobs(ctx context.Context) ([]storage.JobRecord, error)
	PutJob(ctx context.Context, rec storage.JobRecord) error
	DeleteJob(ctx context.Context, tenantID, channelID string) error
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithLocation sets the deployment clock's zone used for slots and weekdays.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// Scheduler owns the standup job registry and decides, per tick, which jobs fire.
//
// Ticks are serialized by tickMu. The registry lock is held for the whole scan,
// so an Unregister either lands before a tick evaluates the job or after the
// tick is done; it is always visible to the next tick.
type Scheduler struct {
	db    JobStore
	log   logx.Logger
	loc   *time.Location
	clock Clock

	tickMu sync.Mutex

	mu   sync.Mutex
	jobs map[jobKey]*Job
	// Last fired slot of unregistered jobs; a re-registered job inherits it.
	fired map[jobKey]string
}

func New(db JobStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:    db,
		loc:   time.Local,
		clock: ClockFunc(time.Now),
		jobs:  map[jobKey]*Job{},
		fired: map[jobKey]string{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Load restores persisted jobs, fire history included. Invalid records are
// logged and skipped.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	recs, err := s.db.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("standup: load jobs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range recs {
		j, err := jobFromRecord(r).normalize()
		if err != nil {
			s.log.Warn("skipping persisted job", logx.String("tenant", r.TenantID), logx.String("channel", r.ChannelID), logx.Err(err))
			continue
		}
		s.jobs[j.key()] = &j
		n++
	}
	s.log.Info("jobs restored", logx.Int("jobs", n))
	return n, nil
}

// Register adds or replaces the job for (tenant, channel). The definition is
// replaced; the fire history of the replaced job is kept.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	job, err := job.normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(ctx, job)
}

func (s *Scheduler) registerLocked(ctx context.Context, job Job) error {
	if old := s.jobs[job.key()]; old != nil {
		job.LastFiredSlot = old.LastFiredSlot
	} else if slot, ok := s.fired[job.key()]; ok && job.LastFiredSlot == "" {
		job.LastFiredSlot = slot
	}
	if err := s.db.PutJob(ctx, job.record()); err != nil {
		return fmt.Errorf("standup: persist job: %w", err)
	}
	s.jobs[job.key()] = &job
	delete(s.fired, job.key())
	s.log.Info("job registered",
		logx.String("tenant", job.TenantID),
		logx.String("channel", job.ChannelID),
		logx.Int("hour", job.Hour),
		logx.String("weekdays", job.Weekdays.String()),
	)
	return nil
}

// Unregister removes the job for (tenant, channel).
func (s *Scheduler) Unregister(ctx context.Context, tenantID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unregisterLocked(ctx, jobKey{tenantID: tenantID, channelID: channelID})
}

func (s *Scheduler) unregisterLocked(ctx context.Context, k jobKey) error {
	old, ok := s.jobs[k]
	if !ok {
		return nil
	}
	if old.LastFiredSlot != "" {
		s.fired[k] = old.LastFiredSlot
	}
	// Drop from the registry first: a failed delete must not keep the job firing.
	delete(s.jobs, k)
	if err := s.db.DeleteJob(ctx, k.tenantID, k.channelID); err != nil {
		return fmt.Errorf("standup: delete job: %w", err)
	}
	s.log.Info("job unregistered", logx.String("tenant", k.tenantID), logx.String("channel", k.channelID))
	return nil
}

// UnregisterTenant removes every job of a tenant.
func (s *Scheduler) UnregisterTenant(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retainLocked(ctx, tenantID, "")
}

// retainLocked removes the tenant's jobs except the one on keepChannel.
func (s *Scheduler) retainLocked(ctx context.Context, tenantID, keepChannel string) error {
	var firstErr error
	for k := range s.jobs {
		if k.tenantID != tenantID || (keepChannel != "" && k.channelID == keepChannel) {
			continue
		}
		if err := s.unregisterLocked(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sync makes the registry match a guild's standup configuration: one job
// when enabled and configured, none otherwise.
func (s *Scheduler) Sync(ctx context.Context, tenantID string, settings guild.StandupSettings, enabled, configured bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled || !configured {
		return s.retainLocked(ctx, tenantID, "")
	}
	job, err := JobFromSettings(tenantID, settings).normalize()
	if err != nil {
		return err
	}
	if err := s.retainLocked(ctx, tenantID, job.ChannelID); err != nil {
		return err
	}
	return s.registerLocked(ctx, job)
}

// HandleChange is a guild.Store change hook keeping standup jobs in sync.
func (s *Scheduler) HandleChange(ctx context.Context, c guild.Change) {
	if c.Plugin != guild.PluginStandup {
		return
	}
	var err error
	if c.Deleted {
		err = s.UnregisterTenant(ctx, c.TenantID)
	} else {
		settings, _ := c.Next.Settings.(guild.StandupSettings)
		err = s.Sync(ctx, c.TenantID, settings, c.Next.Enabled, c.Next.Configured)
	}
	if err != nil {
		s.log.Error("standup sync failed", logx.String("tenant", c.TenantID), logx.Err(err))
	}
}

// Tick evaluates the registry at now (minute resolution). At minute zero it
// fires every job whose weekday and hour match and that has not fired for
// the current slot yet. The fire is persisted before the message is returned.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []delivery.OutboundMessage {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now = now.In(s.loc)
	if now.Minute() != 0 {
		return nil
	}
	slot := SlotKey(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, last := range s.fired {
		if last != slot {
			delete(s.fired, k)
		}
	}

	keys := make([]jobKey, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tenantID != keys[j].tenantID {
			return keys[i].tenantID < keys[j].tenantID
		}
		return keys[i].channelID < keys[j].channelID
	})

	var out []delivery.OutboundMessage
	for _, k := range keys {
		if msg, ok := s.fireLocked(ctx, s.jobs[k], now, slot); ok {
			out = append(out, msg)
		}
	}
	if len(out) > 0 {
		s.log.Info("tick fired jobs", logx.String("slot", slot), logx.Int("fired", len(out)))
	}
	return out
}

// fireLocked evaluates one job. A bad job is logged and skipped so the rest of
// the tick still runs.
func (s *Scheduler) fireLocked(ctx context.Context, j *Job, now time.Time, slot string) (msg delivery.OutboundMessage, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job evaluation panicked", logx.String("tenant", j.TenantID), logx.String("channel", j.ChannelID), logx.Any("panic", r))
			fired = false
		}
	}()
	if _, err := j.normalize(); err != nil {
		s.log.Warn("skipping malformed job", logx.String("tenant", j.TenantID), logx.String("channel", j.ChannelID), logx.Err(err))
		return msg, false
	}
	if !j.due(now) || j.LastFiredSlot == slot {
		return msg, false
	}

	j.LastFiredSlot = slot
	if err := s.db.PutJob(ctx, j.record()); err != nil {
		// The in-memory mark still prevents a second fire in this process.
		s.log.Warn("persisting fire failed", logx.String("tenant", j.TenantID), logx.String("slot", slot), logx.Err(err))
	}
	return delivery.OutboundMessage{
		TenantID:    j.TenantID,
		ChannelID:   j.ChannelID,
		Content:     j.Message,
		MentionRole: j.MentionRole,
	}, true
}

// Jobs returns a snapshot of the registry ordered by tenant then channel.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].TenantID != out[k].TenantID {
			return out[i].TenantID < out[k].TenantID
		}
		return out[i].ChannelID < out[k].ChannelID
	})
	return out
}
