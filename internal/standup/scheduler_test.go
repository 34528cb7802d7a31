package standup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hansbot/internal/delivery"
	"hansbot/internal/guild"
	"hansbot/internal/storage"
	"hansbot/internal/vault"
	logx "hansbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.October, day, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, db JobStore) *Scheduler {
	t.Helper()
	if db == nil {
		db = storage.NewMemory()
	}
	return New(db, WithLocation(time.UTC), WithLogger(logx.Nop()))
}

func standupJob(tenant string) Job {
	return Job{TenantID: tenant, ChannelID: "c-" + tenant, Hour: 9, Message: "standup time", MentionRole: "@here"}
}

func TestRegisterDefaultsWeekdays(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	require.NoError(t, s.Register(context.Background(), standupJob("g1")))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, guild.DefaultWeekdays, jobs[0].Weekdays)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	for _, j := range []Job{
		{TenantID: "g", ChannelID: "c", Hour: 24, Message: "m"},
		{TenantID: "g", ChannelID: "c", Hour: -1, Message: "m"},
		{TenantID: "g", ChannelID: "", Hour: 9, Message: "m"},
		{TenantID: "", ChannelID: "c", Hour: 9, Message: "m"},
		{TenantID: "g", ChannelID: "c", Hour: 9, Message: " "},
	} {
		assert.ErrorIs(t, s.Register(ctx, j), ErrInvalidJob, "%+v", j)
	}
	assert.Empty(t, s.Jobs())
}

func TestWeekdayGating(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))

	assert.Empty(t, s.Tick(ctx, at(17, 9, 0)), "saturday")
	assert.Empty(t, s.Tick(ctx, at(18, 9, 0)), "sunday")
	assert.Len(t, s.Tick(ctx, at(19, 9, 0)), 1, "monday")
}

func TestHourAndMinuteGating(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))

	assert.Empty(t, s.Tick(ctx, at(19, 8, 0)))
	assert.Empty(t, s.Tick(ctx, at(19, 10, 0)))
	assert.Empty(t, s.Tick(ctx, at(19, 9, 1)))
	assert.Empty(t, s.Tick(ctx, at(19, 9, 59)))
}

func TestNoDoubleFireWithinSlot(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))

	first := s.Tick(ctx, at(19, 9, 0))
	require.Len(t, first, 1)
	assert.Equal(t, delivery.OutboundMessage{TenantID: "g1", ChannelID: "c-g1", Content: "standup time", MentionRole: "@here"}, first[0])

	assert.Empty(t, s.Tick(ctx, at(19, 9, 0).Add(30*time.Second)))
	assert.Len(t, s.Tick(ctx, at(20, 9, 0)), 1, "next day's slot fires again")
}

func TestConcurrentTicksFireOnce(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))
	require.NoError(t, s.Register(ctx, standupJob("g2")))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := len(s.Tick(ctx, at(19, 9, 0).Add(time.Duration(i)*time.Second)))
			mu.Lock()
			fired += n
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, fired)
}

func TestRestartKeepsFireHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storage.NewMemory()

	s1 := newTestScheduler(t, db)
	require.NoError(t, s1.Register(ctx, standupJob("g1")))
	require.Len(t, s1.Tick(ctx, at(19, 9, 0)), 1)

	// Process restarts within the same slot.
	s2 := newTestScheduler(t, db)
	n, err := s2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, s2.Tick(ctx, at(19, 9, 0).Add(20*time.Second)))
	assert.Len(t, s2.Tick(ctx, at(20, 9, 0)), 1)
}

func TestReRegisterKeepsHistory(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))
	require.Len(t, s.Tick(ctx, at(19, 9, 0)), 1)

	updated := standupJob("g1")
	updated.Message = "new wording"
	require.NoError(t, s.Register(ctx, updated))
	assert.Empty(t, s.Tick(ctx, at(19, 9, 0)), "replaced definition must not re-fire the slot")

	msgs := s.Tick(ctx, at(20, 9, 0))
	require.Len(t, msgs, 1)
	assert.Equal(t, "new wording", msgs[0].Content)
}

func TestUnregisterVisibleToNextTick(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))
	require.NoError(t, s.Unregister(ctx, "g1", "c-g1"))
	assert.Empty(t, s.Tick(ctx, at(19, 9, 0)))
	assert.Empty(t, s.Jobs())
}

type flakyStore struct {
	storage.Store
	failPut bool
}

func (f *flakyStore) PutJob(ctx context.Context, rec storage.JobRecord) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.Store.PutJob(ctx, rec)
}

func TestTickIsolatesBadJobs(t *testing.T) {
	t.Parallel()
	db := &flakyStore{Store: storage.NewMemory()}
	s := newTestScheduler(t, db)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))
	require.NoError(t, s.Register(ctx, standupJob("g2")))

	// Corrupt one definition in place.
	s.mu.Lock()
	s.jobs[jobKey{tenantID: "g1", channelID: "c-g1"}].Message = ""
	s.mu.Unlock()

	db.failPut = true
	msgs := s.Tick(ctx, at(19, 9, 0))
	require.Len(t, msgs, 1)
	assert.Equal(t, "g2", msgs[0].TenantID)
	// Persist failed, but the in-memory mark holds.
	assert.Empty(t, s.Tick(ctx, at(19, 9, 0)))
}

func TestTickUsesSchedulerLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*60*60)
	s := New(storage.NewMemory(), WithLocation(loc))
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))

	// 07:00 UTC is 09:00 in the scheduler zone.
	assert.Len(t, s.Tick(ctx, at(19, 7, 0)), 1)
}

func TestSyncFollowsGuildStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storage.NewMemory()
	v, err := vault.New("k")
	require.NoError(t, err)
	gs := guild.NewStore(db, v, logx.Nop())
	s := newTestScheduler(t, db)
	gs.OnChange(s.HandleChange)

	settings := guild.StandupSettings{ChannelID: "c1", Hour: 9, Weekdays: guild.DefaultWeekdays, Message: "standup"}
	_, err = gs.SetSettings(ctx, "g1", settings)
	require.NoError(t, err)
	assert.Empty(t, s.Jobs(), "settings alone do not arm a disabled plugin")

	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, true)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)

	// Moving the standup to another channel replaces the job.
	settings.ChannelID = "c2"
	_, err = gs.SetSettings(ctx, "g1", settings)
	require.NoError(t, err)
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "c2", jobs[0].ChannelID)

	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, false)
	require.NoError(t, err)
	assert.Empty(t, s.Jobs())
	assert.Empty(t, s.Tick(ctx, at(19, 9, 0)))

	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, true)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)

	require.NoError(t, gs.DeleteTenant(ctx, "g1"))
	assert.Empty(t, s.Jobs())
	persisted, err := db.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestSlotKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2026-10-19T09", SlotKey(at(19, 9, 0)))
	assert.Equal(t, "2026-10-19T21", SlotKey(at(19, 21, 45)))
}

func TestToggleOffOnWithinSlotFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storage.NewMemory()
	v, err := vault.New("k")
	require.NoError(t, err)
	gs := guild.NewStore(db, v, logx.Nop())
	s := newTestScheduler(t, db)
	gs.OnChange(s.HandleChange)

	settings := guild.StandupSettings{ChannelID: "c1", Hour: 9, Weekdays: guild.DefaultWeekdays, Message: "standup"}
	_, err = gs.SetSettings(ctx, "g1", settings)
	require.NoError(t, err)
	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, true)
	require.NoError(t, err)
	require.Len(t, s.Tick(ctx, at(19, 9, 0)), 1)

	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, false)
	require.NoError(t, err)
	_, _, err = gs.Toggle(ctx, "g1", guild.PluginStandup, true)
	require.NoError(t, err)
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "2026-10-19T09", jobs[0].LastFiredSlot)
	assert.Empty(t, s.Tick(ctx, at(19, 9, 0)))

	assert.Len(t, s.Tick(ctx, at(20, 9, 0)), 1)
}
