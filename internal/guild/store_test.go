package guild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"hansbot/internal/storage"
	"hansbot/internal/vault"
	logx "hansbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	db := storage.NewMemory()
	v, err := vault.New("test-key")
	require.NoError(t, err)
	return NewStore(db, v, logx.Nop()), db
}

func TestToggleRoundTripKeepsSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	threads := ThreadsSettings{ChannelID: "c1", Title: "Discussion", AutoMessage: "hi", Enabled: true}
	_, err := s.SetSettings(ctx, "g1", threads)
	require.NoError(t, err)

	prev, next, err := s.Toggle(ctx, "g1", PluginThreads, true)
	require.NoError(t, err)
	assert.False(t, prev)
	assert.True(t, next)

	prev, next, err = s.Toggle(ctx, "g1", PluginThreads, false)
	require.NoError(t, err)
	assert.True(t, prev)
	assert.False(t, next)

	cfg, err := s.Get(ctx, "g1", PluginThreads)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, threads, cfg.Settings)
}

func TestToggleIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	var changes int
	s.OnChange(func(context.Context, Change) { changes++ })

	_, _, err := s.Toggle(ctx, "g1", PluginVerify, true)
	require.NoError(t, err)
	prev, next, err := s.Toggle(ctx, "g1", PluginVerify, true)
	require.NoError(t, err)
	assert.True(t, prev)
	assert.True(t, next)
	assert.Equal(t, 1, changes)
}

func TestToggleCreatesDisabledDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, db := newTestStore(t)

	prev, next, err := s.Toggle(ctx, "g1", PluginActivity, false)
	require.NoError(t, err)
	assert.False(t, prev)
	assert.False(t, next)

	rec, ok, err := db.GetPlugin(ctx, "g1", "activity")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.Enabled)
	assert.Empty(t, rec.Settings)
}

func TestGetUnknownTenantReturnsDefault(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	cfg, err := s.Get(context.Background(), "nobody", PluginStandup)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.Configured)
	assert.Equal(t, StandupSettings{Weekdays: DefaultWeekdays}, cfg.Settings)
}

func TestUnknownPlugin(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, err := ParsePlugin("music")
	var upe *UnknownPluginError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "music", upe.Name)

	_, _, err = s.Toggle(context.Background(), "g1", Plugin(42), true)
	assert.ErrorAs(t, err, &upe)
}

func TestParsePlugin(t *testing.T) {
	t.Parallel()
	for _, p := range Plugins() {
		got, err := ParsePlugin(strings.ToUpper(p.String()))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	assert.Len(t, Plugins(), 6)
}

func TestSetSettingsValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		settings Settings
		field    string
	}{
		{name: "threads without channel", settings: ThreadsSettings{Title: "x"}, field: "channel_id"},
		{name: "verify without role", settings: VerifySettings{}, field: "role_id"},
		{name: "activity without channel", settings: ActivitySettings{}, field: "channel_id"},
		{name: "standup hour", settings: StandupSettings{ChannelID: "c", Hour: 25, Weekdays: DefaultWeekdays, Message: "m"}, field: "hour"},
		{name: "standup message", settings: StandupSettings{ChannelID: "c", Hour: 9, Weekdays: DefaultWeekdays, Message: "  "}, field: "message"},
		{name: "standup weekdays", settings: StandupSettings{ChannelID: "c", Hour: 9, Message: "m"}, field: "weekdays"},
		{name: "moderation", settings: ModerationSettings{}, field: "log_channel_id"},
		{name: "chatgpt", settings: ChatGPTSettings{}, field: "api_key"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, db := newTestStore(t)
			_, err := s.SetSettings(ctx, "g1", tt.settings)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			_, ok, err := db.GetPlugin(ctx, "g1", tt.settings.Plugin().String())
			require.NoError(t, err)
			assert.False(t, ok, "invalid payload must not be written")
		})
	}
}

func TestParseHour(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]int{"9": 9, "21": 21, " 0 ": 0, "23": 23} {
		got, err := ParseHour(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"25", "abc", "-1", "", "9.5"} {
		_, err := ParseHour(raw)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, raw)
		assert.Equal(t, "hour", ve.Field)
	}
}

func TestUpdateFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	orig := StandupSettings{ChannelID: "c1", Hour: 9, Weekdays: DefaultWeekdays, Message: "standup"}
	_, err := s.SetSettings(ctx, "g1", orig)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "g1", PluginStandup, func(Settings) (Settings, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, err = s.Update(ctx, "g1", PluginStandup, func(Settings) (Settings, error) {
		return VerifySettings{RoleID: "r"}, nil
	})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	cfg, err := s.Get(ctx, "g1", PluginStandup)
	require.NoError(t, err)
	assert.Equal(t, orig, cfg.Settings)
}

func TestCredentialsAreSealedAtRest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, db := newTestStore(t)

	_, err := s.SetCredentials(ctx, "g1", "sk-live-123", "org-456")
	require.NoError(t, err)

	rec, ok, err := db.GetPlugin(ctx, "g1", "chatgpt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(rec.Settings), "sk-live-123")
	assert.NotContains(t, string(rec.Settings), "org-456")
	assert.Contains(t, string(rec.Settings), `"iv"`)

	key, org, err := s.Credentials(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", key)
	assert.Equal(t, "org-456", org)

	// Same records read with another deployment key.
	other, err := vault.New("other-key")
	require.NoError(t, err)
	_, _, err = NewStore(db, other, logx.Nop()).Credentials(ctx, "g1")
	assert.ErrorIs(t, err, vault.ErrDecryption)

	// The store itself keeps working.
	_, err = s.Get(ctx, "g1", PluginChatGPT)
	assert.NoError(t, err)
}

func TestSetCredentialsRequiresBothValues(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	_, err := s.SetCredentials(context.Background(), "g1", "sk", " ")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "org_id", ve.Field)
}

func TestResolveForEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.SetSettings(ctx, "g1", ModerationSettings{LogChannelID: "logs"})
	require.NoError(t, err)
	_, _, err = s.Toggle(ctx, "g1", PluginModeration, true)
	require.NoError(t, err)

	res, err := s.ResolveForEvent(ctx, "g1", "messageDelete")
	require.NoError(t, err)
	assert.Equal(t, PluginModeration, res.Plugin)
	assert.True(t, res.Enabled)
	assert.Equal(t, ModerationSettings{LogChannelID: "logs"}, res.Settings)

	res, err = s.ResolveForEvent(ctx, "g1", string(EventGuildMemberAdd))
	require.NoError(t, err)
	assert.Equal(t, PluginActivity, res.Plugin)
	assert.False(t, res.Enabled)

	_, err = s.ResolveForEvent(ctx, "g1", "voiceStateUpdate")
	var uee *UnknownEventError
	assert.ErrorAs(t, err, &uee)
}

func TestEveryEventMapsToRegisteredPlugin(t *testing.T) {
	t.Parallel()
	for ev, p := range eventPlugins {
		assert.True(t, p.Valid(), ev)
	}
}

func TestConcurrentUpdatesDifferentKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	standup := StandupSettings{ChannelID: "c1", Hour: 9, Weekdays: DefaultWeekdays, Message: "standup"}
	threads := ThreadsSettings{ChannelID: "c2", Enabled: true}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, err := s.SetSettings(ctx, "g1", standup); errs <- err }()
	go func() { defer wg.Done(); _, err := s.SetSettings(ctx, "g1", threads); errs <- err }()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "g1", PluginStandup)
	require.NoError(t, err)
	assert.Equal(t, standup, got.Settings)
	got, err = s.Get(ctx, "g1", PluginThreads)
	require.NoError(t, err)
	assert.Equal(t, threads, got.Settings)
}

func TestConcurrentUpdatesSameKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := StandupSettings{ChannelID: "ca", Hour: 9, Weekdays: DefaultWeekdays, Message: "from a"}
	b := StandupSettings{ChannelID: "cb", Hour: 17, Weekdays: NewWeekdays(1, 3), Message: "from b", MentionRole: "@here"}

	var wg sync.WaitGroup
	for _, st := range []StandupSettings{a, b} {
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SetSettings(ctx, "g1", st)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "g1", PluginStandup)
	require.NoError(t, err)
	assert.True(t, got.Settings == a || got.Settings == b, "got interleaved settings %+v", got.Settings)
}

func TestUpdateIsAtomicPerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.SetSettings(ctx, "g1", ThreadsSettings{ChannelID: "c", Title: ""})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "g1", PluginThreads, func(cur Settings) (Settings, error) {
				ts := cur.(ThreadsSettings)
				ts.Title += "x"
				return ts, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cfg, err := s.Get(ctx, "g1", PluginThreads)
	require.NoError(t, err)
	assert.Len(t, cfg.Settings.(ThreadsSettings).Title, n, "lost update")
	assert.Zero(t, s.locks.size())
}

func TestDeleteTenantNotifies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.SetSettings(ctx, "g1", VerifySettings{RoleID: "r"})
	require.NoError(t, err)
	_, err = s.SetSettings(ctx, "g2", VerifySettings{RoleID: "r2"})
	require.NoError(t, err)

	var deleted []string
	s.OnChange(func(_ context.Context, c Change) {
		if c.Deleted {
			deleted = append(deleted, fmt.Sprintf("%s/%s", c.TenantID, c.Plugin))
		}
	})
	require.NoError(t, s.DeleteTenant(ctx, "g1"))
	assert.Len(t, deleted, len(Plugins()))

	cfg, err := s.Get(ctx, "g1", PluginVerify)
	require.NoError(t, err)
	assert.False(t, cfg.Configured)
	cfg, err = s.Get(ctx, "g2", PluginVerify)
	require.NoError(t, err)
	assert.True(t, cfg.Configured)
}

func TestEmptyTenantRejected(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), " ", PluginVerify)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "tenant_id", ve.Field)
}

func TestChangeHooksRunInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	var seen []string
	s.OnChange(func(_ context.Context, c Change) {
		seen = append(seen, "first:"+c.Plugin.String())
		// Registered mid-notify; only observes later writes.
		s.OnChange(func(_ context.Context, c Change) { seen = append(seen, "late:"+c.Plugin.String()) })
	})
	s.OnChange(func(_ context.Context, c Change) { seen = append(seen, "second:"+c.Plugin.String()) })

	_, _, err := s.Toggle(ctx, "g1", PluginVerify, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"first:verify", "second:verify"}, seen)
}
