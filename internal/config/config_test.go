package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("hansbot.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "* * * * *", cfg.Scheduler.Spec)
	assert.Equal(t, "log", cfg.Delivery.Driver)
	assert.Equal(t, 4, cfg.Delivery.Workers)
	assert.Equal(t, 4, cfg.Events.FetchConcurrency)
}

func TestDecodeYAMLKeepsExplicitFalse(t *testing.T) {
	t.Parallel()
	doc := `
logging:
  level: debug
  console: false
storage:
  driver: memory
scheduler:
  enabled: false
  timezone: Europe/Berlin
`
	cfg, err := Decode("hansbot.yaml", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Console)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	// untouched fields keep their defaults
	assert.Equal(t, "./data/hansbot.db", cfg.Storage.Path)

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("hansbot.yml", nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field":    `{"nope": 1}`,
		"trailing data":    `{} {}`,
		"bad driver":       `{"storage": {"driver": "postgres"}}`,
		"bad timezone":     `{"scheduler": {"timezone": "Mars/Olympus"}}`,
		"bad duration":     `{"delivery": {"timeout": "soon"}}`,
		"telegram w/o key": `{"delivery": {"driver": "telegram", "token_env": ""}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("hansbot.json", []byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestVaultKeyFromEnv(t *testing.T) {
	t.Setenv("HANS_TEST_VAULT_KEY", " s3cret ")
	c := VaultConfig{KeyEnv: "HANS_TEST_VAULT_KEY"}
	assert.Equal(t, "s3cret", c.ResolveKey())
	c.Key = "inline"
	assert.Equal(t, "inline", c.ResolveKey())
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a, err := Decode("a.json", []byte(`{}`))
	require.NoError(t, err)
	b, err := Decode("b.json", []byte(`{"logging": {"level": "debug"}}`))
	require.NoError(t, err)

	changed, fields := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging"}, changed)
	assert.NotEmpty(t, fields)
	assert.False(t, RequiresRestart(changed))

	c, err := Decode("c.json", []byte(`{"storage": {"driver": "file"}}`))
	require.NoError(t, err)
	changed, _ = SummarizeChange(a, c)
	assert.Equal(t, []string{"storage"}, changed)
	assert.True(t, RequiresRestart(changed))
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hansbot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"driver": "memory"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"driver": "memory"}, "logging": {"level": "warn"}}`), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "warn", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
