package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/vigia/internal/model"
)

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: postgres
  dsn: postgres://vigia@localhost/vigia
schedule:
  batch_budget: 10m
sources:
  sat:
    files_per_batch: 5
`), 0o600))

	t.Setenv("VIGIA_SCHEDULE_NEWS_TIME", "09:15")
	t.Setenv("VIGIA_SOURCES_GACETA_ENABLED", "false")
	t.Setenv("VIGIA_HTTP_TIMEOUT", "40s")
	t.Setenv("NEWS_API_KEY", "k-123")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VIGIA")
	v.SetEnvKeyReplacer(replacer())
	v.AutomaticEnv()
	require.NoError(t, v.ReadInConfig())

	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.BatchBudget)
	assert.Equal(t, 5, cfg.Sources.SAT.FilesPerBatch)
	assert.Equal(t, "09:15", cfg.Schedule.NewsTime)
	assert.False(t, cfg.Sources.Gaceta.Enabled)
	assert.Equal(t, 40*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "k-123", cfg.Sources.News.APIKey)

	// untouched keys keep their defaults
	def := model.DefaultConfig()
	assert.Equal(t, def.Schedule.BatchTimes, cfg.Schedule.BatchTimes)
	assert.Equal(t, def.Sources.DOF.BaseURL, cfg.Sources.DOF.BaseURL)
	assert.True(t, cfg.Sources.DOF.Enabled)
}

func TestWriteDefaultConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, writeDefaultConfig(path))
	assert.Error(t, writeDefaultConfig(path), "existing file is not overwritten")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig().Schedule, cfg.Schedule)
	assert.Equal(t, model.DefaultConfig().HTTP.Timeout, cfg.HTTP.Timeout)
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	l := newLogger(model.LogConfig{Level: "warn", Format: "json"}, false)
	assert.False(t, l.Enabled(ctx, -4))
	assert.True(t, l.Enabled(ctx, 4))

	l = newLogger(model.LogConfig{Level: "info"}, true)
	assert.True(t, l.Enabled(ctx, -4))
}

func TestBuildFetchers_OnlyEnabled(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Sources.SIDOF.Enabled = false
	cfg.Sources.Leyes.Enabled = false
	cfg.Cache.Enabled = false

	set, err := buildFetchers(context.Background(), cfg, newLogger(cfg.Log, false), nil)
	require.NoError(t, err)

	zero := set.batchZero()
	require.Len(t, zero, 2)
	assert.Equal(t, model.SourceDOF, zero[0].Source())
	assert.Equal(t, model.SourceGaceta, zero[1].Source())

	_, ok := set.byName(model.SourceSIDOF)
	assert.False(t, ok)
	f, ok := set.byName(model.SourceSAT)
	require.True(t, ok)
	assert.Equal(t, model.SourceSAT, f.Source())
	assert.False(t, set.news.Enabled())
}

func TestNewApp_SQLite(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Store.DSN = "file:" + filepath.Join(t.TempDir(), "app.db") + "?_pragma=busy_timeout(5000)"
	cfg.Cache.Enabled = false

	a, err := newApp(context.Background(), cfg, newLogger(cfg.Log, false))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.Equal(t, 4, a.runner.Batches())
	assert.Equal(t, "sqlite", a.store.Driver())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "********", redact("secret"))
}
