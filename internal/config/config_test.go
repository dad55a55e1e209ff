package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidex/indexer/internal/config"
	"github.com/evidex/indexer/internal/extract"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.IndexFileContents)
	assert.False(t, cfg.IndexUnallocated)
	assert.Equal(t, extract.DefaultFragmentChars, cfg.FragmentChars)
	assert.Positive(t, cfg.Workers)

	s := cfg.Settings()
	assert.True(t, s.IndexFileContents)
	assert.False(t, s.IndexUnallocated)
}

func TestLoad(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "indexer.yaml")
		require.NoError(t, os.WriteFile(path, []byte("indexUnallocated: true\nworkers: 3\n"), 0644))

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.True(t, cfg.IndexUnallocated)
		assert.True(t, cfg.IndexFileContents)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "empty", yaml: "   \n", wantErr: false},
		{name: "all keys", yaml: "indexFileContents: false\nindexUnallocated: true\nignoreCorruptedCarved: true\nworkers: 8\nfragmentChars: 5000\nbatchSize: 50\nverbose: true\nlogLevel: debug\ntextCacheDir: /cache\n"},
		{name: "unknown key", yaml: "indexEverything: true\n", wantErr: true},
		{name: "wrong type", yaml: "indexFileContents: maybe\n", wantErr: true},
		{name: "zero workers", yaml: "workers: 0\n", wantErr: true},
		{name: "tiny fragments", yaml: "fragmentChars: 10\n", wantErr: true},
		{name: "bad level", yaml: "logLevel: loud\n", wantErr: true},
		{name: "not a mapping", yaml: "- a\n- b\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := config.Parse([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseValidationErrorDetails(t *testing.T) {
	cfg := config.Default()
	err := config.Parse([]byte("workers: 0\nlogLevel: loud\n"), &cfg)

	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), "$.workers")
	assert.Equal(t, config.Default(), cfg, "invalid documents are not applied")
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	err := config.ApplyEnv(&cfg, envMap(map[string]string{
		"INDEXER_INDEX_FILE_CONTENTS": "false",
		"INDEXER_INDEX_UNALLOCATED":   " true ",
		"INDEXER_WORKERS":             "6",
		"INDEXER_LOG_LEVEL":           "DEBUG",
		"INDEXER_TEXT_CACHE_DIR":      "/tmp/texts",
		"INDEXER_VERBOSE":             "   ",
		"INDEXER_BATCH_SIZE":          "",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.IndexFileContents)
	assert.True(t, cfg.IndexUnallocated)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "/tmp/texts", cfg.TextCacheDir)
	assert.False(t, cfg.Verbose, "blank values are ignored")
	assert.Equal(t, config.Default().BatchSize, cfg.BatchSize)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad bool", env: map[string]string{"INDEXER_INDEX_UNALLOCATED": "sometimes"}},
		{name: "bad int", env: map[string]string{"INDEXER_WORKERS": "many"}},
		{name: "negative int", env: map[string]string{"INDEXER_FRAGMENT_CHARS": "-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			assert.Error(t, config.ApplyEnv(&cfg, envMap(tt.env)))
		})
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, config.Config{LogLevel: tt.level}.Level(), tt.level)
	}
}
