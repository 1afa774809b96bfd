package toml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/neurobattery/internal/application"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/subtests"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaultsWhenFileHasNoOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "version = 1\n")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 30*time.Second, cfg.Sink.Timeout)
	assert.Equal(t, DefaultTokenRef, cfg.Sink.TokenRef)
	assert.Equal(t, subtests.DefaultAttentionRows, cfg.Battery.Attention.Rows)
	assert.Equal(t, subtests.DefaultAttentionColumns, cfg.Battery.Attention.Cols)
	assert.Equal(t, 8, cfg.Battery.Executive.NodeCount)
	assert.Equal(t, 500*time.Millisecond, cfg.Battery.Executive.ErrorDelay)
	assert.Equal(t, 3, cfg.Battery.DrawingMaxScore)
	assert.Equal(t, "animals", cfg.Battery.FluencyCategory)
	assert.Equal(t, subtests.DefaultReferenceWords, cfg.Battery.ReferenceWords)
	assert.Empty(t, cfg.Battery.Subtests)
}

func TestLoadReadsSubtestOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
version = 1

[sink]
base_url = "https://clinic.example/api"
timeout = "5s"

[attention]
rows = 4
cols = 6

[recall]
reference = ["sol", "mar"]

[subtests.fluency]
duration = "90s"
policy = "fire_and_forget"

[subtests.attention]
path = "/v2/attention"
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://clinic.example/api", cfg.Sink.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Sink.Timeout)
	assert.Equal(t, 4, cfg.Battery.Attention.Rows)
	assert.Equal(t, 6, cfg.Battery.Attention.Cols)
	assert.Equal(t, []string{"sol", "mar"}, cfg.Battery.ReferenceWords)

	fluency := cfg.Battery.Subtests[domain.SubtestFluency]
	require.NotNil(t, fluency.Duration)
	assert.Equal(t, 90*time.Second, *fluency.Duration)
	assert.Equal(t, domain.PolicyFireAndForget, fluency.Policy)

	attention := cfg.Battery.Subtests[domain.SubtestAttention]
	assert.Nil(t, attention.Duration)
	assert.Equal(t, "/v2/attention", attention.Path)

	registry, err := application.NewBattery(cfg.Battery, subtests.Providers{})
	require.NoError(t, err)
	index, ok := registry.Index(domain.SubtestFluency)
	require.True(t, ok)
	descriptor, ok := registry.At(index)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, descriptor.Duration)
	assert.Equal(t, domain.PolicyFireAndForget, descriptor.Policy)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "[sink]\nbase_url = \"https://file.example\"\n")
	t.Setenv("NB_SINK_BASE_URL", "https://env.example")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", cfg.Sink.BaseURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "future version", content: "version = 9\n", want: "unsupported config schema version 9"},
		{name: "unknown subtest", content: "[subtests.reading]\npolicy = \"blocking\"\n", want: "unknown subtest"},
		{name: "bad policy", content: "[subtests.fluency]\npolicy = \"eventually\"\n", want: `unsupported value "eventually"`},
		{name: "bad duration", content: "[subtests.fluency]\nduration = \"soon\"\n", want: "parse subtests.fluency.duration"},
		{name: "empty grid", content: "[attention]\nrows = 0\n", want: "attention.rows and attention.cols must be > 0"},
		{name: "too many nodes", content: "[executive]\nnode_count = 60\n", want: "executive.node_count must be between 2 and 52"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(viper.New(), writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestWriteDefaultConfigRoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	want := Default("https://clinic.example/api")

	require.NoError(t, Write(path, want, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file fileSchema
	require.NoError(t, toml.Unmarshal(data, &file))
	assert.Equal(t, currentSchemaVersion, file.Version)
	assert.Len(t, file.Subtests, len(application.DefaultDescriptors()))
	assert.Equal(t, "1m0s", file.Subtests[string(domain.SubtestAttention)].Duration)

	got, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, want.Sink, got.Sink)
	assert.Equal(t, want.Battery, got.Battery)
}

func TestWriteRefusesToOverwriteUnlessForced(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "version = 1\n")

	err := Write(path, Default(""), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, Write(path, Default("https://forced.example"), true))
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://forced.example", cfg.Sink.BaseURL)
}
