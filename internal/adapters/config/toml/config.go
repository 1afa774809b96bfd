// Package toml loads and writes the battery configuration file.
package toml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bnema/neurobattery/internal/application"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/subtests"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName      = "config"
	configType      = "toml"
	configDir       = ".neurobattery"
	configFile      = "config.toml"
	configFileMode  = 0o600
	configDirMode   = 0o700
	tempFilePattern = ".config-*.toml.tmp"
	envPrefix       = "NB"

	DefaultTokenRef = "sink/token"
)

type SinkConfig struct {
	BaseURL  string
	Timeout  time.Duration
	TokenRef string
}

type Config struct {
	// File is the config file that was read, empty when only defaults and
	// environment applied.
	File    string
	Sink    SinkConfig
	Battery application.BatteryConfig
}

// DefaultPath is ~/.neurobattery/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir, configFile), nil
}

// Load reads the config file (explicit or the default location), applies
// NB_* environment overrides and validates the result. A missing file is
// not an error.
func Load(cfg *viper.Viper, explicitPath string) (Config, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	cfg.SetConfigType(configType)
	if explicitPath != "" {
		cfg.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.SetConfigName(configName)
		cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	}
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	setDefaults(cfg)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		switch {
		case explicitPath != "":
			return Config{}, fmt.Errorf("read config file %s: %w", explicitPath, err)
		case errors.As(err, &configNotFound):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	if version := cfg.GetInt("version"); version > currentSchemaVersion {
		return Config{}, fmt.Errorf("unsupported config schema version %d (current %d)", version, currentSchemaVersion)
	}

	config := Config{
		File: cfg.ConfigFileUsed(),
		Sink: SinkConfig{
			BaseURL:  strings.TrimSpace(cfg.GetString("sink.base_url")),
			Timeout:  cfg.GetDuration("sink.timeout"),
			TokenRef: strings.TrimSpace(cfg.GetString("sink.token_ref")),
		},
		Battery: application.BatteryConfig{
			Attention: subtests.AttentionConfig{
				Rows: cfg.GetInt("attention.rows"),
				Cols: cfg.GetInt("attention.cols"),
			},
			Executive: subtests.ExecutiveConfig{
				NodeCount:  cfg.GetInt("executive.node_count"),
				ErrorDelay: cfg.GetDuration("executive.error_delay"),
			},
			ReferenceWords:  cfg.GetStringSlice("recall.reference"),
			DrawingMaxScore: cfg.GetInt("drawing.max_score"),
			FluencyCategory: strings.TrimSpace(cfg.GetString("fluency.category")),
			Subtests:        map[domain.SubtestID]application.SubtestSettings{},
		},
	}

	for id := range cfg.GetStringMap("subtests") {
		settings, err := subtestSettings(cfg, id)
		if err != nil {
			return Config{}, err
		}
		config.Battery.Subtests[domain.SubtestID(id)] = settings
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func setDefaults(cfg *viper.Viper) {
	cfg.SetDefault("sink.timeout", "30s")
	cfg.SetDefault("sink.token_ref", DefaultTokenRef)
	cfg.SetDefault("attention.rows", subtests.DefaultAttentionRows)
	cfg.SetDefault("attention.cols", subtests.DefaultAttentionColumns)
	cfg.SetDefault("executive.node_count", 8)
	cfg.SetDefault("executive.error_delay", "500ms")
	cfg.SetDefault("drawing.max_score", 3)
	cfg.SetDefault("fluency.category", "animals")
	cfg.SetDefault("recall.reference", subtests.DefaultReferenceWords)
}

func subtestSettings(cfg *viper.Viper, id string) (application.SubtestSettings, error) {
	prefix := "subtests." + id + "."
	settings := application.SubtestSettings{
		Policy: domain.SubmissionPolicy(strings.TrimSpace(cfg.GetString(prefix + "policy"))),
		Path:   strings.TrimSpace(cfg.GetString(prefix + "path")),
	}

	if raw := strings.TrimSpace(cfg.GetString(prefix + "duration")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return application.SubtestSettings{}, fmt.Errorf("parse subtests.%s.duration: %w", id, err)
		}
		settings.Duration = &duration
	}
	return settings, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Sink.Timeout < 0 {
		errs = append(errs, errors.New("sink.timeout must be >= 0"))
	}
	if c.Battery.Attention.Rows <= 0 || c.Battery.Attention.Cols <= 0 {
		errs = append(errs, errors.New("attention.rows and attention.cols must be > 0"))
	}
	if c.Battery.Executive.NodeCount < 2 || c.Battery.Executive.NodeCount > 52 {
		errs = append(errs, errors.New("executive.node_count must be between 2 and 52"))
	}
	if c.Battery.DrawingMaxScore <= 0 {
		errs = append(errs, errors.New("drawing.max_score must be > 0"))
	}

	known := map[domain.SubtestID]bool{}
	for _, descriptor := range application.DefaultDescriptors() {
		known[descriptor.ID] = true
	}
	for id, settings := range c.Battery.Subtests {
		if !known[id] {
			errs = append(errs, fmt.Errorf("subtests.%s: %w", id, domain.ErrUnknownSubtest))
			continue
		}
		if settings.Policy != "" && !settings.Policy.Valid() {
			errs = append(errs, fmt.Errorf("subtests.%s.policy: unsupported value %q", id, settings.Policy))
		}
		if settings.Duration != nil && *settings.Duration < 0 {
			errs = append(errs, fmt.Errorf("subtests.%s.duration must be >= 0", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Encode renders c as the TOML file it would be written as.
func Encode(c Config) ([]byte, error) {
	file := fileSchema{
		Version: currentSchemaVersion,
		Sink: sinkSchema{
			BaseURL:  c.Sink.BaseURL,
			Timeout:  c.Sink.Timeout.String(),
			TokenRef: c.Sink.TokenRef,
		},
		Attention: attentionSchema{Rows: c.Battery.Attention.Rows, Cols: c.Battery.Attention.Cols},
		Executive: executiveSchema{
			NodeCount:  c.Battery.Executive.NodeCount,
			ErrorDelay: c.Battery.Executive.ErrorDelay.String(),
		},
		Drawing: drawingSchema{MaxScore: c.Battery.DrawingMaxScore},
		Fluency: fluencySchema{Category: c.Battery.FluencyCategory},
		Recall:  recallSchema{Reference: c.Battery.ReferenceWords},
	}

	if len(c.Battery.Subtests) > 0 {
		ids := make([]string, 0, len(c.Battery.Subtests))
		for id := range c.Battery.Subtests {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		file.Subtests = make(map[string]subtestSchema, len(ids))
		for _, id := range ids {
			settings := c.Battery.Subtests[domain.SubtestID(id)]
			entry := subtestSchema{Policy: string(settings.Policy), Path: settings.Path}
			if settings.Duration != nil {
				entry.Duration = settings.Duration.String()
			}
			file.Subtests[id] = entry
		}
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode config file: %w", err)
	}
	return data, nil
}

// Default is the configuration written by "nb config init".
func Default(baseURL string) Config {
	subtestsByID := map[domain.SubtestID]application.SubtestSettings{}
	for _, descriptor := range application.DefaultDescriptors() {
		duration := descriptor.Duration
		subtestsByID[descriptor.ID] = application.SubtestSettings{
			Duration: &duration,
			Policy:   descriptor.Policy,
			Path:     descriptor.Path,
		}
	}

	return Config{
		Sink: SinkConfig{BaseURL: baseURL, Timeout: 30 * time.Second, TokenRef: DefaultTokenRef},
		Battery: application.BatteryConfig{
			Subtests:        subtestsByID,
			Attention:       subtests.AttentionConfig{Rows: subtests.DefaultAttentionRows, Cols: subtests.DefaultAttentionColumns},
			Executive:       subtests.ExecutiveConfig{NodeCount: 8, ErrorDelay: 500 * time.Millisecond},
			ReferenceWords:  append([]string(nil), subtests.DefaultReferenceWords...),
			DrawingMaxScore: 3,
			FluencyCategory: "animals",
		},
	}
}

// Write stores c at path atomically. An existing file is only replaced
// when overwrite is set.
func Write(path string, c Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}

	data, err := Encode(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tempFile.Chmod(configFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false

	return nil
}
