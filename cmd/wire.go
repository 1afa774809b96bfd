package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tomlconfig "github.com/bnema/neurobattery/internal/adapters/config/toml"
	chainstore "github.com/bnema/neurobattery/internal/adapters/credentials/chain"
	filestore "github.com/bnema/neurobattery/internal/adapters/credentials/file"
	"github.com/bnema/neurobattery/internal/adapters/submission/httpsink"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	credentialsDir = "credentials"
	envPrefix      = "NB"
)

var errSinkNotConfigured = errors.New("sink.base_url is not configured; run \"nb config init --base-url <url>\"")

type app struct {
	configPath string
	verbose    bool

	logger      *zap.Logger
	credentials *chainstore.Store
	httpClient  *http.Client
	now         func() time.Time
}

// wire builds what every command shares. The config file itself is read
// lazily so "nb config init" works without one.
func (a *app) wire(stderr io.Writer) error {
	a.logger = newLogger(stderr, a.verbose)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	persistent := filestore.NewStore(filepath.Join(homeDir, ".neurobattery", credentialsDir))
	credentials, err := chainstore.NewStore(envPrefix, persistent)
	if err != nil {
		return fmt.Errorf("wire credential store chain: %w", err)
	}

	a.credentials = credentials
	a.httpClient = http.DefaultClient
	a.now = time.Now
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) loadConfig() (tomlconfig.Config, error) {
	cfg, err := tomlconfig.Load(viper.New(), a.configPath)
	if err != nil {
		return tomlconfig.Config{}, err
	}
	a.logger.Debug("config loaded", zap.String("file", cfg.File))
	return cfg, nil
}

func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return tomlconfig.DefaultPath()
}

func (a *app) newSink(cfg tomlconfig.Config) (*httpsink.Sink, error) {
	if cfg.Sink.BaseURL == "" {
		return nil, errSinkNotConfigured
	}

	return &httpsink.Sink{
		BaseURL:        cfg.Sink.BaseURL,
		HTTPClient:     a.httpClient,
		RequestTimeout: cfg.Sink.Timeout,
		Credentials:    a.credentials,
		TokenRef:       cfg.Sink.TokenRef,
		Contracts:      &httpsink.Contracts{},
		Logger:         a.logger.Named("sink"),
	}, nil
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core)
}
