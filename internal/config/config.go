package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultMaxAttempts   = 60
	defaultInitialDelay  = 500
	defaultGrowthFactor  = 1.2
	defaultMaxDelay      = 2000
	defaultStatusTail    = 10
	defaultStateDirLinux = ".local/state/scribe"
	defaultConfigDir     = ".config/scribe"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Remote struct {
		BaseURL    string  `toml:"base_url"`
		TimeoutSec float64 `toml:"timeout_sec"`
	} `toml:"remote"`

	Poll struct {
		MaxAttempts    int     `toml:"max_attempts"`
		InitialDelayMS int     `toml:"initial_delay_ms"`
		GrowthFactor   float64 `toml:"growth_factor"`
		MaxDelayMS     int     `toml:"max_delay_ms"`
	} `toml:"poll"`

	Audio struct {
		DeviceName   string `toml:"device_name"`
		SampleRate   int    `toml:"sample_rate"`
		Channels     int    `toml:"channels"`
		FrameMS      int    `toml:"frame_ms"`
		MaxRecordSec int    `toml:"max_record_sec"`
	} `toml:"audio"`

	// VAD stops a recording automatically after trailing silence.
	VAD struct {
		Enabled        bool `toml:"enabled"`
		SilenceMS      int  `toml:"silence_ms"`
		Aggressiveness int  `toml:"aggressiveness"`
		MinSpeechMS    int  `toml:"min_speech_ms"`
	} `toml:"vad"`

	Hook struct {
		Enabled    bool              `toml:"enabled"`
		Command    string            `toml:"command"` // split with shell rules
		Args       []string          `toml:"args"`
		Prefix     string            `toml:"prefix"`
		MinChars   int               `toml:"min_chars"`
		TimeoutSec float64           `toml:"timeout_sec"`
		Env        map[string]string `toml:"env"`
		RedactPII  bool              `toml:"redact_pii"`
	} `toml:"hook"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		SocketPath     string `toml:"socket_path"`
		PidPath        string `toml:"pid_path"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults. The remote base URL is left
// empty on purpose: there is no safe production default.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "scribe")
	}

	cfg := &Config{}

	cfg.Remote.TimeoutSec = 30

	cfg.Poll.MaxAttempts = defaultMaxAttempts
	cfg.Poll.InitialDelayMS = defaultInitialDelay
	cfg.Poll.GrowthFactor = defaultGrowthFactor
	cfg.Poll.MaxDelayMS = defaultMaxDelay

	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.Audio.FrameMS = 20
	cfg.Audio.MaxRecordSec = 120

	cfg.VAD.Enabled = false
	cfg.VAD.SilenceMS = 1500
	cfg.VAD.Aggressiveness = 2
	cfg.VAD.MinSpeechMS = 300

	cfg.Hook.Enabled = false
	cfg.Hook.Prefix = ""
	cfg.Hook.TimeoutSec = 5
	cfg.Hook.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "scribe.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "scribe.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "scribe.pid")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults. A missing file is created
// from the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// RemoteTimeout returns the per-request HTTP timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSec * float64(time.Second))
}

// MaxRecording returns the hard cap on a single capture.
func (c *Config) MaxRecording() time.Duration {
	return time.Duration(c.Audio.MaxRecordSec) * time.Second
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath), filepath.Dir(cfg.Paths.SocketPath)} {
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCRIBE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("SCRIBE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Poll.MaxAttempts = n
		}
	}
	if v := os.Getenv("SCRIBE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCRIBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SCRIBE_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = envBool(v)
	}
	if v := os.Getenv("SCRIBE_REDACT_PII"); v != "" {
		cfg.Hook.RedactPII = envBool(v)
	}
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}
