package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AudioConfig configures the internal synthesizer and source discovery.
type AudioConfig struct {
	SampleRate    int     `json:"sampleRate,omitempty"`
	Gain          float64 `json:"gain,omitempty"`
	SoundfontDir  string  `json:"soundfontDir,omitempty"`
	PreferredPort string  `json:"preferredPort,omitempty"`
}

// RoutingConfig configures the fan-out destinations.
type RoutingConfig struct {
	Primary               string   `json:"primary,omitempty"`
	Secondaries           []string `json:"secondaries,omitempty"`
	EnableInternalAudio   bool     `json:"enableInternalAudio"`
	EnableExternalRouting bool     `json:"enableExternalRouting"`
}

// PlaybackConfig stores playback preferences.
type PlaybackConfig struct {
	Tempo        float64 `json:"tempo,omitempty"`
	TicksPerBeat int     `json:"ticksPerBeat,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Audio    AudioConfig    `json:"audio,omitempty"`
	Routing  RoutingConfig  `json:"routing,omitempty"`
	Playback PlaybackConfig `json:"playback,omitempty"`
	Log      LogConfig      `json:"log,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Audio: AudioConfig{
			SampleRate:   44100,
			Gain:         0.4,
			SoundfontDir: filepath.Join(home, ".local", "share", "go-roll", "soundfonts"),
		},
		Routing: RoutingConfig{
			Primary:             "internal",
			EnableInternalAudio: true,
		},
		Playback: PlaybackConfig{
			Tempo:        120,
			TicksPerBeat: 480,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-roll"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found.
// Fields absent from the file keep their defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
