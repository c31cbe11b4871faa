// Package config handles daemon configuration file management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvSource    = "VIZD_SOURCE"
	EnvConfigDir = "VIZD_CONFIG_DIR"
	EnvSocket    = "VIZD_SOCKET"
)

// Config represents the daemon configuration
type Config struct {
	// DataDir is where the store and other data files live
	DataDir string `json:"dataDir" yaml:"dataDir"`

	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
	Audio    AudioConfig    `json:"audio" yaml:"audio"`
	Bus      BusConfig      `json:"bus" yaml:"bus"`
	Store    StoreConfig    `json:"store" yaml:"store"`
}

// AnalysisConfig tunes the per-tick pipeline
type AnalysisConfig struct {
	// FPS is the tick rate of the analysis loop (default: 60)
	FPS int `json:"fps" yaml:"fps"`

	// HistoryCapacity is how many ticks are kept (default: 100)
	HistoryCapacity int `json:"historyCapacity" yaml:"historyCapacity"`

	// ExportLimit is how many history entries an export carries (default: 50)
	ExportLimit int `json:"exportLimit" yaml:"exportLimit"`

	OnsetThreshold     float64 `json:"onsetThreshold" yaml:"onsetThreshold"`
	ChromaThreshold    float64 `json:"chromaThreshold" yaml:"chromaThreshold"`
	OnsetWindowMs      int     `json:"onsetWindowMs" yaml:"onsetWindowMs"`
	OnsetCapacity      int     `json:"onsetCapacity" yaml:"onsetCapacity"`
	MinOnsetIntervalMs int     `json:"minOnsetIntervalMs" yaml:"minOnsetIntervalMs"`

	// Classifier is "live" (mood) or "batch" (genre)
	Classifier string `json:"classifier" yaml:"classifier"`

	// PushHz caps how often metrics are pushed to subscribers (default: 10)
	PushHz int `json:"pushHz" yaml:"pushHz"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for output and capture (default: 44100)
	SampleRate int `json:"sampleRate" yaml:"sampleRate"`

	// FFTSize of the analyzer, a power of two (default: 2048)
	FFTSize int `json:"fftSize" yaml:"fftSize"`

	Smoothing   float64 `json:"smoothing" yaml:"smoothing"`
	MinDecibels float64 `json:"minDecibels" yaml:"minDecibels"`
	MaxDecibels float64 `json:"maxDecibels" yaml:"maxDecibels"`

	// Source is "playback", "capture" or "demo"
	Source string `json:"source" yaml:"source"`

	// CaptureDevice is a PulseAudio source; empty uses the default sink monitor
	CaptureDevice string `json:"captureDevice" yaml:"captureDevice"`

	// DemoBPM is the kick tempo of the demo source
	DemoBPM float64 `json:"demoBpm" yaml:"demoBpm"`
}

// BusConfig controls the D-Bus metrics publisher
type BusConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StoreConfig controls the SQLite store
type StoreConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path of the database; relative paths resolve against DataDir
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			FPS:                60,
			HistoryCapacity:    100,
			ExportLimit:        50,
			OnsetThreshold:     0.3,
			ChromaThreshold:    0.1,
			OnsetWindowMs:      10000,
			OnsetCapacity:      1024,
			MinOnsetIntervalMs: 0,
			Classifier:         "live",
			PushHz:             10,
		},
		Audio: AudioConfig{
			SampleRate:  44100,
			FFTSize:     2048,
			Smoothing:   0.8,
			MinDecibels: -100,
			MaxDecibels: -30,
			Source:      "playback",
			DemoBPM:     120,
		},
		Bus: BusConfig{
			Enabled: true,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "vizd.db",
		},
	}
}

// Normalize replaces out-of-range values with defaults
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Analysis.FPS <= 0 || c.Analysis.FPS > 240 {
		c.Analysis.FPS = d.Analysis.FPS
	}
	if c.Analysis.HistoryCapacity <= 0 {
		c.Analysis.HistoryCapacity = d.Analysis.HistoryCapacity
	}
	if c.Analysis.ExportLimit <= 0 {
		c.Analysis.ExportLimit = d.Analysis.ExportLimit
	}
	if c.Analysis.OnsetThreshold <= 0 {
		c.Analysis.OnsetThreshold = d.Analysis.OnsetThreshold
	}
	if c.Analysis.ChromaThreshold <= 0 {
		c.Analysis.ChromaThreshold = d.Analysis.ChromaThreshold
	}
	if c.Analysis.OnsetWindowMs <= 0 {
		c.Analysis.OnsetWindowMs = d.Analysis.OnsetWindowMs
	}
	if c.Analysis.OnsetCapacity <= 0 {
		c.Analysis.OnsetCapacity = d.Analysis.OnsetCapacity
	}
	if c.Analysis.MinOnsetIntervalMs < 0 {
		c.Analysis.MinOnsetIntervalMs = 0
	}
	if c.Analysis.PushHz <= 0 {
		c.Analysis.PushHz = d.Analysis.PushHz
	}

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	if c.Audio.FFTSize < 32 || c.Audio.FFTSize&(c.Audio.FFTSize-1) != 0 {
		c.Audio.FFTSize = d.Audio.FFTSize
	}
	if c.Audio.Smoothing < 0 || c.Audio.Smoothing >= 1 {
		c.Audio.Smoothing = d.Audio.Smoothing
	}
	if c.Audio.MinDecibels >= c.Audio.MaxDecibels {
		c.Audio.MinDecibels = d.Audio.MinDecibels
		c.Audio.MaxDecibels = d.Audio.MaxDecibels
	}
	if c.Audio.DemoBPM <= 0 {
		c.Audio.DemoBPM = d.Audio.DemoBPM
	}
	c.Audio.Source = strings.ToLower(strings.TrimSpace(c.Audio.Source))
	if c.Audio.Source == "" {
		c.Audio.Source = d.Audio.Source
	}

	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
}

// StorePath returns the absolute database path
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) || c.DataDir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, c.Store.Path)
}

// ApplyEnv applies environment overrides using getenv
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvSource); v != "" {
		c.Audio.Source = strings.ToLower(strings.TrimSpace(v))
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk. A config.yaml or config.yml takes
// precedence over config.json; with neither, a default config.json is written.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	for _, name := range []string{"config.yaml", "config.yml"} {
		p := filepath.Join(m.configDir, name)
		if _, err := os.Stat(p); err == nil {
			m.configPath = p
			break
		}
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = DefaultConfig()
		m.config.DataDir = m.configDir
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if m.isYAML() {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if config.DataDir == "" {
		config.DataDir = m.configDir
	}
	config.Normalize()

	m.config = config
	return nil
}

func (m *Manager) isYAML() bool {
	ext := filepath.Ext(m.configPath)
	return ext == ".yaml" || ext == ".yml"
}

// Save writes the configuration to disk in the format it was loaded from
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if m.isYAML() {
		data, err = yaml.Marshal(m.config)
	} else {
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update updates the configuration and saves it
func (m *Manager) Update(config *Config) error {
	config.Normalize()
	m.config = config
	return m.Save()
}
