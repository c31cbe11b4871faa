package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("Expected config.json to be created: %v", err)
	}

	cfg := m.Get()
	if cfg.Analysis.FPS != 60 || cfg.Analysis.HistoryCapacity != 100 || cfg.Analysis.ExportLimit != 50 {
		t.Errorf("Unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.DataDir != dir {
		t.Errorf("Expected data dir %s, got %s", dir, cfg.DataDir)
	}
}

func TestLoadJSONKeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"analysis":{"fps":30,"classifier":"batch"},"audio":{"source":"demo"}}`)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Analysis.FPS != 30 {
		t.Errorf("Expected fps 30, got %d", cfg.Analysis.FPS)
	}
	if cfg.Analysis.Classifier != "batch" {
		t.Errorf("Expected batch classifier, got %s", cfg.Analysis.Classifier)
	}
	if cfg.Audio.Source != "demo" {
		t.Errorf("Expected demo source, got %s", cfg.Audio.Source)
	}
	if cfg.Analysis.OnsetThreshold != 0.3 {
		t.Errorf("Expected default onset threshold, got %v", cfg.Analysis.OnsetThreshold)
	}
}

func TestLoadYAMLTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlData := []byte("analysis:\n  fps: 24\n  onsetThreshold: 0.5\naudio:\n  fftSize: 4096\nbus:\n  enabled: false\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yamlData, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"analysis":{"fps":99}}`), 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Analysis.FPS != 24 || cfg.Analysis.OnsetThreshold != 0.5 {
		t.Errorf("Expected yaml values, got %+v", cfg.Analysis)
	}
	if cfg.Audio.FFTSize != 4096 {
		t.Errorf("Expected fft size 4096, got %d", cfg.Audio.FFTSize)
	}
	if cfg.Bus.Enabled {
		t.Error("Expected bus disabled")
	}
	if filepath.Base(m.GetPath()) != "config.yaml" {
		t.Errorf("Expected yaml path, got %s", m.GetPath())
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := NewManager(dir).Load(); err == nil {
		t.Error("Expected parse error")
	}
}

func TestNormalize(t *testing.T) {
	cfg := &Config{
		Analysis: AnalysisConfig{FPS: -1, MinOnsetIntervalMs: -5},
		Audio:    AudioConfig{FFTSize: 1000, Smoothing: 1.5, MinDecibels: -10, MaxDecibels: -20, Source: " Capture "},
	}
	cfg.Normalize()

	if cfg.Analysis.FPS != 60 {
		t.Errorf("Expected fps 60, got %d", cfg.Analysis.FPS)
	}
	if cfg.Analysis.MinOnsetIntervalMs != 0 {
		t.Errorf("Expected min interval 0, got %d", cfg.Analysis.MinOnsetIntervalMs)
	}
	if cfg.Audio.FFTSize != 2048 {
		t.Errorf("Expected fft size 2048, got %d", cfg.Audio.FFTSize)
	}
	if cfg.Audio.Smoothing != 0.8 {
		t.Errorf("Expected smoothing 0.8, got %v", cfg.Audio.Smoothing)
	}
	if cfg.Audio.MinDecibels != -100 || cfg.Audio.MaxDecibels != -30 {
		t.Errorf("Expected default decibel range, got %v..%v", cfg.Audio.MinDecibels, cfg.Audio.MaxDecibels)
	}
	if cfg.Audio.Source != "capture" {
		t.Errorf("Expected source capture, got %q", cfg.Audio.Source)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{EnvSource: "Demo"}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Audio.Source != "demo" {
		t.Errorf("Expected demo source from env, got %s", cfg.Audio.Source)
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/vizd"
	if got := cfg.StorePath(); got != "/var/lib/vizd/vizd.db" {
		t.Errorf("Expected joined path, got %s", got)
	}

	cfg.Store.Path = "/tmp/other.db"
	if got := cfg.StorePath(); got != "/tmp/other.db" {
		t.Errorf("Expected absolute path kept, got %s", got)
	}
}

func TestUpdateSaves(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	cfg := m.Get()
	cfg.Analysis.FPS = 45
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	var saved Config
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Analysis.FPS != 45 {
		t.Errorf("Expected saved fps 45, got %d", saved.Analysis.FPS)
	}
}
