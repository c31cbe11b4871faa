package main

import (
	"testing"
	"time"

	"github.com/austinkregel/local-media/vizd/internal/config"
)

func TestThrottle(t *testing.T) {
	th := &throttle{interval: 100 * time.Millisecond}
	start := time.Unix(0, 0)

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{99 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{150 * time.Millisecond, false},
		{250 * time.Millisecond, true},
	}
	for _, tt := range tests {
		if got := th.allow(start.Add(tt.offset)); got != tt.want {
			t.Errorf("allow(+%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestSessionOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.Classifier = "batch"
	cfg.Analysis.OnsetWindowMs = 8000
	cfg.Analysis.MinOnsetIntervalMs = 150

	opts := sessionOptions(cfg)
	if opts.Beat.Window != 8*time.Second {
		t.Errorf("Expected 8s window, got %v", opts.Beat.Window)
	}
	if opts.Beat.MinInterval != 150*time.Millisecond {
		t.Errorf("Expected 150ms refractory, got %v", opts.Beat.MinInterval)
	}
	if opts.Beat.Threshold != 0.3 || opts.ChromaThreshold != 0.1 {
		t.Errorf("Expected default thresholds, got %v/%v", opts.Beat.Threshold, opts.ChromaThreshold)
	}
	if opts.Classifier.Name() != "batch" {
		t.Errorf("Expected batch classifier, got %s", opts.Classifier.Name())
	}
	if opts.HistoryCapacity != 100 || opts.ExportLimit != 50 {
		t.Errorf("Unexpected history options %+v", opts)
	}
}

func TestAnalyzerConfigFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	ac := analyzerConfig(cfg, 2)
	if ac.Channels != 2 || ac.FFTSize != 2048 || ac.SampleRate != 44100 {
		t.Errorf("Unexpected analyzer config %+v", ac)
	}
	if ac.MinDecibels != -100 || ac.MaxDecibels != -30 || ac.Smoothing != 0.8 {
		t.Errorf("Unexpected analyzer range %+v", ac)
	}
}
