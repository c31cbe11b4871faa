package audio

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// Samples generated per synth step
	synthChunk = 512
	// Kick drum: decaying low sine
	kickFreq  = 60.0
	kickDecay = 18.0
	kickAmp   = 0.9
)

type oscillator struct {
	freq    float64
	amp     float64
	ampMod  float64
	ampModF float64
}

// Synth is a demo source: a bank of slowly modulated oscillators over a kick
// drum at a fixed tempo. It needs no audio hardware.
type Synth struct {
	mu sync.Mutex

	sampleRate float64
	bpm        float64
	t          float64
	oscs       []oscillator
	rng        *rand.Rand

	analyzer *Analyzer
}

// NewSynth creates a synth writing into analyzer with a kick at bpm
func NewSynth(bpm float64, analyzer *Analyzer) *Synth {
	if bpm <= 0 {
		bpm = 120
	}
	return &Synth{
		sampleRate: float64(analyzer.SampleRate()),
		bpm:        bpm,
		rng:        rand.New(rand.NewSource(1)),
		analyzer:   analyzer,
		oscs: []oscillator{
			{freq: 220, amp: 0.25, ampMod: 0.6, ampModF: 1.7},
			{freq: 440, amp: 0.3, ampMod: 0.8, ampModF: 0.8},
			{freq: 554, amp: 0.2, ampMod: 0.7, ampModF: 1.2},
			{freq: 660, amp: 0.2, ampMod: 0.75, ampModF: 0.6},
			{freq: 1200, amp: 0.1, ampMod: 0.5, ampModF: 2.5},
			{freq: 2400, amp: 0.06, ampMod: 0.5, ampModF: 1.8},
			{freq: 5000, amp: 0.03, ampMod: 0.3, ampModF: 4.0},
		},
	}
}

// BPM returns the kick tempo
func (s *Synth) BPM() float64 {
	return s.bpm
}

// Generate renders the next n samples
func (s *Synth) Generate(n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]float64, n)
	dt := 1 / s.sampleRate
	beat := 60 / s.bpm

	for i := range out {
		t := s.t + float64(i)*dt

		var sample float64
		for _, o := range s.oscs {
			amp := o.amp * (1 - o.ampMod + o.ampMod*math.Abs(math.Sin(2*math.Pi*o.ampModF*t)))
			sample += amp * math.Sin(2*math.Pi*o.freq*t)
		}

		sinceBeat := math.Mod(t, beat)
		sample += kickAmp * math.Exp(-kickDecay*sinceBeat) * math.Sin(2*math.Pi*kickFreq*sinceBeat)

		sample += (s.rng.Float64()*2 - 1) * 0.01
		out[i] = sample * 0.3
	}

	s.t += float64(n) * dt
	return out
}

// Run feeds the analyzer in real time until ctx is cancelled
func (s *Synth) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(float64(synthChunk) / s.sampleRate * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.analyzer.WriteMono(s.Generate(synthChunk))
		}
	}
}
