package audio

import (
	"math"
	"sync"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
)

const (
	// DefaultFFTSize matches the Web Audio AnalyserNode default
	DefaultFFTSize = 2048
	// DefaultSmoothing is the AnalyserNode smoothingTimeConstant default
	DefaultSmoothing = 0.8
	// Decibel range mapped onto 0..255
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// AnalyzerConfig configures an Analyzer. Zero sizes take defaults; a
// Smoothing of 0 disables smoothing.
type AnalyzerConfig struct {
	SampleRate  int
	Channels    int
	FFTSize     int     // power of two
	Smoothing   float64 // 0 <= s < 1
	MinDecibels float64
	MaxDecibels float64
}

// Analyzer keeps the most recent fftSize samples and produces frames the way
// an AnalyserNode does: Blackman window, magnitude / N, temporal smoothing,
// dB mapping onto a byte range. It implements analysis.FrameSource.
type Analyzer struct {
	mu sync.Mutex

	fft    *fourier.FFT
	window []float64

	// Circular buffer of mono samples
	samples    []float64
	writeIndex int
	written    int

	// Smoothed magnitudes from the previous frequency read
	smoothed []float64

	// Scratch buffers reused between reads
	windowed []float64
	coeffs   []complex128

	sampleRate  int
	channels    int
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.FFTSize <= 0 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = DefaultFFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MinDecibels >= cfg.MaxDecibels {
		cfg.MinDecibels = DefaultMinDecibels
		cfg.MaxDecibels = DefaultMaxDecibels
	}

	return &Analyzer{
		fft:         fourier.NewFFT(cfg.FFTSize),
		window:      window.Blackman(cfg.FFTSize),
		samples:     make([]float64, cfg.FFTSize),
		smoothed:    make([]float64, cfg.FFTSize/2),
		windowed:    make([]float64, cfg.FFTSize),
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		fftSize:     cfg.FFTSize,
		smoothing:   cfg.Smoothing,
		minDecibels: cfg.MinDecibels,
		maxDecibels: cfg.MaxDecibels,
	}
}

// ProcessSamples mixes interleaved 16-bit PCM down to mono and buffers it
func (a *Analyzer) ProcessSamples(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frameBytes := 2 * a.channels
	for i := 0; i+frameBytes <= len(data); i += frameBytes {
		var sum float64
		for ch := 0; ch < a.channels; ch++ {
			offset := i + ch*2
			sample := int16(uint16(data[offset]) | uint16(data[offset+1])<<8)
			sum += float64(sample) / 32768.0
		}
		a.push(sum / float64(a.channels))
	}
}

// WriteMono buffers mono samples in -1..1
func (a *Analyzer) WriteMono(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.push(s)
	}
}

func (a *Analyzer) push(s float64) {
	a.samples[a.writeIndex] = s
	a.writeIndex = (a.writeIndex + 1) % a.fftSize
	if a.written < a.fftSize {
		a.written++
	}
}

// SampleRate returns the rate of the buffered audio
func (a *Analyzer) SampleRate() int {
	return a.sampleRate
}

// FFTSize returns the transform size; frequency frames hold FFTSize/2 bins
func (a *Analyzer) FFTSize() int {
	return a.fftSize
}

// FrequencyFrame transforms the buffered window. Each call advances the
// smoothing state, so it should be read once per tick.
func (a *Analyzer) FrequencyFrame() analysis.FrequencyFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.fftSize; i++ {
		a.windowed[i] = a.samples[(a.writeIndex+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)

	frame := make(analysis.FrequencyFrame, a.fftSize/2)
	scale := 255 / (a.maxDecibels - a.minDecibels)
	for k := range frame {
		re, im := real(a.coeffs[k]), imag(a.coeffs[k])
		mag := math.Sqrt(re*re+im*im) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		if a.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - a.minDecibels))
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		frame[k] = v / 255
	}
	return frame
}

// TimeFrame returns the buffered window, oldest sample first
func (a *Analyzer) TimeFrame() analysis.TimeFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make(analysis.TimeFrame, a.fftSize)
	for i := range frame {
		s := a.samples[(a.writeIndex+i)%a.fftSize]
		frame[i] = math.Max(-1, math.Min(1, s))
	}
	return frame
}

// IsReady returns true once a full window has been buffered
func (a *Analyzer) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written >= a.fftSize
}

// Reset clears buffered audio and smoothing state
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writeIndex = 0
	a.written = 0
	for i := range a.samples {
		a.samples[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

var _ analysis.FrameSource = (*Analyzer)(nil)
