package analysis

import (
	"math"
	"sync"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	// FFT size for whole-file analysis
	batchFFTSize = 2048
	// Analysis hop size (samples)
	batchHopSize = 1024
	// Sample rate the decoder produces
	batchSampleRate = 44100

	// Band boundaries (Hz)
	lowBandMaxHz  = 250.0
	midBandMaxHz  = 4000.0
	highBandMaxHz = 20000.0

	// A hop is a beat when its energy exceeds the running average by this factor
	beatEnergyRatio = 1.35
	// Running average smoothing per hop
	beatAverageDecay = 0.95
	// Minimum spacing between counted beats
	beatRefractorySec = 0.16
)

// BatchFeatures summarizes a whole buffer
type BatchFeatures struct {
	LowRatio    float64 `json:"low"`
	MidRatio    float64 `json:"mid"`
	HighRatio   float64 `json:"high"`
	Beats       int     `json:"beats"`
	DurationSec float64 `json:"duration"`
	TempoBPM    float64 `json:"tempo"`
	Frames      int     `json:"frames"`
}

// Vector converts the summary into classifier input
func (f BatchFeatures) Vector() FeatureVector {
	return FeatureVector{
		Bass:     f.LowRatio,
		Mid:      f.MidRatio,
		High:     f.HighRatio,
		TempoBPM: f.TempoBPM,
	}
}

// BatchAnalyzer extracts band ratios and a beat-count tempo from complete audio
type BatchAnalyzer struct {
	mu sync.Mutex

	fft        *fourier.FFT
	window     []float64
	sampleRate int
}

// NewBatchAnalyzer creates an analyzer for mono samples at sampleRate
func NewBatchAnalyzer(sampleRate int) *BatchAnalyzer {
	if sampleRate <= 0 {
		sampleRate = batchSampleRate
	}
	return &BatchAnalyzer{
		fft:        fourier.NewFFT(batchFFTSize),
		window:     window.Hann(batchFFTSize),
		sampleRate: sampleRate,
	}
}

// SampleRate returns the rate samples are interpreted at
func (a *BatchAnalyzer) SampleRate() int {
	return a.sampleRate
}

// ProcessAudio analyzes mono float samples in [-1, 1]
func (a *BatchAnalyzer) ProcessAudio(samples []float64) BatchFeatures {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := BatchFeatures{
		DurationSec: float64(len(samples)) / float64(a.sampleRate),
	}

	numFrames := (len(samples)-batchFFTSize)/batchHopSize + 1
	if len(samples) < batchFFTSize {
		return out
	}

	var low, mid, high, total float64
	windowed := make([]float64, batchFFTSize)
	spectrum := make([]float64, batchFFTSize/2)
	var coeffs []complex128

	hopSec := float64(batchHopSize) / float64(a.sampleRate)
	var avgEnergy float64
	lastBeat := math.Inf(-1)

	for i := 0; i < numFrames; i++ {
		frame := samples[i*batchHopSize : i*batchHopSize+batchFFTSize]

		floats.MulTo(windowed, frame, a.window)
		coeffs = a.fft.Coefficients(coeffs, windowed)
		for j := range spectrum {
			re, im := real(coeffs[j]), imag(coeffs[j])
			spectrum[j] = math.Sqrt(re*re + im*im)
		}

		l, m, h := a.bandEnergies(spectrum)
		low += l
		mid += m
		high += h
		total += l + m + h

		// Beat counting on the hop's time-domain energy
		energy := floats.Dot(frame[:batchHopSize], frame[:batchHopSize]) / batchHopSize
		now := float64(i) * hopSec
		if i > 0 && avgEnergy > 0 && energy > avgEnergy*beatEnergyRatio && now-lastBeat >= beatRefractorySec {
			out.Beats++
			lastBeat = now
		}
		if i == 0 {
			avgEnergy = energy
		} else {
			avgEnergy = avgEnergy*beatAverageDecay + energy*(1-beatAverageDecay)
		}

		out.Frames++
	}

	if total > 0 {
		out.LowRatio = low / total
		out.MidRatio = mid / total
		out.HighRatio = high / total
	}
	if out.DurationSec > 0 {
		out.TempoBPM = math.Round(float64(out.Beats) / out.DurationSec * 60)
	}
	return out
}

// ProcessPCM analyzes interleaved 16-bit little-endian PCM
func (a *BatchAnalyzer) ProcessPCM(data []byte, channels int) BatchFeatures {
	return a.ProcessAudio(pcmToMono(data, channels))
}

// bandEnergies sums squared magnitudes per band
func (a *BatchAnalyzer) bandEnergies(spectrum []float64) (low, mid, high float64) {
	freqPerBin := float64(a.sampleRate) / float64(batchFFTSize)
	for i, mag := range spectrum {
		freq := float64(i) * freqPerBin
		energy := mag * mag
		switch {
		case freq < lowBandMaxHz:
			low += energy
		case freq < midBandMaxHz:
			mid += energy
		case freq < highBandMaxHz:
			high += energy
		}
	}
	return low, mid, high
}

// pcmToMono downmixes interleaved s16le PCM to mono float64
func pcmToMono(data []byte, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	const bytesPerSample = 2
	numSamples := len(data) / (bytesPerSample * channels)

	samples := make([]float64, numSamples)
	for i := 0; i < numSamples; i++ {
		offset := i * bytesPerSample * channels
		var sum float64
		for ch := 0; ch < channels; ch++ {
			o := offset + ch*bytesPerSample
			sample := int16(uint16(data[o]) | uint16(data[o+1])<<8)
			sum += float64(sample) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return samples
}
