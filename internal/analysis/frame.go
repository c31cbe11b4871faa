// Package analysis implements the per-frame feature extraction pipeline:
// spectral features, onset-based tempo tracking, mood/genre classification
// and the metrics history consumed by renderers and exporters.
package analysis

// FrequencyFrame holds magnitudes normalized to 0..1, one per linearly spaced
// bin from 0 Hz to sampleRate/2.
type FrequencyFrame []float64

// TimeFrame holds waveform samples normalized to -1..1.
type TimeFrame []float64

// FrameSource supplies the frames for the current audio instant.
// It mirrors a Web Audio AnalyserNode: fixed transform size, known sample rate.
type FrameSource interface {
	SampleRate() int
	FrequencyFrame() FrequencyFrame
	TimeFrame() TimeFrame
}

// FrequencyFromBytes converts getByteFrequencyData-style values (0-255)
func FrequencyFromBytes(data []uint8) FrequencyFrame {
	frame := make(FrequencyFrame, len(data))
	for i, v := range data {
		frame[i] = float64(v) / 255
	}
	return frame
}

// TimeFromBytes converts getByteTimeDomainData-style values (128 = silence)
func TimeFromBytes(data []uint8) TimeFrame {
	frame := make(TimeFrame, len(data))
	for i, v := range data {
		frame[i] = (float64(v) - 128) / 128
	}
	return frame
}

// binFrequency returns the center frequency of bin i in a frame of n bins
func binFrequency(i, n, sampleRate int) float64 {
	if n == 0 {
		return 0
	}
	return float64(i) * float64(sampleRate) / float64(2*n)
}

// Clone returns a copy that outlives the current tick
func (f FrequencyFrame) Clone() FrequencyFrame {
	if f == nil {
		return nil
	}
	out := make(FrequencyFrame, len(f))
	copy(out, f)
	return out
}
