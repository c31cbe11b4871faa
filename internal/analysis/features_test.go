package analysis

import (
	"math"
	"testing"
)

const testSampleRate = 44100

// frameWithBins returns a 1024-bin frame with the given bins set
func frameWithBins(values map[int]float64) FrequencyFrame {
	f := make(FrequencyFrame, 1024)
	for i, v := range values {
		f[i] = v
	}
	return f
}

func TestExtractSilence(t *testing.T) {
	e := NewExtractor(0)
	f := e.Extract(make(FrequencyFrame, 1024), make(TimeFrame, 2048), testSampleRate)

	if f.CentroidHz != 0 {
		t.Errorf("Expected centroid 0, got %v", f.CentroidHz)
	}
	if f.Brightness != 0 {
		t.Errorf("Expected brightness 0, got %v", f.Brightness)
	}
	if f.RMSPercent != 0 {
		t.Errorf("Expected rms 0, got %v", f.RMSPercent)
	}
	if f.ZCRPercent != 0 {
		t.Errorf("Expected zcr 0, got %v", f.ZCRPercent)
	}
	if f.RolloffHz != 0 {
		t.Errorf("Expected rolloff 0, got %v", f.RolloffHz)
	}
	if f.Key != "C" {
		t.Errorf("Expected default key C, got %s", f.Key)
	}
}

func TestSpectralCentroidScaleInvariant(t *testing.T) {
	a := frameWithBins(map[int]float64{10: 0.2, 40: 0.5, 200: 0.1})
	b := frameWithBins(map[int]float64{10: 0.4, 40: 1.0, 200: 0.2})

	ca := SpectralCentroid(a, testSampleRate)
	cb := SpectralCentroid(b, testSampleRate)
	if math.Abs(ca-cb) > 1e-9 {
		t.Errorf("Centroid changed with scale: %v vs %v", ca, cb)
	}
	if ca <= 0 {
		t.Errorf("Expected positive centroid, got %v", ca)
	}
}

func TestSpectralCentroidSingleBin(t *testing.T) {
	f := frameWithBins(map[int]float64{100: 1})
	want := binFrequency(100, 1024, testSampleRate)
	if got := SpectralCentroid(f, testSampleRate); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected centroid %v, got %v", want, got)
	}
}

func TestBrightness(t *testing.T) {
	tests := []struct {
		centroid float64
		want     float64
	}{
		{0, 0},
		{2000, 50},
		{4000, 100},
		{9000, 100},
		{1000, 25},
	}
	for _, tt := range tests {
		if got := Brightness(tt.centroid); got != tt.want {
			t.Errorf("Brightness(%v) = %v, want %v", tt.centroid, got, tt.want)
		}
	}
}

func TestRMSEnergy(t *testing.T) {
	half := make(TimeFrame, 512)
	for i := range half {
		half[i] = 0.5
	}
	if got := RMSEnergy(half); got != 50 {
		t.Errorf("Expected rms 50, got %v", got)
	}

	if got := RMSEnergy(nil); got != 0 {
		t.Errorf("Expected rms 0 for empty frame, got %v", got)
	}

	full := TimeFrame{1, -1, 1, -1}
	if got := RMSEnergy(full); got != 100 {
		t.Errorf("Expected rms 100, got %v", got)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name string
		data TimeFrame
		want float64
	}{
		{"alternating", TimeFrame{0.5, -0.5, 0.5, -0.5, 0.5, -0.5}, 100},
		{"constant", TimeFrame{0.2, 0.2, 0.2, 0.2}, 0},
		{"single", TimeFrame{0.5}, 0},
		{"one crossing", TimeFrame{0.1, 0.1, -0.1, -0.1, -0.1}, 25},
		{"zero is positive", TimeFrame{0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ZeroCrossingRate(tt.data); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSpectralRolloff(t *testing.T) {
	f := frameWithBins(map[int]float64{10: 0.5, 20: 0.4, 300: 0.1})
	hz, ok := SpectralRolloff(f, testSampleRate, 0.85)
	if !ok {
		t.Fatal("Expected rolloff for non-silent frame")
	}
	if want := binFrequency(20, 1024, testSampleRate); hz != want {
		t.Errorf("Expected rolloff %v, got %v", want, hz)
	}

	if _, ok := SpectralRolloff(make(FrequencyFrame, 1024), testSampleRate, 0.85); ok {
		t.Error("Expected no rolloff for silent frame")
	}
}

func TestRolloffRetainedOnSilence(t *testing.T) {
	e := NewExtractor(0)
	loud := frameWithBins(map[int]float64{50: 1})
	first := e.Extract(loud, nil, testSampleRate)
	if first.RolloffHz == 0 {
		t.Fatal("Expected non-zero rolloff")
	}

	quiet := e.Extract(make(FrequencyFrame, 1024), nil, testSampleRate)
	if quiet.RolloffHz != first.RolloffHz {
		t.Errorf("Expected rolloff %v kept, got %v", first.RolloffHz, quiet.RolloffHz)
	}
}

func TestKeyFromReferencePitch(t *testing.T) {
	e := NewExtractor(0)

	// Bin 20 is ~430 Hz which folds onto class 0, labelled C
	f := e.Extract(frameWithBins(map[int]float64{20: 1}), nil, testSampleRate)
	if f.Key != "C" {
		t.Errorf("Expected key C, got %s", f.Key)
	}

	// Bin 24 is ~517 Hz, three semitones above the reference
	f = e.Extract(frameWithBins(map[int]float64{24: 1}), nil, testSampleRate)
	if f.Key != "D#" {
		t.Errorf("Expected key D#, got %s", f.Key)
	}
}

func TestKeyHeldBelowThreshold(t *testing.T) {
	e := NewExtractor(0)
	e.Extract(frameWithBins(map[int]float64{24: 1}), nil, testSampleRate)

	// Weak chroma does not move the key
	f := e.Extract(frameWithBins(map[int]float64{20: 0.05}), nil, testSampleRate)
	if f.Key != "D#" {
		t.Errorf("Expected key D# to be held, got %s", f.Key)
	}

	e.Reset()
	f = e.Extract(make(FrequencyFrame, 1024), nil, testSampleRate)
	if f.Key != "C" {
		t.Errorf("Expected key C after reset, got %s", f.Key)
	}
}

func TestChromaIgnoresOutOfRange(t *testing.T) {
	// Bin 1 (~21 Hz) and bin 200 (~4.3 kHz) are outside 80-2000 Hz
	c := Chroma(frameWithBins(map[int]float64{0: 1, 1: 1, 200: 1}), testSampleRate)
	for i, v := range c {
		if v != 0 {
			t.Errorf("Expected empty chroma, class %d = %v", i, v)
		}
	}
}

func TestDominantPitchClassTies(t *testing.T) {
	var c [12]float64
	c[4] = 0.5
	c[7] = 0.5
	idx, ok := DominantPitchClass(c, 0.1)
	if !ok || idx != 4 {
		t.Errorf("Expected lowest index 4, got %d (ok=%v)", idx, ok)
	}

	var weak [12]float64
	weak[3] = 0.1
	if _, ok := DominantPitchClass(weak, 0.1); ok {
		t.Error("Expected no class at exactly the threshold")
	}
}

func TestPitchClassName(t *testing.T) {
	tests := map[int]string{0: "C", 3: "D#", 9: "A", 11: "B", -1: "B", 12: "C"}
	for pc, want := range tests {
		if got := PitchClassName(pc); got != want {
			t.Errorf("PitchClassName(%d) = %s, want %s", pc, got, want)
		}
	}
}

func TestFrameConversions(t *testing.T) {
	freq := FrequencyFromBytes([]byte{0, 255, 51})
	if freq[0] != 0 || freq[1] != 1 || math.Abs(freq[2]-0.2) > 1e-9 {
		t.Errorf("Unexpected frequency conversion: %v", freq)
	}

	td := TimeFromBytes([]byte{128, 0, 255})
	if td[0] != 0 || td[1] != -1 || math.Abs(td[2]-127.0/128.0) > 1e-9 {
		t.Errorf("Unexpected time conversion: %v", td)
	}
}
