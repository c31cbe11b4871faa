package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/austinkregel/local-media/vizd/internal/types"
)

const (
	// Brightness is the centroid relative to this reference, capped at 100%
	brightnessReferenceHz = 4000.0
	// Fraction of total magnitude below the rolloff frequency
	rolloffFraction = 0.85
	// Musically meaningful range folded into the chroma vector (exclusive)
	chromaMinHz = 80.0
	chromaMaxHz = 2000.0

	// DefaultChromaThreshold is the minimum accumulated magnitude for a key change
	DefaultChromaThreshold = 0.1
)

// Features contains the instantaneous values extracted from one tick
type Features struct {
	CentroidHz float64
	Brightness float64
	RMSPercent float64
	ZCRPercent float64
	RolloffHz  float64
	Key        string
}

// Extractor computes per-frame features. The computations are pure; the
// extractor only remembers the last accepted key and rolloff so that silence
// keeps the previous values instead of flickering.
type Extractor struct {
	chromaThreshold float64

	key       string
	rolloffHz float64
}

// NewExtractor creates an extractor with the given chroma confidence threshold
func NewExtractor(chromaThreshold float64) *Extractor {
	if chromaThreshold <= 0 {
		chromaThreshold = DefaultChromaThreshold
	}
	return &Extractor{
		chromaThreshold: chromaThreshold,
		key:             types.DefaultKey,
	}
}

// Extract computes all features for one frame pair
func (e *Extractor) Extract(freq FrequencyFrame, timeData TimeFrame, sampleRate int) Features {
	centroid := math.Round(SpectralCentroid(freq, sampleRate))

	if rolloff, ok := SpectralRolloff(freq, sampleRate, rolloffFraction); ok {
		e.rolloffHz = math.Round(rolloff)
	}

	if idx, ok := DominantPitchClass(Chroma(freq, sampleRate), e.chromaThreshold); ok {
		e.key = PitchClassName(idx)
	}

	return Features{
		CentroidHz: centroid,
		Brightness: Brightness(centroid),
		RMSPercent: RMSEnergy(timeData),
		ZCRPercent: ZeroCrossingRate(timeData),
		RolloffHz:  e.rolloffHz,
		Key:        e.key,
	}
}

// Reset restores the retained key and rolloff to their defaults
func (e *Extractor) Reset() {
	e.key = types.DefaultKey
	e.rolloffHz = 0
}

// SpectralCentroid computes the magnitude-weighted mean frequency.
// Returns 0 for a frame with no energy.
func SpectralCentroid(freq FrequencyFrame, sampleRate int) float64 {
	var weightedSum float64
	for i, mag := range freq {
		weightedSum += binFrequency(i, len(freq), sampleRate) * mag
	}
	sum := floats.Sum(freq)
	if sum <= 0 {
		return 0
	}
	return weightedSum / sum
}

// Brightness maps a centroid to 0-100 against a 4 kHz reference
func Brightness(centroidHz float64) float64 {
	if centroidHz <= 0 {
		return 0
	}
	return math.Min(100, math.Round(centroidHz/brightnessReferenceHz*100))
}

// RMSEnergy computes root mean square energy as a whole percent
func RMSEnergy(timeData TimeFrame) float64 {
	if len(timeData) == 0 {
		return 0
	}
	meanSquare := floats.Dot(timeData, timeData) / float64(len(timeData))
	return clampPercent(math.Round(math.Sqrt(meanSquare) * 100))
}

// ZeroCrossingRate computes the share of adjacent sample pairs that change
// sign, as a percent with one decimal. Zero counts as non-negative.
func ZeroCrossingRate(timeData TimeFrame) float64 {
	if len(timeData) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(timeData); i++ {
		if (timeData[i] >= 0) != (timeData[i-1] >= 0) {
			crossings++
		}
	}
	rate := float64(crossings) / float64(len(timeData)-1)
	return clampPercent(math.Round(rate*1000) / 10)
}

// SpectralRolloff returns the frequency of the first bin at which the
// cumulative magnitude reaches fraction of the total. ok is false when the
// frame carries no energy.
func SpectralRolloff(freq FrequencyFrame, sampleRate int, fraction float64) (hz float64, ok bool) {
	total := floats.Sum(freq)
	if total <= 0 {
		return 0, false
	}
	threshold := total * fraction
	var cumulative float64
	for i, mag := range freq {
		cumulative += mag
		if cumulative >= threshold {
			return binFrequency(i, len(freq), sampleRate), true
		}
	}
	return binFrequency(len(freq)-1, len(freq), sampleRate), true
}

// Chroma folds the 80-2000 Hz bins into 12 pitch classes counted in
// semitones from 440 Hz, so class 0 holds the reference pitch
func Chroma(freq FrequencyFrame, sampleRate int) [12]float64 {
	var chroma [12]float64
	for i := 1; i < len(freq); i++ {
		f := binFrequency(i, len(freq), sampleRate)
		if f <= chromaMinHz || f >= chromaMaxHz {
			continue
		}
		pc := int(math.Round(12*math.Log2(f/440))) % 12
		if pc < 0 {
			pc += 12
		}
		chroma[pc] += freq[i]
	}
	return chroma
}

// DominantPitchClass returns the strongest class if it exceeds threshold.
// Ties go to the lowest index.
func DominantPitchClass(chroma [12]float64, threshold float64) (int, bool) {
	best := 0
	for i := 1; i < len(chroma); i++ {
		if chroma[i] > chroma[best] {
			best = i
		}
	}
	if chroma[best] <= threshold {
		return 0, false
	}
	return best, true
}

// PitchClassName labels a chroma class with the C-indexed note names
func PitchClassName(pc int) string {
	return types.PitchClasses[((pc%12)+12)%12]
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
