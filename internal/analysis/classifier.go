package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/austinkregel/local-media/vizd/internal/types"
)

// Live band layout in bins: bass [0,8), mid [8,32), high [32,64)
const (
	bassBins = 8
	midBins  = 24
	highBins = 32

	calmEnergy      = 0.2
	energeticEnergy = 0.6
)

// FeatureVector is the input shared by every classification strategy.
// Bass/Mid/High are band energies; strategies normalize as they need.
type FeatureVector struct {
	Bass     float64 `json:"bass"`
	Mid      float64 `json:"mid"`
	High     float64 `json:"high"`
	TempoBPM float64 `json:"tempo"`
}

// Total returns the summed band energy
func (v FeatureVector) Total() float64 {
	return v.Bass + v.Mid + v.High
}

// Classifier maps a feature vector to one label
type Classifier interface {
	Name() string
	Classify(v FeatureVector) string
}

// NewClassifier returns the strategy for kind
func NewClassifier(kind types.ClassifierKind) Classifier {
	if kind == types.ClassifierBatch {
		return BatchGenreClassifier{}
	}
	return LiveMoodClassifier{}
}

// BandsFromFrame averages the live bass/mid/high bands of a frame.
// Missing bins count as silence so short frames read quieter, not louder.
func BandsFromFrame(freq FrequencyFrame) (bass, mid, high float64) {
	band := func(lo, width int) float64 {
		hi := lo + width
		if lo >= len(freq) {
			return 0
		}
		if hi > len(freq) {
			hi = len(freq)
		}
		return floats.Sum(freq[lo:hi]) / float64(width)
	}
	return band(0, bassBins), band(bassBins, midBins), band(bassBins+midBins, highBins)
}

// LiveMoodClassifier labels the instantaneous band-energy shape
type LiveMoodClassifier struct{}

// Name identifies the strategy
func (LiveMoodClassifier) Name() string { return types.ClassifierLive.String() }

// Classify applies the precedence Calm, Deep, Bright, Energetic, Warm, Balanced
func (LiveMoodClassifier) Classify(v FeatureVector) string {
	total := v.Total()
	switch {
	case total < calmEnergy:
		return types.MoodCalm
	case v.Bass > v.Mid && v.Bass > v.High:
		return types.MoodDeep
	case v.High > v.Bass && v.High > v.Mid:
		return types.MoodBright
	case total > energeticEnergy:
		return types.MoodEnergetic
	case v.Mid > v.Bass && v.Mid > v.High:
		return types.MoodWarm
	default:
		return types.MoodBalanced
	}
}

// BatchGenreClassifier scores six genres from band ratios and tempo
type BatchGenreClassifier struct{}

// Name identifies the strategy
func (BatchGenreClassifier) Name() string { return types.ClassifierBatch.String() }

// Classify returns the best scoring genre, "pop" when nothing scores
func (c BatchGenreClassifier) Classify(v FeatureVector) string {
	if v.Total() <= 0 {
		return types.GenrePop
	}
	scores := c.Scores(v)
	best := types.GenrePop
	bestScore := 0.0
	for _, genre := range types.Genres {
		if scores[genre] > bestScore {
			bestScore = scores[genre]
			best = genre
		}
	}
	return best
}

// Scores returns the weighted score of every genre. A vector without band
// energy scores zero everywhere.
func (BatchGenreClassifier) Scores(v FeatureVector) map[string]float64 {
	scores := make(map[string]float64, len(types.Genres))
	if v.Total() <= 0 {
		for _, genre := range types.Genres {
			scores[genre] = 0
		}
		return scores
	}
	low, mid, high := normalizeBands(v)
	tempo := v.TempoBPM

	closeness := func(ref float64) float64 {
		return 1 - math.Abs(tempo-ref)/ref
	}
	bonus := func(ok bool, w float64) float64 {
		if ok {
			return w
		}
		return 0
	}

	scores[types.GenreRock] = low*0.7 + closeness(120)*0.3
	scores[types.GenrePop] = (1-math.Abs(mid-0.5))*0.6 + closeness(100)*0.4
	scores[types.GenreJazz] = (1-math.Abs(mid-0.4))*0.5 + bonus(tempo > 100 && tempo < 200, 0.5)
	scores[types.GenreClassical] = (1-math.Abs(mid-0.45))*0.6 + bonus(tempo < 100, 0.4)
	scores[types.GenreHipHop] = low*0.6 + closeness(90)*0.4
	scores[types.GenreElectronic] = high*0.6 + bonus(tempo > 120, 0.4)
	return scores
}

func normalizeBands(v FeatureVector) (low, mid, high float64) {
	total := v.Total()
	return v.Bass / total, v.Mid / total, v.High / total
}
