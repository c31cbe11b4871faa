package analysis

import (
	"math"
	"testing"

	"github.com/austinkregel/local-media/vizd/internal/types"
)

func TestLiveMoodClassifier(t *testing.T) {
	tests := []struct {
		name string
		v    FeatureVector
		want string
	}{
		{"quiet beats dominance", FeatureVector{Bass: 0.08, Mid: 0.01, High: 0.01}, types.MoodCalm},
		{"bass dominant", FeatureVector{Bass: 0.8, Mid: 0.2, High: 0.1}, types.MoodDeep},
		{"high dominant", FeatureVector{Bass: 0.1, Mid: 0.2, High: 0.5}, types.MoodBright},
		{"loud without dominance", FeatureVector{Bass: 0.3, Mid: 0.3, High: 0.3}, types.MoodEnergetic},
		{"mid dominant", FeatureVector{Bass: 0.1, Mid: 0.3, High: 0.1}, types.MoodWarm},
		{"even and moderate", FeatureVector{Bass: 0.2, Mid: 0.2, High: 0.1}, types.MoodBalanced},
		{"silence", FeatureVector{}, types.MoodCalm},
	}

	c := LiveMoodClassifier{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.v); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBatchGenreClassifier(t *testing.T) {
	tests := []struct {
		name string
		v    FeatureVector
		want string
	}{
		{"heavy low end at 120", FeatureVector{Bass: 0.9, Mid: 0.05, High: 0.05, TempoBPM: 120}, types.GenreRock},
		{"heavy low end at 90", FeatureVector{Bass: 0.8, Mid: 0.1, High: 0.1, TempoBPM: 90}, types.GenreHipHop},
		{"bright and fast", FeatureVector{Bass: 0.1, Mid: 0.2, High: 0.7, TempoBPM: 210}, types.GenreElectronic},
		{"balanced and slow", FeatureVector{Bass: 0.3, Mid: 0.45, High: 0.25, TempoBPM: 60}, types.GenreClassical},
		{"silence", FeatureVector{}, types.GenrePop},
	}

	c := BatchGenreClassifier{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.v); got != tt.want {
				t.Errorf("Expected %s, got %s (scores %v)", tt.want, got, c.Scores(tt.v))
			}
		})
	}
}

func TestBatchScoresNormalizeBands(t *testing.T) {
	c := BatchGenreClassifier{}
	ratios := c.Scores(FeatureVector{Bass: 0.8, Mid: 0.1, High: 0.1, TempoBPM: 120})
	raw := c.Scores(FeatureVector{Bass: 8, Mid: 1, High: 1, TempoBPM: 120})

	for _, genre := range types.Genres {
		if math.Abs(ratios[genre]-raw[genre]) > 1e-9 {
			t.Errorf("%s: expected %v, got %v", genre, ratios[genre], raw[genre])
		}
	}

	if want := 0.8*0.7 + 0.3; math.Abs(ratios[types.GenreRock]-want) > 1e-9 {
		t.Errorf("Expected rock score %v, got %v", want, ratios[types.GenreRock])
	}
}

func TestNewClassifier(t *testing.T) {
	if got := NewClassifier(types.ClassifierLive).Name(); got != "live" {
		t.Errorf("Expected live, got %s", got)
	}
	if got := NewClassifier(types.ClassifierBatch).Name(); got != "batch" {
		t.Errorf("Expected batch, got %s", got)
	}
}

func TestBandsFromFrame(t *testing.T) {
	f := make(FrequencyFrame, 1024)
	for i := 0; i < 8; i++ {
		f[i] = 1
	}
	for i := 8; i < 32; i++ {
		f[i] = 0.5
	}
	f[100] = 1 // outside every band

	bass, mid, high := BandsFromFrame(f)
	if bass != 1 || mid != 0.5 || high != 0 {
		t.Errorf("Expected 1/0.5/0, got %v/%v/%v", bass, mid, high)
	}

	// Short frames treat missing bins as silence
	bass, _, _ = BandsFromFrame(FrequencyFrame{1, 1, 1, 1})
	if bass != 0.5 {
		t.Errorf("Expected bass 0.5 for 4-bin frame, got %v", bass)
	}
}
