package analysis

import (
	"math"
	"time"
)

const (
	// Onset energy is averaged over bins [onsetLowBin, onsetHighBin), ~20-150 Hz
	onsetLowBin  = 1
	onsetHighBin = 8
	// Onsets needed before a tempo is derived
	minOnsetsForTempo = 5

	// DefaultOnsetThreshold is the normalized band energy that counts as an onset
	DefaultOnsetThreshold = 0.3
	// DefaultOnsetWindow is how long onsets stay in the window
	DefaultOnsetWindow = 10 * time.Second
	// DefaultOnsetCapacity bounds the ring buffer (10 s at 60 fps fits easily)
	DefaultOnsetCapacity = 1024
	// MinBPM and MaxBPM bound accepted tempo estimates
	MinBPM = 60
	MaxBPM = 200
)

// TrackerState is the tempo tracker's estimation state
type TrackerState int

const (
	StateNoEstimate TrackerState = iota
	StateEstimating
)

// String returns the state name
func (s TrackerState) String() string {
	if s == StateEstimating {
		return "estimating"
	}
	return "no-estimate"
}

// BeatTrackerOptions tunes the onset detector. Zero values take defaults.
type BeatTrackerOptions struct {
	Threshold   float64
	Window      time.Duration
	Capacity    int
	MinInterval time.Duration // refractory period between onsets, 0 = disabled
}

// BeatTracker detects low-frequency energy onsets and derives a tempo from
// the mean inter-onset interval of a rolling window.
type BeatTracker struct {
	opts BeatTrackerOptions

	// Ring buffer of onset timestamps, oldest at head
	onsets []time.Time
	head   int
	count  int

	bpm int
}

// NewBeatTracker creates a tracker
func NewBeatTracker(opts BeatTrackerOptions) *BeatTracker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultOnsetThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultOnsetWindow
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultOnsetCapacity
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	return &BeatTracker{
		opts:   opts,
		onsets: make([]time.Time, opts.Capacity),
	}
}

// OnsetEnergy averages the low band of a frame
func OnsetEnergy(freq FrequencyFrame) float64 {
	hi := onsetHighBin
	if hi > len(freq) {
		hi = len(freq)
	}
	if hi <= onsetLowBin {
		return 0
	}
	var sum float64
	for _, v := range freq[onsetLowBin:hi] {
		sum += v
	}
	return sum / float64(hi-onsetLowBin)
}

// Update feeds one tick's onset energy and returns the current tempo (0 = unset)
func (t *BeatTracker) Update(energy float64, now time.Time) int {
	if energy > t.opts.Threshold {
		t.addOnset(now)
	}
	t.evict(now)

	if t.count == 0 {
		t.bpm = 0
		return t.bpm
	}
	if t.count < minOnsetsForTempo {
		return t.bpm
	}

	if bpm, ok := t.estimate(); ok {
		t.bpm = bpm
	}
	return t.bpm
}

// AddOnset records an onset directly, bypassing the energy threshold
func (t *BeatTracker) AddOnset(now time.Time) int {
	return t.Update(math.Inf(1), now)
}

func (t *BeatTracker) addOnset(now time.Time) {
	if t.count > 0 && t.opts.MinInterval > 0 {
		if now.Sub(t.at(t.count-1)) < t.opts.MinInterval {
			return
		}
	}
	if t.count == len(t.onsets) {
		// Full: drop the oldest
		t.head = (t.head + 1) % len(t.onsets)
		t.count--
	}
	t.onsets[(t.head+t.count)%len(t.onsets)] = now
	t.count++
}

func (t *BeatTracker) evict(now time.Time) {
	for t.count > 0 && now.Sub(t.onsets[t.head]) >= t.opts.Window {
		t.onsets[t.head] = time.Time{}
		t.head = (t.head + 1) % len(t.onsets)
		t.count--
	}
}

// estimate converts the mean interval to BPM; implausible values are rejected
func (t *BeatTracker) estimate() (int, bool) {
	var total time.Duration
	for i := 1; i < t.count; i++ {
		total += t.at(i).Sub(t.at(i - 1))
	}
	avgMs := float64(total) / float64(time.Millisecond) / float64(t.count-1)
	if avgMs <= 0 {
		return 0, false
	}
	bpm := int(math.Round(60000 / avgMs))
	if bpm < MinBPM || bpm > MaxBPM {
		return 0, false
	}
	return bpm, true
}

func (t *BeatTracker) at(i int) time.Time {
	return t.onsets[(t.head+i)%len(t.onsets)]
}

// BPM returns the last accepted tempo, 0 when unset
func (t *BeatTracker) BPM() int {
	return t.bpm
}

// State reports whether enough onsets are windowed to estimate a tempo
func (t *BeatTracker) State() TrackerState {
	if t.count >= minOnsetsForTempo {
		return StateEstimating
	}
	return StateNoEstimate
}

// Len returns the number of onsets in the window
func (t *BeatTracker) Len() int {
	return t.count
}

// Onsets returns the windowed onsets, oldest first
func (t *BeatTracker) Onsets() []time.Time {
	out := make([]time.Time, t.count)
	for i := range out {
		out[i] = t.at(i)
	}
	return out
}

// Reset clears the window and the estimate
func (t *BeatTracker) Reset() {
	for i := range t.onsets {
		t.onsets[i] = time.Time{}
	}
	t.head = 0
	t.count = 0
	t.bpm = 0
}
