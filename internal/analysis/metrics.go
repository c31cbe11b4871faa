package analysis

import (
	"github.com/austinkregel/local-media/vizd/internal/types"
)

const (
	// DefaultHistoryCapacity is how many ticks the history keeps
	DefaultHistoryCapacity = 100
	// DefaultExportLimit is how many history entries an export carries
	DefaultExportLimit = 50
)

// Metrics is the canonical per-tick snapshot consumed by renderers and overlays
type Metrics struct {
	BPM                     int     `json:"bpm"`
	Key                     string  `json:"key"`
	Mood                    string  `json:"mood"`
	SpectralCentroidHz      float64 `json:"spectralCentroid"`
	ZeroCrossingRatePercent float64 `json:"zeroCrossingRate"`
	RMSEnergyPercent        float64 `json:"rmsEnergy"`
	BrightnessPercent       float64 `json:"brightness"`
	RolloffHz               float64 `json:"rolloff"`
}

// DefaultMetrics returns the values reported before the first tick
func DefaultMetrics() Metrics {
	return Metrics{
		Key:  types.DefaultKey,
		Mood: types.MoodUnknown,
	}
}

// HistoryEntry is one recorded tick
type HistoryEntry struct {
	Timestamp int64          `json:"timestamp"` // Unix ms
	Frequency FrequencyFrame `json:"frequency"`
	Metrics   Metrics        `json:"metrics"`
}

// History is a fixed-capacity FIFO of recorded ticks
type History struct {
	entries []HistoryEntry
	head    int
	count   int
}

// NewHistory creates a history holding at most capacity entries
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{entries: make([]HistoryEntry, capacity)}
}

// Push appends an entry, dropping the oldest when full
func (h *History) Push(e HistoryEntry) {
	if h.count == len(h.entries) {
		h.entries[h.head] = e
		h.head = (h.head + 1) % len(h.entries)
		return
	}
	h.entries[(h.head+h.count)%len(h.entries)] = e
	h.count++
}

// Len returns the number of entries held
func (h *History) Len() int {
	return h.count
}

// Cap returns the capacity
func (h *History) Cap() int {
	return len(h.entries)
}

// Last returns copies of up to n of the newest entries in chronological
// order. n <= 0 returns everything.
func (h *History) Last(n int) []HistoryEntry {
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]HistoryEntry, n)
	start := h.count - n
	for i := range out {
		e := h.entries[(h.head+start+i)%len(h.entries)]
		e.Frequency = e.Frequency.Clone()
		out[i] = e
	}
	return out
}

// Clear drops every entry
func (h *History) Clear() {
	for i := range h.entries {
		h.entries[i] = HistoryEntry{}
	}
	h.head = 0
	h.count = 0
}

// Aggregator owns the live Metrics snapshot and its history
type Aggregator struct {
	metrics Metrics
	history *History
}

// NewAggregator creates an aggregator with default metrics
func NewAggregator(historyCapacity int) *Aggregator {
	return &Aggregator{
		metrics: DefaultMetrics(),
		history: NewHistory(historyCapacity),
	}
}

// Apply writes one tick's results into the live snapshot
func (a *Aggregator) Apply(f Features, bpm int, mood string) {
	a.metrics.BPM = bpm
	a.metrics.Key = f.Key
	a.metrics.Mood = mood
	a.metrics.SpectralCentroidHz = f.CentroidHz
	a.metrics.ZeroCrossingRatePercent = f.ZCRPercent
	a.metrics.RMSEnergyPercent = f.RMSPercent
	a.metrics.BrightnessPercent = f.Brightness
	a.metrics.RolloffHz = f.RolloffHz
}

// Record copies the current snapshot and frame into the history
func (a *Aggregator) Record(timestampMs int64, freq FrequencyFrame) {
	a.history.Push(HistoryEntry{
		Timestamp: timestampMs,
		Frequency: freq.Clone(),
		Metrics:   a.metrics,
	})
}

// Metrics returns a copy of the live snapshot
func (a *Aggregator) Metrics() Metrics {
	return a.metrics
}

// History exposes the recorded ticks
func (a *Aggregator) History() *History {
	return a.history
}

// Reset restores default metrics and clears the history
func (a *Aggregator) Reset() {
	a.metrics = DefaultMetrics()
	a.history.Clear()
}
