package analysis

import (
	"errors"
	"sync"
	"time"
)

const defaultSampleRate = 44100

var (
	// ErrNothingToExport is returned by ExportSnapshot before the first tick
	ErrNothingToExport = errors.New("no analysis data available to export")
	// ErrNoSource is returned by Start when no frame source is attached
	ErrNoSource = errors.New("no frame source attached")
)

// TickCallback receives a copy of the metrics after every tick
type TickCallback func(m Metrics)

// SessionOptions configures a Session. Zero values take defaults.
type SessionOptions struct {
	HistoryCapacity int
	ExportLimit     int
	ChromaThreshold float64
	Beat            BeatTrackerOptions
	Classifier      Classifier
	Clock           func() time.Time
}

// Snapshot is the JSON export of a session
type Snapshot struct {
	Timestamp       string         `json:"timestamp"`
	SampleRate      int            `json:"sampleRate"`
	TotalSamples    int            `json:"totalSamples"`
	CurrentMetrics  Metrics        `json:"currentMetrics"`
	AnalysisHistory []HistoryEntry `json:"analysisHistory"`
}

// Empty reports whether the snapshot carries no history
func (s Snapshot) Empty() bool {
	return s.TotalSamples == 0
}

// Session owns one analysis session: the frame source, the pipeline stages
// and the live metrics. Tick runs the stages strictly in order; readers get
// copies so they never observe a half-applied tick.
type Session struct {
	mu sync.RWMutex

	source     FrameSource
	extractor  *Extractor
	tracker    *BeatTracker
	classifier Classifier
	aggregator *Aggregator

	exportLimit int
	sampleRate  int
	clock       func() time.Time
	analyzing   bool
	ticks       uint64

	onTick TickCallback
}

// NewSession creates a stopped session without a source
func NewSession(opts SessionOptions) *Session {
	if opts.ExportLimit <= 0 {
		opts.ExportLimit = DefaultExportLimit
	}
	if opts.Classifier == nil {
		opts.Classifier = LiveMoodClassifier{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Session{
		extractor:   NewExtractor(opts.ChromaThreshold),
		tracker:     NewBeatTracker(opts.Beat),
		classifier:  opts.Classifier,
		aggregator:  NewAggregator(opts.HistoryCapacity),
		exportLimit: opts.ExportLimit,
		sampleRate:  defaultSampleRate,
		clock:       opts.Clock,
	}
}

// SetSource attaches a frame source; nil detaches it
func (s *Session) SetSource(src FrameSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
	if src != nil && src.SampleRate() > 0 {
		s.sampleRate = src.SampleRate()
	}
}

// SetClassifier selects the classification strategy
func (s *Session) SetClassifier(c Classifier) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
}

// Classifier returns the active strategy
func (s *Session) Classifier() Classifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier
}

// SetOnTick registers a callback invoked after every tick, outside the lock
func (s *Session) SetOnTick(cb TickCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = cb
}

// Start enables analysis
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNoSource
	}
	s.analyzing = true
	return nil
}

// Stop disables analysis; a tick already running completes
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzing = false
}

// IsAnalyzing reports whether ticks are processed
func (s *Session) IsAnalyzing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyzing
}

// Tick advances the pipeline by one frame using the session clock
func (s *Session) Tick() {
	s.TickAt(s.clock())
}

// TickAt advances the pipeline by one frame observed at now.
// Without a source, or while stopped, it does nothing.
func (s *Session) TickAt(now time.Time) {
	s.mu.Lock()
	if !s.analyzing || s.source == nil {
		s.mu.Unlock()
		return
	}

	freq := s.source.FrequencyFrame()
	timeData := s.source.TimeFrame()
	if sr := s.source.SampleRate(); sr > 0 {
		s.sampleRate = sr
	}

	features := s.extractor.Extract(freq, timeData, s.sampleRate)
	bpm := s.tracker.Update(OnsetEnergy(freq), now)

	bass, mid, high := BandsFromFrame(freq)
	label := s.classifier.Classify(FeatureVector{
		Bass:     bass,
		Mid:      mid,
		High:     high,
		TempoBPM: float64(bpm),
	})

	s.aggregator.Apply(features, bpm, label)
	s.aggregator.Record(now.UnixMilli(), freq)
	s.ticks++

	cb := s.onTick
	metrics := s.aggregator.Metrics()
	s.mu.Unlock()

	if cb != nil {
		cb(metrics)
	}
}

// CurrentMetrics returns a point-in-time copy of the live metrics
func (s *Session) CurrentMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregator.Metrics()
}

// History returns up to n of the newest history entries, oldest first
func (s *Session) History(n int) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregator.History().Last(n)
}

// TrackerState reports the tempo tracker's state
func (s *Session) TrackerState() TrackerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.State()
}

// Ticks returns the number of processed ticks since creation or Reset
func (s *Session) Ticks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// ExportSnapshot serializes the metrics and the newest history entries.
// With no recorded ticks it returns the empty snapshot and ErrNothingToExport.
func (s *Session) ExportSnapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.aggregator.History()
	snap := Snapshot{
		Timestamp:       s.clock().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		SampleRate:      s.sampleRate,
		TotalSamples:    history.Len(),
		CurrentMetrics:  s.aggregator.Metrics(),
		AnalysisHistory: history.Last(s.exportLimit),
	}
	if snap.TotalSamples == 0 {
		return snap, ErrNothingToExport
	}
	return snap, nil
}

// Reset clears history, onsets and metrics. A nil session is a no-op.
func (s *Session) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregator.Reset()
	s.tracker.Reset()
	s.extractor.Reset()
	s.ticks = 0
}
