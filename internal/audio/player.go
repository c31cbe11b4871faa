package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// PlaybackState represents the current playback state
type PlaybackState string

const (
	StateStopped PlaybackState = "stopped"
	StatePlaying PlaybackState = "playing"
)

// Status is the player's reported state
type Status struct {
	State      PlaybackState `json:"state"`
	Path       string        `json:"path,omitempty"`
	PositionMs int64         `json:"positionMs"`
	DurationMs int64         `json:"durationMs"`
}

// TrackEndCallback is called when a track finishes without being stopped
type TrackEndCallback func(path string)

// Decoder is the interface for streaming decoders
type Decoder interface {
	Decode(ctx context.Context, path string, output Output) error
	Duration(path string) (time.Duration, error)
}

// stopper is implemented by outputs that can drop queued audio
type stopper interface {
	Stop()
}

// Player decodes one file at a time into an Output
type Player struct {
	mu         sync.RWMutex
	playbackMu sync.Mutex // serializes Play/Stop

	state     PlaybackState
	path      string
	startedAt time.Time
	duration  time.Duration

	sessionID   uint64
	sessionDone chan struct{}
	cancelFunc  context.CancelFunc
	manualStop  bool

	onTrackEnd TrackEndCallback

	output  Output
	decoder Decoder
}

// NewPlayer creates a player writing into output
func NewPlayer(output Output, decoder Decoder) *Player {
	return &Player{
		state:   StateStopped,
		output:  output,
		decoder: decoder,
	}
}

// SetOnTrackEnd sets a callback for tracks that finish naturally
func (p *Player) SetOnTrackEnd(cb TrackEndCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrackEnd = cb
}

// Play stops any current track and starts path
func (p *Player) Play(path string) error {
	p.playbackMu.Lock()
	defer p.playbackMu.Unlock()

	p.stopAndWait()

	duration, err := p.decoder.Duration(path)
	if err != nil {
		return fmt.Errorf("failed to get duration: %w", err)
	}

	p.mu.Lock()
	p.sessionID++
	session := p.sessionID
	done := make(chan struct{})
	p.sessionDone = done
	p.path = path
	p.state = StatePlaying
	p.startedAt = time.Now()
	p.duration = duration
	p.manualStop = false

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFunc = cancel
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.playbackLoop(ctx, path, session)
	}()
	return nil
}

func (p *Player) playbackLoop(ctx context.Context, path string, session uint64) {
	log.Printf("[AUDIO] Starting playback (session %d): %s", session, path)

	err := p.decoder.Decode(ctx, path, p.output)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[AUDIO] Decode error: %v", err)
	}

	p.mu.RLock()
	if p.sessionID != session {
		p.mu.RUnlock()
		return
	}
	remaining := p.duration - time.Since(p.startedAt)
	p.mu.RUnlock()

	// Let the output buffer drain before reporting the end
	if err == nil && remaining > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(remaining + 500*time.Millisecond):
		}
	}

	p.mu.Lock()
	if p.sessionID != session {
		p.mu.Unlock()
		return
	}
	manual := p.manualStop
	cb := p.onTrackEnd
	p.state = StateStopped
	p.path = ""
	p.mu.Unlock()

	log.Printf("[AUDIO] Playback finished: %s", path)
	if !manual && cb != nil {
		cb(path)
	}
}

// Stop ends the current track
func (p *Player) Stop() {
	p.playbackMu.Lock()
	defer p.playbackMu.Unlock()
	p.stopAndWait()
}

func (p *Player) stopAndWait() {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	p.manualStop = true
	if p.cancelFunc != nil {
		p.cancelFunc()
		p.cancelFunc = nil
	}
	if s, ok := p.output.(stopper); ok {
		s.Stop()
	}
	done := p.sessionDone
	p.mu.Unlock()

	if done != nil {
		<-done
	}

	p.mu.Lock()
	p.state = StateStopped
	p.path = ""
	p.mu.Unlock()
}

// IsPlaying reports whether a track is playing
func (p *Player) IsPlaying() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StatePlaying
}

// Status returns the current state
func (p *Player) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{State: p.state, Path: p.path}
	if p.state == StatePlaying {
		pos := time.Since(p.startedAt)
		if pos > p.duration {
			pos = p.duration
		}
		st.PositionMs = pos.Milliseconds()
		st.DurationMs = p.duration.Milliseconds()
	}
	return st
}

// Close stops playback and releases the output
func (p *Player) Close() error {
	p.Stop()
	return p.output.Close()
}
