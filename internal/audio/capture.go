package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os/exec"
	"strings"
	"sync"
)

// captureChunk is the number of samples read from parec per write
const captureChunk = 512

// Capture records from a PulseAudio/PipeWire source with parec and feeds
// the samples into an Analyzer
type Capture struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	device  string
	running bool

	analyzer *Analyzer
}

// NewCapture creates a capture for device. An empty device selects the
// monitor of the default sink, i.e. whatever is currently playing.
func NewCapture(device string, analyzer *Analyzer) *Capture {
	return &Capture{device: device, analyzer: analyzer}
}

// monitorSource returns the monitor of the default sink
func monitorSource() (string, error) {
	out, err := exec.Command("pactl", "get-default-sink").Output()
	if err != nil {
		return "", fmt.Errorf("cannot get default sink: %w", err)
	}
	sink := strings.TrimSpace(string(out))
	if sink == "" {
		return "", fmt.Errorf("no default sink found")
	}
	return sink + ".monitor", nil
}

// Start launches parec and begins streaming
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	device := c.device
	if device == "" {
		var err error
		if device, err = monitorSource(); err != nil {
			return fmt.Errorf("failed to find monitor source: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, "parec",
		"--format=float32le",
		fmt.Sprintf("--rate=%d", c.analyzer.SampleRate()),
		"--channels=1",
		fmt.Sprintf("--device=%s", device),
		"--latency-msec=25",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start parec (is pulseaudio/pipewire-pulse installed?): %w", err)
	}

	c.cmd = cmd
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	log.Printf("[AUDIO] Capturing from %s", device)
	go c.readLoop(stdout, c.done)
	return nil
}

func (c *Capture) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, captureChunk*4)
	samples := make([]float64, captureChunk)
	for {
		n, err := io.ReadFull(r, buf)
		count := n / 4
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			samples[i] = float64(math.Float32frombits(bits))
		}
		if count > 0 {
			c.analyzer.WriteMono(samples[:count])
		}
		if err != nil {
			return
		}
	}
}

// Running reports whether parec is streaming
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop terminates parec and waits for the reader to exit
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, cmd, done := c.cancel, c.cmd, c.done
	c.mu.Unlock()

	cancel()
	<-done
	_ = cmd.Wait()
}
