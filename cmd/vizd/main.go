// Package main is the entry point for the vizd daemon.
// vizd analyzes the audio it plays, captures or synthesizes and serves the
// live musical metrics to clients over IPC and the session bus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/austinkregel/local-media/vizd/internal/audio"
	"github.com/austinkregel/local-media/vizd/internal/bus"
	"github.com/austinkregel/local-media/vizd/internal/config"
	"github.com/austinkregel/local-media/vizd/internal/ipc"
	"github.com/austinkregel/local-media/vizd/internal/types"
)

// Version is set at build time via ldflags
var Version = "dev"

// Flags holds command-line options
type Flags struct {
	SocketPath string
	ConfigDir  string
	Source     string
	Verbose    bool
}

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	flags := parseFlags()

	if flags.Verbose {
		log.Printf("vizd version %s starting...", Version)
	}

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.SocketPath, "socket", os.Getenv(config.EnvSocket), "IPC socket path (default: auto-generated based on UID)")
	flag.StringVar(&f.ConfigDir, "config", os.Getenv(config.EnvConfigDir), "Configuration directory (default: ~/.config/vizd)")
	flag.StringVar(&f.Source, "source", "", "Frame source: playback, capture or demo (overrides config)")
	flag.BoolVar(&f.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if f.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		f.ConfigDir = filepath.Join(homeDir, ".config", "vizd")
	}

	if f.SocketPath == "" {
		f.SocketPath = fmt.Sprintf("/tmp/vizd-%d.sock", os.Getuid())
	}

	return f
}

func run(ctx context.Context, flags *Flags) error {
	configMgr := config.NewManager(flags.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	cfg.ApplyEnv(os.Getenv)
	if flags.Source != "" {
		cfg.Audio.Source = flags.Source
	}
	source := types.ParseSourceKind(cfg.Audio.Source)
	log.Printf("[ANALYSIS] Source: %s, %d fps, classifier %s", source, cfg.Analysis.FPS, cfg.Analysis.Classifier)

	session := analysis.NewSession(sessionOptions(cfg))

	// The ffmpeg decoder backs playback and batch classification
	decoder, err := audio.NewFFmpegDecoder()
	if err != nil {
		log.Printf("[AUDIO] Warning: %v", err)
		log.Printf("[AUDIO] File playback and classification disabled")
	}

	channels := 1
	if source == types.SourcePlayback {
		channels = 2
	}
	analyzer := audio.NewAnalyzer(analyzerConfig(cfg, channels))
	session.SetSource(analyzer)

	var player *audio.Player
	switch source {
	case types.SourcePlayback:
		if decoder == nil {
			return fmt.Errorf("playback source needs ffmpeg")
		}
		output, err := audio.NewOtoOutput(cfg.Audio.SampleRate, channels, analyzer)
		if err != nil {
			return fmt.Errorf("failed to initialize audio output: %w", err)
		}
		player = audio.NewPlayer(output, decoder)
		defer player.Close()
		player.SetOnTrackEnd(func(path string) {
			log.Printf("[AUDIO] Track ended: %s", path)
		})

	case types.SourceCapture:
		capture := audio.NewCapture(cfg.Audio.CaptureDevice, analyzer)
		if err := capture.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		defer capture.Stop()

	case types.SourceDemo:
		synth := audio.NewSynth(cfg.Audio.DemoBPM, analyzer)
		go synth.Run(ctx)
		log.Printf("[AUDIO] Demo source at %.0f BPM", synth.BPM())
	}

	var store *analysis.Store
	if cfg.Store.Enabled {
		store, err = analysis.OpenStore(cfg.StorePath())
		if err != nil {
			log.Printf("[STORE] Warning: %+v", err)
			log.Printf("[STORE] Continuing without persistence")
			store = nil
		} else {
			log.Printf("[STORE] Opened %s", store.Path())
			defer store.Close()
		}
	}

	var worker *analysis.Worker
	if decoder != nil {
		wcfg := analysis.WorkerConfig{
			Decoder:    decoder,
			Store:      store,
			IsBusyFunc: session.IsAnalyzing,
			OnResult: func(r analysis.ClassifyResult) {
				if r.Error != nil {
					log.Printf("[WORKER] %s: %v", r.Path, r.Error)
				} else if !r.Skipped && flags.Verbose {
					log.Printf("[WORKER] %s: %s at %.0f BPM", r.Path, r.Genre, r.Features.TempoBPM)
				}
			},
		}
		worker, err = analysis.NewWorker(wcfg)
		if err != nil {
			return fmt.Errorf("failed to initialize worker: %w", err)
		}
		defer worker.Stop()
	}

	publisher := newPublisher(cfg.Bus.Enabled, session)
	defer publisher.Close()

	opts := ipc.Options{
		SocketPath:   flags.SocketPath,
		Session:      session,
		ConfigMgr:    configMgr,
		Worker:       worker,
		Store:        store,
		Source:       string(source),
		PushInterval: time.Second / time.Duration(cfg.Analysis.PushHz),
	}
	if player != nil {
		opts.Player = player
	}
	server, err := ipc.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize IPC server: %w", err)
	}

	busGate := &throttle{interval: opts.PushInterval}
	session.SetOnTick(func(m analysis.Metrics) {
		server.PublishMetrics(m)
		if busGate.allow(time.Now()) {
			if err := publisher.Update(m); err != nil && flags.Verbose {
				log.Printf("[BUS] Update failed: %v", err)
			}
		}
	})

	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start analysis: %w", err)
	}
	go runTicker(ctx, session, cfg.Analysis.FPS, flags.Verbose)

	log.Printf("Starting IPC server on %s", flags.SocketPath)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}

	return nil
}

// newPublisher connects the bus publisher and routes its commands to session
func newPublisher(enabled bool, session *analysis.Session) bus.Publisher {
	if !enabled {
		return bus.NewNoOpPublisher()
	}

	publisher, err := bus.NewPublisher()
	if err != nil {
		log.Printf("[BUS] Warning: failed to initialize publisher: %v", err)
		log.Printf("[BUS] Continuing without bus integration")
		return bus.NewNoOpPublisher()
	}
	log.Printf("[BUS] Publishing %s at %s", bus.BusName, bus.ObjectPath)

	publisher.SetCommandHandler(bus.CommandHandlerFunc(func(cmd bus.Command) (string, error) {
		switch cmd {
		case bus.CmdReset:
			session.Reset()
			return "", nil
		case bus.CmdExport:
			snap, err := session.ExportSnapshot()
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
		return "", fmt.Errorf("unsupported command: %s", cmd)
	}))

	return publisher
}

// runTicker drives the session at fps until ctx is cancelled
func runTicker(ctx context.Context, session *analysis.Session, fps int, verbose bool) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	// Debug line every five seconds
	logEvery := uint64(fps * 5)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			session.TickAt(now)

			if verbose {
				if n := session.Ticks(); n > 0 && n%logEvery == 0 {
					m := session.CurrentMetrics()
					log.Printf("[ANALYSIS] tick=%d bpm=%d key=%s mood=%s rms=%.1f%% centroid=%.0fHz",
						n, m.BPM, m.Key, m.Mood, m.RMSEnergyPercent, m.SpectralCentroidHz)
				}
			}
		}
	}
}

// throttle lets one event through per interval; single goroutine only
type throttle struct {
	interval time.Duration
	last     time.Time
}

func (t *throttle) allow(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

func sessionOptions(cfg *config.Config) analysis.SessionOptions {
	a := cfg.Analysis
	return analysis.SessionOptions{
		HistoryCapacity: a.HistoryCapacity,
		ExportLimit:     a.ExportLimit,
		ChromaThreshold: a.ChromaThreshold,
		Beat: analysis.BeatTrackerOptions{
			Threshold:   a.OnsetThreshold,
			Window:      time.Duration(a.OnsetWindowMs) * time.Millisecond,
			Capacity:    a.OnsetCapacity,
			MinInterval: time.Duration(a.MinOnsetIntervalMs) * time.Millisecond,
		},
		Classifier: analysis.NewClassifier(types.ParseClassifierKind(a.Classifier)),
	}
}

func analyzerConfig(cfg *config.Config, channels int) audio.AnalyzerConfig {
	return audio.AnalyzerConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    channels,
		FFTSize:     cfg.Audio.FFTSize,
		Smoothing:   cfg.Audio.Smoothing,
		MinDecibels: cfg.Audio.MinDecibels,
		MaxDecibels: cfg.Audio.MaxDecibels,
	}
}
