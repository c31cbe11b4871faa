package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned when a batch is started twice
var ErrAlreadyRunning = errors.New("classification already running")

// Decoded PCM format requested from the decoder
const (
	workerChannels = 2
	// Shortest buffer worth classifying
	minPCMBytes = 4096
	// Cap decoded audio at ten minutes
	maxPCMBytes = batchSampleRate * workerChannels * 2 * 600
)

// PCMDecoder turns a media file into interleaved s16le PCM
type PCMDecoder interface {
	DecodePCM(ctx context.Context, path string, sampleRate, channels int, maxBytes int64) ([]byte, error)
}

// WorkerStatus represents the current state of batch classification
type WorkerStatus struct {
	Status     string `json:"status"` // "idle", "running", "paused", "complete"
	TotalFiles int    `json:"totalFiles"`
	Classified int    `json:"classified"`
	Skipped    int    `json:"skipped"`
	InProgress int    `json:"inProgress"`
	Failed     int    `json:"failed"`
	Message    string `json:"message"`
	StartedAt  int64  `json:"startedAt,omitempty"`
}

// ClassifyResult contains the outcome for a single file
type ClassifyResult struct {
	Path     string
	FileHash string
	Features BatchFeatures
	Genre    string
	Skipped  bool
	Error    error
}

// Worker classifies files in the background
type Worker struct {
	mu sync.Mutex

	// Configuration
	maxWorkers   int
	throttleMs   int64 // Sleep between files while analysis is live
	idleThrottle int64 // Sleep between files otherwise

	// State
	status     WorkerStatus
	ctx        context.Context
	cancel     context.CancelFunc
	isRunning  bool
	isPaused   bool
	resumeChan chan struct{}
	done       chan struct{} // closed when the current batch returns

	isBusyFunc func() bool

	decoder    PCMDecoder
	analyzer   *BatchAnalyzer
	classifier Classifier
	store      *Store

	onResult func(ClassifyResult)

	classifiedCount int64
	skippedCount    int64
	failedCount     int64
	inProgressCount int64
}

// WorkerConfig contains configuration for the classification worker
type WorkerConfig struct {
	MaxWorkers   int                  // Maximum concurrent workers (0 = NumCPU - 1)
	ThrottleMs   int64                // Sleep ms between files while busy
	IdleThrottle int64                // Sleep ms between files when idle
	IsBusyFunc   func() bool          // Reports whether live analysis is running
	Decoder      PCMDecoder           // Required
	Store        *Store               // Optional; results are persisted and unchanged files skipped
	OnResult     func(ClassifyResult) // Callback when a file completes
}

// NewWorker creates a new batch classification worker
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("worker needs a decoder")
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() - 1
		if maxWorkers < 1 {
			maxWorkers = 1
		}
	}

	throttleMs := cfg.ThrottleMs
	if throttleMs <= 0 {
		throttleMs = 100
	}

	idleThrottle := cfg.IdleThrottle
	if idleThrottle <= 0 {
		idleThrottle = 10
	}

	return &Worker{
		maxWorkers:   maxWorkers,
		throttleMs:   throttleMs,
		idleThrottle: idleThrottle,
		isBusyFunc:   cfg.IsBusyFunc,
		decoder:      cfg.Decoder,
		analyzer:     NewBatchAnalyzer(batchSampleRate),
		classifier:   BatchGenreClassifier{},
		store:        cfg.Store,
		onResult:     cfg.OnResult,
		status:       WorkerStatus{Status: "idle"},
		resumeChan:   make(chan struct{}),
	}, nil
}

// Start begins background classification of the given files
func (w *Worker) Start(ctx context.Context, paths []string) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.isPaused = false
	atomic.StoreInt64(&w.classifiedCount, 0)
	atomic.StoreInt64(&w.skippedCount, 0)
	atomic.StoreInt64(&w.failedCount, 0)
	atomic.StoreInt64(&w.inProgressCount, 0)

	w.status = WorkerStatus{
		Status:     "running",
		TotalFiles: len(paths),
		StartedAt:  time.Now().Unix(),
	}
	runCtx := w.ctx
	done := make(chan struct{})
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.run(runCtx, paths)
	}()
	return nil
}

// Stop cancels the batch and waits for in-flight files to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.isRunning = false
	w.status.Status = "idle"
	w.status.Message = "Classification stopped"
	done := w.done
	w.done = nil
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Pause holds workers before their next file
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || w.isPaused {
		return
	}
	w.isPaused = true
	w.status.Status = "paused"
}

// Resume releases paused workers
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || !w.isPaused {
		return
	}
	w.isPaused = false
	w.status.Status = "running"
	close(w.resumeChan)
	w.resumeChan = make(chan struct{})
}

// GetStatus returns the current batch status
func (w *Worker) GetStatus() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := w.status
	status.Classified = int(atomic.LoadInt64(&w.classifiedCount))
	status.Skipped = int(atomic.LoadInt64(&w.skippedCount))
	status.Failed = int(atomic.LoadInt64(&w.failedCount))
	status.InProgress = int(atomic.LoadInt64(&w.inProgressCount))
	return status
}

// IsRunning returns whether a batch is in flight
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// ClassifyFile decodes and classifies one file synchronously, bypassing the store
func (w *Worker) ClassifyFile(ctx context.Context, path string) ClassifyResult {
	return w.classify(ctx, path, false)
}

func (w *Worker) run(ctx context.Context, paths []string) {
	defer func() {
		w.mu.Lock()
		w.isRunning = false
		if w.status.Status == "running" {
			w.status.Status = "complete"
			w.status.Message = fmt.Sprintf("Classification complete: %d classified, %d skipped, %d failed",
				atomic.LoadInt64(&w.classifiedCount), atomic.LoadInt64(&w.skippedCount), atomic.LoadInt64(&w.failedCount))
		}
		w.mu.Unlock()
		log.Printf("[WORKER] Finished: %d classified, %d skipped, %d failed",
			atomic.LoadInt64(&w.classifiedCount), atomic.LoadInt64(&w.skippedCount), atomic.LoadInt64(&w.failedCount))
	}()

	log.Printf("[WORKER] Classifying %d files with %d workers", len(paths), w.activeWorkerCount())

	jobs := make(chan string, len(paths))
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < w.activeWorkerCount(); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.worker(ctx, id, jobs)
		}(i)
	}
	wg.Wait()
}

// activeWorkerCount drops to one worker while live analysis needs the CPU
func (w *Worker) activeWorkerCount() int {
	if w.isBusyFunc != nil && w.isBusyFunc() {
		return 1
	}
	return w.maxWorkers
}

func (w *Worker) throttle() time.Duration {
	if w.isBusyFunc != nil && w.isBusyFunc() {
		return time.Duration(w.throttleMs) * time.Millisecond
	}
	return time.Duration(w.idleThrottle) * time.Millisecond
}

func (w *Worker) worker(ctx context.Context, id int, jobs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.Lock()
		isPaused := w.isPaused
		resumeChan := w.resumeChan
		w.mu.Unlock()

		if isPaused {
			select {
			case <-ctx.Done():
				return
			case <-resumeChan:
			}
		}

		path, ok := <-jobs
		if !ok {
			return
		}

		atomic.AddInt64(&w.inProgressCount, 1)
		result := w.classify(ctx, path, true)
		atomic.AddInt64(&w.inProgressCount, -1)

		switch {
		case result.Error != nil:
			atomic.AddInt64(&w.failedCount, 1)
			log.Printf("[WORKER] Worker %d: Failed %s: %v", id, path, result.Error)
		case result.Skipped:
			atomic.AddInt64(&w.skippedCount, 1)
		default:
			atomic.AddInt64(&w.classifiedCount, 1)
		}

		if w.onResult != nil {
			w.onResult(result)
		}

		if d := w.throttle(); d > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
	}
}

func (w *Worker) classify(ctx context.Context, path string, useStore bool) ClassifyResult {
	result := ClassifyResult{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("file not found: %w", err)
		return result
	}
	result.FileHash = computeFileHash(path, info.Size())

	if useStore && w.store != nil && !w.store.NeedsClassification(path, result.FileHash) {
		result.Skipped = true
		return result
	}

	decodeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	pcm, err := w.decoder.DecodePCM(decodeCtx, path, batchSampleRate, workerChannels, maxPCMBytes)
	if err != nil {
		result.Error = fmt.Errorf("decode failed: %w", err)
		return result
	}
	if len(pcm) < minPCMBytes {
		result.Error = fmt.Errorf("audio too short")
		return result
	}

	result.Features = w.analyzer.ProcessPCM(pcm, workerChannels)
	result.Genre = w.classifier.Classify(result.Features.Vector())

	if useStore && w.store != nil {
		err := w.store.SaveClassification(Classification{
			Path:     path,
			FileHash: result.FileHash,
			Genre:    result.Genre,
			TempoBPM: result.Features.TempoBPM,
			Low:      result.Features.LowRatio,
			Mid:      result.Features.MidRatio,
			High:     result.Features.HighRatio,
		})
		if err != nil {
			log.Printf("[STORE] %v", err)
		}
	}

	return result
}

// computeFileHash hashes path, size and the first and last 64KB for change detection
func computeFileHash(path string, size int64) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s:%d", path, size)

	f, err := os.Open(path)
	if err != nil {
		return hex.EncodeToString(hasher.Sum(nil))[:16]
	}
	defer f.Close()

	buf := make([]byte, 65536)
	n, _ := io.ReadFull(f, buf)
	hasher.Write(buf[:n])

	if size > int64(len(buf)) {
		if _, err := f.Seek(-int64(len(buf)), io.SeekEnd); err == nil {
			n, _ = io.ReadFull(f, buf)
			hasher.Write(buf[:n])
		}
	}

	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
