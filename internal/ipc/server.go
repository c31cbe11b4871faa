package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/austinkregel/local-media/vizd/internal/audio"
	"github.com/austinkregel/local-media/vizd/internal/config"
	"github.com/austinkregel/local-media/vizd/internal/scanner"
	"github.com/austinkregel/local-media/vizd/internal/types"
)

const (
	defaultPushInterval = 100 * time.Millisecond

	// Writes to a client that stops reading fail after this long
	writeTimeout = 5 * time.Second
	// Pushes queued per subscriber; further pushes are dropped
	pushBuffer = 4
)

// Player is the playback source controlled over IPC
type Player interface {
	Play(path string) error
	Stop()
	Status() audio.Status
}

// Options wires the server to the daemon's components. Only Session is
// required; commands for missing components answer with an error.
type Options struct {
	SocketPath   string
	Session      *analysis.Session
	ConfigMgr    *config.Manager
	Player       Player
	Worker       *analysis.Worker
	Store        *analysis.Store
	Source       string
	PushInterval time.Duration
}

// client serializes writes so pushes never interleave with responses
type client struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(data)
	return err
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	session    *analysis.Session
	configMgr  *config.Manager
	player     Player
	worker     *analysis.Worker
	store      *analysis.Store
	source     string

	listener net.Listener
	baseCtx  context.Context
	mu       sync.Mutex
	clients  map[net.Conn]*client

	// Metrics streaming
	subsMu       sync.RWMutex
	subs         map[*client]chan []byte
	pushInterval time.Duration
	lastPush     atomic.Int64
}

// NewServer creates a new IPC server
func NewServer(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("ipc server needs a session")
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = defaultPushInterval
	}

	return &Server{
		socketPath:   opts.SocketPath,
		session:      opts.Session,
		configMgr:    opts.ConfigMgr,
		player:       opts.Player,
		worker:       opts.Worker,
		store:        opts.Store,
		source:       opts.Source,
		baseCtx:      context.Background(),
		clients:      make(map[net.Conn]*client),
		subs:         make(map[*client]chan []byte),
		pushInterval: opts.PushInterval,
	}, nil
}

// Start listens on the socket and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve(ctx)
	return nil
}

// Listen creates the unix socket
func (s *Server) Listen() error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	log.Printf("[IPC] Creating socket at %s", s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	return nil
}

// Serve accepts connections until ctx is cancelled, then cleans up
func (s *Server) Serve(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	log.Printf("[IPC] Server listening, waiting for connections...")

	go s.acceptLoop(ctx)

	<-ctx.Done()

	log.Printf("[IPC] Shutting down server...")

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	log.Printf("[IPC] Closed %d client connections", clientCount)

	s.listener.Close()
	os.RemoveAll(s.socketPath)

	log.Printf("[IPC] Server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("[IPC] Accept error: %v", err)
				continue
			}
		}

		c := &client{conn: conn}

		s.mu.Lock()
		s.clients[conn] = c
		clientCount := len(s.clients)
		s.mu.Unlock()

		log.Printf("[IPC] New client connection (active: %d)", clientCount)

		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.removeSubscriber(c)
		log.Printf("[IPC] Client disconnected (active: %d)", clientCount)
	}()

	reader := bufio.NewReader(c.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read line (newline-delimited JSON)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[IPC] Read error: %v", err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request format: %v", err)
			s.sendResponse(c, NewErrorResponse("invalid request format"))
			continue
		}

		// Skip verbose logging for frequent polling commands
		isPollingCmd := req.Cmd == CmdStatus || req.Cmd == CmdGetMetrics || req.Cmd == CmdGetWorkerStatus

		if !isPollingCmd {
			log.Printf("[IPC] Command: %s", req.Cmd)
		}

		resp := s.handleRequest(ctx, c, req)

		if !isPollingCmd && !resp.Success {
			log.Printf("[IPC] Response: error=%q", resp.Error)
		}

		if err := s.sendResponse(c, resp); err != nil {
			log.Printf("[IPC] Send error: %v", err)
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdStartAnalysis:
		return s.handleStartAnalysis()
	case CmdStopAnalysis:
		return s.handleStopAnalysis()
	case CmdGetMetrics:
		return success(s.session.CurrentMetrics())
	case CmdExport:
		return s.handleExport(req)
	case CmdReset:
		s.session.Reset()
		log.Printf("[ANALYSIS] Session reset")
		return success(s.session.CurrentMetrics())
	case CmdSetClassifier:
		return s.handleSetClassifier(req)
	case CmdSubscribeMetrics:
		return s.handleSubscribe(c)
	case CmdUnsubscribeMetrics:
		return s.handleUnsubscribe(c)
	case CmdPlay:
		return s.handlePlay(req)
	case CmdStop:
		return s.handleStop()
	case CmdClassifyFile:
		return s.handleClassifyFile(ctx, req)
	case CmdClassifyLibrary:
		return s.handleClassifyLibrary(ctx, req)
	case CmdGetWorkerStatus:
		return s.handleGetWorkerStatus()
	case CmdStopWorker:
		return s.handleStopWorker()
	case CmdPauseWorker:
		return s.handlePauseWorker()
	case CmdResumeWorker:
		return s.handleResumeWorker()
	case CmdGetClassification:
		return s.handleGetClassification(req)
	case CmdListExports:
		return s.handleListExports(req)
	case CmdGetExport:
		return s.handleGetExport(req)
	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

// success wraps data in a success response
func success(data interface{}) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

// decodeData unmarshals optional request data into v
func decodeData(req *Request, v interface{}) error {
	if len(req.Data) == 0 {
		return nil
	}
	return json.Unmarshal(req.Data, v)
}

func (s *Server) handleStatus() *Response {
	status := StatusResponse{
		Analyzing:    s.session.IsAnalyzing(),
		Source:       s.source,
		Classifier:   s.session.Classifier().Name(),
		TrackerState: s.session.TrackerState().String(),
		Ticks:        s.session.Ticks(),
		Subscribers:  s.subscriberCount(),
	}

	if s.player != nil {
		ps := s.player.Status()
		status.Playback = &PlaybackStatus{
			State:    string(ps.State),
			Path:     ps.Path,
			Position: ps.PositionMs,
			Duration: ps.DurationMs,
		}
	}

	if s.worker != nil {
		ws := s.worker.GetStatus()
		status.Worker = &ws
	}

	return success(status)
}

func (s *Server) handleGetConfig() *Response {
	if s.configMgr == nil {
		return NewErrorResponse("config unavailable")
	}
	return success(ConfigResponse{
		ConfigPath: s.configMgr.GetPath(),
		Config:     s.configMgr.Get(),
	})
}

func (s *Server) handleStartAnalysis() *Response {
	if err := s.session.Start(); err != nil {
		return NewErrorResponse(err.Error())
	}
	log.Printf("[ANALYSIS] Analysis started")
	return s.handleStatus()
}

func (s *Server) handleStopAnalysis() *Response {
	s.session.Stop()
	log.Printf("[ANALYSIS] Analysis stopped")
	return s.handleStatus()
}

func (s *Server) handleExport(req *Request) *Response {
	var exportReq ExportRequest
	if err := decodeData(req, &exportReq); err != nil {
		return NewErrorResponse("invalid export request")
	}

	snap, err := s.session.ExportSnapshot()
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	out := ExportResponse{Snapshot: snap}
	if exportReq.Save {
		if s.store == nil {
			return NewErrorResponse("store disabled")
		}
		id, err := s.store.SaveExport(snap)
		if err != nil {
			log.Printf("[STORE] %v", err)
			return NewErrorResponse("failed to save export")
		}
		out.ID = id
		log.Printf("[STORE] Saved export %d (%d entries)", id, len(snap.AnalysisHistory))
	}

	return success(out)
}

func (s *Server) handleSetClassifier(req *Request) *Response {
	var setReq SetClassifierRequest
	if err := decodeData(req, &setReq); err != nil {
		return NewErrorResponse("invalid classifier request")
	}

	switch setReq.Kind {
	case "live", "mood", "batch", "genre":
	default:
		return NewErrorResponse(fmt.Sprintf("unknown classifier: %q", setReq.Kind))
	}

	c := analysis.NewClassifier(types.ParseClassifierKind(setReq.Kind))
	s.session.SetClassifier(c)
	log.Printf("[ANALYSIS] Classifier set to %s", c.Name())

	return success(map[string]string{"classifier": c.Name()})
}

func (s *Server) handlePlay(req *Request) *Response {
	if s.player == nil {
		return NewErrorResponse("playback source not active")
	}

	var playReq PlayRequest
	if err := decodeData(req, &playReq); err != nil {
		return NewErrorResponse("invalid play request")
	}
	if playReq.Path == "" {
		return NewErrorResponse("path is required")
	}

	if err := s.player.Play(playReq.Path); err != nil {
		log.Printf("[AUDIO] Play failed: %v", err)
		return NewErrorResponse(err.Error())
	}

	log.Printf("[AUDIO] Now playing: %s", playReq.Path)
	return s.handleStatus()
}

func (s *Server) handleStop() *Response {
	if s.player == nil {
		return NewErrorResponse("playback source not active")
	}
	s.player.Stop()
	return s.handleStatus()
}

func (s *Server) handleClassifyFile(ctx context.Context, req *Request) *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}

	var pathReq PathRequest
	if err := decodeData(req, &pathReq); err != nil || pathReq.Path == "" {
		return NewErrorResponse("path is required")
	}

	res := s.worker.ClassifyFile(ctx, pathReq.Path)
	if res.Error != nil {
		return NewErrorResponse(res.Error.Error())
	}

	c := analysis.Classification{
		Path:       res.Path,
		FileHash:   res.FileHash,
		Genre:      res.Genre,
		TempoBPM:   res.Features.TempoBPM,
		Low:        res.Features.LowRatio,
		Mid:        res.Features.MidRatio,
		High:       res.Features.HighRatio,
		AnalyzedAt: time.Now().Unix(),
	}
	if s.store != nil {
		if err := s.store.SaveClassification(c); err != nil {
			log.Printf("[STORE] %v", err)
		}
	}

	return success(classificationResponse(c))
}

func (s *Server) handleClassifyLibrary(ctx context.Context, req *Request) *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}

	var libReq ClassifyLibraryRequest
	if err := decodeData(req, &libReq); err != nil || len(libReq.Paths) == 0 {
		return NewErrorResponse("paths are required")
	}

	paths := scanner.Paths(scanner.Scan(ctx, libReq.Paths))
	if len(paths) == 0 {
		return NewErrorResponse("no audio files found")
	}

	// The batch outlives this connection
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	if err := s.worker.Start(base, paths); err != nil {
		return NewErrorResponse(err.Error())
	}

	log.Printf("[WORKER] Classifying %d files", len(paths))
	return success(s.worker.GetStatus())
}

func (s *Server) handleGetWorkerStatus() *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}
	return success(s.worker.GetStatus())
}

func (s *Server) handleStopWorker() *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}
	s.worker.Stop()
	return success(s.worker.GetStatus())
}

func (s *Server) handlePauseWorker() *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}
	if !s.worker.IsRunning() {
		return NewErrorResponse("no classification running")
	}
	s.worker.Pause()
	log.Printf("[WORKER] Paused")
	return success(s.worker.GetStatus())
}

func (s *Server) handleResumeWorker() *Response {
	if s.worker == nil {
		return NewErrorResponse("classification unavailable")
	}
	if !s.worker.IsRunning() {
		return NewErrorResponse("no classification running")
	}
	s.worker.Resume()
	log.Printf("[WORKER] Resumed")
	return success(s.worker.GetStatus())
}

func (s *Server) handleGetClassification(req *Request) *Response {
	if s.store == nil {
		return NewErrorResponse("store disabled")
	}

	var pathReq PathRequest
	if err := decodeData(req, &pathReq); err != nil || pathReq.Path == "" {
		return NewErrorResponse("path is required")
	}

	c, err := s.store.GetClassification(pathReq.Path)
	if errors.Is(err, analysis.ErrNotFound) {
		return NewErrorResponse("not classified")
	}
	if err != nil {
		log.Printf("[STORE] %v", err)
		return NewErrorResponse("store error")
	}

	return success(classificationResponse(c))
}

func (s *Server) handleListExports(req *Request) *Response {
	if s.store == nil {
		return NewErrorResponse("store disabled")
	}

	var listReq ListExportsRequest
	if err := decodeData(req, &listReq); err != nil {
		return NewErrorResponse("invalid list request")
	}

	records, err := s.store.ListExports(listReq.Limit)
	if err != nil {
		log.Printf("[STORE] %v", err)
		return NewErrorResponse("store error")
	}
	if records == nil {
		records = []analysis.ExportRecord{}
	}

	return success(records)
}

func (s *Server) handleGetExport(req *Request) *Response {
	if s.store == nil {
		return NewErrorResponse("store disabled")
	}

	var getReq GetExportRequest
	if err := decodeData(req, &getReq); err != nil || getReq.ID <= 0 {
		return NewErrorResponse("id is required")
	}

	rec, err := s.store.GetExport(getReq.ID)
	if errors.Is(err, analysis.ErrNotFound) {
		return NewErrorResponse("export not found")
	}
	if err != nil {
		log.Printf("[STORE] %v", err)
		return NewErrorResponse("store error")
	}

	// Hand the stored snapshot back as JSON, not as an escaped string
	resp := success(nil)
	resp.Data = json.RawMessage(rec.Body)
	return resp
}

func classificationResponse(c analysis.Classification) ClassificationResponse {
	return ClassificationResponse{
		Path:       c.Path,
		Genre:      c.Genre,
		TempoBPM:   c.TempoBPM,
		Low:        c.Low,
		Mid:        c.Mid,
		High:       c.High,
		AnalyzedAt: c.AnalyzedAt,
	}
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return c.send(data)
}

// Metrics subscription handlers

func (s *Server) handleSubscribe(c *client) *Response {
	s.subsMu.Lock()
	if _, ok := s.subs[c]; !ok {
		ch := make(chan []byte, pushBuffer)
		s.subs[c] = ch
		go s.pushLoop(c, ch)
	}
	count := len(s.subs)
	s.subsMu.Unlock()

	log.Printf("[IPC] Client subscribed to metrics (total: %d)", count)
	return success(map[string]bool{"subscribed": true})
}

func (s *Server) handleUnsubscribe(c *client) *Response {
	count := s.removeSubscriber(c)

	log.Printf("[IPC] Client unsubscribed from metrics (remaining: %d)", count)
	return success(map[string]bool{"subscribed": false})
}

// removeSubscriber stops pushes to c and returns the remaining count
func (s *Server) removeSubscriber(c *client) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[c]; ok {
		delete(s.subs, c)
		close(ch)
	}
	return len(s.subs)
}

// pushLoop writes queued pushes to one subscriber off the tick path.
// A failed write closes the connection, which unsubscribes it.
func (s *Server) pushLoop(c *client, ch <-chan []byte) {
	for msg := range ch {
		if err := c.send(msg); err != nil {
			log.Printf("[IPC] Dropping metrics subscriber: %v", err)
			c.conn.Close()
			for range ch {
			}
			return
		}
	}
}

func (s *Server) subscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

// PublishMetrics pushes metrics to subscribers, at most once per push
// interval. It is meant to be called from the session's tick callback.
func (s *Server) PublishMetrics(m analysis.Metrics) {
	s.publishAt(m, time.Now())
}

func (s *Server) publishAt(m analysis.Metrics, now time.Time) {
	last := s.lastPush.Load()
	if last != 0 && now.UnixNano()-last < int64(s.pushInterval) {
		return
	}
	if !s.lastPush.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	if s.subscriberCount() == 0 {
		return
	}

	msgBytes, err := NewPushMessage(PushMetrics, MetricsPush{
		Metrics:   m,
		Timestamp: now.UnixMilli(),
		Ticks:     s.session.Ticks(),
	})
	if err != nil {
		return
	}
	msgBytes = append(msgBytes, '\n')

	// Never block the caller: a subscriber with a full queue misses this push
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- msgBytes:
		default:
		}
	}
}
