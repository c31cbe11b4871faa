package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/austinkregel/local-media/vizd/internal/audio"
)

type staticSource struct {
	freq analysis.FrequencyFrame
	td   analysis.TimeFrame
}

func (s *staticSource) SampleRate() int                         { return 44100 }
func (s *staticSource) FrequencyFrame() analysis.FrequencyFrame { return s.freq }
func (s *staticSource) TimeFrame() analysis.TimeFrame           { return s.td }

func newStaticSource() *staticSource {
	freq := make(analysis.FrequencyFrame, 1024)
	for i := 0; i < 8; i++ {
		freq[i] = 0.9
	}
	td := make(analysis.TimeFrame, 2048)
	for i := range td {
		if i%2 == 0 {
			td[i] = 0.5
		} else {
			td[i] = -0.5
		}
	}
	return &staticSource{freq: freq, td: td}
}

type fakePlayer struct {
	mu   sync.Mutex
	path string
}

func (p *fakePlayer) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.path = path
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.path = ""
}

func (p *fakePlayer) Status() audio.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return audio.Status{State: audio.StateStopped}
	}
	return audio.Status{State: audio.StatePlaying, Path: p.path}
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) call(cmd CommandType, data interface{}) *Response {
	c.t.Helper()

	req := &Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			c.t.Fatal(err)
		}
		req.Data = raw
	}
	line, err := EncodeRequest(req)
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}

	resp, err := DecodeResponse(c.readLine())
	if err != nil {
		c.t.Fatal(err)
	}
	return resp
}

func (c *testClient) readLine() []byte {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	return line
}

// startServer serves opts on a fresh socket and returns a connected client
func startServer(t *testing.T, opts Options) (*Server, *testClient) {
	t.Helper()

	// Short directory keeps the socket path under the unix limit
	dir, err := os.MkdirTemp("", "vizd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts.SocketPath = filepath.Join(dir, "s.sock")
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := net.Dial("unix", opts.SocketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func TestNewServerRequiresSession(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Error("Expected error without a session")
	}
}

func TestServerStatusAndMetricsDefaults(t *testing.T) {
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{}), Source: "demo"})

	resp := c.call(CmdStatus, nil)
	if !resp.Success {
		t.Fatalf("status failed: %s", resp.Error)
	}
	var status StatusResponse
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.Analyzing || status.Source != "demo" || status.Classifier != "live" {
		t.Errorf("Unexpected status %+v", status)
	}
	if status.Playback != nil || status.Worker != nil {
		t.Errorf("Expected no playback or worker sections, got %+v", status)
	}

	resp = c.call(CmdGetMetrics, nil)
	var m analysis.Metrics
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Key != "C" || m.Mood != "Unknown" || m.BPM != 0 {
		t.Errorf("Expected default metrics, got %+v", m)
	}
}

func TestServerStartWithoutSource(t *testing.T) {
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{})})

	resp := c.call(CmdStartAnalysis, nil)
	if resp.Success {
		t.Fatal("Expected start to fail without a source")
	}
	if resp.Error != analysis.ErrNoSource.Error() {
		t.Errorf("Unexpected error %q", resp.Error)
	}
}

func TestServerExportEmpty(t *testing.T) {
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{})})

	resp := c.call(CmdExport, nil)
	if resp.Success {
		t.Fatal("Expected export to fail before the first tick")
	}
	if resp.Error != "no analysis data available to export" {
		t.Errorf("Unexpected error %q", resp.Error)
	}
}

func TestServerExportAndStore(t *testing.T) {
	store, err := analysis.OpenStore(filepath.Join(t.TempDir(), "vizd.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	session := analysis.NewSession(analysis.SessionOptions{})
	session.SetSource(newStaticSource())
	_, c := startServer(t, Options{Session: session, Store: store})

	if resp := c.call(CmdStartAnalysis, nil); !resp.Success {
		t.Fatalf("start failed: %s", resp.Error)
	}

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		session.TickAt(start.Add(time.Duration(i) * 16 * time.Millisecond))
	}

	resp := c.call(CmdExport, ExportRequest{Save: true})
	if !resp.Success {
		t.Fatalf("export failed: %s", resp.Error)
	}
	var export ExportResponse
	if err := json.Unmarshal(resp.Data, &export); err != nil {
		t.Fatal(err)
	}
	if export.ID != 1 {
		t.Errorf("Expected stored id 1, got %d", export.ID)
	}
	if export.Snapshot.TotalSamples != 5 || len(export.Snapshot.AnalysisHistory) != 5 {
		t.Errorf("Expected 5 entries, got %d/%d", export.Snapshot.TotalSamples, len(export.Snapshot.AnalysisHistory))
	}

	resp = c.call(CmdListExports, ListExportsRequest{Limit: 10})
	var records []analysis.ExportRecord
	if err := json.Unmarshal(resp.Data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].TotalSamples != 5 {
		t.Errorf("Unexpected export records %+v", records)
	}

	resp = c.call(CmdGetExport, GetExportRequest{ID: 1})
	if !resp.Success {
		t.Fatalf("getExport failed: %s", resp.Error)
	}
	var snap analysis.Snapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatalf("Stored export is not a snapshot: %v", err)
	}
	if snap.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", snap.SampleRate)
	}

	if resp := c.call(CmdGetExport, GetExportRequest{ID: 99}); resp.Success {
		t.Error("Expected missing export to fail")
	}

	// Reset clears the session but keeps analysis running
	resp = c.call(CmdReset, nil)
	if !resp.Success {
		t.Fatalf("reset failed: %s", resp.Error)
	}
	if resp := c.call(CmdExport, nil); resp.Success {
		t.Error("Expected export to fail after reset")
	}
	if !session.IsAnalyzing() {
		t.Error("Reset should not stop analysis")
	}
}

func TestServerSaveWithoutStore(t *testing.T) {
	session := analysis.NewSession(analysis.SessionOptions{})
	session.SetSource(newStaticSource())
	session.Start()
	session.Tick()

	_, c := startServer(t, Options{Session: session})

	resp := c.call(CmdExport, ExportRequest{Save: true})
	if resp.Success || resp.Error != "store disabled" {
		t.Errorf("Expected store disabled error, got %+v", resp)
	}
	if resp := c.call(CmdListExports, nil); resp.Success {
		t.Error("Expected listExports to fail without a store")
	}
}

func TestServerSetClassifier(t *testing.T) {
	session := analysis.NewSession(analysis.SessionOptions{})
	_, c := startServer(t, Options{Session: session})

	resp := c.call(CmdSetClassifier, SetClassifierRequest{Kind: "batch"})
	if !resp.Success {
		t.Fatalf("setClassifier failed: %s", resp.Error)
	}
	if session.Classifier().Name() != "batch" {
		t.Errorf("Expected batch classifier, got %s", session.Classifier().Name())
	}

	if resp := c.call(CmdSetClassifier, SetClassifierRequest{Kind: "astrology"}); resp.Success {
		t.Error("Expected unknown classifier to fail")
	}
	if session.Classifier().Name() != "batch" {
		t.Error("Failed request should keep the previous classifier")
	}
}

func TestServerPlayback(t *testing.T) {
	session := analysis.NewSession(analysis.SessionOptions{})

	_, noPlayer := startServer(t, Options{Session: session})
	if resp := noPlayer.call(CmdPlay, PlayRequest{Path: "/music/a.flac"}); resp.Success {
		t.Error("Expected play to fail without a playback source")
	}

	player := &fakePlayer{}
	_, c := startServer(t, Options{Session: session, Player: player})

	if resp := c.call(CmdPlay, PlayRequest{}); resp.Success {
		t.Error("Expected play without path to fail")
	}

	resp := c.call(CmdPlay, PlayRequest{Path: "/music/a.flac"})
	if !resp.Success {
		t.Fatalf("play failed: %s", resp.Error)
	}
	var status StatusResponse
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.Playback == nil || status.Playback.State != "playing" || status.Playback.Path != "/music/a.flac" {
		t.Errorf("Unexpected playback status %+v", status.Playback)
	}

	c.call(CmdStop, nil)
	if player.Status().State != audio.StateStopped {
		t.Error("Expected player stopped")
	}
}

func TestServerClassificationWithoutWorker(t *testing.T) {
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{})})

	for _, cmd := range []CommandType{CmdClassifyFile, CmdClassifyLibrary, CmdGetWorkerStatus, CmdStopWorker} {
		if resp := c.call(cmd, PathRequest{Path: "/music/a.flac"}); resp.Success {
			t.Errorf("Expected %s to fail without a worker", cmd)
		}
	}
}

func TestServerUnknownCommand(t *testing.T) {
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{})})

	resp := c.call("rewind", nil)
	if resp.Success || !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("Expected unknown command error, got %+v", resp)
	}

	// A malformed line gets an error but keeps the connection usable
	c.conn.Write([]byte("{{{\n"))
	bad, err := DecodeResponse(c.readLine())
	if err != nil || bad.Success {
		t.Errorf("Expected error response for malformed line, got %+v (%v)", bad, err)
	}
	if resp := c.call(CmdStatus, nil); !resp.Success {
		t.Error("Expected connection to survive a malformed line")
	}
}

func TestServerMetricsPush(t *testing.T) {
	session := analysis.NewSession(analysis.SessionOptions{})
	srv, c := startServer(t, Options{Session: session, PushInterval: time.Second})

	resp := c.call(CmdSubscribeMetrics, nil)
	if !resp.Success {
		t.Fatalf("subscribe failed: %s", resp.Error)
	}

	now := time.Now()
	srv.publishAt(analysis.Metrics{BPM: 128, Key: "A", Mood: "Energetic"}, now)
	// Inside the push interval: dropped
	srv.publishAt(analysis.Metrics{BPM: 64}, now.Add(10*time.Millisecond))

	var msg PushMessage
	if err := json.Unmarshal(c.readLine(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != PushMetrics {
		t.Fatalf("Expected metrics push, got %q", msg.Type)
	}
	var push MetricsPush
	if err := json.Unmarshal(msg.Data, &push); err != nil {
		t.Fatal(err)
	}
	if push.Metrics.BPM != 128 {
		t.Errorf("Expected BPM 128, got %d", push.Metrics.BPM)
	}

	// The next line must be the status response, not the throttled push
	resp = c.call(CmdStatus, nil)
	var status StatusResponse
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatalf("Expected status response, got %s", resp.Data)
	}
	if status.Subscribers != 1 {
		t.Errorf("Expected 1 subscriber, got %d", status.Subscribers)
	}

	c.call(CmdUnsubscribeMetrics, nil)
	if srv.subscriberCount() != 0 {
		t.Error("Expected no subscribers after unsubscribe")
	}
}

func TestServerStalledSubscriberDoesNotBlockTicks(t *testing.T) {
	session := analysis.NewSession(analysis.SessionOptions{})
	session.SetSource(newStaticSource())
	if err := session.Start(); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Options{Session: session, PushInterval: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	session.SetOnTick(srv.PublishMetrics)

	// The peer never reads, so every write to serverEnd blocks
	serverEnd, peer := net.Pipe()
	defer peer.Close()
	defer serverEnd.Close()

	c := &client{conn: serverEnd}
	if resp := srv.handleSubscribe(c); !resp.Success {
		t.Fatal("subscribe failed")
	}
	defer srv.handleUnsubscribe(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			session.Tick()
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tick blocked on a subscriber that stopped reading")
	}
	if session.Ticks() != 50 {
		t.Errorf("Expected 50 ticks, got %d", session.Ticks())
	}
}

// blockingDecoder holds every decode until ctx is cancelled
type blockingDecoder struct{}

func (blockingDecoder) DecodePCM(ctx context.Context, path string, sampleRate, channels int, maxBytes int64) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServerWorkerPauseResume(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.flac"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0600); err != nil {
			t.Fatal(err)
		}
	}

	worker, err := analysis.NewWorker(analysis.WorkerConfig{MaxWorkers: 1, Decoder: blockingDecoder{}})
	if err != nil {
		t.Fatal(err)
	}
	_, c := startServer(t, Options{Session: analysis.NewSession(analysis.SessionOptions{}), Worker: worker})

	if resp := c.call(CmdPauseWorker, nil); resp.Success {
		t.Error("Expected pause to fail with no batch running")
	}

	if resp := c.call(CmdClassifyLibrary, ClassifyLibraryRequest{Paths: []string{dir}}); !resp.Success {
		t.Fatalf("classifyLibrary failed: %s", resp.Error)
	}

	statusOf := func(resp *Response) string {
		t.Helper()
		if !resp.Success {
			t.Fatalf("worker command failed: %s", resp.Error)
		}
		var ws analysis.WorkerStatus
		if err := json.Unmarshal(resp.Data, &ws); err != nil {
			t.Fatal(err)
		}
		return ws.Status
	}

	if got := statusOf(c.call(CmdPauseWorker, nil)); got != "paused" {
		t.Errorf("Expected paused, got %q", got)
	}
	if got := statusOf(c.call(CmdResumeWorker, nil)); got != "running" {
		t.Errorf("Expected running, got %q", got)
	}
	if got := statusOf(c.call(CmdStopWorker, nil)); got != "idle" {
		t.Errorf("Expected idle after stop, got %q", got)
	}
	if worker.IsRunning() {
		t.Error("Expected worker stopped")
	}
}
