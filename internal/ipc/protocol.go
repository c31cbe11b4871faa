// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/austinkregel/local-media/vizd/internal/config"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus        CommandType = "status"
	CmdGetConfig     CommandType = "getConfig"
	CmdStartAnalysis CommandType = "startAnalysis"
	CmdStopAnalysis  CommandType = "stopAnalysis"
	CmdGetMetrics    CommandType = "getMetrics"
	CmdExport        CommandType = "exportSnapshot"
	CmdReset         CommandType = "reset"
	CmdSetClassifier CommandType = "setClassifier"

	// Metrics streaming
	CmdSubscribeMetrics   CommandType = "subscribeMetrics"
	CmdUnsubscribeMetrics CommandType = "unsubscribeMetrics"

	// Playback source
	CmdPlay CommandType = "play"
	CmdStop CommandType = "stop"

	// Batch classification and the store
	CmdClassifyFile      CommandType = "classifyFile"
	CmdClassifyLibrary   CommandType = "classifyLibrary"
	CmdGetWorkerStatus   CommandType = "getWorkerStatus"
	CmdStopWorker        CommandType = "stopWorker"
	CmdPauseWorker       CommandType = "pauseWorker"
	CmdResumeWorker      CommandType = "resumeWorker"
	CmdGetClassification CommandType = "getClassification"
	CmdListExports       CommandType = "listExports"
	CmdGetExport         CommandType = "getExport"
)

// PushMetrics is the push message type carrying live metrics
const PushMetrics = "metrics"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PlayRequest is the data for a play command
type PlayRequest struct {
	Path string `json:"path"`
}

// ExportRequest is the data for an exportSnapshot command
type ExportRequest struct {
	// Save persists the snapshot to the store
	Save bool `json:"save"`
}

// ExportResponse is the response to an exportSnapshot command
type ExportResponse struct {
	Snapshot analysis.Snapshot `json:"snapshot"`
	// ID of the stored export when Save was requested
	ID int64 `json:"id,omitempty"`
}

// SetClassifierRequest is the data for a setClassifier command
type SetClassifierRequest struct {
	Kind string `json:"kind"` // "live" or "batch"
}

// PathRequest is the data for classifyFile and getClassification
type PathRequest struct {
	Path string `json:"path"`
}

// ClassifyLibraryRequest is the data for a classifyLibrary command
type ClassifyLibraryRequest struct {
	Paths []string `json:"paths"`
}

// ListExportsRequest is the data for a listExports command
type ListExportsRequest struct {
	Limit int `json:"limit"`
}

// GetExportRequest is the data for a getExport command
type GetExportRequest struct {
	ID int64 `json:"id"`
}

// ClassificationResponse describes one classified file
type ClassificationResponse struct {
	Path       string  `json:"path"`
	Genre      string  `json:"genre"`
	TempoBPM   float64 `json:"tempoBpm"`
	Low        float64 `json:"low"`
	Mid        float64 `json:"mid"`
	High       float64 `json:"high"`
	AnalyzedAt int64   `json:"analyzedAt,omitempty"`
}

// PlaybackStatus reports the playback source
type PlaybackStatus struct {
	State    string `json:"state"`
	Path     string `json:"path,omitempty"`
	Position int64  `json:"position"`
	Duration int64  `json:"duration"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	Analyzing    bool                   `json:"analyzing"`
	Source       string                 `json:"source"`
	Classifier   string                 `json:"classifier"`
	TrackerState string                 `json:"trackerState"`
	Ticks        uint64                 `json:"ticks"`
	Subscribers  int                    `json:"subscribers"`
	Playback     *PlaybackStatus        `json:"playback,omitempty"`
	Worker       *analysis.WorkerStatus `json:"worker,omitempty"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath string         `json:"configPath"`
	Config     *config.Config `json:"config"`
}

// MetricsPush is the payload of a metrics push message
type MetricsPush struct {
	Metrics   analysis.Metrics `json:"metrics"`
	Timestamp int64            `json:"timestamp"` // Unix ms
	Ticks     uint64           `json:"ticks"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}
