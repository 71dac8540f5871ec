// Package ipc implements the Master↔Worker messaging transport of
// SPEC_FULL.md §11.5: a localhost-bound WebSocket carrying heartbeat,
// progress, result, and cancel frames, generalized from the teacher's
// cmd/noisefs-webui duplex usage of gorilla/websocket (an Upgrader plus
// WriteJSON calls serialized by a per-connection mutex, with a blocking
// ReadJSON loop watching for the peer closing).
package ipc

import "time"

// FrameType is the "type" discriminator of every frame exchanged over
// the WebSocket, fixing §2 item 9's informal "inter-process messaging"
// to the concrete schema SPEC_FULL.md §12 specifies.
type FrameType string

const (
	FrameHeartbeat FrameType = "heartbeat"
	FrameProgress  FrameType = "progress"
	FrameResult    FrameType = "result"
	FrameCancel    FrameType = "cancel"
)

// Frame is the wire envelope for every message on the channel. Exactly
// one of the payload fields is populated, matching Type.
type Frame struct {
	Type      FrameType         `json:"type"`
	Directory string            `json:"directory"`
	Sent      time.Time         `json:"sent"`
	Heartbeat *HeartbeatPayload `json:"heartbeat,omitempty"`
	Progress  *ProgressPayload  `json:"progress,omitempty"`
	Result    *ResultPayload    `json:"result,omitempty"`
}

// HeartbeatPayload is sent by a Worker on heartbeat.interval_seconds
// cadence so the Master can detect a hung Worker via
// heartbeat.timeout_seconds.
type HeartbeatPayload struct {
	PID            int    `json:"pid"`
	State          string `json:"state"`
	FilesSeen      int64  `json:"files_seen"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
}

// ProgressPayload is sent at stage transitions and every N processed
// files (§4.6).
type ProgressPayload struct {
	State          string `json:"state"`
	FilesProcessed int64  `json:"files_processed"`
	TotalFiles     int64  `json:"total_files"`
	CurrentFile    string `json:"current_file,omitempty"`
}

// ResultPayload is the Worker's final report, sent once before it
// closes the connection and exits.
type ResultPayload struct {
	State          string `json:"state"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
	Err            string `json:"err,omitempty"`
}

func heartbeatFrame(dir string, now time.Time, p HeartbeatPayload) Frame {
	return Frame{Type: FrameHeartbeat, Directory: dir, Sent: now, Heartbeat: &p}
}

func progressFrame(dir string, now time.Time, p ProgressPayload) Frame {
	return Frame{Type: FrameProgress, Directory: dir, Sent: now, Progress: &p}
}

func resultFrame(dir string, now time.Time, p ResultPayload) Frame {
	return Frame{Type: FrameResult, Directory: dir, Sent: now, Result: &p}
}

func cancelFrame(dir string, now time.Time) Frame {
	return Frame{Type: FrameCancel, Directory: dir, Sent: now}
}
