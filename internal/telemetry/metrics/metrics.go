// Package metrics exposes the counters the command surface's
// get_system_stats / get_processing_stats methods report, as plain
// atomic counters rather than a specific metrics backend — the teacher
// never imports a metrics library either (its own pkg/core/client
// counters are hand-rolled), so this core follows suit.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Sink accumulates fleet-wide counters. A single Sink is shared by the
// Master and surfaced read-only to the command surface; Workers report
// their own counts in heartbeat/result messages, which the Master folds
// into its WorkerRecord table rather than into this Sink directly.
type Sink struct {
	filesScanned     int64
	filesProcessed   int64
	filesFailed      int64
	filesSkipped     int64
	chunksCommitted  int64
	lockAcquisitions int64
	retriesByKind    sync.Map
	activeWorkers    int64
}

// NewSink returns an empty Sink.
func NewSink() *Sink { return &Sink{} }

func (s *Sink) AddFilesScanned(n int64)    { atomic.AddInt64(&s.filesScanned, n) }
func (s *Sink) AddFilesProcessed(n int64)  { atomic.AddInt64(&s.filesProcessed, n) }
func (s *Sink) AddFilesFailed(n int64)     { atomic.AddInt64(&s.filesFailed, n) }
func (s *Sink) AddFilesSkipped(n int64)    { atomic.AddInt64(&s.filesSkipped, n) }
func (s *Sink) AddChunksCommitted(n int64) { atomic.AddInt64(&s.chunksCommitted, n) }
func (s *Sink) AddLockAcquisition()        { atomic.AddInt64(&s.lockAcquisitions, 1) }
func (s *Sink) SetActiveWorkers(n int64)   { atomic.StoreInt64(&s.activeWorkers, n) }

// AddRetry increments the retry counter for a given error kind (passed
// as a plain string to avoid an import cycle with internal/coreerrors).
func (s *Sink) AddRetry(kind string) {
	v, _ := s.retriesByKind.LoadOrStore(kind, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// Snapshot is an immutable point-in-time read of the Sink, suitable for
// JSON encoding by the command surface.
type Snapshot struct {
	FilesScanned     int64            `json:"files_scanned"`
	FilesProcessed   int64            `json:"files_processed"`
	FilesFailed      int64            `json:"files_failed"`
	FilesSkipped     int64            `json:"files_skipped"`
	ChunksCommitted  int64            `json:"chunks_committed"`
	LockAcquisitions int64            `json:"lock_acquisitions"`
	ActiveWorkers    int64            `json:"active_workers"`
	RetriesByKind    map[string]int64 `json:"retries_by_kind"`
}

// Snapshot returns a consistent-enough snapshot of all counters. Exact
// cross-counter consistency is not guaranteed under concurrent writers
// (each counter is read independently), which is acceptable for a
// monitoring surface.
func (s *Sink) Snapshot() Snapshot {
	retries := map[string]int64{}
	s.retriesByKind.Range(func(k, v interface{}) bool {
		retries[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return Snapshot{
		FilesScanned:     atomic.LoadInt64(&s.filesScanned),
		FilesProcessed:   atomic.LoadInt64(&s.filesProcessed),
		FilesFailed:      atomic.LoadInt64(&s.filesFailed),
		FilesSkipped:     atomic.LoadInt64(&s.filesSkipped),
		ChunksCommitted:  atomic.LoadInt64(&s.chunksCommitted),
		LockAcquisitions: atomic.LoadInt64(&s.lockAcquisitions),
		ActiveWorkers:    atomic.LoadInt64(&s.activeWorkers),
		RetriesByKind:    retries,
	}
}
