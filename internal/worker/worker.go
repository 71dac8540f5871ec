// Package worker implements the Worker of SPEC_FULL.md §4.6: the
// single-directory state machine that drives one round of
// scan → diff → (parse → chunk → embed → commit) per file, reporting
// progress to the Master over internal/ipc and absorbing per-file
// faults via internal/errorhandler. Generalized from the teacher's
// preference for an explicit state field plus a driving Run loop (see
// pkg/core/client's connection lifecycle) over a generic FSM library —
// no example repo in the pack imports one.
package worker

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/chunking"
	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/dbview"
	"github.com/TheEntropyCollective/docanalyzer/internal/errorhandler"
	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/ipc"
	"github.com/TheEntropyCollective/docanalyzer/internal/lockmanager"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
	"github.com/TheEntropyCollective/docanalyzer/internal/parser"
	"github.com/TheEntropyCollective/docanalyzer/internal/scanner"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/metrics"
)

// ReadFile abstracts the filesystem read between Scanning and Parsing
// so tests can substitute an in-memory source; production code passes
// os.ReadFile.
type ReadFile func(path string) ([]byte, error)

// Worker runs the pipeline for exactly one directory.
type Worker struct {
	Directory string
	Config    *config.Config

	Facade   *facade.Facade
	Chunking *chunking.Manager
	DBView   *dbview.View
	IPC      *ipc.Client // nil when running without Master supervision (e.g. tests, standalone mode)
	Metrics  *metrics.Sink
	Log      *logging.Logger

	ReadFile ReadFile
	Now      func() time.Time

	progressEvery int

	// filesSeen/filesProcessed/filesFailed back heartbeat's live counters;
	// heartbeatLoop reads them concurrently with Run's writes, so every
	// access goes through sync/atomic.
	filesSeen      int64
	filesProcessed int64
	filesFailed    int64
}

// New builds a Worker. ipcClient may be nil (no progress/heartbeat
// reporting, no cancellation signal). sink/log may be nil.
func New(dir string, cfg *config.Config, f *facade.Facade, view *dbview.View, ipcClient *ipc.Client, sink *metrics.Sink, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	if sink == nil {
		sink = metrics.NewSink()
	}
	return &Worker{
		Directory:     dir,
		Config:        cfg,
		Facade:        f,
		Chunking:      chunking.New(f, cfg.Chunking),
		DBView:        view,
		IPC:           ipcClient,
		Metrics:       sink,
		Log:           log.WithComponent("worker").WithField("directory", dir),
		ReadFile:      os.ReadFile,
		Now:           time.Now,
		progressEvery: 25,
	}
}

// Report is the Worker's final disposition, covering every transition
// SPEC_FULL.md §4.6 names.
type Report struct {
	Directory  string
	FinalState model.WorkerState
	Files      []model.FileResult
	Err        string
}

// Run drives the full state machine to completion: Spawned → Locking →
// {LockDenied | Scanning → Diffing → Processing → Finalizing} → Exited,
// or → Failed from any stage on an unrecoverable error. ctx cancellation
// (directly, or via the IPC client's cancel frame) is observed at the
// next suspension point and triggers the Cancelled terminal status.
func (w *Worker) Run(ctx context.Context) Report {
	state := model.WorkerSpawned
	w.emitProgress(state, 0, 0, "")

	if w.IPC != nil {
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		defer stopHeartbeat()
		go w.heartbeatLoop(hbCtx, &state)
	}

	state = model.WorkerLocking
	w.emitProgress(state, 0, 0, "")

	handle, err := lockmanager.Acquire(w.Directory, w.Now)
	if err != nil {
		if pe, ok := err.(*coreerrors.ProcessingError); ok && pe.Kind == coreerrors.AlreadyLocked {
			return w.finish(&state, model.WorkerLockDenied, nil, "")
		}
		return w.finish(&state, model.WorkerFailed, nil, err.Error())
	}
	defer lockmanager.Release(handle, w.Now)
	w.Metrics.AddLockAcquisition()

	state = model.WorkerScanning
	w.emitProgress(state, 0, 0, "")

	scanResult, err := scanner.Scan(w.Directory, w.scanOptions(), nil)
	if err != nil {
		return w.finish(&state, model.WorkerFailed, nil, err.Error())
	}
	w.Metrics.AddFilesScanned(int64(len(scanResult.Files)))
	atomic.StoreInt64(&w.filesSeen, int64(len(scanResult.Files)))

	state = model.WorkerDiffing
	w.emitProgress(state, 0, int64(len(scanResult.Files)), "")

	toProcess := scanResult.Files
	if w.DBView != nil {
		indexed, err := w.DBView.Refresh(ctx, w.Directory)
		if err != nil {
			return w.finish(&state, model.WorkerFailed, nil, err.Error())
		}
		bloomFilter := dbview.BuildHashBloom(indexed)
		toProcess = dbview.Diff(scanResult.Files, indexed, bloomFilter)
	}

	if cancelled(ctx, w.IPC) {
		return w.finish(&state, model.WorkerCancelled, nil, "")
	}

	state = model.WorkerProcessing
	w.emitProgress(state, 0, int64(len(toProcess)), "")

	var results []model.FileResult
	handler := errorhandler.New(w.retryPolicy())
	for i, file := range toProcess {
		if cancelled(ctx, w.IPC) {
			return w.finish(&state, model.WorkerCancelled, results, "")
		}

		result, procErr := handler.Run(ctx, func(ctx context.Context, attempt int) (model.FileResult, *coreerrors.ProcessingError) {
			return w.processOne(ctx, file)
		})
		if procErr != nil {
			if !procErr.Kind.FileScoped() {
				return w.finish(&state, model.WorkerFailed, results, procErr.Error())
			}
			if result.Outcome == "" {
				result.Outcome = model.FileFailed
			}
			result.Err = procErr.Error()
			w.Metrics.AddFilesFailed(1)
			atomic.AddInt64(&w.filesFailed, 1)
		} else {
			switch result.Outcome {
			case model.FileCommitted:
				w.Metrics.AddFilesProcessed(1)
				w.Metrics.AddChunksCommitted(int64(result.ChunkCount))
				atomic.AddInt64(&w.filesProcessed, 1)
			case model.FileSkippedEmpty, model.FileSkippedTooLarge, model.FileSkippedUnsupported:
				w.Metrics.AddFilesSkipped(1)
				atomic.AddInt64(&w.filesProcessed, 1)
			case model.FileRejected:
				w.Metrics.AddFilesFailed(1)
				atomic.AddInt64(&w.filesFailed, 1)
			}
		}
		results = append(results, result)

		if (i+1)%w.progressEvery == 0 {
			w.emitProgress(state, int64(i+1), int64(len(toProcess)), file.Path)
		}
	}

	state = model.WorkerFinalizing
	w.emitProgress(state, int64(len(results)), int64(len(toProcess)), "")
	_ = lockmanager.SetStatus(handle, model.LockStatusCompleting)

	return w.finish(&state, model.WorkerExited, results, "")
}

func (w *Worker) processOne(ctx context.Context, file model.FileRecord) (model.FileResult, *coreerrors.ProcessingError) {
	data, err := w.ReadFile(file.Path)
	if err != nil {
		return model.FileResult{Path: file.Path}, coreerrors.New(coreerrors.FileIOError, "worker.read", w.Directory, err, w.Now()).WithFile(file.Path, 1)
	}

	p := parser.ForExtension(file.Extension)
	if p == nil {
		return model.FileResult{Path: file.Path, Outcome: model.FileSkippedUnsupported}, nil
	}

	parsed, err := p.Parse(file.Path, data)
	if err != nil {
		return model.FileResult{Path: file.Path}, coreerrors.New(coreerrors.ParseError, "worker.parse", w.Directory, err, w.Now()).WithFile(file.Path, 1)
	}

	return w.Chunking.Process(ctx, file, parsed.Blocks, w.Config.Watch.MaxFileSize)
}

func (w *Worker) retryPolicy() coreerrors.RetryPolicy {
	return coreerrors.RetryPolicy{
		BaseDelay:   w.Config.Retry.BaseDelay(),
		MaxDelay:    w.Config.Retry.MaxDelay(),
		MaxAttempts: w.Config.Retry.MaxAttempts,
	}
}

func (w *Worker) finish(state *model.WorkerState, final model.WorkerState, results []model.FileResult, errStr string) Report {
	*state = final
	w.emitResult(final, results, errStr)
	return Report{Directory: w.Directory, FinalState: final, Files: results, Err: errStr}
}

func (w *Worker) scanOptions() scanner.Options {
	return scanner.Options{
		Recursive:         w.Config.Watch.Recursive,
		AllowedExtensions: w.Config.Watch.SupportedFormats,
		MaxFileSize:       w.Config.Watch.MaxFileSize,
		ComputeHash:       true,
	}
}

// heartbeatLoop sends a HeartbeatPayload on heartbeat.interval_seconds
// cadence until ctx is cancelled (Run returning cancels it via its
// deferred stopHeartbeat). state is read without synchronization since
// it is only ever written by Run's own goroutine between heartbeat
// ticks; a torn read surfaces, at worst, one stale state string. The
// file counters are read via sync/atomic since Run's processing loop
// updates them concurrently with this goroutine's reads.
func (w *Worker) heartbeatLoop(ctx context.Context, state *model.WorkerState) {
	interval := w.Config.Heartbeat.Interval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.IPC.SendHeartbeat(ipc.HeartbeatPayload{
				PID:            os.Getpid(),
				State:          string(*state),
				FilesSeen:      atomic.LoadInt64(&w.filesSeen),
				FilesProcessed: atomic.LoadInt64(&w.filesProcessed),
				FilesFailed:    atomic.LoadInt64(&w.filesFailed),
			})
		}
	}
}

func (w *Worker) emitProgress(state model.WorkerState, processed, total int64, current string) {
	if w.IPC == nil {
		return
	}
	_ = w.IPC.SendProgress(ipc.ProgressPayload{
		State:          string(state),
		FilesProcessed: processed,
		TotalFiles:     total,
		CurrentFile:    current,
	})
}

func (w *Worker) emitResult(state model.WorkerState, results []model.FileResult, errStr string) {
	if w.IPC == nil {
		return
	}
	var processed, failed int64
	for _, r := range results {
		switch r.Outcome {
		case model.FileFailed, model.FileRejected:
			failed++
		default:
			processed++
		}
	}
	_ = w.IPC.SendResult(ipc.ResultPayload{
		State:          string(state),
		FilesProcessed: processed,
		FilesFailed:    failed,
		Err:            errStr,
	})
}

func cancelled(ctx context.Context, client *ipc.Client) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if client == nil {
		return false
	}
	select {
	case <-client.Cancelled():
		return true
	default:
		return false
	}
}
