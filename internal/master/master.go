// Package master implements the Master of SPEC_FULL.md §4.8: the
// long-running parent process that admits directories, spawns and
// monitors Worker child processes, sweeps orphaned locks, and drains
// the fleet on shutdown. Generalized from the teacher's pattern of a
// control-plane struct holding a guarded state table mutated only by
// its own background loops (pkg/core/client's connection/session
// bookkeeping), adapted here to OS processes instead of peer
// connections.
package master

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/ipc"
	"github.com/TheEntropyCollective/docanalyzer/internal/lockmanager"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/metrics"
)

// Process abstracts a spawned Worker so Master can be driven by a fake
// in tests instead of a real child process.
type Process interface {
	Pid() int
	Wait() (exitCode int, err error)
	Kill() error
}

// Spawner starts a Worker process for dir and returns a handle to it.
type Spawner func(dir string) (Process, error)

// execProcess adapts *exec.Cmd to Process.
type execProcess struct{ cmd *exec.Cmd }

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// DefaultSpawner re-execs the running binary with "-mode=worker
// -dir=<path>", per SPEC_FULL.md §10.5: Worker processes that own a
// single directory are real OS processes, not goroutines, without a
// second build target.
func DefaultSpawner(configPath string) Spawner {
	return func(dir string) (Process, error) {
		args := []string{"-mode=worker", "-dir=" + dir}
		if configPath != "" {
			args = append(args, "-config="+configPath)
		}
		cmd := exec.Command(os.Args[0], args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &execProcess{cmd: cmd}, nil
	}
}

// Deps are Master's constructor arguments. Per SPEC_FULL.md §10.8
// there is no package-level state: every collaborator is passed in
// explicitly, which is what lets a test build several independent
// Masters in one binary.
type Deps struct {
	Config  *config.Config
	Hub     *ipc.Hub
	Spawn   Spawner
	Facade  *facade.Facade
	Log     *logging.Logger
	Metrics *metrics.Sink
	Now     func() time.Time
}

// Master owns fleet admission and the WorkerRecord table.
type Master struct {
	cfg     *config.Config
	hub     *ipc.Hub
	spawn   Spawner
	facade  *facade.Facade
	log     *logging.Logger
	metrics *metrics.Sink
	now     func() time.Time

	mu          sync.Mutex
	workers     map[string]*model.WorkerRecord
	procs       map[string]Process
	exitSignals map[string]chan struct{}
	draining    bool
}

func New(deps Deps) *Master {
	if deps.Log == nil {
		deps.Log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewSink()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Master{
		cfg:         deps.Config,
		hub:         deps.Hub,
		spawn:       deps.Spawn,
		facade:      deps.Facade,
		log:         deps.Log.WithComponent("master"),
		metrics:     deps.Metrics,
		now:         deps.Now,
		workers:     make(map[string]*model.WorkerRecord),
		procs:       make(map[string]Process),
		exitSignals: make(map[string]chan struct{}),
	}
}

func terminal(s model.WorkerState) bool {
	switch s {
	case model.WorkerLockDenied, model.WorkerFailed, model.WorkerCancelled, model.WorkerExited:
		return true
	default:
		return false
	}
}

func stateForExitCode(code int) model.WorkerState {
	switch code {
	case 0:
		return model.WorkerExited
	case 1:
		return model.WorkerLockDenied
	case 3:
		return model.WorkerCancelled
	default:
		return model.WorkerFailed
	}
}

// StartWatching admits dir, enforcing the fleet cap and the
// per-directory uniqueness invariant, and spawns a Worker for it.
func (m *Master) StartWatching(dir string) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return fmt.Errorf("master is draining, not admitting %s", dir)
	}
	if rec, ok := m.workers[dir]; ok && !terminal(rec.State) {
		m.mu.Unlock()
		return fmt.Errorf("%s already has an active worker", dir)
	}
	active := m.activeCountLocked()
	if active >= m.cfg.Fleet.MaxProcesses {
		m.mu.Unlock()
		return fmt.Errorf("fleet at capacity (%d/%d)", active, m.cfg.Fleet.MaxProcesses)
	}
	m.mu.Unlock()

	proc, err := m.spawn(dir)
	if err != nil {
		return fmt.Errorf("spawn worker for %s: %w", dir, err)
	}

	now := m.now()
	rec := &model.WorkerRecord{PID: proc.Pid(), Directory: dir, State: model.WorkerSpawned, StartedAt: now, LastHeartbeat: now}

	m.mu.Lock()
	m.workers[dir] = rec
	m.procs[dir] = proc
	m.exitSignals[dir] = make(chan struct{})
	active = m.activeCountLocked()
	m.mu.Unlock()

	m.metrics.SetActiveWorkers(int64(active))
	go m.awaitExit(dir, proc)
	return nil
}

func (m *Master) activeCountLocked() int {
	n := 0
	for _, rec := range m.workers {
		if !terminal(rec.State) {
			n++
		}
	}
	return n
}

func (m *Master) awaitExit(dir string, proc Process) {
	code, err := proc.Wait()

	m.mu.Lock()
	rec, ok := m.workers[dir]
	if ok {
		if err != nil {
			rec.State = model.WorkerFailed
			rec.LastError = err.Error()
		} else {
			rec.State = stateForExitCode(code)
		}
	}
	delete(m.procs, dir)
	if ch, ok := m.exitSignals[dir]; ok {
		close(ch)
		delete(m.exitSignals, dir)
	}
	active := m.activeCountLocked()
	m.mu.Unlock()

	m.metrics.SetActiveWorkers(int64(active))
}

// StopWatching signals the Worker currently owning dir to cancel, via
// the IPC cancel frame. Compensation and lock release are the
// Worker's own responsibility once it observes the frame.
func (m *Master) StopWatching(dir string) error {
	m.mu.Lock()
	_, ok := m.workers[dir]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker is watching %s", dir)
	}
	if !m.hub.Cancel(dir) {
		return fmt.Errorf("worker for %s is not connected over ipc", dir)
	}
	return nil
}

// GetWatchStatus returns the current WorkerRecord for dir.
func (m *Master) GetWatchStatus(dir string) (model.WorkerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.workers[dir]
	if !ok {
		return model.WorkerRecord{}, false
	}
	return *rec, true
}

// ListWatchedDirectories returns every directory Master has admitted,
// in a stable order, whether or not its Worker is still running.
func (m *Master) ListWatchedDirectories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := make([]string, 0, len(m.workers))
	for d := range m.workers {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Snapshot returns a copy of every WorkerRecord, for get_processing_stats.
func (m *Master) Snapshot() []model.WorkerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WorkerRecord, 0, len(m.workers))
	for _, rec := range m.workers {
		out = append(out, *rec)
	}
	return out
}

// QueueStatus is get_queue_status's projection. Scheduling is
// cooperative and static (§4.8): there is no pending-work queue, only
// an admitted-vs-capacity accounting.
type QueueStatus struct {
	ActiveWorkers int
	MaxProcesses  int
}

func (m *Master) QueueStatus() QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return QueueStatus{ActiveWorkers: m.activeCountLocked(), MaxProcesses: m.cfg.Fleet.MaxProcesses}
}

// MetricsSnapshot exposes the Master's telemetry counters for
// get_system_stats.
func (m *Master) MetricsSnapshot() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// Health reports upstream service reachability for health_check. It is
// the Facade's own health probe, not a core-internal check.
func (m *Master) Health(ctx context.Context) map[string]facade.ServiceStatus {
	if m.facade == nil {
		return nil
	}
	return m.facade.Health(ctx)
}

// HandleFrame is the ipc.Handler wired into the Hub constructed by the
// caller; it folds heartbeat/progress/result frames into the
// WorkerRecord table. The authoritative terminal state still comes
// from the OS exit code observed in awaitExit, not from a result
// frame, since the frame can arrive slightly before the process
// actually exits.
func (m *Master) HandleFrame(dir string, frame ipc.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.workers[dir]
	if !ok {
		return
	}
	switch frame.Type {
	case ipc.FrameHeartbeat:
		if frame.Heartbeat == nil {
			return
		}
		rec.LastHeartbeat = m.now()
		rec.FilesSeen = frame.Heartbeat.FilesSeen
		rec.FilesProcessed = frame.Heartbeat.FilesProcessed
		rec.FilesFailed = frame.Heartbeat.FilesFailed
		if s := model.WorkerState(frame.Heartbeat.State); s != "" {
			rec.State = s
		}
	case ipc.FrameProgress:
		if frame.Progress == nil {
			return
		}
		rec.LastHeartbeat = m.now()
		rec.FilesProcessed = frame.Progress.FilesProcessed
		if s := model.WorkerState(frame.Progress.State); s != "" {
			rec.State = s
		}
	case ipc.FrameResult:
		if frame.Result == nil {
			return
		}
		rec.LastHeartbeat = m.now()
		rec.FilesProcessed = frame.Result.FilesProcessed
		rec.FilesFailed = frame.Result.FilesFailed
		if frame.Result.Err != "" {
			rec.LastError = frame.Result.Err
		}
	}
}

// reclaimLock asks the Lock Manager to free dir's lock if its owner is
// dead, using the same dead-owner detection Acquire already performs:
// a successful Acquire-then-Release either finds the directory
// unlocked (no-op) or reclaims a dead owner's stale lock and releases
// it immediately, leaving the directory free. A live owner's lock is
// left untouched (AlreadyLocked is not an error here).
func reclaimLock(dir string, now func() time.Time) error {
	h, err := lockmanager.Acquire(dir, now)
	if err != nil {
		if pe, ok := err.(*coreerrors.ProcessingError); ok && pe.Kind == coreerrors.AlreadyLocked {
			return nil
		}
		return err
	}
	return lockmanager.Release(h, now)
}

// MonitorHeartbeats runs until ctx is cancelled, terminating and
// reclaiming the lock of any Worker silent for longer than
// heartbeat.timeout_seconds.
func (m *Master) MonitorHeartbeats(ctx context.Context) {
	interval := m.cfg.Heartbeat.Timeout() / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.terminateHungWorkers()
		}
	}
}

func (m *Master) terminateHungWorkers() {
	timeout := m.cfg.Heartbeat.Timeout()
	if timeout <= 0 {
		return
	}
	now := m.now()

	m.mu.Lock()
	var hung []string
	for dir, rec := range m.workers {
		if terminal(rec.State) {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > timeout {
			hung = append(hung, dir)
		}
	}
	m.mu.Unlock()

	for _, dir := range hung {
		m.log.Warnf("worker for %s exceeded heartbeat timeout, terminating", dir)
		m.terminateAndReclaim(dir)
	}
}

func (m *Master) terminateAndReclaim(dir string) {
	m.mu.Lock()
	proc := m.procs[dir]
	rec := m.workers[dir]
	m.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
	if rec != nil {
		m.mu.Lock()
		rec.State = model.WorkerFailed
		rec.LastError = string(coreerrors.HeartbeatTimeout)
		m.mu.Unlock()
	}
	if err := reclaimLock(dir, m.now); err != nil {
		m.log.Warnf("reclaim lock for %s after termination: %v", dir, err)
	}
}

// SweepOrphanLocks runs until ctx is cancelled, periodically reclaiming
// any configured directory's lock whose owning pid is dead.
func (m *Master) SweepOrphanLocks(ctx context.Context) {
	interval := time.Duration(m.cfg.Watch.ScanInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, dir := range m.cfg.Watch.Directories {
				if err := reclaimLock(dir, m.now); err != nil {
					m.log.Warnf("orphan-lock sweep for %s: %v", dir, err)
				}
			}
		}
	}
}

// Drain implements the graceful-shutdown sequence of §4.8: stop
// admission, signal every active Worker to cancel, wait up to
// fleet.drain_grace_seconds, then force-terminate and reclaim the
// locks of any survivor.
func (m *Master) Drain(ctx context.Context) {
	m.mu.Lock()
	m.draining = true
	var dirs []string
	var waitChans []chan struct{}
	for dir, rec := range m.workers {
		if terminal(rec.State) {
			continue
		}
		dirs = append(dirs, dir)
		if ch, ok := m.exitSignals[dir]; ok {
			waitChans = append(waitChans, ch)
		}
	}
	m.mu.Unlock()

	for _, dir := range dirs {
		m.hub.Cancel(dir)
	}

	grace := time.Duration(m.cfg.Fleet.DrainGraceSeconds) * time.Second
	drainCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

waitLoop:
	for _, ch := range waitChans {
		select {
		case <-ch:
		case <-drainCtx.Done():
			break waitLoop
		}
	}

	m.mu.Lock()
	var stragglers []string
	for dir, rec := range m.workers {
		if !terminal(rec.State) {
			stragglers = append(stragglers, dir)
		}
	}
	m.mu.Unlock()

	for _, dir := range stragglers {
		m.log.Warnf("worker for %s did not exit within the drain grace period, forcing", dir)
		m.terminateAndReclaim(dir)
	}
}
