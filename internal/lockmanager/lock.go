// Package lockmanager implements the cross-process directory lock
// protocol of SPEC_FULL.md §4.1: PID-stamped lock files with liveness
// checks and orphan reclamation. It generalizes the PID-file pattern
// used across the retrieval pack (CloudZero's app/utils/lock, Apex's
// internal/filelock): an exclusive file create, a JSON payload naming
// the owning process, and a liveness probe via signal 0.
//
// All synchronization is on the on-disk artifact, never an in-process
// mutex — acquire/release are meaningful across OS processes, which is
// the whole point of this package.
package lockmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// LockFileName is the fixed basename of the lock artifact, per
// SPEC_FULL.md §6.
const LockFileName = ".processing.lock"

// Handle is a held lock returned by Acquire. It must be released by the
// same process that acquired it.
type Handle struct {
	Path string
	Lock model.DirectoryLock

	// unknown holds any JSON object fields on disk that this version of
	// the schema doesn't model, so SetStatus's rewrite (e.g.
	// status=completing on the way out) doesn't drop them.
	unknown map[string]json.RawMessage
}

func lockPath(dir string) string {
	return filepath.Join(dir, LockFileName)
}

// Acquire implements the five-step protocol of SPEC_FULL.md §4.1. now is
// injected so tests can control CreatedAt deterministically.
func Acquire(dir string, now func() time.Time) (*Handle, error) {
	path := lockPath(dir)

	h, err := tryCreate(dir, path, now())
	if err == nil {
		return h, nil
	}
	if !os.IsExist(err) {
		return nil, &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.acquire", Directory: dir, Cause: err.Error(), Retryable: true, Time: now()}
	}

	// Step 2/3: the file exists; read and parse it.
	existing, raw, parseErr := readLock(path)
	if parseErr != nil {
		// Corrupt lock: reclaim by deleting and retrying acquire exactly
		// once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.acquire", Directory: dir, Cause: rmErr.Error(), Retryable: true, Time: now()}
		}
		h, err := tryCreate(dir, path, now())
		if err != nil {
			if os.IsExist(err) {
				return nil, alreadyLocked(dir, now())
			}
			return nil, &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.acquire", Directory: dir, Cause: err.Error(), Retryable: true, Time: now()}
		}
		return h, nil
	}

	if isAlive(existing.ProcessID) {
		return nil, alreadyLocked(dir, now())
	}

	// Owner is dead: reclaim by deleting and retrying exactly once.
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.acquire", Directory: dir, Cause: rmErr.Error(), Retryable: true, Time: now()}
	}
	h2, err := tryCreate(dir, path, now())
	if err != nil {
		if os.IsExist(err) {
			return nil, alreadyLocked(dir, now())
		}
		return nil, &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.acquire", Directory: dir, Cause: err.Error(), Retryable: true, Time: now()}
	}
	_ = raw // raw fields of a reclaimed lock are discarded; the lock is new
	return h2, nil
}

func alreadyLocked(dir string, now time.Time) *coreerrors.ProcessingError {
	return &coreerrors.ProcessingError{Kind: coreerrors.AlreadyLocked, Stage: "lock.acquire", Directory: dir, Retryable: false, Time: now}
}

// tryCreate performs the single atomic, exclusive write of step 1.
func tryCreate(dir, path string, now time.Time) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lock := model.DirectoryLock{
		ProcessID:    os.Getpid(),
		CreatedAt:    now.UTC(),
		Directory:    dir,
		Status:       model.LockStatusActive,
		LockFilePath: path,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Handle{Path: path, Lock: lock, unknown: map[string]json.RawMessage{}}, nil
}

func readLock(path string) (model.DirectoryLock, map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DirectoryLock{}, nil, err
	}

	var lock model.DirectoryLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return model.DirectoryLock{}, nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.DirectoryLock{}, nil, err
	}
	for _, known := range []string{"process_id", "created_at", "directory", "status", "lock_file_path"} {
		delete(raw, known)
	}
	return lock, raw, nil
}

// isAlive reports whether pid names a live process the current user can
// signal. A pid owned by another user that rejects the probe with
// EPERM is conservatively treated as alive per SPEC_FULL.md §4.1 step 3.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}

// Release verifies the caller owns the lock (current pid matches the
// recorded pid) and deletes the file. Releasing a lock the caller does
// not own fails with NotOwner and leaves the file untouched.
func Release(h *Handle, now func() time.Time) error {
	current, _, err := readLock(h.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Already gone (e.g. reclaimed by a sweep); release is then
			// vacuously satisfied.
			return nil
		}
		return &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.release", Directory: h.Lock.Directory, Cause: err.Error(), Retryable: true, Time: now()}
	}
	if current.ProcessID != os.Getpid() {
		return &coreerrors.ProcessingError{Kind: coreerrors.NotOwner, Stage: "lock.release", Directory: h.Lock.Directory, Cause: fmt.Sprintf("lock owned by pid %d, not %d", current.ProcessID, os.Getpid()), Retryable: false, Time: now()}
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return &coreerrors.ProcessingError{Kind: coreerrors.LockIOError, Stage: "lock.release", Directory: h.Lock.Directory, Cause: err.Error(), Retryable: true, Time: now()}
	}
	return nil
}

// Inspect is a pure read: it returns the parsed lock contents, or
// present=false if no lock file exists. It never modifies the
// filesystem.
func Inspect(dir string) (lock model.DirectoryLock, present bool, err error) {
	lock, _, err = readLock(lockPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return model.DirectoryLock{}, false, nil
		}
		return model.DirectoryLock{}, false, err
	}
	return lock, true, nil
}

// SetStatus rewrites the lock file's status field in place (e.g. to
// "completing" while Finalizing runs), preserving unknown fields and
// all other known fields, without releasing ownership. The caller must
// already hold the lock.
func SetStatus(h *Handle, status model.LockStatus) error {
	lock, unknown, err := readLock(h.Path)
	if err != nil {
		return err
	}
	if lock.ProcessID != os.Getpid() {
		return fmt.Errorf("lock at %s is not owned by this process", h.Path)
	}
	lock.Status = status

	merged := map[string]interface{}{
		"process_id":     lock.ProcessID,
		"created_at":     lock.CreatedAt,
		"directory":      lock.Directory,
		"status":         lock.Status,
		"lock_file_path": lock.LockFilePath,
	}
	for k, v := range unknown {
		merged[k] = v
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.Path, data, 0o644); err != nil {
		return err
	}
	h.Lock = lock
	h.unknown = unknown
	return nil
}
