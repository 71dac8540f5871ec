// Package model holds the data types shared across the directory
// processing core: the records that flow from the Scanner through the
// Parser and Chunking Manager into the vector store, and the records the
// Master keeps about its fleet.
package model

import "time"

// FileRecord identifies a file on disk that the pipeline may process.
// It is created once by the Scanner and never mutated afterward; later
// stages read it by value or pointer but do not change its fields.
type FileRecord struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Extension   string
	ContentHash string // hex-encoded sha256, empty until computed
}

// IndexedFileStatus is the status the vector store reports for a file it
// already knows about.
type IndexedFileStatus string

const (
	IndexedStatusActive  IndexedFileStatus = "active"
	IndexedStatusFailed  IndexedFileStatus = "failed"
	IndexedStatusDeleted IndexedFileStatus = "deleted"
)

// IndexedFileRecord is what the vector store (via the Facade, optionally
// mirrored by the Database View's local cache) already knows about a file.
type IndexedFileRecord struct {
	Path           string
	IndexedAt      time.Time
	IndexedModTime time.Time
	ContentHash    string
	ChunkCount     int
	Status         IndexedFileStatus
}

// BlockKind enumerates the structural element a Block represents.
type BlockKind string

const (
	BlockParagraph  BlockKind = "paragraph"
	BlockHeading    BlockKind = "heading"
	BlockListItem   BlockKind = "list_item"
	BlockCode       BlockKind = "code"
	BlockBlockquote BlockKind = "blockquote"
	BlockHorizontal BlockKind = "horizontal_rule"
)

// Block is a contiguous region of a source file produced by a Parser.
type Block struct {
	Body       string
	Kind       BlockKind
	StartByte  int
	EndByte    int
	StartLine  int
	EndLine    int
	Ordinal    int
	Title      string // heading text, list marker, etc.; optional
	Level      int    // heading level, 0 if not applicable
	Attributes map[string]string
}

// ChunkStatus is the lifecycle status of a Chunk as seen by the vector
// store.
type ChunkStatus string

const (
	ChunkStatusNew = ChunkStatus("NEW")
)

// Chunk is the final unit dispatched to the vector store. SourceID must
// be a syntactically valid UUIDv4 and is shared by every chunk produced
// from the same file.
type Chunk struct {
	SourcePath string
	SourceID   string
	Body       string
	Status     ChunkStatus

	// Metadata carried through from the originating Block. Not a
	// contract of the vector store; forwarded best-effort.
	Kind      BlockKind
	Ordinal   int
	Title     string
	StartLine int
	EndLine   int
}

// LockStatus is the status recorded in a DirectoryLock artifact.
type LockStatus string

const (
	LockStatusActive     LockStatus = "active"
	LockStatusCompleting LockStatus = "completing"
	LockStatusFailed     LockStatus = "failed"
)

// DirectoryLock mirrors the on-disk `<dir>/.processing.lock` JSON schema.
// Unknown fields encountered on disk are preserved verbatim on rewrite
// (see lockmanager.Handle).
type DirectoryLock struct {
	ProcessID    int        `json:"process_id"`
	CreatedAt    time.Time  `json:"created_at"`
	Directory    string     `json:"directory"`
	Status       LockStatus `json:"status"`
	LockFilePath string     `json:"lock_file_path"`
}

// WorkerState is one state in the Worker state machine of SPEC_FULL.md
// §4.6.
type WorkerState string

const (
	WorkerSpawned    WorkerState = "Spawned"
	WorkerLocking    WorkerState = "Locking"
	WorkerLockDenied WorkerState = "LockDenied"
	WorkerScanning   WorkerState = "Scanning"
	WorkerDiffing    WorkerState = "Diffing"
	WorkerProcessing WorkerState = "Processing"
	WorkerFinalizing WorkerState = "Finalizing"
	WorkerFailed     WorkerState = "Failed"
	WorkerCancelled  WorkerState = "Cancelled"
	WorkerExited     WorkerState = "Exited"
)

// WorkerRecord is the Master-side view of one child Worker process.
type WorkerRecord struct {
	PID            int
	Directory      string
	State          WorkerState
	StartedAt      time.Time
	LastHeartbeat  time.Time
	FilesSeen      int64
	FilesProcessed int64
	FilesFailed    int64
	LastError      string
}

// FileOutcome is the terminal disposition of a single file within a
// Worker run.
type FileOutcome string

const (
	FileCommitted          FileOutcome = "Committed"
	FileSkippedEmpty       FileOutcome = "Skipped-Empty"
	FileSkippedTooLarge    FileOutcome = "Skipped-TooLarge"
	FileSkippedUnsupported FileOutcome = "Skipped-Unsupported"
	FileRejected           FileOutcome = "Rejected"
	FileFailed             FileOutcome = "Failed"
)

// FileResult records how one file was handled during a Processing stage
// run, for inclusion in progress/result messages and the final report.
type FileResult struct {
	Path       string
	Outcome    FileOutcome
	SourceID   string
	ChunkCount int
	Err        string
}
