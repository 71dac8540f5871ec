// Package chunking implements the Chunking Manager of SPEC_FULL.md §4.5:
// the two-phase conversion of a file's parsed Blocks into finalized,
// committed Chunks. Phase 1 (Prepare) mints a source_id, splits
// oversize Block bodies, and round-trips the provisional chunks through
// segmentation/embedding via the Facade. Phase 2 (Commit) writes the
// finalized chunks in ordinal-ordered batches, compensating with
// delete_by_source on any batch failure so a file's chunks are visible
// all-or-nothing. Generalized from the teacher's pkg/core/blocks
// splitter (fixed-size splitting of oversize content) and its two-phase
// write discipline in pkg/core/client (prepare remote state, then
// commit, unwinding on failure).
package chunking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// Manager runs the Prepare/Commit pipeline for one file at a time. It
// holds no per-file state between calls, so one Manager is shared
// safely by a Worker processing files sequentially.
type Manager struct {
	facade *facade.Facade
	cfg    config.ChunkingConfig
}

func New(f *facade.Facade, cfg config.ChunkingConfig) *Manager {
	return &Manager{facade: f, cfg: cfg}
}

// Process runs both phases for one file and returns its FileResult.
// maxFileSize is the oversize threshold from watch.max_file_size; a
// file whose on-disk size exceeds it is rejected before any upstream
// call.
func (m *Manager) Process(ctx context.Context, file model.FileRecord, blocks []model.Block, maxFileSize int64) (model.FileResult, *coreerrors.ProcessingError) {
	result := model.FileResult{Path: file.Path}

	if len(blocks) == 0 {
		result.Outcome = model.FileSkippedEmpty
		return result, nil
	}
	if maxFileSize > 0 && file.Size > maxFileSize {
		result.Outcome = model.FileSkippedTooLarge
		return result, nil
	}

	sourceID := uuid.New().String()
	result.SourceID = sourceID

	finalized, procErr := m.prepare(ctx, file.Path, sourceID, blocks)
	if procErr != nil {
		result.Outcome = model.FileFailed
		result.Err = procErr.Cause
		return result, procErr
	}

	if err := facade.ValidateChunks(finalized); err != nil {
		result.Outcome = model.FileRejected
		result.Err = err.Error()
		return result, coreerrors.New(coreerrors.Rejected, "chunking.validate", file.Path, err, time.Now())
	}

	if procErr := m.commit(ctx, file.Path, sourceID, finalized); procErr != nil {
		result.Outcome = model.FileFailed
		result.Err = procErr.Cause
		return result, procErr
	}

	result.Outcome = model.FileCommitted
	result.ChunkCount = len(finalized)
	return result, nil
}

// prepare mints the provisional chunks for every Block (splitting
// oversize bodies per chunking.max_block_size), sends them through
// segmentation/embedding, and returns the finalized chunk list in the
// order the Facade returned it.
func (m *Manager) prepare(ctx context.Context, sourcePath, sourceID string, blocks []model.Block) ([]model.Chunk, *coreerrors.ProcessingError) {
	var provisional []model.Chunk
	for _, b := range blocks {
		for _, body := range splitBody(b.Body, m.cfg.MaxBlockSize) {
			provisional = append(provisional, model.Chunk{
				SourcePath: sourcePath,
				SourceID:   sourceID,
				Body:       body,
				Status:     model.ChunkStatusNew,
				Kind:       b.Kind,
				Ordinal:    b.Ordinal,
				Title:      b.Title,
				StartLine:  b.StartLine,
				EndLine:    b.EndLine,
			})
		}
	}

	finalized, err := m.facade.SegmentAndEmbed(ctx, sourcePath, provisional)
	if err != nil {
		kind := coreerrors.NewClassifier("chunking.prepare").Classify(err)
		return nil, coreerrors.New(kind, "chunking.prepare", "", err, time.Now()).WithFile(sourcePath, 1)
	}
	return finalized, nil
}

// commit writes finalized in ordinal-ordered batches no larger than
// chunking.max_blocks_per_batch. A failed batch triggers
// delete_by_source before the error is surfaced, per §4.5's
// all-or-nothing contract.
func (m *Manager) commit(ctx context.Context, sourcePath, sourceID string, finalized []model.Chunk) *coreerrors.ProcessingError {
	ordered := orderByOrdinal(finalized)
	batchSize := m.cfg.MaxBlocksPerBatch
	if batchSize <= 0 {
		batchSize = len(ordered)
	}

	for start := 0; start < len(ordered); start += batchSize {
		end := start + batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		if _, err := m.facade.CommitChunks(ctx, ordered[start:end]); err != nil {
			if _, delErr := m.facade.DeleteBySource(ctx, sourceID); delErr != nil {
				err = fmt.Errorf("%w (compensation also failed: %v)", err, delErr)
			}
			kind := coreerrors.NewClassifier("chunking.commit").Classify(err)
			return coreerrors.New(kind, "chunking.commit", "", err, time.Now()).WithFile(sourcePath, 1)
		}
	}
	return nil
}

// splitBody divides body into pieces no larger than maxSize, on
// rune boundaries, so a Block larger than the configured maximum still
// becomes one or more valid provisional chunks rather than being
// rejected outright.
func splitBody(body string, maxSize int) []string {
	if maxSize <= 0 || len(body) <= maxSize {
		return []string{body}
	}

	var parts []string
	runes := []rune(body)
	var cur []rune
	curLen := 0
	for _, r := range runes {
		rl := len(string(r))
		if curLen+rl > maxSize && len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
			curLen = 0
		}
		cur = append(cur, r)
		curLen += rl
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func orderByOrdinal(chunks []model.Chunk) []model.Chunk {
	out := make([]model.Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Ordinal < out[j-1].Ordinal; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
