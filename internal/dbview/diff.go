package dbview

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// BuildHashBloom returns a Bloom filter over the content hashes already
// present in indexed, per SPEC_FULL.md §11.4: a fast negative short-
// circuit ahead of the per-path comparison below, avoiding a lookup
// into the index for files that provably were never seen before. A
// positive is not proof of membership; Diff always falls through to
// the exact comparison either way.
func BuildHashBloom(indexed []model.IndexedFileRecord) *bloom.BloomFilter {
	bf := bloom.NewWithEstimates(uint(len(indexed)+1)*4, 0.01)
	for _, r := range indexed {
		if r.ContentHash != "" {
			bf.AddString(r.ContentHash)
		}
	}
	return bf
}

// Diff computes which scanned files need (re)processing against the
// indexed set, per spec.md §4.6's Diffing transition: a file needs
// processing when it is missing from the store, when its content hash
// mismatches the indexed hash (compared only when both sides have one),
// or — absent a usable hash comparison — when its mtime is strictly newer than the
// indexed mtime. bloomFilter may be nil, in which case every file falls
// through to the exact comparison.
func Diff(scanned []model.FileRecord, indexed []model.IndexedFileRecord, bloomFilter *bloom.BloomFilter) []model.FileRecord {
	byPath := make(map[string]model.IndexedFileRecord, len(indexed))
	for _, r := range indexed {
		byPath[r.Path] = r
	}

	var toProcess []model.FileRecord
	for _, f := range scanned {
		if needsProcessing(f, byPath, bloomFilter) {
			toProcess = append(toProcess, f)
		}
	}
	return toProcess
}

func needsProcessing(f model.FileRecord, byPath map[string]model.IndexedFileRecord, bloomFilter *bloom.BloomFilter) bool {
	if f.ContentHash != "" && bloomFilter != nil && !bloomFilter.TestString(f.ContentHash) {
		// Definitely never indexed under this content, anywhere in the
		// directory's mirror: no need to consult byPath at all.
		return true
	}

	existing, ok := byPath[f.Path]
	if !ok {
		return true
	}
	if existing.Status == model.IndexedStatusDeleted || existing.Status == model.IndexedStatusFailed {
		return true
	}
	if f.ContentHash != "" && existing.ContentHash != "" {
		return f.ContentHash != existing.ContentHash
	}
	return f.ModTime.After(existing.IndexedModTime)
}
