// Package scanner implements the Directory Scanner of SPEC_FULL.md §4.2:
// a recursive, deterministic walk of one directory that yields
// FileRecords, filtered by extension/size/pattern/readability, with an
// optional progress channel and a per-round Bloom filter over the
// content hashes of the accepted files (Result.HashBloom). The Worker's
// diff does not read this filter; it builds its own over the indexed
// hashes (dbview.BuildHashBloom).
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// Options governs one Scan call, per SPEC_FULL.md §4.2.
type Options struct {
	Recursive         bool
	AllowedExtensions []string // case-insensitive; default applied by caller
	MaxFileSize       int64    // 0 = no limit
	FollowSymlinks    bool
	IncludeGlobs      []string // matched against the path relative to dir
	ExcludeGlobs      []string
	ComputeHash       bool
}

// Warning is a non-fatal per-entry fault: a skip, not an abort.
type Warning struct {
	Path string
	Err  *coreerrors.ProcessingError
}

// Progress is emitted on the caller-supplied channel, if any.
type Progress struct {
	FilesSeen     int
	FilesAccepted int
}

// Result is everything one Scan call produces.
type Result struct {
	Files    []model.FileRecord
	Warnings []Warning
	// HashBloom is a Bloom filter over the SHA-256 hashes of every
	// accepted file in this round (only populated when Options.ComputeHash
	// is set). It supports a fast negative membership check ahead of the
	// Database View's authoritative per-file diff; a positive always
	// falls through to the real comparison.
	HashBloom *bloom.BloomFilter
}

// Scan walks dir depth-first, sorted by name ascending within each
// directory (the order os.ReadDir already returns), and yields
// FileRecords for every file passing the filters in Options. progress
// may be nil.
func Scan(dir string, opts Options, progress chan<- Progress) (*Result, error) {
	root, err := os.Open(dir)
	if err != nil {
		return nil, &coreerrors.ProcessingError{Kind: coreerrors.DirectoryUnavailable, Stage: "scan", Directory: dir, Cause: err.Error(), Retryable: false}
	}
	root.Close()

	res := &Result{}
	if opts.ComputeHash {
		res.HashBloom = bloom.NewWithEstimates(100000, 0.01)
	}

	seen, accepted := 0, 0
	err = walk(dir, dir, opts, func(rec model.FileRecord) {
		accepted++
		res.Files = append(res.Files, rec)
		if res.HashBloom != nil && rec.ContentHash != "" {
			res.HashBloom.AddString(rec.ContentHash)
		}
		if progress != nil {
			progress <- Progress{FilesSeen: seen, FilesAccepted: accepted}
		}
	}, func(w Warning) {
		res.Warnings = append(res.Warnings, w)
	}, &seen)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func walk(root, dir string, opts Options, accept func(model.FileRecord), warn func(Warning), seen *int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		warn(Warning{Path: dir, Err: &coreerrors.ProcessingError{Kind: coreerrors.FileIOError, Stage: "scan", Directory: root, Cause: err.Error(), Retryable: false}})
		return nil
	}

	names := make([]string, len(entries))
	byName := make(map[string]fs.DirEntry, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
		byName[e.Name()] = e
	}
	sort.Strings(names)

	for _, name := range names {
		entry := byName[name]
		path := filepath.Join(dir, name)

		info, err := entry.Info()
		if err != nil {
			*seen++
			warn(Warning{Path: path, Err: &coreerrors.ProcessingError{Kind: coreerrors.FileIOError, Stage: "scan", Directory: root, Cause: err.Error(), Retryable: false}})
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				continue
			}
			info, err = os.Stat(path)
			if err != nil {
				*seen++
				warn(Warning{Path: path, Err: &coreerrors.ProcessingError{Kind: coreerrors.FileIOError, Stage: "scan", Directory: root, Cause: err.Error(), Retryable: false}})
				continue
			}
		}

		if info.IsDir() {
			if opts.Recursive {
				if err := walk(root, path, opts, accept, warn, seen); err != nil {
					return err
				}
			}
			continue
		}

		*seen++
		if !matches(path, root, info, opts) {
			continue
		}
		if f, err := os.Open(path); err != nil {
			warn(Warning{Path: path, Err: &coreerrors.ProcessingError{Kind: coreerrors.FileIOError, Stage: "scan", Directory: root, Cause: err.Error(), Retryable: false}})
			continue
		} else {
			f.Close()
		}

		rec := model.FileRecord{
			Path:      path,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Extension: strings.ToLower(filepath.Ext(path)),
		}
		if opts.ComputeHash {
			hash, err := hashFile(path)
			if err != nil {
				warn(Warning{Path: path, Err: &coreerrors.ProcessingError{Kind: coreerrors.FileIOError, Stage: "scan", Directory: root, Cause: err.Error(), Retryable: false}})
				continue
			}
			rec.ContentHash = hash
		}
		accept(rec)
	}
	return nil
}

func matches(path, root string, info os.FileInfo, opts Options) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(opts.AllowedExtensions) > 0 {
		ok := false
		for _, allowed := range opts.AllowedExtensions {
			if strings.ToLower(allowed) == ext {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
		return false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	if len(opts.ExcludeGlobs) > 0 {
		for _, pattern := range opts.ExcludeGlobs {
			if ok, _ := filepath.Match(pattern, rel); ok {
				return false
			}
		}
	}
	if len(opts.IncludeGlobs) > 0 {
		matched := false
		for _, pattern := range opts.IncludeGlobs {
			if ok, _ := filepath.Match(pattern, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DefaultExtensions is the SPEC_FULL.md §6 default supported-format set.
var DefaultExtensions = []string{".txt", ".md"}
