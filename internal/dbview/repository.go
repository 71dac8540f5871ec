package dbview

import (
	"context"
	"fmt"

	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// replaceMirrorRows overwrites the mirror's rows for dir with records,
// inside one transaction so a concurrent reader never observes a
// partially-replaced directory.
func (v *View) replaceMirrorRows(ctx context.Context, dir string, records []model.IndexedFileRecord) error {
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM indexed_files WHERE directory = $1`, dir); err != nil {
		return fmt.Errorf("clear mirror rows for %s: %w", dir, err)
	}

	for _, r := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO indexed_files (
				directory, path, indexed_at, indexed_mod_time, content_hash, chunk_count, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (directory, path) DO UPDATE SET
				indexed_at = EXCLUDED.indexed_at,
				indexed_mod_time = EXCLUDED.indexed_mod_time,
				content_hash = EXCLUDED.content_hash,
				chunk_count = EXCLUDED.chunk_count,
				status = EXCLUDED.status`,
			dir, r.Path, r.IndexedAt, r.IndexedModTime, r.ContentHash, r.ChunkCount, string(r.Status),
		)
		if err != nil {
			return fmt.Errorf("upsert mirror row for %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror transaction: %w", err)
	}
	return nil
}

// MirrorRows reads the local mirror directly, for callers that accept
// advisory staleness (e.g. a command-surface status query) and want to
// avoid a Facade round trip. Returns an empty slice, not an error, if
// the directory has never been refreshed.
func (v *View) MirrorRows(ctx context.Context, dir string) ([]model.IndexedFileRecord, error) {
	rows, err := v.pool.Query(ctx, `
		SELECT path, indexed_at, indexed_mod_time, content_hash, chunk_count, status
		FROM indexed_files WHERE directory = $1 ORDER BY path`, dir)
	if err != nil {
		return nil, fmt.Errorf("query mirror rows for %s: %w", dir, err)
	}
	defer rows.Close()

	var out []model.IndexedFileRecord
	for rows.Next() {
		var r model.IndexedFileRecord
		var status string
		if err := rows.Scan(&r.Path, &r.IndexedAt, &r.IndexedModTime, &r.ContentHash, &r.ChunkCount, &status); err != nil {
			return nil, fmt.Errorf("scan mirror row: %w", err)
		}
		r.Status = model.IndexedFileStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
