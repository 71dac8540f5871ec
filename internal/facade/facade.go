package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// ServiceStatus is one entry of Health's per-service report.
type ServiceStatus struct {
	Healthy bool
	Latency time.Duration
	Error   string
}

// CommitResult is commit_chunks's result per SPEC_FULL.md §4.4.
type CommitResult struct {
	Created int
	IDs     []string
}

// Facade is the single object the Worker and Chunking Manager use to
// reach the three upstream services.
type Facade struct {
	vectorStore  *client
	segmentation *client
	embedding    *client
}

// New builds a Facade from the upstream.* section of Config.
func New(cfg map[string]config.UpstreamServiceConfig) *Facade {
	mk := func(name string) *client {
		svc := cfg[name]
		timeout := time.Duration(svc.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return newClient(svc.URL, timeout)
	}
	return &Facade{
		vectorStore:  mk(config.ServiceVectorStore),
		segmentation: mk(config.ServiceSegmentation),
		embedding:    mk(config.ServiceEmbedding),
	}
}

type indexedFileWire struct {
	Path           string `json:"path"`
	IndexedAt      string `json:"indexed_at"`
	IndexedModTime string `json:"indexed_mod_time"`
	ContentHash    string `json:"content_hash"`
	ChunkCount     int    `json:"chunk_count"`
	Status         string `json:"status"`
}

type listFilesParams struct {
	Directory string `json:"directory"`
}

type listFilesResult struct {
	Files []indexedFileWire `json:"files"`
}

// ListFiles calls the vector store's list_files, used by the Database
// View / Diffing stage for the authoritative file delta.
func (f *Facade) ListFiles(ctx context.Context, dir string) ([]model.IndexedFileRecord, error) {
	var res listFilesResult
	if err := f.vectorStore.call(ctx, "list_files", listFilesParams{Directory: dir}, &res); err != nil {
		return nil, wrapUpstream("list_files", dir, err)
	}

	out := make([]model.IndexedFileRecord, 0, len(res.Files))
	for _, w := range res.Files {
		rec := model.IndexedFileRecord{
			Path:        w.Path,
			ContentHash: w.ContentHash,
			ChunkCount:  w.ChunkCount,
			Status:      model.IndexedFileStatus(w.Status),
		}
		if t, err := time.Parse(time.RFC3339, w.IndexedAt); err == nil {
			rec.IndexedAt = t
		}
		if t, err := time.Parse(time.RFC3339, w.IndexedModTime); err == nil {
			rec.IndexedModTime = t
		}
		out = append(out, rec)
	}
	return out, nil
}

type chunkWire struct {
	SourcePath string `json:"source_path"`
	SourceID   string `json:"source_id"`
	Body       string `json:"body"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	Ordinal    int    `json:"ordinal,omitempty"`
	Title      string `json:"title,omitempty"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
}

func toWire(c model.Chunk) chunkWire {
	return chunkWire{
		SourcePath: c.SourcePath, SourceID: c.SourceID, Body: c.Body, Status: string(c.Status),
		Kind: string(c.Kind), Ordinal: c.Ordinal, Title: c.Title, StartLine: c.StartLine, EndLine: c.EndLine,
	}
}

func fromWire(w chunkWire) model.Chunk {
	return model.Chunk{
		SourcePath: w.SourcePath, SourceID: w.SourceID, Body: w.Body, Status: model.ChunkStatus(w.Status),
		Kind: model.BlockKind(w.Kind), Ordinal: w.Ordinal, Title: w.Title, StartLine: w.StartLine, EndLine: w.EndLine,
	}
}

type commitChunksParams struct {
	Chunks []chunkWire `json:"chunks"`
}

type commitChunksResult struct {
	Created int      `json:"created"`
	IDs     []string `json:"ids"`
}

// CommitChunks persists one batch of finalized chunks. The caller (the
// Chunking Manager) is responsible for batching and for issuing
// DeleteBySource compensation on failure; this call is not itself
// atomic across batches.
func (f *Facade) CommitChunks(ctx context.Context, chunks []model.Chunk) (CommitResult, error) {
	wire := make([]chunkWire, len(chunks))
	for i, c := range chunks {
		wire[i] = toWire(c)
	}

	var res commitChunksResult
	if err := f.vectorStore.call(ctx, "commit_chunks", commitChunksParams{Chunks: wire}, &res); err != nil {
		return CommitResult{}, wrapUpstream("commit_chunks", "", err)
	}
	return CommitResult{Created: res.Created, IDs: res.IDs}, nil
}

type deleteBySourceParams struct {
	SourceID string `json:"source_id"`
}

type deleteBySourceResult struct {
	Deleted int `json:"deleted"`
}

// DeleteBySource removes every chunk for sourceID. Per SPEC_FULL.md
// §4.4, deleting an already-absent source_id is success, not an error:
// an upstream "not found" response is absorbed here.
func (f *Facade) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	var res deleteBySourceResult
	err := f.vectorStore.call(ctx, "delete_by_source", deleteBySourceParams{SourceID: sourceID}, &res)
	if err == nil {
		return res.Deleted, nil
	}
	if rpcErr, ok := err.(*rpcError); ok && rpcErr.Code == rpcErrNotFound {
		return 0, nil
	}
	return 0, wrapUpstream("delete_by_source", sourceID, err)
}

// Health pings all three upstream services. Per SPEC_FULL.md §4.4, this
// operation never fails; any per-service error is reported inline.
func (f *Facade) Health(ctx context.Context) map[string]ServiceStatus {
	out := make(map[string]ServiceStatus, 3)
	check := func(name string, c *client) {
		start := time.Now()
		err := c.call(ctx, "health", nil, nil)
		status := ServiceStatus{Latency: time.Since(start)}
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Healthy = true
		}
		out[name] = status
	}
	check(config.ServiceVectorStore, f.vectorStore)
	check(config.ServiceSegmentation, f.segmentation)
	check(config.ServiceEmbedding, f.embedding)
	return out
}

type segmentEmbedParams struct {
	SourcePath string      `json:"source_path"`
	Chunks     []chunkWire `json:"chunks"`
}

type segmentEmbedResult struct {
	Chunks []chunkWire `json:"chunks"`
}

// SegmentAndEmbed sends the Chunking Manager's provisional chunks for
// one file through segmentation, then embedding, preserving the
// returned order. Either service may split or merge chunks; this
// facade does not reinterpret the result beyond decoding it.
func (f *Facade) SegmentAndEmbed(ctx context.Context, sourcePath string, provisional []model.Chunk) ([]model.Chunk, error) {
	wire := make([]chunkWire, len(provisional))
	for i, c := range provisional {
		wire[i] = toWire(c)
	}

	var segRes segmentEmbedResult
	if err := f.segmentation.call(ctx, "segment", segmentEmbedParams{SourcePath: sourcePath, Chunks: wire}, &segRes); err != nil {
		return nil, wrapUpstream("segment", sourcePath, err)
	}

	var embedRes segmentEmbedResult
	if err := f.embedding.call(ctx, "embed", segmentEmbedParams{SourcePath: sourcePath, Chunks: segRes.Chunks}, &embedRes); err != nil {
		return nil, wrapUpstream("embed", sourcePath, err)
	}

	out := make([]model.Chunk, len(embedRes.Chunks))
	for i, w := range embedRes.Chunks {
		out[i] = fromWire(w)
	}
	return out, nil
}

// ValidateChunks enforces SPEC_FULL.md §4.5's pre-write invariant: every
// chunk carries a syntactically valid UUIDv4 source_id, a non-empty
// body, and all chunks for the batch share one source_id.
func ValidateChunks(chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	sourceID := chunks[0].SourceID
	parsed, err := uuid.Parse(sourceID)
	if err != nil {
		return fmt.Errorf("source_id %q is not a valid UUIDv4: %w", sourceID, err)
	}
	if parsed.Version() != 4 {
		return fmt.Errorf("source_id %q is not a valid UUIDv4: version %d", sourceID, parsed.Version())
	}
	for _, c := range chunks {
		if c.Body == "" {
			return fmt.Errorf("chunk for %s has empty body", c.SourcePath)
		}
		if c.SourceID != sourceID {
			return fmt.Errorf("chunk source_id %q does not match batch source_id %q", c.SourceID, sourceID)
		}
	}
	return nil
}

func wrapUpstream(op, subject string, err error) error {
	return coreerrors.New(classifyTransport(err), "facade."+op, subject, err, time.Now())
}
