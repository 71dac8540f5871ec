package facade

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// rpcHandlerFunc lets each test script per-method responses for a fake
// upstream service.
type rpcHandlerFunc func(method string, params json.RawMessage) (result interface{}, rpcErr *rpcError)

func fakeServer(t *testing.T, handler rpcHandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, nil)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			data, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testConfig(vectorStoreURL, segURL, embedURL string) map[string]config.UpstreamServiceConfig {
	return map[string]config.UpstreamServiceConfig{
		config.ServiceVectorStore:  {URL: vectorStoreURL, TimeoutSeconds: 5},
		config.ServiceSegmentation: {URL: segURL, TimeoutSeconds: 5},
		config.ServiceEmbedding:    {URL: embedURL, TimeoutSeconds: 5},
	}
}

func TestListFiles_DecodesUpstreamRecords(t *testing.T) {
	srv := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "list_files", method)
		return listFilesResult{Files: []indexedFileWire{
			{Path: "/d/a.txt", IndexedAt: "2026-01-01T00:00:00Z", IndexedModTime: "2026-01-01T00:00:00Z", ContentHash: "abc", ChunkCount: 2, Status: "active"},
		}}, nil
	})
	defer srv.Close()

	f := New(testConfig(srv.URL, srv.URL, srv.URL))
	recs, err := f.ListFiles(t.Context(), "/d")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/d/a.txt", recs[0].Path)
	assert.Equal(t, model.IndexedStatusActive, recs[0].Status)
}

func TestCommitChunks_ReturnsCreatedAndIDs(t *testing.T) {
	srv := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "commit_chunks", method)
		return commitChunksResult{Created: 2, IDs: []string{"1", "2"}}, nil
	})
	defer srv.Close()

	f := New(testConfig(srv.URL, srv.URL, srv.URL))
	res, err := f.CommitChunks(t.Context(), []model.Chunk{{SourcePath: "/d/a.txt", SourceID: uuid.NewString(), Body: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
}

func TestCommitChunks_InvalidParamsClassifiesRejected(t *testing.T) {
	srv := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: rpcErrInvalidParams, Message: "bad chunk"}
	})
	defer srv.Close()

	f := New(testConfig(srv.URL, srv.URL, srv.URL))
	_, err := f.CommitChunks(t.Context(), []model.Chunk{{SourcePath: "/d/a.txt", SourceID: uuid.NewString(), Body: "x"}})
	require.Error(t, err)
	pe, ok := err.(*coreerrors.ProcessingError)
	require.True(t, ok)
	assert.Equal(t, coreerrors.Rejected, pe.Kind)
}

func TestDeleteBySource_NotFoundIsTreatedAsSuccess(t *testing.T) {
	srv := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "delete_by_source", method)
		return nil, &rpcError{Code: rpcErrNotFound, Message: "no such source"}
	})
	defer srv.Close()

	f := New(testConfig(srv.URL, srv.URL, srv.URL))
	deleted, err := f.DeleteBySource(t.Context(), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestHealth_NeverFailsAndReportsPerService(t *testing.T) {
	ok := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		return struct{}{}, nil
	})
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	f := New(testConfig(ok.URL, down.URL, ok.URL))
	status := f.Health(t.Context())
	assert.True(t, status[config.ServiceVectorStore].Healthy)
	assert.True(t, status[config.ServiceEmbedding].Healthy)
	assert.False(t, status[config.ServiceSegmentation].Healthy)
}

func TestSegmentAndEmbed_ChainsBothServicesInOrder(t *testing.T) {
	seg := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "segment", method)
		return segmentEmbedResult{Chunks: []chunkWire{{SourcePath: "/d/a.txt", SourceID: "s1", Body: "part one"}, {SourcePath: "/d/a.txt", SourceID: "s1", Body: "part two"}}}, nil
	})
	defer seg.Close()
	embed := fakeServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "embed", method)
		return segmentEmbedResult{Chunks: []chunkWire{{SourcePath: "/d/a.txt", SourceID: "s1", Body: "part one"}, {SourcePath: "/d/a.txt", SourceID: "s1", Body: "part two"}}}, nil
	})
	defer embed.Close()

	f := New(testConfig("unused", seg.URL, embed.URL))
	chunks, err := f.SegmentAndEmbed(t.Context(), "/d/a.txt", []model.Chunk{{SourcePath: "/d/a.txt", SourceID: "s1", Body: "whole file"}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "part one", chunks[0].Body)
	assert.Equal(t, "part two", chunks[1].Body)
}

func TestValidateChunks_RejectsInvalidUUID(t *testing.T) {
	err := ValidateChunks([]model.Chunk{{SourcePath: "/d/a.txt", SourceID: "not-a-uuid", Body: "x"}})
	assert.Error(t, err)
}

func TestValidateChunks_RejectsEmptyBody(t *testing.T) {
	id := uuid.NewString()
	err := ValidateChunks([]model.Chunk{{SourcePath: "/d/a.txt", SourceID: id, Body: ""}})
	assert.Error(t, err)
}

func TestValidateChunks_RejectsMismatchedSourceID(t *testing.T) {
	err := ValidateChunks([]model.Chunk{
		{SourcePath: "/d/a.txt", SourceID: uuid.NewString(), Body: "x"},
		{SourcePath: "/d/a.txt", SourceID: uuid.NewString(), Body: "y"},
	})
	assert.Error(t, err)
}

func TestValidateChunks_AcceptsConsistentBatch(t *testing.T) {
	id := uuid.NewString()
	err := ValidateChunks([]model.Chunk{
		{SourcePath: "/d/a.txt", SourceID: id, Body: "x"},
		{SourcePath: "/d/a.txt", SourceID: id, Body: "y"},
	})
	assert.NoError(t, err)
}
