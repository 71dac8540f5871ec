// Package facade implements the Vector-Store Facade of SPEC_FULL.md
// §4.4: a single abstraction over three upstream JSON-RPC 2.0 services
// (vector store, segmentation, embedding), exposing list_files,
// commit_chunks, delete_by_source, and health, plus the
// segment-then-embed call the Chunking Manager's Prepare phase needs.
package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
)

// JSON-RPC 2.0 error codes this facade recognizes from upstream. Any
// other code is treated as an opaque protocol error.
const (
	rpcErrNotFound       = -32001
	rpcErrInvalidParams  = -32602
	rpcErrPartialFailure = -32002
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// client is a minimal JSON-RPC 2.0 caller bound to one upstream
// service's base URL.
type client struct {
	baseURL string
	http    *http.Client
	nextID  int64
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// call issues one JSON-RPC request and decodes its result into out (a
// pointer), or returns the rpcError/transport error as-is — callers
// classify it into a coreerrors.Kind.
func (c *client) call(ctx context.Context, method string, params, out interface{}) error {
	req := rpcRequest{JSONRPC: "2.0", ID: atomic.AddInt64(&c.nextID, 1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal jsonrpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("unmarshal jsonrpc result: %w", err)
		}
	}
	return nil
}

// classifyTransport maps a transport- or protocol-level failure from
// this package's own HTTP/JSON-RPC calls to a Kind. It deliberately
// does not reuse coreerrors.Classifier's default (FileIOError is a
// filesystem-biased fallback that doesn't fit an upstream client).
func classifyTransport(err error) coreerrors.Kind {
	if rpcErr, ok := err.(*rpcError); ok {
		switch rpcErr.Code {
		case rpcErrInvalidParams:
			return coreerrors.Rejected
		case rpcErrPartialFailure:
			return coreerrors.PartialFailure
		default:
			return coreerrors.UpstreamProtocolError
		}
	}
	if strings.Contains(err.Error(), "unmarshal") {
		return coreerrors.UpstreamProtocolError
	}
	return coreerrors.UpstreamUnavailable
}
