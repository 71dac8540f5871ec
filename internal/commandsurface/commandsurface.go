// Package commandsurface implements the outward command surface of
// SPEC_FULL.md §10.7: a JSON-RPC 2.0 endpoint, routed with
// gorilla/mux the way the teacher's cmd/noisefs-webui routes its REST
// API, through which an operator or external tool queries and drives
// the Master (health, stats, queue status, start/stop/list watches).
// The wire envelope mirrors internal/facade/rpc.go's client-side
// request/response/error shapes so the core speaks the same JSON-RPC
// 2.0 dialect on both sides of the process boundary.
package commandsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/master"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 reserved error codes this surface produces itself, as
// opposed to a method's own application error (rpcErrInternal).
const (
	rpcErrParse          = -32700
	rpcErrMethodNotFound = -32601
	rpcErrInvalidParams  = -32602
	rpcErrInternal       = -32000
)

// Method is one dispatch table entry: decode params, run against the
// Master, return a JSON-encodable result or an error.
type Method func(params json.RawMessage) (interface{}, error)

// Surface is the HTTP-level JSON-RPC 2.0 front door. It holds no state
// of its own beyond the dispatch table; every method closes over the
// *master.Master passed to New.
type Surface struct {
	router  *mux.Router
	methods map[string]Method
	log     *logging.Logger
}

// New wires the eight methods SPEC_FULL.md §10.7 names onto m.
func New(m *master.Master, log *logging.Logger) *Surface {
	if log == nil {
		log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	s := &Surface{methods: make(map[string]Method), log: log.WithComponent("commandsurface")}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/rpc", s.serveRPC).Methods(http.MethodPost)

	s.Register("health_check", func(json.RawMessage) (interface{}, error) {
		statuses := m.Health(context.Background())
		return healthCheckResult{Healthy: allHealthy(statuses), Services: statuses}, nil
	})
	s.Register("get_system_stats", func(json.RawMessage) (interface{}, error) {
		return m.MetricsSnapshot(), nil
	})
	s.Register("get_processing_stats", func(json.RawMessage) (interface{}, error) {
		return m.Snapshot(), nil
	})
	s.Register("get_queue_status", func(json.RawMessage) (interface{}, error) {
		return m.QueueStatus(), nil
	})
	s.Register("list_watched_directories", func(json.RawMessage) (interface{}, error) {
		return m.ListWatchedDirectories(), nil
	})
	s.Register("start_watching", func(params json.RawMessage) (interface{}, error) {
		dir, err := directoryParam(params)
		if err != nil {
			return nil, err
		}
		if err := m.StartWatching(dir); err != nil {
			return nil, err
		}
		return map[string]string{"directory": dir, "status": "started"}, nil
	})
	s.Register("stop_watching", func(params json.RawMessage) (interface{}, error) {
		dir, err := directoryParam(params)
		if err != nil {
			return nil, err
		}
		if err := m.StopWatching(dir); err != nil {
			return nil, err
		}
		return map[string]string{"directory": dir, "status": "stopping"}, nil
	})
	s.Register("get_watch_status", func(params json.RawMessage) (interface{}, error) {
		dir, err := directoryParam(params)
		if err != nil {
			return nil, err
		}
		rec, ok := m.GetWatchStatus(dir)
		if !ok {
			return nil, fmt.Errorf("%s is not watched", dir)
		}
		return rec, nil
	})

	return s
}

// healthCheckResult is health_check's result shape.
type healthCheckResult struct {
	Healthy  bool                            `json:"healthy"`
	Services map[string]facade.ServiceStatus `json:"services,omitempty"`
}

func allHealthy(statuses map[string]facade.ServiceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, st := range statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}

type directoryParams struct {
	Directory string `json:"directory"`
}

// invalidParamsError marks a dispatch error as the caller's fault, so
// serveRPC can map it to JSON-RPC code -32602 instead of -32000.
type invalidParamsError struct{ msg string }

func (e *invalidParamsError) Error() string { return e.msg }

func directoryParam(params json.RawMessage) (string, error) {
	var p directoryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return "", &invalidParamsError{msg: "invalid params: " + err.Error()}
		}
	}
	if p.Directory == "" {
		return "", &invalidParamsError{msg: "directory is required"}
	}
	return p.Directory, nil
}

// Register adds or replaces a method in the dispatch table.
func (s *Surface) Register(method string, fn Method) {
	s.methods[method] = fn
}

// ServeHTTP lets Surface itself be handed to http.Server, cmd/docanalyzer
// style, without exposing the underlying mux.Router.
func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Surface) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Surface) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, rpcErrParse, "parse error: "+err.Error())
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		writeError(w, req.ID, rpcErrMethodNotFound, "method not found: "+req.Method)
		return
	}

	result, err := fn(req.Params)
	if err != nil {
		code := rpcErrInternal
		if _, ok := err.(*invalidParamsError); ok {
			code = rpcErrInvalidParams
		}
		writeError(w, req.ID, code, err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
