package commandsurface

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/ipc"
	"github.com/TheEntropyCollective/docanalyzer/internal/master"
)

// fakeProcess is the same minimal controllable Process master_test.go
// uses, duplicated here so this package's tests don't depend on
// internal/master's unexported test helpers.
type fakeProcess struct {
	pid  int
	done chan struct{}
}

func newFakeProcess(pid int) *fakeProcess { return &fakeProcess{pid: pid, done: make(chan struct{})} }
func (p *fakeProcess) Pid() int           { return p.pid }
func (p *fakeProcess) Wait() (int, error) { <-p.done; return 0, nil }

func (p *fakeProcess) Kill() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

func testMaster(t *testing.T, spawn master.Spawner) *master.Master {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fleet.MaxProcesses = 2
	hub := ipc.NewHub(func(string, ipc.Frame) {}, nil)
	return master.New(master.Deps{Config: cfg, Hub: hub, Spawn: spawn, Now: time.Now})
}

func rpcCall(t *testing.T, srv *httptest.Server, method string, params interface{}) response {
	t.Helper()
	var paramsRaw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		paramsRaw = b
	}
	reqBody, err := json.Marshal(request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: paramsRaw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServeRPC_HealthCheckWithNoFacadeReportsUnhealthy(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "health_check", nil)
	require.Nil(t, out.Error)
	require.NotNil(t, out.Result)
	result, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, result["healthy"])
}

func TestServeRPC_GetQueueStatusReflectsCap(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "get_queue_status", nil)
	require.Nil(t, out.Error)

	b, err := json.Marshal(out.Result)
	require.NoError(t, err)
	var qs master.QueueStatus
	require.NoError(t, json.Unmarshal(b, &qs))
	assert.Equal(t, 2, qs.MaxProcesses)
	assert.Equal(t, 0, qs.ActiveWorkers)
}

func TestServeRPC_StartWatchingAdmitsDirectory(t *testing.T) {
	proc := newFakeProcess(42)
	m := testMaster(t, func(dir string) (master.Process, error) { return proc, nil })
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer proc.Kill()

	out := rpcCall(t, srv, "start_watching", map[string]string{"directory": "/docs/a"})
	require.Nil(t, out.Error)

	assert.Equal(t, []string{"/docs/a"}, m.ListWatchedDirectories())
}

func TestServeRPC_StartWatchingMissingDirectoryIsInvalidParams(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "start_watching", map[string]string{})
	require.NotNil(t, out.Error)
	assert.Equal(t, rpcErrInvalidParams, out.Error.Code)
}

func TestServeRPC_GetWatchStatusUnknownDirectoryErrors(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "get_watch_status", map[string]string{"directory": "/never/admitted"})
	require.NotNil(t, out.Error)
}

func TestServeRPC_ListWatchedDirectoriesReturnsAdmittedDirs(t *testing.T) {
	proc := newFakeProcess(1)
	m := testMaster(t, func(dir string) (master.Process, error) { return proc, nil })
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()
	defer proc.Kill()

	require.NoError(t, m.StartWatching("/docs/a"))

	out := rpcCall(t, srv, "list_watched_directories", nil)
	require.Nil(t, out.Error)
	assert.Equal(t, []interface{}{"/docs/a"}, out.Result)
}

func TestServeRPC_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "no_such_method", nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, rpcErrMethodNotFound, out.Error.Code)
}

func TestServeRPC_GetSystemStatsReturnsMetricsSnapshot(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "get_system_stats", nil)
	require.Nil(t, out.Error)
	require.NotNil(t, out.Result)
}

func TestServeRPC_StopWatchingUnknownDirectoryErrors(t *testing.T) {
	m := testMaster(t, nil)
	s := New(m, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	out := rpcCall(t, srv, "stop_watching", map[string]string{"directory": "/never/admitted"})
	require.NotNil(t, out.Error)
}
