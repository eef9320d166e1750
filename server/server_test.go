package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/becomeliminal/nim-bridge/bridge"
	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *bridge.Bridge) {
	t.Helper()
	b := bridge.New(bridge.Components{}, bridge.WithLogger(quietLogger()))
	ts := httptest.NewServer(New(b, WithLogger(quietLogger())))
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})
	return ts, b
}

func postCall(t *testing.T, url string, req core.Request) (int, core.Response) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpResp, err := http.Post(url+"/v1/call", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp core.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return httpResp.StatusCode, resp
}

func TestCallStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)

	code, resp := postCall(t, ts.URL, core.Request{ID: "1", Op: "consensus.info"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.OK)
	assert.Equal(t, "1", resp.ID)

	code, resp = postCall(t, ts.URL, core.Request{Op: "consensus.tally", Params: json.RawMessage(`{"decision_id":"none"}`)})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)

	code, _ = postCall(t, ts.URL, core.Request{Op: "orchestrate.decompose", Params: json.RawMessage(`{"objective":""}`)})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = postCall(t, ts.URL, core.Request{Op: "workers.assign", Params: json.RawMessage(`{"role":"Legal","task_id":"t","instruction":"x"}`)})
	assert.Equal(t, http.StatusConflict, code)
}

func TestCallRejectsBadBody(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/call", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/call")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOperationsAndHealth(t *testing.T) {
	ts, b := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/operations")
	require.NoError(t, err)
	var ops struct {
		Operations []core.OperationDefinition `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ops))
	resp.Body.Close()
	assert.Len(t, ops.Operations, len(b.Operations()))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status string        `json:"status"`
		Memory memory.Status `json:"memory"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, memory.DefaultWorkingBudget, health.Memory.Working.Budget)
}

func TestWebsocketRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(core.Request{
		ID: "a", Op: "memory.working.add", Params: json.RawMessage(`{"content":"hello"}`),
	}))
	var resp core.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "a", resp.ID)
	assert.True(t, resp.OK)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	resp = core.Response{}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.OK)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	require.NoError(t, conn.WriteJSON(core.Request{ID: "b", Op: "memory.working.recent"}))
	var recent struct {
		ID     string `json:"id"`
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&recent))
	assert.Equal(t, "b", recent.ID)
	assert.Equal(t, 1, recent.Result.Count)
}

// gatedHandler blocks every call until release is closed and records the
// highest number of calls running at once.
type gatedHandler struct {
	release chan struct{}
	started chan struct{}

	mu      sync.Mutex
	running int
	peak    int
}

func (g *gatedHandler) Handle(ctx context.Context, req core.Request) core.Response {
	g.mu.Lock()
	g.running++
	if g.running > g.peak {
		g.peak = g.running
	}
	g.mu.Unlock()
	g.started <- struct{}{}

	<-g.release

	g.mu.Lock()
	g.running--
	g.mu.Unlock()
	return core.Response{ID: req.ID, OK: true}
}

func (g *gatedHandler) Operations() []core.OperationDefinition { return nil }

func TestWebsocketBoundsInFlightRequests(t *testing.T) {
	h := &gatedHandler{release: make(chan struct{}), started: make(chan struct{}, 8)}
	ts := httptest.NewServer(New(h, WithLogger(quietLogger()), WithMaxInFlight(2)))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	const total = 5
	for i := 0; i < total; i++ {
		require.NoError(t, conn.WriteJSON(core.Request{ID: fmt.Sprintf("r%d", i), Op: "noop"}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-h.started:
		case <-time.After(5 * time.Second):
			t.Fatal("calls did not start")
		}
	}
	select {
	case <-h.started:
		t.Fatal("third call started while two were in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(h.release)
	seen := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		var resp core.Response
		require.NoError(t, conn.ReadJSON(&resp))
		assert.True(t, resp.OK)
		seen[resp.ID] = true
	}
	assert.Len(t, seen, total)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.LessOrEqual(t, h.peak, 2)
}

type fixedStatus struct {
	st memory.Status
}

func (f fixedStatus) Status(context.Context) memory.Status { return f.st }

func TestHealthService(t *testing.T) {
	var st memory.Status
	st.Session.Backend = "ristretto"
	st.Session.Degraded = true

	h := NewHealth(fixedStatus{st}, time.Hour, quietLogger())
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, lis) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	tests := map[string]healthpb.HealthCheckResponse_ServingStatus{
		"":               healthpb.HealthCheckResponse_SERVING,
		HealthWorking:    healthpb.HealthCheckResponse_SERVING,
		HealthSession:    healthpb.HealthCheckResponse_NOT_SERVING,
		HealthSemantic:   healthpb.HealthCheckResponse_SERVING,
		HealthRelational: healthpb.HealthCheckResponse_SERVING,
	}
	for service, want := range tests {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err, service)
		assert.Equal(t, want, resp.Status, service)
	}
}
