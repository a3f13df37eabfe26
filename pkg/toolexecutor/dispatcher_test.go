package toolexecutor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerStub struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newProviderStub(t *testing.T, handler func(req ExecuteRequest) (int, interface{})) *providerStub {
	t.Helper()

	stub := &providerStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		assert.Equal(t, ExecutePath, r.URL.Path)

		var req ExecuteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func okResponse(data interface{}) func(ExecuteRequest) (int, interface{}) {
	return func(ExecuteRequest) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{"code": 200, "data": data, "message": "success"}
	}
}

func setupDispatcher(t *testing.T, reg *registry.Registry) (*Dispatcher, *ToolExecutor) {
	t.Helper()

	exec := New()
	d, err := NewDispatcher(DispatcherConfig{
		Executor:  exec,
		Providers: reg,
		Remote:    NewRemoteClient(RemoteConfig{RequestTimeout: 2 * time.Second}),
		Logger:    zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return d, exec
}

func registerStub(t *testing.T, reg *registry.Registry, id string, stub *providerStub, tool string) {
	t.Helper()
	require.NoError(t, reg.Register(registry.RegisterRequest{
		InstanceID:   id,
		Address:      stub.server.URL,
		Capabilities: []registry.Capability{{Name: tool, Description: tool + " remote"}},
	}))
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool executor is required")
}

func TestDispatcher_LocalPrecedence(t *testing.T) {
	reg := registry.New(time.Minute)
	d, exec := setupDispatcher(t, reg)

	stub := newProviderStub(t, okResponse("remote"))
	registerStub(t, reg, "p1", stub, "echo")
	require.NoError(t, exec.RegisterTool(echoTool()))

	obs := d.Invoke(context.Background(), "echo", map[string]interface{}{"text": "local"})
	assert.True(t, obs.Success)
	assert.Equal(t, "local", obs.Content)
	assert.Equal(t, RouteLocal, obs.Route)
	assert.Zero(t, stub.calls.Load())
}

func TestDispatcher_LocalFailure(t *testing.T) {
	d, exec := setupDispatcher(t, registry.New(time.Minute))
	require.NoError(t, exec.RegisterTool(echoTool()))

	obs := d.Invoke(context.Background(), "echo", nil)
	assert.False(t, obs.Success)
	assert.Equal(t, KindLocalExecutionFailure, obs.Kind)
	assert.Contains(t, obs.Content, "Error: parameter validation failed")
}

func TestDispatcher_Remote(t *testing.T) {
	reg := registry.New(time.Minute)
	d, _ := setupDispatcher(t, reg)

	t.Run("should return string data verbatim", func(t *testing.T) {
		stub := newProviderStub(t, func(req ExecuteRequest) (int, interface{}) {
			assert.Equal(t, "calculator", req.ToolName)
			assert.Equal(t, "add", req.Params["operation"])
			return http.StatusOK, map[string]interface{}{"code": 200, "data": "15.00"}
		})
		registerStub(t, reg, "calc", stub, "calculator")

		obs := d.Invoke(context.Background(), "calculator", map[string]interface{}{
			"operation": "add", "a": 10, "b": 5,
		})
		assert.True(t, obs.Success)
		assert.Equal(t, "15.00", obs.Content)
		assert.Equal(t, RouteRemote, obs.Route)
		assert.Equal(t, "calc", obs.ProviderID)
	})

	t.Run("should render structured data as json", func(t *testing.T) {
		stub := newProviderStub(t, okResponse(map[string]interface{}{"temp": 21}))
		registerStub(t, reg, "weather", stub, "weather")

		obs := d.Invoke(context.Background(), "weather", nil)
		assert.True(t, obs.Success)
		assert.JSONEq(t, `{"temp":21}`, obs.Content)
	})

	t.Run("should map application failure", func(t *testing.T) {
		stub := newProviderStub(t, func(ExecuteRequest) (int, interface{}) {
			return http.StatusOK, map[string]interface{}{"code": 500, "message": "Division by zero"}
		})
		registerStub(t, reg, "divider", stub, "divide")

		obs := d.Invoke(context.Background(), "divide", nil)
		assert.False(t, obs.Success)
		assert.Equal(t, KindProviderApplicationFailure, obs.Kind)
		assert.Equal(t, "Error: Division by zero", obs.Content)
	})

	t.Run("should map http status failure", func(t *testing.T) {
		stub := newProviderStub(t, func(ExecuteRequest) (int, interface{}) {
			return http.StatusBadGateway, map[string]interface{}{}
		})
		registerStub(t, reg, "broken", stub, "broken")

		obs := d.Invoke(context.Background(), "broken", nil)
		assert.False(t, obs.Success)
		assert.Equal(t, KindProviderTransportFailure, obs.Kind)
		assert.Equal(t, "Error: remote call failed (HTTP 502)", obs.Content)
	})

	t.Run("should map unreachable provider", func(t *testing.T) {
		stub := newProviderStub(t, okResponse("never"))
		registerStub(t, reg, "gone", stub, "gone")
		stub.server.Close()

		obs := d.Invoke(context.Background(), "gone", nil)
		assert.False(t, obs.Success)
		assert.Equal(t, KindProviderTransportFailure, obs.Kind)
		assert.Contains(t, obs.Content, "Error: remote call failed")
	})
}

func TestDispatcher_NotFound(t *testing.T) {
	d, _ := setupDispatcher(t, registry.New(time.Minute))

	obs := d.Invoke(context.Background(), "nonexistent", nil)
	assert.False(t, obs.Success)
	assert.Equal(t, KindToolNotFound, obs.Kind)
	assert.Equal(t, "Error: tool not found: nonexistent", obs.Content)
}

func TestDispatcher_OfflineOnly(t *testing.T) {
	now := time.Now()
	reg := registry.New(time.Minute, registry.WithClock(func() time.Time { return now }))
	d, _ := setupDispatcher(t, reg)

	stub := newProviderStub(t, okResponse("unused"))
	registerStub(t, reg, "p1", stub, "weather")

	now = now.Add(2 * time.Minute)
	require.Equal(t, []string{"p1"}, reg.Sweep())

	obs := d.Invoke(context.Background(), "weather", nil)
	assert.False(t, obs.Success)
	assert.Equal(t, KindNoOnlineProvider, obs.Kind)
	assert.Equal(t, "Error: no online provider for tool: weather", obs.Content)
	assert.Zero(t, stub.calls.Load())
}

func TestDispatcher_RoundRobin(t *testing.T) {
	now := time.Now()
	reg := registry.New(time.Minute, registry.WithClock(func() time.Time { return now }))
	d, _ := setupDispatcher(t, reg)

	first := newProviderStub(t, okResponse("first"))
	second := newProviderStub(t, okResponse("second"))
	registerStub(t, reg, "a", first, "echo")
	now = now.Add(time.Second)
	registerStub(t, reg, "b", second, "echo")

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, d.Invoke(context.Background(), "echo", nil).ProviderID)
	}

	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
	assert.Equal(t, int32(2), first.calls.Load())
	assert.Equal(t, int32(2), second.calls.Load())
}

func TestDispatcher_Catalog(t *testing.T) {
	reg := registry.New(time.Minute)
	d, exec := setupDispatcher(t, reg)
	require.NoError(t, exec.RegisterTool(echoTool()))

	stub := newProviderStub(t, okResponse("x"))
	require.NoError(t, reg.Register(registry.RegisterRequest{
		InstanceID: "p1",
		Address:    stub.server.URL,
		Capabilities: []registry.Capability{
			{Name: "echo", Description: "shadowed"},
			{Name: "weather", Description: "Current weather"},
			{Name: "calculator", Description: "Arithmetic"},
		},
	}))

	t.Run("should list local first then remote", func(t *testing.T) {
		caps := d.Catalog(nil)
		require.Len(t, caps, 3)
		assert.Equal(t, "echo", caps[0].Name)
		assert.Equal(t, RouteLocal, caps[0].Route)
		assert.Equal(t, "calculator", caps[1].Name)
		assert.Equal(t, "weather", caps[2].Name)
		assert.Equal(t, RouteRemote, caps[2].Route)
	})

	t.Run("should apply filter", func(t *testing.T) {
		policy := &ToolPolicy{Allow: []string{"weather"}}
		caps := d.Catalog(policy.IsToolAllowed)
		require.Len(t, caps, 1)
		assert.Equal(t, "weather", caps[0].Name)
	})
}

func TestRemoteClient_PropagatesTraceIDs(t *testing.T) {
	var traceID, sessionID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = r.Header.Get(tracing.HeaderTraceID)
		sessionID = r.Header.Get(tracing.HeaderSessionID)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 200, "data": "ok"})
	}))
	defer srv.Close()

	ctx := tracing.WithTraceID(context.Background(), "trace-42")
	ctx = tracing.WithSessionKey(ctx, "s1")

	data, err := NewRemoteClient(RemoteConfig{}).Execute(ctx, srv.URL, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", data)
	assert.Equal(t, "trace-42", traceID)
	assert.Equal(t, "s1", sessionID)
}
