package wstransport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/engine"
	"github.com/oneagent/mcp-transport-core/internal/logging"
	"github.com/oneagent/mcp-transport-core/internal/mission"
	"github.com/oneagent/mcp-transport-core/internal/originguard"
	"github.com/oneagent/mcp-transport-core/internal/subscription"
	"github.com/oneagent/mcp-transport-core/internal/validate"
)

type fakeEngine struct {
	process func(ctx context.Context, req engine.Request) (engine.Result, error)
}

func (f *fakeEngine) GetAvailableTools(ctx context.Context) ([]engine.Tool, error) {
	return nil, nil
}
func (f *fakeEngine) GetAvailableResources(ctx context.Context) ([]engine.Resource, error) {
	return nil, nil
}
func (f *fakeEngine) GetAvailableResourceTemplates(ctx context.Context) ([]engine.ResourceTemplate, error) {
	return nil, nil
}
func (f *fakeEngine) GetAvailablePrompts(ctx context.Context) ([]engine.Prompt, error) {
	return nil, nil
}
func (f *fakeEngine) ProcessRequest(ctx context.Context, req engine.Request) (engine.Result, error) {
	if f.process != nil {
		return f.process(ctx, req)
	}
	return engine.Result{Success: true}, nil
}
func (f *fakeEngine) On(event engine.Event, handler engine.Handler)           {}
func (f *fakeEngine) Initialize(ctx context.Context, transport string) error { return nil }
func (f *fakeEngine) Shutdown(ctx context.Context) error                     { return nil }

type testServer struct {
	server   *Server
	registry *channel.Registry
	missions *mission.Executor
	httpSrv  *httptest.Server
}

func newTestServer(t *testing.T, eng engine.Engine) *testServer {
	t.Helper()
	logger := logging.Discard()
	if eng == nil {
		eng = &fakeEngine{}
	}

	registry := channel.NewRegistry()
	subs := subscription.New(registry, logger)
	missions := mission.New(eng, mission.Config{}, nil, nil, logger)
	guard := originguard.New(originguard.Config{AllowLocalhost: true}, logger)
	validator := validate.New(logger)

	srv := New(Config{
		Path:              "/ws/mission-control",
		HeartbeatInterval: time.Minute, // out of the way for these tests
		ProtocolVersion:   "2025-06-18",
		Info:              Info{Name: "test", Version: "0"},
	}, guard, validator, registry, subs, missions, nil, nil, logger)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return &testServer{server: srv, registry: registry, missions: missions, httpSrv: httpSrv}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.httpSrv.URL, "http") + "/ws/mission-control"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads the next non-heartbeat frame, failing the test if none
// arrives within two seconds.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame["type"] == "heartbeat" {
			continue
		}
		return frame
	}
}

func checkEnvelope(t *testing.T, frame map[string]any) {
	t.Helper()
	if frame["protocolVersion"] != "2025-06-18" {
		t.Errorf("protocolVersion = %v, want 2025-06-18", frame["protocolVersion"])
	}
	for _, field := range []string{"type", "id", "timestamp", "unix"} {
		if _, ok := frame[field]; !ok {
			t.Errorf("frame missing %q field: %v", field, frame)
		}
	}
	server, _ := frame["server"].(map[string]any)
	if server == nil || server["name"] != "test" || server["version"] != "0" {
		t.Errorf("frame server block = %v, want {name:test version:0}", frame["server"])
	}
}

func TestPingPong(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "pong" {
		t.Fatalf("frame type = %v, want pong", frame["type"])
	}
	checkEnvelope(t, frame)
}

func TestWhoami(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "whoami"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "whoami" {
		t.Fatalf("frame type = %v, want whoami", frame["type"])
	}
	if connID, _ := frame["connId"].(string); connID == "" {
		t.Error("whoami frame missing connId")
	}
}

func TestInvalidMessageProducesProtocolError(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "launch_nukes"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "protocol_error" {
		t.Fatalf("frame type = %v, want protocol_error", frame["type"])
	}
	errObj, _ := frame["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "invalid_message" {
		t.Errorf("error.code = %v, want invalid_message", errObj)
	}
}

func TestSubscribeUnknownChannel(t *testing.T) {
	ts := newTestServer(t, nil)

	subscribed := 0
	if err := ts.registry.Register(&channel.Channel{
		Name:        "real_channel",
		OnSubscribe: func(ctx context.Context, conn channel.Conn) { subscribed++ },
	}); err != nil {
		t.Fatal(err)
	}

	conn := ts.dial(t)
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"does_not_exist"}}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "subscription_error" {
		t.Fatalf("frame type = %v, want subscription_error", frame["type"])
	}
	errObj, _ := frame["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "unknown_channel" {
		t.Errorf("error.code = %v, want unknown_channel", errObj)
	}
	if subscribed != 0 {
		t.Errorf("onSubscribe invoked %d times for a failed subscribe, want 0", subscribed)
	}
}

func TestSubscribeAckAndSingleHookInvocation(t *testing.T) {
	ts := newTestServer(t, nil)

	hookCalls := make(chan struct{}, 4)
	if err := ts.registry.Register(&channel.Channel{
		Name:        "alpha",
		OnSubscribe: func(ctx context.Context, conn channel.Conn) { hookCalls <- struct{}{} },
	}); err != nil {
		t.Fatal(err)
	}

	conn := ts.dial(t)
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"alpha"}}); err != nil {
			t.Fatal(err)
		}
		frame := readFrame(t, conn)
		if frame["type"] != "subscription_ack" || frame["channel"] != "alpha" {
			t.Fatalf("frame = %v, want subscription_ack for alpha", frame)
		}
	}

	if got := len(hookCalls); got != 1 {
		t.Errorf("onSubscribe invoked %d times for repeated subscribe, want 1", got)
	}
}

func TestUnsubscribeAck(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.registry.Register(&channel.Channel{Name: "alpha"}); err != nil {
		t.Fatal(err)
	}

	conn := ts.dial(t)
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"alpha"}}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn)

	if err := conn.WriteJSON(map[string]any{"type": "unsubscribe", "channels": []string{"alpha"}}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "subscription_ack" || frame["unsubscribed"] != true {
		t.Fatalf("frame = %v, want subscription_ack with unsubscribed=true", frame)
	}
}

func TestDisposeConnectionOnClose(t *testing.T) {
	ts := newTestServer(t, nil)

	disposed := make(chan string, 1)
	if err := ts.registry.Register(&channel.Channel{
		Name:              "alpha",
		DisposeConnection: func(ctx context.Context, conn channel.Conn) { disposed <- conn.ID() },
	}); err != nil {
		t.Fatal(err)
	}

	conn := ts.dial(t)
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"alpha"}}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn)

	conn.Close()

	select {
	case <-disposed:
	case <-time.After(2 * time.Second):
		t.Fatal("disposeConnection not invoked within 2s of close")
	}
}

func TestMissionRunsToCompletion(t *testing.T) {
	eng := &fakeEngine{process: func(ctx context.Context, req engine.Request) (engine.Result, error) {
		if req.Params["objective"] != "build index" {
			t.Errorf("objective = %v, want build index", req.Params["objective"])
		}
		return engine.Result{Success: true, Data: map[string]any{"indexed": 42}}, nil
	}}
	ts := newTestServer(t, eng)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "mission_start", "command": "/mission build index"}); err != nil {
		t.Fatal(err)
	}

	update := readFrame(t, conn)
	if update["type"] != "mission_update" {
		t.Fatalf("first frame type = %v, want mission_update", update["type"])
	}
	missionID, _ := update["missionId"].(string)
	if missionID == "" {
		t.Fatal("mission_update missing missionId")
	}

	complete := readFrame(t, conn)
	if complete["type"] != "mission_complete" || complete["missionId"] != missionID {
		t.Fatalf("terminal frame = %v, want mission_complete for %s", complete, missionID)
	}
}

func TestMissionCancelEmitsExactlyOneTerminalFrame(t *testing.T) {
	release := make(chan struct{})
	eng := &fakeEngine{process: func(ctx context.Context, req engine.Request) (engine.Result, error) {
		defer close(release)
		<-ctx.Done()
		return engine.Result{}, ctx.Err()
	}}
	ts := newTestServer(t, eng)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "mission_start", "command": "/mission long haul"}); err != nil {
		t.Fatal(err)
	}
	update := readFrame(t, conn)
	missionID, _ := update["missionId"].(string)
	if missionID == "" {
		t.Fatal("mission_update missing missionId")
	}

	if err := conn.WriteJSON(map[string]any{"type": "mission_cancel", "missionId": missionID}); err != nil {
		t.Fatal(err)
	}
	canceled := readFrame(t, conn)
	if canceled["type"] != "mission_canceled" || canceled["missionId"] != missionID {
		t.Fatalf("frame = %v, want mission_canceled for %s", canceled, missionID)
	}

	// The engine goroutine unwinds after the cancel token trips; no
	// further frame for this mission may follow the terminal one.
	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not observe cancellation")
	}
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra map[string]any
	for {
		if err := conn.ReadJSON(&extra); err != nil {
			break // deadline: no further frames, as required
		}
		if extra["type"] == "heartbeat" {
			continue
		}
		t.Fatalf("frame after terminal mission_canceled: %v", extra)
	}
}

func TestMissionCancelUnknownMission(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "mission_cancel", "missionId": "no-such-mission"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "protocol_error" {
		t.Fatalf("frame type = %v, want protocol_error", frame["type"])
	}
	errObj, _ := frame["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "unknown_mission" {
		t.Errorf("error.code = %v, want unknown_mission", errObj)
	}
}

func TestMissionFailureEmitsMissionError(t *testing.T) {
	eng := &fakeEngine{process: func(ctx context.Context, req engine.Request) (engine.Result, error) {
		return engine.Result{Success: false, Error: &engine.ResultError{Message: "objective unreachable"}}, nil
	}}
	ts := newTestServer(t, eng)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "mission_start", "command": "/mission doomed"}); err != nil {
		t.Fatal(err)
	}
	update := readFrame(t, conn)
	if update["type"] != "mission_update" {
		t.Fatalf("first frame type = %v, want mission_update", update["type"])
	}

	failed := readFrame(t, conn)
	if failed["type"] != "mission_error" {
		t.Fatalf("terminal frame type = %v, want mission_error", failed["type"])
	}
	if failed["error"] != "objective unreachable" {
		t.Errorf("error = %v, want objective unreachable", failed["error"])
	}
}

func TestCloseCancelsInFlightMissions(t *testing.T) {
	observed := make(chan struct{})
	eng := &fakeEngine{process: func(ctx context.Context, req engine.Request) (engine.Result, error) {
		<-ctx.Done()
		close(observed)
		return engine.Result{}, ctx.Err()
	}}
	ts := newTestServer(t, eng)
	conn := ts.dial(t)

	if err := conn.WriteJSON(map[string]any{"type": "mission_start", "command": "/mission forever"}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, conn) // mission_update

	conn.Close()

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatal("mission not canceled within 2s of connection close")
	}
}
