package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/friday/engine"
	"github.com/becomeliminal/friday/llm"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/memory/embedder/mock"
	"github.com/becomeliminal/friday/memory/store/chromem"
	"github.com/becomeliminal/friday/server"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/gt"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type cannedCompleter struct {
	chunks []string
}

func (c *cannedCompleter) Complete(context.Context, string) (string, error) {
	return strings.Join(c.chunks, ""), nil
}

func (c *cannedCompleter) Stream(context.Context, string) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(c.chunks))
	for _, s := range c.chunks {
		ch <- llm.StreamChunk{Content: s}
	}
	close(ch)
	return ch, nil
}

func newServer(t *testing.T) *server.Server {
	t.Helper()
	embedder := mock.New()
	store, err := chromem.New(chromem.Config{Dimensions: embedder.Dimensions()})
	gt.NoError(t, err)
	m, err := memory.NewManager(store, embedder)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	e := engine.New(&cannedCompleter{chunks: []string{"Happy to help, ", "see you at noon."}}, engine.WithMemory(m))
	srv, err := server.New(server.Config{Engine: e, Logger: logging.Discard()})
	gt.NoError(t, err)
	return srv
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *server.Server) *client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) call(req server.Request) server.Response {
	c.t.Helper()
	gt.NoError(c.t, c.conn.WriteJSON(req))
	var resp server.Response
	gt.NoError(c.t, c.conn.ReadJSON(&resp))
	return resp
}

func TestWebSocket_Chat(t *testing.T) {
	c := dial(t, newServer(t))
	gt.NoError(t, c.conn.WriteJSON(server.Request{Op: "chat", Text: "Lunch with Sam at noon?"}))

	var chunks []string
	for {
		var resp server.Response
		gt.NoError(t, c.conn.ReadJSON(&resp))
		if resp.Op == "done" {
			gt.True(t, resp.OK)
			gt.Equal(t, resp.Text, "Happy to help, see you at noon.")
			break
		}
		gt.Equal(t, resp.Op, "chunk")
		chunks = append(chunks, resp.Text)
	}
	gt.Equal(t, chunks, []string{"Happy to help, ", "see you at noon."})

	stats := c.call(server.Request{Op: "stats"})
	gt.True(t, stats.OK)
	gt.Equal(t, *stats.Count, 2)
}

func TestWebSocket_MemoryOps(t *testing.T) {
	c := dial(t, newServer(t))

	saved := c.call(server.Request{Op: "save", Role: "user", Content: "remember my locker code is 4411"})
	gt.True(t, saved.OK)
	gt.True(t, *saved.Stored)

	rejected := c.call(server.Request{Op: "save", Role: "user", Content: "ok"})
	gt.True(t, rejected.OK)
	gt.False(t, *rejected.Stored)

	list := c.call(server.Request{Op: "list", Limit: 10})
	gt.A(t, list.Records).Length(1)
	id := list.Records[0].ID

	got := c.call(server.Request{Op: "retrieve", Query: "locker code", TopK: 1})
	gt.A(t, got.Memories).Length(1)
	gt.Equal(t, got.Memories[0].Content, "remember my locker code is 4411")

	pin := c.call(server.Request{Op: "pin", ID: id, Note: "gym"})
	gt.True(t, pin.OK)
	pinned := c.call(server.Request{Op: "pinned"})
	gt.A(t, pinned.Records).Length(1)
	gt.Equal(t, pinned.Records[0].PinNote, "gym")

	gt.True(t, c.call(server.Request{Op: "unpin", ID: id}).OK)
	gt.A(t, c.call(server.Request{Op: "pinned"}).Records).Length(0)

	goals := c.call(server.Request{Op: "push_goal", Text: "ship the beta"})
	gt.Equal(t, goals.Goals, []string{"ship the beta"})
	gt.Equal(t, c.call(server.Request{Op: "goals"}).Goals, []string{"ship the beta"})

	blank := c.call(server.Request{Op: "push_goal", Text: "   "})
	gt.True(t, blank.OK)
	gt.Equal(t, blank.Goals, []string{"ship the beta"})

	gt.True(t, c.call(server.Request{Op: "delete", ID: id}).OK)
	missing := c.call(server.Request{Op: "delete", ID: id})
	gt.False(t, missing.OK)
	gt.Equal(t, missing.Code, "not_found")

	c.call(server.Request{Op: "save", Role: "assistant", Content: "Noted, the deadline is Friday."})
	forgot := c.call(server.Request{Op: "forget", Query: "deadline"})
	gt.Equal(t, *forgot.Deleted, 1)

	gt.True(t, c.call(server.Request{Op: "clear"}).OK)
	gt.Equal(t, *c.call(server.Request{Op: "stats"}).Count, 0)
}

func TestWebSocket_Errors(t *testing.T) {
	c := dial(t, newServer(t))

	bad := c.call(server.Request{Op: "save", Role: "system", Content: "remember this forever"})
	gt.False(t, bad.OK)
	gt.Equal(t, bad.Code, "validation")

	unknown := c.call(server.Request{Op: "teleport"})
	gt.False(t, unknown.OK)
	gt.Equal(t, unknown.Code, "validation")

	// No summarizer is configured.
	compact := c.call(server.Request{Op: "compact"})
	gt.False(t, compact.OK)
	gt.Equal(t, compact.Code, "unavailable")
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(newServer(t).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var body map[string]any
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	gt.Equal(t, body["status"], any("ok"))
	gt.Equal(t, body["records"], any(float64(0)))
}

func TestRun_HealthStatus(t *testing.T) {
	srv := newServer(t)
	hs := srv.HealthServer()
	req := &healthpb.HealthCheckRequest{Service: server.HealthService}

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), req)
		gt.NoError(t, err)
		return resp.Status
	}
	gt.Equal(t, check(), healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	deadline := time.Now().Add(5 * time.Second)
	for check() != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("server never reported SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	gt.NoError(t, <-done)
	gt.Equal(t, check(), healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestNew_RequiresEngineWithMemory(t *testing.T) {
	_, err := server.New(server.Config{})
	gt.Error(t, err)

	_, err = server.New(server.Config{Engine: engine.New(&cannedCompleter{})})
	gt.Error(t, err)
}
