package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/service/rooms"
	"github.com/vovakirdan/relaychat/internal/store/sqlite"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	auth  *auth.Service
	rooms *rooms.Service
	stop  context.CancelFunc
}

// startTestServer runs a hub, an in-memory store and the full router.
// mutate may adjust the configuration before the server is built.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.Auth.JWTSecret = testJWTSecret
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	disabledLogger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TTL:      cfg.Auth.TokenTTL,
	})
	roomService := rooms.New(st, &disabledLogger)

	hub := core.NewHub(&disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, authService, roomService, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		ts.CloseClientConnections()
		ts.Close()
		_ = st.Close()
	})

	return &testEnv{ts: ts, hub: hub, auth: authService, rooms: roomService, stop: cancel}
}

func (e *testEnv) wsURL(userID, token string) string {
	u := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	sep := "?"
	if userID != "" {
		u += sep + proto.QueryUserID + "=" + userID
		sep = "&"
	}
	if token != "" {
		u += sep + proto.QueryToken + "=" + token
	}
	return u
}

// dial opens a relay connection and waits for the connect acknowledgement.
func (e *testEnv) dial(ctx context.Context, t *testing.T, userID, token string) (*websocket.Conn, proto.ConnectPayload) {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(userID, token), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	var ack proto.ConnectPayload
	readFrame(ctx, t, conn, proto.EventConnect, &ack)
	return conn, ack
}

// signUp creates an account and returns its token and user id.
func (e *testEnv) signUp(t *testing.T, email, name string) (string, string) {
	t.Helper()

	id, err := e.auth.SignUp(context.Background(), email, "password123", name)
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return id.Token, id.User.ID
}

// do sends a JSON request through the router.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// readFrame reads the next frame and requires it to carry the given event.
func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()

	var frame proto.Inbound
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read %s: %v", event, err)
	}
	if frame.Event != event {
		t.Fatalf("expected %q frame, got %q (%s)", event, frame.Event, frame.Data)
	}
	if v != nil {
		if err := json.Unmarshal(frame.Data, v); err != nil {
			t.Fatalf("unmarshal %s: %v", event, err)
		}
	}
}

// expectSilence fails if a frame arrives within a short window.
// An expired read closes the connection, so call it last.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
}
