package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.dial(ctx, t, "alice", "")

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var health HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != "ok" || health.Connections != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMessageReachesEveryoneIncludingSender(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, ackA := env.dial(ctx, t, "u1", "")
	connB, _ := env.dial(ctx, t, "u2", "")

	if ackA.ID == "" || ackA.UserID != "u1" {
		t.Fatalf("unexpected connect ack: %+v", ackA)
	}

	send(ctx, t, connA, proto.EventMessage, proto.MessagePayload{
		Text:      "hi",
		UserID:    "u1",
		ID:        "1700000000000-abc",
		Timestamp: "2024-01-01T12:00:00Z",
		RoomID:    "general",
	})

	for name, conn := range map[string]*websocket.Conn{"sender": connA, "peer": connB} {
		var msg proto.MessagePayload
		readFrame(ctx, t, conn, proto.EventMessage, &msg)
		if msg.Text != "hi" || msg.UserID != "u1" || msg.ID != "1700000000000-abc" || msg.RoomID != "general" {
			t.Fatalf("%s: unexpected message: %+v", name, msg)
		}
		if msg.Timestamp != "2024-01-01T12:00:00Z" {
			t.Fatalf("%s: timestamp must be passed through, got %q", name, msg.Timestamp)
		}
	}
}

func TestTypingExcludesSender(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, _ := env.dial(ctx, t, "u1", "")
	connB, _ := env.dial(ctx, t, "u2", "")
	connC, _ := env.dial(ctx, t, "u3", "")

	send(ctx, t, connA, proto.EventTyping, proto.TypingPayload{UserID: "spoofed", IsTyping: true})
	send(ctx, t, connA, proto.EventMessage, proto.MessagePayload{Text: "after typing", UserID: "u1"})

	for name, conn := range map[string]*websocket.Conn{"B": connB, "C": connC} {
		var typing proto.UserTypingPayload
		readFrame(ctx, t, conn, proto.EventUserTyping, &typing)
		if typing.UserID != "u1" || !typing.IsTyping {
			t.Fatalf("%s: unexpected typing payload: %+v", name, typing)
		}
		readFrame(ctx, t, conn, proto.EventMessage, nil)
	}

	// The sender's events are ordered, so the message arriving first proves
	// the typing signal was never queued for it.
	var msg proto.MessagePayload
	readFrame(ctx, t, connA, proto.EventMessage, &msg)
	if msg.Text != "after typing" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestTypingStopAfterPeerLeaves(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, ackA := env.dial(ctx, t, "u1", "")
	connB, _ := env.dial(ctx, t, "u2", "")

	connB.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := env.hub.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Connections == 1 {
			if len(snap.Bindings) != 1 || snap.Bindings[ackA.ID] != "u1" {
				t.Fatalf("unexpected bindings: %v", snap.Bindings)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer was not unregistered, %d connections", snap.Connections)
		}
		time.Sleep(10 * time.Millisecond)
	}

	send(ctx, t, connA, proto.EventTyping, proto.TypingPayload{IsTyping: false})
	expectSilence(t, connA)
}

func TestUnknownSenderStillBroadcasts(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	anon, ack := env.dial(ctx, t, "", "")
	peer, _ := env.dial(ctx, t, "u2", "")

	if ack.UserID != "" {
		t.Fatalf("anonymous connection got identity %q", ack.UserID)
	}

	send(ctx, t, anon, proto.EventTyping, proto.TypingPayload{IsTyping: true})

	var typing proto.UserTypingPayload
	readFrame(ctx, t, peer, proto.EventUserTyping, &typing)
	if typing.UserID != "" || !typing.IsTyping {
		t.Fatalf("unexpected typing payload: %+v", typing)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := env.dial(ctx, t, "u1", "")

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"event":"message","data":{"userId":"u1"}}`),
		[]byte(`{"event":"typing","data":{}}`),
		[]byte(`{"event":"dance","data":{}}`),
	}
	for _, frame := range bad {
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(ctx, t, conn, proto.EventMessage, proto.MessagePayload{Text: "still here"})

	var msg proto.MessagePayload
	readFrame(ctx, t, conn, proto.EventMessage, &msg)
	if msg.Text != "still here" || msg.UserID != "u1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRateLimitDropsExcessEvents(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.Relay.MaxEventsPerMinute = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := env.dial(ctx, t, "u1", "")

	for _, text := range []string{"one", "two", "three"} {
		send(ctx, t, conn, proto.EventMessage, proto.MessagePayload{Text: text})
	}

	for _, want := range []string{"one", "two"} {
		var msg proto.MessagePayload
		readFrame(ctx, t, conn, proto.EventMessage, &msg)
		if msg.Text != want {
			t.Fatalf("expected %q, got %q", want, msg.Text)
		}
	}
	expectSilence(t, conn)
}

func TestTokenTrustBoundary(t *testing.T) {
	t.Run("required token rejects handshake", func(t *testing.T) {
		env := startTestServer(t, func(cfg *config.Config) {
			cfg.Auth.RequireToken = true
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, token := range []string{"", "invalid"} {
			_, resp, err := websocket.Dial(ctx, env.wsURL("alice", token), nil)
			if err == nil {
				t.Fatalf("expected dial with token %q to fail", token)
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401 for token %q, got %v", token, resp)
			}
		}
	})

	t.Run("valid token overrides claimed identity", func(t *testing.T) {
		env := startTestServer(t, func(cfg *config.Config) {
			cfg.Auth.RequireToken = true
		})
		token, userID := env.signUp(t, "alice@example.com", "Alice")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, ack := env.dial(ctx, t, "mallory", token)
		if ack.UserID != userID {
			t.Fatalf("expected identity %q, got %q", userID, ack.UserID)
		}

		send(ctx, t, conn, proto.EventMessage, proto.MessagePayload{Text: "hi", UserID: "mallory"})

		var msg proto.MessagePayload
		readFrame(ctx, t, conn, proto.EventMessage, &msg)
		if msg.UserID != userID {
			t.Fatalf("verified connection must not spoof userId, got %q", msg.UserID)
		}
	})

	t.Run("advisory mode ignores bad token", func(t *testing.T) {
		env := startTestServer(t, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, ack := env.dial(ctx, t, "bob", "invalid")
		if ack.UserID != "bob" {
			t.Fatalf("expected advisory identity bob, got %q", ack.UserID)
		}
	})
}

func TestHubShutdownClosesConnections(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := env.dial(ctx, t, "u1", "")
	env.stop()

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected read to fail after hub shutdown")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away, got %v (%v)", status, err)
	}
}
