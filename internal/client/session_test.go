package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	relayhttp "github.com/vovakirdan/relaychat/internal/transport/http"
)

type testRelay struct {
	url string
	hub *core.Hub
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()

	nop := zerolog.Nop()
	cfg := config.Default()

	hub := core.NewHub(&nop)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(relayhttp.NewWSHandler(hub, nil, &cfg, &nop))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		ts.CloseClientConnections()
		ts.Close()
	})

	return &testRelay{url: strings.Replace(ts.URL, "http", "ws", 1), hub: hub}
}

func connectSession(t *testing.T, relay *testRelay, userID string) *Session {
	t.Helper()

	s := New(Options{URL: relay.url, HandshakeTimeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Connect(ctx, userID); err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func TestSendWithoutConnection(t *testing.T) {
	s := New(Options{URL: "ws://127.0.0.1:1/ws"})
	ctx := context.Background()

	if err := s.SendMessage(ctx, Message{Text: "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.EmitTyping(ctx, true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect without connection: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	relay := startRelay(t)
	alice := connectSession(t, relay, "alice")
	bob := connectSession(t, relay, "bob")

	aliceMsgs := make(chan Message, 4)
	bobMsgs := make(chan Message, 4)
	alice.OnMessage(func(m Message) { aliceMsgs <- m })
	bob.OnMessage(func(m Message) { bobMsgs <- m })

	sentAt := time.Date(2024, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	alice.now = func() time.Time { return sentAt }

	if err := alice.SendMessage(context.Background(), Message{Text: "hi", RoomID: "general"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for name, ch := range map[string]chan Message{"sender": aliceMsgs, "peer": bobMsgs} {
		m := receive(t, ch)
		if m.Text != "hi" || m.UserID != "alice" || m.RoomID != "general" {
			t.Fatalf("%s: unexpected message %+v", name, m)
		}
		if !m.Timestamp.Equal(sentAt) {
			t.Fatalf("%s: expected timestamp %v, got %v", name, sentAt, m.Timestamp)
		}
		if !strings.HasPrefix(m.ID, "1704110400500-") {
			t.Fatalf("%s: unexpected id %q", name, m.ID)
		}
	}
}

func TestTypingReachesOthersOnly(t *testing.T) {
	relay := startRelay(t)
	alice := connectSession(t, relay, "alice")
	bob := connectSession(t, relay, "bob")

	// One ordered channel per session to observe what arrives first.
	aliceEvents := make(chan string, 4)
	bobTyping := make(chan TypingEvent, 4)
	alice.OnUserTyping(func(TypingEvent) { aliceEvents <- "typing" })
	alice.OnMessage(func(Message) { aliceEvents <- "message" })
	bob.OnUserTyping(func(ev TypingEvent) { bobTyping <- ev })

	ctx := context.Background()
	if err := alice.EmitTyping(ctx, true); err != nil {
		t.Fatalf("emit typing: %v", err)
	}
	if err := alice.SendMessage(ctx, Message{Text: "done typing"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev := receive(t, bobTyping)
	if ev.UserID != "alice" || !ev.IsTyping {
		t.Fatalf("unexpected typing event: %+v", ev)
	}
	if first := receive(t, aliceEvents); first != "message" {
		t.Fatalf("sender must not see its own typing signal, got %q first", first)
	}
}

func TestSubscribersRunInOrderAndUnsubscribe(t *testing.T) {
	relay := startRelay(t)
	s := connectSession(t, relay, "alice")

	calls := make(chan string, 8)
	s.OnMessage(func(Message) { calls <- "first" })
	second := s.OnMessage(func(Message) { calls <- "second" })
	s.OnMessage(func(Message) { calls <- "third" })

	ctx := context.Background()
	if err := s.SendMessage(ctx, Message{Text: "one"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, want := range []string{"first", "second", "third"} {
		if got := receive(t, calls); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}

	second.Unsubscribe()
	second.Unsubscribe()

	if err := s.SendMessage(ctx, Message{Text: "two"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, want := range []string{"first", "third"} {
		if got := receive(t, calls); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestConnectReplacesPreviousConnection(t *testing.T) {
	relay := startRelay(t)
	s := connectSession(t, relay, "alice")

	disconnects := make(chan error, 2)
	connects := make(chan ConnectEvent, 2)
	s.OnDisconnect(func(err error) { disconnects <- err })
	s.OnConnect(func(ev ConnectEvent) { connects <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx, "alice-2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if err := receive(t, disconnects); err != nil {
		t.Fatalf("replaced connection should close cleanly, got %v", err)
	}
	if ev := receive(t, connects); ev.UserID != "alice-2" || ev.ConnID == "" {
		t.Fatalf("unexpected connect event: %+v", ev)
	}
	if s.UserID() != "alice-2" || !s.Connected() {
		t.Fatalf("session not switched to new identity")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := relay.hub.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Connections == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 connection, got %d", snap.Connections)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConcurrentConnectKeepsOneConnection(t *testing.T) {
	relay := startRelay(t)
	s := New(Options{URL: relay.url, HandshakeTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = s.Disconnect() })

	msgs := make(chan Message, 4)
	s.OnMessage(func(m Message) { msgs <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Connect(ctx, "alice")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := relay.hub.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Connections == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 relay connection, got %d", snap.Connections)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.SendMessage(ctx, Message{Text: "once"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if m := receive(t, msgs); m.Text != "once" {
		t.Fatalf("unexpected message %+v", m)
	}
	select {
	case m := <-msgs:
		t.Fatalf("message delivered twice: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectErrors(t *testing.T) {
	t.Run("unreachable relay", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := strings.Replace(ts.URL, "http", "ws", 1)
		ts.Close()

		s := New(Options{URL: url, HandshakeTimeout: time.Second})
		connectErrs := make(chan error, 1)
		s.OnConnectError(func(err error) { connectErrs <- err })

		err := s.Connect(context.Background(), "alice")
		if err == nil {
			t.Fatal("expected connect to fail")
		}
		if reported := receive(t, connectErrs); reported == nil {
			t.Fatal("expected error to reach OnConnectError")
		}
		if s.Connected() {
			t.Fatal("session must stay disconnected")
		}
	})

	t.Run("no acknowledgement", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()
			// Never acknowledge; block until the client gives up.
			_, _, _ = conn.Read(context.Background())
		}))
		t.Cleanup(func() {
			ts.CloseClientConnections()
			ts.Close()
		})

		s := New(Options{URL: strings.Replace(ts.URL, "http", "ws", 1), HandshakeTimeout: 200 * time.Millisecond})

		start := time.Now()
		if err := s.Connect(context.Background(), "alice"); err == nil {
			t.Fatal("expected handshake timeout")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("handshake timeout not honoured, took %v", elapsed)
		}
	})
}

func TestDisconnectThenSend(t *testing.T) {
	relay := startRelay(t)
	s := connectSession(t, relay, "alice")

	disconnected := make(chan error, 1)
	s.OnDisconnect(func(err error) { disconnected <- err })

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := receive(t, disconnected); err != nil {
		t.Fatalf("expected clean disconnect, got %v", err)
	}
	if err := s.SendMessage(context.Background(), Message{Text: "late"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
