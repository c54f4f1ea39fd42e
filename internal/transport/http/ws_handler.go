package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/metrics"
	"github.com/vovakirdan/relaychat/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub         *core.Hub
	authService *auth.Service
	cfg         config.RelayConfig
	requireAuth bool
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. authService may be nil, in which
// case tokens are ignored and every connection is identified by its userId only.
func NewWSHandler(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		authService: authService,
		cfg:         cfg.Relay,
		requireAuth: cfg.Auth.RequireToken,
		log:         logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	userID, verified, err := h.identify(r)
	if err != nil {
		h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("ws handshake rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(uuid.NewString(), userID, h.cfg.ClientBuffer, verified)
	if err := h.hub.RegisterClient(client); err != nil {
		h.log.Warn().Err(err).Msg("relay unavailable")
		conn.Close(websocket.StatusTryAgainLater, "relay unavailable")
		return
	}
	defer func() { _ = h.hub.UnregisterClient(client) }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.cfg.MaxEventsPerMinute)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// identify resolves the identity claimed in the handshake. The userId query
// parameter is advisory; a valid token replaces it with the token's subject.
func (h *WSHandler) identify(r *stdhttp.Request) (string, bool, error) {
	query := r.URL.Query()
	userID := query.Get(proto.QueryUserID)
	token := query.Get(proto.QueryToken)

	if token == "" || h.authService == nil {
		if h.requireAuth {
			return "", false, auth.ErrInvalidToken
		}
		return userID, false, nil
	}

	identity, err := h.authService.CurrentSession(r.Context(), token)
	if err != nil {
		if h.requireAuth {
			return "", false, err
		}
		h.log.Debug().Err(err).Str("user_id", userID).Msg("ignoring invalid ws token")
		return userID, false, nil
	}
	return identity.User.ID, true, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.log.Warn().Str("conn_id", client.ID).Msg("binary frame dropped")
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			metrics.EventsTotal.WithLabelValues("unknown", "malformed").Inc()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("malformed frame dropped")
			continue
		}

		cmd, err := inboundToCommand(client, inbound)
		if err != nil {
			metrics.EventsTotal.WithLabelValues(eventLabel(inbound.Event), "malformed").Inc()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Str("event", inbound.Event).Msg("malformed event dropped")
			continue
		}

		if !limiter.allow() {
			metrics.EventsTotal.WithLabelValues(inbound.Event, "rate_limited").Inc()
			h.log.Warn().Str("conn_id", client.ID).Str("event", inbound.Event).Msg("rate limit exceeded")
			continue
		}

		if err := h.hub.Submit(ctx, cmd); err != nil {
			return err
		}
		metrics.EventsTotal.WithLabelValues(inbound.Event, "accepted").Inc()
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return h.goingAway(conn)
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-h.hub.Done():
			return h.goingAway(conn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// goingAway runs the close handshake while readLoop is still draining frames.
func (h *WSHandler) goingAway(conn *websocket.Conn) error {
	if err := conn.Close(websocket.StatusGoingAway, "relay shutting down"); err != nil {
		h.log.Debug().Err(err).Msg("close on shutdown")
	}
	return nil
}

func eventLabel(event string) string {
	switch event {
	case proto.EventMessage, proto.EventTyping:
		return event
	default:
		return "unknown"
	}
}
