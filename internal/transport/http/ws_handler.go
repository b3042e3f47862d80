package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/store"
	"github.com/vovakirdan/synergy/internal/utils"
)

// session is what a websocket read loop drives.
type session interface {
	handle(ctx context.Context, data []byte) error
}

// WSHandler upgrades HTTP connections and runs the client or master
// protocol over them.
type WSHandler struct {
	registry        *core.Registry
	ids             IdentityResolver
	topology        store.TopologyStore
	topologyMu      sync.Mutex
	metrics         *metrics.Metrics
	log             *zerolog.Logger
	maxMessageBytes int64
	writeTimeout    time.Duration
}

// ClientHandler serves the client channel.
func (h *WSHandler) ClientHandler() stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		conn, ok := h.accept(w, r)
		if !ok {
			return
		}
		id := utils.NewID()
		sess := newClientSession(id, h.registry, h.ids, h.sender(conn), h.metrics, *h.log)

		h.metrics.ConnectionOpened(metrics.ChannelClient)
		defer h.metrics.ConnectionClosed(metrics.ChannelClient)
		defer sess.close()

		h.serve(r.Context(), conn, sess, sess.log)
	})
}

// MasterHandler serves the master control channel.
func (h *WSHandler) MasterHandler() stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		conn, ok := h.accept(w, r)
		if !ok {
			return
		}
		id := utils.NewID()
		sess := newMasterSession(id, h.registry, h.ids, h.topology, &h.topologyMu, h.sender(conn), h.metrics, *h.log)

		h.metrics.ConnectionOpened(metrics.ChannelMaster)
		defer h.metrics.ConnectionClosed(metrics.ChannelMaster)

		h.serve(r.Context(), conn, sess, sess.log)
	})
}

func (h *WSHandler) accept(w stdhttp.ResponseWriter, r *stdhttp.Request) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return nil, false
	}
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}
	return conn, true
}

// sender writes JSON frames with a per-write deadline. coder/websocket
// allows concurrent writers, so broadcasts may share it freely.
func (h *WSHandler) sender(conn *websocket.Conn) core.Sender {
	return core.SenderFunc(func(ctx context.Context, v any) error {
		if h.writeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
		}
		return wsjson.Write(ctx, conn, v)
	})
}

// serve reads frames until the transport fails, then closes the socket.
// Callers put their cleanup in defers so it runs on every exit path.
func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn, sess session, logger zerolog.Logger) {
	defer conn.Close(websocket.StatusInternalError, "internal error")

	err := readLoop(ctx, conn, sess)

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch peer := websocket.CloseStatus(err); {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
	case peer == websocket.StatusNormalClosure, peer == websocket.StatusGoingAway:
	case peer != -1:
		logger.Debug().Int("status", int(peer)).Msg("peer closed with error status")
	default:
		status = websocket.StatusInternalError
		reason = "read error"
		logger.Warn().Err(err).Msg("ws connection closed with error")
	}

	conn.Close(status, reason)
}

func readLoop(ctx context.Context, conn *websocket.Conn, sess session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := sess.handle(ctx, data); err != nil {
			return err
		}
	}
}
