package http

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/identity"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/proto"
)

// IdentityResolver is the subset of the identity client the handlers use.
type IdentityResolver interface {
	ResolveUsername(ctx context.Context, aid string) identity.Username
	ResolvePrivileges(ctx context.Context, aid string) identity.Privileges
}

// clientSession is the per-socket state machine for the client channel.
// It starts unauthenticated and becomes authenticated once conn is set.
type clientSession struct {
	id       string
	registry *core.Registry
	ids      IdentityResolver
	out      core.Sender
	metrics  *metrics.Metrics
	log      zerolog.Logger

	conn *core.Connection
}

func newClientSession(id string, reg *core.Registry, ids IdentityResolver, out core.Sender, m *metrics.Metrics, logger zerolog.Logger) *clientSession {
	return &clientSession{
		id:       id,
		registry: reg,
		ids:      ids,
		out:      out,
		metrics:  m,
		log:      logger.With().Str("conn_id", id).Str("channel", metrics.ChannelClient).Logger(),
	}
}

func (s *clientSession) authenticated() bool {
	return s.conn != nil
}

// handle processes one inbound frame. The returned error is always a
// transport failure; protocol problems are dropped silently.
func (s *clientSession) handle(ctx context.Context, data []byte) error {
	req := proto.DecodeClient(data)

	if !s.authenticated() {
		auth, ok := req.(proto.Authenticate)
		if !ok {
			s.drop(req, "not authenticated")
			return nil
		}
		return s.authenticate(ctx, auth.AID)
	}

	send, ok := req.(proto.SendMessage)
	if !ok {
		s.drop(req, "unsupported once authenticated")
		return nil
	}
	s.sendMessage(ctx, send)
	return nil
}

func (s *clientSession) authenticate(ctx context.Context, aid string) error {
	who := s.ids.ResolveUsername(ctx, aid)
	s.metrics.Authentication(metrics.ChannelClient, who.Authenticated())
	if !who.Authenticated() {
		s.log.Debug().Str("aid", aid).Msg("authentication rejected")
		return nil
	}

	s.conn = core.NewConnection(s.id, aid, who.Username, s.out)
	s.log = s.log.With().Str("aid", aid).Logger()

	if err := s.out.Send(ctx, proto.NewAuthResult(true)); err != nil {
		return fmt.Errorf("send auth result: %w", err)
	}

	rooms := s.registry.RegisterConnection(s.conn)
	s.log.Info().Str("username", who.Username).Strs("rooms", rooms).Msg("client authenticated")

	if err := s.out.Send(ctx, proto.NewRoomList(rooms)); err != nil {
		return fmt.Errorf("send room list: %w", err)
	}
	return nil
}

func (s *clientSession) sendMessage(ctx context.Context, req proto.SendMessage) {
	res, ok := s.registry.SendToRoom(ctx, s.conn, req.Room, req.Message)
	if !ok {
		s.drop(req, "unknown room or not a member")
		return
	}

	s.metrics.Broadcast(res.Recipients, res.Failed)
	ev := s.log.Debug()
	if res.Failed > 0 {
		ev = s.log.Warn()
	}
	ev.Str("room", req.Room).Int("recipients", res.Recipients).Int("failed", res.Failed).Msg("broadcast")
}

// close releases the session's live registration. It is safe to call on
// an unauthenticated session and more than once.
func (s *clientSession) close() {
	if s.conn == nil {
		return
	}
	if s.registry.UnregisterConnection(s.conn) {
		s.log.Info().Msg("client unregistered")
	}
}

func (s *clientSession) drop(req any, why string) {
	s.metrics.Dropped(metrics.ChannelClient)
	ev := s.log.Debug().Str("why", why)
	if ignored, ok := req.(proto.Ignored); ok {
		ev = ev.Str("reason", ignored.Reason)
	}
	ev.Msg("dropped client frame")
}
