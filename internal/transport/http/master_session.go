package http

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/identity"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/proto"
	"github.com/vovakirdan/synergy/internal/store"
)

// masterSession is the per-socket state of the privileged control channel.
// authenticated only ever goes from false to true.
type masterSession struct {
	id       string
	registry *core.Registry
	ids      IdentityResolver
	topology store.TopologyStore // optional
	out      core.Sender
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// topologyMu is shared by every master session. It is held across a
	// registry mutation and its store write so the store applies them in
	// registry order.
	topologyMu *sync.Mutex

	aid           string
	name          string
	privileges    identity.Privileges
	authenticated bool
}

func newMasterSession(id string, reg *core.Registry, ids IdentityResolver, topology store.TopologyStore, topologyMu *sync.Mutex, out core.Sender, m *metrics.Metrics, logger zerolog.Logger) *masterSession {
	if topologyMu == nil {
		topologyMu = &sync.Mutex{}
	}
	return &masterSession{
		id:         id,
		registry:   reg,
		ids:        ids,
		topology:   topology,
		topologyMu: topologyMu,
		out:        out,
		metrics:    m,
		log:        logger.With().Str("conn_id", id).Str("channel", metrics.ChannelMaster).Logger(),
	}
}

// handle processes one inbound frame. Only transport failures are returned.
func (s *masterSession) handle(ctx context.Context, data []byte) error {
	req := proto.DecodeMaster(data)

	if r, ok := req.(proto.Register); ok {
		if s.authenticated {
			s.drop(req, "already authenticated")
			return nil
		}
		return s.register(ctx, r.AID)
	}

	if !s.authenticated {
		s.drop(req, "not authenticated")
		return nil
	}

	if _, ok := req.(proto.ListRooms); ok {
		if err := s.out.Send(ctx, proto.NewMasterRoomList(s.registry.ListRoomNames())); err != nil {
			return fmt.Errorf("send room list: %w", err)
		}
		return nil
	}

	s.topologyMu.Lock()
	defer s.topologyMu.Unlock()

	switch r := req.(type) {
	case proto.CreateRoom:
		s.registry.CreateRoom(r.Name, r.Default)
		s.log.Info().Str("room", r.Name).Bool("default", r.Default).Msg("room created")
		s.persist(ctx, "save room", func(st store.TopologyStore) error {
			return st.SaveRoom(ctx, r.Name, r.Default)
		})
	case proto.AddToRoom:
		if err := s.registry.AddMember(r.Room, r.AID); err != nil {
			s.drop(req, err.Error())
			return nil
		}
		s.log.Info().Str("room", r.Room).Str("member", r.AID).Msg("member added")
		s.persist(ctx, "add member", func(st store.TopologyStore) error {
			return st.AddMember(ctx, r.Room, r.AID)
		})
	case proto.RemoveFromRoom:
		if err := s.registry.RemoveMember(r.Room, r.AID); err != nil {
			if errors.Is(err, core.ErrNotAMember) {
				s.log.Debug().Str("room", r.Room).Str("member", r.AID).Msg("remove of non-member ignored")
				return nil
			}
			s.drop(req, err.Error())
			return nil
		}
		s.log.Info().Str("room", r.Room).Str("member", r.AID).Msg("member removed")
		s.persist(ctx, "remove member", func(st store.TopologyStore) error {
			return st.RemoveMember(ctx, r.Room, r.AID)
		})
	case proto.DeleteRoom:
		if !s.registry.DeleteRoom(r.Name) {
			s.drop(req, core.ErrRoomNotFound.Error())
			return nil
		}
		s.log.Info().Str("room", r.Name).Msg("room deleted")
		s.persist(ctx, "delete room", func(st store.TopologyStore) error {
			return st.DeleteRoom(ctx, r.Name)
		})
	default:
		s.drop(req, "unknown route")
	}
	return nil
}

func (s *masterSession) register(ctx context.Context, aid string) error {
	who := s.ids.ResolveUsername(ctx, aid)
	privileges := s.ids.ResolvePrivileges(ctx, aid)

	s.aid = aid
	s.name = who.Username
	s.privileges = privileges
	s.authenticated = privileges.CanBeMaster()
	s.metrics.Authentication(metrics.ChannelMaster, s.authenticated)

	if s.authenticated {
		s.log = s.log.With().Str("aid", aid).Logger()
		s.log.Info().Str("username", s.name).Msg("master authenticated")
	} else {
		s.log.Debug().Str("aid", aid).Msg("master registration rejected")
	}

	if err := s.out.Send(ctx, proto.MasterAuthResult{Authenticated: s.authenticated}); err != nil {
		return fmt.Errorf("send register result: %w", err)
	}
	return nil
}

// persist mirrors a registry mutation into the topology store, if any.
// Callers hold topologyMu. Store failures are logged; the in-memory
// registry stays authoritative.
func (s *masterSession) persist(ctx context.Context, op string, fn func(store.TopologyStore) error) {
	if s.topology == nil {
		return
	}
	err := fn(s.topology)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		// Default-room joins happen at login and are never stored.
		s.log.Debug().Err(err).Str("op", op).Msg("topology store had nothing to change")
	default:
		s.log.Error().Err(err).Str("op", op).Msg("topology store write failed")
	}
}

func (s *masterSession) drop(req any, why string) {
	s.metrics.Dropped(metrics.ChannelMaster)
	ev := s.log.Debug().Str("why", why)
	if ignored, ok := req.(proto.Ignored); ok {
		ev = ev.Str("reason", ignored.Reason)
	}
	ev.Msg("dropped master frame")
}
