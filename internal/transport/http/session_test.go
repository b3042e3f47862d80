package http

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/store"
	"github.com/vovakirdan/synergy/internal/store/sqlite"
)

func newTestClientSession(reg *core.Registry, ids *fakeIdentity) (*clientSession, *recorder) {
	out := &recorder{}
	return newClientSession("conn-1", reg, ids, out, metrics.New(), zerolog.Nop()), out
}

func newTestMasterSession(reg *core.Registry, ids *fakeIdentity) (*masterSession, *recorder) {
	out := &recorder{}
	return newMasterSession("master-1", reg, ids, nil, nil, out, metrics.New(), zerolog.Nop()), out
}

func TestClientSessionHandshake(t *testing.T) {
	reg := core.NewRegistry()
	reg.CreateRoom("Global", true)
	ids := newFakeIdentity()
	ids.users["c9f9"] = "JCharante"

	sess, out := newTestClientSession(reg, ids)
	ctx := context.Background()

	require.NoError(t, sess.handle(ctx, []byte(`{"request":"authenticate","aid":"c9f9"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"request":"send_message","room":"Global","message":"Hi"}`)))

	require.Equal(t, []string{
		`{"request":"authenticate","authenticated":true}`,
		`{"request":"room_list","rooms":["Global"]}`,
		`{"author":"JCharante","color":"green","message":"Hi"}`,
	}, out.sent())
}

func TestClientSessionRejectsUnknownIdentifier(t *testing.T) {
	reg := core.NewRegistry()
	reg.CreateRoom("Global", true)
	ids := newFakeIdentity()

	sess, out := newTestClientSession(reg, ids)
	ctx := context.Background()

	require.NoError(t, sess.handle(ctx, []byte(`{"request":"authenticate","aid":"forged"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"request":"send_message","room":"Global","message":"Hi"}`)))

	require.False(t, sess.authenticated())
	require.Empty(t, out.sent())
	require.Zero(t, reg.LiveCount())

	// Retrying with a valid identifier still works.
	ids.users["real"] = "real"
	require.NoError(t, sess.handle(ctx, []byte(`{"request":"authenticate","aid":"real"}`)))
	require.True(t, sess.authenticated())
	require.Len(t, out.sent(), 2)
}

func TestClientSessionIgnoresJunk(t *testing.T) {
	reg := core.NewRegistry()
	reg.CreateRoom("Global", true)
	ids := newFakeIdentity()
	ids.users["a"] = "alice"

	sess, out := newTestClientSession(reg, ids)
	ctx := context.Background()

	for _, frame := range []string{`not json`, `{}`, `{"request":"send_message","room":"Global","message":"early"}`, `[]`} {
		require.NoError(t, sess.handle(ctx, []byte(frame)))
	}
	require.Zero(t, ids.lookups)

	require.NoError(t, sess.handle(ctx, []byte(`{"request":"authenticate","aid":"a"}`)))
	before := len(out.sent())

	for _, frame := range []string{
		`{"request":"authenticate","aid":"a"}`,
		`{"request":"send_message","room":"Nowhere","message":"x"}`,
		`{"request":"room_list"}`,
		`{"route":"room_list"}`,
	} {
		require.NoError(t, sess.handle(ctx, []byte(frame)))
	}
	require.Len(t, out.sent(), before)
	require.Equal(t, 1, ids.lookups)
}

func TestClientSessionCloseUnregistersOnce(t *testing.T) {
	reg := core.NewRegistry()
	reg.CreateRoom("Global", true)
	ids := newFakeIdentity()
	ids.users["a"] = "alice"

	unauth, _ := newTestClientSession(reg, ids)
	unauth.close()

	sess, _ := newTestClientSession(reg, ids)
	require.NoError(t, sess.handle(context.Background(), []byte(`{"request":"authenticate","aid":"a"}`)))
	require.Equal(t, 1, reg.LiveCount())

	sess.close()
	sess.close()
	require.Zero(t, reg.LiveCount())
	require.Equal(t, []string{"Global"}, reg.RoomsContaining("a"))
}

func TestClientSessionCloseKeepsNewerConnection(t *testing.T) {
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.users["a"] = "alice"
	ctx := context.Background()

	first, _ := newTestClientSession(reg, ids)
	second, _ := newTestClientSession(reg, ids)
	require.NoError(t, first.handle(ctx, []byte(`{"request":"authenticate","aid":"a"}`)))
	require.NoError(t, second.handle(ctx, []byte(`{"request":"authenticate","aid":"a"}`)))

	first.close()
	live, ok := reg.Connection("a")
	require.True(t, ok)
	require.Same(t, second.conn, live)
}

func TestClientSessionTransportFailureEndsLoop(t *testing.T) {
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.users["a"] = "alice"

	sess, out := newTestClientSession(reg, ids)
	out.err = errors.New("connection reset")

	err := sess.handle(context.Background(), []byte(`{"request":"authenticate","aid":"a"}`))
	require.Error(t, err)

	sess.close()
	require.Zero(t, reg.LiveCount())
}

func TestMasterSessionRequiresPrivilege(t *testing.T) {
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.users["u"] = "user"

	sess, out := newTestMasterSession(reg, ids)
	ctx := context.Background()

	require.NoError(t, sess.handle(ctx, []byte(`{"route":"register","aid":"u"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"create_room","room_name":"Lobby","default_room":true}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"add_to_room","room_name":"Lobby","aid":"u"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"room_list"}`)))

	require.False(t, sess.authenticated)
	require.Equal(t, []string{`{"authenticated":false}`}, out.sent())
	require.Empty(t, reg.ListRoomNames())
}

func TestMasterSessionRegisterIsOneWay(t *testing.T) {
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.users["m"] = "admin"
	ids.masters["m"] = true

	sess, out := newTestMasterSession(reg, ids)
	ctx := context.Background()

	require.NoError(t, sess.handle(ctx, []byte(`{"route":"register","aid":"nobody"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"register","aid":"m"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"register","aid":"nobody"}`)))

	require.True(t, sess.authenticated)
	require.Equal(t, "m", sess.aid)
	require.Equal(t, "admin", sess.name)
	require.True(t, sess.privileges.CanBeMaster())
	require.Equal(t, []string{`{"authenticated":false}`, `{"authenticated":true}`}, out.sent())
}

func TestMasterSessionManagesTopology(t *testing.T) {
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.masters["m"] = true

	sess, out := newTestMasterSession(reg, ids)
	ctx := context.Background()

	frames := []string{
		`{"route":"register","aid":"m"}`,
		`{"route":"create_room","room_name":"Global","default_room":true}`,
		`{"route":"create_room","room_name":"Staff","default_room":false}`,
		`{"route":"add_to_room","room_name":"Staff","aid":"x"}`,
		`{"route":"add_to_room","room_name":"Ghost","aid":"x"}`,
		`{"route":"add_to_room","room_name":"Staff","aid":7}`,
		`{"route":"create_room","room_name":"Bad","default_room":"yes"}`,
		`{"route":"remove_from_room","room_name":"Staff","aid":"nobody"}`,
		`{"route":"delete_room","room_name":"Ghost"}`,
		`{"route":"room_list"}`,
	}
	for _, f := range frames {
		require.NoError(t, sess.handle(ctx, []byte(f)))
	}

	require.Equal(t, []string{
		`{"authenticated":true}`,
		`{"route":"room_list","rooms":["Global","Staff"]}`,
	}, out.sent())
	require.Equal(t, []string{"Staff"}, reg.RoomsContaining("x"))
	require.Equal(t, []string{"Global"}, reg.DefaultRoomNames())
}

func TestMasterSessionWritesThroughTopologyStore(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.masters["m"] = true
	sess := newMasterSession("master-1", reg, ids, st, nil, &recorder{}, nil, zerolog.Nop())
	ctx := context.Background()

	for _, f := range []string{
		`{"route":"register","aid":"m"}`,
		`{"route":"create_room","room_name":"Global","default_room":true}`,
		`{"route":"create_room","room_name":"Staff","default_room":false}`,
		`{"route":"create_room","room_name":"Temp","default_room":false}`,
		`{"route":"add_to_room","room_name":"Staff","aid":"x"}`,
		`{"route":"add_to_room","room_name":"Staff","aid":"y"}`,
		`{"route":"remove_from_room","room_name":"Staff","aid":"y"}`,
		`{"route":"delete_room","room_name":"Temp"}`,
	} {
		require.NoError(t, sess.handle(ctx, []byte(f)))
	}

	rooms, err := st.LoadRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, "Global", rooms[0].Name)
	require.True(t, rooms[0].Default)
	require.Equal(t, "Staff", rooms[1].Name)
	require.Equal(t, []string{"x"}, rooms[1].Members)
}

// gatedStore holds SaveRoom for one room until release is closed.
type gatedStore struct {
	store.TopologyStore
	room    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SaveRoom(ctx context.Context, name string, isDefault bool) error {
	if name == g.room {
		close(g.entered)
		<-g.release
	}
	return g.TopologyStore.SaveRoom(ctx, name, isDefault)
}

func TestConcurrentMastersKeepStoreInRegistryOrder(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	gated := &gatedStore{TopologyStore: st, room: "Ops", entered: make(chan struct{}), release: make(chan struct{})}
	reg := core.NewRegistry()
	ids := newFakeIdentity()
	ids.masters["a"] = true
	ids.masters["b"] = true
	ctx := context.Background()

	var mu sync.Mutex
	first := newMasterSession("master-a", reg, ids, gated, &mu, &recorder{}, nil, zerolog.Nop())
	second := newMasterSession("master-b", reg, ids, gated, &mu, &recorder{}, nil, zerolog.Nop())
	require.NoError(t, first.handle(ctx, []byte(`{"route":"register","aid":"a"}`)))
	require.NoError(t, second.handle(ctx, []byte(`{"route":"register","aid":"b"}`)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = first.handle(ctx, []byte(`{"route":"create_room","room_name":"Ops","default_room":false}`))
	}()
	<-gated.entered

	go func() {
		defer wg.Done()
		_ = second.handle(ctx, []byte(`{"route":"add_to_room","room_name":"Ops","aid":"u"}`))
	}()
	// Give the second session time to overtake the blocked store write.
	time.Sleep(50 * time.Millisecond)
	close(gated.release)
	wg.Wait()

	require.Equal(t, []string{"Ops"}, reg.RoomsContaining("u"))

	rooms, err := st.LoadRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "Ops", rooms[0].Name)
	require.Equal(t, []string{"u"}, rooms[0].Members)
}

func TestRemovingLoginJoinedMemberIsNotAStoreError(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	reg := core.NewRegistry()
	reg.CreateRoom("Global", true)
	require.NoError(t, st.SaveRoom(ctx, "Global", true))
	// Login joins default rooms in memory only.
	reg.JoinDefaultRooms("u")

	ids := newFakeIdentity()
	ids.masters["m"] = true
	var logs bytes.Buffer
	sess := newMasterSession("master-1", reg, ids, st, nil, &recorder{}, nil, zerolog.New(&logs))

	require.NoError(t, sess.handle(ctx, []byte(`{"route":"register","aid":"m"}`)))
	require.NoError(t, sess.handle(ctx, []byte(`{"route":"remove_from_room","room_name":"Global","aid":"u"}`)))

	require.Empty(t, reg.RoomsContaining("u"))
	require.NotContains(t, logs.String(), `"level":"error"`)
	require.Contains(t, logs.String(), "topology store had nothing to change")
}
