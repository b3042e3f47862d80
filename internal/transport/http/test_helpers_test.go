package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/synergy/internal/config"
	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/identity"
	"github.com/vovakirdan/synergy/internal/identity/identitytest"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/store"
)

const quietPeriod = 150 * time.Millisecond

// fakeIdentity resolves from in-memory maps without any network.
type fakeIdentity struct {
	mu      sync.Mutex
	users   map[string]string
	masters map[string]bool
	lookups int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{users: map[string]string{}, masters: map[string]bool{}}
}

func (f *fakeIdentity) ResolveUsername(_ context.Context, aid string) identity.Username {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	name, ok := f.users[aid]
	return identity.Username{Valid: ok, Username: name}
}

func (f *fakeIdentity) ResolvePrivileges(_ context.Context, aid string) identity.Privileges {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if !f.masters[aid] {
		return identity.Privileges{}
	}
	return identity.Privileges{"Synergy": map[string]any{"canBeMaster": true}}
}

// recorder collects frames handed to a core.Sender.
type recorder struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (r *recorder) Send(_ context.Context, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, string(data))
	return nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

// testEnv is a running relay backed by a fake identity service.
type testEnv struct {
	server   *httptest.Server
	identity *identitytest.Server
	registry *core.Registry
	metrics  *metrics.Metrics
}

func startTestServer(t *testing.T, topology store.TopologyStore) *testEnv {
	t.Helper()

	ids := identitytest.NewServer(nil)
	t.Cleanup(ids.Close)

	logger := zerolog.Nop()
	reg := core.NewRegistry()
	m := metrics.New()

	cfg := config.Default()
	cfg.WriteTimeout = time.Second

	client := identity.NewClient(identity.Options{BaseURL: ids.URL, Timeout: time.Second}, &logger)
	deps := Deps{Registry: reg, Identity: client, Topology: topology, Metrics: m}

	ts := httptest.NewServer(NewRouter(deps, &cfg, &logger))
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, identity: ids, registry: reg, metrics: m}
}

func (e *testEnv) url(path string) string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + path
}

// wsPeer is a dialled websocket whose frames are pumped into a channel so
// tests can wait for a frame or assert that none arrives.
type wsPeer struct {
	conn   *websocket.Conn
	frames chan map[string]any
}

func dial(t *testing.T, url string) *wsPeer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	p := &wsPeer{conn: conn, frames: make(chan map[string]any, 32)}
	go func() {
		defer close(p.frames)
		for {
			var frame map[string]any
			if err := wsjson.Read(context.Background(), conn, &frame); err != nil {
				return
			}
			p.frames <- frame
		}
	}()
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return p
}

func (p *wsPeer) send(t *testing.T, v any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, p.conn, v))
}

func (p *wsPeer) sendRaw(t *testing.T, raw string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.conn.Write(ctx, websocket.MessageText, []byte(raw)))
}

func (p *wsPeer) mustFrame(t *testing.T) map[string]any {
	t.Helper()

	select {
	case frame, ok := <-p.frames:
		if !ok {
			t.Fatalf("connection closed while waiting for a frame")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("expected frame not received")
	}
	return nil
}

func (p *wsPeer) expectQuiet(t *testing.T) {
	t.Helper()

	select {
	case frame, ok := <-p.frames:
		if ok {
			t.Fatalf("expected no frame, got %v", frame)
		}
	case <-time.After(quietPeriod):
	}
}

// authenticate performs the client handshake and returns the room snapshot.
func (p *wsPeer) authenticate(t *testing.T, aid string) []any {
	t.Helper()

	p.send(t, map[string]any{"request": "authenticate", "aid": aid})
	require.Equal(t, map[string]any{"request": "authenticate", "authenticated": true}, p.mustFrame(t))

	snapshot := p.mustFrame(t)
	require.Equal(t, "room_list", snapshot["request"])
	rooms, _ := snapshot["rooms"].([]any)
	return rooms
}

// register performs the master handshake and returns the result.
func (p *wsPeer) register(t *testing.T, aid string) bool {
	t.Helper()

	p.send(t, map[string]any{"route": "register", "aid": aid})
	frame := p.mustFrame(t)
	ok, present := frame["authenticated"].(bool)
	require.True(t, present, "register reply: %v", frame)
	return ok
}
