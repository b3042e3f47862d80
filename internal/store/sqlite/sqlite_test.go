package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/synergy/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRoom(ctx, "Global", true))
	require.NoError(t, s.SaveRoom(ctx, "Staff", false))
	require.NoError(t, s.AddMember(ctx, "Staff", "b"))
	require.NoError(t, s.AddMember(ctx, "Staff", "a"))
	require.NoError(t, s.AddMember(ctx, "Staff", "a"))

	rooms, err := s.LoadRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.Room{
		{Name: "Global", Default: true},
		{Name: "Staff", Members: []string{"a", "b"}},
	}, rooms)
}

func TestSaveRoomReplacesMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRoom(ctx, "Global", false))
	require.NoError(t, s.SaveRoom(ctx, "Other", false))
	require.NoError(t, s.AddMember(ctx, "Global", "a"))
	require.NoError(t, s.SaveRoom(ctx, "Global", true))

	rooms, err := s.LoadRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.Room{
		{Name: "Global", Default: true},
		{Name: "Other"},
	}, rooms)
}

func TestMissingRowsReportNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.AddMember(ctx, "ghost", "a"), store.ErrNotFound)
	require.ErrorIs(t, s.DeleteRoom(ctx, "ghost"), store.ErrNotFound)

	require.NoError(t, s.SaveRoom(ctx, "Global", true))
	require.ErrorIs(t, s.RemoveMember(ctx, "Global", "a"), store.ErrNotFound)
}

func TestDeleteRoomCascadesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRoom(ctx, "Global", true))
	require.NoError(t, s.AddMember(ctx, "Global", "a"))
	require.NoError(t, s.DeleteRoom(ctx, "Global"))

	require.NoError(t, s.SaveRoom(ctx, "Global", true))
	rooms, err := s.LoadRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.Room{{Name: "Global", Default: true}}, rooms)
}

func TestTopologySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRoom(ctx, "Global", true))
	require.NoError(t, s.AddMember(ctx, "Global", "a"))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	rooms, err := reopened.LoadRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.Room{{Name: "Global", Default: true, Members: []string{"a"}}}, rooms)
}
