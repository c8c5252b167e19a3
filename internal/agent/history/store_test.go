package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/common/config"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SaveGetUpdate(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

			run := &Run{ID: "run-1", Trigger: "manual", Status: RunStarting, Port: 8000, StartedAt: started}
			require.NoError(t, store.Save(ctx, run))

			got, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, RunStarting, got.Status)
			assert.Equal(t, "manual", got.Trigger)
			assert.True(t, started.Equal(got.StartedAt))
			assert.Nil(t, got.ExitCode)
			assert.Nil(t, got.EndedAt)

			ended := started.Add(time.Minute)
			code := 143
			got.Status = RunStopped
			got.PID = 4242
			got.ExitCode = &code
			got.Signal = "terminated"
			got.EndedAt = &ended
			require.NoError(t, store.Save(ctx, got))

			again, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, RunStopped, again.Status)
			assert.Equal(t, 4242, again.PID)
			require.NotNil(t, again.ExitCode)
			assert.Equal(t, 143, *again.ExitCode)
			assert.Equal(t, "terminated", again.Signal)
			require.NotNil(t, again.EndedAt)
			assert.True(t, ended.Equal(*again.EndedAt))
			assert.True(t, again.Finished())
		})
	}
}

func TestStore_GetUnknown(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.Save(ctx, &Run{
					ID:        id,
					Trigger:   "auto",
					Status:    RunStopped,
					StartedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c", "b", "a"}, ids(all))

			limited, err := store.List(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, ids(limited))
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &Run{ID: "r", Trigger: "manual", Status: RunRunning, StartedAt: time.Now().UTC()}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
}

func TestProvide(t *testing.T) {
	s, closeFn, err := Provide(config.HistoryConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, closeFn())

	s, closeFn, err = Provide(config.HistoryConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, closeFn())

	_, _, err = Provide(config.HistoryConfig{Driver: "bolt"})
	assert.Error(t, err)
}

func ids(runs []*Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
