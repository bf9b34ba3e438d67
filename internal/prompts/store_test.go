package prompts

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "prompts.db"))
	require.NoError(t, err)
	sqlite := NewSQLiteStore(db)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestActivationKeepsExactlyOneActive(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v1, err := store.Create(ctx, "v1", "first prompt", "")
			require.NoError(t, err)
			v2, err := store.Create(ctx, "v2", "second prompt", "tightened tone")
			require.NoError(t, err)

			active, err := store.Active(ctx)
			require.NoError(t, err)
			assert.Nil(t, active, "nothing active before first activation")

			require.NoError(t, store.Activate(ctx, v1.ID))
			require.NoError(t, store.Activate(ctx, v2.ID))

			versions, err := store.List(ctx)
			require.NoError(t, err)
			activeCount := 0
			for _, v := range versions {
				if v.IsActive {
					activeCount++
					assert.Equal(t, v2.ID, v.ID)
					assert.NotNil(t, v.ActivatedAt)
				}
			}
			assert.Equal(t, 1, activeCount)

			active, err = store.Active(ctx)
			require.NoError(t, err)
			require.NotNil(t, active)
			assert.Equal(t, "second prompt", active.Content)
		})
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Activate(context.Background(), 999), ErrVersionNotFound)
		})
	}
}

func TestGetRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := store.Create(ctx, "v1", "content", "notes")
			require.NoError(t, err)

			got, err := store.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "v1", got.Version)
			assert.Equal(t, "content", got.Content)
			assert.Equal(t, "notes", got.Notes)
			assert.False(t, got.IsActive)

			_, err = store.Get(ctx, created.ID+100)
			assert.ErrorIs(t, err, ErrVersionNotFound)
		})
	}
}
