package agents

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	sqlite := NewSQLiteRegistry(db)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sqlite": sqlite,
	}
}

func agent(id string, isDefault bool) *models.Agent {
	return &models.Agent{
		ID:        id,
		Name:      id,
		Enabled:   true,
		IsDefault: isDefault,
	}
}

func TestUpsertRejectsInvalidSlug(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, r.Upsert(context.Background(), agent("Bad Slug!", false)), ErrInvalidAgentID)
		})
	}
}

func TestDefaultIsUniqueAmongEnabled(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Upsert(ctx, agent("alpha", true)))
			require.NoError(t, r.Upsert(ctx, agent("beta", true)))

			all, err := r.List(ctx)
			require.NoError(t, err)
			defaults := 0
			for _, a := range all {
				if a.IsDefault {
					defaults++
					assert.Equal(t, "beta", a.ID)
				}
			}
			assert.Equal(t, 1, defaults)
		})
	}
}

func TestDeleteDefaultAutoPromotes(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Upsert(ctx, agent("alpha", true)))
			require.NoError(t, r.Upsert(ctx, agent("beta", false)))
			require.NoError(t, r.Upsert(ctx, agent("gamma", false)))

			require.NoError(t, r.Delete(ctx, "alpha"))

			def, err := r.Default(ctx)
			require.NoError(t, err)
			require.NotNil(t, def)
			assert.Equal(t, "beta", def.ID, "first remaining enabled agent promotes")
		})
	}
}

func TestDeleteLastAgentLeavesNoDefault(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Upsert(ctx, agent("only", true)))
			require.NoError(t, r.Delete(ctx, "only"))

			def, err := r.Default(ctx)
			require.NoError(t, err)
			assert.Nil(t, def)

			assert.ErrorIs(t, r.Delete(ctx, "only"), ErrAgentNotFound)
		})
	}
}

func TestSetDefaultRequiresEnabled(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Upsert(ctx, agent("alpha", true)))
			disabled := agent("sleepy", false)
			disabled.Enabled = false
			require.NoError(t, r.Upsert(ctx, disabled))

			assert.ErrorIs(t, r.SetDefault(ctx, "sleepy"), ErrAgentDisabled)
			assert.ErrorIs(t, r.SetDefault(ctx, "ghost"), ErrAgentNotFound)

			require.NoError(t, r.Upsert(ctx, agent("beta", false)))
			require.NoError(t, r.SetDefault(ctx, "beta"))
			def, err := r.Default(ctx)
			require.NoError(t, err)
			require.NotNil(t, def)
			assert.Equal(t, "beta", def.ID)
		})
	}
}

func TestSetDefaultDemotesPrevious(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Upsert(ctx, agent("alpha", true)))
			require.NoError(t, r.Upsert(ctx, agent("beta", false)))

			require.NoError(t, r.SetDefault(ctx, "beta"))

			all, err := r.List(ctx)
			require.NoError(t, err)
			defaults := 0
			for _, a := range all {
				if a.IsDefault {
					defaults++
					assert.Equal(t, "beta", a.ID)
				}
			}
			assert.Equal(t, 1, defaults)
		})
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := agent("alpha", false)
			require.NoError(t, r.Upsert(ctx, a))
			created := a.CreatedAt

			updated := agent("alpha", false)
			updated.Name = "renamed"
			require.NoError(t, r.Upsert(ctx, updated))

			got, err := r.Get(ctx, "alpha")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
		})
	}
}

func TestSeedPromotesFirstAgent(t *testing.T) {
	r := NewMemoryRegistry()
	Seed(context.Background(), r, []models.Agent{
		{ID: "writer", Name: "Writer"},
		{ID: "reader", Name: "Reader"},
	}, nil)

	def, err := r.Default(context.Background())
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.True(t, def.SeededFromConfig)

	got, err := r.Get(context.Background(), "writer")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}
