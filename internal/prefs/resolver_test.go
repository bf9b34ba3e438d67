package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func fakeEnv(vars map[string]string) Env {
	return func(key string) string { return vars[key] }
}

func strPtr(s string) *string { return &s }

func levelPtr(l models.HitlLevel) *models.HitlLevel { return &l }

func TestProviderForModel(t *testing.T) {
	assert.Equal(t, ProviderAnthropic, ProviderForModel("claude-sonnet-4-20250514"))
	assert.Equal(t, ProviderOpenAI, ProviderForModel("gpt-4o"))
	assert.Equal(t, ProviderOpenAI, ProviderForModel("o3-mini"))
	assert.Equal(t, ProviderGoogle, ProviderForModel("gemini-2.0-flash"))
	assert.Equal(t, ProviderAnthropic, ProviderForModel("mystery-model"))
}

func TestResolveUsesDefaultsWithoutPreferences(t *testing.T) {
	r := NewResolver(NewMemoryStore(), fakeEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant",
	}))
	scoped := config.Scoped{
		DefaultModel:         "claude-sonnet-4-20250514",
		HitlLevel:            models.HitlCautious,
		AllowUserModelSelect: true,
		AllowUserHitlConfig:  true,
	}

	eff, err := r.ResolveEffective(context.Background(), "alice", scoped)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", eff.Model)
	assert.Equal(t, models.HitlCautious, eff.HitlLevel)
	assert.Equal(t, ProviderAnthropic, eff.Provider)
	assert.Equal(t, "sk-ant", eff.APIKey)
}

func TestResolveHonorsPreferencesWhenGatesAllow(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), &models.UserPreferences{
		UserID:    "alice",
		Model:     strPtr("gpt-4o"),
		HitlLevel: levelPtr(models.HitlParanoid),
	}))
	r := NewResolver(store, fakeEnv(map[string]string{
		"OPENAI_API_KEY": "sk-oai",
	}))

	scoped := config.Scoped{
		DefaultModel:         "claude-sonnet-4-20250514",
		HitlLevel:            models.HitlCautious,
		AllowUserModelSelect: true,
		AllowUserHitlConfig:  true,
	}
	eff, err := r.ResolveEffective(context.Background(), "alice", scoped)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", eff.Model)
	assert.Equal(t, models.HitlParanoid, eff.HitlLevel)
	assert.Equal(t, ProviderOpenAI, eff.Provider)
	assert.Equal(t, "sk-oai", eff.APIKey)
}

func TestResolveIgnoresPreferencesWhenGatesDeny(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), &models.UserPreferences{
		UserID:    "alice",
		Model:     strPtr("gpt-4o"),
		HitlLevel: levelPtr(models.HitlAutonomous),
	}))
	r := NewResolver(store, fakeEnv(nil))

	scoped := config.Scoped{
		DefaultModel: "claude-sonnet-4-20250514",
		HitlLevel:    models.HitlStandard,
	}
	eff, err := r.ResolveEffective(context.Background(), "alice", scoped)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", eff.Model)
	assert.Equal(t, models.HitlStandard, eff.HitlLevel)
	assert.Empty(t, eff.APIKey, "missing env key resolves to empty, not an error")
}

func TestResolveDefaultsHitlLevelToCautious(t *testing.T) {
	r := NewResolver(NewMemoryStore(), fakeEnv(nil))
	eff, err := r.ResolveEffective(context.Background(), "", config.Scoped{DefaultModel: "claude-x"})
	require.NoError(t, err)
	assert.Equal(t, models.HitlCautious, eff.HitlLevel)
}

func TestUpsertRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	got, err := store.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Upsert(ctx, &models.UserPreferences{
		UserID: "alice",
		Model:  strPtr("gemini-2.0-flash"),
	}))
	require.NoError(t, store.Upsert(ctx, &models.UserPreferences{
		UserID:    "alice",
		HitlLevel: levelPtr(models.HitlStandard),
	}))

	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Model, "upsert replaces the whole row")
	require.NotNil(t, got.HitlLevel)
	assert.Equal(t, models.HitlStandard, *got.HitlLevel)
	assert.False(t, got.UpdatedAt.IsZero())
}
