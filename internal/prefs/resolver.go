package prefs

import (
	"context"
	"strings"

	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// Provider identifies which LLM backend serves a model.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// Effective is the resolved per-request settings bundle. APIKey is empty
// when the provider's environment variable is unset; callers turn that into
// a 500.
type Effective struct {
	Model     string
	HitlLevel models.HitlLevel
	Provider  Provider
	APIKey    string
}

// Env supplies environment lookups; os.Getenv in production.
type Env func(key string) string

// ProviderForModel derives the provider from the model name prefix.
// Unrecognised prefixes fall back to anthropic.
func ProviderForModel(model string) Provider {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o3-"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGoogle
	default:
		return ProviderAnthropic
	}
}

// apiKeyVar maps a provider to its environment variable.
func apiKeyVar(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// Resolver computes the effective settings for a user against a scoped
// configuration. Preference values only apply when the matching permission
// gate in the scoped config allows them.
type Resolver struct {
	store Store
	env   Env
}

func NewResolver(store Store, env Env) *Resolver {
	return &Resolver{store: store, env: env}
}

// ResolveEffective applies the gate-then-prefer pattern for model and HITL
// level, derives the provider and looks up its API key. A store read failure
// degrades to defaults rather than failing the request.
func (r *Resolver) ResolveEffective(ctx context.Context, userID string, scoped config.Scoped) (Effective, error) {
	eff := Effective{
		Model:     scoped.DefaultModel,
		HitlLevel: scoped.HitlLevel,
	}
	if eff.HitlLevel == "" {
		eff.HitlLevel = models.HitlCautious
	}

	if userID != "" && r.store != nil {
		userPrefs, err := r.store.Get(ctx, userID)
		if err == nil && userPrefs != nil {
			if scoped.AllowUserModelSelect && userPrefs.Model != nil && *userPrefs.Model != "" {
				eff.Model = *userPrefs.Model
			}
			if scoped.AllowUserHitlConfig && userPrefs.HitlLevel != nil && userPrefs.HitlLevel.Valid() {
				eff.HitlLevel = *userPrefs.HitlLevel
			}
		}
	}

	eff.Provider = ProviderForModel(eff.Model)
	eff.APIKey = r.env(apiKeyVar(eff.Provider))
	return eff, nil
}
