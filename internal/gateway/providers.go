package gateway

import (
	"fmt"
	"sync"

	"github.com/jsquire4/tool-forge-sub001/internal/llm"
	"github.com/jsquire4/tool-forge-sub001/internal/prefs"
)

// providerCache memoises SDK clients per provider+key. Requests share the
// same underlying HTTP clients instead of rebuilding them each call.
type providerCache struct {
	mu    sync.Mutex
	cache map[string]llm.Provider
}

func newProviderCache() *providerCache {
	return &providerCache{cache: make(map[string]llm.Provider)}
}

func (c *providerCache) get(provider prefs.Provider, apiKey string) (llm.Provider, error) {
	key := string(provider) + "\x00" + apiKey

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[key]; ok {
		return p, nil
	}

	var p llm.Provider
	var err error
	switch provider {
	case prefs.ProviderOpenAI:
		p, err = llm.NewOpenAIProvider(apiKey)
	case prefs.ProviderGoogle:
		p, err = llm.NewGoogleProvider(apiKey)
	case prefs.ProviderAnthropic:
		p, err = llm.NewAnthropicProvider(apiKey)
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	c.cache[key] = p
	return p, nil
}
