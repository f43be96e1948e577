package config

import "maps"

// RetrievalOptions scopes a single agent invocation. Built fresh per
// request by EnsureRetrieval, never mutated afterwards, never persisted.
type RetrievalOptions struct {
	Provider      string         `json:"provider"`
	EmbedderModel string         `json:"embedder_model"`
	TopK          int            `json:"top_k"`
	SearchKwargs  map[string]any `json:"search_kwargs"`
}

// Caller-override keys recognized by EnsureRetrieval.
const (
	overrideProvider     = "retriever_provider"
	overrideEmbedder     = "embedder_model"
	overrideTopK         = "top_k"
	overrideSearchKwargs = "search_kwargs"
)

// EnsureRetrieval merges caller-supplied configurable overrides onto the
// process defaults. Precedence, lowest to highest: resolved Config, then
// overrides. The env search kwarg is the one exception: it is always set
// to the resolved app-environment tag so runs in different environments
// stay distinguishable at the retrieval layer, and it is not
// client-controllable. All other caller search kwargs pass through
// verbatim.
//
// Pure function of its inputs: no I/O, no shared mutable state, safe to
// call concurrently.
func (c *Config) EnsureRetrieval(overrides map[string]any) RetrievalOptions {
	opts := RetrievalOptions{
		Provider:      c.RetrieverProvider,
		EmbedderModel: c.EmbedderModel,
		TopK:          c.RetrievalTopK,
		SearchKwargs:  make(map[string]any),
	}

	if v, ok := overrides[overrideProvider].(string); ok && v != "" {
		opts.Provider = v
	}
	if v, ok := overrides[overrideEmbedder].(string); ok && v != "" {
		opts.EmbedderModel = v
	}
	switch v := overrides[overrideTopK].(type) {
	case int:
		if v > 0 {
			opts.TopK = v
		}
	case float64: // JSON numbers decode as float64
		if v > 0 {
			opts.TopK = int(v)
		}
	}
	if kwargs, ok := overrides[overrideSearchKwargs].(map[string]any); ok {
		maps.Copy(opts.SearchKwargs, kwargs)
	}

	// Environment tagging is never client-controllable.
	opts.SearchKwargs["env"] = c.AppEnv

	return opts
}
