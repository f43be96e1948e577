package config

import (
	"fmt"
	"slices"
	"strings"
)

// placeholderMarkers are substrings that mark a credential as a test or
// placeholder value. Matched case-insensitively.
var placeholderMarkers = []string{
	"test",
	"dummy",
	"changeme",
	"placeholder",
	"your-api-key",
	"xxx",
}

var validAppEnvs = []string{EnvDevelopment, EnvStaging, EnvProduction}

var validRetrievers = []string{RetrieverMemory, RetrieverPgvector, RetrieverElasticsearch}

// Validate checks the resolved configuration. Returns sentinel errors
// checkable with errors.Is. Any error here is a fatal startup condition:
// the caller must not serve requests with an invalid configuration.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !slices.Contains(validAppEnvs, c.AppEnv) {
		return fmt.Errorf("%w: %q is not one of %v", ErrInvalidAppEnv, c.AppEnv, validAppEnvs)
	}

	if !slices.Contains(validRetrievers, c.RetrieverProvider) {
		return fmt.Errorf("%w: %q is not one of %v", ErrInvalidRetriever, c.RetrieverProvider, validRetrievers)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Timeout ladder: web strictly above api, api at or above agent.
	// An inner stage must never outlive what the outer stage waits for.
	if c.WebTimeout <= c.APITimeout || c.APITimeout < c.AgentTimeout {
		return fmt.Errorf("%w: require web_timeout (%v) > api_timeout (%v) >= agent_timeout (%v)",
			ErrTimeoutOrdering, c.WebTimeout, c.APITimeout, c.AgentTimeout)
	}

	for name, port := range map[string]int{
		"web_port":      c.WebPort,
		"agent_port":    c.AgentPort,
		"postgres_port": c.PostgresPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s must be between 1 and 65535, got %d", ErrInvalidPort, name, port)
		}
	}

	if c.AgentBaseURL == "" {
		return fmt.Errorf("%w: agent_base_url cannot be empty", ErrInvalidAgentURL)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.IsProduction() {
		return c.validateProduction()
	}

	return nil
}

// validateProduction applies the production-only safety gates. These are
// deliberate fail-fast rules: running a placeholder credential or the
// stateless memory retriever under a production label must terminate
// startup, not degrade quietly.
func (c *Config) validateProduction() error {
	if err := validateCredential(c.GeminiAPIKey); err != nil {
		return err
	}

	if c.RetrieverProvider == RetrieverMemory {
		return fmt.Errorf("%w: set SIMMER_RETRIEVER to a durable backend (%s or %s)",
			ErrMemoryRetrieverInProd, RetrieverPgvector, RetrieverElasticsearch)
	}

	return nil
}

// validateCredential checks the primary model-provider credential against
// the placeholder pattern list and a minimum length heuristic.
func validateCredential(key string) error {
	if key == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is required in production", ErrMissingCredential)
	}

	lower := strings.ToLower(key)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: credential contains %q", ErrPlaceholderCredential, marker)
		}
	}

	if len(key) < minCredentialLength {
		return fmt.Errorf("%w: credential shorter than %d characters", ErrPlaceholderCredential, minCredentialLength)
	}

	return nil
}
