// Package embedder manages embedding providers behind a single pool
// with capability probing, batch splitting, and retry.
package embedder

import "context"

// Capabilities describes what a provider can do right now.
type Capabilities struct {
	Name           string `json:"name"`
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions"`
	MaxBatchSize   int    `json:"maxBatchSize"`
	RequiresAPIKey bool   `json:"requiresApiKey"`
	Available      bool   `json:"available"`
	// Detail explains unavailability (missing key, unreachable host).
	Detail string `json:"detail,omitempty"`
}

// Provider is one embedding backend.
type Provider interface {
	// Name is the stable registry key ("openai", "ollama", ...).
	Name() string
	// Probe checks availability and reports current capabilities.
	// Probe returning an error means the check itself failed; an
	// unavailable provider is reported via Capabilities.Available.
	Probe(ctx context.Context) (Capabilities, error)
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
