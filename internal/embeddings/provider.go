package embeddings

import (
	"fmt"

	"github.com/sifralabs/mesora/internal/vectorstore"
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "fastembed" or "hash".
	Provider string `koanf:"provider"`

	// Dimension is the embedding dimension for the hash provider.
	// Default: 384.
	Dimension int `koanf:"dimension"`

	FastEmbed FastEmbedConfig `koanf:"fastembed"`
}

// NewProvider creates an embedding provider from config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed":
		return NewFastEmbedProvider(cfg.FastEmbed)
	case "hash", "":
		dim := cfg.Dimension
		if dim == 0 {
			dim = 384
		}
		return NewHashProvider(dim)
	default:
		return nil, fmt.Errorf("%w: unsupported embeddings provider %q (supported: fastembed, hash)", ErrInvalidConfig, cfg.Provider)
	}
}
