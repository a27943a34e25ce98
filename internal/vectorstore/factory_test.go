package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/embeddings"
	"github.com/sifralabs/mesora/internal/vectorstore"
)

func TestNewStoreDefaultsToChromem(t *testing.T) {
	embedder, err := embeddings.NewHashProvider(64)
	require.NoError(t, err)

	cfg := vectorstore.Config{
		Chromem: vectorstore.ChromemConfig{
			Path:       t.TempDir(),
			VectorSize: 64,
		},
	}
	cfg.Chromem.ApplyDefaults()

	store, err := vectorstore.NewStore(cfg, embedder, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*vectorstore.ChromemStore)
	assert.True(t, ok)
}

func TestNewStoreUnsupportedProvider(t *testing.T) {
	embedder, err := embeddings.NewHashProvider(64)
	require.NoError(t, err)

	_, err = vectorstore.NewStore(vectorstore.Config{Provider: "redis"}, embedder, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vectorstore provider")
}

func TestQdrantConfigValidate(t *testing.T) {
	valid := vectorstore.QdrantConfig{}
	valid.ApplyDefaults()
	valid.CollectionName = "gt_default"
	valid.VectorSize = 384

	tests := []struct {
		name    string
		mutate  func(*vectorstore.QdrantConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *vectorstore.QdrantConfig) {}},
		{name: "missing host", mutate: func(c *vectorstore.QdrantConfig) { c.Host = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *vectorstore.QdrantConfig) { c.Port = 70000 }, wantErr: true},
		{name: "missing collection", mutate: func(c *vectorstore.QdrantConfig) { c.CollectionName = "" }, wantErr: true},
		{name: "missing vector size", mutate: func(c *vectorstore.QdrantConfig) { c.VectorSize = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQdrantConfigTakesEmbedderDimension(t *testing.T) {
	embedder, err := embeddings.NewHashProvider(384)
	require.NoError(t, err)

	// The daemon assigns the provider's reported dimension straight into
	// the config; the field must stay assignment-compatible with it.
	cfg := vectorstore.QdrantConfig{CollectionName: "gt_default"}
	cfg.ApplyDefaults()
	cfg.VectorSize = embedder.Dimension()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 384, cfg.VectorSize)
}
