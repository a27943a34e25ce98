package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.False(t, cfg.Enabled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "grpc", cfg: Config{Protocol: "grpc", SamplingRate: 1.0}},
		{name: "http", cfg: Config{Protocol: "http/protobuf", SamplingRate: 0.5}},
		{name: "bad protocol", cfg: Config{Protocol: "udp", SamplingRate: 1.0}, wantErr: true},
		{name: "rate too high", cfg: Config{Protocol: "grpc", SamplingRate: 1.5}, wantErr: true},
		{name: "negative rate", cfg: Config{Protocol: "grpc", SamplingRate: -0.1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{}, "test")
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilShutdown(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
