package observability

import (
	"testing"

	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromProcessConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:       "production",
		AppVersion:        "1.2.0",
		LogLevel:          "info",
		OTLPProtocol:      "http",
		OtelSamplingRatio: 4,
	})

	assert.Equal(t, "guildgate", cfg.ServiceName)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	cfg.LogLevel = "DEBUG"
	assert.True(t, cfg.Debug())
}
