package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterKeyRoundTrip(t *testing.T) {
	key := CounterKey{
		GuildID:     "123456789012345678",
		FeatureID:   snowflake.ID(1789),
		PeriodStart: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "usage:123456789012345678:1789:2026-03-01", key.String())

	parsed, err := ParseCounterKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseCounterKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"usage:",
		"cache:g1:1:2026-03-01",
		"usage::1:2026-03-01",
		"usage:g1:0:2026-03-01",
		"usage:g1:x:2026-03-01",
		"usage:g1:1:2026-13-01",
		"usage:g1:1:2026-03-01:extra",
	} {
		_, err := ParseCounterKey(raw)
		assert.ErrorIs(t, err, ErrMalformedKey, raw)
	}
}
