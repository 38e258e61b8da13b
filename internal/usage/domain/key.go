package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/cache"
)

const keyDateLayout = "2006-01-02"

// CounterKey identifies one live usage counter: usage:<guildID>:<featureID>:<YYYY-MM-DD>.
type CounterKey struct {
	GuildID     string
	FeatureID   snowflake.ID
	PeriodStart time.Time
}

func (k CounterKey) String() string {
	return cache.UsageKeyPrefix + k.GuildID + ":" + k.FeatureID.String() + ":" + k.PeriodStart.UTC().Format(keyDateLayout)
}

// ParseCounterKey is the inverse of CounterKey.String.
func ParseCounterKey(key string) (CounterKey, error) {
	rest, ok := strings.CutPrefix(key, cache.UsageKeyPrefix)
	if !ok {
		return CounterKey{}, ErrMalformedKey
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 || parts[0] == "" {
		return CounterKey{}, ErrMalformedKey
	}
	featureID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || featureID <= 0 {
		return CounterKey{}, ErrMalformedKey
	}
	start, err := time.ParseInLocation(keyDateLayout, parts[2], time.UTC)
	if err != nil {
		return CounterKey{}, ErrMalformedKey
	}
	return CounterKey{
		GuildID:     parts[0],
		FeatureID:   snowflake.ID(featureID),
		PeriodStart: start,
	}, nil
}
