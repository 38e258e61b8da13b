package domain

import (
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodStart(t *testing.T) {
	at := time.Date(2026, time.March, 14, 23, 59, 59, 0, time.FixedZone("WIB", 7*3600))

	cases := []struct {
		period catalogdomain.ResetPeriod
		want   time.Time
	}{
		{catalogdomain.ResetDaily, time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)},
		{catalogdomain.ResetMonthly, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)},
		{catalogdomain.ResetYearly, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			got, err := PeriodStart(tc.period, at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := PeriodStart("WEEKLY", at)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPeriodEnd(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)

	end, err := PeriodEnd(catalogdomain.ResetMonthly, jan31)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), end)

	end, err = PeriodEnd(catalogdomain.ResetDaily, jan31)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), end)

	end, err = PeriodEnd(catalogdomain.ResetYearly, jan31)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestInferPeriodEnd(t *testing.T) {
	daily := catalogdomain.ResetDaily
	yearly := catalogdomain.ResetYearly
	mid := time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)
	newYear := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), InferPeriodEnd(mid, &daily))
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), InferPeriodEnd(newYear, &yearly))
	// a yearly tier cannot own a mid-month start; fall back to the month boundary
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), InferPeriodEnd(mid, &yearly))
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), InferPeriodEnd(mid, nil))
}
