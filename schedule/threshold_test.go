package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ranked1v1/matchcore/schedule"
)

func TestThreshold_Monotonic(t *testing.T) {
	cfg := schedule.DefaultConfig()
	prev := schedule.Threshold(cfg, 0)
	for t_ := 1.0; t_ <= 200; t_ += 5 {
		cur := schedule.Threshold(cfg, t_)
		require.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestThreshold_BoundedByConfig(t *testing.T) {
	cfg := schedule.DefaultConfig()
	require.Equal(t, cfg.InitialThreshold, schedule.Threshold(cfg, 0))
	require.Equal(t, cfg.MinThreshold, schedule.Threshold(cfg, 1000))
}

func TestThreshold_ReachesMinAtExpectedTime(t *testing.T) {
	cfg := schedule.DefaultConfig()
	tMin := schedule.TimeToMin(cfg)
	require.InDelta(t, 100, tMin, 1e-9)
	require.InDelta(t, cfg.MinThreshold, schedule.Threshold(cfg, tMin), 1e-9)
	require.Greater(t, schedule.Threshold(cfg, tMin-1), cfg.MinThreshold)
}

func TestThreshold_ZeroDecayNeverReachesMin(t *testing.T) {
	cfg := schedule.Config{InitialThreshold: 8, MinThreshold: 3, DecayRate: 0}
	require.Equal(t, 0.0, schedule.TimeToMin(cfg))
	require.Equal(t, 8.0, schedule.Threshold(cfg, 1000))
}
