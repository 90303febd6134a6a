package rating_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ranked1v1/matchcore/rating"
)

func TestFromScore(t *testing.T) {
	cases := []struct {
		name           string
		scoreA, scoreB int
		want           rating.Outcome
		wantErr        bool
	}{
		{"a wins", 3, 1, rating.AWins, false},
		{"b wins", 1, 3, rating.BWins, false},
		{"draw", 2, 2, rating.Draw, false},
		{"negative a", -1, 2, 0, true},
		{"negative b", 2, -1, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rating.FromScore(tc.scoreA, tc.scoreB)
			if tc.wantErr {
				require.ErrorIs(t, err, rating.ErrNegativeScore)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestUpdate_EqualRatingsDraw(t *testing.T) {
	newA, newB := rating.Update(1000, 1000, rating.Draw, rating.DefaultKFactor)
	require.Equal(t, 1000, newA)
	require.Equal(t, 1000, newB)
}

func TestUpdate_HigherRatedWinnerGainsLess(t *testing.T) {
	// A is favored (higher rating); A wins. A's gain should be smaller than
	// the gain of an underdog A who wins against the same rating gap.
	newA, newB := rating.Update(1200, 1000, rating.AWins, rating.DefaultKFactor)
	require.Greater(t, newA, 1200)
	require.Less(t, newB, 1000)

	gainA := newA - 1200
	newAUnderdogWins, _ := rating.Update(1000, 1200, rating.AWins, rating.DefaultKFactor)
	gainUnderdog := newAUnderdogWins - 1000
	require.Less(t, gainA, gainUnderdog)
}

func TestUpdate_ConservationWithinRounding(t *testing.T) {
	newA, newB := rating.Update(1400, 1100, rating.BWins, rating.DefaultKFactor)
	deltaA := newA - 1400
	deltaB := newB - 1100
	sum := deltaA + deltaB
	require.LessOrEqual(t, sum, 1)
	require.GreaterOrEqual(t, sum, -1)
}

func TestUpdate_ClampsAtZero(t *testing.T) {
	// Equal ratings, A loses: unclamped 5 + 32*(0-0.5) = -11.
	newA, _ := rating.Update(5, 5, rating.BWins, rating.DefaultKFactor)
	require.Equal(t, 0, newA)
}

func TestExpected_SymmetricAroundHalf(t *testing.T) {
	require.InDelta(t, 0.5, rating.Expected(1000, 1000), 1e-9)
	ea := rating.Expected(1200, 1000)
	eb := rating.Expected(1000, 1200)
	require.InDelta(t, 1.0, ea+eb, 1e-9)
	require.Greater(t, ea, 0.5)
}
