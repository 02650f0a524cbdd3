package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreVariance_Boundaries(t *testing.T) {
	cases := []struct {
		name   string
		actual float64
		want   int
	}{
		{"25% under", 7.5, 5},
		{"well under", 2, 5},
		{"just past -25%", 7.6, 4},
		{"10% under is inclusive 4", 9.0, 4},
		{"on budget", 10, 3},
		{"25% over is inclusive 3", 12.5, 3},
		{"26% over", 12.6, 2},
		{"double", 20, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := Variance(tc.actual, 10)
			require.True(t, ok)
			assert.Equal(t, tc.want, ScoreVariance(v))
		})
	}
}

func TestScoreVariance_NeverOne(t *testing.T) {
	for _, v := range []float64{-1, -0.5, 0, 0.5, 5, 100} {
		assert.GreaterOrEqual(t, ScoreVariance(v), 2)
	}
}

func TestVariance_RequiresPositiveEstimate(t *testing.T) {
	_, ok := Variance(5, 0)
	assert.False(t, ok)
}

func TestScoreTasks_AndHistogram(t *testing.T) {
	scores := ScoreTasks([]QualityCandidate{
		{TaskID: 1, ActualHours: 7.5, Estimated: 10},
		{TaskID: 2, ActualHours: 9, Estimated: 10},
		{TaskID: 3, ActualHours: 11, Estimated: 10},
		{TaskID: 4, ActualHours: 30, Estimated: 10},
		{TaskID: 5, ActualHours: 0, Estimated: 10},
		{TaskID: 6, ActualHours: 3, Estimated: 0},
	})
	require.Len(t, scores, 4)
	assert.Equal(t, []int{5, 4, 3, 2}, []int{scores[0].Score, scores[1].Score, scores[2].Score, scores[3].Score})
	assert.InDelta(t, -0.25, scores[0].Variance, 1e-12)

	h := ScoreHistogram(scores)
	assert.Equal(t, map[int]int{2: 1, 3: 1, 4: 1, 5: 1}, h)
}
