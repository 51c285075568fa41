package consensus

import (
	"math"
	"testing"

	"secmaster/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoter_LargestSurvivingValueWins(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 20, 2: 50}}
	vote, err := v.Vote(types.FieldClose, []Candidate{{Source: 1, Value: 10.0}, {Source: 2, Value: 12.0}})
	require.NoError(t, err)
	require.True(t, vote.OK)
	assert.Equal(t, 12.0, vote.Value)
	assert.True(t, vote.Weight.Equal(decimal.NewFromInt(50)))
	assert.True(t, vote.TotalWeight.Equal(decimal.NewFromInt(70)))
}

func TestVoter_PoliciesDiffer(t *testing.T) {
	weights := types.SourceWeights{1: 80, 2: 20}
	cands := []Candidate{{Source: 1, Value: 10.0}, {Source: 2, Value: 12.0}}

	byValue, err := Voter{Weights: weights, Policy: SelectMaxValue}.Vote(types.FieldOpen, cands)
	require.NoError(t, err)
	assert.Equal(t, 12.0, byValue.Value)

	byWeight, err := Voter{Weights: weights, Policy: SelectMaxWeight}.Vote(types.FieldOpen, cands)
	require.NoError(t, err)
	assert.Equal(t, 10.0, byWeight.Value)
	assert.True(t, byWeight.Weight.Equal(decimal.NewFromInt(80)))
}

func TestVoter_MaxWeightTieGoesToLargerValue(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 30, 2: 30}, Policy: SelectMaxWeight}
	vote, err := v.Vote(types.FieldHigh, []Candidate{{Source: 1, Value: 9.5}, {Source: 2, Value: 9.75}})
	require.NoError(t, err)
	assert.Equal(t, 9.75, vote.Value)
}

func TestVoter_WeightsAggregatePerValue(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 0.1, 2: 0.2, 3: 0.25}, Policy: SelectMaxWeight}
	vote, err := v.Vote(types.FieldClose, []Candidate{
		{Source: 1, Value: 100},
		{Source: 2, Value: 100},
		{Source: 3, Value: 101},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, vote.Value)
	assert.True(t, vote.Weight.Equal(decimal.RequireFromString("0.3")), vote.Weight.String())
	assert.Equal(t, []types.SourceID{3}, vote.Dissenters())
	require.Len(t, vote.Support, 2)
	assert.Equal(t, 101.0, vote.Support[0].Value)
}

func TestVoter_ExclusionCompleteness(t *testing.T) {
	weights := types.SourceWeights{1: 20, 2: 50, 9: 1000}
	base := []Candidate{{Source: 1, Value: 10}, {Source: 2, Value: 11}}
	withExcluded := append([]Candidate{{Source: 9, Value: 99}}, base...)
	v := Voter{Weights: weights, Exclude: types.NewSourceSet(9), Policy: SelectMaxWeight}

	a, err := v.Vote(types.FieldClose, base)
	require.NoError(t, err)
	b, err := v.Vote(types.FieldClose, withExcluded)
	require.NoError(t, err)
	assert.Equal(t, a.Value, b.Value)
	assert.True(t, a.Weight.Equal(b.Weight))
	assert.True(t, a.TotalWeight.Equal(b.TotalWeight))
	assert.Equal(t, 1, b.Excluded)
}

func TestVoter_AllExcludedIsGap(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 20}, Exclude: types.NewSourceSet(1, 2)}
	vote, err := v.Vote(types.FieldVolume, []Candidate{{Source: 1, Value: 5}, {Source: 2, Value: 6}})
	require.NoError(t, err)
	assert.False(t, vote.OK)
	assert.Zero(t, vote.Value)
	assert.Equal(t, 2, vote.Excluded)
	assert.Nil(t, vote.Dissenters())

	vote, err = v.Vote(types.FieldVolume, nil)
	require.NoError(t, err)
	assert.False(t, vote.OK)
}

func TestVoter_ExcludedSourceNeedsNoWeight(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 20}, Exclude: types.NewSourceSet(9)}
	vote, err := v.Vote(types.FieldClose, []Candidate{{Source: 1, Value: 5}, {Source: 9, Value: 7}})
	require.NoError(t, err)
	assert.Equal(t, 5.0, vote.Value)
}

func TestVoter_UnresolvedWeight(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 20}}
	_, err := v.Vote(types.FieldClose, []Candidate{{Source: 1, Value: 5}, {Source: 3, Value: 6}})
	assert.ErrorIs(t, err, ErrUnresolvedWeight)
}

func TestVoter_SingleSource(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{4: 0}}
	vote, err := v.Vote(types.FieldLow, []Candidate{{Source: 4, Value: 3.25}})
	require.NoError(t, err)
	assert.True(t, vote.OK)
	assert.Equal(t, 3.25, vote.Value)
}

func TestVoter_SkipsNonFinite(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 10, 2: 10}}
	vote, err := v.Vote(types.FieldClose, []Candidate{{Source: 1, Value: math.NaN()}, {Source: 2, Value: math.Inf(1)}})
	require.NoError(t, err)
	assert.False(t, vote.OK)
}

func TestVoter_Precision(t *testing.T) {
	weights := types.SourceWeights{1: 40, 2: 30, 3: 50}
	cands := []Candidate{{Source: 1, Value: 10.001}, {Source: 2, Value: 10.004}, {Source: 3, Value: 9.99}}

	exact, err := Voter{Weights: weights, Policy: SelectMaxWeight, Precision: ExactPrecision}.Vote(types.FieldClose, cands)
	require.NoError(t, err)
	assert.Len(t, exact.Support, 3)
	assert.Equal(t, 9.99, exact.Value)

	rounded, err := Voter{Weights: weights, Policy: SelectMaxWeight, Precision: 2}.Vote(types.FieldClose, cands)
	require.NoError(t, err)
	assert.Len(t, rounded.Support, 2)
	// 分组按 10.00 归并，但写回的是组内实际报出的最大值
	assert.Equal(t, 10.0, rounded.Key)
	assert.Equal(t, 10.004, rounded.Value)
	assert.True(t, rounded.Weight.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, []types.SourceID{3}, rounded.Dissenters())

	byValue, err := Voter{Weights: weights, Precision: 0}.Vote(types.FieldClose, cands)
	require.NoError(t, err)
	assert.Len(t, byValue.Support, 1)
	assert.Equal(t, 10.004, byValue.Value)
}

func TestVoter_NegativeZeroGroupsWithZero(t *testing.T) {
	v := Voter{Weights: types.SourceWeights{1: 1, 2: 1}}
	vote, err := v.Vote(types.FieldVolume, []Candidate{{Source: 1, Value: math.Copysign(0, -1)}, {Source: 2, Value: 0}})
	require.NoError(t, err)
	assert.Len(t, vote.Support, 1)

	vote, err = v.Vote(types.FieldVolume, []Candidate{{Source: 1, Value: math.Copysign(0, -1)}})
	require.NoError(t, err)
	assert.True(t, vote.OK)
	assert.False(t, math.Signbit(vote.Value))
}

func TestParseSelectionPolicy(t *testing.T) {
	p, err := ParseSelectionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SelectMaxValue, p)
	p, err = ParseSelectionPolicy(" MAX_WEIGHT ")
	require.NoError(t, err)
	assert.Equal(t, SelectMaxWeight, p)
	_, err = ParseSelectionPolicy("median")
	assert.Error(t, err)
}
