package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"secmaster/internal/types"

	"github.com/shopspring/decimal"
)

// SelectionPolicy decides which supported value wins a field vote.
type SelectionPolicy string

const (
	// SelectMaxValue picks the numerically largest surviving value, whatever
	// its support. This is the historical rule of the price store.
	SelectMaxValue SelectionPolicy = "max_value"
	// SelectMaxWeight picks the value with the largest aggregated weight;
	// equal weights resolve to the larger value.
	SelectMaxWeight SelectionPolicy = "max_weight"
)

// ParseSelectionPolicy normalizes a configured policy name.
func ParseSelectionPolicy(raw string) (SelectionPolicy, error) {
	switch SelectionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SelectMaxValue:
		return SelectMaxValue, nil
	case SelectMaxWeight:
		return SelectMaxWeight, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q (max_value|max_weight)", raw)
	}
}

// ExactPrecision disables rounding; values group by exact numeric equality.
const ExactPrecision = -1

type Candidate struct {
	Source types.SourceID
	Value  float64
}

// Support is the aggregated backing of one distinct value. Key is the
// grouping value (rounded when a precision is set); Value is the largest
// reported value in the group, so a consensus is always a real observation.
type Support struct {
	Key     float64
	Value   float64
	Weight  decimal.Decimal
	Sources []types.SourceID
}

// Vote is the outcome of one (period, field) round. OK is false when no
// candidate survived exclusion, which is a gap and carries no value.
type Vote struct {
	Field       types.Field
	OK          bool
	Key         float64
	Value       float64
	Weight      decimal.Decimal
	TotalWeight decimal.Decimal
	Support     []Support
	Excluded    int
}

// Dissenters lists the sources whose value lost the vote.
func (v Vote) Dissenters() []types.SourceID {
	if !v.OK {
		return nil
	}
	var out []types.SourceID
	for _, s := range v.Support {
		if s.Key == v.Key {
			continue
		}
		out = append(out, s.Sources...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Voter resolves one field's consensus value from per-source candidates.
type Voter struct {
	Weights   types.SourceWeights
	Exclude   types.SourceSet
	Policy    SelectionPolicy
	Precision int
}

func (v Voter) Vote(field types.Field, candidates []Candidate) (Vote, error) {
	vote := Vote{Field: field, Weight: decimal.Zero, TotalWeight: decimal.Zero}
	groups := make(map[float64]*Support)
	for _, c := range candidates {
		if v.Exclude.Has(c.Source) {
			vote.Excluded++
			continue
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			continue
		}
		w, ok := v.Weights.Lookup(c.Source)
		if !ok {
			return Vote{}, fmt.Errorf("%w: vendor=%d field=%s", ErrUnresolvedWeight, c.Source, field)
		}
		weight := decimal.NewFromFloat(w)
		value := c.Value
		if value == 0 {
			value = 0 // -0
		}
		k := v.groupKey(value)
		g, exists := groups[k]
		if !exists {
			g = &Support{Key: k, Value: value, Weight: decimal.Zero}
			groups[k] = g
		}
		if value > g.Value {
			g.Value = value
		}
		g.Weight = g.Weight.Add(weight)
		g.Sources = append(g.Sources, c.Source)
		vote.TotalWeight = vote.TotalWeight.Add(weight)
	}
	if len(groups) == 0 {
		return vote, nil
	}
	vote.Support = make([]Support, 0, len(groups))
	for _, g := range groups {
		vote.Support = append(vote.Support, *g)
	}
	// 按值降序，max_value 直接取首项，max_weight 平票时也自然偏向较大值。
	sort.Slice(vote.Support, func(i, j int) bool { return vote.Support[i].Key > vote.Support[j].Key })
	winner := v.pick(vote.Support)
	vote.OK = true
	vote.Key = winner.Key
	vote.Value = winner.Value
	vote.Weight = winner.Weight
	return vote, nil
}

func (v Voter) pick(support []Support) Support {
	best := support[0]
	if v.Policy != SelectMaxWeight {
		return best
	}
	for _, s := range support[1:] {
		if s.Weight.GreaterThan(best.Weight) {
			best = s
		}
	}
	return best
}

func (v Voter) groupKey(value float64) float64 {
	if value == 0 {
		return 0
	}
	if v.Precision < 0 {
		return value
	}
	return decimal.NewFromFloat(value).Round(int32(v.Precision)).InexactFloat64()
}
