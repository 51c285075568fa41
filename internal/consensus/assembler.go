package consensus

import (
	"fmt"
	"sort"

	"secmaster/internal/logger"
	"secmaster/internal/types"
)

// PeriodBlock holds one period's values: field -> source -> value.
type PeriodBlock map[types.Field]map[types.SourceID]float64

// Candidates returns the field's values ordered by source id.
func (b PeriodBlock) Candidates(f types.Field) []Candidate {
	values := b[f]
	out := make([]Candidate, 0, len(values))
	for src, v := range values {
		out = append(out, Candidate{Source: src, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// PeriodIndex is the per-instrument view period -> field -> source -> value,
// built once and iterated in ascending period order.
type PeriodIndex struct {
	tsid     types.TSID
	periods  []types.Period
	blocks   map[types.Period]PeriodBlock
	observed types.SourceSet
	rejected int
}

func BuildIndex(tsid types.TSID, obs []types.Observation) *PeriodIndex {
	ix := &PeriodIndex{
		tsid:     tsid,
		blocks:   make(map[types.Period]PeriodBlock),
		observed: types.NewSourceSet(),
	}
	for _, o := range obs {
		if o.TSID != tsid {
			logger.Warnf("assemble %s: dropping observation of tsid %s (vendor=%d)", tsid, o.TSID, o.Source)
			ix.rejected++
			continue
		}
		ix.observed.Add(o.Source)
		if o.Period <= 0 {
			logger.Warnf("assemble %s: missing period data field=%q vendor=%d", tsid, o.Field, o.Source)
			ix.rejected++
			continue
		}
		// 期数照常登记；若该期只有无法识别的字段，Block 会返回 false
		block := ix.block(o.Period)
		if !knownField(o.Field) {
			logger.Warnf("assemble %s: unusable field %q period=%s vendor=%d", tsid, o.Field, o.Period, o.Source)
			ix.rejected++
			continue
		}
		values, ok := block[o.Field]
		if !ok {
			values = make(map[types.SourceID]float64)
			block[o.Field] = values
		}
		values[o.Source] = o.Value
	}
	sort.Slice(ix.periods, func(i, j int) bool { return ix.periods[i] < ix.periods[j] })
	return ix
}

func (ix *PeriodIndex) block(p types.Period) PeriodBlock {
	b, ok := ix.blocks[p]
	if !ok {
		b = make(PeriodBlock, len(types.Fields))
		ix.blocks[p] = b
		ix.periods = append(ix.periods, p)
	}
	return b
}

func (ix *PeriodIndex) Periods() []types.Period { return ix.periods }

// Block returns the period's values; ok is false when the period was listed
// but none of its observations carried a usable field.
func (ix *PeriodIndex) Block(p types.Period) (PeriodBlock, bool) {
	b, ok := ix.blocks[p]
	return b, ok && len(b) > 0
}

// Observed is every vendor seen for the instrument, excluded ones included.
func (ix *PeriodIndex) Observed() types.SourceSet { return ix.observed }

func (ix *PeriodIndex) Rejected() int { return ix.rejected }

func knownField(f types.Field) bool {
	for _, known := range types.Fields {
		if f == known {
			return true
		}
	}
	return false
}

// Assembly is the consensus series computed for one instrument.
type Assembly struct {
	TSID           types.TSID
	Rows           []types.ConsensusRow
	Observed       types.SourceSet
	Periods        int
	Gaps           int
	EmptyPeriods   []types.Period
	SkippedPeriods []types.Period
	Rejected       int
}

type Assembler struct {
	Voter   Voter
	Verbose bool
}

// Assemble votes every field of every period. A voter error aborts the
// instrument; a gap leaves the field nil; a period with only gaps emits no row.
func (a Assembler) Assemble(tsid types.TSID, obs []types.Observation) (Assembly, error) {
	ix := BuildIndex(tsid, obs)
	out := Assembly{
		TSID:     tsid,
		Observed: ix.Observed(),
		Rejected: ix.Rejected(),
		Rows:     make([]types.ConsensusRow, 0, len(ix.Periods())),
	}
	for _, period := range ix.Periods() {
		block, ok := ix.Block(period)
		if !ok {
			logger.Errorf("assemble %s: unable to extract the %s period's prices, skipped", tsid, period)
			out.SkippedPeriods = append(out.SkippedPeriods, period)
			continue
		}
		out.Periods++
		row := types.ConsensusRow{TSID: tsid, Period: period}
		gaps := 0
		for _, field := range types.Fields {
			vote, err := a.Voter.Vote(field, block.Candidates(field))
			if err != nil {
				return Assembly{}, fmt.Errorf("tsid=%s period=%s: %w", tsid, period, err)
			}
			if !vote.OK {
				gaps++
				continue
			}
			row.Set(field, vote.Value)
			if a.Verbose {
				for _, src := range vote.Dissenters() {
					logger.Infof("The %s value for data vendor %d does not match the consensus value on %s (tsid=%s)", field, src, period, tsid)
				}
			}
		}
		if gaps == len(types.Fields) {
			out.EmptyPeriods = append(out.EmptyPeriods, period)
			continue
		}
		out.Gaps += gaps
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
