package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configure a Validator.
type Options struct {
	ConsensusVendor       string
	ExcludeVendors        []string
	Selection             SelectionPolicy
	PricePrecision        int
	Workers               int
	DryRun                bool
	EnsureConsensusVendor bool
	Verbose               bool
	// RecordRuns persists every report through Store.Runs().
	RecordRuns bool
}

// Validator 负责跨数据源的价格交叉验证：对每个 tsid 投票出共识价格并幂等回写。
type Validator struct {
	store store.Store
	opts  Options
	nowFn func() time.Time
}

func NewValidator(st store.Store, opts Options) (*Validator, error) {
	if st == nil {
		return nil, errors.New("validator: store is nil")
	}
	if strings.TrimSpace(opts.ConsensusVendor) == "" {
		opts.ConsensusVendor = DefaultConsensusVendor
	}
	policy, err := ParseSelectionPolicy(string(opts.Selection))
	if err != nil {
		return nil, err
	}
	opts.Selection = policy
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PricePrecision < ExactPrecision {
		opts.PricePrecision = ExactPrecision
	}
	return &Validator{store: st, opts: opts, nowFn: time.Now}, nil
}

func (v *Validator) Options() Options { return v.opts }

// ValidateWeights rejects negative or non-finite weights.
func ValidateWeights(w types.SourceWeights) error {
	for id, weight := range w {
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
			return fmt.Errorf("%w: vendor=%d weight=%v", ErrInvalidWeight, id, weight)
		}
	}
	return nil
}

// CrossValidate computes and writes the consensus series of every tsid in
// table. Per-instrument failures are collected in the report; the returned
// error is reserved for setup failures and cancellation.
func (v *Validator) CrossValidate(ctx context.Context, table string, tsids []types.TSID, weights types.SourceWeights) (*Report, error) {
	if err := store.CheckTable(table); err != nil {
		return nil, err
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	start := v.nowFn()
	report := &Report{
		RunID:     uuid.NewString(),
		Table:     table,
		StartedAt: start,
		DryRun:    v.opts.DryRun,
	}

	// 先确定共识 vendor（可能需要注册），再解析其余排除项
	consensusID, err := v.consensusID(ctx)
	if err != nil {
		return nil, err
	}
	names := dropName(exclusionNames(v.opts.ConsensusVendor, v.opts.ExcludeVendors), v.opts.ConsensusVendor)
	exclude, unresolved, err := ResolveExclusions(ctx, v.store.Vendors(), names)
	if err != nil {
		return nil, err
	}
	if consensusID != 0 {
		exclude.Add(consensusID)
	} else {
		unresolved = append(unresolved, v.opts.ConsensusVendor)
	}
	report.Unresolved = unresolved
	report.ConsensusID = consensusID
	report.Excluded = sortedIDs(exclude)

	assembler := Assembler{
		Voter: Voter{
			Weights:   weights,
			Exclude:   exclude,
			Policy:    v.opts.Selection,
			Precision: v.opts.PricePrecision,
		},
		Verbose: v.opts.Verbose,
	}
	reconciler := Reconciler{Store: v.store, ConsensusID: consensusID, DryRun: v.opts.DryRun}

	results := make([]InstrumentResult, len(tsids))
	var g errgroup.Group
	g.SetLimit(v.opts.Workers)
	for i, tsid := range tsids {
		if ctx.Err() != nil {
			results[i] = InstrumentResult{TSID: tsid, Err: ctx.Err()}
			continue
		}
		i, tsid := i, tsid
		g.Go(func() error {
			results[i] = v.validateOne(ctx, table, tsid, assembler, reconciler)
			return nil
		})
	}
	_ = g.Wait()
	report.Instruments = results
	report.Duration = v.nowFn().Sub(start)

	if v.opts.Verbose {
		logger.InfoBlock(report.Summary())
	} else {
		logger.Infof("cross validation %s: table=%s tsids=%d ok=%d failed=%d rows=%d took=%s",
			report.RunID, table, len(tsids), report.Succeeded(), report.Failed(), report.RowsWritten(), report.Duration.Truncate(time.Millisecond))
	}
	if v.opts.RecordRuns {
		if err := v.store.Runs().Save(ctx, report.Record()); err != nil {
			logger.Warnf("cross validation %s: saving run record failed: %v", report.RunID, err)
		}
	}
	return report, ctx.Err()
}

func (v *Validator) consensusID(ctx context.Context) (types.SourceID, error) {
	vendors := v.store.Vendors()
	id, err := vendors.ResolveID(ctx, v.opts.ConsensusVendor)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrVendorNotFound) {
		return 0, fmt.Errorf("resolve consensus vendor: %w", err)
	}
	switch {
	case v.opts.DryRun:
		logger.Warnf("consensus vendor %q is not registered; dry run continues without it", v.opts.ConsensusVendor)
		return 0, nil
	case v.opts.EnsureConsensusVendor:
		id, err := vendors.Ensure(ctx, v.opts.ConsensusVendor)
		if err != nil {
			return 0, fmt.Errorf("register consensus vendor: %w", err)
		}
		logger.Infof("registered consensus vendor %q as data_vendor_id=%d", v.opts.ConsensusVendor, id)
		return id, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoConsensusVendor, v.opts.ConsensusVendor)
	}
}

func (v *Validator) validateOne(ctx context.Context, table string, tsid types.TSID, asm Assembler, rec Reconciler) InstrumentResult {
	start := v.nowFn()
	res := InstrumentResult{TSID: tsid}

	obs, err := v.store.Prices().Observations(ctx, table, tsid)
	if err != nil {
		res.Err = fmt.Errorf("fetch observations: %w", err)
		logger.Errorf("cross validation %s: %v", tsid, res.Err)
		return finish(res, start, v.nowFn)
	}
	assembly, err := asm.Assemble(tsid, obs)
	if err != nil {
		res.Err = err
		logger.Errorf("cross validation %s: %v", tsid, err)
		return finish(res, start, v.nowFn)
	}
	res.Periods = assembly.Periods
	res.Rows = len(assembly.Rows)
	res.Gaps = assembly.Gaps
	res.EmptyPeriods = len(assembly.EmptyPeriods)
	res.SkippedPeriods = len(assembly.SkippedPeriods)
	res.Rejected = assembly.Rejected

	wr, err := rec.Write(ctx, table, assembly)
	res.ReplacedPrior = wr.ReplacedPrior
	res.Deleted = wr.Deleted
	res.Appended = wr.Appended
	if err != nil {
		res.Err = err
		logger.Errorf("cross validation %s: %v", tsid, err)
	}
	res = finish(res, start, v.nowFn)
	if v.opts.Verbose {
		logger.Infof("%s data cross validation took %0.2f seconds to complete (periods=%d rows=%d gaps=%d replaced=%d)",
			tsid, res.Duration.Seconds(), res.Periods, res.Rows, res.Gaps, res.Deleted)
	}
	return res
}

func finish(res InstrumentResult, start time.Time, now func() time.Time) InstrumentResult {
	res.Duration = now().Sub(start)
	return res
}

func dropName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedIDs(set types.SourceSet) []types.SourceID {
	out := make([]types.SourceID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
