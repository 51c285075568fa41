package consensus

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/store/memory"
	"secmaster/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "daily_prices"

const day = types.Period(86_400_000)

func bar(tsid types.TSID, p types.Period, src types.SourceID, open, close float64) types.PriceBar {
	return types.PriceBar{TSID: tsid, Period: p, Source: src, Open: types.Float64(open), Close: types.Float64(close)}
}

// fixture: 三个数据源，AAPL 两个交易日，MSFT 一个交易日
func fixture(t *testing.T) (*memory.Store, types.SourceWeights) {
	t.Helper()
	st := memory.New()
	st.AddVendor(1, "Quandl_WIKI", nil)
	st.AddVendor(2, "CSI_Data", nil)
	st.AddVendor(3, "Google_Finance", nil)
	require.NoError(t, st.Prices().InsertBars(context.Background(), table, []types.PriceBar{
		bar("AAPL", day, 1, 100, 101),
		bar("AAPL", day, 2, 100, 101.5),
		bar("AAPL", day, 3, 99, 101),
		bar("AAPL", 2*day, 1, 102, 103),
		bar("AAPL", 2*day, 2, 102, 103),
		bar("MSFT", day, 2, 50, 51),
		bar("MSFT", day, 3, 50.5, 51),
	}))
	return st, types.SourceWeights{1: 50, 2: 80, 3: 20}
}

func consensusOf(st *memory.Store, tsid types.TSID, id types.SourceID) []types.PriceBar {
	var out []types.PriceBar
	for _, b := range st.Snapshot(table, tsid) {
		if b.Source == id {
			out = append(out, b)
		}
	}
	return out
}

func newValidator(t *testing.T, st store.Store, opts Options) *Validator {
	t.Helper()
	opts.EnsureConsensusVendor = true
	v, err := NewValidator(st, opts)
	require.NoError(t, err)
	return v
}

func TestCrossValidate_WritesConsensus(t *testing.T) {
	st, w := fixture(t)
	v := newValidator(t, st, Options{RecordRuns: true})

	report, err := v.CrossValidate(context.Background(), table, []types.TSID{"AAPL", "MSFT"}, w)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, int64(3), report.RowsWritten())
	assert.Equal(t, types.SourceID(4), report.ConsensusID)
	assert.Contains(t, report.Excluded, types.SourceID(4))
	assert.Empty(t, report.Unresolved)

	rows := consensusOf(st, "AAPL", report.ConsensusID)
	require.Len(t, rows, 2)
	assert.Equal(t, 100.0, *rows[0].Open)
	assert.Equal(t, 101.5, *rows[0].Close)
	assert.Nil(t, rows[0].Volume)
	assert.Equal(t, 103.0, *rows[1].Close)

	rec, err := st.Runs().Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Succeeded)
}

func TestCrossValidate_Idempotent(t *testing.T) {
	st, w := fixture(t)
	v := newValidator(t, st, Options{})
	ctx := context.Background()

	first, err := v.CrossValidate(ctx, table, []types.TSID{"AAPL", "MSFT"}, w)
	require.NoError(t, err)
	afterOne := map[types.TSID][]types.PriceBar{"AAPL": st.Snapshot(table, "AAPL"), "MSFT": st.Snapshot(table, "MSFT")}

	second, err := v.CrossValidate(ctx, table, []types.TSID{"AAPL", "MSFT"}, w)
	require.NoError(t, err)
	assert.Equal(t, first.ConsensusID, second.ConsensusID)
	assert.Equal(t, afterOne["AAPL"], st.Snapshot(table, "AAPL"))
	assert.Equal(t, afterOne["MSFT"], st.Snapshot(table, "MSFT"))
	for _, res := range second.Instruments {
		assert.True(t, res.ReplacedPrior, res.TSID)
		assert.Equal(t, res.Appended, res.Deleted, res.TSID)
	}
}

func TestCrossValidate_ConsensusNeverVotes(t *testing.T) {
	st, w := fixture(t)
	st.AddVendor(9, DefaultConsensusVendor, nil)
	// 旧的共识行带着一个不可能的高值；若参与投票，max_value 会选中它
	require.NoError(t, st.Prices().InsertBars(context.Background(), table, []types.PriceBar{
		bar("AAPL", day, 9, 999, 999),
	}))
	v := newValidator(t, st, Options{})

	report, err := v.CrossValidate(context.Background(), table, []types.TSID{"AAPL"}, w)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	rows := consensusOf(st, "AAPL", 9)
	require.Len(t, rows, 2)
	assert.Equal(t, 100.0, *rows[0].Open)
	assert.Equal(t, 101.5, *rows[0].Close)
}

func TestCrossValidate_UnresolvedWeightFailsOnlyThatInstrument(t *testing.T) {
	st, _ := fixture(t)
	v := newValidator(t, st, Options{})
	// vendor 1 只出现在 AAPL
	w := types.SourceWeights{2: 80, 3: 20}

	report, err := v.CrossValidate(context.Background(), table, []types.TSID{"AAPL", "MSFT"}, w)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.ErrorIs(t, report.Instruments[0].Err, ErrUnresolvedWeight)
	assert.NoError(t, report.Instruments[1].Err)
	assert.Empty(t, consensusOf(st, "AAPL", report.ConsensusID))
	assert.Len(t, consensusOf(st, "MSFT", report.ConsensusID), 1)
}

func TestCrossValidate_InstrumentsAreIndependent(t *testing.T) {
	st, w := fixture(t)
	v := newValidator(t, st, Options{})
	ctx := context.Background()
	_, err := v.CrossValidate(ctx, table, []types.TSID{"MSFT"}, w)
	require.NoError(t, err)
	msft := st.Snapshot(table, "MSFT")

	st.SetFault(func(op, tbl string, tsid types.TSID) error {
		if tsid == "AAPL" && op == "append" {
			return errors.New("constraint failed")
		}
		return nil
	})
	report, err := v.CrossValidate(ctx, table, []types.TSID{"AAPL"}, w)
	require.NoError(t, err)
	assert.ErrorIs(t, report.Err(), ErrAppendFailed)
	assert.Equal(t, msft, st.Snapshot(table, "MSFT"))
}

func TestCrossValidate_WorkersMatchSequential(t *testing.T) {
	ctx := context.Background()
	seqStore, w := fixture(t)
	parStore, _ := fixture(t)
	tsids := []types.TSID{"AAPL", "MSFT", "NONE"}

	seq, err := newValidator(t, seqStore, Options{Workers: 1}).CrossValidate(ctx, table, tsids, w)
	require.NoError(t, err)
	par, err := newValidator(t, parStore, Options{Workers: 3}).CrossValidate(ctx, table, tsids, w)
	require.NoError(t, err)

	require.Len(t, par.Instruments, 3)
	for i := range tsids {
		assert.Equal(t, tsids[i], par.Instruments[i].TSID)
		assert.Equal(t, seq.Instruments[i].Rows, par.Instruments[i].Rows)
		assert.Equal(t, seqStore.Snapshot(table, tsids[i]), parStore.Snapshot(table, tsids[i]))
	}
	assert.Zero(t, par.Instruments[2].Rows)
}

func TestCrossValidate_DryRun(t *testing.T) {
	st, w := fixture(t)
	before := st.Snapshot(table, "AAPL")
	v, err := NewValidator(st, Options{DryRun: true})
	require.NoError(t, err)

	report, err := v.CrossValidate(context.Background(), table, []types.TSID{"AAPL"}, w)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Instruments[0].Rows)
	assert.Zero(t, report.RowsWritten())
	assert.Equal(t, before, st.Snapshot(table, "AAPL"))
	_, err = st.Vendors().ResolveID(context.Background(), DefaultConsensusVendor)
	assert.ErrorIs(t, err, store.ErrVendorNotFound)
	assert.Equal(t, []string{DefaultConsensusVendor}, report.Unresolved)
}

func TestCrossValidate_FirstRunRegistersConsensusQuietly(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	st, w := fixture(t)
	v := newValidator(t, st, Options{ExcludeVendors: []string{DefaultConsensusVendor, "Yahoo"}})
	report, err := v.CrossValidate(context.Background(), table, []types.TSID{"MSFT"}, w)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	var warned []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "is not registered yet") {
			warned = append(warned, line)
		}
	}
	require.Len(t, warned, 1)
	assert.Contains(t, warned[0], "Yahoo")
	assert.Contains(t, buf.String(), "registered consensus vendor")
	assert.Equal(t, []string{"Yahoo"}, report.Unresolved)
	assert.Contains(t, report.Excluded, report.ConsensusID)
}

func TestCrossValidate_SetupErrors(t *testing.T) {
	st, w := fixture(t)
	ctx := context.Background()

	v, err := NewValidator(st, Options{})
	require.NoError(t, err)
	_, err = v.CrossValidate(ctx, table, []types.TSID{"AAPL"}, w)
	assert.ErrorIs(t, err, ErrNoConsensusVendor)

	_, err = v.CrossValidate(ctx, "prices; drop table", nil, w)
	assert.ErrorIs(t, err, store.ErrInvalidTable)

	_, err = v.CrossValidate(ctx, table, nil, types.SourceWeights{1: math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = NewValidator(nil, Options{})
	assert.Error(t, err)
	_, err = NewValidator(st, Options{Selection: "median"})
	assert.Error(t, err)
}

func TestCrossValidate_Cancelled(t *testing.T) {
	st, w := fixture(t)
	v := newValidator(t, st, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := v.CrossValidate(ctx, table, []types.TSID{"AAPL"}, w)
	assert.ErrorIs(t, err, context.Canceled)
	if report != nil {
		assert.Equal(t, 0, report.Succeeded())
	}
}
