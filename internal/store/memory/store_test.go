package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"secmaster/internal/store"
	"secmaster/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "daily_prices"

func row(tsid types.TSID, p types.Period, close float64) types.ConsensusRow {
	r := types.ConsensusRow{TSID: tsid, Period: p}
	r.Set(types.FieldClose, close)
	return r
}

func TestStore_ObservationsAndTSIDs(t *testing.T) {
	ctx := context.Background()
	st := New()
	require.NoError(t, st.Prices().InsertBars(ctx, table, []types.PriceBar{
		{TSID: "MSFT", Period: 1, Source: 1, Close: types.Float64(3)},
		{TSID: "AAPL", Period: 2, Source: 1, Open: types.Float64(1), Close: types.Float64(2)},
		{TSID: "AAPL", Period: 1, Source: 2, Volume: types.Float64(100)},
	}))

	ids, err := st.Prices().ActiveTSIDs(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, []types.TSID{"AAPL", "MSFT"}, ids)

	obs, err := st.Prices().Observations(ctx, table, "AAPL")
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, types.Observation{TSID: "AAPL", Period: 1, Source: 2, Field: types.FieldVolume, Value: 100}, obs[0])

	_, err = st.Prices().ActiveTSIDs(ctx, "bad name")
	assert.ErrorIs(t, err, store.ErrInvalidTable)
}

func TestStore_TransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	st := New()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	n, err := uow.Prices().AppendRows(ctx, table, "AAPL", 9, []types.ConsensusRow{row("AAPL", 1, 10)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, st.Snapshot(table, "AAPL"), "uncommitted rows must not be visible")
	require.NoError(t, uow.Rollback())
	assert.Empty(t, st.Snapshot(table, "AAPL"))

	uow, err = st.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Prices().AppendRows(ctx, table, "AAPL", 9, []types.ConsensusRow{row("AAPL", 1, 10)})
	require.NoError(t, err)
	require.NoError(t, uow.Commit())
	assert.Len(t, st.Snapshot(table, "AAPL"), 1)
	assert.Error(t, uow.Commit())
}

func TestStore_AppendNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	st := New()
	_, err := st.Prices().AppendRows(ctx, table, "AAPL", 9, []types.ConsensusRow{row("AAPL", 1, 10)})
	require.NoError(t, err)
	_, err = st.Prices().AppendRows(ctx, table, "AAPL", 9, []types.ConsensusRow{row("AAPL", 1, 11)})
	assert.ErrorIs(t, err, store.ErrDuplicateRow)
	_, err = st.Prices().AppendRows(ctx, table, "AAPL", 9, []types.ConsensusRow{row("MSFT", 1, 11)})
	assert.Error(t, err)

	n, err := st.Prices().DeleteRows(ctx, table, "AAPL", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, st.Snapshot(table, "AAPL"))
}

func TestStore_Fault(t *testing.T) {
	ctx := context.Background()
	st := New()
	boom := errors.New("boom")
	st.SetFault(func(op, tbl string, tsid types.TSID) error {
		if op == "observations" && tsid == "AAPL" {
			return boom
		}
		return nil
	})
	_, err := st.Prices().Observations(ctx, table, "AAPL")
	assert.ErrorIs(t, err, boom)
	_, err = st.Prices().Observations(ctx, table, "MSFT")
	assert.NoError(t, err)
	st.SetFault(nil)
	_, err = st.Prices().Observations(ctx, table, "AAPL")
	assert.NoError(t, err)
}

func TestStore_Vendors(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.AddVendor(3, "CSI_Data", types.Float64(80))

	id, err := st.Vendors().Ensure(ctx, "pySecMaster_Consensus")
	require.NoError(t, err)
	assert.Equal(t, types.SourceID(4), id)
	again, err := st.Vendors().Ensure(ctx, "pySecMaster_Consensus")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = st.Vendors().ResolveID(ctx, "Yahoo")
	assert.ErrorIs(t, err, store.ErrVendorNotFound)

	list, err := st.Vendors().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "CSI_Data", list[0].Name)
	require.NotNil(t, list[0].Weight)
	assert.Nil(t, list[1].Weight)

	assert.ErrorIs(t, st.Vendors().SetWeight(ctx, 42, 1), store.ErrVendorNotFound)
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	st := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Runs().Save(ctx, store.RunRecord{ID: "a", StartedAt: base}))
	require.NoError(t, st.Runs().Save(ctx, store.RunRecord{ID: "b", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, st.Runs().Save(ctx, store.RunRecord{ID: "a", StartedAt: base, Failed: 1}))

	list, err := st.Runs().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	got, err := st.Runs().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)
	_, err = st.Runs().Get(ctx, "zzz")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}
