package consensus

import (
	"context"
	"errors"
	"testing"

	"secmaster/internal/store"
	"secmaster/internal/store/memory"
	"secmaster/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
	store.Store
}

func (m *MockStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.UnitOfWork), args.Error(1)
}

type MockUnitOfWork struct {
	mock.Mock
	prices store.PriceRepository
}

func (m *MockUnitOfWork) Commit() error                  { return m.Called().Error(0) }
func (m *MockUnitOfWork) Rollback() error                { return m.Called().Error(0) }
func (m *MockUnitOfWork) Prices() store.PriceRepository { return m.prices }

type MockPrices struct {
	mock.Mock
	store.PriceRepository
}

func (m *MockPrices) DeleteRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID) (int64, error) {
	args := m.Called(ctx, table, tsid, source)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPrices) AppendRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID, rows []types.ConsensusRow) (int64, error) {
	args := m.Called(ctx, table, tsid, source, rows)
	return args.Get(0).(int64), args.Error(1)
}

func sampleAssembly(observed ...types.SourceID) Assembly {
	row := types.ConsensusRow{TSID: "AAPL", Period: 100}
	row.Set(types.FieldClose, 10)
	return Assembly{TSID: "AAPL", Rows: []types.ConsensusRow{row}, Observed: types.NewSourceSet(observed...)}
}

func TestReconciler_DeleteFailureBlocksAppend(t *testing.T) {
	prices := new(MockPrices)
	uow := &MockUnitOfWork{prices: prices}
	st := new(MockStore)
	boom := errors.New("disk I/O error")

	st.On("Begin", mock.Anything).Return(uow, nil)
	prices.On("DeleteRows", mock.Anything, "daily_prices", "AAPL", types.SourceID(9)).Return(int64(0), boom)
	uow.On("Rollback").Return(nil)

	res, err := Reconciler{Store: st, ConsensusID: 9}.Write(context.Background(), "daily_prices", sampleAssembly(1, 9))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeleteFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.ReplacedPrior)
	assert.Zero(t, res.Appended)
	prices.AssertNotCalled(t, "AppendRows", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	uow.AssertNotCalled(t, "Commit")
	uow.AssertExpectations(t)
}

func TestReconciler_AppendFailureRollsBack(t *testing.T) {
	prices := new(MockPrices)
	uow := &MockUnitOfWork{prices: prices}
	st := new(MockStore)
	a := sampleAssembly(1, 9)

	st.On("Begin", mock.Anything).Return(uow, nil)
	prices.On("DeleteRows", mock.Anything, "daily_prices", "AAPL", types.SourceID(9)).Return(int64(1), nil)
	prices.On("AppendRows", mock.Anything, "daily_prices", "AAPL", types.SourceID(9), a.Rows).Return(int64(0), store.ErrDuplicateRow)
	uow.On("Rollback").Return(nil)

	_, err := Reconciler{Store: st, ConsensusID: 9}.Write(context.Background(), "daily_prices", a)
	assert.ErrorIs(t, err, ErrAppendFailed)
	assert.ErrorIs(t, err, store.ErrDuplicateRow)
	uow.AssertNotCalled(t, "Commit")
	uow.AssertExpectations(t)
}

func TestReconciler_DeleteFailureLeavesTableUnchanged(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	prior := []types.PriceBar{
		{TSID: "AAPL", Period: 100, Source: 1, Close: types.Float64(10)},
		{TSID: "AAPL", Period: 100, Source: 9, Close: types.Float64(9)},
	}
	require.NoError(t, st.Prices().InsertBars(ctx, "daily_prices", prior))
	before := st.Snapshot("daily_prices", "AAPL")

	st.SetFault(func(op, table string, tsid types.TSID) error {
		if op == "delete" {
			return errors.New("locked")
		}
		return nil
	})
	_, err := Reconciler{Store: st, ConsensusID: 9}.Write(ctx, "daily_prices", sampleAssembly(1, 9))
	assert.ErrorIs(t, err, ErrDeleteFailed)
	assert.Equal(t, before, st.Snapshot("daily_prices", "AAPL"))
}

func TestReconciler_ReplacesPrior(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Prices().InsertBars(ctx, "daily_prices", []types.PriceBar{
		{TSID: "AAPL", Period: 100, Source: 9, Close: types.Float64(9)},
		{TSID: "AAPL", Period: 50, Source: 9, Close: types.Float64(8)},
	}))
	res, err := Reconciler{Store: st, ConsensusID: 9}.Write(ctx, "daily_prices", sampleAssembly(9))
	require.NoError(t, err)
	assert.Equal(t, WriteResult{ReplacedPrior: true, Deleted: 2, Appended: 1}, res)

	bars := st.Snapshot("daily_prices", "AAPL")
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, *bars[0].Close)
}

func TestReconciler_StaleRowsRemovedWhenNothingNew(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Prices().InsertBars(ctx, "daily_prices", []types.PriceBar{
		{TSID: "AAPL", Period: 100, Source: 9, Close: types.Float64(9)},
	}))
	res, err := Reconciler{Store: st, ConsensusID: 9}.Write(ctx, "daily_prices", Assembly{TSID: "AAPL", Observed: types.NewSourceSet(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)
	assert.Empty(t, st.Snapshot("daily_prices", "AAPL"))
}

func TestReconciler_DryRunAndNoop(t *testing.T) {
	st := new(MockStore)
	res, err := Reconciler{Store: st, ConsensusID: 9, DryRun: true}.Write(context.Background(), "daily_prices", sampleAssembly(9))
	require.NoError(t, err)
	assert.True(t, res.ReplacedPrior)

	_, err = Reconciler{Store: st, ConsensusID: 9}.Write(context.Background(), "daily_prices", Assembly{TSID: "AAPL", Observed: types.NewSourceSet(1)})
	require.NoError(t, err)
	st.AssertNotCalled(t, "Begin", mock.Anything)
}
