package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secmaster/internal/store"
	"secmaster/internal/store/memory"
	"secmaster/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Trigger(ctx context.Context, req RunRequest) (store.RunRecord, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(store.RunRecord), args.Error(1)
}

func newTestServer(t *testing.T, trigger Trigger) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.AddVendor(1, "Quandl_WIKI", types.Float64(50))
	st.AddVendor(9, "pySecMaster_Consensus", nil)
	srv, err := NewServer(ServerConfig{Store: st, Trigger: trigger, ConsensusVendor: "pySecMaster_Consensus"})
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRuns(t *testing.T) {
	srv, st := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, st.Runs().Save(ctx, store.RunRecord{ID: "run-a", Table: "daily_prices", StartedAt: now, Instruments: 2}))

	w := do(t, srv, http.MethodGet, "/api/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "run-a", list.Runs[0].ID)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/runs/run-a", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/runs/missing", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/runs?limit=x", nil).Code)
}

func TestConsensusBars(t *testing.T) {
	srv, st := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, st.Prices().InsertBars(ctx, "daily_prices", []types.PriceBar{
		{TSID: "AAPL.Q.0", Period: 1000, Source: 1, Close: types.Float64(10)},
		{TSID: "AAPL.Q.0", Period: 1000, Source: 9, Close: types.Float64(10)},
	}))

	w := do(t, srv, http.MethodGet, "/api/tables/daily_prices/consensus/AAPL.Q.0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Bars []types.PriceBar `json:"bars"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Bars, 1)
	assert.Equal(t, types.SourceID(9), out.Bars[0].Source)

	w = do(t, srv, http.MethodGet, "/api/tables/daily_prices/tsids", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AAPL.Q.0")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/tables/bad-table/tsids", nil).Code)
}

func TestTrigger(t *testing.T) {
	trig := new(MockTrigger)
	srv, _ := newTestServer(t, trig)

	req := RunRequest{Table: "daily_prices", TSIDs: []string{"AAPL.Q.0"}}
	trig.On("Trigger", mock.Anything, req).Return(store.RunRecord{ID: "run-x", Table: "daily_prices"}, nil).Once()
	body, _ := json.Marshal(req)
	w := do(t, srv, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run-x")

	trig.On("Trigger", mock.Anything, RunRequest{}).Return(store.RunRecord{}, ErrRunInProgress).Once()
	w = do(t, srv, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodPost, "/api/runs", []byte(`{"table":"x;drop"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	trig.AssertExpectations(t)
}

func TestTriggerDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
