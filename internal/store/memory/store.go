// Package memory provides an in-process implementation of store.Store used by
// tests, dry runs and local seeding.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"secmaster/internal/store"
	"secmaster/internal/types"
)

// Fault lets callers inject a failure for one operation ("delete", "append",
// "observations", "insert") on one table/tsid. Returning nil means no fault.
type Fault func(op, table string, tsid types.TSID) error

type rowKey struct {
	period types.Period
	source types.SourceID
}

type series map[rowKey]types.PriceBar

func (s series) clone() series {
	out := make(series, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type shard struct {
	mu   sync.RWMutex
	data map[string]series
}

const defaultShardCount = 32

// Store keeps price tables sharded by table@tsid.
type Store struct {
	shards []shard

	txMu sync.Mutex

	vendorMu sync.RWMutex
	vendors  map[string]types.SourceID
	weights  types.SourceWeights
	nextID   types.SourceID

	runMu sync.RWMutex
	runs  []store.RunRecord

	faultMu sync.RWMutex
	fault   Fault
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return newStore(defaultShardCount)
}

func newStore(shards int) *Store {
	if shards <= 0 {
		shards = 1
	}
	out := &Store{
		shards:  make([]shard, shards),
		vendors: make(map[string]types.SourceID),
		weights: make(types.SourceWeights),
		nextID:  1,
	}
	for i := range out.shards {
		out.shards[i] = shard{data: make(map[string]series)}
	}
	return out
}

func key(table string, tsid types.TSID) string { return table + "@" + tsid }

func (s *Store) shardFor(k string) *shard {
	idx := hashKey(k) % uint32(len(s.shards))
	return &s.shards[idx]
}

// SetFault installs f; nil clears it.
func (s *Store) SetFault(f Fault) {
	s.faultMu.Lock()
	s.fault = f
	s.faultMu.Unlock()
}

func (s *Store) checkFault(op, table string, tsid types.TSID) error {
	s.faultMu.RLock()
	f := s.fault
	s.faultMu.RUnlock()
	if f == nil {
		return nil
	}
	return f(op, table, tsid)
}

// AddVendor registers name with an explicit id; weight may be nil.
func (s *Store) AddVendor(id types.SourceID, name string, weight *float64) {
	s.vendorMu.Lock()
	defer s.vendorMu.Unlock()
	s.vendors[strings.TrimSpace(name)] = id
	if weight != nil {
		s.weights[id] = *weight
	}
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// Begin starts a transaction. Transactions are serialized; writes made
// outside a transaction are not isolated from them.
func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &unitOfWork{s: s, overlay: make(map[string]series)}, nil
}

func (s *Store) Vendors() store.VendorRepository { return vendorRepo{s: s} }

func (s *Store) Prices() store.PriceRepository { return priceRepo{s: s} }

func (s *Store) Runs() store.RunRepository { return runRepo{s: s} }

func (s *Store) Close() error { return nil }

// Snapshot returns a copy of every bar stored for table/tsid ordered by
// period then source.
func (s *Store) Snapshot(table string, tsid types.TSID) []types.PriceBar {
	return sortedBars(s.read(key(table, tsid)))
}

func (s *Store) read(k string) series {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.data[k].clone()
}

func (s *Store) write(k string, data series) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(data) == 0 {
		delete(sh.data, k)
		return
	}
	sh.data[k] = data
}

func (s *Store) tsids(table string) []types.TSID {
	prefix := table + "@"
	seen := make(map[types.TSID]struct{})
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, data := range sh.data {
			if len(data) > 0 && strings.HasPrefix(k, prefix) {
				seen[strings.TrimPrefix(k, prefix)] = struct{}{}
			}
		}
		sh.mu.RUnlock()
	}
	out := make([]types.TSID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedBars(data series) []types.PriceBar {
	out := make([]types.PriceBar, 0, len(data))
	for _, b := range data {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// accessor abstracts committed storage versus a transaction overlay.
type accessor interface {
	load(k string) series
	save(k string, data series)
}

type direct struct{ s *Store }

func (d direct) load(k string) series       { return d.s.read(k) }
func (d direct) save(k string, data series) { d.s.write(k, data) }

type unitOfWork struct {
	s       *Store
	overlay map[string]series
	done    bool
}

func (u *unitOfWork) load(k string) series {
	if data, ok := u.overlay[k]; ok {
		return data.clone()
	}
	return u.s.read(k)
}

func (u *unitOfWork) save(k string, data series) { u.overlay[k] = data }

func (u *unitOfWork) Prices() store.PriceRepository { return priceRepo{s: u.s, acc: u} }

func (u *unitOfWork) Commit() error {
	if u.done {
		return errors.New("memory store: transaction already finished")
	}
	for k, data := range u.overlay {
		u.s.write(k, data)
	}
	u.finish()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.overlay = nil
	u.done = true
	u.s.txMu.Unlock()
}

type priceRepo struct {
	s   *Store
	acc accessor
}

func (r priceRepo) accessor() accessor {
	if r.acc != nil {
		return r.acc
	}
	return direct{s: r.s}
}

func (r priceRepo) ActiveTSIDs(ctx context.Context, table string) ([]types.TSID, error) {
	if err := store.CheckTable(table); err != nil {
		return nil, err
	}
	return r.s.tsids(table), nil
}

func (r priceRepo) Observations(ctx context.Context, table string, tsid types.TSID) ([]types.Observation, error) {
	if err := r.s.checkFault("observations", table, tsid); err != nil {
		return nil, err
	}
	bars, err := r.Bars(ctx, table, tsid, nil)
	if err != nil {
		return nil, err
	}
	out := make([]types.Observation, 0, len(bars)*len(types.Fields))
	for _, b := range bars {
		out = append(out, b.Observations()...)
	}
	return out, nil
}

func (r priceRepo) Bars(ctx context.Context, table string, tsid types.TSID, source *types.SourceID) ([]types.PriceBar, error) {
	if err := store.CheckTable(table); err != nil {
		return nil, err
	}
	bars := sortedBars(r.accessor().load(key(table, tsid)))
	if source == nil {
		return bars, nil
	}
	out := bars[:0]
	for _, b := range bars {
		if b.Source == *source {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r priceRepo) InsertBars(ctx context.Context, table string, bars []types.PriceBar) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	grouped := make(map[types.TSID][]types.PriceBar)
	for _, b := range bars {
		grouped[b.TSID] = append(grouped[b.TSID], b)
	}
	acc := r.accessor()
	for tsid, items := range grouped {
		if err := r.s.checkFault("insert", table, tsid); err != nil {
			return err
		}
		k := key(table, tsid)
		data := acc.load(k)
		if data == nil {
			data = make(series)
		}
		for _, b := range items {
			data[rowKey{period: b.Period, source: b.Source}] = b
		}
		acc.save(k, data)
	}
	return nil
}

func (r priceRepo) DeleteRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID) (int64, error) {
	if err := store.CheckTable(table); err != nil {
		return 0, err
	}
	if err := r.s.checkFault("delete", table, tsid); err != nil {
		return 0, err
	}
	acc := r.accessor()
	k := key(table, tsid)
	data := acc.load(k)
	var n int64
	for rk := range data {
		if rk.source == source {
			delete(data, rk)
			n++
		}
	}
	acc.save(k, data)
	return n, nil
}

func (r priceRepo) AppendRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID, rows []types.ConsensusRow) (int64, error) {
	if err := store.CheckTable(table); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := r.s.checkFault("append", table, tsid); err != nil {
		return 0, err
	}
	acc := r.accessor()
	k := key(table, tsid)
	data := acc.load(k)
	if data == nil {
		data = make(series)
	}
	for _, row := range rows {
		if row.TSID != tsid {
			return 0, fmt.Errorf("append %s: row tsid %s does not match", tsid, row.TSID)
		}
		rk := rowKey{period: row.Period, source: source}
		if _, exists := data[rk]; exists {
			return 0, fmt.Errorf("%w: tsid=%s period=%s vendor=%d", store.ErrDuplicateRow, tsid, row.Period, source)
		}
		data[rk] = row.Bar(source)
	}
	acc.save(k, data)
	return int64(len(rows)), nil
}

type vendorRepo struct{ s *Store }

func (r vendorRepo) List(ctx context.Context) ([]store.Vendor, error) {
	r.s.vendorMu.RLock()
	defer r.s.vendorMu.RUnlock()
	out := make([]store.Vendor, 0, len(r.s.vendors))
	for name, id := range r.s.vendors {
		v := store.Vendor{ID: id, Name: name}
		if w, ok := r.s.weights[id]; ok {
			w := w
			v.Weight = &w
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r vendorRepo) ResolveID(ctx context.Context, name string) (types.SourceID, error) {
	r.s.vendorMu.RLock()
	defer r.s.vendorMu.RUnlock()
	id, ok := r.s.vendors[strings.TrimSpace(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrVendorNotFound, name)
	}
	return id, nil
}

func (r vendorRepo) Ensure(ctx context.Context, name string) (types.SourceID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("vendor name 必填")
	}
	r.s.vendorMu.Lock()
	defer r.s.vendorMu.Unlock()
	if id, ok := r.s.vendors[name]; ok {
		return id, nil
	}
	id := r.s.nextID
	r.s.nextID++
	r.s.vendors[name] = id
	return id, nil
}

func (r vendorRepo) Weights(ctx context.Context) (types.SourceWeights, error) {
	r.s.vendorMu.RLock()
	defer r.s.vendorMu.RUnlock()
	out := make(types.SourceWeights, len(r.s.weights))
	for id, w := range r.s.weights {
		out[id] = w
	}
	return out, nil
}

func (r vendorRepo) SetWeight(ctx context.Context, id types.SourceID, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("consensus_weight must be >= 0 (vendor=%d)", id)
	}
	r.s.vendorMu.Lock()
	defer r.s.vendorMu.Unlock()
	for _, known := range r.s.vendors {
		if known == id {
			r.s.weights[id] = weight
			return nil
		}
	}
	return fmt.Errorf("%w: id=%d", store.ErrVendorNotFound, id)
}

type runRepo struct{ s *Store }

func (r runRepo) Save(ctx context.Context, rec store.RunRecord) error {
	if rec.ID == "" {
		return errors.New("run id 必填")
	}
	r.s.runMu.Lock()
	defer r.s.runMu.Unlock()
	for i := range r.s.runs {
		if r.s.runs[i].ID == rec.ID {
			r.s.runs[i] = rec
			return nil
		}
	}
	r.s.runs = append(r.s.runs, rec)
	return nil
}

func (r runRepo) Get(ctx context.Context, id string) (store.RunRecord, error) {
	r.s.runMu.RLock()
	defer r.s.runMu.RUnlock()
	for _, rec := range r.s.runs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return store.RunRecord{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
}

func (r runRepo) List(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	r.s.runMu.RLock()
	out := make([]store.RunRecord, len(r.s.runs))
	copy(out, r.s.runs)
	r.s.runMu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
