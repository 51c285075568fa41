// Package weights loads the per-vendor consensus weights used by a run.
package weights

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"secmaster/internal/config"
	"secmaster/internal/consensus"
	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/types"

	"gopkg.in/yaml.v3"
)

const (
	SourceDatabase = "database"
	SourceFile     = "file"
)

var log = logger.For("weights")

// Entry is one vendor row of a weights file. Either ID or Name identifies the vendor.
type Entry struct {
	ID     int64    `yaml:"data_vendor_id"`
	Name   string   `yaml:"name"`
	Weight *float64 `yaml:"consensus_weight"`
}

type fileDoc struct {
	Vendors []Entry `yaml:"vendors"`
}

// Loader resolves the weight table once per run.
type Loader struct {
	vendors   store.VendorRepository
	source    string
	file      string
	overrides map[string]float64
}

func NewLoader(vendors store.VendorRepository, cfg config.WeightsConfig) *Loader {
	source := strings.ToLower(strings.TrimSpace(cfg.Source))
	if source == "" {
		source = SourceDatabase
	}
	return &Loader{
		vendors:   vendors,
		source:    source,
		file:      cfg.File,
		overrides: cfg.Overrides,
	}
}

// Load returns the weight table with overrides applied.
func (l *Loader) Load(ctx context.Context) (types.SourceWeights, error) {
	if l == nil || l.vendors == nil {
		return nil, errors.New("weights: vendor repository is nil")
	}
	var (
		w   types.SourceWeights
		err error
	)
	switch l.source {
	case SourceDatabase:
		w, err = l.vendors.Weights(ctx)
		if err != nil {
			return nil, fmt.Errorf("load weights from data_vendor: %w", err)
		}
	case SourceFile:
		entries, err := ReadFile(l.file)
		if err != nil {
			return nil, err
		}
		w, err = Resolve(ctx, l.vendors, entries)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("weights: unknown source %q", l.source)
	}
	if len(l.overrides) > 0 {
		if err := l.applyOverrides(ctx, w); err != nil {
			return nil, err
		}
	}
	if err := consensus.ValidateWeights(w); err != nil {
		return nil, err
	}
	if len(w) == 0 {
		log.Warnf("no vendor has a consensus weight; every voting vendor will be unresolved")
	}
	log.Debugf("loaded %d vendor weights from %s", len(w), l.source)
	return w, nil
}

// applyOverrides 允许用 id 或名称覆盖权重；名称大小写不敏感（配置键会被小写化）。
func (l *Loader) applyOverrides(ctx context.Context, w types.SourceWeights) error {
	byName, err := nameIndex(ctx, l.vendors)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(l.overrides))
	for k := range l.overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		id, ok := lookup(byName, k)
		if !ok {
			log.Warnf("weight override for unknown vendor %q ignored", k)
			continue
		}
		w[id] = l.overrides[k]
	}
	return nil
}

// ReadFile validates and parses a YAML weights file.
func ReadFile(path string) ([]Entry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("weights: file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}
	if err := validateDoc(raw); err != nil {
		return nil, fmt.Errorf("weights file %s: %w", path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse weights file %s: %w", path, err)
	}
	return doc.Vendors, nil
}

// Resolve maps file entries to vendor ids. Entries without a weight are skipped,
// the same way a NULL consensus_weight is.
func Resolve(ctx context.Context, vendors store.VendorRepository, entries []Entry) (types.SourceWeights, error) {
	out := make(types.SourceWeights, len(entries))
	var byName map[string]types.SourceID
	for i, e := range entries {
		if e.Weight == nil {
			continue
		}
		if e.ID > 0 {
			out[types.SourceID(e.ID)] = *e.Weight
			continue
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("weights entry %d: data_vendor_id or name required", i)
		}
		if byName == nil {
			var err error
			if byName, err = nameIndex(ctx, vendors); err != nil {
				return nil, err
			}
		}
		id, ok := lookup(byName, e.Name)
		if !ok {
			return nil, fmt.Errorf("weights entry %d: %w: %s", i, store.ErrVendorNotFound, e.Name)
		}
		out[id] = *e.Weight
	}
	return out, nil
}

// Apply writes w into data_vendor.consensus_weight.
func Apply(ctx context.Context, vendors store.VendorRepository, w types.SourceWeights) error {
	if err := consensus.ValidateWeights(w); err != nil {
		return err
	}
	ids := make([]types.SourceID, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := vendors.SetWeight(ctx, id, w[id]); err != nil {
			return fmt.Errorf("set weight vendor=%d: %w", id, err)
		}
	}
	log.Infof("applied %d vendor weights", len(ids))
	return nil
}

func nameIndex(ctx context.Context, vendors store.VendorRepository) (map[string]types.SourceID, error) {
	list, err := vendors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	out := make(map[string]types.SourceID, len(list)*2)
	for _, v := range list {
		out[strconv.FormatInt(int64(v.ID), 10)] = v.ID
		out[strings.ToLower(strings.TrimSpace(v.Name))] = v.ID
	}
	return out, nil
}

func lookup(byName map[string]types.SourceID, key string) (types.SourceID, bool) {
	id, ok := byName[strings.ToLower(strings.TrimSpace(key))]
	return id, ok
}
