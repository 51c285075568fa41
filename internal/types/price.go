package types

import (
	"math"
	"time"
)

// TSID 标识一个品种+周期的价格序列。
type TSID = string

// SourceID 是数据供应商 (data_vendor_id)。
type SourceID int64

// Period 为 unix 毫秒时间戳；日线使用 UTC 零点。
type Period int64

func PeriodOf(t time.Time) Period { return Period(t.UTC().UnixMilli()) }

func (p Period) Time() time.Time { return time.UnixMilli(int64(p)).UTC() }

func (p Period) String() string { return p.Time().Format(time.RFC3339) }

type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Fields is the canonical row order.
var Fields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// Observation is one source's value for one field of one period.
type Observation struct {
	TSID   TSID
	Period Period
	Source SourceID
	Field  Field
	Value  float64
}

// PriceBar is a stored price row. Nil fields were not reported by the source.
type PriceBar struct {
	TSID   TSID     `json:"tsid"`
	Period Period   `json:"period"`
	Source SourceID `json:"data_vendor_id"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// Get returns the bar value for f.
func (b PriceBar) Get(f Field) *float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldVolume:
		return b.Volume
	default:
		return nil
	}
}

// Observations flattens the bar, skipping NULL and NaN fields.
func (b PriceBar) Observations() []Observation {
	out := make([]Observation, 0, len(Fields))
	for _, f := range Fields {
		v := b.Get(f)
		if v == nil || math.IsNaN(*v) {
			continue
		}
		out = append(out, Observation{TSID: b.TSID, Period: b.Period, Source: b.Source, Field: f, Value: *v})
	}
	return out
}

// ConsensusRow 是某个 (tsid, period) 的共识结果；nil 字段表示该字段无可用投票（缺口）。
type ConsensusRow struct {
	TSID   TSID
	Period Period
	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *float64
}

func (r *ConsensusRow) Set(f Field, v float64) {
	val := v
	switch f {
	case FieldOpen:
		r.Open = &val
	case FieldHigh:
		r.High = &val
	case FieldLow:
		r.Low = &val
	case FieldClose:
		r.Close = &val
	case FieldVolume:
		r.Volume = &val
	}
}

func (r ConsensusRow) Get(f Field) *float64 {
	return PriceBar{Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}.Get(f)
}

// Gaps lists the fields that have no consensus value.
func (r ConsensusRow) Gaps() []Field {
	var out []Field
	for _, f := range Fields {
		if r.Get(f) == nil {
			out = append(out, f)
		}
	}
	return out
}

// Bar converts the row into a stored bar tagged with source.
func (r ConsensusRow) Bar(source SourceID) PriceBar {
	return PriceBar{
		TSID:   r.TSID,
		Period: r.Period,
		Source: source,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// SourceWeights maps a vendor to its consensus weight.
type SourceWeights map[SourceID]float64

// Lookup reports the weight of id and whether it exists.
func (w SourceWeights) Lookup(id SourceID) (float64, bool) {
	if w == nil {
		return 0, false
	}
	v, ok := w[id]
	return v, ok
}

// SourceSet is a set of vendor ids.
type SourceSet map[SourceID]struct{}

func NewSourceSet(ids ...SourceID) SourceSet {
	s := make(SourceSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s SourceSet) Add(id SourceID) { s[id] = struct{}{} }

func (s SourceSet) Has(id SourceID) bool {
	_, ok := s[id]
	return ok
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
