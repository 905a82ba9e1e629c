package series

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

type Join int

const (
	JoinInner Join = iota
	JoinOuter
)

func (j Join) String() string {
	if j == JoinOuter {
		return "outer"
	}
	return "inner"
}

// Merge aligns other onto base by period end. Both series must have
// disjoint fields. The result keeps the name of base and the later of both
// issue times; export fields are the union of both.
func Merge(base, other TimeSeries, join Join) (TimeSeries, error) {
	for f := range other.columns {
		if _, ok := base.columns[f]; ok {
			return TimeSeries{}, fmt.Errorf("%w: %s", ErrFieldCollision, f)
		}
	}

	var index []time.Time
	if join == JoinOuter {
		index = unionIndex(base.index, other.index)
	} else {
		index = intersectIndex(base.index, other.index)
	}

	columns := make(map[Field][]float64, len(base.columns)+len(other.columns))
	for f, c := range base.columns {
		columns[f] = project(base.index, c, index)
	}
	for f, c := range other.columns {
		columns[f] = project(other.index, c, index)
	}

	export := append(slices.Clone(base.export), other.export...)
	return New(base.name, later(base.issueTime, other.issueTime), index, columns, export)
}

type CombineMode string

const (
	CombineSum        CombineMode = "sum"
	CombineIndividual CombineMode = "individual"
	CombineBoth       CombineMode = "both"
)

func ParseCombineMode(s string) (CombineMode, error) {
	switch m := CombineMode(s); m {
	case CombineSum, CombineIndividual, CombineBoth:
		return m, nil
	case "":
		return CombineSum, nil
	default:
		return "", fmt.Errorf("unknown combine mode %q", s)
	}
}

// Part is one source of a Combine, the suffix names its detail fields.
type Part struct {
	Suffix string
	Series TimeSeries
}

// Combine aggregates split sources (e.g. several PV arrays) into one series.
// Rows are the intersection of all parts. Fields accepted by match are
// summed, kept per part as <field>_<suffix>, or both, depending on mode.
// All other fields are taken from the first part. A nil match accepts all.
func Combine(mode CombineMode, match func(Field) bool, parts ...Part) (TimeSeries, error) {
	if len(parts) == 0 {
		return TimeSeries{}, errors.New("nothing to combine")
	}
	if _, err := ParseCombineMode(string(mode)); err != nil {
		return TimeSeries{}, err
	}
	if match == nil {
		match = func(Field) bool { return true }
	}

	first := parts[0].Series
	index := first.index
	issue := first.issueTime
	for _, p := range parts[1:] {
		index = intersectIndex(index, p.Series.index)
		issue = later(issue, p.Series.issueTime)
	}

	columns := make(map[Field][]float64)
	put := func(f Field, values []float64) error {
		if _, exists := columns[f]; exists {
			return fmt.Errorf("%w: %s", ErrFieldCollision, f)
		}
		columns[f] = values
		return nil
	}

	var matched []Field
	for _, f := range first.Fields() {
		if match(f) {
			matched = append(matched, f)
			continue
		}
		if err := put(f, project(first.index, first.columns[f], index)); err != nil {
			return TimeSeries{}, err
		}
	}

	for _, f := range matched {
		sum := make([]float64, len(index))
		for _, p := range parts {
			src, ok := p.Series.columns[f]
			if !ok {
				continue
			}
			values := project(p.Series.index, src, index)
			for i, v := range values {
				sum[i] += v
			}
			if mode != CombineSum {
				if err := put(f.WithSuffix(p.Suffix), values); err != nil {
					return TimeSeries{}, err
				}
			}
		}
		if mode != CombineIndividual {
			if err := put(f, sum); err != nil {
				return TimeSeries{}, err
			}
		}
	}

	var export []Field
	for _, f := range first.export {
		if !slices.Contains(matched, f) {
			export = append(export, f)
			continue
		}
		if mode != CombineIndividual {
			export = append(export, f)
		}
		if mode != CombineSum {
			for _, p := range parts {
				export = append(export, f.WithSuffix(p.Suffix))
			}
		}
	}

	return New(first.name, issue, index, columns, export)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func intersectIndex(a, b []time.Time) []time.Time {
	out := make([]time.Time, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].Compare(b[j]); {
		case c == 0:
			out = append(out, a[i])
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}
	return out
}

func unionIndex(a, b []time.Time) []time.Time {
	out := make([]time.Time, 0, max(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b):
			out = append(out, a[i])
			i++
		case i >= len(a):
			out = append(out, b[j])
			j++
		default:
			switch c := a[i].Compare(b[j]); {
			case c == 0:
				out = append(out, a[i])
				i++
				j++
			case c < 0:
				out = append(out, a[i])
				i++
			default:
				out = append(out, b[j])
				j++
			}
		}
	}
	return out
}

// project reads values of src (indexed by from) at the timestamps of to,
// NaN where from has no such timestamp. Both indexes are sorted.
func project(from []time.Time, src []float64, to []time.Time) []float64 {
	out := make([]float64, len(to))
	i := 0
	for k, t := range to {
		for i < len(from) && from[i].Before(t) {
			i++
		}
		if i < len(from) && from[i].Equal(t) {
			out[k] = src[i]
		} else {
			out[k] = math.NaN()
		}
	}
	return out
}
