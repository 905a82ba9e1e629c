package series

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Builder collects cells in any order. Unset cells become NaN.
type Builder struct {
	name      string
	issueTime time.Time
	rows      map[int64]map[Field]float64
	fields    []Field
	export    []Field
	err       error
}

func NewBuilder(name string, issueTime time.Time) *Builder {
	return &Builder{
		name:      name,
		issueTime: issueTime,
		rows:      make(map[int64]map[Field]float64),
	}
}

func (b *Builder) SetIssueTime(t time.Time) *Builder {
	b.issueTime = t
	return b
}

func (b *Builder) Set(t time.Time, f Field, v float64) *Builder {
	if b.err != nil {
		return b
	}
	if !f.Valid() {
		b.err = fmt.Errorf("%w: %q", ErrInvalidField, f)
		return b
	}
	key := t.UTC().UnixNano()
	row, ok := b.rows[key]
	if !ok {
		row = make(map[Field]float64)
		b.rows[key] = row
	}
	row[f] = v
	if !slices.Contains(b.fields, f) {
		b.fields = append(b.fields, f)
	}
	return b
}

// Touch adds the period end t without setting any cell.
func (b *Builder) Touch(t time.Time) *Builder {
	key := t.UTC().UnixNano()
	if _, ok := b.rows[key]; !ok {
		b.rows[key] = make(map[Field]float64)
	}
	return b
}

func (b *Builder) Export(fields ...Field) *Builder {
	b.export = append(b.export, fields...)
	return b
}

func (b *Builder) Len() int {
	return len(b.rows)
}

func (b *Builder) Build() (TimeSeries, error) {
	if b.err != nil {
		return TimeSeries{}, b.err
	}

	keys := make([]int64, 0, len(b.rows))
	for k := range b.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	index := make([]time.Time, len(keys))
	columns := make(map[Field][]float64, len(b.fields))
	for _, f := range b.fields {
		columns[f] = make([]float64, len(keys))
	}
	for i, k := range keys {
		index[i] = time.Unix(0, k).UTC()
		row := b.rows[k]
		for _, f := range b.fields {
			v, ok := row[f]
			if !ok {
				v = math.NaN()
			}
			columns[f][i] = v
		}
	}

	return New(b.name, b.issueTime, index, columns, b.export)
}
