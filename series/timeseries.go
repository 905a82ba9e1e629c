package series

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

var (
	ErrUnordered      = errors.New("period_end index is not strictly increasing")
	ErrLength         = errors.New("column length does not match index length")
	ErrInvalidField   = errors.New("invalid field name")
	ErrFieldCollision = errors.New("field present in more than one series")
)

// TimeSeries is an immutable, time indexed table produced by one provider
// run. All timestamps are UTC, the issue time has whole second precision.
type TimeSeries struct {
	name      string
	issueTime time.Time
	index     []time.Time
	columns   map[Field][]float64
	export    []Field
}

type Row struct {
	PeriodEnd time.Time
	Values    map[Field]float64
}

// New validates and copies its arguments. Export fields that are not among
// the columns are ignored.
func New(name string, issueTime time.Time, index []time.Time, columns map[Field][]float64, export []Field) (TimeSeries, error) {
	idx := make([]time.Time, len(index))
	for i, t := range index {
		idx[i] = t.UTC()
		if i > 0 && !idx[i].After(idx[i-1]) {
			return TimeSeries{}, fmt.Errorf("%w: %s at position %d", ErrUnordered, idx[i].Format(time.RFC3339), i)
		}
	}

	cols := make(map[Field][]float64, len(columns))
	for f, c := range columns {
		if !f.Valid() {
			return TimeSeries{}, fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
		if len(c) != len(idx) {
			return TimeSeries{}, fmt.Errorf("%w: %s has %d values, index has %d", ErrLength, f, len(c), len(idx))
		}
		cols[f] = slices.Clone(c)
	}

	return TimeSeries{
		name:      name,
		issueTime: truncateIssueTime(issueTime),
		index:     idx,
		columns:   cols,
		export:    filterExport(export, cols),
	}, nil
}

// Empty returns a series without rows, used when no data is available.
func Empty(name string) TimeSeries {
	return TimeSeries{name: name, columns: map[Field][]float64{}}
}

func truncateIssueTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}

func filterExport(export []Field, cols map[Field][]float64) []Field {
	var out []Field
	for _, f := range export {
		if _, ok := cols[f]; ok && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func (s TimeSeries) Name() string {
	return s.name
}

func (s TimeSeries) IssueTime() time.Time {
	return s.issueTime
}

func (s TimeSeries) Len() int {
	return len(s.index)
}

func (s TimeSeries) IsEmpty() bool {
	return len(s.index) == 0
}

func (s TimeSeries) Times() []time.Time {
	return slices.Clone(s.index)
}

func (s TimeSeries) Time(i int) time.Time {
	return s.index[i]
}

// Fields returns the column keys in sorted order.
func (s TimeSeries) Fields() []Field {
	fields := make([]Field, 0, len(s.columns))
	for f := range s.columns {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

func (s TimeSeries) Has(f Field) bool {
	_, ok := s.columns[f]
	return ok
}

// Column returns a copy of the values of f, nil if the field is missing.
func (s TimeSeries) Column(f Field) []float64 {
	c, ok := s.columns[f]
	if !ok {
		return nil
	}
	return slices.Clone(c)
}

// Value returns the cell at row i, NaN for a missing field.
func (s TimeSeries) Value(i int, f Field) float64 {
	c, ok := s.columns[f]
	if !ok {
		return math.NaN()
	}
	return c[i]
}

func (s TimeSeries) Export() []Field {
	return slices.Clone(s.export)
}

func (s TimeSeries) Rows() []Row {
	rows := make([]Row, len(s.index))
	for i, t := range s.index {
		values := make(map[Field]float64, len(s.columns))
		for f, c := range s.columns {
			values[f] = c[i]
		}
		rows[i] = Row{PeriodEnd: t, Values: values}
	}
	return rows
}

// IndexOf returns the row of period end t, or -1.
func (s TimeSeries) IndexOf(t time.Time) int {
	i, found := slices.BinarySearchFunc(s.index, t.UTC(), func(a, b time.Time) int { return a.Compare(b) })
	if !found {
		return -1
	}
	return i
}

func (s TimeSeries) clone() TimeSeries {
	cols := make(map[Field][]float64, len(s.columns))
	for f, c := range s.columns {
		cols[f] = slices.Clone(c)
	}
	return TimeSeries{
		name:      s.name,
		issueTime: s.issueTime,
		index:     slices.Clone(s.index),
		columns:   cols,
		export:    slices.Clone(s.export),
	}
}

func (s TimeSeries) WithName(name string) TimeSeries {
	c := s.clone()
	c.name = name
	return c
}

func (s TimeSeries) WithIssueTime(t time.Time) TimeSeries {
	c := s.clone()
	c.issueTime = truncateIssueTime(t)
	return c
}

func (s TimeSeries) WithExport(fields ...Field) TimeSeries {
	c := s.clone()
	c.export = filterExport(fields, c.columns)
	return c
}

// Select keeps the given fields only.
func (s TimeSeries) Select(fields ...Field) TimeSeries {
	c := s.clone()
	for f := range c.columns {
		if !slices.Contains(fields, f) {
			delete(c.columns, f)
		}
	}
	c.export = filterExport(c.export, c.columns)
	return c
}

func (s TimeSeries) Drop(fields ...Field) TimeSeries {
	c := s.clone()
	for _, f := range fields {
		delete(c.columns, f)
	}
	c.export = filterExport(c.export, c.columns)
	return c
}

// Rename maps old field keys to new ones, export entries follow.
func (s TimeSeries) Rename(names map[Field]Field) (TimeSeries, error) {
	cols := make(map[Field][]float64, len(s.columns))
	for f, col := range s.columns {
		to := f
		if n, ok := names[f]; ok {
			to = n
		}
		if !to.Valid() {
			return TimeSeries{}, fmt.Errorf("%w: %q", ErrInvalidField, to)
		}
		if _, exists := cols[to]; exists {
			return TimeSeries{}, fmt.Errorf("%w: %s", ErrFieldCollision, to)
		}
		cols[to] = slices.Clone(col)
	}
	export := make([]Field, 0, len(s.export))
	for _, f := range s.export {
		if n, ok := names[f]; ok {
			f = n
		}
		export = append(export, f)
	}
	c := s.clone()
	c.columns = cols
	c.export = filterExport(export, cols)
	return c, nil
}

// Map applies fn to every value of the given fields.
func (s TimeSeries) Map(fn func(float64) float64, fields ...Field) TimeSeries {
	c := s.clone()
	for _, f := range fields {
		col, ok := c.columns[f]
		if !ok {
			continue
		}
		for i, v := range col {
			col[i] = fn(v)
		}
	}
	return c
}

func (s TimeSeries) Scale(factor float64, fields ...Field) TimeSeries {
	return s.Map(func(v float64) float64 { return v * factor }, fields...)
}

// Since keeps the rows with period_end >= t.
func (s TimeSeries) Since(t time.Time) TimeSeries {
	from, _ := slices.BinarySearchFunc(s.index, t.UTC(), func(a, b time.Time) int { return a.Compare(b) })
	c := s.clone()
	c.index = c.index[from:]
	for f, col := range c.columns {
		c.columns[f] = col[from:]
	}
	return c
}

// WithColumn returns a copy with field f set to values. The length must
// match the index.
func (s TimeSeries) WithColumn(f Field, values []float64) (TimeSeries, error) {
	if !f.Valid() {
		return TimeSeries{}, fmt.Errorf("%w: %q", ErrInvalidField, f)
	}
	if len(values) != len(s.index) {
		return TimeSeries{}, fmt.Errorf("%w: %s has %d values, index has %d", ErrLength, f, len(values), len(s.index))
	}
	c := s.clone()
	c.columns[f] = slices.Clone(values)
	return c, nil
}
