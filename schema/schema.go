// Package schema decides which fields of an incoming series can be written
// to a relational table. A table's column set is fixed when it is created;
// fields that appear later are dropped with a warning, never migrated.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/icodeforyou/pvforecast/series"
)

type Result struct {
	Table   string
	Create  bool
	Write   []series.Field
	Dropped []series.Field
}

// DriftWarning reports fields that the stored table cannot hold.
type DriftWarning struct {
	Table  string
	Fields []series.Field
}

func (w *DriftWarning) Error() string {
	names := make([]string, len(w.Fields))
	for i, f := range w.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("table %s has no columns for %s", w.Table, strings.Join(names, ", "))
}

// Warning is nil when nothing was dropped.
func (r Result) Warning() *DriftWarning {
	if len(r.Dropped) == 0 {
		return nil
	}
	return &DriftWarning{Table: r.Table, Fields: slices.Clone(r.Dropped)}
}

// Reconcile compares the fields of an incoming series with the columns of
// the stored table. A nil existing slice means the table does not exist yet;
// an empty non-nil slice is a table without value columns.
func Reconcile(table string, fields []series.Field, existing []series.Field) Result {
	if existing == nil {
		return Result{Table: table, Create: true, Write: slices.Clone(fields)}
	}

	res := Result{Table: table, Write: []series.Field{}}
	for _, f := range fields {
		if slices.Contains(existing, f) {
			res.Write = append(res.Write, f)
		} else {
			res.Dropped = append(res.Dropped, f)
		}
	}
	return res
}
