package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/storage"
)

func TestDue(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		last        time.Time
		candidate   time.Time
		minInterval int
		force       bool
		want        bool
	}{
		{"same issue", last, last, 60, false, false},
		{"same issue without interval", last, last, 0, false, true},
		{"zero interval", last, last.Add(time.Minute), 0, false, true},
		{"within slack", last, last.Add(58 * time.Minute), 60, false, false},
		{"just past slack", last, last.Add(59 * time.Minute), 60, false, true},
		{"rounded up", last, last.Add(58*time.Minute + 31*time.Second), 60, false, true},
		{"rounded down", last, last.Add(58*time.Minute + 29*time.Second), 60, false, false},
		{"forced", last, last, 60, true, true},
		{"never stored", storage.SentinelIssueTime, last, 360, false, true},
	}
	for _, tt := range tests {
		if got := Due(tt.last, tt.candidate, tt.minInterval, tt.force); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestDueIsMonotonic(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for interval := 0; interval <= 120; interval += 15 {
		due := false
		for m := 0; m <= 180; m++ {
			d := Due(last, last.Add(time.Duration(m)*time.Minute), interval, false)
			if due && !d {
				t.Fatalf("interval %d: due at an earlier candidate but not at +%d minutes", interval, m)
			}
			due = d
		}
	}
}

type issueSource struct {
	last time.Time
	err  error
}

func (s issueSource) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	return s.last, s.err
}

func TestShouldFetch(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &Reconciler{source: issueSource{last: last}, last: make(map[string]time.Time)}

	due, err := r.ShouldFetch(context.Background(), "dwd", last.Add(30*time.Minute), 60, false)
	if err != nil || due {
		t.Errorf("expected not due, got %v %v", due, err)
	}
	due, err = r.ShouldFetch(context.Background(), "dwd", last.Add(30*time.Minute), 60, true)
	if err != nil || !due {
		t.Errorf("expected forced fetch, got %v %v", due, err)
	}

	r = &Reconciler{source: issueSource{err: errors.New("unreachable")}, last: make(map[string]time.Time)}
	if _, err := r.ShouldFetch(context.Background(), "dwd", last, 60, false); err == nil {
		t.Error("expected error from unreachable backend, got nil")
	}
}

func TestShouldFetchUsesOldestBackend(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	fresh := newMemRepo("database")
	fresh.last["dwd"] = last
	lagging := newMemRepo("influx")
	lagging.last["dwd"] = last.Add(-6 * time.Hour)

	r := NewReconciler(storage.Repositories{fresh, lagging})
	due, err := r.ShouldFetch(context.Background(), "dwd", last.Add(time.Hour), 360, false)
	if err != nil || !due {
		t.Errorf("expected lagging backend to make the fetch due, got %v %v", due, err)
	}

	due, err = NewReconciler(nil).ShouldFetch(context.Background(), "dwd", last, 360, false)
	if err != nil || !due {
		t.Errorf("expected due without repositories, got %v %v", due, err)
	}
}

type countingSource struct {
	last  time.Time
	reads int
}

func (s *countingSource) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	s.reads++
	return s.last, nil
}

func TestReconcilerReadsLastIssueTimeOnce(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	src := &countingSource{last: last}
	r := &Reconciler{source: src, last: make(map[string]time.Time)}
	ctx := context.Background()

	if due, _ := r.ShouldFetch(ctx, "vc", last.Add(30*time.Minute), 60, false); due {
		t.Error("expected wall clock candidate not due")
	}
	if due, _ := r.ShouldFetch(ctx, "vc", last.Add(time.Hour), 60, false); !due {
		t.Error("expected reported issue time due")
	}
	if src.reads != 1 {
		t.Errorf("expected a single read, got %d", src.reads)
	}
}
