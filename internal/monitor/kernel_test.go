package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/nmslite/sentrymon/internal/alert"
)

// usageEvaluator adapts internal/alert's usage rule to the kernel's
// AlertEvaluator shape used by tests; the real wiring lives in the
// controller package.
func usageEvaluator(expected, current any, failing, passing int, status bool, flopThreshold int) (int, int, bool, bool, bool) {
	var threshold *float64
	if expected != nil {
		v := expected.(float64)
		threshold = &v
	}
	out := alert.EvaluateUsage(threshold, current.(float64), alert.Counters{Failing: failing, Passing: passing}, status, flopThreshold)
	return out.Counters.Failing, out.Counters.Passing, out.Status, out.Emit, out.EmitFailing
}

type fakeCollector struct {
	desc Descriptor
	next func() map[string]any
}

func (f *fakeCollector) Descriptor() Descriptor { return f.desc }
func (f *fakeCollector) Collect(ctx context.Context) (map[string]any, error) {
	return f.next(), nil
}

func newTestDescriptor() Descriptor {
	return Descriptor{
		UID:                 "m-1",
		Name:                "cpu",
		Kind:                KindUsage,
		Sources:             map[string]struct{}{"cpu": {}},
		SourceOrder:         []string{"cpu"},
		PollInterval:        time.Second,
		AggregationInterval: 30 * time.Minute,
		FlopThreshold:       6,
	}
}

func TestPollRejectsMismatchedSources(t *testing.T) {
	desc := newTestDescriptor()
	state := NewRuntimeState([]string{"cpu"})
	coll := &fakeCollector{desc: desc, next: func() map[string]any {
		return map[string]any{"cpu": 1.0, "extra": 2.0}
	}}
	k := New(desc, coll, state, usageEvaluator, nil)

	if err := k.poll(context.Background()); err == nil {
		t.Fatal("expected error for unexpected source in collected data")
	}
}

func TestPollStoresDatapointAndEvaluatesAlert(t *testing.T) {
	desc := newTestDescriptor()
	state := NewRuntimeState([]string{"cpu"})
	state.SetExpected("cpu", 90.0)

	coll := &fakeCollector{desc: desc, next: func() map[string]any {
		return map[string]any{"cpu": 95.0}
	}}

	var emitted int
	k := New(desc, coll, state, usageEvaluator, nil)
	k.Alerts = func(ctx context.Context, uid string, d Descriptor, source string, failing bool, threshold, current any, extra map[string]any, processes any) {
		emitted++
	}

	for i := 0; i < 6; i++ {
		if err := k.poll(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	if emitted != 1 {
		t.Fatalf("expected exactly 1 emitted alert after 6 consecutive failing polls, got %d", emitted)
	}

	merged := state.Merge(time.Time{})
	if len(merged) != 6 {
		t.Fatalf("expected 6 buffered datapoints, got %d", len(merged))
	}
}

func TestAggregateClearsBufferAndReportsWindow(t *testing.T) {
	desc := newTestDescriptor()
	state := NewRuntimeState([]string{"cpu"})
	coll := &fakeCollector{desc: desc, next: func() map[string]any { return map[string]any{"cpu": 1.0} }}

	var gotSources []string
	k := New(desc, coll, state, usageEvaluator, nil)
	k.Reports = func(ctx context.Context, uid string, d Descriptor, windowEnd time.Time, merged map[string][]Datapoint) {
		for source := range merged {
			gotSources = append(gotSources, source)
		}
	}

	state.Append(Datapoint{Values: map[string]any{"cpu": 50.0}, Timestamp: time.Now(), Interval: time.Second})

	if err := k.aggregate(context.Background()); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(gotSources) != 1 || gotSources[0] != "cpu" {
		t.Fatalf("expected report for source cpu, got %v", gotSources)
	}
	if remaining := state.Merge(time.Time{}); len(remaining) != 0 {
		t.Fatalf("expected buffer cleared after aggregate, got %d points", len(remaining))
	}
}

// S4: a datapoint recorded just before the aggregation window's earliest
// bound must not appear in the merged window, while one recorded just
// after it must.
func TestEarliestBoundExcludesDataOlderThanOneWindow(t *testing.T) {
	interval := 30 * time.Minute
	now := time.Date(2026, 7, 31, 14, 5, 0, 0, time.UTC)

	bound := earliestBound(now, interval)

	// now is 5 minutes into the current 30-minute wall-clock period
	// (14:00-14:30), so the window should reach back to one full interval
	// before now minus that 5-minute offset: 14:05 - 30m - 5m = 13:30.
	want := time.Date(2026, 7, 31, 13, 30, 0, 0, time.UTC)
	if !bound.Equal(want) {
		t.Fatalf("earliestBound = %v, want %v", bound, want)
	}

	state := NewRuntimeState([]string{"cpu"})
	tooOld := Datapoint{Values: map[string]any{"cpu": 1.0}, Timestamp: bound.Add(-time.Second)}
	justIn := Datapoint{Values: map[string]any{"cpu": 2.0}, Timestamp: bound}
	state.Append(tooOld)
	state.Append(justIn)

	merged := state.Merge(bound)
	if len(merged) != 1 {
		t.Fatalf("expected exactly 1 datapoint at or after the bound, got %d", len(merged))
	}
	if merged[0].Timestamp != justIn.Timestamp {
		t.Fatalf("expected the in-window datapoint to survive, got %v", merged[0])
	}
}

func TestNextAggregationDelayAlignsToWallClockBoundary(t *testing.T) {
	desc := newTestDescriptor()
	k := &Kernel{Desc: desc}

	now := time.Date(2026, 7, 31, 14, 5, 0, 0, time.UTC)
	delay := k.nextAggregationDelay(now)

	want := 25 * time.Minute
	if delay != want {
		t.Fatalf("nextAggregationDelay = %v, want %v", delay, want)
	}
}

func TestLiveStreamGatesPollFanout(t *testing.T) {
	desc := newTestDescriptor()
	state := NewRuntimeState([]string{"cpu"})
	coll := &fakeCollector{desc: desc, next: func() map[string]any { return map[string]any{"cpu": 1.0} }}

	var fanoutCount int
	k := New(desc, coll, state, usageEvaluator, nil)
	k.Live = func(uid, source string, value any, ts time.Time) { fanoutCount++ }

	if err := k.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if fanoutCount != 0 {
		t.Fatalf("expected no fanout without a live-stream subscriber, got %d", fanoutCount)
	}

	state.AddLiveStream()
	if err := k.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if fanoutCount != 1 {
		t.Fatalf("expected 1 fanout once a live-stream subscriber is registered, got %d", fanoutCount)
	}

	state.RemoveLiveStream()
	if err := k.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if fanoutCount != 1 {
		t.Fatalf("expected no further fanout once the last subscriber is removed, got %d", fanoutCount)
	}
}
