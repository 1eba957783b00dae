package alert

import "testing"

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

// S1: a usage monitor crosses its threshold and stays there long enough to
// latch a failing alert.
func TestUsageThresholdCrossedLatchesAfterFlopThreshold(t *testing.T) {
	threshold := f64(90)
	counters := Counters{}
	status := false

	for i := 0; i < 5; i++ {
		out := EvaluateUsage(threshold, 95, counters, status, 6)
		if out.Emit {
			t.Fatalf("tick %d: emitted before flop threshold reached", i)
		}
		counters, status = out.Counters, out.Status
	}
	if counters.Failing != 5 {
		t.Fatalf("expected failing counter at 5, got %+v", counters)
	}

	out := EvaluateUsage(threshold, 95, counters, status, 6)
	if !out.Emit || !out.Status || !out.EmitFailing {
		t.Fatalf("expected latch+emit on 6th consecutive failing tick, got %+v", out)
	}
	if out.Counters != (Counters{}) {
		t.Fatalf("expected counters reset after emit, got %+v", out.Counters)
	}
}

// S2: a single good reading in the middle of a run of bad ones resets the
// failing counter to zero instead of merely decrementing it (flop
// suppression — spec.md §8 property 1).
func TestSingleGoodReadingResetsFailingCounter(t *testing.T) {
	threshold := f64(90)
	counters := Counters{}
	status := false

	for i := 0; i < 4; i++ {
		out := EvaluateUsage(threshold, 95, counters, status, 6)
		counters, status = out.Counters, out.Status
	}
	if counters.Failing != 4 {
		t.Fatalf("expected failing=4 before flop, got %+v", counters)
	}

	out := EvaluateUsage(threshold, 10, counters, status, 6)
	if out.Emit {
		t.Fatal("a single passing reading must never itself emit an alert")
	}
	if out.Counters.Failing != 0 {
		t.Fatalf("expected failing counter reset to 0 after a passing reading, got %+v", out.Counters)
	}
	if out.Counters.Passing != 0 {
		t.Fatalf("expected passing counter to stay at 0 while not alerting, got %+v", out.Counters)
	}
}

// S3: once latched, a monitor recovers only after flopThreshold consecutive
// passing readings, and emits a non-failing alert on recovery.
func TestRecoveryEmitsAfterConsecutivePassingReadings(t *testing.T) {
	threshold := f64(90)
	counters := Counters{}
	status := true // currently alerting

	for i := 0; i < 5; i++ {
		out := EvaluateUsage(threshold, 10, counters, status, 6)
		if out.Emit {
			t.Fatalf("tick %d: emitted before recovery flop threshold reached", i)
		}
		counters, status = out.Counters, out.Status
	}

	out := EvaluateUsage(threshold, 10, counters, status, 6)
	if !out.Emit || out.Status || out.EmitFailing {
		t.Fatalf("expected recovery emit with failing=false, got %+v", out)
	}
}

// Property: a reading with no configured expectation always resets both
// counters and never emits, regardless of flop threshold or current status.
func TestNoThresholdResetsBothCountersAndNeverEmits(t *testing.T) {
	out := EvaluateUsage(nil, 99, Counters{Failing: 3, Passing: 0}, false, 6)
	if out.Emit {
		t.Fatal("unexpected emit with no threshold configured")
	}
	if out.Counters != (Counters{}) {
		t.Fatalf("expected both counters reset when no threshold is set, got %+v", out.Counters)
	}
}

func TestStatusMonitorMismatchLatchesAndRecovers(t *testing.T) {
	expected := str("running")
	counters := Counters{}
	status := false

	for i := 0; i < 5; i++ {
		out := EvaluateStatus(expected, "stopped", counters, status, 6)
		counters, status = out.Counters, out.Status
	}
	out := EvaluateStatus(expected, "stopped", counters, status, 6)
	if !out.Emit || !out.Status {
		t.Fatalf("expected status monitor to latch on 6th mismatch, got %+v", out)
	}

	counters, status = out.Counters, out.Status
	for i := 0; i < 5; i++ {
		out = EvaluateStatus(expected, "running", counters, status, 6)
		counters, status = out.Counters, out.Status
	}
	out = EvaluateStatus(expected, "running", counters, status, 6)
	if !out.Emit || out.Status {
		t.Fatalf("expected status monitor to recover on 6th match, got %+v", out)
	}
}

func TestAmbiguousDirectionResetsCountersWithoutEmitting(t *testing.T) {
	threshold := f64(90)
	// Currently neither alerting, with some accumulated passing progress,
	// and a reading that is itself below threshold: falls through the
	// default branch (neither crossing condition applies) and both
	// counters reset, as the engine does for every non-crossing reading.
	out := EvaluateUsage(threshold, 10, Counters{Failing: 0, Passing: 3}, false, 6)
	if out.Emit {
		t.Fatal("unexpected emit")
	}
	if out.Counters != (Counters{}) {
		t.Fatalf("expected counters reset on the non-crossing default branch, got %+v", out.Counters)
	}
}
