// Package alert implements the flop-protected alert state machine described
// in spec.md §4.3. It is deliberately stateless: callers own the per-source
// counters and latched status, and pass them in by value on every
// evaluation. This keeps the hard flop-protection arithmetic independent of
// how a monitor stores its runtime state, and lets it be tested (spec.md §8
// properties 1 and 2, scenarios S1-S3) without any scheduler or bus plumbing.
package alert

import "time"

// Counters is the pair of consecutive-confirmation counters spec.md §3
// requires: at most one of the two is nonzero at any instant.
type Counters struct {
	Failing int
	Passing int
}

// Outcome is the result of evaluating one datapoint against one source's
// expectation. Emit is true only on the tick where the flop threshold is
// reached and the latched status actually flips.
type Outcome struct {
	Counters   Counters
	Status     bool // the (possibly unchanged) latched alert_status after this tick
	Emit       bool
	EmitFailing bool // the value to publish in the emitted alert's "failing" field
}

// EvaluateUsage applies spec.md §4.3's usage-monitor rule for a single
// source. threshold is nil when no expected value is set for this source.
func EvaluateUsage(threshold *float64, value float64, current Counters, status bool, flopThreshold int) Outcome {
	if threshold == nil {
		return Outcome{Counters: Counters{}, Status: status}
	}

	switch {
	case value >= *threshold && !status:
		c := Counters{Failing: current.Failing + 1, Passing: 0}
		if c.Failing == flopThreshold {
			return Outcome{Counters: Counters{}, Status: true, Emit: true, EmitFailing: true}
		}
		return Outcome{Counters: c, Status: status}

	case value < *threshold && status:
		c := Counters{Failing: 0, Passing: current.Passing + 1}
		if c.Passing == flopThreshold {
			return Outcome{Counters: Counters{}, Status: false, Emit: true, EmitFailing: false}
		}
		return Outcome{Counters: c, Status: status}

	default:
		return Outcome{Counters: Counters{}, Status: status}
	}
}

// EvaluateStatus applies spec.md §4.3's status-monitor rule: the comparison
// current != expected stands in for usage >= threshold. expected is nil when
// no expectation is set for this source.
func EvaluateStatus(expected *string, current string, counters Counters, status bool, flopThreshold int) Outcome {
	if expected == nil {
		return Outcome{Counters: Counters{}, Status: status}
	}

	switch {
	case current != *expected && !status:
		c := Counters{Failing: counters.Failing + 1, Passing: 0}
		if c.Failing == flopThreshold {
			return Outcome{Counters: Counters{}, Status: true, Emit: true, EmitFailing: true}
		}
		return Outcome{Counters: c, Status: status}

	case current == *expected && status:
		c := Counters{Failing: 0, Passing: counters.Passing + 1}
		if c.Passing == flopThreshold {
			return Outcome{Counters: Counters{}, Status: false, Emit: true, EmitFailing: false}
		}
		return Outcome{Counters: c, Status: status}

	default:
		return Outcome{Counters: Counters{}, Status: status}
	}
}

// Alert is the fully-assembled emission spec.md §4.3 describes. The engine
// never constructs one directly (EvaluateUsage/EvaluateStatus only signal
// that one should be emitted) because attaching EventData and Processes
// requires side-effecting calls (extra_alert_data, a process snapshot) that
// the caller, not this package, is responsible for making.
type Alert struct {
	Timestamp  time.Time
	MonitorID  string
	Monitor    MonitorRef
	Source     string
	Failing    bool
	Threshold  any
	Current    any
	EventData  map[string]any
	Processes  any
}

// MonitorRef is the {id, name, kind, source, source_type} tuple spec.md
// §4.3 attaches to every emitted alert.
type MonitorRef struct {
	ID         string
	Name       string
	Kind       string
	Source     string
	SourceType string
}
