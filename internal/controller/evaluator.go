package controller

import (
	"github.com/nmslite/sentrymon/internal/alert"
	"github.com/nmslite/sentrymon/internal/monitor"
)

// usageEvaluator adapts internal/alert.EvaluateUsage to the shape
// internal/monitor.Kernel expects, keeping the kernel itself free of any
// dependency on the alert package (spec.md §9's capability-composition
// note; see internal/monitor/kernel.go's AlertEvaluator doc).
func usageEvaluator(expected, current any, failing, passing int, status bool, flopThreshold int) (int, int, bool, bool, bool) {
	var threshold *float64
	if expected != nil {
		v := expected.(float64)
		threshold = &v
	}
	cur, _ := current.(float64)
	out := alert.EvaluateUsage(threshold, cur, alert.Counters{Failing: failing, Passing: passing}, status, flopThreshold)
	return out.Counters.Failing, out.Counters.Passing, out.Status, out.Emit, out.EmitFailing
}

// statusEvaluator adapts internal/alert.EvaluateStatus the same way, for
// status-kind monitors.
func statusEvaluator(expected, current any, failing, passing int, status bool, flopThreshold int) (int, int, bool, bool, bool) {
	var exp *string
	if expected != nil {
		v := expected.(string)
		exp = &v
	}
	cur, _ := current.(string)
	out := alert.EvaluateStatus(exp, cur, alert.Counters{Failing: failing, Passing: passing}, status, flopThreshold)
	return out.Counters.Failing, out.Counters.Passing, out.Status, out.Emit, out.EmitFailing
}

// evaluatorFor picks the right evaluation rule for a monitor kind. Log
// monitors carry no flop-protected alert state (spec.md §4.2's kernel
// doc), so they get a nil evaluator and the kernel simply skips alert
// checking for them.
func evaluatorFor(kind monitor.Kind) monitor.AlertEvaluator {
	switch kind {
	case monitor.KindUsage:
		return usageEvaluator
	case monitor.KindStatus:
		return statusEvaluator
	default:
		return nil
	}
}
