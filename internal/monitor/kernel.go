package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmslite/sentrymon/internal/clock"
)

// AlertSink receives an emitted alert. The kernel never talks to the bus
// directly; the controller wires a sink that publishes onto it.
type AlertSink func(ctx context.Context, monitorUID string, desc Descriptor, source string, failing bool, threshold, current any, extra map[string]any, processes any)

// ReportSink receives an aggregated report ready to publish (spec.md §4.2).
type ReportSink func(ctx context.Context, monitorUID string, desc Descriptor, windowEnd time.Time, merged map[string][]Datapoint)

// LiveSink receives a single poll's raw reading for fan-out to live-stream
// subscribers (spec.md §4.6). It is only called when the monitor has at
// least one active subscriber.
type LiveSink func(monitorUID string, source string, value any, timestamp time.Time)

// AlertEvaluator evaluates one source's reading against its expectation and
// current counters, returning whether to emit and the next counter/status
// state. internal/alert.EvaluateUsage / EvaluateStatus satisfy this; the
// kernel is generic over the evaluation rule so it never imports
// internal/alert directly, avoiding a needless package coupling.
type AlertEvaluator func(expected any, current any, failing, passing int, status bool, flopThreshold int) (newFailing, newPassing int, newStatus, emit, emitFailing bool)

// Kernel runs the polling and aggregation loops for one monitor instance.
type Kernel struct {
	Desc      Descriptor
	Collector Collector
	State     *RuntimeState
	Evaluator AlertEvaluator

	Alerts  AlertSink
	Reports ReportSink
	Live    LiveSink

	logger *slog.Logger
}

// New constructs a Kernel. logger may be nil, in which case slog.Default is
// used.
func New(desc Descriptor, collector Collector, state *RuntimeState, eval AlertEvaluator, logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{
		Desc:      desc,
		Collector: collector,
		State:     state,
		Evaluator: eval,
		logger:    logger.With("monitor", desc.Name, "uid", desc.UID),
	}
}

// Register schedules this monitor's polling loop, and, for usage and status
// monitors, its aggregation loop, onto sched. It returns the poll handle
// only; the aggregation task's handle is not kept, so canceling the
// returned handle stops polling but not aggregation.
func (k *Kernel) Register(sched *clock.Scheduler) *clock.Handle {
	pollKey := "poll:" + k.Desc.UID

	pollHandle := sched.Every(pollKey, k.Desc.PollInterval, k.poll)

	if k.Desc.Kind != KindLog {
		delay := k.nextAggregationDelay(time.Now())
		sched.EveryAfter("aggregate:"+k.Desc.UID, delay, k.Desc.AggregationInterval, k.aggregate)
	}

	return pollHandle
}

// poll runs one collection cycle: gather data, store it, run the per-source
// alert check, and fan it out to any live-stream subscriber.
func (k *Kernel) poll(ctx context.Context) error {
	values, err := k.Collector.Collect(ctx)
	if err != nil {
		k.logger.Warn("collect failed", "error", err)
		return fmt.Errorf("collect %s: %w", k.Desc.Name, err)
	}

	if err := k.validateSources(values); err != nil {
		return err
	}

	now := time.Now()
	k.State.Append(Datapoint{Values: values, Timestamp: now, Interval: k.Desc.PollInterval})

	if k.Evaluator != nil {
		k.checkAlerts(ctx, values)
	}

	if k.Live != nil && k.State.HasLiveStreams() {
		for _, source := range k.Desc.SourceOrder {
			if v, ok := values[source]; ok {
				k.Live(k.Desc.UID, source, v, now)
			}
		}
	}

	return nil
}

// validateSources requires the poll result to report exactly the declared
// source set, matching store_data_point's strict AttributeError check.
func (k *Kernel) validateSources(values map[string]any) error {
	if len(values) != len(k.Desc.Sources) {
		return fmt.Errorf("monitor %s: expected %d sources, got %d", k.Desc.Name, len(k.Desc.Sources), len(values))
	}
	for name := range values {
		if !k.Desc.HasSource(name) {
			return fmt.Errorf("monitor %s: unexpected source %q in collected data", k.Desc.Name, name)
		}
	}
	return nil
}

func (k *Kernel) checkAlerts(ctx context.Context, values map[string]any) {
	for _, source := range k.Desc.SourceOrder {
		current, ok := values[source]
		if !ok {
			continue
		}
		expected, hasExpected := k.State.Expected(source)
		failing, passing, status := k.State.Counters(source)

		var expectedArg any
		if hasExpected {
			expectedArg = expected
		}

		newFailing, newPassing, newStatus, emit, emitFailing := k.Evaluator(expectedArg, current, failing, passing, status, k.Desc.FlopThreshold)
		k.State.SetCounters(source, newFailing, newPassing, newStatus)

		if emit && k.Alerts != nil {
			var extra map[string]any
			if cap, ok := k.Collector.(ExtraAlertDataCapable); ok {
				if e, err := cap.ExtraAlertData(source); err == nil {
					extra = e
				} else {
					k.logger.Warn("extra alert data failed", "source", source, "error", err)
				}
			}
			var processes any
			if k.Desc.PullsProcesses {
				if cap, ok := k.Collector.(ProcessSnapshotCapable); ok {
					if p, err := cap.ProcessSnapshot(); err == nil {
						processes = p
					} else {
						k.logger.Warn("process snapshot failed", "source", source, "error", err)
					}
				}
			}
			k.Alerts(ctx, k.Desc.UID, k.Desc, source, emitFailing, expectedArg, current, extra, processes)
		}
	}
}

// aggregate merges the datapoint buffer into the current window and hands
// it to the report sink, then clears the buffer for the next window.
func (k *Kernel) aggregate(ctx context.Context) error {
	now := time.Now()
	earliest := earliestBound(now, k.Desc.AggregationInterval)
	merged := mergeGrouped(k.State, k.Desc, earliest)

	if k.Reports != nil {
		k.Reports(ctx, k.Desc.UID, k.Desc, now, merged)
	}

	k.State.Clear()
	return nil
}

// mergeGrouped reshapes every buffered datapoint at or after earliest into
// a per-source slice, preserving insertion order within each source, as
// spec.md §4.2 step 2 describes.
func mergeGrouped(state *RuntimeState, desc Descriptor, earliest time.Time) map[string][]Datapoint {
	points := state.Merge(earliest)
	merged := make(map[string][]Datapoint)
	for _, dp := range points {
		for _, source := range desc.SourceOrder {
			if _, ok := dp.Values[source]; ok {
				merged[source] = append(merged[source], Datapoint{
					Values:    map[string]any{source: dp.Values[source]},
					Timestamp: dp.Timestamp,
					Interval:  dp.Interval,
				})
			}
		}
	}
	return merged
}

// Snapshot returns the current not-yet-flushed buffer, grouped by source,
// for the live-stream bootstrap frame (spec.md §4.4): unlike aggregate's
// window, every buffered point counts regardless of age, since nothing has
// been flushed out from under it yet.
func (k *Kernel) Snapshot() map[string][]Datapoint {
	return mergeGrouped(k.State, k.Desc, time.Time{})
}

// earliestBound computes the earliest timestamp a datapoint must carry to
// be included in the aggregation window ending at now, for a monitor whose
// aggregation period is interval. This generalizes the wall-clock-aligned
// "last 30 minutes" formula in send_data to an arbitrary interval: it
// subtracts one full interval, plus however far into the current interval
// now already sits, so the window always closes on an interval-aligned
// boundary regardless of when aggregate() actually fires.
func earliestBound(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	secondsIntoPeriod := time.Duration(now.Unix()%int64(interval.Seconds())) * time.Second
	return now.Add(-interval).Add(-secondsIntoPeriod)
}

// nextAggregationDelay computes the delay until the next wall-clock
// interval boundary, mirroring IntervalMixin.next_interval: aggregation
// always lands on a boundary aligned to the start of the day, not on an
// arbitrary offset from process start.
func (k *Kernel) nextAggregationDelay(now time.Time) time.Duration {
	interval := k.Desc.AggregationInterval
	if interval <= 0 {
		return 0
	}
	secondsPassed := time.Duration(now.Unix()%int64(interval.Seconds())) * time.Second
	return interval - secondsPassed
}
