// Package monitor holds the monitor descriptor, its mutable runtime state,
// and the polling/aggregation kernel that drives both. A monitor is any
// value implementing Collector; the kernel doesn't care whether that value
// is a compiled-in type (internal/builtin) or a declarative external
// monitor (internal/loader).
package monitor

import (
	"context"
	"sync"
	"time"
)

// Kind distinguishes the two alert-evaluation shapes spec.md §4.3 defines.
// Log monitors report data but carry no flop-protected alert state.
type Kind string

const (
	KindUsage  Kind = "usage"
	KindStatus Kind = "status"
	KindLog    Kind = "log"
)

// Descriptor is the immutable description of a monitor, set once at load
// time (spec.md §3). Sources lists every source name the monitor reports;
// SourceOrder preserves declaration order for deterministic aggregation
// payloads since Go maps don't.
type Descriptor struct {
	UID                string
	Name               string
	Kind               Kind
	Sources            map[string]struct{}
	SourceOrder        []string
	Importance         int
	PollInterval       time.Duration
	AggregationInterval time.Duration
	FlopThreshold      int
	PullsProcesses     bool
}

// HasSource reports whether name is one of the sources this monitor reports.
func (d Descriptor) HasSource(name string) bool {
	_, ok := d.Sources[name]
	return ok
}

// Datapoint is one reading: a value per source, taken at Timestamp, covering
// the Interval seconds preceding it. Value types vary by monitor kind
// (float64 for usage, string for status) so the map holds `any`.
type Datapoint struct {
	Values    map[string]any
	Timestamp time.Time
	Interval  time.Duration
}

// sourceState tracks one source's flop-protection counters and latched
// status independently of any other source on the same monitor.
type sourceState struct {
	counters alertCounters
	status   bool
}

// alertCounters mirrors alert.Counters without importing internal/alert,
// keeping this package free of any dependency on the alert evaluation
// rules it drives.
type alertCounters struct {
	Failing int
	Passing int
}

// RuntimeState is the mutable, mutex-guarded state the kernel maintains for
// a single running monitor instance: its expected values, the rolling
// buffer of datapoints awaiting aggregation, and per-source alert counters
// and latched status.
type RuntimeState struct {
	mu sync.RWMutex

	expectedValues map[string]any
	dataPoints     []Datapoint
	sources        map[string]*sourceState
	liveStreams    int // count of active live-stream subscribers, for PollingMixin-style gating
}

// NewRuntimeState creates an empty RuntimeState for a monitor with the given
// source names.
func NewRuntimeState(sourceNames []string) *RuntimeState {
	sources := make(map[string]*sourceState, len(sourceNames))
	for _, name := range sourceNames {
		sources[name] = &sourceState{}
	}
	return &RuntimeState{
		expectedValues: make(map[string]any),
		sources:        sources,
	}
}

// SetExpected sets the expected value (threshold float64, or expected
// status string) for a source.
func (s *RuntimeState) SetExpected(source string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedValues[source] = value
}

// Expected returns the configured expected value for a source, if any.
func (s *RuntimeState) Expected(source string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.expectedValues[source]
	return v, ok
}

// Counters returns the current flop-protection counters and latched status
// for a source.
func (s *RuntimeState) Counters(source string) (failing, passing int, status bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sources[source]
	if !ok {
		return 0, 0, false
	}
	return st.counters.Failing, st.counters.Passing, st.status
}

// SetCounters updates the flop-protection counters and latched status for a
// source after an alert evaluation.
func (s *RuntimeState) SetCounters(source string, failing, passing int, status bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sources[source]
	if !ok {
		st = &sourceState{}
		s.sources[source] = st
	}
	st.counters = alertCounters{Failing: failing, Passing: passing}
	st.status = status
}

// Append records a new datapoint in the rolling buffer.
func (s *RuntimeState) Append(dp Datapoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataPoints = append(s.dataPoints, dp)
}

// Merge returns every stored datapoint at or after earliest, matching
// merge_data's "throw out anything too old" behavior.
func (s *RuntimeState) Merge(earliest time.Time) []Datapoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Datapoint, 0, len(s.dataPoints))
	for _, dp := range s.dataPoints {
		if !dp.Timestamp.Before(earliest) {
			out = append(out, dp)
		}
	}
	return out
}

// Clear empties the datapoint buffer. Called after a successful aggregation
// send so the next window starts fresh.
func (s *RuntimeState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataPoints = nil
}

// AddLiveStream and RemoveLiveStream track whether any live-stream
// subscriber is currently attached, so the polling loop knows whether to
// fan out per-poll data (spec.md §4.6).
func (s *RuntimeState) AddLiveStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveStreams++
}

func (s *RuntimeState) RemoveLiveStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveStreams > 0 {
		s.liveStreams--
	}
}

func (s *RuntimeState) HasLiveStreams() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveStreams > 0
}

// Collector is the capability every monitor, built-in or external, must
// implement: a single poll that returns the current reading for every
// source it declares.
type Collector interface {
	Descriptor() Descriptor
	Collect(ctx context.Context) (map[string]any, error)
}

// ProcessSnapshotCapable is implemented by monitors that can attach a
// process listing to an emitted alert (spec.md §4.3's optional Processes
// field). The resource monitor implements this; the process-usage and
// simple status monitors don't.
type ProcessSnapshotCapable interface {
	ProcessSnapshot() (any, error)
}

// ExtraAlertDataCapable is implemented by monitors that can attach
// additional diagnostic context to an emitted alert beyond the bare
// current/threshold values.
type ExtraAlertDataCapable interface {
	ExtraAlertData(source string) (map[string]any, error)
}
