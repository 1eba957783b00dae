// Package dispatcher routes inbound task messages to the monitor kernels,
// live-stream registry, and sysinfo providers they target (spec.md §4.7).
// A Dispatcher never acks a message itself — the bus client already did
// that before handing the body here (spec.md §5's ack-before-effect
// guarantee) — it only ever parses and acts.
//
// Grounded on original_source/hiveary/network.py's task_callback/run_task,
// translated command-for-command.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nmslite/sentrymon/internal/livestream"
	"github.com/nmslite/sentrymon/internal/monitor"
	"github.com/nmslite/sentrymon/internal/sysinfo"
)

// Status values a task response carries (spec.md §4.7).
const (
	StatusSuccess       = "SUCCESS"
	StatusFailure       = "FAILURE"
	StatusNotImplemented = "NOT_IMPLEMENTED"
)

// task is the inbound message shape spec.md §6 defines.
type task struct {
	ID      *string         `json:"id"`
	Command json.RawMessage `json:"command"`
}

type command struct {
	Name       string         `json:"name"`
	Item       string         `json:"item"`
	Monitor    string         `json:"monitor"`
	Expected   map[string]any `json:"expected"`
	Action     string         `json:"action"`
	RoutingKey string         `json:"routing_key"`
	Interface  string         `json:"interface"`
}

// Response is what a handled task produces: a routing key and a JSON-
// serializable body, ready for the bus to publish under task_complete (or
// a rewritten routing key for "refresh", spec.md §4.7).
type Response struct {
	RoutingKey string
	Body       map[string]any
}

// MonitorHandle is what the dispatcher needs from a running monitor to
// apply expected_update and live_data commands, without depending on
// internal/monitor.Kernel directly — the controller supplies the concrete
// binding.
type MonitorHandle struct {
	Descriptor func() monitor.Descriptor
	State      *monitor.RuntimeState
	// MergedBuffer returns the not-yet-flushed buffer for a live_data
	// start's bootstrap frame (spec.md §4.4).
	MergedBuffer func() map[string][]monitor.Datapoint
}

// Publisher is the minimal bus surface a live_data start's sink needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload map[string]any, retry bool) error
}

// Dispatcher routes parsed tasks to the right component (spec.md §4.7).
type Dispatcher struct {
	monitors   map[string]MonitorHandle
	live       *livestream.Registry
	sysinfo    *sysinfo.Registry
	bus        Publisher
	userID     string
	hostID     string
	reportsExchange string

	logger *slog.Logger
}

// New builds a Dispatcher bound to the given monitor handles, live-stream
// registry, sysinfo registry, and bus publisher.
func New(monitors map[string]MonitorHandle, live *livestream.Registry, info *sysinfo.Registry, bus Publisher, userID, hostID, reportsExchange string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		monitors:        monitors,
		live:            live,
		sysinfo:         info,
		bus:             bus,
		userID:          userID,
		hostID:          hostID,
		reportsExchange: reportsExchange,
		logger:          logger.With("component", "dispatcher"),
	}
}

// Handle parses a delivered task body and dispatches it. A parse failure
// is logged and dropped (spec.md §7); it never returns an error the caller
// needs to act on, since the message is already acked.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) *Response {
	var t task
	if err := json.Unmarshal(body, &t); err != nil {
		d.logger.Error("unable to process task", "error", err)
		return nil
	}

	var cmd command
	if len(t.Command) > 0 {
		if err := json.Unmarshal(t.Command, &cmd); err != nil {
			d.logger.Error("unable to process task command", "error", err)
			return nil
		}
	}

	resp := map[string]any{"id": nilableString(t.ID)}
	routingKey := "task_complete"

	switch cmd.Name {
	case "refresh":
		item := cmd.Item
		if item == "" {
			item = "all"
		}
		d.logger.Debug("retrieving information", "item", item)
		routingKey = fmt.Sprintf("%s.%s.%s", d.userID, d.hostID, item)

		info, err := d.sysinfo.Pull(ctx, item)
		if err != nil {
			resp["status"] = StatusFailure
			resp["info"] = err.Error()
		} else {
			resp["info"] = info
			resp["status"] = StatusSuccess
		}

	case "expected_update":
		d.handleExpectedUpdate(cmd)
		// Matches run_task: expected_update never sets a status field or
		// forces a response, since its id may be nil.

	case "live_data":
		d.handleLiveData(ctx, cmd)

	case "com":
		resp["status"] = d.handleCom(cmd, resp)

	default:
		d.logger.Error("unable to perform requested task", "command", cmd.Name)
		resp["status"] = StatusNotImplemented
	}

	if t.ID != nil || routingKey != "task_complete" {
		return &Response{RoutingKey: routingKey, Body: resp}
	}
	return nil
}

func nilableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (d *Dispatcher) handleExpectedUpdate(cmd command) {
	h, ok := d.monitors[cmd.Monitor]
	if !ok {
		d.logger.Warn("monitor is not enabled", "monitor", cmd.Monitor)
		return
	}
	d.logger.Info("received new expected values", "monitor", cmd.Monitor, "expected", cmd.Expected)
	for source, value := range cmd.Expected {
		h.State.SetExpected(source, value)
	}
}

func (d *Dispatcher) handleLiveData(ctx context.Context, cmd command) {
	h, ok := d.monitors[cmd.Monitor]
	if !ok {
		d.logger.Warn("monitor is not enabled", "monitor", cmd.Monitor)
		return
	}

	d.logger.Info("received live_data request", "action", cmd.Action, "monitor", cmd.Monitor)

	switch cmd.Action {
	case "start":
		desc := h.Descriptor()
		merged := h.MergedBuffer()
		h.State.AddLiveStream()

		monitorUID := desc.UID
		sink := func(source string, value any, timestampUnix int64) {
			frame := map[string]any{
				"monitor_id": monitorUID,
				"data":       map[string]any{source: value},
			}
			_ = d.bus.Publish(ctx, d.reportsExchange, cmd.RoutingKey, frame, false)
		}
		d.live.Start(monitorUID, cmd.RoutingKey, sink)

		bootstrap := map[string]any{
			"monitor_id": monitorUID,
			"data":       flattenMerged(merged),
			"interval":   desc.PollInterval.Seconds(),
		}
		_ = d.bus.Publish(ctx, d.reportsExchange, cmd.RoutingKey, bootstrap, false)

	case "stop":
		desc := h.Descriptor()
		d.live.Stop(desc.UID, cmd.RoutingKey)
		h.State.RemoveLiveStream()

	default:
		d.logger.Warn("unknown live_data action", "action", cmd.Action)
	}
}

func flattenMerged(merged map[string][]monitor.Datapoint) map[string]any {
	out := make(map[string]any, len(merged))
	for source, points := range merged {
		values := make([]any, 0, len(points))
		for _, p := range points {
			values = append(values, p.Values[source])
		}
		out[source] = values
	}
	return out
}

// handleCom implements the "com" task: Windows COM host control is an
// external collaborator (spec.md §1); on any other platform it always
// responds FAILURE, matching run_task's current_system check.
func (d *Dispatcher) handleCom(cmd command, resp map[string]any) string {
	if sysinfo.CurrentSystem() != "Windows" {
		d.logger.Error("COM interface is only accessible on Windows systems")
		return StatusFailure
	}
	// No COM execution happens here or anywhere else in the agent: on
	// Windows the request is answered NOT_IMPLEMENTED with an info note,
	// since COM automation is explicitly out of scope (spec.md §1).
	resp["info"] = "com execution is delegated to the platform collaborator"
	return StatusNotImplemented
}
