// Package controller binds every other component at startup in the fixed
// order spec.md §4.8 describes, and propagates shutdown through a single
// cancellable context. Grounded on the teacher's cmd/server/main.go
// sequential init-and-bind shape, replacing its DB/HTTP-API bootstrapping
// with bus bootstrap and monitor loading.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmslite/sentrymon/internal/bus"
	"github.com/nmslite/sentrymon/internal/builtin"
	"github.com/nmslite/sentrymon/internal/clock"
	"github.com/nmslite/sentrymon/internal/config"
	"github.com/nmslite/sentrymon/internal/diag"
	"github.com/nmslite/sentrymon/internal/dispatcher"
	"github.com/nmslite/sentrymon/internal/livestream"
	"github.com/nmslite/sentrymon/internal/loader"
	"github.com/nmslite/sentrymon/internal/monitor"
	"github.com/nmslite/sentrymon/internal/sysinfo"
)

// Daemon is the external collaborator that owns process-lifecycle
// concerns out of scope for the monitor core: PID files, fork/detach,
// service-harness registration (spec.md §1).
type Daemon interface {
	RemovePIDFile() error
}

type noopDaemon struct{}

func (noopDaemon) RemovePIDFile() error { return nil }

// BusConn is everything Controller needs from the bus client, kept as an
// interface so it can be exercised in tests against a fake.
type BusConn interface {
	Publish(ctx context.Context, exchange, routingKey string, payload map[string]any, retry bool) error
	InfoExchange() string
	ReportsExchange() string
	Dial() error
	Drain(ctx context.Context, handler bus.DeliveryHandler) error
	Ping(ctx context.Context) error
	Stop()
}

// Controller owns every long-running component and their shared lifecycle.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger

	signer bus.RequestSigner
	daemon Daemon

	// newBusConn lets tests substitute a fake bus connection; production
	// callers leave it nil and get a real *bus.Client.
	newBusConn func(bus.ClientConfig, *slog.Logger) BusConn

	scheduler  *clock.Scheduler
	live       *livestream.Registry
	sysinfo    *sysinfo.Registry
	busConn    BusConn
	dispatcher *dispatcher.Dispatcher

	monitors map[string]*monitor.Kernel
	hostID   string
	userID   string
}

// New constructs a Controller. daemon may be nil, in which case PID-file
// removal at shutdown is a no-op.
func New(cfg *config.Config, signer bus.RequestSigner, daemon Daemon, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if daemon == nil {
		daemon = noopDaemon{}
	}
	return &Controller{
		cfg:      cfg,
		logger:   logger.With("component", "controller"),
		signer:   signer,
		daemon:   daemon,
		scheduler: clock.New(cfg.Poller.CollectWorkers),
		live:     livestream.New(logger),
		sysinfo:  sysinfo.NewRegistry(),
		monitors: make(map[string]*monitor.Kernel),
		newBusConn: func(cfg bus.ClientConfig, logger *slog.Logger) BusConn {
			return bus.NewClient(cfg, logger)
		},
	}
}

// Run binds every component in spec.md §4.8's fixed order and blocks until
// ctx is canceled or a component fails fatally.
func (c *Controller) Run(ctx context.Context) error {
	sysinfo.RegisterDefaults(c.sysinfo)

	tlsCfg, err := (bus.TransportConfig{CABundlePath: c.cfg.Host.CABundlePath, DisableTLSCheck: c.cfg.Host.DisableTLSCheck}).TLSConfig()
	if err != nil {
		return fmt.Errorf("build tls config: %w", err)
	}

	// 1. Block until the public network is reachable.
	probeClient := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
	if err := bus.EnsureReachable(ctx, probeClient, c.cfg.Bus.ProbeURL, c.cfg.Bus.ProbeTimeout(), c.cfg.Bus.ProbeInterval()); err != nil {
		return err
	}

	// 2. Bootstrap credentials and open the AMQP connection.
	creds, err := bus.Bootstrap(ctx, bus.BootstrapConfig{
		RemoteHost:      c.cfg.Host.RemoteHost,
		Hostname:        c.cfg.Host.Hostname,
		Transport:       bus.TransportConfig{CABundlePath: c.cfg.Host.CABundlePath, DisableTLSCheck: c.cfg.Host.DisableTLSCheck},
		MaxBackoffTries: c.cfg.Bus.MaxBackoffTries,
		ProbeURL:        c.cfg.Bus.ProbeURL,
		ProbeTimeout:    c.cfg.Bus.ProbeTimeout(),
		ProbeInterval:   c.cfg.Bus.ProbeInterval(),
	}, c.signer, c.logger)
	if err != nil {
		return err
	}
	c.userID, c.hostID = creds.UserID, creds.HostID

	client := c.newBusConn(bus.ClientConfig{
		Host:            c.cfg.Host.RemoteHost,
		Port:            c.cfg.Bus.AMQPPort,
		UserID:          creds.UserID,
		Password:        creds.AMQPPassword,
		HostID:          creds.HostID,
		TLS:             tlsCfg,
		PingInterval:    c.cfg.Bus.PingInterval(),
		DrainTimeout:    c.cfg.Bus.DrainTimeout(),
		ProbeURL:        c.cfg.Bus.ProbeURL,
		ProbeTimeout:    c.cfg.Bus.ProbeTimeout(),
		ProbeInterval:   c.cfg.Bus.ProbeInterval(),
		MaxBackoffTries: c.cfg.Bus.MaxBackoffTries,
	}, c.logger)
	if err := client.Dial(); err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	c.busConn = client

	// 3. Load monitors: built-in first, then external .mon files.
	collectors, err := builtin.Default(ctx, builtinCatalogConfig(c.cfg), c.logger)
	if err != nil {
		return fmt.Errorf("load builtin monitors: %w", err)
	}
	externals, err := loader.Discover(ctx, c.cfg.Discovery.ExternalMonitorDir, loader.Defaults{
		PollInterval:        c.cfg.Discovery.DefaultPollInterval(),
		AggregationInterval: c.cfg.Discovery.DefaultAggregationInterval(),
		Importance:          c.cfg.Alert.DefaultImportance,
		FlopThreshold:       c.cfg.Alert.DefaultFlopThreshold,
	}, c.logger)
	if err != nil {
		c.logger.Warn("external monitor discovery failed", "error", err)
	}
	for _, e := range externals {
		collectors = append(collectors, e)
	}

	// 4. For each monitor: register, bind send_alert to the bus publisher,
	// start polling, and schedule the aligned aggregation loop.
	handles := make(map[string]dispatcher.MonitorHandle, len(collectors))
	for _, coll := range collectors {
		desc := coll.Descriptor()
		state := monitor.NewRuntimeState(desc.SourceOrder)
		k := monitor.New(desc, coll, state, evaluatorFor(desc.Kind), c.logger)
		c.wireSinks(k)
		k.Register(c.scheduler)

		c.monitors[desc.UID] = k
		handles[desc.UID] = dispatcher.MonitorHandle{
			Descriptor:   func() monitor.Descriptor { return k.Desc },
			State:        state,
			MergedBuffer: k.Snapshot,
		}
	}

	c.dispatcher = dispatcher.New(handles, c.live, c.sysinfo, c.busConn, c.userID, c.hostID, c.busConn.ReportsExchange(), c.logger)

	// 5. Publish a one-shot startup info dump.
	c.publishStartup(ctx)

	// 6. Schedule the keepalive ping.
	c.scheduler.Every("ping", c.cfg.Bus.PingInterval(), func(ctx context.Context) error {
		return c.busConn.Ping(ctx)
	})

	// 7. Enter the scheduler, alongside the drain loop and diagnostics.
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.busConn.Drain(gctx, c.handleDelivery(gctx))
	})
	if c.cfg.Diag.Enabled {
		group.Go(func() error {
			return diag.Serve(gctx, c.cfg.Diag.Addr, c.snapshotMonitors, c.logger)
		})
	}
	group.Go(func() error {
		return c.scheduler.Run(gctx)
	})

	err = group.Wait()
	c.shutdown()
	return err
}

// builtinCatalogConfig projects the agent config onto the builtin
// package's own config shape, keeping internal/builtin free of any
// dependency on internal/config.
func builtinCatalogConfig(cfg *config.Config) builtin.CatalogConfig {
	devices := make([]builtin.NetworkDeviceSpec, 0, len(cfg.Builtin.NetworkDevices))
	for _, d := range cfg.Builtin.NetworkDevices {
		devices = append(devices, builtin.NetworkDeviceSpec{
			Target:    d.Target,
			Port:      d.Port,
			Community: d.Community,
			Timeout:   d.Timeout(),
		})
	}
	var remoteAuthLog *builtin.RemoteAuthLogSpec
	if cfg.Builtin.RemoteAuthLog.Enabled {
		remoteAuthLog = &builtin.RemoteAuthLogSpec{
			Addr:     cfg.Builtin.RemoteAuthLog.Addr,
			User:     cfg.Builtin.RemoteAuthLog.User,
			Password: cfg.Builtin.RemoteAuthLog.Password,
		}
	}
	return builtin.CatalogConfig{
		Disks:         cfg.Builtin.Disks,
		EnableProcess: cfg.Builtin.EnableProcess,
		EnableService: cfg.Builtin.EnableService,
		ServiceFamily: cfg.Builtin.ServiceFamily,
		WinRMService: builtin.WinRMServiceConfig{
			Target:   cfg.Builtin.WinRMService.Target,
			Port:     cfg.Builtin.WinRMService.Port,
			Username: cfg.Builtin.WinRMService.Username,
			Password: cfg.Builtin.WinRMService.Password,
			Domain:   cfg.Builtin.WinRMService.Domain,
			UseHTTPS: cfg.Builtin.WinRMService.UseHTTPS,
		},
		EnableAuthLog:  cfg.Builtin.EnableAuthLog,
		AuthLogPath:    cfg.Builtin.AuthLogPath,
		RemoteAuthLog:  remoteAuthLog,
		NetworkDevices: devices,
	}
}

// wireSinks binds a freshly constructed kernel's AlertSink, ReportSink,
// and LiveSink to bus publishes, the only place in the agent where a
// monitor's output becomes an outbound message (spec.md §4.8 step 4).
func (c *Controller) wireSinks(k *monitor.Kernel) {
	k.Alerts = func(ctx context.Context, monitorUID string, desc monitor.Descriptor, source string, failing bool, threshold, current any, extra map[string]any, processes any) {
		payload := map[string]any{
			"monitor": map[string]any{
				"id":     monitorUID,
				"name":   desc.Name,
				"kind":   string(desc.Kind),
				"source": source,
			},
			"failing": failing,
		}
		if threshold != nil {
			payload["threshold"] = threshold
		}
		payload["current"] = current
		if extra != nil {
			payload["event_data"] = extra
		}
		if processes != nil {
			payload["current_processes"] = processes
		}
		if err := c.busConn.Publish(ctx, c.busConn.InfoExchange(), bus.RoutingKeyAlert, payload, true); err != nil {
			c.logger.Error("failed to publish alert", "monitor", monitorUID, "source", source, "error", err)
		}
	}

	k.Reports = func(ctx context.Context, monitorUID string, desc monitor.Descriptor, windowEnd time.Time, merged map[string][]monitor.Datapoint) {
		if len(merged) == 0 {
			return
		}
		data := make(map[string]any, len(merged))
		for source, points := range merged {
			values := make([]any, 0, len(points))
			for _, p := range points {
				values = append(values, map[string]any{
					"value":     p.Values[source],
					"timestamp": p.Timestamp.UTC().Unix(),
				})
			}
			data[source] = values
		}
		payload := map[string]any{
			"monitor_id": monitorUID,
			"data":       data,
		}
		if err := c.busConn.Publish(ctx, c.busConn.InfoExchange(), string(desc.Kind), payload, true); err != nil {
			c.logger.Error("failed to publish report", "monitor", monitorUID, "error", err)
		}
	}

	k.Live = func(monitorUID string, source string, value any, timestamp time.Time) {
		c.live.Publish(monitorUID, source, value, timestamp.UTC().Unix())
	}
}

// publishStartup sends the one-shot host inventory + monitor descriptor
// dump spec.md §4.8 step 5 describes. A failure here is logged, not
// fatal: the agent still has useful work to do even if the control plane
// misses this one message.
func (c *Controller) publishStartup(ctx context.Context) {
	descs := make([]map[string]any, 0, len(c.monitors))
	for uid, k := range c.monitors {
		desc := k.Desc
		descs = append(descs, map[string]any{
			"id":     uid,
			"name":   desc.Name,
			"kind":   string(desc.Kind),
			"sources": desc.SourceOrder,
		})
	}

	inventory, err := c.sysinfo.Pull(ctx, "all")
	if err != nil {
		c.logger.Warn("startup inventory pull failed", "error", err)
		inventory = map[string]any{}
	}

	payload := map[string]any{
		"monitors":  descs,
		"inventory": inventory,
	}
	if err := c.busConn.Publish(ctx, c.busConn.InfoExchange(), bus.RoutingKeyStartup, payload, true); err != nil {
		c.logger.Error("failed to publish startup dump", "error", err)
	}
}

// snapshotMonitors backs the diagnostics server's /monitors endpoint.
func (c *Controller) snapshotMonitors() map[string]any {
	out := make(map[string]any, len(c.monitors))
	for uid, k := range c.monitors {
		out[uid] = k.Snapshot()
	}
	return out
}

// handleDelivery parses and dispatches one inbound task body, publishing
// its response (if any) back onto the bus.
func (c *Controller) handleDelivery(ctx context.Context) bus.DeliveryHandler {
	return func(body []byte) {
		resp := c.dispatcher.Handle(ctx, body)
		if resp == nil {
			return
		}
		if err := c.busConn.Publish(ctx, c.busConn.InfoExchange(), resp.RoutingKey, resp.Body, true); err != nil {
			c.logger.Error("failed to publish task response", "error", err)
			return
		}
		c.logger.Info("sent task completion to server", "routing_key", resp.RoutingKey)
	}
}

// shutdown marks the bus stopping and releases it, and removes the PID
// file via the external daemon collaborator (spec.md §4.8).
func (c *Controller) shutdown() {
	if c.busConn != nil {
		c.busConn.Stop()
	}
	if err := c.daemon.RemovePIDFile(); err != nil {
		c.logger.Warn("failed to remove pid file", "error", err)
	}
}
