// Command uavmesh is the single binary a systemd unit or a ground-station
// launcher starts once per physical node (SPEC_FULL.md §1.1): it reads
// its NodeConfig once at startup, then runs the fixed set of long-lived
// component goroutines until told to stop.
package main

import (
	"bufio"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/n0remac/uavmesh/internal/config"
	"github.com/n0remac/uavmesh/internal/dsr"
	"github.com/n0remac/uavmesh/internal/live"
	"github.com/n0remac/uavmesh/internal/metrics"
	"github.com/n0remac/uavmesh/internal/neighbor"
	"github.com/n0remac/uavmesh/internal/report"
	"github.com/n0remac/uavmesh/internal/sdn"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/topo"
	"github.com/n0remac/uavmesh/internal/video"
	"github.com/n0remac/uavmesh/internal/wire"
)

// metricsInterval is how often tickMetrics refreshes the admin gauges.
const metricsInterval = 5 * time.Second

func main() {
	configPath := pflag.String("config", "", "path to the NodeConfig key=value file")
	logLevel := pflag.String("log-level", "info", "logrus level: debug, info, warn, error")
	adminAddr := pflag.String("admin-addr", metrics.DefaultAddr, "admin/metrics bind address")
	pflag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("uavmesh: invalid -log-level")
	}
	log.SetLevel(level)

	if *configPath == "" {
		log.Fatal("uavmesh: -config is required")
	}
	cfg, err := config.Load(*configPath, log)
	if err != nil {
		log.WithError(err).Fatal("uavmesh: loading config")
	}
	role := cfg.Role()
	nodeLog := log.WithField("node", cfg.MyIP.String()).WithField("role", role.String())
	nodeLog.Info("uavmesh: starting")

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsRegistry := metrics.New(reg)
	adminSrv := metrics.NewServer(*adminAddr, reg, nodeLog.WithField("component", "admin"))

	group := supervise.NewGroup(nodeLog)

	// 4. DSR resolver + listener share one RouteTable/wait-map over the
	// DSR UDP port (spec.md §4.4, §4.5).
	dsrConn, err := dsr.Listen(dsr.DefaultPort, cfg.BroadcastIP)
	if err != nil {
		nodeLog.WithError(err).Fatal("uavmesh: binding DSR port")
	}
	resolver, dsrListener := dsr.NewNode(cfg.MyIP, dsrConn, nodeLog.WithField("component", "dsr"))
	resolver.Observe = metricsRegistry.ObserveRouteResolution

	// 1-2. LIVE broadcaster + listener populate the NeighborTable.
	liveConn, err := live.Listen(live.DefaultPort, cfg.BroadcastIP)
	if err != nil {
		nodeLog.WithError(err).Fatal("uavmesh: binding LIVE port")
	}
	neighborTable := neighbor.New(3*live.DefaultInterval, nodeLog.WithField("component", "neighbor"))
	liveBroadcaster := live.NewBroadcaster(liveConn, cfg.MyIP, cfg.PositionX, cfg.PositionY, live.DefaultInterval, nodeLog.WithField("component", "live"))
	liveListener := live.NewListener(liveConn, cfg.MyIP, neighborTable, nodeLog.WithField("component", "live"))

	// 7. Sink-only aggregated topology.
	var graph *topo.Graph
	if role == config.RoleSink {
		graph = topo.New(2*report.DefaultInterval, nodeLog.WithField("component", "topo"))
	}

	// 5-6. Neighbor-report reporter + TCP listener.
	reportLn, err := report.Listen(report.DefaultPort)
	if err != nil {
		nodeLog.WithError(err).Fatal("uavmesh: binding NEIB_REPORT port")
	}
	reportListener := report.NewListener(reportLn, role == config.RoleSink, graph, cfg.SinkIP, resolver, report.DefaultDialer, nodeLog.WithField("component", "report"))
	var localHandler func(*report.Report)
	if role == config.RoleSink {
		localHandler = reportListener.Ingest
	}
	selfPos := neighbor.Position{X: cfg.PositionX, Y: cfg.PositionY}
	reporter := report.NewReporter(cfg.MyIP, selfPos, cfg.SinkIP, role == config.RoleSink, neighborTable, resolver, report.DefaultDialer, report.DefaultInterval, localHandler, nodeLog.WithField("component", "report"))
	reporter.OnSend = metricsRegistry.ReportSent

	// 10. Video-transport controller: every node relays, only the sink
	// republishes toward the external monitor.
	videoConn, err := video.Listen(video.DefaultPort)
	if err != nil {
		nodeLog.WithError(err).Fatal("uavmesh: binding VIDEO_TRANS_PKT port")
	}
	videoCtrl := video.NewController(cfg.MyIP, role == config.RoleSink, cfg.SinkIP2Ctrler, resolver, videoConn, nodeLog.WithField("component", "video"))

	// 8-9. SDN reporter/listener, sink-only: pushes topology to the
	// external controller and decodes its start/stop commands, which
	// this node additionally dispatches into the video controller
	// (spec.md §4.11 notes the listener's own job ends at decoding).
	var sdnConn *sdn.Conn
	var sdnReporter *sdn.Reporter
	var sdnListener *sdn.Listener
	if role == config.RoleSink {
		sdnConn, err = sdn.Listen(sdn.DefaultPort)
		if err != nil {
			nodeLog.WithError(err).Fatal("uavmesh: binding SDN port")
		}
		sdnReporter = sdn.NewReporter(sdnConn, cfg.MyIP, cfg.ControllerIP, graph, sdn.DefaultInterval, nodeLog.WithField("component", "sdn"))
		sdnListener = sdn.NewListener(sdnConn, nodeLog.WithField("component", "sdn"))
		sdnListener.OnCommand = func(cmd sdn.Command) {
			capturerIP := wire.IP((uint32(cfg.MyIP) &^ 0xFF) | uint32(cmd.LastOctet))
			switch cmd.Kind {
			case sdn.CommandStart:
				videoCtrl.RequestStart(capturerIP)
			case sdn.CommandStop:
				videoCtrl.RequestStop(capturerIP)
			}
		}
	}

	spawnStoppable(group, "live.broadcaster", liveBroadcaster.Run)
	spawnStoppable(group, "live.listener", liveListener.Run)
	spawnStoppable(group, "neighbor.sweep", neighborTable.Run)
	spawnStoppable(group, "dsr.listener", dsrListener.Run)
	spawnStoppable(group, "report.reporter", reporter.Run)
	spawnStoppable(group, "report.listener", reportListener.Run)
	if graph != nil {
		spawnStoppable(group, "topo.sweep", graph.Run)
	}
	if sdnReporter != nil {
		spawnStoppable(group, "sdn.reporter", sdnReporter.Run)
	}
	if sdnListener != nil {
		spawnStoppable(group, "sdn.listener", sdnListener.Run)
	}
	spawnStoppable(group, "video.receive", videoCtrl.ReceiveLoop)
	spawnStoppable(group, "video.retry", videoCtrl.RetryLoop)
	spawnStoppable(group, "video.sweep", videoCtrl.SweepLoop)

	metricsTick := supervise.NewStoppable()
	group.Spawn("metrics.tick", metricsTick.Stop, func() error {
		return tickMetrics(metricsTick, metricsRegistry, neighborTable, graph, videoCtrl)
	})

	adminStop := supervise.NewStoppable()
	group.Spawn("admin.server", adminStop.Stop, func() error { return adminSrv.Run(adminStop) })

	adminSrv.SetReady()
	nodeLog.Info("uavmesh: all components started")

	waitForShutdownSignal(nodeLog)

	nodeLog.Info("uavmesh: shutting down")
	if err := group.Shutdown(); err != nil {
		nodeLog.WithError(err).Warn("uavmesh: component exited with error during shutdown")
	}
	dsrConn.Close()
	liveConn.Close()
	videoConn.Close()
	reportLn.Close()
	if sdnConn != nil {
		sdnConn.Close()
	}
}

// spawnStoppable registers a component whose Run method takes a single
// *supervise.Stoppable, the shape shared by every long-lived task in
// SPEC_FULL.md §5.1.
func spawnStoppable(group *supervise.Group, name string, run func(*supervise.Stoppable) error) {
	stop := supervise.NewStoppable()
	group.Spawn(name, stop.Stop, func() error { return run(stop) })
}

// waitForShutdownSignal blocks until either a SIGINT/SIGTERM arrives (the
// teacher's own client.go shutdown idiom) or 'q'/'Q' is read from stdin
// (spec.md §6's CLI contract).
func waitForShutdownSignal(log logrus.FieldLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line == "q" || line == "Q" {
				close(quitCh)
				return
			}
		}
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("uavmesh: received signal")
	case <-quitCh:
		log.Info("uavmesh: received q on stdin")
	}
}

// tickMetrics periodically copies live component state into the
// Prometheus gauges; it is not itself a protocol task, just the admin/
// metrics layer's refresh loop.
func tickMetrics(stop *supervise.Stoppable, reg *metrics.Registry, table *neighbor.Table, graph *topo.Graph, ctrl *video.Controller) error {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			reg.SetNeighborCount(table.Count())
			if graph != nil {
				reg.SetTopoCounts(graph.NodeCount(), graph.EdgeCount())
			}
			reg.SetRelayerCounts(ctrl.ActiveRelayerCount(), ctrl.LostCount())
		}
	}
}
