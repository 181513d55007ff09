// Package lifecycle wires every collaborator together, runs the main
// single-threaded event loop, and handles startup/shutdown ordering,
// exactly as enumerated in the specification's Lifecycle component.
package lifecycle

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/estuary/pg-kafka-bridge/internal/config"
	"github.com/estuary/pg-kafka-bridge/internal/debugsink"
	"github.com/estuary/pg-kafka-bridge/internal/encode"
	"github.com/estuary/pg-kafka-bridge/internal/errorpolicy"
	"github.com/estuary/pg-kafka-bridge/internal/ingest"
	"github.com/estuary/pg-kafka-bridge/internal/kafkadriver"
	"github.com/estuary/pg-kafka-bridge/internal/mapper"
	"github.com/estuary/pg-kafka-bridge/internal/metrics"
	"github.com/estuary/pg-kafka-bridge/internal/pidfile"
	"github.com/estuary/pg-kafka-bridge/internal/registry"
	"github.com/estuary/pg-kafka-bridge/internal/replication"
	"github.com/estuary/pg-kafka-bridge/internal/txn"
)

// replicationPollTimeoutMillis bounds each replication connection poll,
// matching the driver poll cap so neither side of the loop is starved.
const (
	replicationPollTimeoutMillis = 200
	kafkaDrainTimeoutMillis      = 2000
	ringCapacity                 = 1000
)

// Connector constructs the upstream replication stream and frame reader.
// This is the seam the specification calls out as an external
// collaborator: the wire-level logical-replication protocol and snapshot
// extraction are out of this module's scope, and no driver for them
// exists anywhere in this codebase's dependency stack, so it is supplied
// by the caller rather than implemented here.
type Connector func(cfg *config.Config) (replication.Stream, error)

// Bridge owns every long-lived collaborator across the process lifetime.
type Bridge struct {
	cfg       *config.Config
	connect   Connector
	lock      *pidfile.Lock
	driver    kafkadriver.Driver
	mapper    *mapper.Mapper
	registry  registry.Client
	stream    replication.Stream
	dispatcher *ingest.Dispatcher
	metrics   *metrics.Registry
	metricsSrv *http.Server
	debug     *debugsink.Sink

	shutdownRequested atomic.Bool
	reloadRequested   atomic.Bool
}

// New performs the startup sequence (construct context, acquire pidfile,
// create Kafka producer, create table mapper, connect to PostgreSQL) and
// returns a Bridge ready for Run. Order matches spec.md §4.9 exactly.
func New(cfg *config.Config, connect Connector) (*Bridge, error) {
	b := &Bridge{cfg: cfg, connect: connect, metrics: metrics.New()}

	for _, c := range b.metrics.Collectors() {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics collector: %w", err)
		}
	}
	b.metricsSrv = newMetricsServer(cfg.Metrics.Addr)
	go func() {
		if err := b.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("lifecycle: metrics server exited")
		}
	}()

	lock, err := pidfile.Acquire(cfg.Replication.Slot)
	if err != nil {
		b.teardown()
		return nil, errorpolicy.Fatal("acquiring pidfile lock", err)
	}
	b.lock = lock

	if cfg.Debug.TraceFile != "" {
		sink, err := debugsink.Open(cfg.Debug.TraceFile)
		if err != nil {
			logrus.WithError(err).Warn("lifecycle: could not open debug trace file, continuing without one")
		} else {
			b.debug = sink
		}
	}

	var onDelivery kafkadriver.DeliveryCallback = func(r kafkadriver.DeliveryReport) {
		b.dispatcher.OnDelivery(r)
	}
	driver, err := kafkadriver.NewConfluentDriver(cfg.Kafka.Brokers, cfg.Kafka.KafkaConfig, onDelivery)
	if err != nil {
		b.teardown()
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	b.driver = driver

	var regClient registry.Client = registry.NoopClient{}
	var format = mapper.FormatJSON
	if cfg.Output.Format == config.FormatAvro {
		httpClient, err := registry.NewHTTPClient(cfg.Output.SchemaRegistry)
		if err != nil {
			b.teardown()
			return nil, fmt.Errorf("creating schema registry client: %w", err)
		}
		regClient = httpClient
		format = mapper.FormatAvro
	}
	b.registry = regClient

	b.mapper = mapper.New(mapper.Config{
		Format:      format,
		TopicPrefix: cfg.Kafka.TopicPrefix,
		TopicConfig: cfg.Kafka.TopicConfig,
		Driver:      b.driver,
		Registry:    b.registry,
	})

	stream, err := connect(cfg)
	if err != nil {
		b.teardown()
		return nil, fmt.Errorf("connecting to postgresql: %w", err)
	}
	b.stream = stream

	ring := txn.NewRing(ringCapacity)

	var enc encode.Encoder = encode.JSON{}
	if format == mapper.FormatAvro {
		enc = encode.Avro{}
	}

	b.dispatcher = ingest.New(ingest.Config{
		Ring:            ring,
		Mapper:          b.mapper,
		Encoder:         enc,
		Driver:          b.driver,
		Stream:          b.stream,
		Policy:          errorpolicy.New(policyFromConfig(cfg.Errors.OnError)),
		Format:          format,
		ShouldStop:      b.ShutdownRequested,
		Metrics:         b.metrics,
		Debug:           b.debug,
		ReloadRequested: b.ReloadRequested,
		ClearReload:     func() { b.reloadRequested.Store(false) },
	})

	return b, nil
}

// newMetricsServer builds the /metrics HTTP server, serving
// prometheus.DefaultRegisterer's collectors via promhttp, per
// SPEC_FULL.md's framing that exposition is the lifecycle's job, not the
// core's.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

func policyFromConfig(mode config.OnError) errorpolicy.Mode {
	if mode == config.OnErrorLog {
		return errorpolicy.Log
	}
	return errorpolicy.Exit
}

// ShutdownRequested reports whether SIGINT/SIGTERM has latched.
func (b *Bridge) ShutdownRequested() bool { return b.shutdownRequested.Load() }

// ReloadRequested reports whether SIGUSR2 has latched.
func (b *Bridge) ReloadRequested() bool { return b.reloadRequested.Load() }

// InstallSignalHandlers starts a goroutine that sets the shutdown/reload
// latches on SIGINT/SIGTERM/SIGUSR2; the main loop and backpressure loop
// poll them, per the cancellation model in spec.md §5.
func (b *Bridge) InstallSignalHandlers() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR2:
				logrus.Info("lifecycle: SIGUSR2 received, reload latched")
				b.reloadRequested.Store(true)
			default:
				logrus.WithField("signal", sig).Info("lifecycle: shutdown signal received")
				b.shutdownRequested.Store(true)
			}
		}
	}()
}

// Run is the single-threaded event loop: alternate polling the
// replication connection and the Kafka driver until shutdown is
// requested or a fatal error occurs.
func (b *Bridge) Run() error {
	for !b.ShutdownRequested() {
		if _, err := b.stream.Poll(replicationPollTimeoutMillis); err != nil {
			return fmt.Errorf("replication stream poll: %w", err)
		}
		if err := b.dispatcher.Err(); err != nil {
			return err
		}

		b.driver.Poll(0)
		if err := b.dispatcher.Err(); err != nil {
			return err
		}

		b.metrics.FsyncLSN.Set(float64(b.stream.FsyncLSN()))
	}
	return nil
}

// Shutdown performs the shutdown sequence of spec.md §4.9: conditional
// slot-drop, mapper release, registry/frame-reader/DB-client release (the
// latter two are no-ops here since they belong to the external
// collaborator the Connector returned), bounded Kafka drain, pidfile
// unlink.
func (b *Bridge) Shutdown(snapshotFailed bool) error {
	if snapshotFailed && b.stream.TakingSnapshot() {
		if err := b.stream.DropSlot(); err != nil {
			logrus.WithError(err).Error("lifecycle: dropping replication slot failed")
		}
	}

	b.mapper.Close()
	b.debug.Close()

	remaining := b.driver.Flush(kafkaDrainTimeoutMillis)
	if remaining > 0 {
		logrus.WithField("remaining", remaining).Warn("lifecycle: kafka drain timed out with messages still outstanding")
	}
	b.driver.Close()

	if b.metricsSrv != nil {
		if err := b.metricsSrv.Close(); err != nil {
			logrus.WithError(err).Warn("lifecycle: closing metrics server")
		}
	}
	for _, c := range b.metrics.Collectors() {
		prometheus.DefaultRegisterer.Unregister(c)
	}

	if b.lock != nil {
		if err := b.lock.Release(); err != nil {
			return fmt.Errorf("releasing pidfile: %w", err)
		}
	}
	return nil
}

// teardown releases whatever was constructed so far, used when New fails
// partway through startup.
func (b *Bridge) teardown() {
	if b.driver != nil {
		b.driver.Close()
	}
	if b.metricsSrv != nil {
		b.metricsSrv.Close()
	}
	for _, c := range b.metrics.Collectors() {
		prometheus.DefaultRegisterer.Unregister(c)
	}
	if b.lock != nil {
		b.lock.Release()
	}
}

