package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/config"
	"github.com/AsifIrfan3393/win-kvstore/internal/dispatch"
	"github.com/AsifIrfan3393/win-kvstore/internal/faultinject"
	"github.com/AsifIrfan3393/win-kvstore/internal/kverrors"
	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/AsifIrfan3393/win-kvstore/internal/replication"
	"github.com/AsifIrfan3393/win-kvstore/internal/snapshot"
	"github.com/AsifIrfan3393/win-kvstore/internal/storage"
	"github.com/AsifIrfan3393/win-kvstore/internal/tcpserver"
	"github.com/AsifIrfan3393/win-kvstore/internal/tracing"
	"github.com/AsifIrfan3393/win-kvstore/internal/walog"
	"github.com/AsifIrfan3393/win-kvstore/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cfg = config.Default()
var verbose bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a kvstore node",
	Run:   runNode,
}

func init() {
	f := startCmd.Flags()
	f.StringVar(&cfg.BindHost, "bind", cfg.BindHost, "address to bind the client server to")
	f.Uint16Var(&cfg.Port, "port", cfg.Port, "client protocol port")
	f.Uint16Var(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "metrics HTTP port")
	f.Uint16Var(&cfg.ReplicationPort, "replication-port", cfg.ReplicationPort, "replication broadcast port (leader only)")
	f.StringVar(&cfg.Role, "role", cfg.Role, "leader or replica")
	f.StringVar(&cfg.ReplicaOf, "replica-of", cfg.ReplicaOf, "leader host:port to follow (replica only)")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for WAL and snapshot files")
	f.BoolVar(&cfg.EnableWAL, "enable-wal", cfg.EnableWAL, "append accepted writes to the write-ahead log")
	f.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "interval between background snapshots")
	f.DurationVar(&cfg.TTLScanInterval, "ttl-scan", cfg.TTLScanInterval, "interval between expired-key sweeps")
	f.IntVar(&cfg.ShardCount, "shards", cfg.ShardCount, "number of store shards")
	f.Int64Var(&cfg.MemoryBudgetBytes, "memory-budget", cfg.MemoryBudgetBytes, "aggregate memory budget in bytes")
	f.IntVar(&cfg.WorkerThreads, "workers", cfg.WorkerThreads, "dispatcher worker pool size")
	f.IntVar(&cfg.TaskQueueDepth, "queue-depth", cfg.TaskQueueDepth, "dispatcher worker pool queue depth")
	f.DurationVar(&cfg.WalDelay, "wal-delay", cfg.WalDelay, "artificial delay before each WAL append (fault injection)")
	f.Float64Var(&cfg.WalFailProbability, "wal-fail-prob", cfg.WalFailProbability, "probability of a WAL append failing (fault injection)")
	f.DurationVar(&cfg.SnapshotDelay, "snapshot-delay", cfg.SnapshotDelay, "artificial delay before each snapshot write (fault injection)")
	f.DurationVar(&cfg.ReplicationDelay, "replication-delay", cfg.ReplicationDelay, "artificial delay before each replicated send (fault injection)")
	f.StringVar(&cfg.JaegerEndpoint, "jaeger-endpoint", cfg.JaegerEndpoint, "jaeger collector endpoint; empty disables tracing")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func runNode(cmd *cobra.Command, args []string) {
	log.Logger = log.With().Caller().Logger()
	if verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	sink := metricssink.New(10000)
	injector := faultinject.New()
	pool := workerpool.New(cfg.WorkerThreads, cfg.TaskQueueDepth)
	store := storage.New(cfg.ShardCount, cfg.MemoryBudgetBytes, sink)

	snapshotMgr, err := snapshot.NewManager(cfg.DataDir, injector, sink, cfg.SnapshotDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot manager")
	}

	var walWriter *walog.Writer
	walPath := cfg.DataDir + string(os.PathSeparator) + "wal.log"
	if cfg.EnableWAL {
		walWriter, err = walog.NewWriter(walPath, injector, sink, cfg.WalDelay, cfg.WalFailProbability)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open write-ahead log")
		}
	}

	tracer, err := tracing.New("kvstore-"+cfg.Role, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer")
	}

	role := dispatch.RoleLeader
	if cfg.Role == "replica" {
		role = dispatch.RoleReplica
	}

	var broadcaster *replication.Broadcaster
	if role == dispatch.RoleLeader {
		broadcaster = replication.NewBroadcaster(fmt.Sprintf(":%d", cfg.ReplicationPort), injector, sink, cfg.ReplicationDelay)
		if err := broadcaster.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start replication broadcaster")
		}
	}

	dispatcher := &dispatch.Dispatcher{
		Store:       store,
		Wal:         walWriter,
		Broadcaster: broadcaster,
		Sink:        sink,
		Tracer:      tracer,
		Role:        role,
	}

	// Reconstitute state before accepting any client traffic: snapshot
	// first, then every record in the WAL from the beginning (it is
	// never truncated).
	snapshotItems, err := snapshotMgr.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load snapshot")
	}
	if len(snapshotItems) > 0 {
		store.Restore(snapshotItems)
		log.Info().Int("items", len(snapshotItems)).Msg("restored snapshot")
	}
	if cfg.EnableWAL {
		records, err := walog.ReadAll(walPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to replay write-ahead log")
		}
		for _, record := range records {
			if err := dispatcher.Apply(record); err != nil {
				var parseErr *kverrors.ParseError
				if errors.As(err, &parseErr) {
					log.Warn().Str("usage", parseErr.Usage).Str("record", record).Msg("skipping malformed wal record during replay")
					continue
				}
				log.Warn().Err(err).Str("record", record).Msg("failed to apply replayed wal record")
			}
		}
		log.Info().Int("records", len(records)).Msg("replayed write-ahead log")
	}

	var follower *replication.Follower
	if role == dispatch.RoleReplica && cfg.ReplicaOf != "" {
		follower = replication.NewFollower(cfg.ReplicaOf, dispatcher)
		follower.Start()
	}

	registry := prometheus.NewRegistry()
	exporter := tcpserver.NewPromExporter(sink, registry)
	metricsSrv := &httpServer{addr: fmt.Sprintf(":%d", cfg.MetricsPort), handler: tcpserver.Router(exporter, registry, sink)}
	if err := metricsSrv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start metrics server")
	}

	clientSrv := tcpserver.NewClientServer(fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port), dispatcher, pool)
	if err := clientSrv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start client server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runTTLLoop(ctx, store, cfg.TTLScanInterval)
	go runSnapshotLoop(ctx, store, snapshotMgr, cfg.SnapshotInterval)

	log.Info().
		Str("role", cfg.Role).
		Uint16("port", cfg.Port).
		Uint16("metrics_port", cfg.MetricsPort).
		Msg("kvstore node running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutdown signal received")

	cancel()
	clientSrv.Stop()
	pool.Shutdown()
	if broadcaster != nil {
		broadcaster.Stop()
	}
	if follower != nil {
		follower.Stop()
	}
	if walWriter != nil {
		_ = walWriter.Close()
	}
	_ = metricsSrv.Stop(context.Background())
	log.Info().Msg("kvstore node stopped")
}

func runTTLLoop(ctx context.Context, store *storage.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.ExpireKeys()
		}
	}
}

func runSnapshotLoop(ctx context.Context, store *storage.Store, mgr *snapshot.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			version := store.CurrentVersion()
			items := store.Snapshot(version)
			if err := mgr.Write(items); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot write failed")
			}
		}
	}
}
