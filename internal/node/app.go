package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/batheaded/map-reduce/internal/coordinator"
	"github.com/batheaded/map-reduce/internal/gateway"
	"github.com/batheaded/map-reduce/internal/worker"
	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/dht"
	"github.com/batheaded/map-reduce/pkg/idgen"
	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/pkg/transport"
	"github.com/redis/go-redis/v9"
)

// App owns every per-process singleton SPEC_FULL.md §2 calls for: one
// Chord node, one DHT shard (store + replicator + anti-entropy), one
// dormant coordinator, a worker executor, the gossip directory used
// only for bootstrap, and the client-facing gateway.
type App struct {
	cfg *Config

	ring  *chordring.Node
	dht   *dht.Replicator
	ae    *dht.AntiEntropy
	dir   *transport.Directory
	rpc   *transport.Server
	coord *coordinator.Coordinator
	gw    *gateway.Server
}

// New builds an App from cfg. kernels must already have every
// map_fn/reduce_fn this process should be able to run registered on
// it (see internal/wordcount for the bundled sample set) — the
// executor created here only resolves names against it, it never
// mutates it.
func New(cfg *Config, kernels *worker.Registry) (*App, error) {
	logging.Init(false)

	space := idspace.NewSpace(cfg.DHT.IDBits)

	meta := transport.NodeMeta{RPCPort: 0, ChordAddr: cfg.Server.RPCAddr}
	dir, err := transport.NewDirectory(
		fmt.Sprintf("node-%d", cfg.Server.NodeID),
		cfg.Gossip.BindAddr, cfg.Gossip.BindPort, meta, cfg.Gossip.Seeds,
	)
	if err != nil {
		return nil, fmt.Errorf("node: init gossip directory: %w", err)
	}

	selfRef := chordring.NodeRef{ID: space.ID([]byte(cfg.Server.RPCAddr)), Addr: cfg.Server.RPCAddr}
	dialer := transport.NewGRPCDialer()
	ring := chordring.New(selfRef, space, chordring.DefaultConfig(), dialer)

	repl := dht.NewReplicator(ring, space, cfg.DHT.ReplicationFactor)
	ae := dht.NewAntiEntropy(repl, time.Duration(cfg.DHT.AntiEntropyMS)*time.Millisecond)

	exec := worker.NewExecutor(kernels, repl)

	var idClock idgen.Clock
	if cfg.Redis.Addr != "" {
		idClock = idgen.NewRedisClock(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	}
	ids, err := idgen.New(cfg.Server.NodeID, idClock)
	if err != nil {
		return nil, fmt.Errorf("node: init id generator: %w", err)
	}

	coord := coordinator.New(ring, repl, ids, exec, cfg.Job.PoolSize)

	reg := transport.NewRegistry()
	ring.RegisterRPC(reg)
	repl.RegisterRPC(reg)
	ae.RegisterRPC(reg)
	exec.RegisterRPC(reg)
	rpcServer := transport.NewServer(reg)

	gw := gateway.NewServer(cfg.Server.HTTPAddr, coord)

	return &App{
		cfg:   cfg,
		ring:  ring,
		dht:   repl,
		ae:    ae,
		dir:   dir,
		rpc:   rpcServer,
		coord: coord,
		gw:    gw,
	}, nil
}

// Run starts every background loop and both servers, blocking until a
// shutdown signal arrives or one of the servers exits unexpectedly.
func (a *App) Run() error {
	if a.cfg.Server.Introducer != "" {
		introducer := chordring.NodeRef{Addr: a.cfg.Server.Introducer}
		if err := a.ring.Join(context.Background(), introducer); err != nil {
			return fmt.Errorf("node: join ring via %s: %w", a.cfg.Server.Introducer, err)
		}
	} else {
		a.ring.Bootstrap()
	}

	go a.ae.Run()

	logging.Infow("node starting", "rpc_addr", a.cfg.Server.RPCAddr, "http_addr", a.cfg.Server.HTTPAddr)

	errCh := make(chan error, 2)
	go func() {
		if err := a.rpc.ListenAndServe(a.cfg.Server.RPCAddr); err != nil {
			errCh <- fmt.Errorf("rpc server failed: %w", err)
		}
	}()
	go func() {
		if err := a.gw.Start(); err != nil {
			errCh <- fmt.Errorf("http gateway failed: %w", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logging.Infow("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		runErr = err
		logging.Errorw("node server exited unexpectedly", "error", err)
	}

	logging.Infow("shutting down node", "rpc_addr", a.cfg.Server.RPCAddr)
	a.ae.Stop()
	a.ring.Stop()
	if err := a.gw.Stop(context.Background()); err != nil {
		logging.Warnw("gateway shutdown error", "error", err)
	}
	a.rpc.GracefulStop()
	if err := a.dir.Leave(5 * time.Second); err != nil {
		logging.Warnw("gossip leave failed", "error", err)
	}
	if err := a.dir.Shutdown(); err != nil {
		logging.Warnw("gossip shutdown error", "error", err)
	}

	return runErr
}
