package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/params"
	"github.com/mangekyou-labs/darkpool/pkg/api"
	"github.com/mangekyou-labs/darkpool/pkg/bridge"
	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/ledger"
	"github.com/mangekyou-labs/darkpool/pkg/mpc"
	"github.com/mangekyou-labs/darkpool/pkg/oracle"
	"github.com/mangekyou-labs/darkpool/pkg/settle"
	"github.com/mangekyou-labs/darkpool/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load .env from current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("log_file", cfg.Node.LogFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Matching authority ----
	var authority *crypto.Signer
	if cfg.Node.AuthorityKey != "" {
		authority, err = crypto.FromPrivateKeyHex(cfg.Node.AuthorityKey)
	} else {
		authority, err = crypto.GenerateKey()
		logger.Warn("no authority key configured, generated ephemeral key")
	}
	if err != nil {
		logger.Fatal("authority key", zap.Error(err))
	}
	logger.Info("matching authority", zap.String("address", authority.Address().Hex()))

	// The pool instance identity doubles as the expected settlement
	// origin. Derived from the authority so every node config gets a
	// stable value without another knob.
	var origin darkpool.Identity
	copy(origin[:], authority.Address().Bytes())

	// ---- Ledger ----
	store, err := ledger.NewStore(cfg.Node.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	accounts := ledger.NewAccounts(authority.Address(), store)
	led := ledger.NewLedger(accounts, store)
	if err := led.Load(); err != nil {
		logger.Fatal("load ledger", zap.Error(err))
	}

	// ---- Oracle ----
	// Dev nodes run a static feed; external feeds adapt behind the same
	// interface.
	feed := oracle.NewStaticFeed()

	// ---- Execution engine ----
	var engine mpc.Engine
	if cfg.Cluster.Local {
		members := make([]*crypto.BLSSigner, cfg.Cluster.Members)
		for i := range members {
			seed := make([]byte, 32)
			copy(seed, authority.Address().Bytes())
			seed[31] = byte(i + 1)
			members[i] = crypto.NewBLSSignerFromSeed(seed)
		}
		local := mpc.NewLocalEngine(members, util.RealClock{}, logger)
		engine = local
		logger.Info("local execution engine", zap.Int("members", len(members)))
	} else {
		// Remote cluster: member keys must be distributed out of band;
		// a dev cluster reuses the local engine's derivation.
		members := make([]*crypto.BLSSigner, cfg.Cluster.Members)
		for i := range members {
			seed := make([]byte, 32)
			copy(seed, authority.Address().Bytes())
			seed[31] = byte(i + 1)
			members[i] = crypto.NewBLSSignerFromSeed(seed)
		}
		local := mpc.NewLocalEngine(members, util.RealClock{}, logger)

		client, err := mpc.NewClusterClient(ctx, mpc.ClusterConfig{
			ListenAddr: cfg.Cluster.ListenAddr,
			Bootstrap:  cfg.Cluster.Bootstrap,
			Verifier:   mpc.NewVerifier(local.Pubkeys()),
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal("cluster client", zap.Error(err))
		}
		defer client.Close()

		// Every node doubles as an execution member, serving peer
		// submissions with its local engine; without this no process
		// in the cluster would execute circuits.
		go client.ServeMember(ctx, local)

		engine = client
		logger.Info("cluster execution engine",
			zap.String("listen", cfg.Cluster.ListenAddr),
			zap.Int("bootstrap", len(cfg.Cluster.Bootstrap)),
		)
	}

	// ---- Settlement ----
	guard := settle.NewGuard(authority.Address(), origin, cfg.Darkpool.MaxSlippageBps)
	settler := settle.NewSettler(guard, led, feed, authority.Address(), cfg.Darkpool.FeeRateBps, util.RealClock{}, logger)

	// ---- Bridge ----
	br := bridge.New(bridge.Config{
		MinOrderSize:  cfg.Darkpool.MinOrderSize,
		MaxOrderSize:  cfg.Darkpool.MaxOrderSize,
		BatchInterval: int64(cfg.Darkpool.BatchInterval.Seconds()),
	}, engine, settler, led, authority, origin, util.RealClock{}, logger)

	go br.Loop(ctx)

	// ---- API ----
	apiServer := api.NewServer(br, led, feed, logger)
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	logger.Info("node started",
		zap.String("api_addr", cfg.Node.APIAddr),
		zap.String("db_path", cfg.Node.DBPath),
		zap.Duration("batch_interval", cfg.Darkpool.BatchInterval),
		zap.Uint64("max_slippage_bps", cfg.Darkpool.MaxSlippageBps),
	)

	<-ctx.Done()
	logger.Info("node shutting down")
}
