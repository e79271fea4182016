package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/ethcore/app/services/node/handlers"
	"github.com/ardanlabs/ethcore/foundation/blockchain/database"
	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool"
	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ardanlabs/ethcore/foundation/blockchain/state"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/leveldb"
	"github.com/ardanlabs/ethcore/foundation/blockchain/worker"
	"github.com/ardanlabs/ethcore/foundation/events"
	"github.com/ardanlabs/ethcore/foundation/logger"
	"github.com/ardanlabs/ethcore/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			CORSOrigins     []string      `conf:"default:*"`
		}
		State struct {
			Author         string        `conf:"default:0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"`
			ExtraData      string        `conf:"default:ethcore"`
			DBPath         string        `conf:"default:zblock/chain"`
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			SelectStrategy string        `conf:"default:price"`
			AskPrice       int64         `conf:"default:1"`
			SyncTimeout    time.Duration `conf:"default:100ms"`
			MaxQueued      int           `conf:"default:10000"`
			Mining         bool          `conf:"default:true"`
		}
		Pool struct {
			Current int    `conf:"default:1024"`
			Future  int    `conf:"default:1024"`
			Bytes   uint64 `conf:"default:0"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
		Seal struct {
			NoProof   bool   `conf:"default:false"`
			TargetGas uint64 `conf:"default:0"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	if !common.IsHexAddress(cfg.State.Author) {
		return fmt.Errorf("invalid author %q", cfg.State.Author)
	}
	author := common.HexToAddress(cfg.State.Author)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", account)
	}

	// =========================================================================
	// Blockchain Support

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := evts.Handler(log)

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	for addr, balance := range gen.Balances {
		log.Infow("startup", "status", "genesis", "account", ns.Lookup(common.HexToAddress(addr)), "balance", balance)
	}

	reward, err := gen.Reward()
	if err != nil {
		return err
	}

	engine := seal.NewPoW(seal.Config{
		BlockReward:   reward,
		MinDifficulty: new(big.Int).SetUint64(gen.MinDifficulty),
		TargetGas:     cfg.Seal.TargetGas,
		NoProof:       cfg.Seal.NoProof,
		Signer:        gen.Signer(),
		EvHandler:     seal.EventHandler(ev),
	})

	store, err := leveldb.New(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open the database: %w", err)
	}

	// The chain owns the store from here on and closes it on shutdown.
	chain, err := database.New(database.Config{
		Store:     store,
		Genesis:   gen,
		Engine:    engine,
		Executor:  executive.NewTransfer(gen.Signer()),
		EvHandler: database.EventHandler(ev),
		DBOptions: []overlay.Option{
			overlay.WithFatal(func(err error) {
				log.Errorw("overlay", "status", "unrecoverable write failure", "ERROR", err)
				os.Exit(1)
			}),
		},
	})
	if err != nil {
		store.Close()
		return err
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	state, err := state.New(state.Config{
		Author:         author,
		ExtraData:      []byte(cfg.State.ExtraData),
		Chain:          chain,
		PoolLimits:     mempool.Limits{Current: cfg.Pool.Current, Future: cfg.Pool.Future, Bytes: cfg.Pool.Bytes},
		SelectStrategy: cfg.State.SelectStrategy,
		AskPrice:       big.NewInt(cfg.State.AskPrice),
		SyncTimeout:    cfg.State.SyncTimeout,
		MaxQueued:      cfg.State.MaxQueued,
		Mining:         cfg.State.Mining,
		EvHandler:      ev,
	})
	if err != nil {
		chain.Close()
		return err
	}
	defer state.Shutdown()

	// The worker package implements the different workflows such as block
	// import, pool syncing and mining. The worker will register itself with
	// the state.
	worker.Run(state, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, state)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    state,
		NS:       ns,
		Evts:     evts,
		Origins:  cfg.Web.CORSOrigins,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    state,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
