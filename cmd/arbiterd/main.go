// arbiterd is the engine daemon. "serve" runs the execution pipeline
// behind the control plane, "scan" runs the discovery loop against a
// remote engine, and "run" hosts both in one process.
//
// Exit codes: 0 clean shutdown, 1 fatal initialization failure (bad
// configuration, chain RPC health probe), 3 runtime failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/advisor"
	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/client"
	"github.com/dexarb/arbiter/config"
	"github.com/dexarb/arbiter/exec"
	"github.com/dexarb/arbiter/graph"
	"github.com/dexarb/arbiter/pricing"
	"github.com/dexarb/arbiter/registry"
	"github.com/dexarb/arbiter/scanner"
	"github.com/dexarb/arbiter/server"
)

const shutdownGrace = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "arbiterd",
		Usage: "cross-venue arbitrage discovery and execution engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run discovery and execution in one process",
				Action: runAction,
			},
			{
				Name:   "serve",
				Usage:  "run the execution pipeline and control plane only",
				Action: serveAction,
			},
			{
				Name:  "scan",
				Usage: "run the discovery loop against a remote engine",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "engine",
						Usage: "base URL of the engine control plane",
						Value: "http://127.0.0.1:8545",
					},
				},
				Action: scanAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, exit.Error())
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
}

// engine bundles the shared startup state.
type engine struct {
	cfg       *config.Config
	log       *zap.Logger
	reg       *registry.Registry
	providers *chains.Providers
	quoter    *pricing.Quoter
	pipeline  *exec.Pipeline
	hub       *server.Hub
}

func bootstrap(ctx context.Context) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	log := config.NewLogger(cfg)

	reg, err := registry.New(registry.DefaultChains(), registry.DefaultTokens(), registry.DefaultDexes())
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	providers, err := chains.Connect(ctx, reg, cfg.RPCURLs, cfg.BackupRPCURLs, nil, log)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	hub := server.NewHub(log)
	pipeline := exec.New(exec.Options{
		Mode:               cfg.Mode,
		Registry:           reg,
		Providers:          providers,
		Simulator:          pricing.NewSimulator(providers),
		Key:                cfg.PrivateKey,
		ExecutorAddrs:      cfg.ExecutorAddresses,
		MaxBaseFeeGwei:     cfg.MaxBaseFeeGwei,
		GasLimitMultiplier: cfg.GasLimitMultiplier,
		MaxConcurrentTxs:   cfg.MaxConcurrentTxs,
		MempoolFallback:    cfg.MempoolFallback,
		Relay:              buildRelay(cfg, log),
		Emitter:            hub,
		Log:                log,
	})

	log.Info("engine bootstrapped",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("chains", providers.Count()))
	return &engine{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		providers: providers,
		quoter:    pricing.NewQuoter(providers, log),
		pipeline:  pipeline,
		hub:       hub,
	}, nil
}

func buildRelay(cfg *config.Config, log *zap.Logger) exec.Submitter {
	if cfg.RelayAuth == "" {
		log.Warn("no relay credentials, private submission disabled")
		return nil
	}
	relay, err := exec.NewRelaySubmitter(cfg.RelayURL, cfg.RelayAuth, cfg.RelayHashSecret, cfg.RelayTLSCert, cfg.RelayTLSKey)
	if err != nil {
		log.Warn("relay unavailable, private submission disabled", zap.Error(err))
		return nil
	}
	return relay
}

func buildScanner(e *engine, sink scanner.Sink) *scanner.Scanner {
	gasAdv, paramAdv := advisor.Load(e.cfg.CatboostModelPath, e.cfg.MLModelPath, e.cfg.RealtimeTraining, e.log)
	return scanner.New(e.reg, graph.Build(e.reg), e.quoter, e.providers, gasAdv, paramAdv, sink, scanner.Options{
		Interval:       e.cfg.ScanInterval,
		Workers:        e.cfg.WorkerWidth,
		QueueCap:       e.cfg.SignalQueueCap,
		TradeSizesUSD:  e.cfg.TradeSizesUSD,
		MinProfitUSD:   e.cfg.MinProfitUSD,
		MinLoanUSD:     e.cfg.MinLoanUSD,
		MaxSlippageBps: e.cfg.MaxSlippageBps,
	}, e.log)
}

// pipelineSink feeds scanner signals straight into the in-process
// pipeline.
type pipelineSink struct{ p *exec.Pipeline }

func (s pipelineSink) Submit(ctx context.Context, sig *exec.Signal) error {
	s.p.Execute(ctx, sig)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveAction(*cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	return serveUntil(ctx, e, nil)
}

func runAction(*cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	sc := buildScanner(e, pipelineSink{e.pipeline})
	return serveUntil(ctx, e, sc)
}

// serveUntil hosts the control plane (and optionally the scan loop)
// until the context is cancelled, then drains within the grace window.
func serveUntil(ctx context.Context, e *engine, sc *scanner.Scanner) error {
	srv := server.New(e.pipeline, e.providers, e.hub, e.log)
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	errc := make(chan error, 2)
	go func() { errc <- srv.Start(addr) }()
	if sc != nil {
		go func() { errc <- sc.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		e.log.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			return cli.Exit(err.Error(), 3)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return cli.Exit(fmt.Sprintf("shutdown: %v", err), 3)
	}
	e.log.Info("clean shutdown")
	return nil
}

func scanAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	sink := client.New(c.String("engine"), e.log)
	sc := buildScanner(e, sink)
	if err := sc.Run(ctx); err != nil {
		return cli.Exit(err.Error(), 3)
	}
	e.log.Info("clean shutdown")
	return nil
}
