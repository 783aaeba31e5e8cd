package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	tnclaim "github.com/trufnetwork/claimgate/extensions/tn_claim"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/chain"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/issuance"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/metrics"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/server"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

func newServeCmd() *cobra.Command {
	var (
		envFile    string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the claim HTTP API",
		Long: "Run the claim HTTP API. Configuration is read from CLAIMGATE_* environment\n" +
			"variables, optionally loaded from an .env file; flags override them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.LogLevel, cfg.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			zap.ReplaceGlobals(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides CLAIMGATE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides CLAIMGATE_LOG_LEVEL)")
	return cmd
}

// loadServeConfig loads an optional dotenv file into the process environment,
// then parses the configuration.
func loadServeConfig(envFile string) (tnclaim.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return tnclaim.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return tnclaim.LoadConfig(nil)
}

// openNetwork returns the chain source described by cfg and a release func.
func openNetwork(ctx context.Context, cfg tnclaim.Config, logger *zap.Logger) (chain.Source, func(), error) {
	if cfg.RPCURL == "" {
		return chain.NewStatic(cfg.ChainID), func() {}, nil
	}
	rpc, err := chain.DialRPC(ctx, cfg.RPCURL,
		chain.WithMaxRetries(cfg.RPCMaxRetries),
		chain.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return rpc, rpc.Close, nil
}

func runServe(ctx context.Context, cfg tnclaim.Config, logger *zap.Logger) error {
	claims, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open claim store: %w", err)
	}
	defer func() {
		if err := claims.Close(); err != nil {
			logger.Warn("failed to close claim store", zap.Error(err))
		}
	}()

	network, closeNetwork, err := openNetwork(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open network source: %w", err)
	}
	defer closeNetwork()

	recorder := metrics.NewMetricsRecorder(logger)

	guard, err := tnclaim.NewGuard(tnclaim.Settings{
		Authority: cfg.AuthorityAddress(),
		Contract:  cfg.ContractAddress(),
		Network:   network,
		Claims:    claims,
	}, tnclaim.WithLogger(logger), tnclaim.WithMetrics(recorder))
	if err != nil {
		return err
	}

	collection, err := issuance.NewCollection(guard, cfg.BaseURI,
		issuance.WithLogger(logger), issuance.WithMetrics(recorder))
	if err != nil {
		return err
	}

	srv := server.New(cfg.ListenAddr, guard, collection, logger)

	logger.Info("starting claimgate",
		zap.String("authority", guard.Authority().Hex()),
		zap.String("contract", guard.Contract().Hex()),
		zap.String("store", cfg.Store.Kind))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
