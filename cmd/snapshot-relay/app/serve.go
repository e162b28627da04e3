package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/api"
	v0 "github.com/relaykit/snapshot-relay/internal/api/v0"
	"github.com/relaykit/snapshot-relay/internal/binding"
	"github.com/relaykit/snapshot-relay/internal/config"
	"github.com/relaykit/snapshot-relay/internal/ingress"
	"github.com/relaykit/snapshot-relay/internal/notifier"
	"github.com/relaykit/snapshot-relay/internal/registration"
	"github.com/relaykit/snapshot-relay/internal/store"
	"github.com/relaykit/snapshot-relay/internal/telemetry"
	"github.com/relaykit/snapshot-relay/internal/validate"
	"github.com/relaykit/snapshot-relay/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay receiver",
	Long: `Start the relay receiver.

The receiver accepts snapshots on POST /push and registers its reachable
address with the coordinator. Addresses can come from a configuration file
(--config), from flags, or from the LOCAL and SERVER environment variables.
If both addresses are available at startup an initial bind is attempted;
otherwise the receiver starts unbound and the binding flow is completed
through POST /api/v0/bind.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	serverRequestTimeout   = 10 * time.Second // Push bodies are tiny; handlers should respond quickly
	serverReadTimeout      = 10 * time.Second // Enough for headers and small requests
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second // Keep connections alive for reuse
)

func init() {
	flags := serveCmd.Flags()
	flags.String("address", ":8080", "Address to listen on")
	flags.String("config", "", "Path to configuration file (YAML format)")
	flags.String("local", "", "Externally reachable base address of this receiver (env: LOCAL)")
	flags.String("server", "", "Coordinator base address (env: SERVER)")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", f.Name, err))
		}
	})

	// The documented operator contract: LOCAL and SERVER environment
	// variables supply the two addresses when flags are absent.
	if err := viper.BindEnv("local", "LOCAL"); err != nil {
		panic(fmt.Sprintf("failed to bind LOCAL env: %v", err))
	}
	if err := viper.BindEnv("server", "SERVER"); err != nil {
		panic(fmt.Sprintf("failed to bind SERVER env: %v", err))
	}
}

// applyAddressOverrides overrides the loaded addresses with flag or
// environment values. Overrides are validated the same way file values
// are, so a misconfigured LOCAL or SERVER fails at startup instead of
// surfacing later as a failed bind.
func applyAddressOverrides(cfg *config.Config, local, server string) error {
	if local != "" {
		if err := validate.URL(local); err != nil {
			return fmt.Errorf("invalid local address %q: %w", local, err)
		}
		cfg.LocalAddress = local
	}
	if server != "" {
		if err := validate.URL(server); err != nil {
			return fmt.Errorf("invalid server address %q: %w", server, err)
		}
		cfg.ServerAddress = server
	}
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	logger := zap.L()
	address := viper.GetString("address")

	logger.Info("starting snapshot relay receiver", zap.String("address", address))

	var cfgOpts []config.Option
	if path := viper.GetString("config"); path != "" {
		cfgOpts = append(cfgOpts, config.WithConfigPath(path))
	}
	cfg, err := config.LoadConfig(cfgOpts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flags and the LOCAL/SERVER environment variables override the file.
	if err := applyAddressOverrides(cfg, viper.GetString("local"), viper.GetString("server")); err != nil {
		return err
	}

	provider, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithServiceName(telemetry.DefaultServiceName),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
		telemetry.WithEnabled(cfg.MetricsEnabled()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	ingressMetrics, err := telemetry.NewIngressMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create ingress metrics: %w", err)
	}
	notifierMetrics, err := telemetry.NewNotifierMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create notifier metrics: %w", err)
	}
	registrationMetrics, err := telemetry.NewRegistrationMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create registration metrics: %w", err)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	st := store.New()
	bnd := binding.New()

	registrar := registration.New(bnd, logger.Named("registration"),
		registration.WithTimeout(cfg.GetRegisterTimeout()),
		registration.WithMetrics(registrationMetrics),
	)

	ingressHandler := ingress.New(st, logger.Named("ingress"),
		ingress.WithMetrics(ingressMetrics),
	)

	// The delivery observer stands in for the excluded rendering layer:
	// it surfaces each newly arrived snapshot in the logs.
	observer := notifier.ObserverFuncs{
		DeliverFunc: func(snap store.Snapshot) {
			logger.Info("snapshot updated",
				zap.Int64("timestamp", snap.Timestamp),
				zap.String("data", snap.Data),
			)
		},
		NeedsBindingFunc: func() {
			logger.Debug("sampling skipped: receiver is not bound to a coordinator")
		},
	}

	changeNotifier := notifier.New(st, bnd, observer, logger.Named("notifier"),
		notifier.WithInterval(cfg.GetSampleInterval()),
		notifier.WithMetrics(notifierMetrics),
	)

	notifierCtx, notifierCancel := context.WithCancel(context.Background())
	defer notifierCancel()
	go func() {
		if err := changeNotifier.Start(notifierCtx); err != nil {
			logger.Error("change notifier failed", zap.Error(err))
		}
	}()

	// The initial bind runs on its own goroutine so a slow or
	// unreachable coordinator cannot delay startup or snapshot delivery.
	if cfg.HasAddresses() {
		local, server := cfg.LocalAddress, cfg.ServerAddress
		go func() {
			bindCtx, cancel := context.WithTimeout(context.Background(), cfg.GetRegisterTimeout())
			defer cancel()
			if err := registrar.Bind(bindCtx, local, server); err != nil {
				logger.Warn("initial bind failed; re-bind via POST /api/v0/bind", zap.Error(err))
			}
		}()
	} else {
		logger.Info("no LOCAL/SERVER addresses configured; starting unbound")
	}

	routes := v0.NewRoutes(ingressHandler, st, bnd, registrar, logger.Named("api"))
	router := api.NewServer(routes,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware(logger.Named("http")),
			httpMetrics.Middleware,
		),
		api.WithMetricsRegistry(provider.Registry()),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("address", address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	if err := changeNotifier.Stop(); err != nil {
		logger.Error("failed to stop change notifier", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down telemetry", zap.Error(err))
	}

	logger.Info("server shutdown complete")
	return nil
}
