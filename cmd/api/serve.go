package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/config"
	"github.com/flicky/marketplace-api/internal/handler"
	"github.com/flicky/marketplace-api/internal/middleware"
	"github.com/flicky/marketplace-api/internal/service"
	"github.com/flicky/marketplace-api/internal/worker"
)

type serveOptions struct {
	migrate bool
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.migrate, "migrate", true, "apply schema migrations before serving")
}

func serveCmd(log *slog.Logger) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and, when RabbitMQ is configured, the mirror auditor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), log, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runServe(parent context.Context, log *slog.Logger, opts *serveOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := openApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.migrate {
		if err := a.migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	verifier, err := auth.NewJWKSVerifier(ctx, cfg.Auth.Domain, cfg.Auth.ClientID)
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}
	oauth := auth.NewOAuthClient(cfg.Auth.BaseURL(), cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.CallbackURL)

	// Services
	pub := a.publisher()
	userSvc := service.NewUserService(a.store)
	productSvc := service.NewProductService(a.store, a.productCache, pub, log)
	orderSvc := service.NewOrderService(a.store, a.productCache, pub, log)
	cleanupSvc := service.NewCleanupService(a.store, a.productCache, log)

	// Handlers
	router := handler.NewRouter(handler.Handlers{
		Auth:     handler.NewAuthHandler(verifier, oauth, userSvc, cfg.Auth.SecureCookie),
		Users:    handler.NewUserHandler(userSvc, cfg.PageLimit),
		Products: handler.NewProductHandler(productSvc, cfg.PageLimit),
		Orders:   handler.NewOrderHandler(orderSvc, cfg.PageLimit),
		Cleanup:  handler.NewCleanupHandler(cleanupSvc),
		Health:   handler.NewHealthHandler(a.store, a.redisClient, a.amqpConn),
	},
		middleware.Authenticate(verifier, userSvc),
		middleware.Authenticate(verifier, nil),
	)

	// Worker
	var auditor *worker.MirrorAuditor
	if a.amqpCh != nil {
		auditor = worker.NewMirrorAuditor(a.amqpCh, service.NewAuditService(a.store), a.redisClient, log)
		if err := auditor.Start(ctx); err != nil {
			return fmt.Errorf("start mirror auditor: %w", err)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	if auditor != nil {
		auditor.Stop()
		time.Sleep(500 * time.Millisecond)
	}
	cancel()
	log.Info("server stopped")
	return nil
}
