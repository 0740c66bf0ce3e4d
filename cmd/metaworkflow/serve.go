package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/kimjoonhwaan/metaworkflow/internal/api"
	"github.com/kimjoonhwaan/metaworkflow/internal/auth"
	"github.com/kimjoonhwaan/metaworkflow/internal/mcp"
	tlsutil "github.com/kimjoonhwaan/metaworkflow/internal/tls"
)

func newServeCmd() *cobra.Command {
	var useMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server with the background trigger scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), useMemory)
		},
	}
	cmd.Flags().BoolVar(&useMemory, "memory", false, "use the in-memory store instead of PostgreSQL")
	return cmd
}

func runServe(ctx context.Context, useMemory bool) error {
	app, err := buildStack(ctx, useMemory)
	if err != nil {
		return err
	}
	defer app.close()

	logger := app.log
	cfg := app.cfg
	logger.Info("Starting Metaworkflow Service", "environment", cfg.Environment)

	app.scheduler.Start()
	logger.Info("Trigger scheduler started", "interval", cfg.PollInterval())

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("metaworkflow"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := api.NewServer(app.workflows, app.runner, app.manager, app.scheduler, logger)

	// Health and inbound webhooks stay unauthenticated. Webhooks carry
	// their own per-trigger secret.
	e.GET("/health", srv.HandleHealth)
	e.POST("/hooks/:endpoint", srv.HandleWebhook)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.Middleware())
	apiGroup.Use(auth.RequireScope(auth.ScopeWorkflowRead))
	srv.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(app.workflows, app.runner, app.manager)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	addr := cfg.Server.Addr
	if cfg.TLS.Enable && addr == ":8080" {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if len(cfg.TLS.Hostnames) > 0 {
				if err := tlsutil.EnsureServerCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
					logger.Error("failed to generate self-signed cert", "error", err)
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}

	return nil
}
