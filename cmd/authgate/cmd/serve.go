package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/credential"
	"github.com/dlfjsld1/kopring-gateway/internal/db/bunx"
	"github.com/dlfjsld1/kopring-gateway/internal/login"
	"github.com/dlfjsld1/kopring-gateway/internal/member"
	gatemiddleware "github.com/dlfjsld1/kopring-gateway/internal/middleware"
	"github.com/dlfjsld1/kopring-gateway/internal/policy"
	"github.com/dlfjsld1/kopring-gateway/internal/repository"
	"github.com/dlfjsld1/kopring-gateway/internal/server"
	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long:  `Starts the HTTP server with the authentication filter, policy enforcement, login and member endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				log.Printf("Warning: telemetry shutdown: %v", err)
			}
		}()

		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		log.Printf("Connected to %s database", bunx.DetectDatabaseType(cfg.DatabaseURL))

		secret := []byte(cfg.Credential.Secret)
		codec, err := credential.NewCodec(credential.Options{
			Secret:    secret,
			TTL:       cfg.Credential.TTL,
			ClockSkew: cfg.Credential.ClockSkew,
			Issuer:    cfg.Credential.Issuer,
		})
		if err != nil {
			return fmt.Errorf("failed to build credential codec: %w", err)
		}

		members := member.NewService(repository.NewBunMemberRepository(db), codec, member.Options{
			CacheSize: cfg.Directory.CacheSize,
			CacheTTL:  cfg.Directory.CacheTTL,
		})

		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}
		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}

		resolver := auth.NewResolver(
			auth.NewBearerAuthenticator(codec, members, time.Now),
			auth.NewAPIKeyAuthenticator(members),
			authMetrics,
		)

		table, err := policy.FromConfig(cfg.Policy)
		if err != nil {
			return fmt.Errorf("failed to load access policy: %w", err)
		}
		log.Printf("Loaded %d access rules (no match: %s)", len(table.Rules()), cfg.Policy.Default)

		authz := gatemiddleware.AuthzDependencies{
			Table:   table,
			Metrics: authMetrics,
		}
		if cfg.Debug {
			authz.DecisionLog = log.Default()
			log.Printf("Debug mode: logging every access decision")
		}

		cookies := auth.NewCookieWriter(auth.CookieOptions{
			Domain:       cfg.Cookie.Domain,
			Path:         cfg.Cookie.Path,
			Secure:       cfg.Cookie.Secure,
			HTTPOnly:     cfg.Cookie.HTTPOnly,
			SameSite:     cfg.Cookie.SameSite,
			AccessMaxAge: codec.TTL(),
			APIKeyMaxAge: cfg.Cookie.APIKeyMaxAge,
		})

		providers, err := login.NewProviders(ctx, cfg.Login.Providers, secret, cfg.Cookie.Secure)
		if err != nil {
			return fmt.Errorf("failed to configure login providers: %w", err)
		}
		coordinator, err := login.NewCoordinator(login.Options{
			Providers: providers,
			Directory: members,
			Cookies:   cookies,
			Redirects: login.NewPendingRedirects(login.RedirectOptions{
				Secret:         secret,
				TTL:            cfg.Login.RedirectTTL,
				Default:        cfg.Login.DefaultRedirectURL,
				AllowedOrigins: cfg.CORS.AllowedOrigins,
				Domain:         cfg.Cookie.Domain,
				Secure:         cfg.Cookie.Secure,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create login coordinator: %w", err)
		}
		log.Printf("Login providers: %d configured", len(providers))

		corsOpts := server.DefaultCORSOptions(cfg.CORS.AllowedOrigins)
		handler, err := server.NewH2CHandler(server.RouterOptions{
			Authn: gatemiddleware.AuthnDependencies{
				Resolver: resolver,
				Issuer:   codec,
				Cookies:  cookies,
			},
			Authz:       authz,
			Login:       coordinator,
			Members:     members,
			Cookies:     cookies,
			CORSOptions: &corsOpts,
			Metrics:     serverMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to build router: %w", err)
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Server URL: %s", cfg.ServerURL)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Printf("Shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			log.Printf("Server stopped")
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
