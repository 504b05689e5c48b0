package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/zkchat/zkauth/api"
	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/internal/util"
	bboltstorage "github.com/zkchat/zkauth/storage/bbolt"
	"github.com/zkchat/zkauth/storage/memory"
	"github.com/zkchat/zkauth/storage/postgres"
)

const sweepInterval = time.Minute

var (
	port               int
	tlsCert            string
	tlsKey             string
	insecure           bool
	minPasswordLen     int
	kdfIterations      int
	sessionTTL         time.Duration
	sessionIdleTimeout time.Duration
	auditDB            string
	auditDSN           string
	auditMaxAge        time.Duration
	auditMaxEntries    int
	tokenSecret        string
	tokenTTL           time.Duration
	trustedProxies     []string
	logLevel           string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		kdf, err := auth.NewKDF(kdfIterations)
		if err != nil {
			return err
		}
		accounts := auth.NewCredentialStore(memory.NewRepository(),
			auth.WithKDF(kdf),
			auth.WithMinPasswordLen(minPasswordLen),
		)
		tokens, err := newTokenIssuer(tokenSecret, tokenTTL)
		if err != nil {
			return err
		}

		// An authenticated session stays online as long as its token is valid.
		sessions := auth.NewSessionManager(accounts,
			auth.WithSessionTTL(sessionTTL),
			auth.WithAuthenticatedTTL(tokens.TTL()),
			auth.WithSessionStore(auth.NewMemorySessionStore(sessionIdleTimeout)),
		)

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithTokenIssuer(tokens),
			api.WithAuditRetention(auditMaxAge, auditMaxEntries),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert", "type", e.Type, "message", e.Message,
					"count", e.Count, "threshold", e.Threshold)
			}),
		}
		if len(trustedProxies) > 0 {
			opt, err := api.WithTrustedProxies(trustedProxies)
			if err != nil {
				return err
			}
			opts = append(opts, opt)
		}
		if auditDB != "" && auditDSN != "" {
			return errors.New("--audit-db and --audit-dsn are mutually exclusive")
		}
		switch {
		case auditDSN != "":
			repo, err := postgres.NewRepositoryFromDSN(cmd.Context(), auditDSN)
			if err != nil {
				return fmt.Errorf("failed to open audit storage: %w", err)
			}
			defer repo.Close()
			opts = append(opts, api.WithAuditRepository(repo))
		case auditDB != "":
			repo, err := bboltstorage.NewRepositoryFromFile(auditDB, nil)
			if err != nil {
				return fmt.Errorf("failed to open audit storage: %w", err)
			}
			defer repo.Close()
			opts = append(opts, api.WithAuditRepository(repo))
		}

		a, err := api.New(accounts, sessions, opts...)
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if !insecure {
			tlsConfig, err := loadTLSConfig(cmd, tlsCert, tlsKey)
			if err != nil {
				return err
			}
			server.TLSConfig = tlsConfig
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go sweepLoop(ctx, a, logger)

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		scheme := "https"
		if insecure {
			scheme = "http"
		}
		fmt.Fprintf(out, "Listening on %s://0.0.0.0:%d (kdf iterations: %d)\n", scheme, port, kdf.Iterations())

		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func sweepLoop(ctx context.Context, a *api.API, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func newTokenIssuer(secret string, ttl time.Duration) (*auth.TokenIssuer, error) {
	if secret == "" {
		random, err := util.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		return auth.NewTokenIssuer(random, ttl)
	}
	return auth.NewTokenIssuer([]byte(secret), ttl)
}

func loadTLSConfig(cmd *cobra.Command, certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&port, "port", "p", 4000, "Port to listen on")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	f.BoolVar(&insecure, "insecure", true, "Serve plain HTTP (set false for TLS)")
	f.IntVar(&minPasswordLen, "min-password-len", auth.DefaultMinPasswordLen, "Minimum password length at registration")
	f.IntVar(&kdfIterations, "kdf-iterations", auth.DefaultKDF().Iterations(), "PBKDF2 iterations; clients must match")
	f.DurationVar(&sessionTTL, "session-ttl", auth.DefaultSessionTTL, "Absolute lifetime of a login attempt (0 disables)")
	f.DurationVar(&sessionIdleTimeout, "session-idle-timeout", auth.DefaultSessionIdleTimeout, "Idle timeout for unauthenticated sessions (0 disables)")
	f.StringVar(&auditDB, "audit-db", "", "BBolt file for the persistent audit trail (memory if empty)")
	f.StringVar(&auditDSN, "audit-dsn", "", "PostgreSQL DSN for the persistent audit trail")
	f.DurationVar(&auditMaxAge, "audit-max-age", 0, "Drop audit entries older than this (0 keeps all)")
	f.IntVar(&auditMaxEntries, "audit-max-entries", 0, "Keep at most this many audit entries (0 keeps all)")
	f.StringVar(&tokenSecret, "token-secret", "", "HS256 secret for admission tokens, at least 32 bytes (random if empty)")
	f.DurationVar(&tokenTTL, "token-ttl", auth.DefaultTokenTTL, "Admission token and authenticated session lifetime")
	f.StringSliceVar(&trustedProxies, "trusted-proxies", nil, "CIDRs whose proxy headers are trusted")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
