// Command ltiserver runs a standalone LTI 2.1 tool provider with a
// bbolt-backed proxy store.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	lti "github.com/JesGor/lti2-reference-tool-provider"
	"github.com/JesGor/lti2-reference-tool-provider/security"
	"github.com/JesGor/lti2-reference-tool-provider/storage/bolt"
	"github.com/JesGor/lti2-reference-tool-provider/storage/memory"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ltiserver",
		Short:        "LTI 2.1 tool provider",
		Long:         "ltiserver serves the LTI 2.1 registration and launch endpoints of a tool provider.",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newKeygenCmd())
	return root
}

type serveOptions struct {
	addr          string
	baseURL       string
	dbPath        string
	encryptionKey string
	nonceMaxAge   time.Duration
	rateLimit     int
	rateBurst     int
	trustProxy    bool
	auditLogging  bool
	logJSON       bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registration and launch endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.StringVar(&opts.baseURL, "base-url", "", "this tool's externally visible base URL (required)")
	flags.StringVar(&opts.dbPath, "db", "", "path to the bbolt database; empty keeps everything in memory")
	flags.StringVar(&opts.encryptionKey, "encryption-key", "", "base64-encoded 32-byte AES key for shared secret encryption at rest")
	flags.DurationVar(&opts.nonceMaxAge, "nonce-max-age", lti.DefaultNonceMaxAge, "launch replay window")
	flags.IntVar(&opts.rateLimit, "rate-limit", 5, "registration requests per second per IP (0 disables)")
	flags.IntVar(&opts.rateBurst, "rate-burst", 10, "registration burst size per IP")
	flags.BoolVar(&opts.trustProxy, "trust-proxy", false, "trust X-Forwarded-For/X-Forwarded-Proto headers")
	flags.BoolVar(&opts.auditLogging, "audit", true, "enable security audit logging")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log in JSON instead of text")
	_ = cmd.MarkFlagRequired("base-url")

	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key for --encryption-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateEncryptionKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	logger := newLogger(opts.logJSON)

	var encryptionKey []byte
	if opts.encryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(opts.encryptionKey)
		if err != nil {
			return fmt.Errorf("decode encryption key: %w", err)
		}
		encryptionKey = key
	}
	encryptor, err := security.NewEncryptor(encryptionKey)
	if err != nil {
		return err
	}

	config := &lti.Config{
		BaseURL:     opts.baseURL,
		NonceMaxAge: opts.nonceMaxAge,
		RateLimit: lti.RateLimitConfig{
			Rate:       opts.rateLimit,
			Burst:      opts.rateBurst,
			TrustProxy: opts.trustProxy,
		},
		Security: lti.SecurityConfig{
			EncryptionKey:      encryptionKey,
			EnableAuditLogging: opts.auditLogging,
		},
		Logger: logger,
	}

	var server *lti.Server
	if opts.dbPath != "" {
		store, err := bolt.Open(opts.dbPath,
			bolt.WithLogger(logger),
			bolt.WithEncryptor(encryptor),
		)
		if err != nil {
			return fmt.Errorf("open proxy store: %w", err)
		}
		defer store.Close()

		server, err = lti.New(store, store, config)
		if err != nil {
			return err
		}
		logger.Info("using bbolt store", "path", opts.dbPath)
	} else {
		store := memory.New()
		store.SetLogger(logger)
		store.SetEncryptor(encryptor)
		defer store.Stop()

		server, err = lti.New(store, store, config)
		if err != nil {
			return err
		}
		logger.Warn("using in-memory store, registrations are lost on restart")
	}

	handler := lti.NewHandler(server)
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr, "base_url", opts.baseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(jsonFormat bool) *slog.Logger {
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler)
}
