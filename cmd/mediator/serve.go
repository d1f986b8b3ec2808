package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meshcomm/didcomm-mediator/internal/config"
	"github.com/meshcomm/didcomm-mediator/internal/logging"
	"github.com/meshcomm/didcomm-mediator/internal/mediator"
	"github.com/meshcomm/didcomm-mediator/pkg/did"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the mediator HTTP/WebSocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.FileLoader(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	if dump, err := cfg.DumpYAML(); err == nil {
		log.Debug("effective config", zap.String("yaml", dump))
	}

	signingKey, verifyKey, err := decodeOrGenerateSigningKey(cfg.Auth.SigningKeySeedB64)
	if err != nil {
		return fmt.Errorf("auth signing key: %w", err)
	}

	resolver := did.NewStaticResolver()
	secrets := did.NewMemorySecrets()
	accounts := mediator.NewMemoryAccounts()
	sessions := mediator.NewMemorySessions()
	store := mediator.NewMemoryMessageStore()
	stream := mediator.NewStreamTask(log)

	streamDone := make(chan struct{})
	go stream.Run(streamDone)
	defer close(streamDone)

	expiryDone := make(chan struct{})
	go runExpirySweep(store, accounts, cfg.Limits.MessageExpiry, expiryDone)
	defer close(expiryDone)

	pickup := &mediator.PickupHandler{Store: store, Stream: stream, Accounts: accounts}
	routing := &mediator.RoutingHandler{
		Resolver: resolver,
		Secrets:  secrets,
		Accounts: accounts,
		Store:    store,
		Stream:   stream,
		Mediator: cfg.Server.MediatorDID,
	}
	admin := &mediator.AdminHandler{
		Accounts:   accounts,
		MyDID:      cfg.Server.MediatorDID,
		RootAdmin:  cfg.Server.AdminDID,
		DefaultACL: mediator.DefaultACL,
		SoftLimit:  cfg.Queue.DefaultSoftLimit,
		HardLimit:  cfg.Queue.DefaultHardLimit,
	}
	dispatcher := &mediator.Dispatcher{Log: log, Pickup: pickup, Routing: routing, Admin: admin, MyDID: cfg.Server.MediatorDID}

	srv := mediator.NewServer(mediator.ServerConfig{
		Addr:         cfg.Server.Addr,
		MyDID:        cfg.Server.MediatorDID,
		SigningKey:   signingKey,
		VerifyKey:    verifyKey,
		AccessTTL:    cfg.Auth.AccessTokenTTL,
		RefreshTTL:   cfg.Auth.RefreshTokenTTL,
		ChallengeTTL: cfg.Auth.ChallengeTTL,
	}, log, resolver, secrets, accounts, sessions, dispatcher, stream)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case <-ctx.Done():
		return nil
	}
}

// runExpirySweep periodically drops queued messages past their
// expires_at, until done is closed.
func runExpirySweep(store mediator.MessageStore, accounts mediator.AccountStore, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * 24 * time.Hour
	}
	tick := interval / 10
	if tick < time.Minute {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mediator.ExpireMessages(store, accounts, time.Now())
		case <-done:
			return
		}
	}
}

func decodeOrGenerateSigningKey(seedB64 string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if seedB64 == "" {
		pub, priv, err := ed25519.GenerateKey(nil)
		return priv, pub, err
	}
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode signing key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("signing key seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}
