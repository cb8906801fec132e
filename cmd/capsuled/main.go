// Command capsuled runs the capsule HTTP API and the unlock reconciler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AlexZinkM/legacy-capsule/capsule"
	"github.com/AlexZinkM/legacy-capsule/internal/api"
	"github.com/AlexZinkM/legacy-capsule/internal/cache"
	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/config"
	"github.com/AlexZinkM/legacy-capsule/internal/crypto"
	"github.com/AlexZinkM/legacy-capsule/internal/handler"
	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/notify"
	"github.com/AlexZinkM/legacy-capsule/internal/scheduler"
	"github.com/AlexZinkM/legacy-capsule/internal/store"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Init(cfg.LogLevel, cfg.LogJSON)

	if err := run(cfg); err != nil {
		log.Logger.Fatal().Err(err).Msg("capsuled stopped")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := crypto.NewSecretCodec(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	repos := store.New(db)

	ledger := client.NewLedgerClient(
		rpc.New(cfg.SolanaRPCURL),
		cfg.Program(),
		client.WithConfirmTimeout(cfg.ConfirmTimeout),
	)
	entries := cache.New(cfg.CacheSize)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var notifier notify.Notifier = notify.LogNotifier{Log: log.Notify}
	if cfg.SMTPEnabled() {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			From:        cfg.SMTPFrom,
			PasswordTTL: cfg.PasswordTTL,
		})
	} else {
		log.Notify.Warn().Msg("SMTP_HOST not set, claim notifications are only logged")
	}

	reconciler, err := scheduler.NewReconciler(scheduler.Config{
		Capsules:       repos.Capsules,
		Heirs:          repos.Heirs,
		Cache:          entries,
		Keys:           codec,
		Notifier:       notifier,
		Bind:           func(key solana.PrivateKey) scheduler.Ledger { return ledger.WithSigner(key) },
		LockedCacheTTL: cfg.LockedCacheTTL,
		PasswordTTL:    cfg.PasswordTTL,
		Registerer:     registry,
	})
	if err != nil {
		return err
	}

	capsules, err := handler.NewCapsuleHandler(handler.Config{
		Users:          repos.Users,
		Heirs:          repos.Heirs,
		Capsules:       repos.Capsules,
		Keys:           codec,
		Cache:          entries,
		Reader:         ledger,
		Bind:           func(key solana.PrivateKey) capsule.Ledger { return ledger.WithSigner(key) },
		ServiceOptions: []capsule.Option{capsule.WithBootstrapLamports(cfg.BootstrapLamports)},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.SetupRouter(api.Handlers{
			Capsules: capsules,
			Health:   handler.NewHealthHandler(sqlDB.PingContext),
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.NewScheduler(reconciler, cfg.ReconcileInterval).Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.API.Info().Str("addr", srv.Addr).Str("program", cfg.ProgramID).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Logger.Info().Msg("shutting down")
	case err = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.API.Error().Err(shutdownErr).Msg("http shutdown")
	}
	wg.Wait()
	return err
}
