package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/creditgate/internal/api"
	"github.com/digkill/creditgate/internal/config"
	"github.com/digkill/creditgate/internal/database"
	"github.com/digkill/creditgate/internal/notify"
	"github.com/digkill/creditgate/internal/reconcile"
	"github.com/digkill/creditgate/internal/repository"
	"github.com/digkill/creditgate/internal/service"
	"github.com/digkill/creditgate/internal/storage"
	"github.com/digkill/creditgate/internal/upstream"
	"github.com/digkill/creditgate/pkg/logger"
)

type gapStore interface {
	reconcile.Sink
	api.GapLister
}

type stores struct {
	accounts service.AccountAdminStore
	usage    service.UsageStore
	gaps     gapStore
	health   api.Pinger
	close    func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.close()
	logr.Info("store ready", "driver", cfg.StoreDriver)

	client, err := upstream.NewClient(cfg, logr)
	if err != nil {
		log.Fatalf("upstream client: %v", err)
	}

	recorder := reconcile.NewRecorder(logr)
	recorder.AddSink("store", st.gaps)
	if cfg.ArchiveEnabled() {
		archiver, err := storage.NewArchiver(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage archiver: %v", err)
		}
		recorder.AddSink("s3", archiver)
	}
	if cfg.AlertsEnabled() {
		notifier, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAlertChatID)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		recorder.AddSink("telegram", notifier)
	}

	estimator := service.NewEstimator(cfg.CharsPerToken, cfg.TokensPerCredit)
	guard := service.NewQuotaGuard(st.accounts, st.usage, cfg.FreeDailyCap, cfg.UsageLocation)
	ledger := service.NewLedger(st.accounts, logr, cfg.CommitAttempts)
	generationService := service.NewGenerationService(cfg, logr, st.accounts, estimator, guard, ledger, client, recorder)
	accountService := service.NewAccountService(st.accounts, guard, cfg.StartingCredits, cfg.CommitAttempts)

	server := api.NewServer(cfg, logr, generationService, accountService, st.gaps, st.health)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("gateway stopped", "err", err)
	}
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := repository.NewMemoryStore()
		return &stores{
			accounts: mem,
			usage:    mem,
			gaps:     mem,
			health:   mem,
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		accounts: repository.NewAccountRepository(db),
		usage:    repository.NewUsageRepository(db),
		gaps:     repository.NewGapRepository(db),
		health:   db,
		close:    db.Close,
	}, nil
}
