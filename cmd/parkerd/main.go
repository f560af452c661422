package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/parqhub/parqcore/internal/booking"
	"github.com/parqhub/parqcore/internal/escrow"
	"github.com/parqhub/parqcore/internal/noshow"
	"github.com/parqhub/parqcore/internal/oplog"
	"github.com/parqhub/parqcore/internal/store/gormstore"
	"github.com/parqhub/parqcore/pkg/ledger"
)

const (
	flagDatabaseURL   = "database-url"
	flagSweepInterval = "sweep-interval"
	flagPlatformOwner = "platform-owner"

	configKeyDatabaseURL   = "database_url"
	configKeySweepInterval = "sweep_interval"
	configKeyPlatformOwner = "platform_owner"

	defaultDatabaseURL   = "sqlite:///tmp/parqcore.db"
	defaultSweepInterval = 5 * time.Minute
	defaultPlatformOwner = "platform"
)

type runtimeConfig struct {
	DatabaseURL   string
	SweepInterval time.Duration
	PlatformOwner string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parkerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "parkerd",
		Short:         "Parking marketplace money core daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "interval between overdue no-show sweeps")
	cmd.Flags().String(flagPlatformOwner, defaultPlatformOwner, "ledger owner that collects platform fees")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeySweepInterval, "SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyPlatformOwner, "PLATFORM_OWNER"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeySweepInterval, cmd.Flags().Lookup(flagSweepInterval)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyPlatformOwner, cmd.Flags().Lookup(flagPlatformOwner)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	cfg.PlatformOwner = viper.GetString(configKeyPlatformOwner)
	if cfg.PlatformOwner == "" {
		cfg.PlatformOwner = defaultPlatformOwner
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	unixClock := func() int64 { return time.Now().UTC().Unix() }
	wallClock := func() time.Time { return time.Now().UTC() }

	ledgerService, err := ledger.NewService(
		gormstore.NewLedgerStore(gormDB),
		unixClock,
		ledger.WithOperationLogger(oplog.NewZapOperationLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	escrowService, err := escrow.NewService(gormstore.NewEscrowStore(gormDB), unixClock)
	if err != nil {
		return fmt.Errorf("escrow service init: %w", err)
	}

	bookingStore := gormstore.NewBookingStore(gormDB)
	bookingService, err := booking.NewService(
		bookingStore,
		ledgerService,
		escrowService,
		booking.NewTieredPolicy(bookingStore),
		logger,
		wallClock,
		booking.WithPlatformOwner(cfg.PlatformOwner),
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	scheduler, err := noshow.NewScheduler(gormstore.NewNoShowStore(gormDB), bookingService, logger, wallClock)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	bookingService.AttachScheduler(scheduler)

	restored, err := scheduler.RestoreOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("restore no-show jobs: %w", err)
	}
	logger.Info("daemon started",
		zap.String("driver", driver),
		zap.Int("jobs_restored", restored),
		zap.Duration("sweep_interval", cfg.SweepInterval))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			return nil
		case <-ticker.C:
			if _, err := scheduler.ManualSweep(ctx); err != nil {
				logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "parqcore.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(
		&gormstore.Account{},
		&gormstore.LedgerTransaction{},
		&gormstore.EscrowAccount{},
		&gormstore.Booking{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
