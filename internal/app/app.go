// Package app wires configuration, storage, services, jobs and the HTTP
// server together.
package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"shadowrealms_backend/internal/server"
	"shadowrealms_backend/internal/service"
	"shadowrealms_backend/pkg/backup"
	"shadowrealms_backend/pkg/config"
	"shadowrealms_backend/pkg/cron"
	"shadowrealms_backend/pkg/database"
	"shadowrealms_backend/pkg/email"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/oops"
	"shadowrealms_backend/pkg/storage"
	"shadowrealms_backend/pkg/storage/local"
	"shadowrealms_backend/pkg/storage/memory"
	"shadowrealms_backend/pkg/storage/relational"
	"shadowrealms_backend/pkg/storage/surreal"
)

type App struct {
	Config        *config.Config
	DB            *gorm.DB
	Stats         *relational.Store
	Store         *storage.Failover
	Subscriptions *service.SubscriptionService
	Admin         *service.AdminService
	Server        *fiber.App

	closers []func() error
}

// Bootstrap opens every store named in cfg and builds the services on top.
// A primary store that is down at startup is not fatal: writes fail over to
// the secondary until it comes back.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error { return database.Close(db) })
	a.Stats = relational.New(db)

	primary, err := a.openPrimary(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	secondary, err := openSecondary(cfg.Store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = storage.NewFailover(primary, secondary, cfg.Store.Timeout)

	a.Subscriptions = service.NewSubscriptionService(a.Store, a.Stats)
	a.closers = append(a.closers, func() error { a.Subscriptions.Close(); return nil })
	if err := a.Subscriptions.Load(ctx); err != nil {
		logging.Module("app").Warn().Err(err).Msg("Starting without a subscriber mirror")
	}

	a.Admin = service.NewAdminService(a.Store, a.Stats, cfg.Admin.Password, cfg.Admin.PasswordHash)
	a.Admin.AfterClear = a.Subscriptions.Forget
	if !a.Admin.Enabled() {
		logging.Module("app").Warn().Msg("ADMIN_PASSWORD is not set, admin API is disabled")
	}

	a.Server = server.New(server.Deps{
		Subscriptions: a.Subscriptions,
		Admin:         a.Admin,
		RateLimit:     cfg.RateLimit,
		PublicDir:     cfg.Server.PublicDir,
	})
	return a, nil
}

// OpenDatabase connects and migrates the relational database.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver != "postgres" && cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, oops.New(err, "could not create database directory")
		}
	}

	dsn := cfg.DSN()
	if cfg.SQLitePath == ":memory:" && cfg.Driver != "postgres" {
		dsn = ":memory:"
	}

	db, err := database.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}
	return db, nil
}

func (a *App) openPrimary(ctx context.Context) (storage.Backend, error) {
	switch a.Config.Store.Primary {
	case "sql", "":
		return a.Stats, nil
	case "memory":
		return memory.New("memory"), nil
	case "surreal":
		sc := a.Config.Surreal
		store, err := surreal.Connect(ctx, surreal.Config{
			URL:       sc.URL,
			Namespace: sc.Namespace,
			Database:  sc.Database,
			Username:  sc.Username,
			Password:  sc.Password,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, oops.New(nil, "unknown primary store %q", a.Config.Store.Primary)
	}
}

func openSecondary(cfg config.StoreConfig) (storage.Backend, error) {
	switch cfg.Secondary {
	case "file", "":
		return local.New(cfg.LocalPath, cfg.LocalQuotaBytes), nil
	case "none":
		return nil, nil
	default:
		return nil, oops.New(nil, "unknown secondary store %q", cfg.Secondary)
	}
}

// Scheduler registers the background jobs the configuration enables.
func (a *App) Scheduler(ctx context.Context) (*cron.Scheduler, error) {
	cfg := a.Config
	s := cron.New()

	if a.Store.Secondary != nil {
		if err := s.Add("reconcile", cfg.Jobs.ReconcileCron, cron.ReconcileJob(a.Subscriptions)); err != nil {
			return nil, err
		}
	}

	if cfg.Email.ResendAPIKey != "" && cfg.Admin.Email != "" {
		mailer, err := email.NewEmailService(cfg.Email.ResendAPIKey, cfg.Email.From)
		if err != nil {
			return nil, err
		}
		digest := cron.NewDailyDigest(a.Admin, a.Stats, mailer, cfg.Admin.Email, service.GameName)
		if err := s.Add("daily-digest", cfg.Jobs.DigestCron, digest.Run); err != nil {
			return nil, err
		}
	} else {
		logging.Module("app").Info().Msg("RESEND_API_KEY or ADMIN_EMAIL not set, daily digest disabled")
	}

	if cfg.Backup.Enabled() {
		uploader, err := backup.NewUploader(ctx, cfg.Backup)
		if err != nil {
			return nil, err
		}
		if err := s.Add("backup", cfg.Jobs.BackupCron, cron.BackupJob(a.Admin, uploader, service.GameName, nil)); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
