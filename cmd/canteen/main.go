// Command canteen runs the canteen HTTP API and its maintenance jobs.
//
//	canteen [serve]                      start the API (default)
//	canteen migrate                      create or update the schema and exit
//	canteen mark-unclaimed [-through D]  move past open orders to unclaimed
//	canteen zero-balances                book month-end debt zeroing deposits
//	canteen purge-idempotency            delete expired Idempotency-Key records
//
// Configuration comes from the environment (and an optional .env file).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/config"
	"github.com/tbourn/canteen-backend/internal/domain"
	httpapi "github.com/tbourn/canteen-backend/internal/http"
	"github.com/tbourn/canteen-backend/internal/observability"
	"github.com/tbourn/canteen-backend/internal/repo"
	"github.com/tbourn/canteen-backend/internal/services"
	"github.com/tbourn/canteen-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("canteen failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sysutil.SetupLogging(os.Stderr, sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		NoColor: sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		Service: cfg.OTEL.ServiceName,
		Version: appVersion(),
	})

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	switch cmd {
	case "serve":
		return serve(ctx, db, cfg)
	case "migrate":
		log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")
		return nil
	case "mark-unclaimed":
		return markUnclaimed(ctx, db, cfg, args)
	case "zero-balances":
		rep, err := services.NewSweepService(db).ZeroNegativeBalances(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("users", rep.Users).Str("amount", rep.Amount.StringFixed(2)).Msg("zero-balances done")
		return nil
	case "purge-idempotency":
		n, err := services.NewSweepService(db).PurgeIdempotency(ctx)
		if err != nil {
			return err
		}
		log.Info().Int64("records", n).Msg("purge-idempotency done")
		return nil
	default:
		return fmt.Errorf("unknown command %q (serve, migrate, mark-unclaimed, zero-balances, purge-idempotency)", cmd)
	}
}

func appVersion() string {
	return sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
}

func serve(ctx context.Context, db *gorm.DB, cfg config.Config) error {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	if err := httpapi.RegisterRoutes(r, db, cfg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("http: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("http: stopped")
	return nil
}

// markUnclaimed sweeps through the given date, yesterday in the canteen's zone by default.
func markUnclaimed(ctx context.Context, db *gorm.DB, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("mark-unclaimed", flag.ContinueOnError)
	through := fs.String("through", "", "last service date to sweep (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *through == "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return err
		}
		*through = time.Now().In(loc).AddDate(0, 0, -1).Format(domain.DateLayout)
	}
	n, err := services.NewSweepService(db).MarkUnclaimed(ctx, *through)
	if err != nil {
		return err
	}
	log.Info().Str("through", *through).Int64("orders", n).Msg("mark-unclaimed done")
	return nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}
