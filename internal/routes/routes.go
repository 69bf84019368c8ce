package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/congo_ledger/internal/config"
	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/middleware"
	"github.com/congo-pay/congo_ledger/internal/notification"
	"github.com/congo-pay/congo_ledger/internal/payments"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Kafka  *kafka.Writer
	Logger *slog.Logger
}

// backend is everything the wallet, funding and payments layers need from storage.
type backend interface {
	wallet.Repository
	wallet.History
	funding.Repository
	payments.Backend
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var backing backend
	if d.DB != nil {
		backing = store.NewPostgres(d.DB)
	} else {
		backing = store.NewMemory()
	}

	notifier, err := buildNotifier(d)
	if err != nil {
		return err
	}

	walletSvc := wallet.NewService(backing, backing, d.Cfg.DefaultCurrency)
	registry := funding.NewRegistry(backing)
	processor := payments.NewProcessor(backing, notifier, d.Logger, d.Cfg.RoundCapPolicy)

	if err := seedRounds(context.Background(), registry, d); err != nil {
		return err
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api
	if d.Cfg.JWTSecret != "" {
		protected = api.Group("", middleware.JWTAuth([]byte(d.Cfg.JWTSecret)))
	} else {
		d.Logger.Warn("JWT_SECRET not set, api routes are unauthenticated")
	}
	// after JWTAuth, so stored responses are keyed by the caller
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// settlement is decided by the clearing side, never by the account holder
	clearing := protected.Group("/clearing")
	if d.Cfg.JWTSecret != "" {
		clearing.Use(middleware.RequireRole(middleware.RoleClearing))
	}

	limiter := middleware.CommandRateLimit(d.Cache, d.Cfg.CommandRateLimit, d.Logger)
	ph := payments.NewHandler(processor)
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterPaymentRoutes(protected, ph, limiter)
	RegisterClearingRoutes(clearing, ph)
	RegisterFundingRoutes(protected, funding.NewHandler(registry))

	return nil
}

func buildNotifier(d Deps) (notification.Notifier, error) {
	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Kafka != nil {
		kn, err := notification.NewKafkaNotifier(d.Kafka, d.Cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, kn)
	}
	return notifiers, nil
}

// seedRounds imports the configured catalog. Rounds that already exist are
// left untouched so restarts are harmless.
func seedRounds(ctx context.Context, registry *funding.Registry, d Deps) error {
	if d.Cfg.RoundsCatalog == "" {
		return nil
	}
	rounds, err := funding.LoadCatalog(d.Cfg.RoundsCatalog)
	if err != nil {
		return err
	}
	for _, r := range rounds {
		if _, err := registry.Create(ctx, r); err != nil {
			if errors.Is(err, funding.ErrRoundExists) {
				continue
			}
			return fmt.Errorf("seed round %s: %w", r.ID, err)
		}
		d.Logger.Info("funding round imported", slog.String("round_id", r.ID))
	}
	return nil
}
