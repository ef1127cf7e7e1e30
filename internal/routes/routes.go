package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pointledger/internal/account"
	"github.com/congo-pay/pointledger/internal/config"
	"github.com/congo-pay/pointledger/internal/history"
	"github.com/congo-pay/pointledger/internal/ledger"
	"github.com/congo-pay/pointledger/internal/middleware"
	"github.com/congo-pay/pointledger/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
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
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var (
		accounts account.Store
		txLog    history.Log
		opts     []ledger.Option
	)
	if d.DB != nil {
		accounts = account.NewPostgresStore(d.DB)
		txLog = history.NewPostgresLog(d.DB)
		opts = append(opts, ledger.WithTxRunner(ledger.NewPostgresTx(d.DB)))
	} else {
		accounts = account.NewMemoryStore()
		txLog = history.NewMemoryLog()
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	ledgerSvc := ledger.NewService(accounts, txLog, notifier, d.Logger, opts...)

	var guards []fiber.Handler
	if d.Cache != nil {
		guards = append(guards, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	guards = append(guards, middleware.PointRateLimit(d.Cache, d.Cfg.RateLimitPerMinute))
	RegisterPointRoutes(app, ledger.NewHandler(ledgerSvc), guards...)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	return nil
}
