// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, реестр ботов,
// уведомления, планировщик и HTTP-сервер.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/bot"
	"serotonyl.ru/stars-bot/internal/config"
	"serotonyl.ru/stars-bot/internal/db/postgres"
	"serotonyl.ru/stars-bot/internal/features/admin"
	"serotonyl.ru/stars-bot/internal/features/payments"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/tokens"
	"serotonyl.ru/stars-bot/internal/features/users"
	"serotonyl.ru/stars-bot/internal/jobs"
	"serotonyl.ru/stars-bot/internal/notify"
	"serotonyl.ru/stars-bot/internal/server"
)

// App содержит все компоненты приложения.
type App struct {
	DB         *pgxpool.Pool
	Registry   *bot.Registry
	Handler    *bot.Handler
	Payments   *payments.Service
	Dispatcher *notify.Dispatcher
	Deferred   *jobs.Deferred
	Scheduler  *jobs.Scheduler
	Server     *server.Server

	publisher *notify.EventPublisher
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	if err := postgres.RunMigrations(cfg); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	prices, err := pricing.LoadFile(cfg.PricingFile)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка загрузки цен: %w", err)
	}

	// === 2. Репозитории ===
	userRepo := users.NewRepository(pool)
	tokenRepo := tokens.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 3. Сервисы ===
	userService := users.NewService(userRepo)
	adminService := admin.NewService(adminRepo, cfg.AdminTokenHash, cfg.AdminMaxAttempts, cfg.AdminAttemptWindow)

	// === 4. Реестр ботов ===
	registry := bot.NewRegistry(tokenRepo, bot.NewTelegoAPI, bot.WebhookConfig{
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
		Timeout: cfg.TelegramTimeout,
	})

	// === 5. Уведомления ===
	var publisher *notify.EventPublisher
	var events notify.Sink = notify.LogPublisher{}
	if cfg.NatsURL != "" {
		publisher, err = notify.NewEventPublisher(ctx, notify.NatsConfig{
			URL:        cfg.NatsURL,
			ClientName: cfg.NatsClientName,
			Stream:     cfg.NatsStream,
			Subject:    cfg.NatsSubject,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		events = publisher
	}
	dispatcher := notify.NewDispatcher(userService, cfg.TelegramTimeout*3,
		notify.NewUserMessenger(registry),
		events,
	)

	// === 6. Платежи ===
	paymentService := payments.NewService(paymentRepo, tokenRepo, prices, dispatcher, payments.Options{
		Provider:             cfg.PaymentProvider,
		StarsUSDRate:         cfg.StarsUSDRate,
		ReferralRate:         cfg.ReferralRate,
		ReconcileMinAge:      cfg.ReconcileMinAge,
		ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
		ReconcileBatch:       cfg.ReconcileBatch,
	})

	// === 7. Обработчик апдейтов ===
	deferred := jobs.NewDeferred(cfg.TelegramTimeout)
	handler := bot.New(paymentService, userService, registry, deferred, bot.Options{
		Currency:           cfg.StarsCurrency,
		CallTimeout:        cfg.TelegramTimeout,
		MessageDeleteDelay: cfg.MessageDeleteDelay,
		MaxInflight:        cfg.BotMaxInflight,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
	})

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(jobs.ScheduleConfig{
		Timezone:        cfg.AppTimezone,
		Reconcile:       cfg.ReconcileSchedule,
		RegistryRefresh: cfg.RegistryRefreshSchedule,
		AttemptsPurge:   cfg.AttemptsPurgeSchedule,
	}, paymentService, registry).WithPurger(adminService)

	// === 9. HTTP ===
	deps := server.Deps{
		Updates:  handler,
		Bots:     registry,
		Payments: paymentService,
		Invoices: bot.NewInvoicer(registry, userService, cfg.StarsCurrency),
		Auth:     adminService,
		DB:       pool,
	}
	if publisher != nil {
		deps.Broker = publisher
	}
	srv := server.New(deps, server.Options{
		Addr:          cfg.HTTPAddr,
		WebhookSecret: cfg.WebhookSecret,
	})

	return &App{
		DB:         pool,
		Registry:   registry,
		Handler:    handler,
		Payments:   paymentService,
		Dispatcher: dispatcher,
		Deferred:   deferred,
		Scheduler:  scheduler,
		Server:     srv,
		publisher:  publisher,
	}, nil
}

// Start поднимает ботов и фоновые задачи. HTTP-сервер запускает main.
func (a *App) Start(ctx context.Context) error {
	n, err := a.Registry.Init(ctx)
	if err != nil {
		return fmt.Errorf("ошибка инициализации ботов: %w", err)
	}
	log.WithField("bots", n).Info("Реестр ботов готов")

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	return nil
}

// Shutdown останавливает компоненты в обратном порядке.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Ошибка остановки HTTP сервера")
	}
	a.Scheduler.Stop()
	a.Deferred.Stop()
	a.Handler.Close()

	// webhook'и снимаем последними: до этого апдейты ещё могли приходить
	regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	a.Registry.Close(regCtx)
	cancel()

	a.Dispatcher.Close()
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.DB.Close()
}
