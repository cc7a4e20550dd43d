// Package main — starsctl, операторская утилита платёжного бота:
// миграции, ручное зачисление, зависшие платежи, токены ботов и цены.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/stars-bot/internal/bot"
	"serotonyl.ru/stars-bot/internal/config"
	"serotonyl.ru/stars-bot/internal/db/postgres"
	"serotonyl.ru/stars-bot/internal/features/payments"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/tokens"
	"serotonyl.ru/stars-bot/internal/features/users"
	"serotonyl.ru/stars-bot/internal/notify"
)

var Version = "dev"

var (
	logLevel string
	timeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "starsctl",
		Short:         "Operator tool for the Telegram Stars payment bot",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
			log.SetOutput(os.Stderr)
			if lvl, err := log.ParseLevel(logLevel); err == nil {
				log.SetLevel(lvl)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "logrus level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "overall command timeout")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(hashCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

// env — конфиг и пул БД для команд, которым нужна база.
type env struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, pool: pool}, nil
}

func (e *env) Close() { e.pool.Close() }

// paymentStack — платёжный сервис с уведомлениями через ботов, как в сервисе.
// Webhook'и не трогаем: сессии открываются лениво.
type paymentStack struct {
	service    *payments.Service
	dispatcher *notify.Dispatcher
}

func (e *env) payments() (*paymentStack, error) {
	prices, err := pricing.LoadFile(e.cfg.PricingFile)
	if err != nil {
		return nil, err
	}
	tokenRepo := tokens.NewRepository(e.pool)
	registry := bot.NewRegistry(tokenRepo, bot.NewTelegoAPI, bot.WebhookConfig{Timeout: e.cfg.TelegramTimeout})
	dispatcher := notify.NewDispatcher(users.NewService(users.NewRepository(e.pool)), e.cfg.TelegramTimeout*3,
		notify.NewUserMessenger(registry),
		notify.LogPublisher{},
	)
	svc := payments.NewService(payments.NewRepository(e.pool), tokenRepo, prices, dispatcher, payments.Options{
		Provider:             e.cfg.PaymentProvider,
		StarsUSDRate:         e.cfg.StarsUSDRate,
		ReferralRate:         e.cfg.ReferralRate,
		ReconcileMinAge:      e.cfg.ReconcileMinAge,
		ReconcileMaxAttempts: e.cfg.ReconcileMaxAttempts,
		ReconcileBatch:       e.cfg.ReconcileBatch,
	})
	return &paymentStack{service: svc, dispatcher: dispatcher}, nil
}

// Close дожидается отправки уведомлений.
func (p *paymentStack) Close() { p.dispatcher.Close() }
