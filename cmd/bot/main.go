// Package main — точка входа платёжного бота.
// Загружает конфигурацию, собирает приложение и поднимает HTTP-сервер для webhook'ов.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/app"
	"serotonyl.ru/stars-bot/internal/config"
)

func main() {
	setupLogging("text", "debug")

	log.Info("=== Бот запускается ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}
	setupLogging(cfg.AppLogFormat, cfg.AppLogLevel)

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}

	// HTTP поднимаем до регистрации webhook'ов: Telegram начнёт слать апдейты сразу
	serveErr := make(chan error, 1)
	go func() { serveErr <- application.Server.ListenAndServe() }()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("Не удалось запустить приложение")
		shutdown(application)
		os.Exit(1)
	}

	log.WithFields(log.Fields{
		"addr": cfg.HTTPAddr,
		"env":  cfg.AppEnv,
	}).Info("=== Бот готов к работе ===")

	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки, останавливаемся...")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("HTTP сервер упал")
		}
	}

	shutdown(application)
	log.Info("=== Бот остановлен ===")
}

func shutdown(application *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	application.Shutdown(ctx)
}

// setupLogging настраивает формат и уровень логов.
func setupLogging(format, level string) {
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
