// Package jobs управляет фоновыми задачами.
// scheduler.go настраивает расписание: сверка зависших платежей,
// синхронизация реестра ботов со справочником токенов и чистка журнала входов.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
)

// Reconciler — сверка зависших платежей.
type Reconciler interface {
	ReconcileStuck(ctx context.Context) (payments.ReconcileSummary, error)
}

// Refresher — синхронизация реестра ботов.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Purger — чистка старых попыток входа оператора.
type Purger interface {
	Purge(ctx context.Context) error
}

// ScheduleConfig — расписания в cron-формате. Пустая строка отключает задачу.
type ScheduleConfig struct {
	Timezone        string
	Reconcile       string
	RegistryRefresh string
	AttemptsPurge   string
	JobTimeout      time.Duration
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	cfg        ScheduleConfig
	reconciler Reconciler
	refresher  Refresher
	purger     Purger
}

// NewScheduler создаёт планировщик задач в часовом поясе из конфига.
func NewScheduler(cfg ScheduleConfig, reconciler Reconciler, refresher Refresher) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	loc := common.LoadLocation(cfg.Timezone)

	// SkipIfStillRunning: следующая сверка не стартует, пока не закончилась предыдущая
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	return &Scheduler{
		cron:       c,
		cfg:        cfg,
		reconciler: reconciler,
		refresher:  refresher,
	}
}

// WithPurger подключает чистку журнала входов по расписанию AttemptsPurge.
func (s *Scheduler) WithPurger(p Purger) *Scheduler {
	s.purger = p
	return s
}

// Start регистрирует и запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.reconciler != nil && s.cfg.Reconcile != "" {
		if _, err := s.cron.AddFunc(s.cfg.Reconcile, func() { s.runReconcile(ctx) }); err != nil {
			return fmt.Errorf("расписание сверки %q: %w", s.cfg.Reconcile, err)
		}
	}

	if s.refresher != nil && s.cfg.RegistryRefresh != "" {
		if _, err := s.cron.AddFunc(s.cfg.RegistryRefresh, func() { s.runRefresh(ctx) }); err != nil {
			return fmt.Errorf("расписание обновления реестра %q: %w", s.cfg.RegistryRefresh, err)
		}
	}

	if s.purger != nil && s.cfg.AttemptsPurge != "" {
		if _, err := s.cron.AddFunc(s.cfg.AttemptsPurge, func() { s.runPurge(ctx) }); err != nil {
			return fmt.Errorf("расписание чистки попыток входа %q: %w", s.cfg.AttemptsPurge, err)
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"timezone":         s.cfg.Timezone,
		"reconcile":        s.cfg.Reconcile,
		"registry_refresh": s.cfg.RegistryRefresh,
		"attempts_purge":   s.cfg.AttemptsPurge,
	}).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	log.Debug("[CRON] Сверка зависших платежей")
	sum, err := s.reconciler.ReconcileStuck(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки")
		return
	}
	if len(sum.Exhausted) > 0 {
		log.WithField("payment_ids", sum.Exhausted).Warn("[CRON] Платежи ждут ручной обработки")
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	log.Debug("[CRON] Обновление реестра ботов")
	if err := s.refresher.Refresh(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка обновления реестра")
	}
}

func (s *Scheduler) runPurge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if err := s.purger.Purge(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка чистки попыток входа")
	}
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// cronLogger направляет логи cron в logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug("[CRON] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.WithError(err).WithFields(kvFields(keysAndValues)).Error("[CRON] " + msg)
}

func kvFields(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
