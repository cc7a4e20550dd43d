package payments

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ReconcileSummary — итог одного прохода сверки.
type ReconcileSummary struct {
	Scanned   int
	Completed int
	Skipped   int // уже зачислены параллельно
	Failed    int
	Exhausted []int64 // исчерпали попытки, нужен оператор
}

func (s ReconcileSummary) String() string {
	return fmt.Sprintf("scanned=%d completed=%d skipped=%d failed=%d exhausted=%d",
		s.Scanned, s.Completed, s.Skipped, s.Failed, len(s.Exhausted))
}

// ReconcileStuck повторяет зачисление для платежей, по которым пришла оплата,
// но кредиты так и не начислены. Платежи без квитанции не трогаем.
func (s *Service) ReconcileStuck(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary

	stuck, err := s.store.ListStuck(ctx, s.opts.ReconcileMinAge, s.opts.ReconcileBatch)
	if err != nil {
		return sum, fmt.Errorf("ошибка выборки зависших платежей: %w", err)
	}
	sum.Scanned = len(stuck)

	for _, p := range stuck {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		logger := log.WithFields(log.Fields{
			"payment_id": p.ID,
			"attempts":   p.CompletionAttempts,
		})

		if p.CompletionAttempts >= s.opts.ReconcileMaxAttempts {
			logger.Warn("Платёж исчерпал попытки зачисления, требуется ручная обработка")
			sum.Exhausted = append(sum.Exhausted, p.ID)
			continue
		}

		res, err := s.finish(ctx, p, s.externalAmountOf(p), false, CompletionReport{})
		switch {
		case err != nil:
			logger.WithError(err).Error("Сверка: зачисление не удалось")
			sum.Failed++
		case res.AlreadyCompleted:
			sum.Skipped++
		default:
			logger.Info("Сверка: платёж зачислен")
			sum.Completed++
		}
	}

	if sum.Scanned > 0 {
		log.WithField("summary", sum.String()).Info("Сверка платежей завершена")
	}
	return sum, nil
}
