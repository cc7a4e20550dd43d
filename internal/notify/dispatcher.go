// Package notify — уведомления об успешной оплате.
// Доставка идёт в фоне: движок платежей никогда не ждёт и не видит ошибок отправки.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/features/payments"
)

// Event — данные уведомления, уже с языком пользователя.
type Event struct {
	PaymentID      int64
	UserID         int64
	Credits        int64
	ExternalAmount int64
	BotRef         string
	Manual         bool
	Lang           string
	OccurredAt     time.Time
}

// Sink — канал доставки (сообщение в Telegram, событие в NATS).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// LangResolver — язык пользователя для текста уведомления.
type LangResolver interface {
	Lang(ctx context.Context, userID int64) string
}

// Dispatcher рассылает событие по всем каналам, каждый в своей горутине.
type Dispatcher struct {
	sinks   []Sink
	langs   LangResolver
	timeout time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewDispatcher создаёт диспетчер. langs может быть nil, тогда язык по умолчанию.
func NewDispatcher(langs LangResolver, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		langs:   langs,
		timeout: timeout,
	}
}

// PaymentSucceeded возвращается сразу; доставка идёт в фоне.
func (d *Dispatcher) PaymentSucceeded(ev payments.SuccessEvent) {
	if d.closed.Load() {
		log.WithField("payment_id", ev.PaymentID).Warn("Диспетчер закрыт, уведомление пропущено")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer recoverDelivery(ev.PaymentID, "dispatch")

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		out := Event{
			PaymentID:      ev.PaymentID,
			UserID:         ev.UserID,
			Credits:        ev.Credits,
			ExternalAmount: ev.ExternalAmount,
			BotRef:         ev.BotRef,
			Manual:         ev.Manual,
			OccurredAt:     time.Now().UTC(),
		}
		if d.langs != nil {
			out.Lang = d.langs.Lang(ctx, ev.UserID)
		}

		d.deliver(ctx, out)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	var wg sync.WaitGroup
	for _, sink := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			defer recoverDelivery(ev.PaymentID, s.Name())

			logger := log.WithFields(log.Fields{
				"payment_id": ev.PaymentID,
				"user_id":    ev.UserID,
				"sink":       s.Name(),
			})
			if err := s.Deliver(ctx, ev); err != nil {
				logger.WithError(err).Warn("Не удалось доставить уведомление")
				return
			}
			logger.Debug("Уведомление доставлено")
		}(sink)
	}
	wg.Wait()
}

// Close ждёт завершения текущих доставок. Новые после Close не принимаются.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
	d.wg.Wait()
}

func recoverDelivery(paymentID int64, sink string) {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"component":  "notify",
			"payment_id": paymentID,
			"sink":       sink,
			"panic":      fmt.Sprintf("%v", r),
			"stack":      string(debug.Stack()),
		}).Error("ПАНИКА при доставке уведомления, восстановлено")
	}
}
