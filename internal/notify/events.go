package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

// EventPaymentSucceeded — тип события во внешней шине.
const EventPaymentSucceeded = "payment.succeeded"

// Envelope — конверт события для внешней системы.
type Envelope struct {
	ID          string          `json:"event_id"`
	Type        string          `json:"type"`
	Version     int             `json:"version"`
	OccurredAt  time.Time       `json:"occurred_at"`
	AggregateID string          `json:"aggregate_id"`
	Data        json.RawMessage `json:"data"`
}

// PaymentSucceededData — полезная нагрузка payment.succeeded.
type PaymentSucceededData struct {
	PaymentID      int64  `json:"payment_id"`
	UserID         int64  `json:"user_id"`
	Credits        int64  `json:"credits"`
	ExternalAmount int64  `json:"external_amount"`
	BotRef         string `json:"bot_id,omitempty"`
	Manual         bool   `json:"manual"`
}

// NewEnvelope упаковывает событие с ULID-идентификатором.
func NewEnvelope(ev Event) (*Envelope, error) {
	data, err := json.Marshal(PaymentSucceededData{
		PaymentID:      ev.PaymentID,
		UserID:         ev.UserID,
		Credits:        ev.Credits,
		ExternalAmount: ev.ExternalAmount,
		BotRef:         ev.BotRef,
		Manual:         ev.Manual,
	})
	if err != nil {
		return nil, err
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return &Envelope{
		ID:          ulid.Make().String(),
		Type:        EventPaymentSucceeded,
		Version:     1,
		OccurredAt:  occurred,
		AggregateID: strconv.FormatInt(ev.PaymentID, 10),
		Data:        data,
	}, nil
}

// NatsConfig — подключение к NATS.
type NatsConfig struct {
	URL        string
	ClientName string
	Stream     string
	Subject    string
}

// EventPublisher публикует payment.succeeded в JetStream.
type EventPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewEventPublisher подключается к NATS и создаёт поток, если его нет.
func NewEventPublisher(ctx context.Context, cfg NatsConfig) (*EventPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("NATS отключён")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("NATS переподключён")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("создание JetStream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("создание потока %s: %w", cfg.Stream, err)
	}

	log.WithFields(log.Fields{
		"url":     conn.ConnectedUrl(),
		"stream":  cfg.Stream,
		"subject": cfg.Subject,
	}).Info("NATS подключён")

	return &EventPublisher{conn: conn, js: js, subject: cfg.Subject}, nil
}

func (p *EventPublisher) Name() string { return "nats" }

func (p *EventPublisher) Deliver(ctx context.Context, ev Event) error {
	env, err := NewEnvelope(ev)
	if err != nil {
		return fmt.Errorf("сборка события: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	// Msg-Id даёт дедупликацию на стороне JetStream при повторной отправке
	if _, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(env.ID)); err != nil {
		return fmt.Errorf("публикация события: %w", err)
	}

	log.WithFields(log.Fields{
		"event_id":   env.ID,
		"payment_id": ev.PaymentID,
		"subject":    p.subject,
	}).Debug("Событие опубликовано")
	return nil
}

// HealthCheck — соединение с NATS живо.
func (p *EventPublisher) HealthCheck() error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS не подключён")
	}
	return nil
}

func (p *EventPublisher) Close() {
	p.conn.Close()
}

// LogPublisher — заглушка без брокера: событие только пишется в лог.
type LogPublisher struct{}

func (LogPublisher) Name() string { return "log" }

func (LogPublisher) Deliver(_ context.Context, ev Event) error {
	log.WithFields(log.Fields{
		"payment_id":      ev.PaymentID,
		"user_id":         ev.UserID,
		"credits":         ev.Credits,
		"external_amount": ev.ExternalAmount,
		"manual":          ev.Manual,
	}).Info("Внешнее уведомление об оплате")
	return nil
}
