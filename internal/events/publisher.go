// Package events публикует последующие действия (счета, уведомления, аудит статусов)
// в RabbitMQ после фиксации транзакции.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// DefaultExchange topic-exchange для событий биллинга.
const DefaultExchange = "billing_events"

// Publisher публикует эффекты.
type Publisher interface {
	Publish(ctx context.Context, effects ...model.Effect) error
	Close() error
}

// Envelope тело сообщения.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher публикует эффекты в topic-exchange; ключ маршрутизации берётся из эффекта.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	reopen   func() (channel, error)
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

// NewRabbitPublisher подключается к брокеру и объявляет exchange.
func NewRabbitPublisher(amqpURL, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	p := &RabbitPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}
	p.reopen = func() (channel, error) {
		return conn.Channel()
	}

	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newWithChannel(ch channel, reopen func() (channel, error), exchange string, logger *zap.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, reopen: reopen, exchange: exchange, logger: logger, now: time.Now}
}

func (p *RabbitPublisher) openChannel() error {
	ch, err := p.reopen()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch
	return nil
}

// Publish отправляет эффекты по одному. Ошибка одного сообщения не прерывает отправку остальных.
func (p *RabbitPublisher) Publish(ctx context.Context, effects ...model.Effect) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, e := range effects {
		msg, err := Encode(e, p.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.publish(ctx, e.RoutingKey(), msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", e.RoutingKey(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *RabbitPublisher) publish(ctx context.Context, key string, msg amqp091.Publishing) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed, reopening channel",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", key),
		zap.Error(err),
	)
	if reopenErr := p.openChannel(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
}

// Close закрывает канал и соединение.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// Encode упаковывает эффект в сообщение брокера.
func Encode(e model.Effect, now time.Time) (amqp091.Publishing, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal %s: %w", e.RoutingKey(), err)
	}
	env := Envelope{
		ID:         uuid.New(),
		Type:       e.RoutingKey(),
		OccurredAt: now.UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID.String(),
		Type:         env.Type,
		Timestamp:    env.OccurredAt,
		Body:         body,
	}, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// LogPublisher используется, когда брокер не настроен: эффекты только пишутся в лог.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт публикатор-заглушку.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish пишет эффекты в лог.
func (p *LogPublisher) Publish(_ context.Context, effects ...model.Effect) error {
	for _, e := range effects {
		p.logger.Info("effect publish skipped",
			zap.String("routing_key", e.RoutingKey()),
			zap.Any("effect", e),
		)
	}
	return nil
}

// Close ничего не делает.
func (p *LogPublisher) Close() error { return nil }
