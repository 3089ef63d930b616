package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/queue"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	executionsExchange = "test_executions_exchange"
	executionsQueue    = "test_executions"
	routingKey         = "execute"
	exchangeType       = "direct"
	contentTypeJSON    = "application/json"
	consumerTagPrefix  = "qafastweb-worker-"
	publishTimeout     = 5 * time.Second
)

// Ensure Manager implements queue.Manager interface at compile time
var _ queue.Manager = (*Manager)(nil)

// Manager implements queue.Manager on a single durable RabbitMQ queue.
type Manager struct {
	conn     *amqp.Connection
	prefetch int
	logger   *slog.Logger
}

// deliveryAckNacker implements queue.AckNacker for one RabbitMQ delivery.
type deliveryAckNacker struct {
	deliveryTag uint64
	channel     *amqp.Channel // Channel the delivery arrived on
	logger      *slog.Logger
	closed      bool // Track if ack/nack was already called
	mu          sync.Mutex
}

// Ack acknowledges the message. Idempotent.
func (a *deliveryAckNacker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Ack already closed AckNacker", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Ack(a.deliveryTag, false)
	if err != nil {
		a.logger.Error("Failed to ACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.String("error", err.Error()))
	} else {
		a.closed = true
	}
	return err
}

// Nack negatively acknowledges the message. Idempotent.
func (a *deliveryAckNacker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Nack already closed AckNacker", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Nack(a.deliveryTag, false, requeue)
	if err != nil {
		a.logger.Error("Failed to NACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.Bool("requeue", requeue), slog.String("error", err.Error()))
	} else {
		a.closed = true
	}
	return err
}

// NewManager connects to RabbitMQ and declares the execution exchange and
// queue. prefetch bounds unacknowledged deliveries per consumer.
func NewManager(url string, prefetch int, logger *slog.Logger) (*Manager, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	if prefetch < 1 {
		prefetch = 1
	}
	m := &Manager{conn: conn, prefetch: prefetch, logger: logger}

	if err := m.declareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// declareTopology ensures the exchange and queue exist and are bound.
// Uses a temporary channel.
func (m *Manager) declareTopology() error {
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for declare: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		executionsExchange, // name
		exchangeType,       // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", executionsExchange, err)
	}

	_, err = ch.QueueDeclare(
		executionsQueue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", executionsQueue, err)
	}

	if err := ch.QueueBind(executionsQueue, routingKey, executionsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", executionsQueue, executionsExchange, err)
	}

	m.logger.Info("Declared execution queue", slog.String("exchange", executionsExchange), slog.String("queue", executionsQueue))
	return nil
}

// Close closes the RabbitMQ connection.
func (m *Manager) Close() error {
	m.logger.Info("Closing RabbitMQ connection")
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// EnqueueExecution publishes a persistent execution job.
func (m *Manager) EnqueueExecution(ctx context.Context, caseID int64) (string, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	job := models.ExecutionJob{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution job to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		executionsExchange, // exchange
		routingKey,         // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    job.EnqueuedAt,
			Body:         body,
			MessageId:    job.ID,
		})
	if err != nil {
		return "", fmt.Errorf("failed to publish execution job for case %d: %w", caseID, err)
	}

	m.logger.Info("Enqueued execution", slog.String("job_id", job.ID), slog.Int64("test_case_id", caseID))
	return job.ID, nil
}

// Consume registers a consumer on a dedicated channel. Cancelling ctx stops
// new deliveries; the channel stays open until Release so in-flight jobs can
// still be acknowledged.
func (m *Manager) Consume(ctx context.Context) (queue.Subscription, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		return queue.Subscription{}, fmt.Errorf("failed to open channel for consume: %w", err)
	}
	if err := ch.Qos(m.prefetch, 0, false); err != nil {
		ch.Close()
		return queue.Subscription{}, fmt.Errorf("failed to set QoS: %w", err)
	}

	tag := consumerTagPrefix + uuid.NewString()
	msgs, err := ch.Consume(
		executionsQueue, // queue
		tag,             // consumer
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		ch.Close()
		return queue.Subscription{}, fmt.Errorf("failed to consume from queue '%s': %w", executionsQueue, err)
	}
	m.logger.Info("Consuming execution queue", slog.String("consumer", tag), slog.Int("prefetch", m.prefetch))

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = ch.Cancel(tag, false)
				return
			case msg, ok := <-msgs:
				if !ok {
					m.logger.Warn("Delivery channel closed", slog.String("consumer", tag))
					return
				}
				d, err := m.toDelivery(ch, msg)
				if err != nil {
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = d.Nack(true)
					_ = ch.Cancel(tag, false)
					return
				}
			}
		}
	}()
	var once sync.Once
	var closeErr error
	release := func() error {
		once.Do(func() {
			closeErr = ch.Close()
			m.logger.Info("Consumer channel released", slog.String("consumer", tag))
		})
		return closeErr
	}
	return queue.Subscription{Deliveries: out, Release: release}, nil
}

func (m *Manager) toDelivery(ch *amqp.Channel, msg amqp.Delivery) (queue.Delivery, error) {
	acker := &deliveryAckNacker{
		deliveryTag: msg.DeliveryTag,
		channel:     ch,
		logger:      m.logger.With(slog.String("job_id", msg.MessageId)),
	}

	var job models.ExecutionJob
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.CaseID == 0 {
		if err == nil {
			err = errors.New("missing case_id")
		}
		m.logger.Error("Failed to unmarshal execution job",
			slog.String("message_id", msg.MessageId),
			slog.String("error", err.Error()),
		)
		_ = acker.Nack(false) // Poison message, do not requeue
		return queue.Delivery{}, err
	}

	m.logger.Info("Dequeued execution", slog.String("job_id", job.ID), slog.Int64("test_case_id", job.CaseID))
	return queue.Delivery{Job: job, AckNacker: acker}, nil
}

// QueueSize returns the number of ready messages via a passive declare.
func (m *Manager) QueueSize(ctx context.Context) (int, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			m.logger.Error("Cannot get queue size, connection is closed")
			return 0, fmt.Errorf("connection is not open")
		}
		return 0, fmt.Errorf("failed to open temporary channel for queue size check: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(
		executionsQueue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,
	)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to passively declare queue '%s' to get size: %w", executionsQueue, err)
	}
	return q.Messages, nil
}
