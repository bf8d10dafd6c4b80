package auditstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"
	"github.com/reconai/auditkit/auditfetch"
	"github.com/rs/zerolog/log"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultExecTimeout     = 30 * time.Second
)

var (
	ErrEmptyConsumerGroup = errors.New("auditstream: consumer group cannot be empty")
	ErrNilRecordHandler   = errors.New("auditstream: record handler cannot be nil")
	ErrMaxRetriesExceeded = errors.New("auditstream: max retries exceeded")
	ErrExecTimeout        = errors.New("auditstream: record handler execution timed out")
	ErrAlreadyRunning     = errors.New("auditstream: consumer already running")
	ErrConsumerClosed     = errors.New("auditstream: consumer is closed")
	ErrDecodeRecord       = errors.New("auditstream: failed to decode record")
)

// RecordHandler processes one call record. A returned error triggers the
// retry policy and, once exhausted, the dead letter stream.
type RecordHandler func(ctx context.Context, record auditfetch.CallRecord) error

type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	DLQTopic   string
}

type ConsumerConfig struct {
	Topic           string
	BlockTime       time.Duration
	ClaimInterval   time.Duration
	MaxIdleTime     time.Duration
	ShutdownTimeout time.Duration
	ExecTimeout     time.Duration
	Retry           *RetryConfig
}

type ConsumerOption func(*ConsumerConfig)

func WithTopic(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if topic != "" {
			c.Topic = topic
		}
	}
}

func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.BlockTime = d
	}
}

func WithClaimInterval(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.ClaimInterval = d
	}
}

func WithMaxIdleTime(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MaxIdleTime = d
	}
}

func WithRetry(maxRetries int, retryDelay time.Duration, dlqTopic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Retry = &RetryConfig{
			MaxRetries: maxRetries,
			RetryDelay: retryDelay,
			DLQTopic:   dlqTopic,
		}
	}
}

func WithShutdownTimeout(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.ShutdownTimeout = d
	}
}

func WithExecTimeout(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.ExecTimeout = d
	}
}

// Consumer reads call records from a stream as part of a consumer group.
// Start blocks until the context ends or Stop is called. A consumer runs at
// most once: Start after Stop returns ErrConsumerClosed.
type Consumer struct {
	subscriber     *redisstream.Subscriber
	redisClient    goredis.UniversalClient
	consumerGroup  string
	handler        RecordHandler
	config         ConsumerConfig
	shutdownSignal chan struct{}
	stoppedSignal  chan struct{}
	healthy        atomic.Bool
	started        atomic.Bool
	closed         atomic.Bool
	stopOnce       sync.Once
	stopErr        error
	processed      atomic.Int64
	failed         atomic.Int64
}

func NewConsumer(
	redisClient goredis.UniversalClient,
	consumerGroup string,
	handler RecordHandler,
	opts ...ConsumerOption,
) (*Consumer, error) {
	if redisClient == nil {
		return nil, ErrNilRedisClient
	}

	if consumerGroup == "" {
		return nil, ErrEmptyConsumerGroup
	}

	if handler == nil {
		return nil, ErrNilRecordHandler
	}

	config := ConsumerConfig{
		Topic:           DefaultTopic,
		BlockTime:       0,
		ClaimInterval:   0,
		MaxIdleTime:     0,
		ShutdownTimeout: defaultShutdownTimeout,
		ExecTimeout:     defaultExecTimeout,
		Retry:           nil,
	}

	for _, opt := range opts {
		opt(&config)
	}

	//nolint:exhaustruct
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: consumerGroup,
			BlockTime:     config.BlockTime,
			ClaimInterval: config.ClaimInterval,
			MaxIdleTime:   config.MaxIdleTime,
		},
		NewLoggerAdapter(log.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("auditstream: create subscriber: %w", err)
	}

	//nolint:exhaustruct
	return &Consumer{
		subscriber:     subscriber,
		redisClient:    redisClient,
		consumerGroup:  consumerGroup,
		handler:        handler,
		config:         config,
		shutdownSignal: make(chan struct{}),
		stoppedSignal:  make(chan struct{}),
	}, nil
}

func (c *Consumer) Name() string {
	return "auditstream-" + c.consumerGroup + "-" + c.config.Topic
}

func (c *Consumer) IsHealthy() bool {
	return c.healthy.Load()
}

// Processed and Failed count records handled since Start.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

func (c *Consumer) Failed() int64 {
	return c.failed.Load()
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}

	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(c.stoppedSignal)

	log.Info().
		Str("topic", c.config.Topic).
		Str("consumer_group", c.consumerGroup).
		Msg("The call record consumer is starting")

	messages, err := c.subscriber.Subscribe(ctx, c.config.Topic)
	if err != nil {
		return fmt.Errorf("auditstream: subscribe to %s: %w", c.config.Topic, err)
	}

	c.healthy.Store(true)

	for {
		select {
		case <-ctx.Done():
			c.healthy.Store(false)

			return ctx.Err() //nolint:wrapcheck
		case <-c.shutdownSignal:
			c.healthy.Store(false)

			return nil
		case msg, ok := <-messages:
			if !ok {
				c.healthy.Store(false)

				return nil
			}

			if msg == nil || msg.UUID == "" {
				continue
			}

			if err := c.handleMessage(ctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("topic", c.config.Topic).
					Str("message_id", msg.UUID).
					Str("request_id", msg.Metadata.Get(MetadataRequestID)).
					Msg("The call record could not be processed")
			}
		}
	}
}

// Stop closes the consumer. Calls after the first return its result.
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop()
	})

	return c.stopErr
}

func (c *Consumer) stop() error {
	c.closed.Store(true)
	c.healthy.Store(false)
	close(c.shutdownSignal)

	if c.started.Load() {
		select {
		case <-c.stoppedSignal:
		case <-time.After(c.config.ShutdownTimeout):
			log.Error().
				Str("topic", c.config.Topic).
				Dur("timeout", c.config.ShutdownTimeout).
				Msg("Timeout waiting for the call record consumer to stop")
		}
	}

	if err := c.subscriber.Close(); err != nil {
		return fmt.Errorf("auditstream: close subscriber: %w", err)
	}

	log.Info().
		Str("topic", c.config.Topic).
		Str("consumer_group", c.consumerGroup).
		Msg("The call record consumer has stopped")

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg *message.Message) error {
	var record auditfetch.CallRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		// Retrying cannot fix a malformed payload.
		c.failed.Add(1)
		c.deadLetter(ctx, msg, err)
		msg.Ack()

		return fmt.Errorf("%w: %w", ErrDecodeRecord, err)
	}

	if err := c.processWithRetry(ctx, record); err != nil {
		c.failed.Add(1)

		// Without a dead letter stream the record stays pending for redelivery.
		if c.deadLetter(ctx, msg, err) {
			msg.Ack()
		} else {
			msg.Nack()
		}

		return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
	}

	c.processed.Add(1)
	msg.Ack()

	return nil
}

func (c *Consumer) processWithRetry(ctx context.Context, record auditfetch.CallRecord) error {
	maxAttempts := 1
	if c.config.Retry != nil && c.config.Retry.MaxRetries > 0 {
		maxAttempts = c.config.Retry.MaxRetries + 1
	}

	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.executeWithTimeout(ctx, record)
		if err == nil {
			return nil
		}

		if attempt < maxAttempts {
			log.Warn().
				Err(err).
				Str("request_id", record.RequestID).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Msg("Call record processing failed, retrying")

			if waitErr := c.waitForRetry(ctx); waitErr != nil {
				return waitErr
			}
		}
	}

	return err
}

func (c *Consumer) executeWithTimeout(ctx context.Context, record auditfetch.CallRecord) error {
	if c.config.ExecTimeout <= 0 {
		return c.handler(ctx, record)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.config.ExecTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- c.handler(execCtx, record)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: exceeded %v", ErrExecTimeout, c.config.ExecTimeout)
		}

		return execCtx.Err() //nolint:wrapcheck
	}
}

func (c *Consumer) waitForRetry(ctx context.Context) error {
	if c.config.Retry == nil || c.config.Retry.RetryDelay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-time.After(c.config.Retry.RetryDelay):
		return nil
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg *message.Message, cause error) bool {
	if c.config.Retry == nil || c.config.Retry.DLQTopic == "" {
		return false
	}

	//nolint:exhaustruct
	err := c.redisClient.XAdd(ctx, &goredis.XAddArgs{
		Stream: c.config.Retry.DLQTopic,
		Values: map[string]any{
			"uuid":           msg.UUID,
			"payload":        string(msg.Payload),
			"request_id":     msg.Metadata.Get(MetadataRequestID),
			"original_topic": c.config.Topic,
			"consumer_group": c.consumerGroup,
			"error":          cause.Error(),
			"failed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("Failed to send call record to the dead letter stream")

		return false
	}

	return true
}
