// Package auditstream ships call records over Redis streams so that a
// separate process can persist them.
package auditstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"
	"github.com/reconai/auditkit/auditfetch"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic          = "auditkit.calls"
	defaultPublishTimeout = 5 * time.Second

	MetadataRequestID = "request_id"
	MetadataOutcome   = "outcome"
)

var (
	ErrPublisherInitialization = errors.New("auditstream: failed to initialize redis stream publisher")
	ErrPublishFailed           = errors.New("auditstream: failed to publish records")
	ErrNilRedisClient          = errors.New("auditstream: redis client is required")
	ErrInvalidMaxStreamEntries = errors.New("auditstream: max stream entries cannot be negative")
	ErrEncodeRecord            = errors.New("auditstream: failed to encode record")
)

type PublisherOptions struct {
	Topic            string
	MaxStreamEntries int64
	Timeout          time.Duration
	Logger           watermill.LoggerAdapter
}

// Publisher appends call records to a Redis stream. It is an
// auditfetch.Observer; publish failures are logged, never returned to the
// audited call.
type Publisher struct {
	publisher *redisstream.Publisher
	topic     string
	timeout   time.Duration
}

var _ auditfetch.Observer = (*Publisher)(nil)

func NewPublisher(redisClient goredis.UniversalClient, opts PublisherOptions) (*Publisher, error) {
	if redisClient == nil {
		return nil, ErrNilRedisClient
	}

	if opts.MaxStreamEntries < 0 {
		return nil, ErrInvalidMaxStreamEntries
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLoggerAdapter(log.Logger)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client:        redisClient,
			Marshaller:    redisstream.DefaultMarshallerUnmarshaller{},
			Maxlens:       map[string]int64{},
			DefaultMaxlen: opts.MaxStreamEntries,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublisherInitialization, err)
	}

	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &Publisher{
		publisher: publisher,
		topic:     topic,
		timeout:   timeout,
	}, nil
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Publish appends records to the stream in one batch.
func (p *Publisher) Publish(ctx context.Context, records ...auditfetch.CallRecord) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	messages := make([]*message.Message, 0, len(records))

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncodeRecord, err)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(MetadataRequestID, record.RequestID)
		msg.Metadata.Set(MetadataOutcome, string(record.Outcome))
		msg.SetContext(ctx)

		messages = append(messages, msg)
	}

	if err := p.publisher.Publish(p.topic, messages...); err != nil {
		return fmt.Errorf("%w to topic %s: %w", ErrPublishFailed, p.topic, err)
	}

	return nil
}

func (p *Publisher) ObserveCall(ctx context.Context, record auditfetch.CallRecord) {
	// The audited call may already be cancelled; the record still ships.
	if err := p.Publish(context.WithoutCancel(ctx), record); err != nil {
		log.Error().
			Err(err).
			Str("request_id", record.RequestID).
			Str("topic", p.topic).
			Msg("Failed to publish call record")
	}
}

func (p *Publisher) Close() error {
	return p.publisher.Close() //nolint:wrapcheck
}
