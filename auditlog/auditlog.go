// Package auditlog writes one structured audit event per audited call.
package auditlog

import (
	"context"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logType = "audit"

// Observer logs call records with zerolog. Successful calls log at info,
// HTTP errors at warn, and provenance violations and transport failures at
// error.
type Observer struct {
	logger     zerolog.Logger
	successLvl zerolog.Level
}

var _ auditfetch.Observer = (*Observer)(nil)

type Option func(*Observer)

// WithSuccessLevel lowers the noise of healthy traffic, typically to debug.
func WithSuccessLevel(level zerolog.Level) Option {
	return func(o *Observer) {
		o.successLvl = level
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

func New(opts ...Option) *Observer {
	observer := &Observer{
		logger:     log.Logger,
		successLvl: zerolog.InfoLevel,
	}

	for _, opt := range opts {
		opt(observer)
	}

	observer.logger = observer.logger.With().Str("log_type", logType).Logger()

	return observer
}

func (o *Observer) ObserveCall(_ context.Context, record auditfetch.CallRecord) {
	event := o.logger.WithLevel(o.level(record.Outcome)).
		Str("request_id", record.RequestID).
		Str("method", record.Method).
		Str("url", record.URL).
		Str("outcome", string(record.Outcome)).
		Time("started_at", record.StartedAt).
		Dur("duration", record.Duration)

	if record.Status != 0 {
		event = event.Int("status", record.Status)
	}

	if record.ResponseRequestID != "" {
		event = event.
			Str("response_request_id", record.ResponseRequestID).
			Bool("echoed", record.Echoed())
	}

	if record.Error != "" {
		event = event.Str("error", record.Error)
	}

	event.Msg(message(record.Outcome))
}

func (o *Observer) level(outcome auditfetch.Outcome) zerolog.Level {
	switch outcome {
	case auditfetch.OutcomeOK:
		return o.successLvl
	case auditfetch.OutcomeHTTPError, auditfetch.OutcomeRateLimited, auditfetch.OutcomeInvalidRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func message(outcome auditfetch.Outcome) string {
	switch outcome {
	case auditfetch.OutcomeOK:
		return "Audited call completed"
	case auditfetch.OutcomeHTTPError:
		return "Audited call returned an error status"
	case auditfetch.OutcomeProvenanceViolation:
		return "Audited call violated the provenance contract"
	case auditfetch.OutcomeRateLimited:
		return "Audited call was rate limited"
	case auditfetch.OutcomeInvalidRequest:
		return "Audited call could not be built"
	default:
		return "Audited call failed in transport"
	}
}
