package auditfetch

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeOK                  Outcome = "ok"
	OutcomeHTTPError           Outcome = "http_error"
	OutcomeProvenanceViolation Outcome = "provenance_violation"
	OutcomeTransportError      Outcome = "transport_error"
	OutcomeRateLimited         Outcome = "rate_limited"
	OutcomeInvalidRequest      Outcome = "invalid_request"
)

// CallRecord summarizes one audited call for observers.
type CallRecord struct {
	RequestID         string        `json:"request_id"`
	ResponseRequestID string        `json:"response_request_id,omitempty"`
	Method            string        `json:"method"`
	URL               string        `json:"url"`
	Status            int           `json:"status,omitempty"`
	Outcome           Outcome       `json:"outcome"`
	Error             string        `json:"error,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Echoed reports whether the server returned the same id it was sent.
func (r CallRecord) Echoed() bool {
	return r.ResponseRequestID != "" && r.ResponseRequestID == r.RequestID
}

// Observer receives a record after every call. Implementations must not block
// for long; the call returns to its caller only after ObserveCall does.
type Observer interface {
	ObserveCall(ctx context.Context, record CallRecord)
}

type ObserverFunc func(ctx context.Context, record CallRecord)

func (f ObserverFunc) ObserveCall(ctx context.Context, record CallRecord) {
	f(ctx, record)
}

type multiObserver []Observer

func (m multiObserver) ObserveCall(ctx context.Context, record CallRecord) {
	for _, observer := range m {
		observer.ObserveCall(ctx, record)
	}
}

// MultiObserver fans a record out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer { //nolint:ireturn
	filtered := make(multiObserver, 0, len(observers))

	for _, observer := range observers {
		if observer != nil {
			filtered = append(filtered, observer)
		}
	}

	return filtered
}
