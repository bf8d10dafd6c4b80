// Package probe checks that configured endpoints honor the provenance
// contract. A Runner is a workerpool.Executor: every tick it issues one
// audited request per target and records the outcome.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/auditstore"
	"github.com/reconai/auditkit/validator"
)

const defaultParallelism = 4

var (
	ErrNoTargets     = errors.New("probe: no targets configured")
	ErrDuplicateName = errors.New("probe: duplicate target name")
	ErrInvalidTarget = errors.New("probe: invalid target")
	ErrNilClient     = errors.New("probe: client is nil")
	ErrSaveResults   = errors.New("probe: failed to save results")
)

// Target is one endpoint checked on every round.
type Target struct {
	Name               string `json:"name"                 validate:"required,max=64"`
	Path               string `json:"path"                 validate:"required,apipath"`
	Method             string `json:"method"               validate:"omitempty,httpmethod"`
	SkipBodyValidation bool   `json:"skip_body_validation"`
	TokenTemplate      string `json:"token_template"       validate:"omitempty,max=128"`
}

func (t Target) method() string {
	if t.Method == "" {
		return http.MethodGet
	}

	return strings.ToUpper(t.Method)
}

// ParseTargets decodes a JSON array of targets and validates each one.
func ParseTargets(raw []byte) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal(raw, &targets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}

	return targets, nil
}

func ValidateTargets(targets []Target) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}

	v := validator.New()
	seen := make(map[string]struct{}, len(targets))

	for i, target := range targets {
		if err := v.Validate(target); err != nil {
			return fmt.Errorf("%w: targets[%d]: %w", ErrInvalidTarget, i, err)
		}

		if _, ok := seen[target.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, target.Name)
		}

		seen[target.Name] = struct{}{}
	}

	return nil
}

// ResultStore persists a round of results. auditstore.Store satisfies it.
type ResultStore interface {
	SaveProbeResults(ctx context.Context, results ...auditstore.ProbeResult) (int64, error)
}

type Runner struct {
	client      *auditfetch.Client
	targets     []Target
	store       ResultStore
	metrics     *Metrics
	logger      zerolog.Logger
	parallelism int
	now         func() time.Time
}

type Option func(*Runner)

func WithStore(store ResultStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithParallelism bounds how many targets are probed at once.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(client *auditfetch.Client, targets []Target, opts ...Option) (*Runner, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}

	runner := &Runner{ //nolint:exhaustruct
		client:      client,
		targets:     append([]Target(nil), targets...),
		logger:      log.Logger,
		parallelism: defaultParallelism,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner, nil
}

func (r *Runner) Targets() []Target {
	return append([]Target(nil), r.targets...)
}

// Execute runs one round. Probe failures are results, not errors; only a
// failed save is returned.
func (r *Runner) Execute(ctx context.Context) error {
	results := r.Round(ctx)

	if r.metrics != nil {
		r.metrics.observeRound(results)
	}

	if r.store == nil {
		return nil
	}

	if _, err := r.store.SaveProbeResults(ctx, results...); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveResults, err)
	}

	return nil
}

// Round probes every target and returns results in target order.
func (r *Runner) Round(ctx context.Context) []auditstore.ProbeResult {
	results := make([]auditstore.ProbeResult, len(r.targets))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)

	for i, target := range r.targets {
		group.Go(func() error {
			results[i] = r.Probe(groupCtx, target)

			return nil
		})
	}

	_ = group.Wait()

	return results
}

// Probe issues one audited request against target.
func (r *Runner) Probe(ctx context.Context, target Target) auditstore.ProbeResult {
	opts := []auditfetch.RequestOption{auditfetch.WithMethod(target.method())}

	if target.SkipBodyValidation {
		opts = append(opts, auditfetch.WithSkipBodyValidation())
	}

	if target.TokenTemplate != "" {
		opts = append(opts, auditfetch.WithTokenTemplate(target.TokenTemplate))
	}

	startedAt := r.now()
	result, err := r.client.Fetch(ctx, target.Path, opts...)
	latency := r.now().Sub(startedAt)

	outcome := auditfetch.Classify(err)
	probeResult := auditstore.ProbeResult{
		Target:    target.Name,
		RequestID: auditfetch.RequestIDOf(err),
		Outcome:   outcome,
		Compliant: Compliant(outcome),
		Latency:   latency,
		CheckedAt: startedAt.UTC(),
	}

	if result != nil {
		probeResult.RequestID = result.RequestID
		probeResult.Status = result.Status
	}

	if httpErr, ok := auditfetch.AsHTTPError(err); ok {
		probeResult.Status = httpErr.Status
	}

	r.logResult(probeResult, err)

	return probeResult
}

// Compliant reports whether an outcome shows the server honored provenance.
// An HTTP error still carried the response id, so it counts.
func Compliant(outcome auditfetch.Outcome) bool {
	return outcome == auditfetch.OutcomeOK || outcome == auditfetch.OutcomeHTTPError
}

func (r *Runner) logResult(result auditstore.ProbeResult, err error) {
	event := r.logger.Debug()
	if !result.Compliant {
		event = r.logger.Warn().Err(err)
	}

	event.
		Str("target", result.Target).
		Str("request_id", result.RequestID).
		Str("outcome", string(result.Outcome)).
		Int("status", result.Status).
		Dur("latency", result.Latency).
		Msg("Probe completed")
}
