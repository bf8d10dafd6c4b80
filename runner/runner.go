// Package runner starts long-lived services, waits for a shutdown signal or
// the first service failure, and stops everything in reverse layers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultShutdownTimeout = 30 * time.Second

var (
	ErrServicePanic    = errors.New("runner: service panicked")
	ErrServiceFailed   = errors.New("runner: service failed")
	ErrShutdownTimeout = errors.New("runner: shutdown timeout exceeded")
)

// Service is anything the agent keeps running: clients, servers, consumers
// and worker pools. Start blocks until ctx is cancelled or the service fails.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type Runner struct {
	core            []Service
	infrastructure  []Service
	shutdownTimeout time.Duration
	signals         []os.Signal
}

type Option func(*Runner)

func New(opts ...Option) *Runner {
	r := &Runner{
		core:            nil,
		infrastructure:  nil,
		shutdownTimeout: defaultShutdownTimeout,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithCoreService registers a service that depends on infrastructure. Core
// services start after and stop before infrastructure services.
func WithCoreService(svc Service) Option {
	return func(r *Runner) {
		r.core = append(r.core, svc)
	}
}

func WithInfrastructureService(svc Service) Option {
	return func(r *Runner) {
		r.infrastructure = append(r.infrastructure, svc)
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = d
	}
}

// WithSignals replaces the signals that trigger shutdown. No signals means
// only ctx cancellation stops the runner.
func WithSignals(signals ...os.Signal) Option {
	return func(r *Runner) {
		r.signals = signals
	}
}

// Run blocks until ctx is done, a shutdown signal arrives, or a service
// fails. It returns the first service failure joined with any shutdown
// timeout; a clean signal-driven shutdown returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.signals) > 0 {
		var stop context.CancelFunc

		ctx, stop = signal.NotifyContext(ctx, r.signals...)
		defer stop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(r.core)+len(r.infrastructure))

	log.Info().Int("count", len(r.infrastructure)).Msg("Starting infrastructure services")
	r.launch(runCtx, r.infrastructure, errCh)

	log.Info().Int("count", len(r.core)).Msg("Starting core services")
	r.launch(runCtx, r.core, errCh)

	log.Info().
		Int("pid", os.Getpid()).
		Int("core_services", len(r.core)).
		Int("infra_services", len(r.infrastructure)).
		Msg("All services launched, waiting for shutdown")

	var failure error

	select {
	case failure = <-errCh:
		log.Error().Err(failure).Msg("Service failed, shutting down")
	case <-runCtx.Done():
		log.Warn().Msg("Shutdown signal received")
	}

	cancel()

	shutdownErr := errors.Join(r.stopAll(r.core), r.stopAll(r.infrastructure))
	if shutdownErr == nil {
		log.Info().Msg("Graceful shutdown completed")
	}

	return errors.Join(failure, shutdownErr)
}

func (r *Runner) launch(ctx context.Context, services []Service, errCh chan<- error) {
	for _, svc := range services {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					errCh <- fmt.Errorf("%w: %s: %v", ErrServicePanic, svc.Name(), rec)
				}
			}()

			log.Info().Str("service_name", svc.Name()).Msg("Starting service")

			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%w: %s: %w", ErrServiceFailed, svc.Name(), err)
			}
		}()
	}
}

func (r *Runner) stopAll(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup

		for _, svc := range services {
			wg.Go(func() {
				if err := svc.Stop(); err != nil {
					log.Error().Err(err).Str("service_name", svc.Name()).Msg("Service failed to stop")

					return
				}

				log.Info().Str("service_name", svc.Name()).Msg("Service stopped")
			})
		}

		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(r.shutdownTimeout):
		log.Error().Dur("timeout", r.shutdownTimeout).Msg("Shutdown timeout exceeded")

		return ErrShutdownTimeout
	}
}
