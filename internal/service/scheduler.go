package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Importer runs a full import
type Importer interface {
	RunFullImport(ctx context.Context) (*ImportResult, error)
}

// Scheduler runs full imports on a fixed interval
type Scheduler struct {
	importer Importer
	interval time.Duration
	logger   *zap.Logger
	initial  bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
}

// NewScheduler creates a scheduler. An interval of zero disables the timer;
// Trigger still works.
func NewScheduler(importer Importer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		importer: importer,
		interval: interval,
		logger:   logger.Named("scheduler"),
		initial:  true,
		trigger:  make(chan struct{}, 1),
	}
}

// WithInitialRun sets whether Start imports right away
func (s *Scheduler) WithInitialRun(initial bool) *Scheduler {
	s.initial = initial
	return s
}

// Start runs an initial import, unless disabled, and then polls until Stop
// or ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.initial {
			s.run(ctx, "initial")
		}

		var tick <-chan time.Time
		if s.interval > 0 {
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping")
				return
			case <-tick:
				s.run(ctx, "interval")
			case <-s.trigger:
				s.run(ctx, "trigger")
			}
		}
	}()

	s.logger.Info("started", zap.Duration("interval", s.interval))
}

// Trigger asks for an import as soon as the current one finishes. Calls
// made while one is already pending are dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels a running import and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	s.logger.Info("running full import", zap.String("reason", reason))
	result, err := s.importer.RunFullImport(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("full import failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Info("full import finished",
		zap.String("reason", reason),
		zap.Int("committed", result.Committed),
		zap.Duration("duration", result.Duration),
	)
}
