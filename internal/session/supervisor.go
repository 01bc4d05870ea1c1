package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReconnectConfig configures the Supervisor.
type ReconnectConfig struct {
	InitialDelay time.Duration // Wait before the first attempt
	BackoffStep  time.Duration // Wait after failed attempt k is BackoffStep*k
	MaxAttempts  int
}

// DefaultReconnectConfig returns sensible defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 5 * time.Second,
		BackoffStep:  5 * time.Second,
		MaxAttempts:  5,
	}
}

// Reconnector restores a lost session.
type Reconnector interface {
	Reconnect(ctx context.Context) error
	// Connected reports whether the restored link is still up.
	Connected() bool
}

// Supervisor runs at most one bounded reconnect sequence at a time.
type Supervisor struct {
	cfg    ReconnectConfig
	target Reconnector
	notify func(context.Context, ReconnectEvent)
	logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	running  atomic.Bool
	attempts atomic.Int64

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor. notify may be nil.
func NewSupervisor(cfg ReconnectConfig, target Reconnector, notify func(context.Context, ReconnectEvent), logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(context.Context, ReconnectEvent) {}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:    cfg,
		target: target,
		notify: notify,
		logger: logger,
		sleep:  sleepCtx,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts a reconnect sequence. It returns false if one is already
// running or the supervisor has been stopped.
func (s *Supervisor) Trigger(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("reconnect already in progress, ignoring trigger", "reason", reason)
		return false
	}

	s.wg.Add(1)
	go s.run(reason)
	return true
}

// Reconnecting reports whether a sequence is in progress.
func (s *Supervisor) Reconnecting() bool {
	return s.running.Load()
}

// Attempts returns the total number of reconnect attempts made.
func (s *Supervisor) Attempts() int64 {
	return s.attempts.Load()
}

// Stop cancels any running sequence and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) run(reason string) {
	defer s.wg.Done()

	restored := s.sequence(reason)
	s.running.Store(false)

	// A loss reported before running was cleared hit the guard in Trigger.
	if restored && !s.target.Connected() {
		s.logger.Warn("link dropped while reconnect was finishing, restarting")
		s.Trigger("lost after reconnect")
	}
}

// sequence runs one bounded reconnect sequence and reports whether the
// session was restored.
func (s *Supervisor) sequence(reason string) bool {
	s.logger.Warn("starting reconnect",
		"reason", reason,
		"initial_delay", s.cfg.InitialDelay,
		"max_attempts", s.cfg.MaxAttempts,
	)
	s.publish(ReconnectStarted, 0, nil)

	if err := s.sleep(s.ctx, s.cfg.InitialDelay); err != nil {
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		s.attempts.Add(1)

		err := s.target.Reconnect(s.ctx)
		if err == nil {
			s.logger.Info("reconnected", "attempt", attempt)
			s.publish(ReconnectSucceeded, attempt, nil)
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}

		lastErr = err
		s.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
			"error", err,
		)
		s.publish(ReconnectAttemptFailed, attempt, err)

		if attempt < s.cfg.MaxAttempts {
			if err := s.sleep(s.ctx, s.cfg.BackoffStep*time.Duration(attempt)); err != nil {
				return false
			}
		}
	}

	s.logger.Error("automatic reconnect failed; manual restart required",
		"attempts", s.cfg.MaxAttempts,
		"error", lastErr,
	)
	s.publish(ReconnectExhausted, s.cfg.MaxAttempts, lastErr)
	return false
}

func (s *Supervisor) publish(kind ReconnectKind, attempt int, err error) {
	s.notify(s.ctx, ReconnectEvent{
		Kind:    kind,
		Attempt: attempt,
		Err:     err,
		At:      time.Now().UTC(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
