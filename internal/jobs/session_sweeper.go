package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// IdleLister finds sessions that stopped mid-order
type IdleLister interface {
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]storage.SessionKey, error)
}

// IdleResetter resets one session if it is still idle
type IdleResetter interface {
	ResetIdle(ctx context.Context, key storage.SessionKey, idleSince time.Time) (bool, error)
}

const sweepBatch = 200

// SessionSweeper periodically returns abandoned conversations to Idle so a
// customer who comes back days later starts from the main menu.
type SessionSweeper struct {
	sessions  IdleLister
	resetter  IdleResetter
	idleAfter time.Duration
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionSweeper creates a sweeper
func NewSessionSweeper(sessions IdleLister, resetter IdleResetter, idleAfter, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{
		sessions:  sessions,
		resetter:  resetter,
		idleAfter: idleAfter,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs a sweep immediately and then every interval until Stop
func (s *SessionSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		logger.Warn().Msg("Session sweeper already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Session sweep failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	logger.Info().Dur("interval", s.interval).Dur("idle_after", s.idleAfter).Msg("Session sweeper started")
}

// Stop halts the sweeper and waits for a running sweep to finish
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info().Msg("Session sweeper stopped")
}

// Sweep resets every session idle longer than idleAfter and returns how
// many were reset
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idleAfter)
	keys, err := s.sessions.ListIdleSessions(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return reset, ctx.Err()
		}
		ok, err := s.resetter.ResetIdle(ctx, key, cutoff)
		if err != nil {
			logger.Warn().Err(err).Str("tenant_id", key.TenantID).Msg("Idle reset failed")
			continue
		}
		if ok {
			reset++
		}
	}
	if reset > 0 {
		logger.Info().Int("reset", reset).Int("candidates", len(keys)).Msg("Idle sessions reset")
	}
	return reset, nil
}
