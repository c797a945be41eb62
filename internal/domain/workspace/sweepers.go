package workspace

import (
	"context"
	"log/slog"
	"time"
)

// LockSweeper periodically reclaims expired locks (spec §4.2).
type LockSweeper struct {
	store  *Store
	period time.Duration
	log    *slog.Logger
	stop   chan struct{}
}

// NewLockSweeper constructs a sweeper that checks store for expired
// locks every period.
func NewLockSweeper(store *Store, period time.Duration, log *slog.Logger) *LockSweeper {
	return &LockSweeper{store: store, period: period, log: log, stop: make(chan struct{})}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (s *LockSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if s.store.sweepLocks(time.Now()) {
					s.log.Debug("lock sweep reclaimed expired locks")
				}
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *LockSweeper) Stop() { close(s.stop) }

// PresenceSweeper periodically demotes or removes stale agents (spec
// §4.3).
type PresenceSweeper struct {
	store           *Store
	period          time.Duration
	disconnectAfter time.Duration
	removeAfter     time.Duration
	log             *slog.Logger
	stop            chan struct{}
}

// NewPresenceSweeper constructs a presence sweeper.
func NewPresenceSweeper(store *Store, period, disconnectAfter, removeAfter time.Duration, log *slog.Logger) *PresenceSweeper {
	return &PresenceSweeper{
		store:           store,
		period:          period,
		disconnectAfter: disconnectAfter,
		removeAfter:     removeAfter,
		log:             log,
		stop:            make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (s *PresenceSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if s.store.sweepPresence(time.Now(), s.disconnectAfter, s.removeAfter) {
					s.log.Debug("presence sweep updated agent status")
				}
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *PresenceSweeper) Stop() { close(s.stop) }
