package workspace

import "time"

// SweepPresenceForTest exposes sweepPresence to external tests, which
// otherwise cannot reach into a fake clock's advanced time without
// waiting on the real sweeper's ticker.
func (s *Store) SweepPresenceForTest(now time.Time, disconnectAfter, removeAfter time.Duration) bool {
	return s.sweepPresence(now, disconnectAfter, removeAfter)
}

// SweepLocksForTest exposes sweepLocks to external tests.
func (s *Store) SweepLocksForTest(now time.Time) bool {
	return s.sweepLocks(now)
}
