// Package clock centralizes time, ID generation, and the deterministic
// color hashing shared by the workspace, doc session, and world-state
// subsystems.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is a seam over time.Now so sweepers and tests can control it.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by the real wall clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// NewID returns a random unique identifier.
func NewID() string {
	return uuid.NewString()
}

// palette is the 8-entry fixed color table awareness entries and agents
// are assigned from, indexed by a stable hash of an ID (spec §4.4).
var palette = [8]string{
	"#e06c75", "#98c379", "#e5c07b", "#61afef",
	"#c678dd", "#56b6c2", "#d19a66", "#abb2bf",
}

// ColorFor derives a stable display color for an ID using FNV-1a so
// reconnecting agents and editors keep the same color across sessions.
func ColorFor(id string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return palette[int(h%uint32(len(palette)))]
}
