package auth

import "time"

// SetSessionClock lets external tests move a MemorySessions clock.
func SetSessionClock(m *MemorySessions, now func() time.Time) {
	m.nowFunc = now
}
