// Package timing provides small helpers for rate-gating periodic work.
package timing

import "time"

// TaskLimiter gates a task so it runs at most once per period. The zero
// value is not usable; construct with NewTaskLimiter. A fresh limiter
// allows the task immediately.
type TaskLimiter struct {
	period      time.Duration
	lastRunAt   time.Time
	everStarted bool
}

// NewTaskLimiter creates a limiter with the given period.
func NewTaskLimiter(period time.Duration) *TaskLimiter {
	return &TaskLimiter{period: period}
}

// Period returns the configured period.
func (l *TaskLimiter) Period() time.Duration {
	return l.period
}

// CanDoTask reports whether the period has elapsed since the last
// recorded run (or the limiter has never run).
func (l *TaskLimiter) CanDoTask(now time.Time) bool {
	if !l.everStarted {
		return true
	}
	return !now.Before(l.lastRunAt.Add(l.period))
}

// DidTask records that the task ran at the given time.
func (l *TaskLimiter) DidTask(now time.Time) {
	l.lastRunAt = now
	l.everStarted = true
}

// Reset clears the limiter so the next CanDoTask returns true.
func (l *TaskLimiter) Reset() {
	l.everStarted = false
	l.lastRunAt = time.Time{}
}
