package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled         bool
	FramesPerMinute int
	FramesPerHour   int
	FramesPerDay    int
	BytesPerDay     int64
}

// RateLimiter counts rectified frames and uploaded bytes per client.
type RateLimiter struct {
	mu      sync.Mutex
	limits  RateLimitConfig
	now     func() time.Time
	clients map[string]*clientUsage
}

type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time

	minute int
	hour   int
	day    int
	bytes  int64
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	FramesLastMinute int
	FramesLastHour   int
	FramesToday      int
	BytesToday       int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(limits RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		now:     time.Now,
		clients: make(map[string]*clientUsage),
	}
}

// Allow records one frame of size bytes for client, or returns a
// *RateLimitError without recording anything if a limit would be exceeded.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, dayStart: now}
		rl.clients[client] = u
	}
	u.roll(now)

	if err := rl.check(u, size, now); err != nil {
		return err
	}
	u.minute++
	u.hour++
	u.day++
	u.bytes += size
	return nil
}

// roll starts new windows once the old ones have expired.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minute, u.minuteStart = 0, now
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hour, u.hourStart = 0, now
	}
	y0, m0, d0 := u.dayStart.Date()
	y1, m1, d1 := now.Date()
	if y0 != y1 || m0 != m1 || d0 != d1 {
		u.day, u.bytes, u.dayStart = 0, 0, now
	}
}

func (rl *RateLimiter) check(u *clientUsage, size int64, now time.Time) error {
	l := rl.limits
	if l.FramesPerMinute > 0 && u.minute >= l.FramesPerMinute {
		return &RateLimitError{Window: "minute", Limit: int64(l.FramesPerMinute), Used: int64(u.minute),
			RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if l.FramesPerHour > 0 && u.hour >= l.FramesPerHour {
		return &RateLimitError{Window: "hour", Limit: int64(l.FramesPerHour), Used: int64(u.hour),
			RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	if l.FramesPerDay > 0 && u.day >= l.FramesPerDay {
		return &RateLimitError{Window: "day", Limit: int64(l.FramesPerDay), Used: int64(u.day),
			RetryAfter: midnight.Sub(now)}
	}
	if l.BytesPerDay > 0 && u.bytes+size > l.BytesPerDay {
		return &RateLimitError{Window: "bytes", Limit: l.BytesPerDay, Used: u.bytes,
			RetryAfter: midnight.Sub(now)}
	}
	return nil
}

// Usage returns the current counters of client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	u.roll(rl.now())
	return Usage{
		FramesLastMinute: u.minute,
		FramesLastHour:   u.hour,
		FramesToday:      u.day,
		BytesToday:       u.bytes,
	}
}

// RateLimitError reports which limit a client ran into.
type RateLimitError struct {
	Window     string // "minute", "hour", "day" or "bytes"
	Limit      int64
	Used       int64
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (used: %d, limit: %d, retry after: %v)",
		e.Window, e.Used, e.Limit, e.RetryAfter.Round(time.Second))
}
