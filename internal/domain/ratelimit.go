package domain

import (
	"time"

	"github.com/google/uuid"
)

type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
	WindowDay    WindowType = "day"
	WindowMonth  WindowType = "month"
)

func (w WindowType) Valid() bool {
	switch w {
	case WindowMinute, WindowHour, WindowDay, WindowMonth:
		return true
	}
	return false
}

// WindowBounds computes the calendar-aligned window containing now for a
// window of size units. Windows are anchored in UTC at multiples of size
// since the epoch (months anchor to the first of the month), so independent
// processes computing bounds for the same instant agree exactly.
func WindowBounds(now time.Time, windowType WindowType, size int) (start, end time.Time) {
	if size < 1 {
		size = 1
	}
	now = now.UTC()

	switch windowType {
	case WindowMinute:
		return alignedUnix(now, int64(size)*60)
	case WindowHour:
		return alignedUnix(now, int64(size)*3600)
	case WindowDay:
		return alignedUnix(now, int64(size)*86400)
	case WindowMonth:
		months := now.Year()*12 + int(now.Month()) - 1
		months -= months % size
		start = time.Date(months/12, time.Month(months%12+1), 1, 0, 0, 0, 0, time.UTC)
		next := months + size
		end = time.Date(next/12, time.Month(next%12+1), 1, 0, 0, 0, 0, time.UTC)
		return start, end
	default:
		// Unknown window types fall back to a single hour.
		return alignedUnix(now, 3600)
	}
}

func alignedUnix(now time.Time, step int64) (time.Time, time.Time) {
	sec := now.Unix()
	startSec := sec - sec%step
	return time.Unix(startSec, 0).UTC(), time.Unix(startSec+step, 0).UTC()
}

// RetryAfterSeconds returns the whole seconds until reset, rounded up,
// never negative.
func RetryAfterSeconds(now, reset time.Time) int {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// RateLimitRecord is one persistent counter for a (type, identifier, tenant)
// key. CurrentCount only moves forward inside the live window; when the
// window has elapsed the record resets in place with fresh bounds.
type RateLimitRecord struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	Type           string     `json:"type"`
	Identifier     string     `json:"identifier"`
	WindowType     WindowType `json:"window_type"`
	WindowSize     int        `json:"window_size"`
	MaxRequests    int        `json:"max_requests"`
	CurrentCount   int        `json:"current_count"`
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	FirstRequestAt time.Time  `json:"first_request_at"`
	LastRequestAt  time.Time  `json:"last_request_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Expired reports whether the record's window has fully elapsed.
func (r *RateLimitRecord) Expired(now time.Time) bool {
	return !now.Before(r.WindowEnd)
}

// RateLimitResult is the outcome of a rate-limit check. A denied check is a
// normal result, not an error.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
}

type LimitScope string

const (
	LimitPerUser   LimitScope = "user"
	LimitPerTenant LimitScope = "tenant"
	LimitPerIP     LimitScope = "ip"
)

// RateLimitRule is a named policy: operations of Type are limited to
// MaxRequests per window, keyed per user, tenant, or client IP.
type RateLimitRule struct {
	Type        string     `yaml:"type"`
	MaxRequests int        `yaml:"max_requests"`
	WindowType  WindowType `yaml:"window"`
	WindowSize  int        `yaml:"window_size"`
	Per         LimitScope `yaml:"per"`
}
