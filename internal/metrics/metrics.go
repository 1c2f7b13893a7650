// Package metrics provides lightweight, lock-free counters for tracking
// what a stagehand run assembled or streamed.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a stagehand run.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	unitsAssembled  atomic.Int64
	bytesAssembled  atomic.Int64
	unitsOverwrite  atomic.Int64
	keepAlives      atomic.Int64
	unitsStreamed   atomic.Int64
	bytesStreamed   atomic.Int64
	connectAttempts atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	handoffAt    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Loader metrics ───────────────────────────────────────────────────

// UnitAssembled records one unit of n content bytes.
func (c *Collector) UnitAssembled(n int64) {
	if c == nil {
		return
	}
	c.unitsAssembled.Add(1)
	c.bytesAssembled.Add(n)
}

// UnitOverwritten records a unit that replaced an earlier namespace.
func (c *Collector) UnitOverwritten() {
	if c == nil {
		return
	}
	c.unitsOverwrite.Add(1)
}

// KeepAlive records a blank line skipped by the frame reader.
func (c *Collector) KeepAlive() {
	if c == nil {
		return
	}
	c.keepAlives.Add(1)
}

// Handoff records the moment control passed to the entry point.
func (c *Collector) Handoff() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.handoffAt = time.Now()
	c.mu.Unlock()
}

// UnitsAssembled returns the number of units executed.
func (c *Collector) UnitsAssembled() int64 {
	if c == nil {
		return 0
	}
	return c.unitsAssembled.Load()
}

// BytesAssembled returns the total unit content size.
func (c *Collector) BytesAssembled() int64 {
	if c == nil {
		return 0
	}
	return c.bytesAssembled.Load()
}

// UnitsOverwritten returns how many registrations replaced a namespace.
func (c *Collector) UnitsOverwritten() int64 {
	if c == nil {
		return 0
	}
	return c.unitsOverwrite.Load()
}

// ── Producer metrics ─────────────────────────────────────────────────

// UnitStreamed records one unit of n content bytes written to a stream.
func (c *Collector) UnitStreamed(n int64) {
	if c == nil {
		return
	}
	c.unitsStreamed.Add(1)
	c.bytesStreamed.Add(n)
}

// ConnectAttempt records one dial of the delivery gateway.
func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Add(1)
}

// UnitsStreamed returns the number of units written.
func (c *Collector) UnitsStreamed() int64 {
	if c == nil {
		return 0
	}
	return c.unitsStreamed.Load()
}

// BytesStreamed returns the total content bytes written.
func (c *Collector) BytesStreamed() int64 {
	if c == nil {
		return 0
	}
	return c.bytesStreamed.Load()
}

// ConnectAttempts returns the number of gateway dials.
func (c *Collector) ConnectAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.connectAttempts.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	UnitsAssembled   int64  `json:"units_assembled"`
	BytesAssembled   int64  `json:"bytes_assembled"`
	UnitsOverwritten int64  `json:"units_overwritten"`
	KeepAlives       int64  `json:"keep_alives"`
	UnitsStreamed    int64  `json:"units_streamed"`
	BytesStreamed    int64  `json:"bytes_streamed"`
	ConnectAttempts  int64  `json:"connect_attempts"`
	ErrorsTotal      int64  `json:"errors_total"`
	HandoffAt        string `json:"handoff_at,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Millisecond).String(),
		UnitsAssembled:   c.unitsAssembled.Load(),
		BytesAssembled:   c.bytesAssembled.Load(),
		UnitsOverwritten: c.unitsOverwrite.Load(),
		KeepAlives:       c.keepAlives.Load(),
		UnitsStreamed:    c.unitsStreamed.Load(),
		BytesStreamed:    c.bytesStreamed.Load(),
		ConnectAttempts:  c.connectAttempts.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.handoffAt.IsZero() {
		s.HandoffAt = c.handoffAt.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.Marshal(s)
	return string(data)
}
