// Package cachemanager tracks a process-wide byte budget shared by every
// quantized-vector cache in the engine. It exposes no package-level global:
// a host constructs exactly one *Manager via New and threads it into every
// collection that wants cache admission control.
package cachemanager

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// Decision is the outcome of a TryAllocate call.
type Decision int

const (
	// Accepted means the allocation fit comfortably within budget.
	Accepted Decision = iota
	// AcceptedWithWarning means the allocation succeeded but pushed
	// current_bytes above the configured warning threshold.
	AcceptedWithWarning
	// Rejected means the allocation was refused; counters are unchanged.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case AcceptedWithWarning:
		return "accepted_with_warning"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectedInfo carries the detail attached to a Rejected decision.
type RejectedInfo struct {
	Requested uint64
	Available uint64
}

func (r RejectedInfo) Error() string {
	return fmt.Sprintf("cache allocation of %d bytes rejected, %d available", r.Requested, r.Available)
}

// Options configures a Manager at construction time.
type Options struct {
	// WarningThresholdPercent is the current_bytes/max_bytes ratio, in
	// [0,100], above which an otherwise-accepted allocation is reported as
	// AcceptedWithWarning. Zero means the default of 80.
	WarningThresholdPercent int
	// Strict rejects any allocation that would push current_bytes past
	// max_bytes. Non-strict allows it through but still counts it.
	Strict bool
}

// Manager is a single process-wide cache budget. Construct it once via New
// and share the handle; it is safe for concurrent use.
type Manager struct {
	maxBytes     uint64
	currentBytes atomic.Uint64
	peakBytes    atomic.Uint64

	acceptedCount atomic.Uint64
	warningCount  atomic.Uint64
	rejectedCount atomic.Uint64

	warningThreshold int
	strict           bool

	mu sync.Mutex // guards threshold-crossing bookkeeping only
}

// New constructs a Manager with the given byte budget.
func New(maxBytes uint64, opts Options) *Manager {
	threshold := opts.WarningThresholdPercent
	if threshold <= 0 {
		threshold = 80
	}
	return &Manager{
		maxBytes:         maxBytes,
		warningThreshold: threshold,
		strict:           opts.Strict,
	}
}

// TryAllocate attempts to reserve n bytes against the budget. The hot path
// only touches atomics; the mutex is taken solely to update
// threshold-crossing statistics.
func (m *Manager) TryAllocate(n uint64) (Decision, error) {
	for {
		current := m.currentBytes.Load()
		projected := current + n

		if projected > m.maxBytes {
			available := uint64(0)
			if m.maxBytes > current {
				available = m.maxBytes - current
			}
			if m.strict {
				m.mu.Lock()
				m.rejectedCount.Add(1)
				m.mu.Unlock()
				return Rejected, vectorerr.Wrap("cachemanager.try_allocate", vectorerr.PolicyViolation, RejectedInfo{Requested: n, Available: available})
			}
			// Non-strict: allow it through, still counted.
		}

		if !m.currentBytes.CompareAndSwap(current, projected) {
			continue
		}
		m.bumpPeak(projected)

		decision := Accepted
		if m.maxBytes > 0 && percentOf(projected, m.maxBytes) >= m.warningThreshold {
			decision = AcceptedWithWarning
		}

		m.mu.Lock()
		if decision == AcceptedWithWarning {
			m.warningCount.Add(1)
		} else {
			m.acceptedCount.Add(1)
		}
		m.mu.Unlock()

		return decision, nil
	}
}

func percentOf(n, max uint64) int {
	if max == 0 {
		return 100
	}
	return int(n * 100 / max)
}

func (m *Manager) bumpPeak(candidate uint64) {
	for {
		peak := m.peakBytes.Load()
		if candidate <= peak {
			return
		}
		if m.peakBytes.CompareAndSwap(peak, candidate) {
			return
		}
	}
}

// Deallocate releases n bytes back to the budget. It saturates at zero
// rather than underflowing.
func (m *Manager) Deallocate(n uint64) {
	for {
		current := m.currentBytes.Load()
		var next uint64
		if n >= current {
			next = 0
		} else {
			next = current - n
		}
		if m.currentBytes.CompareAndSwap(current, next) {
			return
		}
	}
}

// RecommendedEviction returns how many bytes a cache should evict to bring
// utilization down to 90% after accounting for a pending allocation of n
// bytes. Zero means no eviction is needed.
func (m *Manager) RecommendedEviction(n uint64) uint64 {
	const targetPercent = 90
	target := m.maxBytes * targetPercent / 100
	projected := m.currentBytes.Load() + n
	if projected <= target {
		return 0
	}
	return projected - target
}

// CurrentBytes returns the live allocation count.
func (m *Manager) CurrentBytes() uint64 { return m.currentBytes.Load() }

// PeakBytes returns the highest allocation count observed.
func (m *Manager) PeakBytes() uint64 { return m.peakBytes.Load() }

// MaxBytes returns the configured budget.
func (m *Manager) MaxBytes() uint64 { return m.maxBytes }

// Stats is a point-in-time snapshot of allocation counters, useful for
// metrics export.
type Stats struct {
	MaxBytes      uint64
	CurrentBytes  uint64
	PeakBytes     uint64
	AcceptedCount uint64
	WarningCount  uint64
	RejectedCount uint64
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		MaxBytes:      m.maxBytes,
		CurrentBytes:  m.currentBytes.Load(),
		PeakBytes:     m.peakBytes.Load(),
		AcceptedCount: m.acceptedCount.Load(),
		WarningCount:  m.warningCount.Load(),
		RejectedCount: m.rejectedCount.Load(),
	}
}
