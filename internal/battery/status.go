package battery

import (
	"sync"
	"time"

	"github.com/hferrone/chargectl/internal/smc"
)

// staleCache wraps a blocking read with a timeout budget and a
// last-known-good fallback. The read runs in its own goroutine; on
// timeout the caller gets the stale value immediately while the worker
// is left to finish, so the underlying session is never abandoned in
// the middle of a protocol exchange.
type staleCache[T any] struct {
	mu       sync.Mutex
	timeout  time.Duration
	read     func() (T, bool)
	last     T
	haveLast bool
	inflight bool
}

func newStaleCache[T any](timeout time.Duration, read func() (T, bool)) *staleCache[T] {
	return &staleCache[T]{timeout: timeout, read: read}
}

func (s *staleCache[T]) get() (T, bool) {
	s.mu.Lock()
	if s.inflight {
		// A previous read is still in the hardware; serve the cache
		// rather than stacking another worker on the same session.
		last, ok := s.last, s.haveLast
		s.mu.Unlock()
		return last, ok
	}
	s.inflight = true
	s.mu.Unlock()

	type outcome struct {
		value T
		ok    bool
	}
	done := make(chan outcome, 1)
	go func() {
		value, ok := s.read()
		s.mu.Lock()
		s.inflight = false
		if ok {
			s.last = value
			s.haveLast = true
		}
		s.mu.Unlock()
		done <- outcome{value, ok}
	}()

	select {
	case r := <-done:
		return r.value, r.ok
	case <-time.After(s.timeout):
		s.mu.Lock()
		last, ok := s.last, s.haveLast
		s.mu.Unlock()
		return last, ok
	}
}

// Status is the read-only battery snapshot handed to the UI and
// automation layers. Fields the hardware could not answer are nil; a
// partially-populated status is still a successful read.
type Status struct {
	ChargePercent   *int     `json:"chargePercent,omitempty"`
	IsCharging      *bool    `json:"isCharging,omitempty"`
	IsPluggedIn     *bool    `json:"isPluggedIn,omitempty"`
	TemperatureC    *float64 `json:"temperatureC,omitempty"`
	CycleCount      *int     `json:"cycleCount,omitempty"`
	HealthRatio     *float64 `json:"healthRatio,omitempty"`
	ChargeLimit     *int     `json:"chargeLimit,omitempty"`
	ChargingEnabled *bool    `json:"chargingEnabled,omitempty"`
	Variant         string   `json:"variant,omitempty"`
}

// Status assembles the full snapshot. Reads are best-effort and
// independent: one unreadable register never fails the whole call.
func (c *Controller) Status() Status {
	var st Status

	c.mu.Lock()
	if pct, ok := c.readUint8Locked(smc.KeyStateOfCharge); ok {
		st.ChargePercent = &pct
	}
	if value, err := c.smc.Read(smc.KeyBatteryPowered); err == nil {
		if onBattery, err := value.Flag(); err == nil {
			plugged := !onBattery
			st.IsPluggedIn = &plugged
		}
	}
	if full, ok := c.readUint16Locked(smc.KeyFullCapacity); ok {
		if design, ok := c.readUint16Locked(smc.KeyDesignCapacity); ok && design > 0 {
			ratio := float64(full) / float64(design)
			st.HealthRatio = &ratio
		}
	}
	if limit, ok := c.chargeLimitLocked(); ok {
		st.ChargeLimit = &limit
	}
	if enabled, ok := c.isChargingEnabledLocked(); ok {
		st.ChargingEnabled = &enabled
	}
	if variant, err := c.currentVariant(); err == nil {
		st.Variant = variant.String()
	}
	c.mu.Unlock()

	// Cached slow reads happen outside the facade lock; they take it
	// themselves when they actually touch the hardware.
	if temp, ok := c.Temperature(); ok {
		st.TemperatureC = &temp
	}
	if cycles, ok := c.CycleCount(); ok {
		st.CycleCount = &cycles
	}

	// Charging now means: on wall power, with charging allowed, and not
	// already past the limit. The controller has no single "charging"
	// register, so this is derived.
	if st.IsPluggedIn != nil && st.ChargingEnabled != nil {
		charging := *st.IsPluggedIn && *st.ChargingEnabled
		if st.ChargePercent != nil && st.ChargeLimit != nil && *st.ChargePercent >= *st.ChargeLimit {
			charging = false
		}
		st.IsCharging = &charging
	}

	return st
}

// KeyDiagnostic is one row of the diagnostic report.
type KeyDiagnostic struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Present bool   `json:"present"`
}

// DiagnosticsReport enumerates register availability and current
// readings for support output. Read-only and safe without privilege.
type DiagnosticsReport struct {
	Variant string          `json:"variant"`
	Keys    []KeyDiagnostic `json:"keys"`
	Status  Status          `json:"status"`
}

// Diagnostics probes every catalog key independently and collects the
// current readings. Never used for control decisions.
func (c *Controller) Diagnostics() DiagnosticsReport {
	var report DiagnosticsReport

	c.mu.Lock()
	if variant, err := c.currentVariant(); err == nil {
		report.Variant = variant.String()
	} else {
		report.Variant = smc.VariantUnknown.String()
	}
	for _, ks := range smc.AvailableKeys(c.smc) {
		report.Keys = append(report.Keys, KeyDiagnostic{
			Name:    ks.Name,
			Key:     ks.Key.String(),
			Present: ks.Present,
		})
	}
	c.mu.Unlock()

	report.Status = c.Status()
	return report
}
