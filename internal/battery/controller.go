// Package battery exposes the four operations the rest of the program
// needs on top of the controller's register map: get/set the charge
// limit, enable/disable charging, and read telemetry. All input
// validation and privilege checks happen here, before any hardware
// access.
package battery

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hferrone/chargectl/internal/smc"
)

// Supported charge limit range, in percent. Values outside it are
// rejected before any hardware access regardless of variant.
const (
	MinChargeLimit = 20
	MaxChargeLimit = 100

	// binaryCapPercent is the only limit below 100 the binary-range
	// variant can express.
	binaryCapPercent = 80
)

// PrivilegeContext reports whether the running process may issue
// controller register writes. It is an explicit capability handed to the
// controller rather than ambient process state, so the write gate is
// testable without process-level tricks.
type PrivilegeContext interface {
	CanWriteRegisters() bool
}

type processPrivilege struct{}

func (processPrivilege) CanWriteRegisters() bool { return os.Geteuid() == 0 }

// ProcessPrivilege derives privilege from the effective uid of the
// current process.
func ProcessPrivilege() PrivilegeContext { return processPrivilege{} }

type staticPrivilege bool

func (p staticPrivilege) CanWriteRegisters() bool { return bool(p) }

// StaticPrivilege returns a fixed-answer privilege context, for tests
// and for the agent process, which runs elevated by definition.
func StaticPrivilege(elevated bool) PrivilegeContext { return staticPrivilege(elevated) }

// ResultCode classifies the outcome of a write operation. Policy
// failures are expected, common outcomes and are modeled as ordinary
// values, not errors.
type ResultCode int

const (
	ResultSuccess ResultCode = iota
	// ResultFailed: the request was valid but the operation did not
	// complete (bad range, hardware rejection). Reason says why.
	ResultFailed
	// ResultRequiresPrivilege: the caller lacks write privilege. Not a
	// terminal failure; the caller is expected to route the same request
	// through the privileged agent.
	ResultRequiresPrivilege
	// ResultNotSupported: this hardware variant cannot express the
	// requested value. No partial attempt was made.
	ResultNotSupported
)

// Result is the outcome of a write operation, with a human-readable
// reason for anything other than success.
type Result struct {
	Code   ResultCode
	Reason string
}

func success() Result { return Result{Code: ResultSuccess} }

func failed(format string, args ...any) Result {
	return Result{Code: ResultFailed, Reason: fmt.Sprintf(format, args...)}
}

func notSupported(format string, args ...any) Result {
	return Result{Code: ResultNotSupported, Reason: fmt.Sprintf(format, args...)}
}

func requiresPrivilege() Result {
	return Result{Code: ResultRequiresPrivilege, Reason: "write requires elevated privilege"}
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Code == ResultSuccess }

// Controller is the battery control facade. It serializes all register
// access through one client, so it is safe for concurrent use even
// though the underlying session is not.
type Controller struct {
	mu   sync.Mutex
	smc  smc.Client
	priv PrivilegeContext

	// variant is resolved once and treated as stable for the process
	// lifetime, but re-probed defensively if its key stops resolving.
	variant smc.Variant

	tempCache  *staleCache[float64]
	cycleCache *staleCache[int]
}

// slowReadTimeout bounds telemetry reads that go through vendor
// diagnostic queries, which can take seconds. On timeout the cached
// last-known-good value is returned instead of blocking the caller.
const slowReadTimeout = 3 * time.Second

// NewController builds a facade over the given register client. The
// privilege context gates every write.
func NewController(client smc.Client, priv PrivilegeContext) *Controller {
	c := &Controller{smc: client, priv: priv}
	c.tempCache = newStaleCache(slowReadTimeout, c.readTemperature)
	c.cycleCache = newStaleCache(slowReadTimeout, c.readCycleCount)
	return c
}

// Variant reports the resolved hardware variant, probing on first use.
func (c *Controller) Variant() (smc.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentVariant()
}

// currentVariant returns the cached variant after re-checking that its
// charge limit key still answers; a stale assumption triggers a full
// re-probe rather than blind trust. Callers hold c.mu.
func (c *Controller) currentVariant() (smc.Variant, error) {
	if c.variant != smc.VariantUnknown {
		if key, ok := c.variant.LimitKey(); ok && smc.ProbeExists(c.smc, key) {
			return c.variant, nil
		}
		c.variant = smc.VariantUnknown
	}
	v, err := smc.ResolveVariant(c.smc)
	if err != nil {
		return smc.VariantUnknown, err
	}
	c.variant = v
	return v, nil
}

// SetChargeLimit sets the maximum charge percentage. Validation order:
// global range, variant support, privilege — the privilege gate always
// runs before any write is issued, even if the write itself would fail.
func (c *Controller) SetChargeLimit(percent int) Result {
	if percent < MinChargeLimit || percent > MaxChargeLimit {
		return failed("charge limit %d%% outside supported range %d-%d", percent, MinChargeLimit, MaxChargeLimit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	variant, err := c.currentVariant()
	if err != nil {
		return failed("resolving hardware variant: %v", err)
	}

	raw, ok := rawFromPercent(variant, percent)
	if !ok {
		return notSupported("%s controller only supports %d%% or %d%%", variant, binaryCapPercent, MaxChargeLimit)
	}

	if !c.priv.CanWriteRegisters() {
		return requiresPrivilege()
	}

	key, _ := variant.LimitKey()
	if err := c.smc.Write(key, smc.EncodeUint8(raw)); err != nil {
		return failed("writing %s: %v", key, err)
	}
	return success()
}

// ChargeLimit reads the current charge limit as a logical percentage.
// Best-effort telemetry: an unreadable register yields ok=false, not an
// error.
func (c *Controller) ChargeLimit() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chargeLimitLocked()
}

func (c *Controller) chargeLimitLocked() (int, bool) {
	variant, err := c.currentVariant()
	if err != nil {
		return 0, false
	}
	key, _ := variant.LimitKey()
	value, err := c.smc.Read(key)
	if err != nil {
		return 0, false
	}
	raw, err := value.Uint8()
	if err != nil {
		return 0, false
	}
	return percentFromRaw(variant, raw)
}

// rawFromPercent translates a logical percentage into the variant's raw
// register encoding. The two encodings are not linearly related, so the
// translation is explicit in both directions.
func rawFromPercent(variant smc.Variant, percent int) (uint8, bool) {
	switch variant {
	case smc.VariantWide:
		return uint8(percent), true
	case smc.VariantBinary:
		switch percent {
		case binaryCapPercent:
			return 1, true
		case MaxChargeLimit:
			return 0, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// percentFromRaw is the inverse of rawFromPercent.
func percentFromRaw(variant smc.Variant, raw uint8) (int, bool) {
	switch variant {
	case smc.VariantWide:
		if raw < 1 || raw > MaxChargeLimit {
			return 0, false
		}
		return int(raw), true
	case smc.VariantBinary:
		if raw == 1 {
			return binaryCapPercent, true
		}
		return MaxChargeLimit, true
	default:
		return 0, false
	}
}

// The charging register is an inhibit flag: 0 means charging is allowed,
// 1 means charging is blocked. The inversion between that and the
// caller's boolean lives in these two functions and nowhere else.
func chargingRegisterValue(enabled bool) uint8 {
	if enabled {
		return 0
	}
	return 1
}

func chargingEnabledFromRaw(raw uint8) bool { return raw == 0 }

// SetChargingEnabled turns battery charging on or off. The primary
// inhibit key is tried first; if it does not resolve on this hardware
// the secondary key is used before giving up.
func (c *Controller) SetChargingEnabled(enabled bool) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.priv.CanWriteRegisters() {
		return requiresPrivilege()
	}

	raw := smc.EncodeUint8(chargingRegisterValue(enabled))
	key, ok := c.chargingKeyLocked()
	if !ok {
		return failed("no charging control register present")
	}
	if err := c.smc.Write(key, raw); err != nil {
		return failed("writing %s: %v", key, err)
	}
	return success()
}

// IsChargingEnabled reads the inhibit register and inverts it back.
func (c *Controller) IsChargingEnabled() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isChargingEnabledLocked()
}

func (c *Controller) isChargingEnabledLocked() (bool, bool) {
	key, ok := c.chargingKeyLocked()
	if !ok {
		return false, false
	}
	value, err := c.smc.Read(key)
	if err != nil {
		return false, false
	}
	raw, err := value.Uint8()
	if err != nil {
		return false, false
	}
	return chargingEnabledFromRaw(raw), true
}

func (c *Controller) chargingKeyLocked() (smc.Key, bool) {
	if smc.ProbeExists(c.smc, smc.KeyChargingInhibit) {
		return smc.KeyChargingInhibit, true
	}
	if smc.ProbeExists(c.smc, smc.KeyChargingInhibitAlt) {
		return smc.KeyChargingInhibitAlt, true
	}
	return smc.Key{}, false
}

// Temperature returns the battery temperature in °C from the first
// sensor that yields a plausible reading, or ok=false when no sensor
// does. Goes through the stale cache so a slow diagnostic query cannot
// stall a latency-sensitive caller.
func (c *Controller) Temperature() (float64, bool) {
	return c.tempCache.get()
}

// readTemperature scans the candidate sensors in fixed priority order.
// A decode failure is treated identically to an absent register.
func (c *Controller) readTemperature() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range smc.TemperatureKeys {
		value, err := c.smc.Read(key)
		if err != nil {
			continue
		}
		celsius, err := value.Temperature()
		if err != nil {
			continue
		}
		if celsius > 0 {
			return celsius, true
		}
	}
	return 0, false
}

// CycleCount returns the battery's charge cycle count, cached the same
// way as Temperature.
func (c *Controller) CycleCount() (int, bool) {
	return c.cycleCache.get()
}

func (c *Controller) readCycleCount() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readUint16Locked(smc.KeyCycleCount)
}

func (c *Controller) readUint8Locked(key smc.Key) (int, bool) {
	value, err := c.smc.Read(key)
	if err != nil {
		return 0, false
	}
	raw, err := value.Uint8()
	if err != nil {
		return 0, false
	}
	return int(raw), true
}

func (c *Controller) readUint16Locked(key smc.Key) (int, bool) {
	value, err := c.smc.Read(key)
	if err != nil {
		return 0, false
	}
	raw, err := value.Uint16()
	if err != nil {
		return 0, false
	}
	return int(raw), true
}
