package smc

import "errors"

// Variant identifies which of the two incompatible register layouts the
// controller exposes. The distinction is made by runtime capability
// probing, never by inspecting the host architecture: actual register
// availability is the authoritative signal.
type Variant int

const (
	VariantUnknown Variant = iota
	// VariantWide: the charge limit register holds the target percentage
	// directly (1-100).
	VariantWide
	// VariantBinary: the charge limit register is a one-bit flag where 0
	// means uncapped (100%) and 1 means capped at 80%. The two layouts'
	// raw values are not linearly related; translation between them is
	// always explicit.
	VariantBinary
)

func (v Variant) String() string {
	switch v {
	case VariantWide:
		return "wide-range"
	case VariantBinary:
		return "binary-range"
	default:
		return "unknown"
	}
}

// The catalog of every register this program touches, by logical role.
var (
	// Charge limit, one candidate key per variant.
	KeyChargeLimitWide   = MustKey("BCLM")
	KeyChargeLimitBinary = MustKey("CHWA")

	// Charging inhibit flag: 0 allows charging, 1 blocks it. The
	// secondary key is tried when the primary does not resolve.
	KeyChargingInhibit    = MustKey("CH0B")
	KeyChargingInhibitAlt = MustKey("CH0C")

	// Set while the machine runs on battery power; plugged-in is the
	// inverse of this flag, not a register of its own.
	KeyBatteryPowered = MustKey("BATP")

	KeyBatteryCount   = MustKey("BNum")
	KeyStateOfCharge  = MustKey("BUIC")
	KeyCycleCount     = MustKey("B0CT")
	KeyFullCapacity   = MustKey("B0FC")
	KeyDesignCapacity = MustKey("B0DC")
)

// TemperatureKeys are the battery temperature sensor registers, in read
// priority order. Hardware exposes anywhere from zero to all four.
var TemperatureKeys = [4]Key{
	MustKey("TB0T"),
	MustKey("TB1T"),
	MustKey("TB2T"),
	MustKey("TB3T"),
}

// ErrNoChargeControl is returned when neither variant's charge limit key
// resolves, meaning this hardware has no charge control at all.
var ErrNoChargeControl = errors.New("smc: no charge control registers present")

// CatalogEntry names one register for diagnostic enumeration.
type CatalogEntry struct {
	Name string
	Key  Key
}

// Catalog lists the full register set in a fixed order. Used for
// support and debug reporting only, never for control decisions.
var Catalog = []CatalogEntry{
	{"charge-limit-wide", KeyChargeLimitWide},
	{"charge-limit-binary", KeyChargeLimitBinary},
	{"charging-inhibit", KeyChargingInhibit},
	{"charging-inhibit-alt", KeyChargingInhibitAlt},
	{"battery-powered", KeyBatteryPowered},
	{"battery-count", KeyBatteryCount},
	{"state-of-charge", KeyStateOfCharge},
	{"cycle-count", KeyCycleCount},
	{"full-capacity", KeyFullCapacity},
	{"design-capacity", KeyDesignCapacity},
	{"battery-temp-0", TemperatureKeys[0]},
	{"battery-temp-1", TemperatureKeys[1]},
	{"battery-temp-2", TemperatureKeys[2]},
	{"battery-temp-3", TemperatureKeys[3]},
}

// ProbeExists reports whether a key resolves on the current hardware.
// Existence is defined purely by a successful info lookup, independent
// of read permission.
func ProbeExists(c Client, key Key) bool {
	_, err := c.Info(key)
	return err == nil
}

// ResolveVariant probes the charge limit candidates to determine the
// hardware variant. Wide-range keys are tried first; when both layouts
// probe successfully, wide-range wins.
func ResolveVariant(c Client) (Variant, error) {
	if ProbeExists(c, KeyChargeLimitWide) {
		return VariantWide, nil
	}
	if ProbeExists(c, KeyChargeLimitBinary) {
		return VariantBinary, nil
	}
	return VariantUnknown, ErrNoChargeControl
}

// LimitKey returns the charge limit register for a variant.
func (v Variant) LimitKey() (Key, bool) {
	switch v {
	case VariantWide:
		return KeyChargeLimitWide, true
	case VariantBinary:
		return KeyChargeLimitBinary, true
	default:
		return Key{}, false
	}
}

// KeyStatus is one row of the diagnostic enumeration.
type KeyStatus struct {
	Name    string
	Key     Key
	Present bool
}

// AvailableKeys probes every catalog entry independently and returns the
// results in catalog order.
func AvailableKeys(c Client) []KeyStatus {
	statuses := make([]KeyStatus, 0, len(Catalog))
	for _, entry := range Catalog {
		statuses = append(statuses, KeyStatus{
			Name:    entry.Name,
			Key:     entry.Key,
			Present: ProbeExists(c, entry.Key),
		})
	}
	return statuses
}
