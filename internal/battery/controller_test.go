package battery

import (
	"testing"
	"time"

	"github.com/hferrone/chargectl/internal/smc"
)

// fakeClient is an in-memory register table recording every write, so
// tests can assert both outcomes and the absence of hardware access.
type fakeClient struct {
	regs   map[smc.Key]smc.Value
	writes []writeRecord
}

type writeRecord struct {
	key smc.Key
	raw byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{regs: map[smc.Key]smc.Value{}}
}

func (c *fakeClient) put(key smc.Key, v smc.Value) { c.regs[key] = v }

func (c *fakeClient) Info(key smc.Key) (smc.KeyInfo, error) {
	v, ok := c.regs[key]
	if !ok {
		return smc.KeyInfo{}, smc.ErrKeyNotFound
	}
	return smc.KeyInfo{Size: len(v.Data), Type: v.Type, TypeCode: v.Type.Code()}, nil
}

func (c *fakeClient) Read(key smc.Key) (smc.Value, error) {
	v, ok := c.regs[key]
	if !ok {
		return smc.Value{}, smc.ErrKeyNotFound
	}
	return v, nil
}

func (c *fakeClient) Write(key smc.Key, v smc.Value) error {
	if _, ok := c.regs[key]; !ok {
		return smc.ErrKeyNotFound
	}
	c.regs[key] = v
	c.writes = append(c.writes, writeRecord{key: key, raw: v.Data[0]})
	return nil
}

func wideClient() *fakeClient {
	c := newFakeClient()
	c.put(smc.KeyChargeLimitWide, smc.EncodeUint8(100))
	c.put(smc.KeyChargingInhibit, smc.EncodeUint8(0))
	return c
}

func binaryClient() *fakeClient {
	c := newFakeClient()
	c.put(smc.KeyChargeLimitBinary, smc.EncodeUint8(0))
	c.put(smc.KeyChargingInhibit, smc.EncodeUint8(0))
	return c
}

func TestSetChargeLimitRange(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(true))

	for _, pct := range []int{0, 19, 101, -5} {
		res := ctrl.SetChargeLimit(pct)
		if res.Code != ResultFailed {
			t.Errorf("SetChargeLimit(%d) = %v, want ResultFailed", pct, res.Code)
		}
	}
	if len(client.writes) != 0 {
		t.Errorf("out-of-range limits must not reach hardware; got %d writes", len(client.writes))
	}
}

func TestSetChargeLimitRequiresPrivilege(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(false))

	res := ctrl.SetChargeLimit(80)
	if res.Code != ResultRequiresPrivilege {
		t.Fatalf("result = %v, want ResultRequiresPrivilege", res.Code)
	}
	if len(client.writes) != 0 {
		t.Errorf("unprivileged caller must cause zero writes; got %d", len(client.writes))
	}
}

func TestSetChargeLimitWide(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(true))

	res := ctrl.SetChargeLimit(55)
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}
	if len(client.writes) != 1 || client.writes[0].key != smc.KeyChargeLimitWide || client.writes[0].raw != 55 {
		t.Errorf("writes = %+v, want one write of 55 to %s", client.writes, smc.KeyChargeLimitWide)
	}

	limit, ok := ctrl.ChargeLimit()
	if !ok || limit != 55 {
		t.Errorf("ChargeLimit = %d, %v, want 55", limit, ok)
	}
}

func TestSetChargeLimitBinary(t *testing.T) {
	cases := []struct {
		percent int
		wantRaw byte
	}{
		{80, 1},
		{100, 0},
	}
	for _, tc := range cases {
		client := binaryClient()
		ctrl := NewController(client, StaticPrivilege(true))

		res := ctrl.SetChargeLimit(tc.percent)
		if !res.OK() {
			t.Fatalf("SetChargeLimit(%d) = %+v, want success", tc.percent, res)
		}
		if len(client.writes) != 1 || client.writes[0].raw != tc.wantRaw {
			t.Errorf("SetChargeLimit(%d) writes = %+v, want raw %d", tc.percent, client.writes, tc.wantRaw)
		}

		limit, ok := ctrl.ChargeLimit()
		if !ok || limit != tc.percent {
			t.Errorf("ChargeLimit after %d = %d, %v", tc.percent, limit, ok)
		}
	}
}

func TestSetChargeLimitBinaryUnsupportedValue(t *testing.T) {
	client := binaryClient()
	ctrl := NewController(client, StaticPrivilege(true))

	res := ctrl.SetChargeLimit(55)
	if res.Code != ResultNotSupported {
		t.Fatalf("result = %v, want ResultNotSupported", res.Code)
	}
	if len(client.writes) != 0 {
		t.Errorf("unsupported value must not reach hardware; got %d writes", len(client.writes))
	}
}

func TestSetChargingEnabledInversion(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(true))

	// Enabling charging writes 0 to the inhibit register.
	if res := ctrl.SetChargingEnabled(true); !res.OK() {
		t.Fatalf("enable: %+v", res)
	}
	if client.writes[0].raw != 0 {
		t.Errorf("enable wrote %d, want 0", client.writes[0].raw)
	}
	if enabled, ok := ctrl.IsChargingEnabled(); !ok || !enabled {
		t.Errorf("IsChargingEnabled = %v, %v, want true", enabled, ok)
	}

	// Disabling charging writes 1.
	if res := ctrl.SetChargingEnabled(false); !res.OK() {
		t.Fatalf("disable: %+v", res)
	}
	if client.writes[1].raw != 1 {
		t.Errorf("disable wrote %d, want 1", client.writes[1].raw)
	}
	if enabled, ok := ctrl.IsChargingEnabled(); !ok || enabled {
		t.Errorf("IsChargingEnabled = %v, %v, want false", enabled, ok)
	}
}

func TestSetChargingEnabledSecondaryKey(t *testing.T) {
	client := newFakeClient()
	client.put(smc.KeyChargeLimitWide, smc.EncodeUint8(100))
	client.put(smc.KeyChargingInhibitAlt, smc.EncodeUint8(0))
	ctrl := NewController(client, StaticPrivilege(true))

	res := ctrl.SetChargingEnabled(false)
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}
	if client.writes[0].key != smc.KeyChargingInhibitAlt {
		t.Errorf("wrote %s, want fallback key %s", client.writes[0].key, smc.KeyChargingInhibitAlt)
	}
}

func TestSetChargingEnabledRequiresPrivilege(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(false))

	res := ctrl.SetChargingEnabled(false)
	if res.Code != ResultRequiresPrivilege {
		t.Fatalf("result = %v, want ResultRequiresPrivilege", res.Code)
	}
	if len(client.writes) != 0 {
		t.Errorf("unprivileged caller must cause zero writes; got %d", len(client.writes))
	}
}

func TestTemperatureSensorPriority(t *testing.T) {
	client := wideClient()
	// Only the last sensor reports: the scan must fall through the three
	// absent sensors and use it.
	client.put(smc.TemperatureKeys[3], smc.EncodeTemperature(25.0))
	ctrl := NewController(client, StaticPrivilege(true))

	temp, ok := ctrl.Temperature()
	if !ok || temp != 25.0 {
		t.Errorf("Temperature = %v, %v, want 25.0", temp, ok)
	}
}

func TestTemperatureSkipsImplausibleReading(t *testing.T) {
	client := wideClient()
	client.put(smc.TemperatureKeys[0], smc.EncodeTemperature(0))
	client.put(smc.TemperatureKeys[1], smc.EncodeTemperature(31.5))
	ctrl := NewController(client, StaticPrivilege(true))

	temp, ok := ctrl.Temperature()
	if !ok || temp != 31.5 {
		t.Errorf("Temperature = %v, %v, want 31.5 from the second sensor", temp, ok)
	}
}

func TestTemperatureNoSensors(t *testing.T) {
	ctrl := NewController(wideClient(), StaticPrivilege(true))
	if _, ok := ctrl.Temperature(); ok {
		t.Error("expected ok=false with no sensors present")
	}
}

func TestCycleCount(t *testing.T) {
	client := wideClient()
	client.put(smc.KeyCycleCount, smc.EncodeUint16(312))
	ctrl := NewController(client, StaticPrivilege(true))

	cycles, ok := ctrl.CycleCount()
	if !ok || cycles != 312 {
		t.Errorf("CycleCount = %d, %v, want 312", cycles, ok)
	}
}

func TestStatusOmitsUnavailableFields(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(true))

	st := ctrl.Status()
	if st.TemperatureC != nil {
		t.Error("TemperatureC should be nil with no sensors")
	}
	if st.CycleCount != nil {
		t.Error("CycleCount should be nil with no register")
	}
	if st.ChargePercent != nil {
		t.Error("ChargePercent should be nil with no register")
	}
	if st.ChargeLimit == nil || *st.ChargeLimit != 100 {
		t.Errorf("ChargeLimit = %v, want 100", st.ChargeLimit)
	}
	if st.Variant != smc.VariantWide.String() {
		t.Errorf("Variant = %q", st.Variant)
	}
}

func TestStatusDerivedCharging(t *testing.T) {
	client := wideClient()
	client.put(smc.KeyBatteryPowered, smc.Value{Type: smc.TypeFlag, Data: []byte{0}}) // on wall power
	client.put(smc.KeyStateOfCharge, smc.EncodeUint8(60))
	ctrl := NewController(client, StaticPrivilege(true))

	st := ctrl.Status()
	if st.IsPluggedIn == nil || !*st.IsPluggedIn {
		t.Fatal("expected plugged in")
	}
	if st.IsCharging == nil || !*st.IsCharging {
		t.Error("expected charging: plugged in, enabled, below limit")
	}

	// At or past the limit, charging is reported off even though the
	// inhibit register still allows it.
	ctrl.SetChargeLimit(60)
	st = ctrl.Status()
	if st.IsCharging == nil || *st.IsCharging {
		t.Error("expected not charging at the limit")
	}
}

// The battery-powered flag is set while running on battery; plugged-in
// is its inverse.
func TestStatusPluggedInInversion(t *testing.T) {
	client := wideClient()
	client.put(smc.KeyBatteryPowered, smc.Value{Type: smc.TypeFlag, Data: []byte{1}})
	ctrl := NewController(client, StaticPrivilege(true))

	st := ctrl.Status()
	if st.IsPluggedIn == nil || *st.IsPluggedIn {
		t.Error("on battery power, expected plugged in = false")
	}
	if st.IsCharging == nil || *st.IsCharging {
		t.Error("on battery power, expected charging = false")
	}
}

func TestStaleCacheTimeout(t *testing.T) {
	calls := 0
	block := make(chan struct{})
	cache := newStaleCache(20*time.Millisecond, func() (int, bool) {
		calls++
		if calls == 1 {
			return 42, true
		}
		<-block
		return 99, true
	})

	// First read populates the cache.
	if v, ok := cache.get(); !ok || v != 42 {
		t.Fatalf("first get = %d, %v", v, ok)
	}

	// Second read blocks past the budget; the stale value comes back.
	start := time.Now()
	v, ok := cache.get()
	if !ok || v != 42 {
		t.Errorf("timed-out get = %d, %v, want stale 42", v, ok)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, before the timeout budget", elapsed)
	}

	// The worker is still in flight; another read must not stack a second
	// worker on the same session.
	if v, ok := cache.get(); !ok || v != 42 {
		t.Errorf("in-flight get = %d, %v, want stale 42", v, ok)
	}
	if calls != 2 {
		t.Errorf("reader called %d times, want 2", calls)
	}
	close(block)
}

func TestVariantReprobeAfterKeyLoss(t *testing.T) {
	client := wideClient()
	ctrl := NewController(client, StaticPrivilege(true))

	if v, err := ctrl.Variant(); err != nil || v != smc.VariantWide {
		t.Fatalf("variant = %v, %v", v, err)
	}

	// The wide key disappears and the binary key shows up. The cached
	// variant must not be trusted blindly.
	delete(client.regs, smc.KeyChargeLimitWide)
	client.put(smc.KeyChargeLimitBinary, smc.EncodeUint8(0))

	if v, err := ctrl.Variant(); err != nil || v != smc.VariantBinary {
		t.Errorf("variant after key loss = %v, %v, want binary", v, err)
	}
}
