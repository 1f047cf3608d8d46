package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hferrone/chargectl/internal/battery"
)

// metrics exports the battery snapshot as prometheus gauges. Gauges for
// fields the hardware did not answer keep their previous value rather
// than publishing a fake zero.
type metrics struct {
	registry        *prometheus.Registry
	chargePercent   prometheus.Gauge
	temperature     prometheus.Gauge
	cycleCount      prometheus.Gauge
	healthRatio     prometheus.Gauge
	chargeLimit     prometheus.Gauge
	chargingEnabled prometheus.Gauge
	pluggedIn       prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		chargePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_battery_charge_percent",
			Help: "Current battery state of charge.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_battery_temperature_celsius",
			Help: "Battery temperature from the first responding sensor.",
		}),
		cycleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_battery_cycle_count",
			Help: "Battery charge cycle count.",
		}),
		healthRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_battery_health_ratio",
			Help: "Full charge capacity divided by design capacity.",
		}),
		chargeLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_charge_limit_percent",
			Help: "Configured maximum charge percentage.",
		}),
		chargingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_charging_enabled",
			Help: "Whether charging is currently allowed (1) or inhibited (0).",
		}),
		pluggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargectl_plugged_in",
			Help: "Whether the machine is on wall power.",
		}),
	}
	m.registry.MustRegister(
		m.chargePercent, m.temperature, m.cycleCount, m.healthRatio,
		m.chargeLimit, m.chargingEnabled, m.pluggedIn,
	)
	return m
}

func (m *metrics) update(st battery.Status) {
	if st.ChargePercent != nil {
		m.chargePercent.Set(float64(*st.ChargePercent))
	}
	if st.TemperatureC != nil {
		m.temperature.Set(*st.TemperatureC)
	}
	if st.CycleCount != nil {
		m.cycleCount.Set(float64(*st.CycleCount))
	}
	if st.HealthRatio != nil {
		m.healthRatio.Set(*st.HealthRatio)
	}
	if st.ChargeLimit != nil {
		m.chargeLimit.Set(float64(*st.ChargeLimit))
	}
	if st.ChargingEnabled != nil {
		m.chargingEnabled.Set(boolGauge(*st.ChargingEnabled))
	}
	if st.IsPluggedIn != nil {
		m.pluggedIn.Set(boolGauge(*st.IsPluggedIn))
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
