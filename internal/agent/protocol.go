// Package agent implements the privileged side of the privilege
// separation model: a long-running elevated daemon that performs
// register writes on behalf of the unprivileged process, plus the
// client used to reach it.
//
// Transport is a unix domain socket carrying CBOR request/response
// pairs. Every request carries an Ed25519-signed bearer token and is
// authenticated independently; no session state is shared between
// requests.
package agent

// DefaultSocketPath is the well-known endpoint the agent listens on.
// One agent instance serves all requests on a machine.
const DefaultSocketPath = "/var/run/chargectl/agent.sock"

// Request actions.
const (
	ActionSetChargeLimit = "set-charge-limit"
	ActionSetCharging    = "set-charging"
	ActionStatus         = "status"
)

// Request is one operation submitted to the agent. Requests are
// stateless; the token authenticates each one on its own.
type Request struct {
	Action  string `cbor:"action"`
	Token   []byte `cbor:"token"`
	Percent int    `cbor:"percent,omitempty"`
	Enabled bool   `cbor:"enabled,omitempty"`
}

// Response is the reply to one request. Failures from the register map
// or the controller session arrive here as descriptive strings, never
// as a dropped connection.
type Response struct {
	OK     bool           `cbor:"ok"`
	Error  string         `cbor:"error,omitempty"`
	Status *StatusPayload `cbor:"status,omitempty"`
}

// StatusPayload is the structured reply to a status request. A field
// the hardware could not answer is nil; the call as a whole still
// succeeds.
type StatusPayload struct {
	ChargeLimit     *int     `cbor:"chargeLimit,omitempty"`
	ChargingEnabled *bool    `cbor:"chargingEnabled,omitempty"`
	TemperatureC    *float64 `cbor:"temperatureC,omitempty"`
	CycleCount      *int     `cbor:"cycleCount,omitempty"`
	Variant         string   `cbor:"variant,omitempty"`
}
