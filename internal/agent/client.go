package agent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hferrone/chargectl/internal/codec"
)

// ErrAgentUnavailable means the agent is not running or not installed —
// a distinct, user-actionable condition, separate from a request that
// reached the agent and failed.
var ErrAgentUnavailable = errors.New("agent: service not available")

// RequestError is a request the agent received, processed, and
// rejected, with the agent's reason verbatim.
type RequestError struct {
	Action string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("agent: %s failed: %s", e.Action, e.Reason)
}

// Client reaches the privileged agent from the unprivileged process.
// Each call opens its own connection; the token authenticates every
// request independently.
type Client struct {
	socketPath string
	token      []byte
	timeout    time.Duration
}

// NewClient loads the auth token from tokenPath and returns a client
// for the agent at socketPath.
func NewClient(socketPath, tokenPath string) (*Client, error) {
	token, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("agent: reading token %s: %w", tokenPath, err)
	}
	return &Client{
		socketPath: socketPath,
		token:      token,
		timeout:    10 * time.Second,
	}, nil
}

// SetChargeLimit asks the agent to set the charge limit.
func (c *Client) SetChargeLimit(percent int) error {
	_, err := c.do(Request{Action: ActionSetChargeLimit, Percent: percent})
	return err
}

// SetChargingEnabled asks the agent to enable or disable charging.
func (c *Client) SetChargingEnabled(enabled bool) error {
	_, err := c.do(Request{Action: ActionSetCharging, Enabled: enabled})
	return err
}

// Status fetches the agent's view of the controller state.
func (c *Client) Status() (*StatusPayload, error) {
	resp, err := c.do(Request{Action: ActionStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return &StatusPayload{}, nil
	}
	return resp.Status, nil
}

// do performs one request/response exchange. A dial failure maps to
// ErrAgentUnavailable; a negative response maps to RequestError.
func (c *Client) do(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	defer conn.Close()

	req.Token = c.token

	conn.SetDeadline(time.Now().Add(c.timeout))
	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("agent: sending request: %w", err)
	}

	var resp Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		// The agent drops unauthenticated requests without a reply; a
		// closed connection here most likely means the token was
		// rejected.
		return nil, fmt.Errorf("agent: reading response (token may be invalid): %w", err)
	}
	if !resp.OK {
		return nil, &RequestError{Action: req.Action, Reason: resp.Error}
	}
	return &resp, nil
}
