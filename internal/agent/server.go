package agent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hferrone/chargectl/internal/battery"
	"github.com/hferrone/chargectl/internal/codec"
)

// requestReadTimeout bounds how long a connected client may sit idle
// between requests before the connection is dropped.
const requestReadTimeout = 60 * time.Second

// responseWriteTimeout bounds how long a reply write may take.
const responseWriteTimeout = 10 * time.Second

// maxRequestSize caps the bytes one CBOR request may consume; the
// budget is re-armed before each request. Control requests are tiny;
// the limit exists so a misbehaving peer cannot exhaust memory.
const maxRequestSize = 64 * 1024

// Server is the privileged agent: it accepts connections on a unix
// socket, authenticates every request, and performs the battery
// facade's write operations in an elevated context.
//
// Per connection, requests are read and served strictly sequentially —
// one request is processed to completion and replied to before the next
// is read. No ordering is imposed across different connections beyond
// what the facade's own serialization enforces.
type Server struct {
	socketPath string
	verifyKey  ed25519.PublicKey
	controller *battery.Controller
	logger     *slog.Logger

	// dispatched counts requests that passed authentication and reached
	// the dispatch path. Exists so tests can prove that unauthenticated
	// connections never get this far.
	dispatched atomic.Int64

	activeConnections sync.WaitGroup
}

// NewServer builds the agent server. The controller should be built
// with an elevated privilege context; the verify key is the public half
// of the keypair whose private half minted the client tokens.
func NewServer(socketPath string, verifyKey ed25519.PublicKey, controller *battery.Controller, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		verifyKey:  verifyKey,
		controller: controller,
		logger:     logger,
	}
}

// Serve listens on the unix socket and dispatches requests until ctx is
// cancelled, then waits for in-flight connections to finish. Any stale
// socket file is removed first; the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agent: removing stale socket %s: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("agent: creating socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("agent: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Any local user may connect; authentication is per-request via
	// signed tokens, not socket permissions.
	if err := os.Chmod(s.socketPath, 0o666); err != nil {
		return fmt.Errorf("agent: setting socket permissions: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("agent listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection serves requests from one client sequentially until
// EOF, a protocol error, or an authentication failure. An unvalidated
// request is dropped with the connection — no reply is owed to an
// unauthenticated peer — and never reaches dispatch.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	limited := &io.LimitedReader{R: conn}
	decoder := codec.NewDecoder(limited)
	for {
		conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
		limited.N = maxRequestSize

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("request decode failed", "error", err)
			}
			return
		}

		token, err := VerifyToken(s.verifyKey, req.Token)
		if err != nil {
			s.logger.Warn("rejecting unauthenticated request", "error", err)
			return
		}

		s.dispatched.Add(1)
		resp := s.dispatch(&req)
		s.logger.Info("request served",
			"action", req.Action,
			"subject", token.Subject,
			"ok", resp.OK,
		)

		conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
		if err := codec.NewEncoder(conn).Encode(resp); err != nil {
			s.logger.Debug("response write failed", "error", err)
			return
		}
	}
}

// dispatch routes one authenticated request. Every failure comes back
// as a descriptive response; nothing here can take down the accept
// loop.
func (s *Server) dispatch(req *Request) Response {
	switch req.Action {
	case ActionSetChargeLimit:
		return responseFromResult(s.controller.SetChargeLimit(req.Percent))
	case ActionSetCharging:
		return responseFromResult(s.controller.SetChargingEnabled(req.Enabled))
	case ActionStatus:
		return Response{OK: true, Status: s.statusPayload()}
	default:
		return Response{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

// statusPayload gathers the readings a status request reports. Missing
// fields are omitted; the call still succeeds.
func (s *Server) statusPayload() *StatusPayload {
	payload := &StatusPayload{}
	if limit, ok := s.controller.ChargeLimit(); ok {
		payload.ChargeLimit = &limit
	}
	if enabled, ok := s.controller.IsChargingEnabled(); ok {
		payload.ChargingEnabled = &enabled
	}
	if temp, ok := s.controller.Temperature(); ok {
		payload.TemperatureC = &temp
	}
	if cycles, ok := s.controller.CycleCount(); ok {
		payload.CycleCount = &cycles
	}
	if variant, err := s.controller.Variant(); err == nil {
		payload.Variant = variant.String()
	}
	return payload
}

func responseFromResult(result battery.Result) Response {
	if result.OK() {
		return Response{OK: true}
	}
	return Response{Error: result.Reason}
}
