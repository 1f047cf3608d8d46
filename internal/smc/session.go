package smc

import (
	"errors"
	"fmt"
	"log"
)

// Selector for the controller user client's single struct method. All
// three primitive operations go through it, distinguished by the command
// byte in the param block.
const selectorHandleEvent = 2

// Command bytes understood by the controller.
const (
	cmdReadKey    = 5
	cmdWriteKey   = 6
	cmdGetKeyInfo = 9
)

// Result codes the controller places in the param block. Zero is success.
const (
	resultOK          = 0
	resultKeyNotFound = 0x84
)

var (
	// ErrNotOpen is returned when an operation could not establish a
	// connection to the controller service.
	ErrNotOpen = errors.New("smc: session not open")
	// ErrKeyNotFound is returned when the controller does not expose the
	// requested register.
	ErrKeyNotFound = errors.New("smc: key not found")
	// ErrUnsupported is returned by the system connection on platforms
	// without the controller service.
	ErrUnsupported = errors.New("smc: controller service not supported on this platform")
)

// Param is the user-space image of the fixed-layout block exchanged with
// the controller on every call. The platform connection translates it to
// and from the kernel ABI.
type Param struct {
	Key            uint32
	DataSize       uint32
	DataType       uint32
	DataAttributes uint8
	Result         uint8
	Command        uint8
	Bytes          [PayloadSize]byte
}

// Conn is one OS-level handle to the controller service. Implementations
// are not required to be safe for concurrent use; Session provides no
// locking either, so callers serialize access.
type Conn interface {
	// Open looks up the service and acquires the handle. Calling Open on
	// an already-open connection must be a no-op.
	Open() error
	// Call performs one request/response exchange over the open handle.
	Call(selector uint32, in *Param) (*Param, error)
	// Close releases the handle. Safe to call repeatedly.
	Close() error
}

// CallError carries the controller's raw result code for a failed
// operation, for diagnostics. The session never retries; retry policy
// belongs to the caller.
type CallError struct {
	Op     string
	Key    Key
	Result uint8
}

func (e *CallError) Error() string {
	return fmt.Sprintf("smc: %s %s failed with result 0x%02x", e.Op, e.Key, e.Result)
}

func (e *CallError) Unwrap() error {
	if e.Result == resultKeyNotFound {
		return ErrKeyNotFound
	}
	return nil
}

// KeyInfo is the result of a capability probe for one key. It is fetched
// on demand rather than cached: availability is effectively static but
// attributes are not assumed stable.
type KeyInfo struct {
	Size       int
	Type       Type
	TypeCode   string
	Attributes uint8
}

// Client is the register-level interface the rest of the program
// consumes. Session is the real implementation; tests substitute fakes.
type Client interface {
	Info(key Key) (KeyInfo, error)
	Read(key Key) (Value, error)
	Write(key Key, v Value) error
}

// Session owns zero or one open connection to the controller service and
// performs the three primitive operations the protocol supports: key
// info lookup, read, and write.
//
// A session is either disconnected or connected. Operations invoked while
// disconnected first attempt to connect and fail cleanly if that fails.
// Sessions are not safe for concurrent use; the owning component holds a
// lock around the connect/call/close sequence.
type Session struct {
	conn Conn
	open bool
}

// NewSession wraps a connection in a session. The connection is not
// opened until the first operation (or an explicit Connect).
func NewSession(conn Conn) *Session {
	return &Session{conn: conn}
}

// Connect opens the underlying connection. Idempotent: connecting an
// already-connected session is a no-op.
func (s *Session) Connect() error {
	if s.open {
		return nil
	}
	if err := s.conn.Open(); err != nil {
		log.Printf("[smc] connect failed: %v", err)
		return fmt.Errorf("%w: %v", ErrNotOpen, err)
	}
	s.open = true
	return nil
}

// Close releases the connection. Safe to call repeatedly and on a
// session that never connected.
func (s *Session) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.conn.Close()
}

// Info looks up the size, type and attributes of a register. A
// successful lookup is the definition of key existence, independent of
// read permission.
func (s *Session) Info(key Key) (KeyInfo, error) {
	out, err := s.call("info", key, &Param{
		Key:     key.Uint32(),
		Command: cmdGetKeyInfo,
	})
	if err != nil {
		return KeyInfo{}, err
	}
	code := typeCodeFromUint32(out.DataType)
	return KeyInfo{
		Size:       int(out.DataSize),
		Type:       TypeFromCode(code),
		TypeCode:   code,
		Attributes: out.DataAttributes,
	}, nil
}

// Read fetches a register's current value. The value's type tag comes
// from the controller's own key info, so decode mismatches downstream
// indicate a genuine type conflict rather than a guess gone wrong.
func (s *Session) Read(key Key) (Value, error) {
	info, err := s.Info(key)
	if err != nil {
		return Value{}, err
	}
	if info.Size <= 0 || info.Size > PayloadSize {
		return Value{}, fmt.Errorf("smc: read %s: invalid data size %d", key, info.Size)
	}
	out, err := s.call("read", key, &Param{
		Key:      key.Uint32(),
		DataSize: uint32(info.Size),
		Command:  cmdReadKey,
	})
	if err != nil {
		return Value{}, err
	}
	data := make([]byte, info.Size)
	copy(data, out.Bytes[:info.Size])
	return Value{Type: info.Type, Data: data}, nil
}

// Write stores a value into a register. The value's byte length must
// match its declared type; anything else is rejected before touching the
// hardware.
func (s *Session) Write(key Key, v Value) error {
	size := v.Type.Size()
	if size <= 0 || len(v.Data) != size {
		return &DecodeError{Want: v.Type, Got: v.Type, Size: len(v.Data)}
	}
	in := &Param{
		Key:      key.Uint32(),
		DataSize: uint32(size),
		Command:  cmdWriteKey,
	}
	copy(in.Bytes[:], v.Data)
	_, err := s.call("write", key, in)
	return err
}

// call connects if needed, performs one exchange, and folds a non-zero
// result code into a typed error.
func (s *Session) call(op string, key Key, in *Param) (*Param, error) {
	if err := s.Connect(); err != nil {
		return nil, err
	}
	out, err := s.conn.Call(selectorHandleEvent, in)
	if err != nil {
		return nil, fmt.Errorf("smc: %s %s: %w", op, key, err)
	}
	if out.Result != resultOK {
		return nil, &CallError{Op: op, Key: key, Result: out.Result}
	}
	return out, nil
}
