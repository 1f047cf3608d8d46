//go:build !darwin || !cgo

package smc

// unsupportedConn stands in for the controller service on platforms that
// do not have one. Every open attempt fails with ErrUnsupported so
// callers degrade the same way they do for a missing service.
type unsupportedConn struct{}

// NewSystemConn returns a connection to the platform's power management
// controller service.
func NewSystemConn() Conn {
	return unsupportedConn{}
}

func (unsupportedConn) Open() error { return ErrUnsupported }

func (unsupportedConn) Call(selector uint32, in *Param) (*Param, error) {
	return nil, ErrUnsupported
}

func (unsupportedConn) Close() error { return nil }
