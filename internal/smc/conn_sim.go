package smc

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimConn is a simulated controller for development and testing on
// machines without the real service. It speaks the same param-block
// protocol as the system connection, backed by an in-memory register
// map with gently drifting battery telemetry.
//
// The simulated layout is the wide-range variant by default; NewSimConn
// with binary=true simulates the binary-range register set instead.
type SimConn struct {
	mu    sync.Mutex
	open  bool
	regs  map[Key]*simRegister
	t     float64
	start time.Time
}

type simRegister struct {
	typ      Type
	data     []byte
	writable bool
}

// NewSimConn builds a simulated controller exposing one of the two
// register layouts.
func NewSimConn(binary bool) *SimConn {
	c := &SimConn{
		regs:  make(map[Key]*simRegister),
		start: time.Now(),
	}
	if binary {
		c.set(KeyChargeLimitBinary, TypeUInt8, []byte{0}, true)
	} else {
		c.set(KeyChargeLimitWide, TypeUInt8, []byte{100}, true)
	}
	c.set(KeyChargingInhibit, TypeUInt8, []byte{0}, true)
	c.set(KeyChargingInhibitAlt, TypeUInt8, []byte{0}, true)
	c.set(KeyBatteryPowered, TypeFlag, []byte{0}, false)
	c.set(KeyBatteryCount, TypeUInt8, []byte{1}, false)
	c.set(KeyStateOfCharge, TypeUInt8, []byte{72}, false)
	c.setUint16(KeyCycleCount, 143)
	c.setUint16(KeyFullCapacity, 4382)
	c.setUint16(KeyDesignCapacity, 4790)
	// Only the first battery temperature sensor reports; the others are
	// absent, matching common single-cell hardware.
	c.set(TemperatureKeys[0], TypeSP78, temperatureBytes(30.5), false)
	return c
}

func (c *SimConn) set(key Key, typ Type, data []byte, writable bool) {
	c.regs[key] = &simRegister{typ: typ, data: data, writable: writable}
}

func (c *SimConn) setUint16(key Key, v uint16) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, v)
	c.set(key, TypeUInt16, data, false)
}

func temperatureBytes(celsius float64) []byte {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(int16(celsius*256.0)))
	return data
}

func (c *SimConn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *SimConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *SimConn) Call(selector uint32, in *Param) (*Param, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, ErrNotOpen
	}
	c.drift()

	key := keyFromUint32(in.Key)
	reg, ok := c.regs[key]
	if !ok {
		return &Param{Key: in.Key, Result: resultKeyNotFound}, nil
	}

	out := &Param{Key: in.Key}
	switch in.Command {
	case cmdGetKeyInfo:
		out.DataSize = uint32(len(reg.data))
		out.DataType = binary.BigEndian.Uint32([]byte(reg.typ.Code()))
	case cmdReadKey:
		if int(in.DataSize) != len(reg.data) {
			out.Result = 1
			break
		}
		copy(out.Bytes[:], reg.data)
		out.DataSize = in.DataSize
	case cmdWriteKey:
		if !reg.writable || int(in.DataSize) != len(reg.data) {
			out.Result = 1
			break
		}
		copy(reg.data, in.Bytes[:in.DataSize])
	default:
		out.Result = 1
	}
	return out, nil
}

// drift nudges the simulated telemetry so dashboards and logs show
// movement: state of charge follows a slow sine, temperature wobbles
// around 30°C.
func (c *SimConn) drift() {
	c.t = time.Since(c.start).Seconds()

	if reg, ok := c.regs[KeyStateOfCharge]; ok {
		soc := 70 + 25*math.Sin(c.t/600)
		reg.data[0] = byte(soc)
	}
	if reg, ok := c.regs[TemperatureKeys[0]]; ok {
		temp := 30.5 + math.Sin(c.t/60) + rand.Float64()*0.2
		copy(reg.data, temperatureBytes(temp))
	}
}
