package smc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PayloadSize is the fixed size of the data block in every exchange with
// the controller. Values never occupy more than this many bytes on the
// wire regardless of their declared type.
const PayloadSize = 32

// Key is a four-character register identifier. The controller addresses
// every register by one of these; equality is byte-for-byte.
type Key [4]byte

// KeyFromString converts a 4-character string into a Key.
func KeyFromString(s string) (Key, error) {
	if len(s) != 4 {
		return Key{}, fmt.Errorf("smc: key %q must be exactly 4 characters", s)
	}
	var k Key
	copy(k[:], s)
	return k, nil
}

// MustKey is KeyFromString for compile-time key literals. Panics on a
// malformed key.
func MustKey(s string) Key {
	k, err := KeyFromString(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string { return string(k[:]) }

// Uint32 returns the big-endian wire representation of the key.
func (k Key) Uint32() uint32 { return binary.BigEndian.Uint32(k[:]) }

// keyFromUint32 is the inverse of Key.Uint32.
func keyFromUint32(v uint32) Key {
	var k Key
	binary.BigEndian.PutUint32(k[:], v)
	return k
}

// Type tags the encoding of a register value. Each tag corresponds to one
// of the controller's four-character data type codes and has a fixed byte
// length, except Ch8 which is variable.
type Type int

const (
	TypeUnknown Type = iota
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeFloat32
	// TypeSP78 is a signed 8.8 fixed-point value in two bytes; dividing
	// the raw big-endian int16 by 256 yields the native value. Used by
	// the temperature sensors.
	TypeSP78
	TypeFlag
	TypeHex8
	TypeCh8
)

// typeInfo maps each tag to its wire code and byte length. A size of -1
// marks a variable-length type.
var typeInfo = map[Type]struct {
	code string
	size int
}{
	TypeUInt8:   {"ui8 ", 1},
	TypeUInt16:  {"ui16", 2},
	TypeUInt32:  {"ui32", 4},
	TypeFloat32: {"flt ", 4},
	TypeSP78:    {"sp78", 2},
	TypeFlag:    {"flag", 1},
	TypeHex8:    {"hex_", 1},
	TypeCh8:     {"ch8*", -1},
}

// Size returns the fixed byte length of the type, or -1 for
// variable-length types.
func (t Type) Size() int {
	info, ok := typeInfo[t]
	if !ok {
		return -1
	}
	return info.size
}

// Code returns the controller's four-character data type code.
func (t Type) Code() string {
	info, ok := typeInfo[t]
	if !ok {
		return "????"
	}
	return info.code
}

func (t Type) String() string {
	switch t {
	case TypeUInt8:
		return "uint8"
	case TypeUInt16:
		return "uint16"
	case TypeUInt32:
		return "uint32"
	case TypeFloat32:
		return "float32"
	case TypeSP78:
		return "sp78"
	case TypeFlag:
		return "flag"
	case TypeHex8:
		return "hex8"
	case TypeCh8:
		return "ch8"
	default:
		return "unknown"
	}
}

// TypeFromCode resolves a wire data type code to its tag. Unrecognized
// codes map to TypeUnknown; the caller decides whether that is an error.
func TypeFromCode(code string) Type {
	for t, info := range typeInfo {
		if info.code == code {
			return t
		}
	}
	return TypeUnknown
}

// typeCodeFromUint32 converts the big-endian fourcc the controller
// reports in key info responses into a type code string.
func typeCodeFromUint32(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return string(b[:])
}

// Value is a typed register value: a tag plus its raw wire bytes. The
// raw length must equal the tag's declared length before any numeric
// interpretation is attempted; every decoder below enforces that.
type Value struct {
	Type Type
	Data []byte
}

// DecodeError reports a type or size mismatch during value decoding. A
// mismatch is always an error, never a truncated or zero-extended result.
type DecodeError struct {
	Want Type
	Got  Type
	Size int
}

func (e *DecodeError) Error() string {
	if e.Want != e.Got {
		return fmt.Sprintf("smc: cannot decode %s value as %s", e.Got, e.Want)
	}
	return fmt.Sprintf("smc: %s value has %d bytes, want %d", e.Want, e.Size, e.Want.Size())
}

func (v Value) check(want Type) error {
	if v.Type != want || len(v.Data) != want.Size() {
		return &DecodeError{Want: want, Got: v.Type, Size: len(v.Data)}
	}
	return nil
}

// Uint8 decodes a one-byte unsigned integer.
func (v Value) Uint8() (uint8, error) {
	if err := v.check(TypeUInt8); err != nil {
		return 0, err
	}
	return v.Data[0], nil
}

// Uint16 decodes a big-endian two-byte unsigned integer.
func (v Value) Uint16() (uint16, error) {
	if err := v.check(TypeUInt16); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v.Data), nil
}

// Uint32 decodes a big-endian four-byte unsigned integer.
func (v Value) Uint32() (uint32, error) {
	if err := v.check(TypeUInt32); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v.Data), nil
}

// Float32 reinterprets the big-endian four-byte pattern as IEEE-754.
func (v Value) Float32() (float32, error) {
	if err := v.check(TypeFloat32); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(v.Data)), nil
}

// Temperature decodes a signed 8.8 fixed-point reading in degrees
// Celsius: the two bytes are a big-endian int16 divided by 256.
func (v Value) Temperature() (float64, error) {
	if err := v.check(TypeSP78); err != nil {
		return 0, err
	}
	raw := int16(binary.BigEndian.Uint16(v.Data))
	return float64(raw) / 256.0, nil
}

// Flag decodes a one-byte boolean register.
func (v Value) Flag() (bool, error) {
	if err := v.check(TypeFlag); err != nil {
		return false, err
	}
	return v.Data[0] != 0, nil
}

// EncodeUint8 builds a writeable one-byte value.
func EncodeUint8(n uint8) Value {
	return Value{Type: TypeUInt8, Data: []byte{n}}
}

// EncodeUint16 builds a writeable big-endian two-byte value.
func EncodeUint16(n uint16) Value {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, n)
	return Value{Type: TypeUInt16, Data: data}
}

// EncodeUint32 builds a writeable big-endian four-byte value.
func EncodeUint32(n uint32) Value {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, n)
	return Value{Type: TypeUInt32, Data: data}
}

// EncodeFloat32 builds a writeable IEEE-754 value.
func EncodeFloat32(f float32) Value {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, math.Float32bits(f))
	return Value{Type: TypeFloat32, Data: data}
}

// EncodeTemperature builds a writeable signed 8.8 fixed-point value from
// degrees Celsius.
func EncodeTemperature(celsius float64) Value {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(int16(celsius*256.0)))
	return Value{Type: TypeSP78, Data: data}
}
