//go:build darwin && cgo

package smc

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation
#include <stdint.h>
#include <string.h>
#include <IOKit/IOKitLib.h>

// Kernel ABI of the block exchanged with the AppleSMC user client. The
// layout (and its 80-byte size) is fixed by the kernel extension and
// must not change.
typedef struct {
	unsigned char  major;
	unsigned char  minor;
	unsigned char  build;
	unsigned char  reserved[1];
	unsigned short release;
} SMCKeyData_vers_t;

typedef struct {
	uint16_t version;
	uint16_t length;
	uint32_t cpuPLimit;
	uint32_t gpuPLimit;
	uint32_t memPLimit;
} SMCKeyData_pLimitData_t;

typedef struct {
	uint32_t dataSize;
	uint32_t dataType;
	char     dataAttributes;
} SMCKeyData_keyInfo_t;

typedef struct {
	uint32_t                key;
	SMCKeyData_vers_t       vers;
	SMCKeyData_pLimitData_t pLimitData;
	SMCKeyData_keyInfo_t    keyInfo;
	char                    result;
	char                    status;
	char                    data8;
	uint32_t                data32;
	unsigned char           bytes[32];
} SMCKeyData_t;

static kern_return_t smcOpen(io_connect_t *conn) {
	io_service_t service = IOServiceGetMatchingService(0, IOServiceMatching("AppleSMC"));
	if (service == 0) {
		return kIOReturnNotFound;
	}
	kern_return_t result = IOServiceOpen(service, mach_task_self(), 0, conn);
	IOObjectRelease(service);
	return result;
}

static kern_return_t smcCall(io_connect_t conn, uint32_t selector, SMCKeyData_t *in, SMCKeyData_t *out) {
	size_t outSize = sizeof(SMCKeyData_t);
	return IOConnectCallStructMethod(conn, selector, in, sizeof(SMCKeyData_t), out, &outSize);
}
*/
import "C"

import (
	"fmt"
)

// iokitConn is the real controller connection: the AppleSMC service
// opened through IOKit.
type iokitConn struct {
	conn C.io_connect_t
	open bool
}

// NewSystemConn returns a connection to the platform's power management
// controller service.
func NewSystemConn() Conn {
	return &iokitConn{}
}

func (c *iokitConn) Open() error {
	if c.open {
		return nil
	}
	if kr := C.smcOpen(&c.conn); kr != C.KERN_SUCCESS {
		return fmt.Errorf("smc: opening AppleSMC service: kern result 0x%08x", uint32(kr))
	}
	c.open = true
	return nil
}

func (c *iokitConn) Call(selector uint32, in *Param) (*Param, error) {
	if !c.open {
		return nil, ErrNotOpen
	}
	var cin, cout C.SMCKeyData_t
	cin.key = C.uint32_t(in.Key)
	cin.keyInfo.dataSize = C.uint32_t(in.DataSize)
	cin.keyInfo.dataType = C.uint32_t(in.DataType)
	cin.data8 = C.char(in.Command)
	for i, b := range in.Bytes {
		cin.bytes[i] = C.uchar(b)
	}

	if kr := C.smcCall(c.conn, C.uint32_t(selector), &cin, &cout); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("smc: controller call failed: kern result 0x%08x", uint32(kr))
	}

	out := &Param{
		Key:            uint32(cout.key),
		DataSize:       uint32(cout.keyInfo.dataSize),
		DataType:       uint32(cout.keyInfo.dataType),
		DataAttributes: uint8(cout.keyInfo.dataAttributes),
		Result:         uint8(cout.result),
		Command:        uint8(cout.data8),
	}
	for i := range out.Bytes {
		out.Bytes[i] = byte(cout.bytes[i])
	}
	return out, nil
}

func (c *iokitConn) Close() error {
	if !c.open {
		return nil
	}
	c.open = false
	if kr := C.IOServiceClose(c.conn); kr != C.KERN_SUCCESS {
		return fmt.Errorf("smc: closing service: kern result 0x%08x", uint32(kr))
	}
	return nil
}
