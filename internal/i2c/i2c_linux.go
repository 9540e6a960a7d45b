//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux I2C access through /dev/i2c-N using the I2C_RDWR ioctl, so a register
// address write and the following read share one repeated-start transfer.

const (
	flagRead   = 0x0001
	ioctlRdwr  = 0x0707
	maxAddr7   = 0x7F
	devPattern = "/dev/i2c-%d"
)

type ioctlMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type ioctlRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened adapter. Transfers are serialized so the IMU and the
// magnetometer behind it can be polled from different goroutines.
type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens /dev/i2c-<n>.
func Open(n int) (*Bus, error) {
	path := fmt.Sprintf(devPattern, n)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the 7-bit address addr.
func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Addr() uint16 { return d.addr }

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.transfer([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.transfer([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.transfer([]byte{reg, value}, nil)
}

func (d *Dev) transfer(w, r []byte) error {
	if d == nil || d.bus == nil {
		return errors.New("i2c: device is nil")
	}
	if d.addr == 0 || d.addr > maxAddr7 {
		return fmt.Errorf("i2c: invalid addr 0x%X", d.addr)
	}
	msgs := buildMsgs(d.addr, w, r)
	if len(msgs) == 0 {
		return nil
	}

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.bus.f == nil {
		return errors.New("i2c: bus closed")
	}
	data := ioctlRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(ioctlRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c: %s addr 0x%02X: %w", d.bus.path, d.addr, errno)
	}
	return nil
}

func buildMsgs(addr uint16, w, r []byte) []ioctlMsg {
	var msgs []ioctlMsg
	if len(w) > 0 {
		msgs = append(msgs, ioctlMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, ioctlMsg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	return msgs
}
