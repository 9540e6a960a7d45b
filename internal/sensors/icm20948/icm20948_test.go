package icm20948

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func newFakes() (*fakeI2C, *fakeI2C) {
	imu := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	mag := &fakeI2C{regs: map[byte][]byte{regMagWIA2: {magWIA2Val}, regMagST1: {0x00}}}
	return imu, mag
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	imu.regs[regWhoAmI] = []byte{0x00}
	if _, err := newWithIO(imu, mag); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_MagWhoAmIMismatch(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	mag.regs[regMagWIA2] = []byte{0x48}
	if _, err := newWithIO(imu, mag); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_WritesExpectedInitRegisters(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	if _, err := newWithIO(imu, mag); err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	checks := []struct {
		name string
		dev  *fakeI2C
		reg  byte
		val  byte
	}{
		{"reset", imu, regPwrMgmt1, bitReset},
		{"wake", imu, regPwrMgmt1, clkAuto},
		{"bank2", imu, regBankSel, bank2 << 4},
		{"accel fs", imu, regAccelConfig, fsAccel4g},
		{"bypass", imu, regIntPinCfg, bitBypassEn},
		{"mag reset", mag, regMagCNTL3, magSoftRst},
		{"mag continuous", mag, regMagCNTL2, magCont100},
	}
	for _, c := range checks {
		if !c.dev.wrote(c.reg, c.val) {
			t.Fatalf("%s: expected write reg=0x%02X val=0x%02X", c.name, c.reg, c.val)
		}
	}
}

func TestRead_ScalesAccel(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	// 16384 counts at 4g full-scale is 2g.
	imu.regs[regAccelXoutH] = []byte{
		0x40, 0x00,
		0x00, 0x00,
		0xC0, 0x00,
	}
	d, err := newWithIO(imu, mag)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(s.Ax-2) > 0.01 || math.Abs(s.Az+2) > 0.01 || s.Ay != 0 {
		t.Fatalf("accel=(%v,%v,%v) want (2,0,-2)", s.Ax, s.Ay, s.Az)
	}
	if s.MagValid {
		t.Fatalf("mag valid without DRDY")
	}
}

func TestRead_MagAlignedAndScaled(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	imu.regs[regAccelXoutH] = make([]byte, 6)
	mag.regs[regMagST1] = []byte{bitMagDRDY}
	// x=100, y=-200, z=300 little endian; then TMPS, ST2.
	mag.regs[regMagHXL] = []byte{0x64, 0x00, 0x38, 0xFF, 0x2C, 0x01, 0x00, 0x00}
	d, err := newWithIO(imu, mag)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !s.MagValid {
		t.Fatalf("expected mag valid")
	}
	if math.Abs(s.Mx-15) > 1e-9 || math.Abs(s.My-30) > 1e-9 || math.Abs(s.Mz+45) > 1e-9 {
		t.Fatalf("mag=(%v,%v,%v) want (15,30,-45)", s.Mx, s.My, s.Mz)
	}
}

func TestRead_MagOverflowDropped(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	imu.regs[regAccelXoutH] = make([]byte, 6)
	mag.regs[regMagST1] = []byte{bitMagDRDY}
	mag.regs[regMagHXL] = []byte{0xFF, 0x7F, 0, 0, 0, 0, 0, bitMagHOFL}
	d, err := newWithIO(imu, mag)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.MagValid {
		t.Fatalf("overflowed measurement reported valid")
	}
}

func TestRead_AccelError(t *testing.T) {
	noSleep(t)
	imu, mag := newFakes()
	d, err := newWithIO(imu, mag)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	imu.readErrFor = map[byte]error{regAccelXoutH: errors.New("nak")}
	if _, err := d.Read(); err == nil {
		t.Fatalf("expected error")
	}
}
