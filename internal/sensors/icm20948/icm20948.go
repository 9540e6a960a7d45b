// Package icm20948 drives the accelerometer of an ICM-20948 and the AK09916
// magnetometer packaged with it. The magnetometer is reached directly on the
// host bus by putting the ICM into I2C bypass mode.
package icm20948

import (
	"fmt"
	"time"

	"compass-ng/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68
	addrMag     = 0x0C

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	regIntPinCfg  = 0x0F
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D
	bitReset      = 0x80
	clkAuto       = 0x01
	bitBypassEn   = 0x02

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14
	fsAccel4g       = 0x02

	// AK09916.
	regMagWIA2  = 0x01
	magWIA2Val  = 0x09
	regMagST1   = 0x10
	regMagHXL   = 0x11
	regMagCNTL2 = 0x31
	regMagCNTL3 = 0x32
	magCont100  = 0x08
	magSoftRst  = 0x01
	bitMagDRDY  = 0x01
	bitMagHOFL  = 0x08

	magScaleUT = 0.15
)

// Sample is one poll of both sensors in the accelerometer's axis frame.
type Sample struct {
	Time time.Time
	// Accel in g.
	Ax, Ay, Az float64
	// Mag in microtesla. Only meaningful when MagValid.
	Mx, My, Mz float64
	MagValid   bool
}

type Device struct {
	imu regIO
	mag regIO

	curBank    byte
	scaleAccel float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

// New identifies and configures the device at addr on bus.
func New(bus *i2c.Bus, addr uint16) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("icm20948: bus is nil")
	}
	if addr == 0 {
		addr = addrDefault
	}
	return newWithIO(bus.Dev(addr), bus.Dev(addrMag))
}

func newWithIO(imu, mag regIO) (*Device, error) {
	if imu == nil || mag == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{imu: imu, mag: mag, curBank: 0xFF}

	who, err := d.imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.initAccel(); err != nil {
		return nil, err
	}
	if err := d.initMag(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) initAccel() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.imu.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	if err := d.imu.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	_ = d.imu.WriteReg(regIntEnable, 0x00)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// 1125/(1+div) Hz; div 10 is ~102 Hz to match the magnetometer.
	_ = d.imu.WriteReg(regAccelSmplrt2, 10)
	if err := d.imu.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}
	d.scaleAccel = 4.0 / 32768.0
	return nil
}

func (d *Device) initMag() error {
	// The internal I2C master must be off for bypass to reach the AK09916.
	if err := d.imu.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}
	if err := d.imu.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	wia, err := d.mag.ReadRegU8(regMagWIA2)
	if err != nil {
		return fmt.Errorf("ak09916: whoami read failed: %w", err)
	}
	if wia != magWIA2Val {
		return fmt.Errorf("ak09916: whoami=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(regMagCNTL3, magSoftRst); err != nil {
		return fmt.Errorf("ak09916: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(regMagCNTL2, magCont100); err != nil {
		return fmt.Errorf("ak09916: mode failed: %w", err)
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.imu.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// Read polls the accelerometer and, if a measurement is ready, the
// magnetometer.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	buf := make([]byte, 6)
	if err := d.imu.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	s := Sample{
		Time: time.Now(),
		Ax:   float64(int16(buf[0])<<8|int16(buf[1])) * d.scaleAccel,
		Ay:   float64(int16(buf[2])<<8|int16(buf[3])) * d.scaleAccel,
		Az:   float64(int16(buf[4])<<8|int16(buf[5])) * d.scaleAccel,
	}

	st1, err := d.mag.ReadRegU8(regMagST1)
	if err != nil {
		return s, fmt.Errorf("ak09916: read status failed: %w", err)
	}
	if st1&bitMagDRDY == 0 {
		return s, nil
	}
	// HXL..HZH, TMPS, ST2. Reading ST2 releases the data registers.
	mb := make([]byte, 8)
	if err := d.mag.ReadReg(regMagHXL, mb); err != nil {
		return s, fmt.Errorf("ak09916: read field failed: %w", err)
	}
	if mb[7]&bitMagHOFL != 0 {
		return s, nil
	}
	mx := int16(mb[1])<<8 | int16(mb[0])
	my := int16(mb[3])<<8 | int16(mb[2])
	mz := int16(mb[5])<<8 | int16(mb[4])
	// AK09916 Y and Z point opposite to the accelerometer axes.
	s.Mx = float64(mx) * magScaleUT
	s.My = -float64(my) * magScaleUT
	s.Mz = -float64(mz) * magScaleUT
	s.MagValid = true
	return s, nil
}
