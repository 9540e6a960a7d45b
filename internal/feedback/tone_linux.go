//go:build linux && (arm || arm64)

package feedback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

// sysfsTone drives a piezo buzzer from a hardware PWM channel under
// /sys/class/pwm. The Pi needs the pwm-2chan overlay for the pin to show up.
type sysfsTone struct {
	chipPath string
	pwmPath  string
	channel  int
	playing  bool
}

var pwmSysfsBase = "/sys/class/pwm"

// pwmChannels maps BCM pins to the channel they are routed to by the
// pwm-2chan overlay.
var pwmChannels = map[int]int{12: 0, 18: 0, 13: 1, 19: 1}

func openTone(pin int) (toneDriver, error) {
	channel, ok := pwmChannels[pin]
	if !ok {
		return nil, fmt.Errorf("feedback: gpio %d has no hardware pwm (use 12, 13, 18 or 19)", pin)
	}
	chipPath, err := findPWMChip(channel)
	if err != nil {
		return nil, err
	}
	d := &sysfsTone{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.export(); err != nil {
		return nil, err
	}
	_ = d.write("enable", "0")
	return d, nil
}

// findPWMChip returns the first pwmchip with enough channels, preferring
// pwmchip0. Entries are usually symlinks.
func findPWMChip(channel int) (string, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("feedback: read %s: %w", pwmSysfsBase, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	for i, n := range names {
		if n == "pwmchip0" {
			names[0], names[i] = names[i], names[0]
		}
	}
	for _, name := range names {
		chip := filepath.Join(pwmSysfsBase, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("feedback: no pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsTone) export() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(d.channel)); err != nil {
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("feedback: export pwm: %w", err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("feedback: %s not created after export", d.pwmPath)
}

// Start plays hz at 50% duty.
func (d *sysfsTone) Start(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("feedback: invalid tone %d Hz", hz)
	}
	period := uint64(1_000_000_000 / hz)
	// Period must stay above duty_cycle while changing both.
	_ = d.write("enable", "0")
	_ = d.write("duty_cycle", "0")
	if err := d.write("period", strconv.FormatUint(period, 10)); err != nil {
		return err
	}
	if err := d.write("duty_cycle", strconv.FormatUint(period/2, 10)); err != nil {
		return err
	}
	if err := d.write("enable", "1"); err != nil {
		return err
	}
	d.playing = true
	return nil
}

func (d *sysfsTone) Stop() error {
	if !d.playing {
		return nil
	}
	d.playing = false
	return d.write("enable", "0")
}

func (d *sysfsTone) Close() error {
	_ = d.write("enable", "0")
	d.playing = false
	return writeSysfs(filepath.Join(d.chipPath, "unexport"), strconv.Itoa(d.channel))
}

func (d *sysfsTone) write(name, value string) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), value)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some attributes reject, and
// retries briefly while udev settles permissions on freshly exported nodes.
func writeSysfs(path, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if !time.Now().Before(deadline) || !retryable(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	return multierr.Append(werr, f.Close())
}

func retryable(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
