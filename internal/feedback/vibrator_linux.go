//go:build linux && (arm || arm64)

package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openVibrator requests the BCM pin as an output on the first gpiochip that
// names it ("GPIO17"). Pi 5 kernels may expose the header on gpiochip4.
func openVibrator(pin int) (vibrator, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("feedback: invalid gpio pin %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)

	for _, chipPath := range gpioChips() {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("compass-ng-vibration"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpioVibrator{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("feedback: gpio line %q not found (or busy)", lineName)
}

func gpioChips() []string {
	chips := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "gpiochip") {
			continue
		}
		p := filepath.Join("/dev", name)
		if p != chips[0] && p != chips[1] {
			chips = append(chips, p)
		}
	}
	return chips
}

type gpioVibrator struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpioVibrator) Set(on bool) error {
	if g.line == nil {
		return fmt.Errorf("feedback: vibration line closed")
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *gpioVibrator) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
