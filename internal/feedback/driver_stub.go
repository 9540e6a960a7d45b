//go:build !linux || (!arm && !arm64)

package feedback

import "fmt"

func openVibrator(pin int) (vibrator, error) {
	return nil, fmt.Errorf("feedback: gpio unsupported on this platform")
}

func openTone(pin int) (toneDriver, error) {
	return nil, fmt.Errorf("feedback: pwm unsupported on this platform")
}
