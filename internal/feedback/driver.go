package feedback

// vibrator switches the vibration motor.
type vibrator interface {
	Set(on bool) error
	Close() error
}

// toneDriver plays a square wave on the buzzer.
type toneDriver interface {
	Start(hz int) error
	Stop() error
	Close() error
}

var (
	openVibratorFn = openVibrator
	openToneFn     = openTone
)

// nopVibrator and nopTone stand in when no pin is configured so the player
// keeps its bookkeeping (and logs) without hardware.
type nopVibrator struct{}

func (nopVibrator) Set(bool) error { return nil }
func (nopVibrator) Close() error   { return nil }

type nopTone struct{}

func (nopTone) Start(int) error { return nil }
func (nopTone) Stop() error     { return nil }
func (nopTone) Close() error    { return nil }
