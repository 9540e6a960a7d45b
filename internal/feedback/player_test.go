package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"compass-ng/internal/heading"
)

type fakeVibrator struct {
	mu     sync.Mutex
	on     bool
	sets   []bool
	closed bool
}

func (f *fakeVibrator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
	f.sets = append(f.sets, on)
	return nil
}

func (f *fakeVibrator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeVibrator) isOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

type fakeTone struct {
	mu       sync.Mutex
	starts   []int
	stops    int
	startErr error
	closeErr error
}

func (f *fakeTone) Start(hz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, hz)
	return nil
}

func (f *fakeTone) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTone) Close() error { return f.closeErr }

func (f *fakeTone) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

var testTones = map[heading.Sector]int{heading.North: 880, heading.East: 660, heading.South: 440, heading.West: 550}

func newTestPlayer(t *testing.T, cfg Config) (*Player, *clock.Mock, *fakeVibrator, *fakeTone) {
	t.Helper()
	vib := &fakeVibrator{}
	tone := &fakeTone{}
	oldV, oldT := openVibratorFn, openToneFn
	openVibratorFn = func(int) (vibrator, error) { return vib, nil }
	openToneFn = func(int) (toneDriver, error) { return tone, nil }
	t.Cleanup(func() { openVibratorFn, openToneFn = oldV, oldT })

	cfg.VibrationGPIO = 17
	cfg.BuzzerPWMPin = 18
	if cfg.TonesHz == nil {
		cfg.TonesHz = testTones
	}
	mock := clock.NewMock()
	p, err := newWithClock(cfg, mock)
	if err != nil {
		t.Fatalf("newWithClock: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, mock, vib, tone
}

// waitFor polls cond; mock timers run their callbacks on a new goroutine.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func event(s heading.Sector) heading.CardinalEvent {
	return heading.CardinalEvent{Direction: s, Label: s.String()}
}

func TestPlayer_VibratesForPulseDuration(t *testing.T) {
	p, mock, vib, _ := newTestPlayer(t, Config{})

	p.play(event(heading.North))
	if !vib.isOn() || !p.Vibrating() {
		t.Fatalf("expected motor on after event")
	}
	mock.Add(499 * time.Millisecond)
	if !vib.isOn() {
		t.Fatalf("motor off before 500ms")
	}
	mock.Add(time.Millisecond)
	waitFor(t, "motor off", func() bool { return !vib.isOn() })
	if p.Vibrating() {
		t.Fatalf("Vibrating()=true after pulse ended")
	}
}

func TestPlayer_CueNotRestartedWhileActive(t *testing.T) {
	p, mock, _, tone := newTestPlayer(t, Config{CueDuration: time.Second})

	p.play(event(heading.East))
	p.play(event(heading.East))
	if got := tone.startCount(); got != 1 {
		t.Fatalf("starts=%d want 1", got)
	}
	if st := p.Stats(); st.Cues != 1 || st.CuesBusy != 1 || st.Vibrations != 2 {
		t.Fatalf("stats=%+v", st)
	}

	mock.Add(time.Second)
	waitFor(t, "cue end", func() bool { return !p.Active(heading.East) })
	p.play(event(heading.East))
	if got := tone.startCount(); got != 2 {
		t.Fatalf("starts=%d want 2 after cue ended", got)
	}
}

func TestPlayer_PerDirectionChannelsAreIndependent(t *testing.T) {
	p, _, _, tone := newTestPlayer(t, Config{CueDuration: time.Second})

	p.play(event(heading.North))
	p.play(event(heading.West))
	if !p.Active(heading.North) || !p.Active(heading.West) {
		t.Fatalf("expected both channels active")
	}
	tone.mu.Lock()
	defer tone.mu.Unlock()
	if len(tone.starts) != 2 || tone.starts[0] != 880 || tone.starts[1] != 550 {
		t.Fatalf("starts=%v want [880 550]", tone.starts)
	}
}

func TestPlayer_SharedChannelBlocksOtherDirections(t *testing.T) {
	p, _, _, tone := newTestPlayer(t, Config{CueDuration: time.Second, SharedChannel: true})

	p.play(event(heading.North))
	p.play(event(heading.South))
	if got := tone.startCount(); got != 1 {
		t.Fatalf("starts=%d want 1", got)
	}
	if !p.Active(heading.South) {
		t.Fatalf("shared channel should report active for every direction")
	}
}

func TestPlayer_IgnoresDiagonals(t *testing.T) {
	p, _, vib, tone := newTestPlayer(t, Config{})
	p.play(event(heading.NorthEast))
	if tone.startCount() != 0 || vib.isOn() {
		t.Fatalf("diagonal produced feedback")
	}
}

func TestPlayer_ToneErrorStillVibrates(t *testing.T) {
	p, _, vib, tone := newTestPlayer(t, Config{})
	tone.startErr = errors.New("busy")
	p.play(event(heading.South))
	if !vib.isOn() {
		t.Fatalf("expected vibration despite tone error")
	}
	if st := p.Stats(); st.Errors != 1 || st.LastError != "busy" || p.Active(heading.South) {
		t.Fatalf("stats=%+v active=%v", st, p.Active(heading.South))
	}
}

func TestPlayer_CloseReleasesAndIsIdempotent(t *testing.T) {
	p, _, vib, tone := newTestPlayer(t, Config{})
	tone.closeErr = errors.New("unexport failed")
	p.play(event(heading.North))

	if err := p.Close(); err == nil {
		t.Fatalf("expected close error to surface")
	}
	if vib.isOn() || !vib.closed {
		t.Fatalf("motor not released: on=%v closed=%v", vib.on, vib.closed)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	p.play(event(heading.North))
	if tone.startCount() != 1 {
		t.Fatalf("event after close was played")
	}
}

func TestNew_NoHardwareConfigured(t *testing.T) {
	oldV, oldT := openVibratorFn, openToneFn
	openVibratorFn = func(int) (vibrator, error) { t.Fatalf("unexpected motor open"); return nil, nil }
	openToneFn = func(int) (toneDriver, error) { t.Fatalf("unexpected buzzer open"); return nil, nil }
	t.Cleanup(func() { openVibratorFn, openToneFn = oldV, oldT })

	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.play(event(heading.West))
	if st := p.Stats(); st.Cues != 1 || st.Vibrations != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_BuzzerFailureClosesMotor(t *testing.T) {
	vib := &fakeVibrator{}
	oldV, oldT := openVibratorFn, openToneFn
	openVibratorFn = func(int) (vibrator, error) { return vib, nil }
	openToneFn = func(int) (toneDriver, error) { return nil, errors.New("no pwm") }
	t.Cleanup(func() { openVibratorFn, openToneFn = oldV, oldT })

	if _, err := New(Config{VibrationGPIO: 17, BuzzerPWMPin: 18}); err == nil {
		t.Fatalf("expected error")
	}
	if !vib.closed {
		t.Fatalf("motor left open after buzzer failure")
	}
}

// slowTone stalls Start until released, like a sysfs write being retried.
type slowTone struct {
	fakeTone
	release chan struct{}
}

func (s *slowTone) Start(hz int) error {
	<-s.release
	return s.fakeTone.Start(hz)
}

func TestPlayer_OnCardinalAlignedDoesNotWaitForHardware(t *testing.T) {
	tone := &slowTone{release: make(chan struct{})}
	oldV, oldT := openVibratorFn, openToneFn
	openVibratorFn = func(int) (vibrator, error) { return &fakeVibrator{}, nil }
	openToneFn = func(int) (toneDriver, error) { return tone, nil }
	t.Cleanup(func() { openVibratorFn, openToneFn = oldV, oldT })

	p, err := newWithClock(Config{VibrationGPIO: 17, BuzzerPWMPin: 18, TonesHz: testTones}, clock.NewMock())
	if err != nil {
		t.Fatalf("newWithClock: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		select {
		case <-tone.release:
		default:
			close(tone.release)
		}
		cancel()
		<-done
		_ = p.Close()
	})

	start := time.Now()
	for i := 0; i < eventQueueLen+3; i++ {
		p.OnCardinalAligned(event(heading.North))
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("OnCardinalAligned blocked for %s", d)
	}
	waitFor(t, "dropped events", func() bool { return p.Stats().Dropped > 0 })

	close(tone.release)
	waitFor(t, "cue started", func() bool { return tone.startCount() == 1 })
}

func TestPlayer_RunPlaysQueuedEvents(t *testing.T) {
	p, mock, vib, tone := newTestPlayer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.OnCardinalAligned(event(heading.NorthEast))
	p.OnCardinalAligned(event(heading.East))
	waitFor(t, "east cue", func() bool { return p.Active(heading.East) })
	if !vib.isOn() {
		t.Fatalf("expected motor on")
	}
	if got := tone.startCount(); got != 1 {
		t.Fatalf("starts=%d want 1 (diagonal ignored)", got)
	}

	cancel()
	<-done
	p.OnCardinalAligned(event(heading.West))
	mock.Add(time.Second)
	if p.Active(heading.West) {
		t.Fatalf("event played after Run returned")
	}
}
