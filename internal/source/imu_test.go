package source

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"compass-ng/internal/heading"
	"compass-ng/internal/sensors/icm20948"
)

type fakeIMU struct {
	readings []icm20948.Sample
	errs     []error
	i        int
}

func (f *fakeIMU) Read() (icm20948.Sample, error) {
	i := f.i
	f.i++
	if i < len(f.errs) && f.errs[i] != nil {
		return icm20948.Sample{}, f.errs[i]
	}
	if i < len(f.readings) {
		return f.readings[i], nil
	}
	return icm20948.Sample{}, errors.New("exhausted")
}

func TestEmitReading_ConvertsUnits(t *testing.T) {
	at := time.Unix(100, 0)
	var out []Sample
	emitReading(icm20948.Sample{Time: at, Az: 1, Mx: 1, My: 2, Mz: 3, MagValid: true}, func(s Sample) { out = append(out, s) })
	if len(out) != 2 {
		t.Fatalf("samples=%d want 2", len(out))
	}
	if out[0].Kind != heading.Accelerometer || math.Abs(out[0].Vec.Z-StandardGravity) > 1e-12 {
		t.Fatalf("accel=%+v want %v m/s² on Z", out[0], StandardGravity)
	}
	if out[1].Kind != heading.Magnetometer || out[1].Vec != (r3.Vector{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("mag=%+v", out[1])
	}
}

func TestEmitReading_SkipsMagWhenNotReady(t *testing.T) {
	n := 0
	emitReading(icm20948.Sample{Az: 1}, func(Sample) { n++ })
	if n != 1 {
		t.Fatalf("samples=%d want 1", n)
	}
}

func TestIMURun_ContinuesAfterReadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := &fakeIMU{
		errs:     []error{errors.New("nak"), errors.New("nak")},
		readings: []icm20948.Sample{{}, {}, {Az: 1}},
	}
	s := &IMU{dev: dev, interval: time.Millisecond, clock: clock.New()}

	got := make(chan Sample, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(smp Sample) {
			select {
			case got <- smp:
			default:
			}
		})
	}()
	select {
	case smp := <-got:
		if smp.Kind != heading.Accelerometer {
			t.Fatalf("kind=%v want accel", smp.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sample")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestOpenIMU_Errors(t *testing.T) {
	old := openIMUFn
	t.Cleanup(func() { openIMUFn = old })
	openIMUFn = func(int, uint16) (imuReader, func() error, error) {
		return nil, nil, errors.New("no such device")
	}
	if _, err := OpenIMU(1, 0x68, 10*time.Millisecond); err == nil {
		t.Fatalf("expected open error")
	}
	if _, err := OpenIMU(1, 0x68, 0); err == nil {
		t.Fatalf("expected interval error")
	}
}

func TestOpenIMU_CloseOnce(t *testing.T) {
	old := openIMUFn
	t.Cleanup(func() { openIMUFn = old })
	closes := 0
	openIMUFn = func(int, uint16) (imuReader, func() error, error) {
		return &fakeIMU{}, func() error { closes++; return nil }, nil
	}
	s, err := OpenIMU(1, 0x68, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenIMU() error: %v", err)
	}
	_ = s.Close()
	_ = s.Close()
	if closes != 1 {
		t.Fatalf("closes=%d want 1", closes)
	}
}

type recordingSource struct{ samples []Sample }

func (r *recordingSource) Name() string { return "fixed" }

func (r *recordingSource) Run(_ context.Context, emit func(Sample)) error {
	for _, s := range r.samples {
		emit(s)
	}
	return nil
}

func TestTee_RecordsAndForwards(t *testing.T) {
	path := t.TempDir() + "/tee.log"
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	at := time.Unix(5, 0)
	src := &recordingSource{samples: []Sample{
		{Kind: heading.Magnetometer, Vec: r3.Vector{Y: 20}, At: at},
		{Kind: heading.Accelerometer, Vec: r3.Vector{Z: 9.8}, At: at.Add(time.Second)},
	}}
	n := 0
	if err := Tee(src, w).Run(context.Background(), func(Sample) { n++ }); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("forwarded=%d want 2", n)
	}
	// Readable before Close: Run flushes when the source stops.
	recs, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog() error: %v", err)
	}
	if len(recs) != 3 || !recs[0].Start || recs[2].At != time.Second {
		t.Fatalf("recs=%+v", recs)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}
