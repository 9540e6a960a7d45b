package source

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"compass-ng/internal/heading"
	"compass-ng/internal/i2c"
	"compass-ng/internal/sensors/icm20948"
)

type imuReader interface {
	Read() (icm20948.Sample, error)
}

var openIMUFn = func(bus int, addr uint16) (imuReader, func() error, error) {
	b, err := i2c.Open(bus)
	if err != nil {
		return nil, nil, err
	}
	dev, err := icm20948.New(b, addr)
	if err != nil {
		return nil, nil, multierr.Append(err, b.Close())
	}
	return dev, b.Close, nil
}

// IMU polls an ICM-20948 at a fixed interval.
type IMU struct {
	dev      imuReader
	closeFn  func() error
	interval time.Duration
	clock    clock.Clock
}

func OpenIMU(bus int, addr uint16, interval time.Duration) (*IMU, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("source: imu interval must be > 0")
	}
	dev, closeFn, err := openIMUFn(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("source: open imu on i2c-%d: %w", bus, err)
	}
	return &IMU{dev: dev, closeFn: closeFn, interval: interval, clock: clock.New()}, nil
}

func (s *IMU) Name() string { return "imu" }

func (s *IMU) Run(ctx context.Context, emit func(Sample)) error {
	t := s.clock.Ticker(s.interval)
	defer t.Stop()

	var fails int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		r, err := s.dev.Read()
		if err != nil {
			fails++
			if fails == 1 || fails%100 == 0 {
				logf("imu read failed (%d consecutive): %v", fails, err)
			}
			continue
		}
		fails = 0
		emitReading(r, emit)
	}
}

func emitReading(r icm20948.Sample, emit func(Sample)) {
	emit(Sample{
		Kind: heading.Accelerometer,
		Vec:  r3.Vector{X: r.Ax, Y: r.Ay, Z: r.Az}.Mul(StandardGravity),
		At:   r.Time,
	})
	if r.MagValid {
		emit(Sample{
			Kind: heading.Magnetometer,
			Vec:  r3.Vector{X: r.Mx, Y: r.My, Z: r.Mz},
			At:   r.Time,
		})
	}
}

func (s *IMU) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	fn := s.closeFn
	s.closeFn = nil
	return fn()
}
