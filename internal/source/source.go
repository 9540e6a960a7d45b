// Package source produces raw accelerometer and magnetometer samples for the
// heading processor: live from the IMU, synthesized, or replayed from a log.
package source

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"compass-ng/internal/heading"
)

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// Sample is one raw reading. Accelerometer vectors are in m/s², magnetometer
// vectors in microtesla, both in the device frame.
type Sample struct {
	Kind heading.SensorKind
	Vec  r3.Vector
	At   time.Time
}

// Source delivers samples to emit until ctx is done or the source is
// exhausted. emit is called from a single goroutine.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Sample)) error
}

// Tee records every sample passing through src.
func Tee(src Source, w *Writer) Source {
	return &teeSource{src: src, w: w}
}

type teeSource struct {
	src Source
	w   *Writer

	failed bool
}

func (t *teeSource) Name() string { return t.src.Name() }

// Run flushes the recording when src stops so the log is complete on disk
// before the writer is closed.
func (t *teeSource) Run(ctx context.Context, emit func(Sample)) error {
	err := t.src.Run(ctx, func(s Sample) {
		if !t.failed {
			if err := t.w.WriteSample(s); err != nil {
				// Stop recording but keep the live stream going.
				t.failed = true
				logf("record failed, recording stopped: %v", err)
			}
		}
		emit(s)
	})
	if !t.failed {
		err = multierr.Append(err, t.w.Flush())
	}
	return err
}
