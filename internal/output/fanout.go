// Package output delivers processor events to the feedback player, the web
// broadcaster and the configured sinks (NMEA, MQTT, OLED).
package output

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"compass-ng/internal/heading"
)

// Sink is a slow consumer. Each sink gets its own goroutine and queue so a
// stalled broker or serial port never holds up the processor.
type Sink interface {
	Name() string
	WriteUpdate(heading.HeadingUpdate) error
	WriteCardinal(heading.CardinalEvent) error
	Close() error
}

const queueLen = 16

type event struct {
	update  *heading.HeadingUpdate
	aligned *heading.CardinalEvent
}

type worker struct {
	sink    Sink
	queue   chan event
	dropped atomic.Uint64
	errors  atomic.Uint64
}

// Fanout implements heading.Host. Listeners are called inline and must be
// cheap; sinks are fed through bounded queues that drop when full.
type Fanout struct {
	listeners []heading.Host
	workers   []*worker

	closeOnce sync.Once
}

func NewFanout(listeners []heading.Host, sinks []Sink) *Fanout {
	f := &Fanout{listeners: listeners}
	for _, s := range sinks {
		f.workers = append(f.workers, &worker{sink: s, queue: make(chan event, queueLen)})
	}
	return f
}

func (f *Fanout) OnHeadingUpdate(u heading.HeadingUpdate) {
	for _, l := range f.listeners {
		l.OnHeadingUpdate(u)
	}
	f.enqueue(event{update: &u})
}

func (f *Fanout) OnCardinalAligned(e heading.CardinalEvent) {
	for _, l := range f.listeners {
		l.OnCardinalAligned(e)
	}
	f.enqueue(event{aligned: &e})
}

func (f *Fanout) enqueue(ev event) {
	for _, w := range f.workers {
		select {
		case w.queue <- ev:
		default:
			if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Printf("output: %s queue full, dropped %d events", w.sink.Name(), n)
			}
		}
	}
}

// Run drains the sink queues until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range f.workers {
		w := w
		g.Go(func() error {
			w.run(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue:
			var err error
			if ev.update != nil {
				err = w.sink.WriteUpdate(*ev.update)
			} else if ev.aligned != nil {
				err = w.sink.WriteCardinal(*ev.aligned)
			}
			if err != nil {
				if n := w.errors.Add(1); n == 1 || n%100 == 0 {
					log.Printf("output: %s write failed (%d errors): %v", w.sink.Name(), n, err)
				}
			}
		}
	}
}

// SinkStats is per-sink delivery bookkeeping for the status API.
type SinkStats struct {
	Name    string `json:"name"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

func (f *Fanout) Stats() []SinkStats {
	out := make([]SinkStats, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, SinkStats{Name: w.sink.Name(), Dropped: w.dropped.Load(), Errors: w.errors.Load()})
	}
	return out
}

// Close closes every sink once. Call after Run has returned.
func (f *Fanout) Close() error {
	var err error
	f.closeOnce.Do(func() {
		for _, w := range f.workers {
			err = multierr.Append(err, w.sink.Close())
		}
	})
	return err
}
