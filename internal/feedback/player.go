// Package feedback turns cardinal alignment events into a buzzer cue and a
// vibration pulse.
package feedback

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"compass-ng/internal/heading"
)

const DefaultPulse = 500 * time.Millisecond

// eventQueueLen bounds the cardinal events waiting for Run.
const eventQueueLen = 4

type Config struct {
	// VibrationGPIO is the BCM pin of the motor driver; 0 disables the motor.
	VibrationGPIO int
	Pulse         time.Duration
	// BuzzerPWMPin is the BCM pin of the buzzer; 0 disables sound.
	BuzzerPWMPin int
	CueDuration  time.Duration
	// SharedChannel plays every direction through one channel, so a cue for
	// any direction blocks the others until it ends.
	SharedChannel bool
	TonesHz       map[heading.Sector]int
}

type Stats struct {
	Cues       uint64 `json:"cues"`
	CuesBusy   uint64 `json:"cues_skipped_busy"`
	Dropped    uint64 `json:"events_dropped"`
	Vibrations uint64 `json:"vibrations"`
	Errors     uint64 `json:"errors"`
	LastError  string `json:"last_error,omitempty"`
}

type channel struct {
	active bool
	timer  *clock.Timer
}

// Player implements heading.Host. It ignores plain heading updates.
type Player struct {
	cfg    Config
	clock  clock.Clock
	events chan heading.CardinalEvent

	mu       sync.Mutex
	vib      vibrator
	tone     toneDriver
	channels map[heading.Sector]*channel
	shared   *channel
	pulse    *clock.Timer
	closed   bool
	stats    Stats
}

func New(cfg Config) (*Player, error) {
	return newWithClock(cfg, clock.New())
}

func newWithClock(cfg Config, clk clock.Clock) (*Player, error) {
	if cfg.Pulse <= 0 {
		cfg.Pulse = DefaultPulse
	}
	if cfg.CueDuration <= 0 {
		cfg.CueDuration = 400 * time.Millisecond
	}
	p := &Player{
		cfg:      cfg,
		clock:    clk,
		events:   make(chan heading.CardinalEvent, eventQueueLen),
		vib:      nopVibrator{},
		tone:     nopTone{},
		channels: make(map[heading.Sector]*channel, 4),
		shared:   &channel{},
	}
	for _, s := range []heading.Sector{heading.North, heading.East, heading.South, heading.West} {
		p.channels[s] = &channel{}
	}

	if cfg.VibrationGPIO > 0 {
		v, err := openVibratorFn(cfg.VibrationGPIO)
		if err != nil {
			return nil, fmt.Errorf("feedback: open vibration motor: %w", err)
		}
		p.vib = v
	}
	if cfg.BuzzerPWMPin > 0 {
		t, err := openToneFn(cfg.BuzzerPWMPin)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("feedback: open buzzer: %w", err), p.vib.Close())
		}
		p.tone = t
	}
	return p, nil
}

func (p *Player) OnHeadingUpdate(heading.HeadingUpdate) {}

// OnCardinalAligned queues ev for Run without blocking. Events arriving while
// the queue is full are dropped.
func (p *Player) OnCardinalAligned(ev heading.CardinalEvent) {
	if !ev.Direction.Primary() {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
	}
}

// Run drives the buzzer and motor for queued events until ctx is done.
func (p *Player) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.events:
			p.play(ev)
		}
	}
}

// play starts the direction's cue unless its channel is already playing, and
// always (re)starts the vibration pulse.
func (p *Player) play(ev heading.CardinalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	ch := p.channelFor(ev.Direction)
	if ch == nil {
		return
	}

	if ch.active {
		p.stats.CuesBusy++
	} else {
		hz := p.cfg.TonesHz[ev.Direction]
		if err := p.tone.Start(hz); err != nil {
			p.fail(err)
		} else {
			ch.active = true
			p.stats.Cues++
			log.Printf("feedback: cue %s (%d Hz)", ev.Label, hz)
			ch.timer = p.clock.AfterFunc(p.cfg.CueDuration, func() { p.endCue(ch) })
		}
	}

	if err := p.vib.Set(true); err != nil {
		p.fail(err)
		return
	}
	p.stats.Vibrations++
	if p.pulse != nil {
		p.pulse.Stop()
	}
	p.pulse = p.clock.AfterFunc(p.cfg.Pulse, p.endPulse)
}

func (p *Player) channelFor(s heading.Sector) *channel {
	if !s.Primary() {
		return nil
	}
	if p.cfg.SharedChannel {
		return p.shared
	}
	return p.channels[s]
}

func (p *Player) endCue(ch *channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !ch.active {
		return
	}
	ch.active = false
	ch.timer = nil
	if p.anyActive() {
		return
	}
	if err := p.tone.Stop(); err != nil {
		p.fail(err)
	}
}

func (p *Player) anyActive() bool {
	if p.shared.active {
		return true
	}
	for _, c := range p.channels {
		if c.active {
			return true
		}
	}
	return false
}

func (p *Player) endPulse() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pulse = nil
	if err := p.vib.Set(false); err != nil {
		p.fail(err)
	}
}

func (p *Player) fail(err error) {
	p.stats.Errors++
	p.stats.LastError = err.Error()
	log.Printf("feedback: %v", err)
}

// Active reports whether the cue channel for s is currently playing.
func (p *Player) Active(s heading.Sector) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.channelFor(s)
	return ch != nil && ch.active
}

// Vibrating reports whether a vibration pulse is in progress.
func (p *Player) Vibrating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulse != nil
}

func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close silences the outputs and releases the hardware. Safe to call twice.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.pulse != nil {
		p.pulse.Stop()
		p.pulse = nil
	}
	for _, c := range append([]*channel{p.shared}, p.channelsList()...) {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.active = false
	}
	return multierr.Combine(
		p.vib.Set(false),
		p.vib.Close(),
		p.tone.Stop(),
		p.tone.Close(),
	)
}

func (p *Player) channelsList() []*channel {
	out := make([]*channel, 0, len(p.channels))
	for _, c := range p.channels {
		out = append(out, c)
	}
	return out
}
