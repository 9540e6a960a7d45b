package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"compass-ng/internal/heading"
)

// Sample log format, one record per line:
//
//	START
//	<t_ns>,<kind>,<x>,<y>,<z>
//
// t_ns is nanoseconds since the preceding START, kind is "accel" or "mag".
// Blank lines and lines starting with '#' are ignored.

type Record struct {
	At time.Duration
	// Start marks an origin reset; the other fields are unset.
	Start bool
	Kind  heading.SensorKind
	Vec   r3.Vector
}

func ReadLog(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("source: replay line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseRecord(line string) (Record, error) {
	f := strings.Split(line, ",")
	if len(f) != 5 {
		return Record{}, fmt.Errorf("want 5 fields, got %d: %q", len(f), line)
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	ns, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp %q: %w", f[0], err)
	}
	if ns < 0 {
		return Record{}, fmt.Errorf("negative timestamp %d", ns)
	}
	kind, err := heading.ParseSensorKind(f[1])
	if err != nil {
		return Record{}, err
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(f[2+i], 64)
		if err != nil {
			return Record{}, fmt.Errorf("component %q: %w", f[2+i], err)
		}
		xyz[i] = v
	}
	return Record{
		At:   time.Duration(ns),
		Kind: kind,
		Vec:  r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]},
	}, nil
}

func OpenLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}

// Writer records samples relative to the time of its first sample.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	begun  bool
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

func (ww *Writer) WriteSample(s Sample) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("source: writer is closed")
	}
	if !ww.begun {
		ww.start = s.At
		ww.begun = true
	}
	d := s.At.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s,%s,%s\n", d.Nanoseconds(), s.Kind,
		formatFloat(s.Vec.X), formatFloat(s.Vec.Y), formatFloat(s.Vec.Z))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Sleeper waits between replayed records.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type clockSleeper struct{ clk clock.Clock }

func (s clockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing, scaled by speed
// (2.0 halves the waits). START markers reset the origin. cb receives each
// record's offset from the start of playback.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper Sleeper, cb func(Record, time.Duration) error) error {
	if speed <= 0 {
		return fmt.Errorf("source: replay speed must be > 0")
	}
	if sleeper == nil {
		sleeper = clockSleeper{clk: clock.New()}
	}
	if cb == nil {
		return errors.New("source: replay callback is nil")
	}
	if len(records) == 0 {
		return errors.New("source: no replay records")
	}

	var elapsed time.Duration
	for {
		var origin, lastAt time.Duration
		haveLast := false
		played := 0

		for _, r := range records {
			if r.Start {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}
			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				gap := at - lastAt
				if gap < 0 {
					gap = 0
				}
				elapsed += gap
				if wait := time.Duration(float64(gap) / speed); wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return nil
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return nil
			}
			if err := cb(r, elapsed); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
			played++
		}

		if !loop || played == 0 {
			return nil
		}
	}
}

// Replay is a Source backed by a recorded sample log. Sample times advance
// with the recorded offsets so cooldowns behave as they did live regardless of
// playback speed.
type Replay struct {
	Records []Record
	Speed   float64
	Loop    bool
	Sleeper Sleeper
	Clock   clock.Clock
}

func (r *Replay) Name() string { return "replay" }

func (r *Replay) Run(ctx context.Context, emit func(Sample)) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = clockSleeper{clk: clk}
	}
	speed := r.Speed
	if speed == 0 {
		speed = 1
	}
	base := clk.Now()
	return Play(ctx, r.Records, speed, r.Loop, sleeper, func(rec Record, off time.Duration) error {
		emit(Sample{Kind: rec.Kind, Vec: rec.Vec, At: base.Add(off)})
		return nil
	})
}
