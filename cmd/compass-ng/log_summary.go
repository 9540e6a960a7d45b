package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"compass-ng/internal/config"
	"compass-ng/internal/heading"
	"compass-ng/internal/source"
)

type logSummary struct {
	Segments    int
	Accel       int
	Mag         int
	MaxDuration time.Duration
	Updates     int
	Cardinal    map[heading.Sector]int
}

// summarizeSampleLog counts the records in a sample log and runs them through
// a fresh processor per segment, as the daemon would on replay.
func summarizeSampleLog(records []source.Record, hc heading.Config) (logSummary, error) {
	s := logSummary{Cardinal: map[heading.Sector]int{}}
	proc, err := heading.New(hc, nil)
	if err != nil {
		return s, err
	}

	base := time.Unix(0, 0).UTC()
	segments := 0
	hasSamples := false
	for _, r := range records {
		if r.Start {
			segments++
			proc.Reset()
			continue
		}
		hasSamples = true
		switch r.Kind {
		case heading.Accelerometer:
			s.Accel++
		case heading.Magnetometer:
			s.Mag++
		}
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}

		res, ok := proc.OnSample(r.Kind, r.Vec, base.Add(r.At))
		if !ok {
			continue
		}
		if res.Update != nil {
			s.Updates++
		}
		if res.Aligned != nil {
			s.Cardinal[res.Aligned.Direction]++
		}
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments
	return s, nil
}

func printLogSummary(w io.Writer, path string, cfg config.Config) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := source.OpenLog(path)
	if err != nil {
		return err
	}
	hc, err := cfg.HeadingCore()
	if err != nil {
		return err
	}
	s, err := summarizeSampleLog(recs, hc)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "accel_samples: %d\n", s.Accel)
	fmt.Fprintf(w, "mag_samples: %d\n", s.Mag)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "heading_updates: %d\n", s.Updates)
	fmt.Fprintf(w, "cardinal_events:\n")
	for _, d := range []heading.Sector{heading.North, heading.East, heading.South, heading.West} {
		fmt.Fprintf(w, "  %s: %d\n", d, s.Cardinal[d])
	}
	return nil
}
