package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"compass-ng/internal/config"
	"compass-ng/internal/feedback"
	"compass-ng/internal/heading"
	"compass-ng/internal/output"
	"compass-ng/internal/source"
	"compass-ng/internal/udp"
	"compass-ng/internal/web"
)

// runtime wires one source through the heading processor to every listener
// and sink for the lifetime of the daemon.
type runtime struct {
	cfg    config.Config
	logs   *web.LogBuffer
	status *web.Status
	hb     *web.HeadingBroadcaster
	player *feedback.Player
	fanout *output.Fanout
	proc   *heading.Processor
	src    source.Source

	closers []io.Closer
}

// newRuntime fails on a bad source or heading configuration. Feedback and
// output devices that cannot be opened are logged and left out.
func newRuntime(cfg config.Config, logs *web.LogBuffer) (*runtime, error) {
	hc, err := cfg.HeadingCore()
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = web.NewLogBuffer(500)
	}

	r := &runtime{
		cfg:    cfg,
		logs:   logs,
		status: web.NewStatus(),
		hb:     web.NewHeadingBroadcaster(),
	}
	smoothing := cfg.Heading.Smoothing != nil && *cfg.Heading.Smoothing
	r.status.SetStatic(cfg.Source.Kind, cfg.Heading.Method, smoothing)

	listeners := []heading.Host{r.status, r.hb}
	if cfg.Feedback.Enable {
		p, err := feedback.New(feedbackConfig(cfg.Feedback))
		if err != nil {
			log.Printf("feedback init failed: %v", err)
		} else {
			r.player = p
			listeners = append(listeners, p)
			r.status.AddProvider("feedback", func() any { return p.Stats() })
		}
	}

	r.fanout = output.NewFanout(listeners, buildSinks(cfg.Outputs))
	r.status.AddProvider("sinks", func() any { return r.fanout.Stats() })

	r.proc, err = heading.New(hc, r.fanout)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	src, closers, err := buildSource(cfg.Source)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.src = src
	r.closers = closers
	return r, nil
}

// Run blocks until ctx is done, a component fails, or a finite source (a
// non-looping replay) is exhausted.
func (r *runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.fanout.Run(gctx)
	})
	if r.player != nil {
		g.Go(func() error {
			return r.player.Run(gctx)
		})
	}
	g.Go(func() error {
		return web.Serve(gctx, r.cfg.Web.Listen, web.Handler(r.status, r.hb, r.logs))
	})
	g.Go(func() error {
		if err := r.src.Run(gctx, r.onSample); err != nil {
			return fmt.Errorf("source %s: %w", r.src.Name(), err)
		}
		if gctx.Err() == nil {
			log.Printf("source %s finished", r.src.Name())
			cancel()
		}
		return nil
	})
	return g.Wait()
}

func (r *runtime) onSample(s source.Sample) {
	r.status.MarkSample()
	res, ok := r.proc.OnSample(s.Kind, s.Vec, s.At)
	if ok {
		r.status.SetOrientation(res.Orientation)
	}
}

// Close releases sinks, feedback hardware and the source. Call after Run has
// returned.
func (r *runtime) Close() error {
	var err error
	if r.fanout != nil {
		err = multierr.Append(err, r.fanout.Close())
	}
	if r.player != nil {
		err = multierr.Append(err, r.player.Close())
	}
	for _, c := range r.closers {
		err = multierr.Append(err, c.Close())
	}
	r.closers = nil
	return err
}

func buildSource(sc config.SourceConfig) (source.Source, []io.Closer, error) {
	var src source.Source
	var closers []io.Closer
	switch sc.Kind {
	case "imu":
		imu, err := source.OpenIMU(sc.IMU.I2CBus, sc.IMU.Addr, sc.IMU.Interval)
		if err != nil {
			return nil, nil, err
		}
		src = imu
		closers = append(closers, imu)
	case "sim":
		src = source.Sim{
			Period:   sc.Sim.Period,
			Interval: sc.Sim.Interval,
			PitchDeg: sc.Sim.PitchDeg,
			RollDeg:  sc.Sim.RollDeg,
			NoiseUT:  sc.Sim.NoiseUT,
			Seed:     sc.Sim.Seed,
		}
	case "replay":
		recs, err := source.OpenLog(sc.Replay.Path)
		if err != nil {
			return nil, nil, err
		}
		src = &source.Replay{Records: recs, Speed: sc.Replay.Speed, Loop: sc.Replay.Loop}
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}

	if sc.Record.Enable {
		w, err := source.CreateWriter(sc.Record.Path)
		if err != nil {
			return nil, nil, multierr.Append(err, closeAll(closers))
		}
		src = source.Tee(src, w)
		closers = append(closers, w)
		log.Printf("recording samples to %s", sc.Record.Path)
	}
	return src, closers, nil
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func buildSinks(oc config.OutputsConfig) []output.Sink {
	var sinks []output.Sink
	if oc.NMEA.Enable {
		if oc.NMEA.UDPDest != "" {
			b, err := udp.NewBroadcaster(oc.NMEA.UDPDest)
			if err != nil {
				log.Printf("nmea udp init failed: %v", err)
			} else {
				sinks = append(sinks, output.NewNMEA("nmea-udp", oc.NMEA.Talker, b))
			}
		}
		if oc.NMEA.SerialPort != "" {
			w, err := output.OpenSerial(oc.NMEA.SerialPort, oc.NMEA.BaudRate)
			if err != nil {
				log.Printf("nmea serial init failed: %v", err)
			} else {
				sinks = append(sinks, output.NewNMEA("nmea-serial", oc.NMEA.Talker, w))
			}
		}
	}
	if oc.MQTT.Enable {
		m, err := output.NewMQTT(output.MQTTConfig{
			Broker:        oc.MQTT.Broker,
			ClientID:      oc.MQTT.ClientID,
			TopicHeading:  oc.MQTT.TopicHeading,
			TopicCardinal: oc.MQTT.TopicCardinal,
		})
		if err != nil {
			log.Printf("mqtt init failed: %v", err)
		} else {
			sinks = append(sinks, m)
		}
	}
	if oc.OLED.Enable {
		o, err := output.OpenOLED(oc.OLED.I2CBus, oc.OLED.Addr)
		if err != nil {
			log.Printf("oled init failed: %v", err)
		} else {
			sinks = append(sinks, o)
		}
	}
	return sinks
}

var toneSectors = map[string]heading.Sector{
	"N": heading.North,
	"E": heading.East,
	"S": heading.South,
	"W": heading.West,
}

func feedbackConfig(fc config.FeedbackConfig) feedback.Config {
	tones := make(map[heading.Sector]int, len(fc.TonesHz))
	for k, hz := range fc.TonesHz {
		if s, ok := toneSectors[k]; ok {
			tones[s] = hz
		}
	}
	return feedback.Config{
		VibrationGPIO: fc.VibrationGPIO,
		Pulse:         fc.Pulse,
		BuzzerPWMPin:  fc.BuzzerPWMPin,
		CueDuration:   fc.CueDuration,
		SharedChannel: fc.SharedChannel,
		TonesHz:       tones,
	}
}
