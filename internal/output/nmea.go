package output

import (
	"fmt"
	"io"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"compass-ng/internal/heading"
)

// FormatHDM builds a magnetic heading sentence, e.g. "$HCHDM,123.4,M*2D".
func FormatHDM(talker string, deg float64) string {
	v := math.Round(heading.NormalizeDegrees(deg)*10) / 10
	if v >= 360 {
		v -= 360
	}
	body := fmt.Sprintf("%sHDM,%.1f,M", talker, v)
	return "$" + body + "*" + nmea.Checksum(body)
}

// NMEA writes one HDM sentence per heading update. Cardinal events have no
// NMEA equivalent and are ignored.
type NMEA struct {
	name   string
	talker string
	w      io.WriteCloser
}

func NewNMEA(name, talker string, w io.WriteCloser) *NMEA {
	if talker == "" {
		talker = "HC"
	}
	return &NMEA{name: name, talker: strings.ToUpper(talker), w: w}
}

func (n *NMEA) Name() string { return n.name }

func (n *NMEA) WriteUpdate(u heading.HeadingUpdate) error {
	_, err := io.WriteString(n.w, FormatHDM(n.talker, u.Heading)+"\r\n")
	return err
}

func (n *NMEA) WriteCardinal(heading.CardinalEvent) error { return nil }

func (n *NMEA) Close() error { return n.w.Close() }

var openSerialFn = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	return serial.Open(opts)
}

// OpenSerial opens port 8N1 for NMEA output.
func OpenSerial(port string, baud uint) (io.WriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	rwc, err := openSerialFn(opts)
	if err != nil {
		return nil, fmt.Errorf("output: open serial %s: %w", port, err)
	}
	return rwc, nil
}
