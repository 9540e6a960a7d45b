package output

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"compass-ng/internal/heading"
)

const (
	oledW = 128
	oledH = 64

	dialCX = 96
	dialCY = 32
	dialR  = 28
)

type drawer interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// OLED renders the heading on an SSD1306 128x64 panel: readout on the left,
// a dial with a north needle on the right.
type OLED struct {
	dev     drawer
	closeFn func() error
}

func OpenOLED(busName string, addr uint16) (*OLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("output: periph init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("output: open i2c %q: %w", busName, err)
	}
	dev, err := ssd1306.NewI2C(bus, addr, &ssd1306.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("output: ssd1306 at 0x%02X: %w", addr, err)
	}
	return newOLED(dev, bus), nil
}

func newOLED(dev drawer, bus i2c.BusCloser) *OLED {
	o := &OLED{dev: dev}
	if bus != nil {
		o.closeFn = bus.Close
	}
	return o
}

func (o *OLED) Name() string { return "oled" }

func (o *OLED) WriteUpdate(u heading.HeadingUpdate) error {
	img := Render(u)
	return o.dev.Draw(img.Bounds(), img, image.Point{})
}

func (o *OLED) WriteCardinal(heading.CardinalEvent) error { return nil }

func (o *OLED) Close() error {
	err := o.dev.Halt()
	if o.closeFn != nil {
		if cerr := o.closeFn(); err == nil {
			err = cerr
		}
		o.closeFn = nil
	}
	return err
}

// Render draws "123°" and the sector label next to a dial whose needle points
// to magnetic north as seen from the device.
func Render(u heading.HeadingUpdate) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, oledW, oledH))
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	d.Dot = fixed.P(2, 26)
	d.DrawString(strconv.Itoa(u.Rounded))
	degreeMark(img, d.Dot.X.Round()+1, 16)
	d.Dot = fixed.P(2, 46)
	d.DrawString(u.Label)

	circle(img, dialCX, dialCY, dialR)
	// North sits at -heading relative to the device's up direction.
	a := -u.Heading * math.Pi / 180
	tx := dialCX + int(math.Round(float64(dialR-3)*math.Sin(a)))
	ty := dialCY - int(math.Round(float64(dialR-3)*math.Cos(a)))
	line(img, dialCX, dialCY, tx, ty)
	return img
}

func degreeMark(img *image1bit.VerticalLSB, x, y int) {
	for _, p := range [][2]int{{1, 0}, {0, 1}, {2, 1}, {1, 2}} {
		img.SetBit(x+p[0], y+p[1], image1bit.On)
	}
}

func circle(img *image1bit.VerticalLSB, cx, cy, r int) {
	for i := 0; i < 360; i += 3 {
		a := float64(i) * math.Pi / 180
		img.SetBit(cx+int(math.Round(float64(r)*math.Cos(a))), cy+int(math.Round(float64(r)*math.Sin(a))), image1bit.On)
	}
}

func line(img *image1bit.VerticalLSB, x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetBit(x0, y0, image1bit.On)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
