// Package cameratest provides SimDriver, a deterministic in-memory camera
// driver. It renders a synthetic textured wall at a configurable distance
// so capture, decoding, matching and projection can be exercised without
// hardware, in tests and in the CLI demo mode.
package cameratest

import (
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc16"

	"iscpipe/camera"
	"iscpipe/dplerr"
)

// texTable drives the synthetic texture generator; any fixed table works,
// the point is a deterministic, high-frequency pattern block matchers can
// lock onto.
var texTable = crc16.MakeTable(crc16.CRC16_ARC)

// SimDriver implements camera.Driver over a synthetic scene. The zero
// value is not usable; construct with New.
type SimDriver struct {
	mu       sync.Mutex
	model    camera.Model
	table    *camera.ModelTable
	spec     camera.CameraSpec
	opts     map[camera.Option]int
	opened   bool
	grabbing bool
	cfg      camera.GrabConfig
	next     uint64

	// Interval paces NextFrame; zero delivers immediately.
	Interval time.Duration
	// WallDistance is the scene depth in metres.
	WallDistance float64
	// Seed varies the texture between drivers.
	Seed uint16
	// FailOpen makes Open report the device missing.
	FailOpen bool

	base, compare, raw []byte
}

// New returns a simulated camera for the model, with a small default
// geometry so tests stay fast. Use SetSpec for full-size frames.
func New(model camera.Model) *SimDriver {
	t := camera.TableFor(model)
	if t == nil {
		t = camera.TableFor(camera.ModelVM)
	}
	d := &SimDriver{
		model: model,
		table: t,
		spec: camera.CameraSpec{
			Model:       model,
			BaseLength:  0.1,
			BF:          60,
			DInf:        2.0,
			WidthMax:    64,
			HeightMax:   48,
			Serial:      "SIM00001",
			FPGAVersion: "0x0075",
		},
		opts:         defaultOptions(t),
		WallDistance: 2.0,
	}
	return d
}

func defaultOptions(t *camera.ModelTable) map[camera.Option]int {
	opts := make(map[camera.Option]int)
	for o := camera.OptGain; o <= camera.OptSADSearchRange128; o++ {
		if c, ok := t.Lookup(o); ok && c.Implemented {
			opts[o] = c.Min
		}
	}
	opts[camera.OptShutterMode] = int(camera.ShutterSingle)
	opts[camera.OptExposure] = 200
	return opts
}

// SetSpec overrides the advertised camera constants. Call before Open.
func (d *SimDriver) SetSpec(spec camera.CameraSpec) {
	d.mu.Lock()
	spec.Model = d.model
	d.spec = spec
	d.mu.Unlock()
}

// Open implements camera.Driver.
func (d *SimDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpen {
		return fmt.Errorf("cameratest: no device: %w", dplerr.ErrDeviceUnavailable)
	}
	if d.opened {
		return fmt.Errorf("cameratest: already open: %w", dplerr.ErrInvalidState)
	}
	d.opened = true
	return nil
}

// Close implements camera.Driver.
func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.grabbing = false
	return nil
}

// Spec implements camera.Driver.
func (d *SimDriver) Spec() (camera.CameraSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return camera.CameraSpec{}, fmt.Errorf("cameratest: not open: %w", dplerr.ErrInvalidState)
	}
	return d.spec, nil
}

// StartGrab implements camera.Driver.
func (d *SimDriver) StartGrab(cfg camera.GrabConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return fmt.Errorf("cameratest: not open: %w", dplerr.ErrInvalidState)
	}
	if d.grabbing {
		return fmt.Errorf("cameratest: already grabbing: %w", dplerr.ErrInvalidState)
	}
	d.grabbing = true
	d.cfg = cfg
	d.next = 1
	return nil
}

// StopGrab implements camera.Driver.
func (d *SimDriver) StopGrab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbing = false
	return nil
}

// GetOption implements camera.Driver.
func (d *SimDriver) GetOption(opt camera.Option) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.opts[opt]
	if !ok {
		return 0, dplerr.FromDriverCode(-17)
	}
	return v, nil
}

// SetOption implements camera.Driver.
func (d *SimDriver) SetOption(opt camera.Option, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.opts[opt]; !ok {
		return dplerr.FromDriverCode(-17)
	}
	d.opts[opt] = value
	return nil
}

// NextFrame implements camera.Driver. Frames are numbered from 1; under
// double shutter, odd frames carry the long exposure and even frames a
// four-times shorter one.
func (d *SimDriver) NextFrame(wait time.Duration) (camera.RawFrame, error) {
	d.mu.Lock()
	grabbing, interval := d.grabbing, d.Interval
	d.mu.Unlock()
	if !grabbing {
		return camera.RawFrame{}, dplerr.FromDriverCode(-18)
	}
	// Pace outside the lock so option traffic stays live during the wait.
	if interval > 0 {
		if interval > wait {
			time.Sleep(wait)
			return camera.RawFrame{}, dplerr.FromDriverCode(-3)
		}
		time.Sleep(interval)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.grabbing {
		return camera.RawFrame{}, dplerr.FromDriverCode(-18)
	}
	num := d.next
	d.next++

	w, h := d.spec.WidthMax, d.spec.HeightMax
	exposure := d.opts[camera.OptExposure]
	gain := d.opts[camera.OptGain]
	scale := 1
	shutter := camera.ShutterMode(d.opts[camera.OptShutterMode])
	if (shutter == camera.ShutterDouble || shutter == camera.ShutterDouble2) && num%2 == 0 {
		exposure /= 4
		scale = 4
	}

	d.render(w, h, scale)

	rf := camera.RawFrame{
		Number:   num,
		Width:    w,
		Height:   h,
		Gain:     gain,
		Exposure: exposure,
		Base:     d.base,
		Compare:  d.compare,
	}
	if d.cfg.RawCapture {
		rf.Raw = d.raw
	}
	return rf, nil
}

// disparity returns the scene's true disparity in pixels.
func (d *SimDriver) disparity() float64 {
	if d.WallDistance <= 0 {
		return 0
	}
	return float64(d.spec.BF)/d.WallDistance + float64(d.spec.DInf)
}

// tex is the deterministic wall texture, bounded away from full black and
// white so double-shutter selection keeps the pixels in range.
func (d *SimDriver) tex(x, y int) byte {
	var b [5]byte
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(y)
	b[3] = byte(y >> 8)
	b[4] = byte(d.Seed)
	v := crc16.Checksum(b[:], texTable)
	return byte(20 + int(v)%200)
}

// render fills base/compare and, when raw capture is on, the interleaved
// raw payload in the decoder's documented layout.
func (d *SimDriver) render(w, h, scale int) {
	if cap(d.base) < w*h {
		d.base = make([]byte, w*h)
		d.compare = make([]byte, w*h)
	}
	d.base = d.base[:w*h]
	d.compare = d.compare[:w*h]

	disp := d.disparity()
	di := int(disp)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d.base[y*w+x] = d.tex(x, y) / byte(scale)
			d.compare[y*w+x] = d.tex(x+di, y) / byte(scale)
		}
	}

	if !d.cfg.RawCapture {
		d.raw = d.raw[:0]
		return
	}

	s := d.table.RawStrideFactor
	planes := 2
	if d.cfg.Grab == camera.GrabParallax {
		planes = 3
	}
	n := planes * s * w * h
	if d.cfg.Color == camera.ColorOn && d.cfg.Grab != camera.GrabBeforeCorrect {
		n += w * h * 3
	}
	if cap(d.raw) < n {
		d.raw = make([]byte, n)
	}
	d.raw = d.raw[:n]
	for i := range d.raw {
		d.raw[i] = 0
	}

	ipart := byte(disp)
	frac := byte((disp - float64(ipart)) * 256)
	rowBytes := s * w
	for y := 0; y < h; y++ {
		row := d.raw[y*planes*rowBytes:]
		for x := 0; x < w; x++ {
			row[x*s] = d.base[y*w+x]
			if planes == 3 {
				row[rowBytes+x*s] = ipart
				row[2*rowBytes+x*s] = frac
			} else {
				row[rowBytes+x*s] = d.compare[y*w+x]
			}
		}
	}
	if d.cfg.Color == camera.ColorOn && d.cfg.Grab != camera.GrabBeforeCorrect {
		off := planes * rowBytes * h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := d.base[y*w+x]
				i := off + (y*w+x)*3
				d.raw[i] = v
				d.raw[i+1] = v
				d.raw[i+2] = v
			}
		}
	}
}
