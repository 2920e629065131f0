package camera

import (
	"fmt"
	"sync"
	"time"

	"iscpipe/dplerr"
)

// Device is the option surface the rest of the pipeline talks to. It binds
// one Driver to one model's capability table, validates every option access
// against the table, and serializes option traffic with its own mutex so
// get/set may run concurrently with frame delivery.
type Device struct {
	model Model
	table *ModelTable
	drv   Driver
	spec  CameraSpec

	optMu sync.Mutex
}

// Bind opens drv and reads the camera spec once. An unknown model or a
// failed open reports the device as unavailable.
func Bind(model Model, drv Driver) (*Device, error) {
	table := TableFor(model)
	if table == nil {
		return nil, fmt.Errorf("camera: model %v: %w", model, dplerr.ErrDeviceUnavailable)
	}
	if drv == nil {
		return nil, fmt.Errorf("camera: no driver for model %v: %w", model, dplerr.ErrDeviceUnavailable)
	}
	if err := drv.Open(); err != nil {
		return nil, fmt.Errorf("camera: open %v: %w", model, err)
	}
	spec, err := drv.Spec()
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("camera: read spec: %w", err)
	}
	spec.Model = model
	if spec.WidthMax == 0 {
		spec.WidthMax = table.WidthMax
	}
	if spec.HeightMax == 0 {
		spec.HeightMax = table.HeightMax
	}
	return &Device{model: model, table: table, drv: drv, spec: spec}, nil
}

// Close releases the driver handle.
func (d *Device) Close() error {
	return d.drv.Close()
}

// Model returns the bound model.
func (d *Device) Model() Model { return d.model }

// Spec returns the per-session constants. The copy is safe to retain.
func (d *Device) Spec() CameraSpec { return d.spec }

// Table exposes the bound capability table (raw stride, max disparity).
func (d *Device) Table() *ModelTable { return d.table }

// IsImplemented reports whether the model implements opt at all.
func (d *Device) IsImplemented(opt Option) bool {
	c, ok := d.table.Lookup(opt)
	return ok && c.Implemented
}

// IsReadable reports whether opt can be read back.
func (d *Device) IsReadable(opt Option) bool {
	c, ok := d.table.Lookup(opt)
	return ok && c.Readable
}

// IsWritable reports whether opt accepts writes.
func (d *Device) IsWritable(opt Option) bool {
	c, ok := d.table.Lookup(opt)
	return ok && c.Writable
}

func (d *Device) caps(opt Option) (Caps, error) {
	if opt < 0 || opt >= optionCount {
		return Caps{}, fmt.Errorf("camera: unknown option %d: %w", int(opt), dplerr.ErrInvalidOption)
	}
	c, ok := d.table.Lookup(opt)
	if !ok || !c.Implemented {
		return Caps{}, fmt.Errorf("camera: option %v not on model %v: %w", opt, d.model, dplerr.ErrInvalidOption)
	}
	return c, nil
}

// Min returns the smallest accepted value for opt.
func (d *Device) Min(opt Option) (int, error) {
	c, err := d.caps(opt)
	if err != nil {
		return 0, err
	}
	return c.Min, nil
}

// Max returns the largest accepted value for opt.
func (d *Device) Max(opt Option) (int, error) {
	c, err := d.caps(opt)
	if err != nil {
		return 0, err
	}
	return c.Max, nil
}

// Step returns the value granularity for opt.
func (d *Device) Step(opt Option) (int, error) {
	c, err := d.caps(opt)
	if err != nil {
		return 0, err
	}
	return c.Step, nil
}

// Get reads the current value of opt from the camera.
func (d *Device) Get(opt Option) (int, error) {
	c, err := d.caps(opt)
	if err != nil {
		return 0, err
	}
	if !c.Readable {
		return 0, fmt.Errorf("camera: option %v is write-only: %w", opt, dplerr.ErrInvalidOption)
	}
	d.optMu.Lock()
	defer d.optMu.Unlock()
	v, err := d.drv.GetOption(opt)
	if err != nil {
		return 0, fmt.Errorf("camera: get %v: %w", opt, err)
	}
	return v, nil
}

// Set writes value to opt after validating it against the declared domain.
func (d *Device) Set(opt Option, value int) error {
	c, err := d.caps(opt)
	if err != nil {
		return err
	}
	if !c.Writable {
		return fmt.Errorf("camera: option %v: %w", opt, dplerr.ErrNotWritable)
	}
	if value < c.Min || value > c.Max {
		return fmt.Errorf("camera: %v=%d outside [%d,%d]: %w", opt, value, c.Min, c.Max, dplerr.ErrInvalidOption)
	}
	if c.Step > 1 && (value-c.Min)%c.Step != 0 {
		return fmt.Errorf("camera: %v=%d off step %d: %w", opt, value, c.Step, dplerr.ErrInvalidOption)
	}
	d.optMu.Lock()
	defer d.optMu.Unlock()
	if err := d.drv.SetOption(opt, value); err != nil {
		return fmt.Errorf("camera: set %v=%d: %w", opt, value, err)
	}
	return nil
}

// StartGrab switches the camera into the requested grab mode.
func (d *Device) StartGrab(cfg GrabConfig) error {
	if err := d.drv.StartGrab(cfg); err != nil {
		return fmt.Errorf("camera: start grab %v: %w", cfg.Grab, err)
	}
	return nil
}

// StopGrab halts frame delivery. Safe to call when not grabbing.
func (d *Device) StopGrab() error {
	return d.drv.StopGrab()
}

// NextFrame waits up to wait for the next frame. It intentionally does not
// take the option mutex; the driver is responsible for making frame reads
// safe against concurrent option traffic.
func (d *Device) NextFrame(wait time.Duration) (RawFrame, error) {
	return d.drv.NextFrame(wait)
}
