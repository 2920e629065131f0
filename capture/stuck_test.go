package capture_test

import (
	"errors"
	"testing"
	"time"

	"iscpipe/camera"
	"iscpipe/capture"
	"iscpipe/dplerr"
)

// stuckDriver ignores the wait bound and blocks forever in NextFrame,
// modelling a wedged vendor driver.
type stuckDriver struct {
	block   chan struct{}
	entered chan struct{}
}

func (d *stuckDriver) Open() error                          { return nil }
func (d *stuckDriver) Close() error                         { return nil }
func (d *stuckDriver) StartGrab(camera.GrabConfig) error    { return nil }
func (d *stuckDriver) StopGrab() error                      { return nil }
func (d *stuckDriver) GetOption(camera.Option) (int, error) { return 0, nil }
func (d *stuckDriver) SetOption(camera.Option, int) error   { return nil }
func (d *stuckDriver) Spec() (camera.CameraSpec, error) {
	return camera.CameraSpec{WidthMax: 8, HeightMax: 8}, nil
}

func (d *stuckDriver) NextFrame(wait time.Duration) (camera.RawFrame, error) {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.block
	return camera.RawFrame{}, dplerr.FromDriverCode(-3)
}

func TestStopReportsStuckWorker(t *testing.T) {
	drv := &stuckDriver{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	defer close(drv.block)

	dev, err := camera.Bind(camera.ModelVM, drv)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	ring := capture.NewRing(4, camera.TableFor(camera.ModelVM))
	s := capture.NewSession(dev, ring)
	s.SetJoinTimeout(50 * time.Millisecond)

	if err := s.Start(camera.GrabConfig{Grab: camera.GrabParallax}, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	<-drv.entered // the worker is now wedged inside the driver call
	if err := s.Stop(); !errors.Is(err, dplerr.ErrThreadStuck) {
		t.Fatalf("stop of wedged worker: err = %v, want ErrThreadStuck", err)
	}
}
