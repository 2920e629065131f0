package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"iscpipe/camera"
	"iscpipe/dplerr"
	"iscpipe/frame"
)

// State is the capture worker lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "invalid"
}

// Tap receives a copy of every captured raw payload, in arrival order. It
// must not block; the recorder's ingress queue provides the bounding.
type Tap func(num uint64, ts time.Time, payload []byte)

// Session owns the single capture goroutine for one grab run.
type Session struct {
	dev  *camera.Device
	ring *Ring

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	done     chan struct{}
	tap      Tap
	ioErrors uint64

	joinTimeout time.Duration
}

// NewSession wires a device to a ring. The session starts Idle.
func NewSession(dev *camera.Device, ring *Ring) *Session {
	return &Session{
		dev:         dev,
		ring:        ring,
		joinTimeout: 2 * time.Second,
	}
}

// SetTap installs the recorder tap. Must be called before Start.
func (s *Session) SetTap(t Tap) {
	s.mu.Lock()
	s.tap = t
	s.mu.Unlock()
}

// SetJoinTimeout overrides the bound Stop waits for the worker to exit.
func (s *Session) SetJoinTimeout(d time.Duration) {
	s.mu.Lock()
	if d > 0 {
		s.joinTimeout = d
	}
	s.mu.Unlock()
}

// State returns the current worker state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IOErrors returns the count of transient driver errors absorbed so far.
func (s *Session) IOErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioErrors
}

// Start switches the device into the requested grab mode and launches the
// capture goroutine. It fails with ErrInvalidState if already running and
// returns once the worker is Running.
func (s *Session) Start(cfg camera.GrabConfig, wait time.Duration) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("capture: start in state %v: %w", s.state, dplerr.ErrInvalidState)
	}
	s.state = Starting
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.ioErrors = 0
	tap := s.tap
	s.mu.Unlock()

	if err := s.dev.StartGrab(cfg); err != nil {
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = Running
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.run(cfg, wait, tap, stop, done)
	return nil
}

// Stop requests the worker to exit and joins it with a bounded timeout.
// Idempotent; a second Stop on an idle session returns nil. A worker that
// misses the join deadline reports ErrThreadStuck and the session must not
// be reused.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	if s.state != Stopping {
		s.state = Stopping
		close(s.stop)
	}
	done := s.done
	timeout := s.joinTimeout
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("capture: worker missed stop deadline")
		return fmt.Errorf("capture: %w", dplerr.ErrThreadStuck)
	}

	err := s.dev.StopGrab()

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	return err
}

// run is the capture loop: wait for a frame, stamp it, push it into the
// ring and hand a copy to the tap. The stop flag is checked after every
// driver call, which is the loop's only suspension point.
func (s *Session) run(cfg camera.GrabConfig, wait time.Duration, tap Tap, stop, done chan struct{}) {
	defer close(done)

	var last uint64
	haveLast := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := s.dev.NextFrame(wait)
		if err != nil {
			if errors.Is(err, dplerr.ErrNotReady) {
				continue
			}
			s.mu.Lock()
			s.ioErrors++
			n := s.ioErrors
			s.mu.Unlock()
			if n == 1 {
				log.Println("capture: driver error (suppressing repeats):", err)
			}
			continue
		}
		if haveLast && raw.Number <= last {
			// Drivers can repeat a frame around mode switches; the
			// consumer contract is strictly increasing numbers.
			continue
		}
		last, haveLast = raw.Number, true
		ts := time.Now()

		s.ring.Push(func(d *frame.Data) {
			d.Number = raw.Number
			d.Timestamp = ts
			d.Gain = raw.Gain
			d.Exposure = raw.Exposure
			d.Grab = cfg.Grab
			d.Shutter = cfg.Shutter
			d.ColorMode = cfg.Color
			if len(raw.Base) > 0 {
				d.P1.Resize(raw.Width, raw.Height, 1)
				copy(d.P1.Buf, raw.Base)
			}
			if len(raw.Compare) > 0 {
				d.P2.Resize(raw.Width, raw.Height, 1)
				copy(d.P2.Buf, raw.Compare)
			}
			if cfg.RawCapture && len(raw.Raw) > 0 {
				d.Raw.Buf = d.Raw.Buf[:len(raw.Raw)]
				copy(d.Raw.Buf, raw.Raw)
				d.Raw.Width = raw.Width
				d.Raw.Height = raw.Height
				d.Raw.Channels = len(raw.Raw) / (raw.Width * raw.Height)
			}
		})

		if tap != nil && len(raw.Raw) > 0 {
			payload := make([]byte, len(raw.Raw))
			copy(payload, raw.Raw)
			tap(raw.Number, ts, payload)
		}
	}
}
