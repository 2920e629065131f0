// Package pipeline is the data pipeline controller: it owns the camera
// session lifecycle, runs the capture/decode/match/filter stages on their
// workers, reconciles the camera and processor streams into two
// latest-wins endpoints, and answers point and area queries against the
// results.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"iscpipe/camera"
	"iscpipe/capture"
	"iscpipe/config"
	"iscpipe/decode"
	"iscpipe/dplerr"
	"iscpipe/filter"
	"iscpipe/frame"
	"iscpipe/matcher"
	"iscpipe/param"
	"iscpipe/record"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	}
	return "invalid"
}

// Options configures Initialize.
type Options struct {
	Model camera.Model
	// Driver is the vendor driver binding. Nil builds a playback-only
	// controller that can replay files for this model but not grab.
	Driver camera.Driver
	// Host carries directories and timing bounds; nil loads defaults.
	Host *config.Config
	// EnableDataProc constructs the matcher and filter modules. Without
	// it the processor endpoints report NotReady and module parameter
	// calls fail.
	EnableDataProc bool
}

// Status is a point-in-time snapshot for status polls.
type Status struct {
	State            State
	DroppedFrames    uint64
	DecodeMismatches uint64
	CaptureIOErrors  uint64
	Recorder         *record.WriterStatus
	PlayStatus       record.ReadStatus
	PlayPosition     int
	PlayTotal        int
	// PlaybackEnded is set once the player hit EOF and the ring drained;
	// the pipeline is paused and the caller should Stop the session.
	PlaybackEnded bool
}

// Controller is the public entry point consumed by applications. All
// methods are safe for concurrent use; state misuse fails with
// ErrInvalidState rather than blocking.
type Controller struct {
	mu    sync.Mutex
	state State
	fatal error

	host       *config.Config
	model      camera.Model
	dev        *camera.Device
	table      *camera.ModelTable
	enableProc bool

	match       *matcher.Matcher
	filt        *filter.Filter
	matchParams *param.Set
	filtParams  *param.Set

	// Per-run state, valid between Start and Stop.
	runCfg   PipelineConfig
	spec     camera.CameraSpec
	runTable *camera.ModelTable
	shutter  camera.ShutterMode

	ring    *capture.Ring
	session *capture.Session
	player  *record.Player
	writer  *record.Writer

	camCell  *cell
	procCell *cell
	procIn   *pairCell

	cur, prev, merged *frame.Data
	emptyFrame        *frame.Data
	procFrame         *frame.Data

	stop          chan struct{}
	consumerDone  chan struct{}
	procDone      chan struct{}
	playbackEnded bool

	decodeMismatches uint64
}

// New returns an uninitialized controller.
func New() *Controller {
	return &Controller{state: StateUninitialized}
}

// Initialize binds the driver for the selected model and constructs the
// processing modules. Valid from Uninitialized or Terminated; a second
// Initialize without Terminate fails with ErrInvalidState.
func (c *Controller) Initialize(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized && c.state != StateTerminated {
		return fmt.Errorf("pipeline: initialize in state %v: %w", c.state, dplerr.ErrInvalidState)
	}

	host := opts.Host
	if host == nil {
		host = config.Load()
	}
	table := camera.TableFor(opts.Model)
	if table == nil {
		return fmt.Errorf("pipeline: model %v: %w", opts.Model, dplerr.ErrDeviceUnavailable)
	}

	var dev *camera.Device
	if opts.Driver != nil {
		d, err := camera.Bind(opts.Model, opts.Driver)
		if err != nil {
			return err
		}
		dev = d
	}

	c.host = host
	c.model = opts.Model
	c.dev = dev
	c.table = table
	c.enableProc = opts.EnableDataProc
	c.fatal = nil
	c.playbackEnded = false
	c.decodeMismatches = 0

	if opts.EnableDataProc {
		c.match = matcher.New()
		c.filt = filter.New()
		c.matchParams = param.NewSet(matcherModule, matcherDefaults())
		c.filtParams = param.NewSet(filterModule, filterDefaults())
		if err := c.matchParams.Load(c.paramPath(matcherModule)); err != nil {
			log.Println("pipeline:", err)
		}
		if err := c.filtParams.Load(c.paramPath(filterModule)); err != nil {
			log.Println("pipeline:", err)
		}
		// A parameter file with out-of-domain values must not leave a
		// half-built controller behind.
		if err := c.applyMatcherParams(); err != nil {
			c.unwindInitLocked()
			return err
		}
		if err := c.applyFilterParams(); err != nil {
			c.unwindInitLocked()
			return err
		}
	}

	c.state = StateIdle
	return nil
}

// unwindInitLocked rolls a failed Initialize back to a clean slate.
func (c *Controller) unwindInitLocked() {
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
	c.match, c.filt = nil, nil
	c.matchParams, c.filtParams = nil, nil
}

// Terminate tears components down in reverse dependency order and
// releases all buffers. Requires Idle.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("pipeline: terminate in state %v: %w", c.state, dplerr.ErrInvalidState)
	}

	c.match, c.filt = nil, nil
	c.matchParams, c.filtParams = nil, nil
	c.releaseRunLocked()
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			log.Println("pipeline: close device:", err)
		}
		c.dev = nil
	}
	c.table = nil
	c.state = StateTerminated
	return nil
}

// releaseRunLocked drops every per-run allocation.
func (c *Controller) releaseRunLocked() {
	c.ring = nil
	c.session = nil
	c.player = nil
	c.writer = nil
	c.camCell, c.procCell, c.procIn = nil, nil, nil
	c.cur, c.prev, c.merged, c.emptyFrame, c.procFrame = nil, nil, nil, nil, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Spec returns the camera constants for the current or last run. Before
// any Start it reflects the bound device, when present.
func (c *Controller) Spec() camera.CameraSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec.WidthMax != 0 {
		return c.spec
	}
	if c.dev != nil {
		return c.dev.Spec()
	}
	return camera.CameraSpec{Model: c.model}
}

// Start validates cfg against the compatibility matrix, allocates the
// per-run buffers, and launches the worker set: the player or capture
// worker, plus the processor worker when a processing module is enabled.
// It returns with the workers running.
func (c *Controller) Start(cfg PipelineConfig) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: start in state %v: %w", c.state, dplerr.ErrInvalidState)
	}
	if c.fatal != nil {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: controller poisoned by earlier failure: %w", dplerr.ErrInvalidState)
	}
	if cfg.processorEnabled() && !c.enableProc {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: data processing modules not constructed: %w", dplerr.ErrIncompatibleConfig)
	}
	c.state = StateStarting
	c.mu.Unlock()

	err := c.startRun(cfg)

	c.mu.Lock()
	if err != nil {
		c.releaseRunLocked()
		c.state = StateIdle
	} else {
		c.state = StateRunning
	}
	c.mu.Unlock()
	return err
}

// startRun performs the Start body. The controller sits in StateStarting,
// which excludes every other mutating entry point.
func (c *Controller) startRun(cfg PipelineConfig) error {
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = c.host.WaitTime
	}
	// Recording persists the raw stream, so raw delivery rides along.
	if cfg.Record {
		cfg.RawCapture = true
	}
	// The playback shape checks cannot wait for the full matrix: they
	// gate whether a file is opened at all.
	if cfg.Playback {
		if cfg.Record {
			return fmt.Errorf("pipeline: record during playback: %w", dplerr.ErrIncompatibleConfig)
		}
		if cfg.PlaybackFile == "" {
			return fmt.Errorf("pipeline: playback without a file: %w", dplerr.ErrIncompatibleConfig)
		}
	}

	var (
		player  *record.Player
		shutter camera.ShutterMode
		spec    camera.CameraSpec
		table   = c.table
	)
	if cfg.Playback {
		p, err := record.OpenPlayer(cfg.PlaybackFile)
		if err != nil {
			return err
		}
		hdr := p.Header()
		if t := camera.TableFor(hdr.Model); t != nil {
			table = t
		}
		spec = hdr.Spec()
		shutter = hdr.Shutter
		cfg.Grab = hdr.Grab
		cfg.Color = hdr.Color
		cfg.RawCapture = true
		player = p
	} else {
		if c.dev == nil {
			return fmt.Errorf("pipeline: no camera bound: %w", dplerr.ErrDeviceUnavailable)
		}
		spec = c.dev.Spec()
		shutter = camera.ShutterManual
		if c.dev.IsReadable(camera.OptShutterMode) {
			if v, err := c.dev.Get(camera.OptShutterMode); err == nil {
				shutter = camera.ShutterMode(v)
			}
		}
	}

	if err := validate(cfg, shutter); err != nil {
		return err
	}

	ring := capture.NewRing(c.host.RingSlots, table)
	camCell := newCell(table)
	procCell := newCell(table)
	procIn := newPairCell(table)

	var writer *record.Writer
	var session *capture.Session
	if cfg.Playback {
		if err := player.Start(ring, cfg.PlaybackInterval); err != nil {
			return err
		}
	} else {
		if cfg.Record {
			w, err := record.NewWriter(record.WriterConfig{
				Dir:         c.host.DataDir,
				MinInterval: c.host.RecordMinInterval,
				QueueDepth:  c.host.RecordQueueDepth,
			}, record.Header{
				Version:    record.Version,
				Model:      spec.Model,
				Grab:       cfg.Grab,
				Color:      cfg.Color,
				Shutter:    shutter,
				BaseLength: spec.BaseLength,
				BF:         spec.BF,
				DInf:       spec.DInf,
				Width:      spec.WidthMax,
				Height:     spec.HeightMax,
				IntervalMS: uint32(cfg.WaitTime / time.Millisecond),
				StartUTC:   time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			writer = w
		}
		session = capture.NewSession(c.dev, ring)
		if writer != nil {
			session.SetTap(writer.Enqueue)
		}
		if err := session.Start(camera.GrabConfig{
			Grab:       cfg.Grab,
			Color:      cfg.Color,
			Shutter:    shutter,
			RawCapture: cfg.RawCapture,
		}, cfg.WaitTime); err != nil {
			if writer != nil {
				_ = writer.Close()
			}
			return err
		}
	}

	c.mu.Lock()
	c.runCfg = cfg
	c.spec = spec
	c.runTable = table
	c.shutter = shutter
	c.ring = ring
	c.session = session
	c.player = player
	c.writer = writer
	c.camCell = camCell
	c.procCell = procCell
	c.procIn = procIn
	c.cur = frame.NewData(table)
	c.prev = frame.NewData(table)
	c.merged = frame.NewData(table)
	c.emptyFrame = frame.NewData(table)
	c.procFrame = frame.NewData(table)
	c.playbackEnded = false
	c.decodeMismatches = 0
	c.stop = make(chan struct{})
	c.consumerDone = make(chan struct{})
	stop, consumerDone := c.stop, c.consumerDone
	var procDone chan struct{}
	if cfg.processorEnabled() {
		procDone = make(chan struct{})
	}
	c.procDone = procDone
	c.mu.Unlock()

	go c.consumerLoop(cfg, stop, consumerDone)
	if procDone != nil {
		go c.processorLoop(cfg, stop, procDone)
	}
	return nil
}

// Stop requests every worker to exit and joins them with the configured
// bound. Idempotent: Stop on an idle controller is a no-op. A worker that
// misses its deadline surfaces ErrThreadStuck and poisons the controller.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
	case StateIdle, StateUninitialized, StateTerminated:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return fmt.Errorf("pipeline: stop in transition: %w", dplerr.ErrInvalidState)
	}
	c.state = StateStopping
	close(c.stop)
	session, player, writer := c.session, c.player, c.writer
	consumerDone, procDone := c.consumerDone, c.procDone
	timeout := c.host.JoinTimeout
	c.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if session != nil {
		keep(session.Stop())
	}
	if player != nil {
		keep(player.Stop())
	}
	keep(joinWorker(consumerDone, timeout, "consumer"))
	if procDone != nil {
		keep(joinWorker(procDone, timeout, "processor"))
	}
	if writer != nil {
		keep(writer.Close())
	}

	c.mu.Lock()
	c.state = StateIdle
	if firstErr != nil && errors.Is(firstErr, dplerr.ErrThreadStuck) {
		c.fatal = firstErr
	}
	c.mu.Unlock()
	return firstErr
}

func joinWorker(done chan struct{}, timeout time.Duration, name string) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		log.Printf("pipeline: %s worker missed stop deadline", name)
		return fmt.Errorf("pipeline: %s: %w", name, dplerr.ErrThreadStuck)
	}
}

// GetCameraData copies the latest capture-side FrameSet into dst without
// blocking. NotReady until the first frame lands.
func (c *Controller) GetCameraData(dst *frame.Set) error {
	c.mu.Lock()
	cell := c.camCell
	c.mu.Unlock()
	if cell == nil {
		return fmt.Errorf("pipeline: no session: %w", dplerr.ErrNotReady)
	}
	if !cell.take(dst) {
		return dplerr.ErrNotReady
	}
	return nil
}

// GetDataProcModuleData copies the latest processor-side FrameSet into
// dst without blocking. NotReady when the processor is disabled or has
// not produced yet.
func (c *Controller) GetDataProcModuleData(dst *frame.Set) error {
	c.mu.Lock()
	cell := c.procCell
	enabled := c.runCfg.processorEnabled()
	c.mu.Unlock()
	if cell == nil || !enabled {
		return fmt.Errorf("pipeline: processor not running: %w", dplerr.ErrNotReady)
	}
	if !cell.take(dst) {
		return dplerr.ErrNotReady
	}
	return nil
}

// Status reports counters and worker states for status polls.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:            c.state,
		DecodeMismatches: c.decodeMismatches,
	}
	if c.ring != nil {
		st.DroppedFrames = c.ring.Dropped()
	}
	if c.session != nil {
		st.CaptureIOErrors = c.session.IOErrors()
	}
	if c.writer != nil {
		ws := c.writer.Status()
		st.Recorder = &ws
	}
	if c.player != nil {
		st.PlayStatus = c.player.Status()
		st.PlayPosition = c.player.Position()
		st.PlayTotal = c.player.TotalFrames()
		st.PlaybackEnded = c.playbackEnded
	}
	return st
}

// DeviceGetOption delegates to the device abstraction.
func (c *Controller) DeviceGetOption(opt camera.Option) (int, error) {
	dev, err := c.deviceForOptions()
	if err != nil {
		return 0, err
	}
	return dev.Get(opt)
}

// DeviceSetOption delegates to the device abstraction. Disallowed while a
// Start or Stop transition is in flight.
func (c *Controller) DeviceSetOption(opt camera.Option, value int) error {
	dev, err := c.deviceForOptions()
	if err != nil {
		return err
	}
	return dev.Set(opt, value)
}

// Device exposes the bound device for capability inspection. Nil on a
// playback-only controller.
func (c *Controller) Device() *camera.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

func (c *Controller) deviceForOptions() (*camera.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateStarting, StateStopping, StateUninitialized, StateTerminated:
		return nil, fmt.Errorf("pipeline: option access in state %v: %w", c.state, dplerr.ErrInvalidState)
	}
	if c.dev == nil {
		return nil, fmt.Errorf("pipeline: no camera bound: %w", dplerr.ErrDeviceUnavailable)
	}
	return c.dev, nil
}

// GetFileInformation reads a raw file's header and record summary without
// starting playback.
func (c *Controller) GetFileInformation(path string) (record.Header, record.FileInfo, error) {
	return record.ReadInfo(path)
}

// SetReadFrameNumber seeks active playback to the record with frame
// number >= n.
func (c *Controller) SetReadFrameNumber(n uint64) error {
	c.mu.Lock()
	player := c.player
	c.mu.Unlock()
	if player == nil {
		return fmt.Errorf("pipeline: no playback active: %w", dplerr.ErrInvalidState)
	}
	return player.SetReadFrameNumber(n)
}

// consumerLoop drains the capture ring: decode, double-shutter bookkeeping
// and camera-endpoint publication, then hands the decoded frame to the
// processor. It owns cur/prev/merged exclusively.
func (c *Controller) consumerLoop(cfg PipelineConfig, stop, done chan struct{}) {
	defer close(done)

	doubleShutter := c.shutter == camera.ShutterDouble || c.shutter == camera.ShutterDouble2
	mergeEligible := doubleShutter && (cfg.RawCapture || cfg.Playback)
	decodeEnabled := cfg.FrameDecoder || cfg.Playback

	for {
		select {
		case <-stop:
			return
		default:
		}
		if !c.ring.Wait(50 * time.Millisecond) {
			if c.player != nil && c.player.Status() == record.ReadEnded && c.ring.Len() == 0 {
				c.mu.Lock()
				c.playbackEnded = true
				c.mu.Unlock()
			}
			continue
		}

		for {
			select {
			case <-stop:
				return
			default:
			}
			c.cur.Reset()
			if !c.ring.Pop(c.cur) {
				break
			}
			c.cur.Valid = true

			if decodeEnabled && !c.cur.Raw.Empty() {
				if err := decode.Decode(c.cur, c.runTable); err != nil {
					c.mu.Lock()
					c.decodeMismatches++
					n := c.decodeMismatches
					c.mu.Unlock()
					if n == 1 {
						log.Println("pipeline:", err)
					}
					continue
				}
			}

			c.merged.Reset()
			if mergeEligible && c.prev.Valid && c.filt != nil {
				c.filt.MergeDouble(c.cur, c.prev, c.merged)
			}

			set := frame.Set{Latest: c.cur, Previous: c.emptyFrame, Merged: c.merged}
			if doubleShutter {
				set.Previous = c.prev
			}
			c.camCell.publish(&set)

			if cfg.processorEnabled() {
				c.procIn.offer(c.cur)
			}

			// The popped frame becomes the previous exposure.
			c.cur, c.prev = c.prev, c.cur
		}
	}
}

// processorLoop waits on the processor input slot, runs the matcher and
// the disparity filter, and publishes the processor endpoint. Output
// order equals input order; the loop is strictly single-frame.
func (c *Controller) processorLoop(cfg PipelineConfig, stop, done chan struct{}) {
	defer close(done)

	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-c.procIn.ready:
		}

		for c.procIn.take(c.procFrame) {
			pf := c.procFrame
			if cfg.SWStereo {
				if pf.P1.Empty() || pf.P2.Empty() {
					continue
				}
				w, h := pf.P1.Width, pf.P1.Height
				pf.Depth.Resize(w, h)
				if !c.match.Compute(pf.P1.Buf, pf.P2.Buf, w, h, pf.Depth.Buf, stopped) {
					return // cancelled mid-frame
				}
			}
			if cfg.DisparityFilter && !pf.Depth.Empty() {
				c.filt.Apply(pf.Depth.Buf, pf.Depth.Width, pf.Depth.Height)
			}
			set := frame.Set{Latest: pf, Previous: c.emptyFrame, Merged: c.emptyFrame}
			c.procCell.publish(&set)
			if stopped() {
				return
			}
		}
	}
}

func (c *Controller) paramPath(module string) string {
	return filepath.Join(c.host.ParamDir, module+".ini")
}
