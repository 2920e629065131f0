package pipeline_test

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"iscpipe/camera"
	"iscpipe/camera/cameratest"
	"iscpipe/config"
	"iscpipe/dplerr"
	"iscpipe/frame"
	"iscpipe/pipeline"
	"iscpipe/record"
)

func testHost(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:          dir,
		ParamDir:         dir + "/parameters",
		WaitTime:         50 * time.Millisecond,
		RingSlots:        8,
		RecordQueueDepth: 64,
		JoinTimeout:      2 * time.Second,
	}
}

func newController(t *testing.T, model camera.Model, drv camera.Driver) *pipeline.Controller {
	t.Helper()
	ctl := pipeline.New()
	err := ctl.Initialize(pipeline.Options{
		Model:          model,
		Driver:         drv,
		Host:           testHost(t),
		EnableDataProc: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctl.Stop()
		if ctl.State() == pipeline.StateIdle {
			ctl.Terminate()
		}
	})
	return ctl
}

func simDriver(model camera.Model) *cameratest.SimDriver {
	drv := cameratest.New(model)
	drv.Interval = time.Millisecond
	return drv
}

// collectFrames polls the camera endpoint until n distinct frames arrive.
func collectFrames(t *testing.T, ctl *pipeline.Controller, set *frame.Set, n int) []uint64 {
	t.Helper()
	var numbers []uint64
	var last uint64
	deadline := time.Now().Add(5 * time.Second)
	for len(numbers) < n && time.Now().Before(deadline) {
		if err := ctl.GetCameraData(set); err != nil {
			time.Sleep(time.Millisecond)
			continue
		}
		if set.Latest.Number == last {
			time.Sleep(time.Millisecond)
			continue
		}
		last = set.Latest.Number
		numbers = append(numbers, last)
	}
	if len(numbers) < n {
		t.Fatalf("collected %d frames, want %d", len(numbers), n)
	}
	return numbers
}

func TestLifecycleStateMachine(t *testing.T) {
	ctl := pipeline.New()
	if err := ctl.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax}); !errors.Is(err, dplerr.ErrInvalidState) {
		t.Fatalf("start before initialize: err = %v", err)
	}
	if err := ctl.Terminate(); !errors.Is(err, dplerr.ErrInvalidState) {
		t.Fatalf("terminate before initialize: err = %v", err)
	}

	host := testHost(t)
	opts := pipeline.Options{Model: camera.ModelVM, Driver: simDriver(camera.ModelVM), Host: host, EnableDataProc: true}
	if err := ctl.Initialize(opts); err != nil {
		t.Fatal(err)
	}
	if err := ctl.Initialize(opts); !errors.Is(err, dplerr.ErrInvalidState) {
		t.Fatalf("double initialize: err = %v", err)
	}
	if ctl.State() != pipeline.StateIdle {
		t.Fatalf("state = %v", ctl.State())
	}
	// Stop with nothing running is a no-op.
	if err := ctl.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := ctl.Terminate(); err != nil {
		t.Fatal(err)
	}
	if ctl.State() != pipeline.StateTerminated {
		t.Fatalf("state = %v", ctl.State())
	}
}

func TestOpenCloseOpen(t *testing.T) {
	// Initialize → Terminate → Initialize again must leave no residue.
	ctl := pipeline.New()
	host := testHost(t)
	for i := 0; i < 2; i++ {
		drv := simDriver(camera.ModelXC)
		if err := ctl.Initialize(pipeline.Options{Model: camera.ModelXC, Driver: drv, Host: host, EnableDataProc: true}); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		var set frame.Set
		if err := ctl.GetCameraData(&set); !errors.Is(err, dplerr.ErrNotReady) {
			t.Fatalf("round %d: data before start: err = %v", i, err)
		}
		if err := ctl.Terminate(); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
}

func TestLiveCaptureStrictlyIncreasing(t *testing.T) {
	ctl := newController(t, camera.ModelVM, simDriver(camera.ModelVM))
	cfg := pipeline.PipelineConfig{
		Grab:         camera.GrabParallax,
		RawCapture:   true,
		FrameDecoder: true,
	}
	if err := ctl.Start(cfg); err != nil {
		t.Fatal(err)
	}
	if ctl.State() != pipeline.StateRunning {
		t.Fatalf("state = %v", ctl.State())
	}
	// Start while running must fail.
	if err := ctl.Start(cfg); !errors.Is(err, dplerr.ErrInvalidState) {
		t.Fatalf("second start: err = %v", err)
	}

	spec := ctl.Spec()
	set := frame.NewSet(camera.TableFor(camera.ModelVM))
	numbers := collectFrames(t, ctl, set, 10)
	for i := 1; i < len(numbers); i++ {
		if numbers[i] <= numbers[i-1] {
			t.Fatalf("frame order broken: %v", numbers)
		}
	}
	if set.Latest.P1.Width != spec.WidthMax {
		t.Fatalf("p1 width = %d, want %d", set.Latest.P1.Width, spec.WidthMax)
	}
	if set.Latest.Depth.Empty() {
		t.Fatal("decoded parallax frame has no depth plane")
	}

	if err := ctl.Stop(); err != nil {
		t.Fatal(err)
	}
	// Stop is idempotent.
	if err := ctl.Stop(); err != nil {
		t.Fatal(err)
	}
	if ctl.State() != pipeline.StateIdle {
		t.Fatalf("state after stop = %v", ctl.State())
	}
}

func TestIncompatibleConfigRejected(t *testing.T) {
	drv := simDriver(camera.ModelXC)
	ctl := newController(t, camera.ModelXC, drv)

	// Software stereo on a double-shutter session.
	if err := ctl.DeviceSetOption(camera.OptShutterMode, int(camera.ShutterDouble)); err != nil {
		t.Fatal(err)
	}
	err := ctl.Start(pipeline.PipelineConfig{Grab: camera.GrabCorrected, SWStereo: true, FrameDecoder: true})
	if !errors.Is(err, dplerr.ErrIncompatibleConfig) {
		t.Fatalf("err = %v, want ErrIncompatibleConfig", err)
	}
	if ctl.State() != pipeline.StateIdle {
		t.Fatalf("state = %v, want idle after rejected start", ctl.State())
	}

	tests := []pipeline.PipelineConfig{
		// Software stereo needs the corrected pair.
		{Grab: camera.GrabParallax, SWStereo: true},
		// Filter-only runs need parallax frames.
		{Grab: camera.GrabCorrected, DisparityFilter: true},
		// Color delivery cannot ride on before-correct.
		{Grab: camera.GrabBeforeCorrect, Color: camera.ColorOn},
		// Record and playback are mutually exclusive.
		{Grab: camera.GrabParallax, Record: true, Playback: true, PlaybackFile: "x.dat"},
		// Playback needs a file.
		{Grab: camera.GrabParallax, Playback: true},
	}
	if err := ctl.DeviceSetOption(camera.OptShutterMode, int(camera.ShutterSingle)); err != nil {
		t.Fatal(err)
	}
	for i, cfg := range tests {
		if err := ctl.Start(cfg); !errors.Is(err, dplerr.ErrIncompatibleConfig) {
			t.Errorf("case %d: err = %v, want ErrIncompatibleConfig", i, err)
		}
		if ctl.State() != pipeline.StateIdle {
			t.Fatalf("case %d left state %v", i, ctl.State())
		}
	}
}

func TestSoftwareStereoOnTexturedWall(t *testing.T) {
	drv := simDriver(camera.ModelXC)
	drv.SetSpec(camera.CameraSpec{
		BaseLength: 0.1,
		BF:         60,
		DInf:       2.0,
		WidthMax:   256,
		HeightMax:  64,
		Serial:     "SIM00002",
	})
	drv.WallDistance = 2.0
	ctl := newController(t, camera.ModelXC, drv)

	// Window 9, search range 64: the wall sits at disparity 32.
	params, err := ctl.GetDataProcModuleParameter("stereo_matching")
	if err != nil {
		t.Fatal(err)
	}
	for i := range params {
		switch params[i].Category + "/" + params[i].Name {
		case "matching/window":
			params[i].Value = 9
		case "matching/disparity_range":
			params[i].Value = 64
		}
	}
	if err := ctl.SetDataProcModuleParameter("stereo_matching", params, false); err != nil {
		t.Fatal(err)
	}

	cfg := pipeline.PipelineConfig{
		Grab:            camera.GrabCorrected,
		SWStereo:        true,
		DisparityFilter: true,
		FrameDecoder:    true,
	}
	if err := ctl.Start(cfg); err != nil {
		t.Fatal(err)
	}
	defer ctl.Stop()

	set := frame.NewSet(camera.TableFor(camera.ModelXC))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctl.GetDataProcModuleData(set); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if set.Latest.Depth.Empty() {
		t.Fatal("processor produced no disparity")
	}

	w, h := set.Latest.Depth.Width, set.Latest.Depth.Height
	nonZero := 0
	for _, v := range set.Latest.Depth.Buf {
		if v != 0 {
			nonZero++
		}
	}
	// The valid band excludes border and search range; within it the wall
	// should match nearly everywhere.
	if nonZero < w*h/4 {
		t.Fatalf("only %d/%d non-zero disparities", nonZero, w*h)
	}

	stats, err := ctl.GetAreaStatistics(pipeline.Rect{X0: 80, Y0: 10, X1: 200, Y1: 50}, set, frame.SlotLatest)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count == 0 {
		t.Fatal("no valid pixels in wall region")
	}
	if math.Abs(stats.MedianDistance-2.0) > 0.1 {
		t.Fatalf("median distance = %.3f m, want 2.0 ± 0.1", stats.MedianDistance)
	}
}

func TestQueriesAndBoundaries(t *testing.T) {
	drv := simDriver(camera.ModelVM)
	ctl := newController(t, camera.ModelVM, drv)
	if err := ctl.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax, RawCapture: true, FrameDecoder: true}); err != nil {
		t.Fatal(err)
	}
	defer ctl.Stop()

	set := frame.NewSet(camera.TableFor(camera.ModelVM))
	collectFrames(t, ctl, set, 2)

	spec := ctl.Spec()
	w, h := set.Latest.Depth.Width, set.Latest.Depth.Height
	if w == 0 || h == 0 {
		t.Fatal("no depth plane")
	}

	// Corners are valid query inputs.
	for _, pt := range [][2]int{{0, 0}, {w - 1, h - 1}} {
		if _, _, err := ctl.GetPositionDepth(pt[0], pt[1], set, frame.SlotLatest); err != nil &&
			!errors.Is(err, dplerr.ErrOutOfRange) {
			t.Fatalf("corner (%d,%d): unexpected err %v", pt[0], pt[1], err)
		}
	}
	// Outside the image is rejected.
	for _, pt := range [][2]int{{-1, 0}, {w, h}, {0, -1}, {w, 0}} {
		if _, _, err := ctl.GetPositionDepth(pt[0], pt[1], set, frame.SlotLatest); !errors.Is(err, dplerr.ErrOutOfRange) {
			t.Fatalf("(%d,%d): err = %v, want ErrOutOfRange", pt[0], pt[1], err)
		}
	}

	// The simulated wall: disparity bf/z + dinf, distance z.
	cx, cy := w/2, h/2
	disp, dist, err := ctl.GetPositionDepth(cx, cy, set, frame.SlotLatest)
	if err != nil {
		t.Fatal(err)
	}
	wantDisp := float64(spec.BF)/2.0 + float64(spec.DInf)
	if math.Abs(disp-wantDisp) > 1 {
		t.Fatalf("disparity = %.2f, want ~%.2f", disp, wantDisp)
	}
	if math.Abs(dist-2.0) > 0.1 {
		t.Fatalf("distance = %.3f, want ~2.0", dist)
	}

	X, Y, Z, err := ctl.GetPosition3D(cx, cy, set, frame.SlotLatest)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(Z-dist) > 1e-9 {
		t.Fatalf("Z = %v, distance = %v", Z, dist)
	}
	// The image centre projects close to the optical axis.
	f := float64(spec.FocalLength())
	if math.Abs(X) > Z/f || math.Abs(Y) > Z/f {
		t.Fatalf("centre projected to (%v,%v)", X, Y)
	}

	// A disparity at d_inf is no measurement, not infinity.
	set.Latest.Depth.Buf[cy*w+cx] = spec.DInf
	if _, _, err := ctl.GetPositionDepth(cx, cy, set, frame.SlotLatest); !errors.Is(err, dplerr.ErrOutOfRange) {
		t.Fatalf("d == d_inf: err = %v, want ErrOutOfRange", err)
	}

	// Area statistics over a known wall region.
	stats, err := ctl.GetAreaStatistics(pipeline.Rect{X0: 10, Y0: 10, X1: 30, Y1: 30}, set, frame.SlotLatest)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count == 0 || math.Abs(stats.MeanDistance-2.0) > 0.1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.MinZ > stats.MaxZ || stats.MinX > stats.MaxX {
		t.Fatalf("extent inverted: %+v", stats)
	}
	// Rectangle outside the image.
	if _, err := ctl.GetAreaStatistics(pipeline.Rect{X0: -1, Y0: 0, X1: 5, Y1: 5}, set, frame.SlotLatest); !errors.Is(err, dplerr.ErrOutOfRange) {
		t.Fatalf("bad rect: err = %v", err)
	}
}

func TestDoubleShutterMergedSlot(t *testing.T) {
	drv := simDriver(camera.ModelXC)
	ctl := newController(t, camera.ModelXC, drv)
	if err := ctl.DeviceSetOption(camera.OptShutterMode, int(camera.ShutterDouble)); err != nil {
		t.Fatal(err)
	}
	if err := ctl.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax, RawCapture: true, FrameDecoder: true}); err != nil {
		t.Fatal(err)
	}
	defer ctl.Stop()

	set := frame.NewSet(camera.TableFor(camera.ModelXC))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctl.GetCameraData(set); err == nil && set.Merged.Valid {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !set.Merged.Valid {
		t.Fatal("merged slot never populated under double shutter")
	}
	if !set.Previous.Valid {
		t.Fatal("previous slot empty under double shutter")
	}
	if set.Merged.P1.Empty() {
		t.Fatal("merged frame has no base image")
	}
	// The merged frame carries the long exposure's metadata.
	if set.Merged.Exposure < set.Previous.Exposure && set.Merged.Exposure < set.Latest.Exposure {
		t.Fatal("merged exposure is not the long exposure")
	}
}

func TestMergedSlotEmptyWithoutRaw(t *testing.T) {
	drv := simDriver(camera.ModelXC)
	ctl := newController(t, camera.ModelXC, drv)
	if err := ctl.DeviceSetOption(camera.OptShutterMode, int(camera.ShutterDouble)); err != nil {
		t.Fatal(err)
	}
	// No raw capture, no playback: invariant 2 keeps merged empty.
	if err := ctl.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax}); err != nil {
		t.Fatal(err)
	}
	defer ctl.Stop()

	set := frame.NewSet(camera.TableFor(camera.ModelXC))
	collectFrames(t, ctl, set, 5)
	if set.Merged.Valid {
		t.Fatal("merged slot populated without raw capture or playback")
	}
}

func TestRecordThenPlaybackRoundTrip(t *testing.T) {
	drv := simDriver(camera.ModelXC)
	host := testHost(t)
	ctl := pipeline.New()
	if err := ctl.Initialize(pipeline.Options{Model: camera.ModelXC, Driver: drv, Host: host, EnableDataProc: true}); err != nil {
		t.Fatal(err)
	}
	defer ctl.Terminate()

	cfg := pipeline.PipelineConfig{
		Grab:         camera.GrabParallax,
		Record:       true,
		FrameDecoder: true,
	}
	if err := ctl.Start(cfg); err != nil {
		t.Fatal(err)
	}

	type captured struct {
		p1, p2 []byte
		depth  []float32
	}
	live := make(map[uint64]captured)
	set := frame.NewSet(camera.TableFor(camera.ModelXC))
	var last uint64
	deadline := time.Now().Add(5 * time.Second)
	for len(live) < 10 && time.Now().Before(deadline) {
		if err := ctl.GetCameraData(set); err != nil || set.Latest.Number == last {
			time.Sleep(time.Millisecond)
			continue
		}
		last = set.Latest.Number
		live[last] = captured{
			p1:    append([]byte(nil), set.Latest.P1.Buf...),
			p2:    append([]byte(nil), set.Latest.P2.Buf...),
			depth: append([]float32(nil), set.Latest.Depth.Buf...),
		}
	}
	if err := ctl.Stop(); err != nil {
		t.Fatal(err)
	}

	st := ctl.Status()
	if st.Recorder == nil || st.Recorder.Frames == 0 {
		t.Fatal("nothing recorded")
	}
	path := st.Recorder.Path
	wantCRC := st.Recorder.PayloadCRC

	// File information without playback.
	hdr, info, err := ctl.GetFileInformation(path)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Model != camera.ModelXC || hdr.Grab != camera.GrabParallax {
		t.Fatalf("header = %+v", hdr)
	}
	spec, err := drv.Spec()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.BaseLength != spec.BaseLength || hdr.BF != spec.BF || hdr.DInf != spec.DInf {
		t.Fatalf("camera constants not preserved: %+v", hdr)
	}
	if uint64(info.TotalFrames) != st.Recorder.Frames {
		t.Fatalf("info frames = %d, recorder wrote %d", info.TotalFrames, st.Recorder.Frames)
	}
	if info.PayloadCRC != wantCRC {
		t.Fatalf("payload crc %04x, recorder %04x", info.PayloadCRC, wantCRC)
	}

	// Replay with the same shape minus record.
	if err := ctl.Start(pipeline.PipelineConfig{
		Playback:         true,
		PlaybackFile:     path,
		PlaybackInterval: time.Millisecond,
		FrameDecoder:     true,
	}); err != nil {
		t.Fatal(err)
	}
	defer ctl.Stop()

	matched := 0
	last = 0
	deadline = time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctl.GetCameraData(set); err != nil || set.Latest.Number == last {
			if ctl.Status().PlayStatus == record.ReadEnded {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		last = set.Latest.Number
		want, ok := live[last]
		if !ok {
			continue
		}
		if !bytes.Equal(want.p1, set.Latest.P1.Buf) || !bytes.Equal(want.p2, set.Latest.P2.Buf) {
			t.Fatalf("frame %d planes differ between live and playback", last)
		}
		for i := range want.depth {
			if want.depth[i] != set.Latest.Depth.Buf[i] {
				t.Fatalf("frame %d depth differs at %d", last, i)
			}
		}
		matched++
	}
	if matched == 0 {
		t.Fatal("playback matched no recorded frames")
	}
}

func TestParameterPersistence(t *testing.T) {
	host := testHost(t)
	drv := simDriver(camera.ModelVM)
	ctl := pipeline.New()
	if err := ctl.Initialize(pipeline.Options{Model: camera.ModelVM, Driver: drv, Host: host, EnableDataProc: true}); err != nil {
		t.Fatal(err)
	}

	params, err := ctl.GetDataProcModuleParameter("stereo_matching")
	if err != nil {
		t.Fatal(err)
	}
	for i := range params {
		if params[i].Name == "window" {
			params[i].Value = 4 // even: must be rejected at set time
		}
	}
	if err := ctl.SetDataProcModuleParameter("stereo_matching", params, false); !errors.Is(err, dplerr.ErrInvalidParameter) {
		t.Fatalf("even window: err = %v", err)
	}

	for i := range params {
		if params[i].Name == "window" {
			params[i].Value = 13
		}
	}
	if err := ctl.SetDataProcModuleParameter("stereo_matching", params, true); err != nil {
		t.Fatal(err)
	}
	if err := ctl.Terminate(); err != nil {
		t.Fatal(err)
	}

	// A fresh controller on the same host must load the persisted value.
	ctl2 := pipeline.New()
	if err := ctl2.Initialize(pipeline.Options{Model: camera.ModelVM, Driver: simDriver(camera.ModelVM), Host: host, EnableDataProc: true}); err != nil {
		t.Fatal(err)
	}
	defer ctl2.Terminate()
	params2, err := ctl2.GetDataProcModuleParameter("stereo_matching")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range params2 {
		if f.Name == "window" {
			found = true
			if f.Value != 13 {
				t.Fatalf("window = %v after reload, want 13", f.Value)
			}
		}
	}
	if !found {
		t.Fatal("window field missing")
	}

	if _, err := ctl2.GetDataProcModuleParameter("no_such_module"); !errors.Is(err, dplerr.ErrInvalidParameter) {
		t.Fatalf("unknown module: err = %v", err)
	}
}

func TestPlaybackOnlyController(t *testing.T) {
	// Record with a camera-backed controller first.
	drv := simDriver(camera.ModelVM)
	host := testHost(t)
	rec := pipeline.New()
	if err := rec.Initialize(pipeline.Options{Model: camera.ModelVM, Driver: drv, Host: host, EnableDataProc: true}); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax, Record: true}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := rec.Stop(); err != nil {
		t.Fatal(err)
	}
	path := rec.Status().Recorder.Path
	if err := rec.Terminate(); err != nil {
		t.Fatal(err)
	}

	// A driverless controller can replay but not grab.
	play := pipeline.New()
	if err := play.Initialize(pipeline.Options{Model: camera.ModelVM, Host: host, EnableDataProc: true}); err != nil {
		t.Fatal(err)
	}
	defer play.Terminate()

	if err := play.Start(pipeline.PipelineConfig{Grab: camera.GrabParallax}); !errors.Is(err, dplerr.ErrDeviceUnavailable) {
		t.Fatalf("live start without driver: err = %v", err)
	}
	if err := play.Start(pipeline.PipelineConfig{Playback: true, PlaybackFile: path, FrameDecoder: true}); err != nil {
		t.Fatal(err)
	}
	set := frame.NewSet(camera.TableFor(camera.ModelVM))
	collectFrames(t, play, set, 2)
	if err := play.Stop(); err != nil {
		t.Fatal(err)
	}
}
