package pipeline

import (
	"fmt"
	"time"

	"iscpipe/camera"
	"iscpipe/dplerr"
)

// PipelineConfig is the pipeline shape selected for one Start. It is
// captured by value when Start returns and treated as immutable by every
// worker for the rest of the run.
type PipelineConfig struct {
	Grab       camera.GrabMode
	Color      camera.ColorMode
	RawCapture bool

	Record   bool
	Playback bool
	// PlaybackFile is the raw file replayed when Playback is set.
	PlaybackFile string
	// PlaybackInterval overrides the file's pacing hint when positive.
	PlaybackInterval time.Duration

	SWStereo        bool
	FrameDecoder    bool
	DisparityFilter bool

	// WaitTime bounds each driver frame wait; zero uses the host default.
	WaitTime time.Duration
}

// processorEnabled reports whether the run needs the processor worker.
func (c PipelineConfig) processorEnabled() bool {
	return c.SWStereo || c.DisparityFilter
}

// validate enforces the pipeline-config compatibility matrix against the
// shutter mode in effect for the session.
func validate(c PipelineConfig, shutter camera.ShutterMode) error {
	switch c.Grab {
	case camera.GrabParallax, camera.GrabCorrected, camera.GrabBeforeCorrect,
		camera.GrabBayerS0, camera.GrabBayerS1:
	default:
		return fmt.Errorf("pipeline: grab mode %d: %w", int(c.Grab), dplerr.ErrIncompatibleConfig)
	}
	if c.SWStereo {
		if c.Grab != camera.GrabCorrected {
			return fmt.Errorf("pipeline: software stereo needs corrected pair, got %v: %w", c.Grab, dplerr.ErrIncompatibleConfig)
		}
		if shutter == camera.ShutterDouble || shutter == camera.ShutterDouble2 {
			return fmt.Errorf("pipeline: software stereo with %v shutter: %w", shutter, dplerr.ErrIncompatibleConfig)
		}
	}
	if c.DisparityFilter && !c.SWStereo && c.Grab != camera.GrabParallax {
		return fmt.Errorf("pipeline: disparity filter needs parallax frames, got %v: %w", c.Grab, dplerr.ErrIncompatibleConfig)
	}
	if c.Color == camera.ColorOn && c.Grab == camera.GrabBeforeCorrect {
		return fmt.Errorf("pipeline: color delivery in before-correct mode: %w", dplerr.ErrIncompatibleConfig)
	}
	if c.Record && c.Playback {
		return fmt.Errorf("pipeline: record during playback: %w", dplerr.ErrIncompatibleConfig)
	}
	if c.Playback && c.PlaybackFile == "" {
		return fmt.Errorf("pipeline: playback without a file: %w", dplerr.ErrIncompatibleConfig)
	}
	return nil
}
