// Package camera presents a uniform capability and option surface over the
// per-model stereo camera drivers (VM, XC and the 4K family). The vendor
// driver itself stays behind the Driver interface; everything above it sees
// only Options, CameraSpec and frames.
package camera

import (
	"time"
)

// Model identifies a camera family.
type Model int

const (
	ModelUnknown Model = iota
	ModelVM
	ModelXC
	ModelK4
	ModelK4A
	ModelK4J
)

var modelNames = map[Model]string{
	ModelUnknown: "unknown",
	ModelVM:      "VM",
	ModelXC:      "XC",
	ModelK4:      "4K",
	ModelK4A:     "4KA",
	ModelK4J:     "4KJ",
}

func (m Model) String() string {
	if s, ok := modelNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseModel maps a model name as it appears in configuration files.
func ParseModel(s string) Model {
	for m, n := range modelNames {
		if n == s {
			return m
		}
	}
	return ModelUnknown
}

// GrabMode is the raw output mode of the camera.
type GrabMode int

const (
	// GrabParallax delivers the rectified base image plus the FPGA
	// disparity stream.
	GrabParallax GrabMode = iota + 1
	// GrabCorrected delivers the rectified stereo pair.
	GrabCorrected
	// GrabBeforeCorrect delivers the unrectified pair.
	GrabBeforeCorrect
	// GrabBayerS0 and GrabBayerS1 deliver the raw Bayer sensor outputs.
	GrabBayerS0
	GrabBayerS1
)

func (g GrabMode) String() string {
	switch g {
	case GrabParallax:
		return "parallax"
	case GrabCorrected:
		return "corrected"
	case GrabBeforeCorrect:
		return "before-correct"
	case GrabBayerS0:
		return "bayer-s0"
	case GrabBayerS1:
		return "bayer-s1"
	}
	return "invalid"
}

// ColorMode selects whether the color plane is delivered.
type ColorMode int

const (
	ColorOff ColorMode = iota
	ColorOn
)

func (c ColorMode) String() string {
	if c == ColorOn {
		return "on"
	}
	return "off"
}

// ShutterMode is the exposure control mode.
type ShutterMode int

const (
	ShutterManual ShutterMode = iota
	ShutterSingle
	ShutterDouble
	ShutterDouble2
	ShutterSystemDefault
)

func (s ShutterMode) String() string {
	switch s {
	case ShutterManual:
		return "manual"
	case ShutterSingle:
		return "single"
	case ShutterDouble:
		return "double"
	case ShutterDouble2:
		return "double2"
	case ShutterSystemDefault:
		return "system-default"
	}
	return "invalid"
}

// Option is a stable identifier for a camera option. The set is closed.
type Option int

const (
	OptGain Option = iota
	OptExposure
	OptFineExposure
	OptNoiseFilter
	OptShutterMode
	OptHDRMode
	OptHiResolutionMode
	OptAutoCalibration
	OptManualCalibrationTrigger
	OptSelfCalibration
	OptColorImage
	OptColorImageCorrect
	OptExtendedMatching
	OptSADSearchRange128

	optionCount
)

var optionNames = [optionCount]string{
	"gain",
	"exposure",
	"fine_exposure",
	"noise_filter",
	"shutter_mode",
	"hdr_mode",
	"hi_resolution_mode",
	"auto_calibration",
	"manual_calibration_trigger",
	"self_calibration",
	"color_image",
	"color_image_correct",
	"extended_matching",
	"sad_search_range_128",
}

func (o Option) String() string {
	if o >= 0 && int(o) < len(optionNames) {
		return optionNames[o]
	}
	return "invalid"
}

// Domain describes an option's value domain.
type Domain int

const (
	DomainBool Domain = iota
	DomainInt
	// DomainEnum values are ShutterMode constants for OptShutterMode and
	// calibration command values for OptAutoCalibration.
	DomainEnum
)

// Auto calibration command values, per the vendor SDK.
const (
	AutoCalibOff    = 0
	AutoCalibAuto   = 1
	AutoCalibManual = 2
)

// CameraSpec holds the per-session constants read from the camera head once
// at open. All fields are immutable for the life of the session.
type CameraSpec struct {
	Model       Model
	BaseLength  float32 // b, metres
	BF          float32 // focal length x base length, pixel-metres
	DInf        float32 // disparity reported at infinity
	WidthMax    int
	HeightMax   int
	Serial      string
	FPGAVersion string
}

// FocalLength returns f = bf/b in pixels, the value used for lateral 3D
// projection. Zero base length yields zero.
func (s CameraSpec) FocalLength() float32 {
	if s.BaseLength == 0 {
		return 0
	}
	return s.BF / s.BaseLength
}

// GrabConfig is handed to the driver when grabbing starts.
type GrabConfig struct {
	Grab       GrabMode
	Color      ColorMode
	Shutter    ShutterMode
	RawCapture bool
}

// RawFrame is one frame as delivered by the driver: the interleaved vendor
// byte stream plus acquisition metadata. Buffers belong to the caller and
// are valid until the next NextFrame call on the same driver.
type RawFrame struct {
	Number   uint64
	Base     []byte
	Compare  []byte
	Raw      []byte
	Width    int
	Height   int
	Gain     int
	Exposure int
}

// Driver is the boundary to the vendor SDK binding for one camera model.
// Implementations return errors already mapped through
// dplerr.FromDriverCode.
type Driver interface {
	Open() error
	Close() error

	StartGrab(cfg GrabConfig) error
	StopGrab() error

	// NextFrame blocks until a frame arrives or wait elapses. A timeout is
	// reported as dplerr.ErrNotReady.
	NextFrame(wait time.Duration) (RawFrame, error)

	GetOption(opt Option) (int, error)
	SetOption(opt Option, value int) error

	Spec() (CameraSpec, error)
}
