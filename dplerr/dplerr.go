// Package dplerr defines the error taxonomy shared by every stage of the
// data pipeline, the public int32 codes exposed to applications, and the
// mapping from vendor driver codes.
package dplerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind. Stages wrap these with context via
// fmt.Errorf("...: %w", ...); callers test with errors.Is.
var (
	ErrDeviceUnavailable      = errors.New("device unavailable")
	ErrDeviceIO               = errors.New("device i/o error")
	ErrInvalidOption          = errors.New("invalid option")
	ErrNotWritable            = errors.New("option not writable")
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrInvalidState           = errors.New("invalid state")
	ErrIncompatibleConfig     = errors.New("incompatible pipeline configuration")
	ErrDecodeMismatch         = errors.New("raw buffer size does not match declared dimensions")
	ErrRecorderBackpressure   = errors.New("recorder cannot keep up")
	ErrUnsupportedFileVersion = errors.New("unsupported raw file version")
	ErrNotReady               = errors.New("no data available yet")
	ErrOutOfRange             = errors.New("out of range")
	ErrThreadStuck            = errors.New("worker did not stop within timeout")
)

// Public API codes. 0 is success; all failures are negative.
const (
	CodeOK                     int32 = 0
	CodeDeviceUnavailable      int32 = -1
	CodeDeviceIO               int32 = -2
	CodeInvalidOption          int32 = -3
	CodeNotWritable            int32 = -4
	CodeInvalidParameter       int32 = -5
	CodeInvalidState           int32 = -6
	CodeIncompatibleConfig     int32 = -7
	CodeDecodeMismatch         int32 = -8
	CodeRecorderBackpressure   int32 = -9
	CodeUnsupportedFileVersion int32 = -10
	CodeNotReady               int32 = -11
	CodeOutOfRange             int32 = -12
	CodeThreadStuck            int32 = -13
	CodeUnknown                int32 = -99
)

var codes = []struct {
	err  error
	code int32
}{
	{ErrDeviceUnavailable, CodeDeviceUnavailable},
	{ErrDeviceIO, CodeDeviceIO},
	{ErrInvalidOption, CodeInvalidOption},
	{ErrNotWritable, CodeNotWritable},
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrInvalidState, CodeInvalidState},
	{ErrIncompatibleConfig, CodeIncompatibleConfig},
	{ErrDecodeMismatch, CodeDecodeMismatch},
	{ErrRecorderBackpressure, CodeRecorderBackpressure},
	{ErrUnsupportedFileVersion, CodeUnsupportedFileVersion},
	{ErrNotReady, CodeNotReady},
	{ErrOutOfRange, CodeOutOfRange},
	{ErrThreadStuck, CodeThreadStuck},
}

// Code maps any error chain to its public int32 code. nil maps to CodeOK;
// an error outside the taxonomy maps to CodeUnknown.
func Code(err error) int32 {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Driver error codes, as documented by the vendor SDK headers. Only the
// codes the capture path can actually observe are mapped; everything else
// collapses to a generic device i/o failure.
const (
	driverOK              = 0
	driverErrReadData     = -1
	driverErrWriteData    = -2
	driverErrWaitTimeout  = -3
	driverErrUSBOpen      = -5
	driverErrCameraConfig = -7
	driverErrGrabMode     = -12
	driverErrGetImage     = -16
	driverErrInvalidValue = -17
	driverErrNoCapture    = -18
	driverErrNotAccepted  = -20
	driverErrUSB          = -100
	driverErrUSBOpenBusy  = -101
	driverErrUSBNoImage   = -102
)

// FromDriverCode maps a vendor driver return code onto the taxonomy.
// Timeout and no-image are reported as ErrNotReady so the capture loop can
// poll again rather than tearing the session down.
func FromDriverCode(code int) error {
	switch code {
	case driverOK:
		return nil
	case driverErrWaitTimeout, driverErrUSBNoImage:
		return fmt.Errorf("driver code %d: %w", code, ErrNotReady)
	case driverErrUSBOpen, driverErrUSBOpenBusy:
		return fmt.Errorf("driver code %d: %w", code, ErrDeviceUnavailable)
	case driverErrInvalidValue, driverErrGrabMode, driverErrNotAccepted:
		return fmt.Errorf("driver code %d: %w", code, ErrInvalidOption)
	case driverErrNoCapture:
		return fmt.Errorf("driver code %d: %w", code, ErrInvalidState)
	case driverErrReadData, driverErrWriteData, driverErrCameraConfig,
		driverErrGetImage, driverErrUSB:
		return fmt.Errorf("driver code %d: %w", code, ErrDeviceIO)
	default:
		return fmt.Errorf("driver code %d: %w", code, ErrDeviceIO)
	}
}
