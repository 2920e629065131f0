package dplerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int32
	}{
		{nil, CodeOK},
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
		{errors.New("unrelated"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCodeWrapped(t *testing.T) {
	err := fmt.Errorf("capture: %w", fmt.Errorf("driver: %w", ErrDeviceIO))
	if got := Code(err); got != CodeDeviceIO {
		t.Fatalf("Code(wrapped) = %d, want %d", got, CodeDeviceIO)
	}
}

func TestFromDriverCode(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{0, nil},
		{-3, ErrNotReady},
		{-102, ErrNotReady},
		{-5, ErrDeviceUnavailable},
		{-101, ErrDeviceUnavailable},
		{-17, ErrInvalidOption},
		{-12, ErrInvalidOption},
		{-20, ErrInvalidOption},
		{-18, ErrInvalidState},
		{-1, ErrDeviceIO},
		{-16, ErrDeviceIO},
		{-100, ErrDeviceIO},
		{-9999, ErrDeviceIO},
	}
	for _, tt := range tests {
		got := FromDriverCode(tt.code)
		if tt.want == nil {
			if got != nil {
				t.Errorf("FromDriverCode(%d) = %v, want nil", tt.code, got)
			}
			continue
		}
		if !errors.Is(got, tt.want) {
			t.Errorf("FromDriverCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
