package camera

// XC: 1280x720 color-capable head, 255-pixel FPGA search range. Fine
// exposure overlaps the coarse exposure range; writing it overrides the
// coarse value (see DESIGN.md for the composition decision).
var xcTable = ModelTable{
	Model:           ModelXC,
	WidthMax:        1280,
	HeightMax:       720,
	RawStrideFactor: 1,
	MaxDisparity:    255,
	Caps: map[Option]Caps{
		OptGain:                     rw(0, 720, 1),
		OptExposure:                 rw(1, 746, 1),
		OptFineExposure:             rw(1, 65535, 1),
		OptNoiseFilter:              rw(0, 7, 1),
		OptShutterMode:              enumOpt(int(ShutterManual), int(ShutterSystemDefault)),
		OptHDRMode:                  boolOpt(),
		OptHiResolutionMode:         boolOpt(),
		OptAutoCalibration:          enumOpt(AutoCalibOff, AutoCalibManual),
		OptManualCalibrationTrigger: trigger(),
		OptColorImage:               boolOpt(),
		OptColorImageCorrect:        boolOpt(),
		OptExtendedMatching:         boolOpt(),
		OptSADSearchRange128:        boolOpt(),
	},
}
