package camera

// VM: 752x480 monochrome head, 128-pixel FPGA search range. No color path
// and no fine exposure; shutter control is the full enum.
var vmTable = ModelTable{
	Model:           ModelVM,
	WidthMax:        752,
	HeightMax:       480,
	RawStrideFactor: 1,
	MaxDisparity:    128,
	Caps: map[Option]Caps{
		OptGain:                     rw(0, 720, 1),
		OptExposure:                 rw(1, 480, 1),
		OptNoiseFilter:              rw(0, 7, 1),
		OptShutterMode:              enumOpt(int(ShutterManual), int(ShutterSystemDefault)),
		OptAutoCalibration:          enumOpt(AutoCalibOff, AutoCalibManual),
		OptManualCalibrationTrigger: trigger(),
		OptExtendedMatching:         boolOpt(),
	},
}
