package camera

// The 4K family (4K, 4KA, 4KJ) shares geometry and capabilities; the raw
// stream packs two bytes per pixel column, hence the stride factor.
func k4Table(m Model) *ModelTable {
	return &ModelTable{
		Model:           m,
		WidthMax:        3840,
		HeightMax:       1920,
		RawStrideFactor: 2,
		MaxDisparity:    255,
		Caps: map[Option]Caps{
			OptGain:                     rw(0, 511, 1),
			OptExposure:                 rw(1, 65535, 1),
			OptFineExposure:             rw(1, 65535, 1),
			OptNoiseFilter:              rw(0, 7, 1),
			OptShutterMode:              enumOpt(int(ShutterManual), int(ShutterSystemDefault)),
			OptAutoCalibration:          enumOpt(AutoCalibOff, AutoCalibManual),
			OptManualCalibrationTrigger: trigger(),
			OptSelfCalibration:          boolOpt(),
			OptColorImage:               boolOpt(),
			OptColorImageCorrect:        boolOpt(),
			OptExtendedMatching:         boolOpt(),
		},
	}
}
