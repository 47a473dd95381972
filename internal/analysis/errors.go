package analysis

import "errors"

var (
	ErrInsufficientFrames      = errors.New("analysis: capture needs at least 2 frames")
	ErrInvalidBoundaries       = errors.New("analysis: invalid submatrix boundaries")
	ErrThresholdCoverage       = errors.New("analysis: threshold table does not cover the sensor width")
	ErrCalibrationIncomplete   = errors.New("analysis: calibration does not cover every pixel")
	ErrCalibrationMalformed    = errors.New("analysis: malformed calibration value")
	ErrNotEnoughPedestalEvents = errors.New("analysis: not enough pedestal events")
)
