package parser

import "errors"

var (
	ErrSizeMismatch      = errors.New("parser: frame size mismatch")
	ErrDimensionMismatch = errors.New("parser: matrix dimension mismatch")
	ErrBadMagic          = errors.New("parser: bad event magic")
	ErrTruncatedEvent    = errors.New("parser: truncated event")
	ErrEventTooLarge     = errors.New("parser: event exceeds size limit")
	ErrCalibrationFormat = errors.New("parser: malformed calibration file")
)
