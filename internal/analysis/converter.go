package analysis

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/parser"
)

// Recorder receives conversion outcomes, e.g. for Prometheus.
type Recorder interface {
	SetMode(mode string)
	ObserveConversion(mode string, pixels int, elapsed time.Duration)
	ObserveDecline(reason string)
	ObserveFailure(reason string)
}

// Decline reasons reported to the Recorder.
const (
	DeclineIdentifier  = "identifier"
	DeclineDescription = "description"
)

// ConvertCapture runs decode -> CDS -> zero suppression on one capture.
// Frame 0 is the baseline and the final frame the integrated sample; frames
// in between are not used.
func ConvertCapture(capture parser.RawCapture, g parser.Geometry, s *Suppressor) (*StandardPlane, error) {
	if len(capture.Frames) < 2 {
		return nil, fmt.Errorf("%w: event %d has %d", ErrInsufficientFrames, capture.EventN, len(capture.Frames))
	}
	if s.Geometry() != g {
		return nil, fmt.Errorf("%w: capture %s, suppressor %s", parser.ErrDimensionMismatch, g, s.Geometry())
	}

	first, err := parser.DecodeFrame(capture.Frames[0], g)
	if err != nil {
		return nil, fmt.Errorf("first frame of event %d: %w", capture.EventN, err)
	}
	last, err := parser.DecodeFrame(capture.Frames[len(capture.Frames)-1], g)
	if err != nil {
		return nil, fmt.Errorf("last frame of event %d: %w", capture.EventN, err)
	}
	cds, err := ComputeCDS(first, last)
	if err != nil {
		return nil, err
	}

	plane := NewStandardPlane(capture.DeviceN, capture.EventN, g, s.Mode())
	if err := s.Apply(cds, plane); err != nil {
		return nil, err
	}
	return plane, nil
}

// Converter turns raw events into standard planes. Mode selection and
// calibration loading happen once, on first use; Convert is safe for
// concurrent use.
type Converter struct {
	cfg      *config.Config
	geometry parser.Geometry
	load     CalibrationLoader
	recorder Recorder

	once       sync.Once
	suppressor *Suppressor
	initErr    error
}

type Option func(*Converter)

// WithCalibrationLoader replaces LoadCalibrationFile.
func WithCalibrationLoader(load CalibrationLoader) Option {
	return func(c *Converter) {
		c.load = load
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Converter) {
		c.recorder = r
	}
}

// NewConverter creates a converter; cfg may be nil for the built-in defaults.
func NewConverter(cfg *config.Config, opts ...Option) *Converter {
	c := &Converter{
		cfg:      cfg,
		geometry: cfg.GeometryOrDefault(),
		load:     LoadCalibrationFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) init() error {
	c.once.Do(func() {
		c.suppressor, c.initErr = SelectMode(c.cfg, c.load)
		if c.initErr == nil && c.recorder != nil {
			c.recorder.SetMode(c.suppressor.Mode().String())
		}
	})
	return c.initErr
}

// Suppressor returns the selected suppressor, initializing on first call.
func (c *Converter) Suppressor() (*Suppressor, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.suppressor, nil
}

func (c *Converter) Geometry() parser.Geometry {
	return c.geometry
}

// Convert converts one raw event. ok is false, with a nil error, when the
// event is not for this converter: the configured identifier names another
// sensor or the event description is not a CE65 one.
func (c *Converter) Convert(ev parser.RawEvent) (plane *StandardPlane, ok bool, err error) {
	if !c.cfg.Applicable() {
		c.declined(DeclineIdentifier)
		return nil, false, nil
	}
	capture, isCapture := parser.AsCapture(ev)
	if !isCapture {
		c.declined(DeclineDescription)
		return nil, false, nil
	}

	if err := c.init(); err != nil {
		c.failed(err)
		return nil, false, err
	}

	start := time.Now()
	plane, err = ConvertCapture(capture, c.geometry, c.suppressor)
	if err != nil {
		c.failed(err)
		return nil, false, err
	}
	if c.recorder != nil {
		c.recorder.ObserveConversion(plane.Mode.String(), plane.NumPixels(), time.Since(start))
	}
	return plane, true, nil
}

func (c *Converter) declined(reason string) {
	if c.recorder != nil {
		c.recorder.ObserveDecline(reason)
	}
}

func (c *Converter) failed(err error) {
	if c.recorder != nil {
		c.recorder.ObserveFailure(FailureReason(err))
	}
}

// FailureReason gives a short label for a conversion error.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFrames):
		return "insufficient_frames"
	case errors.Is(err, parser.ErrSizeMismatch):
		return "size_mismatch"
	case errors.Is(err, parser.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrInvalidBoundaries), errors.Is(err, ErrThresholdCoverage), errors.Is(err, config.ErrInvalidList):
		return "config"
	}
	return "other"
}
