package analysis

import (
	"fmt"

	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
)

// Suppressor decides per pixel whether it survives and what it carries.
// It is immutable and safe to share between goroutines.
type Suppressor struct {
	mode             Mode
	geometry         parser.Geometry
	table            ThresholdTable
	columnThresholds []int
	calibration      *CalibrationLookup
	seedSNR          float64
}

// NewSimpleCut resolves the table for every column of g up front so that a
// coverage gap is reported here and not in the middle of a run.
func NewSimpleCut(table ThresholdTable, g parser.Geometry) (*Suppressor, error) {
	thresholds, err := table.PerColumn(g.Width)
	if err != nil {
		return nil, err
	}
	return &Suppressor{
		mode:             SimpleCut,
		geometry:         g,
		table:            table,
		columnThresholds: thresholds,
	}, nil
}

func NewCalibratedMonitor(calib *CalibrationLookup, seedSNR float64) *Suppressor {
	return &Suppressor{
		mode:        CalibratedMonitor,
		geometry:    calib.Geometry(),
		calibration: calib,
		seedSNR:     seedSNR,
	}
}

func NewCalibratedAnalysis(calib *CalibrationLookup) *Suppressor {
	return &Suppressor{
		mode:        CalibratedAnalysis,
		geometry:    calib.Geometry(),
		calibration: calib,
	}
}

func (s *Suppressor) Mode() Mode {
	return s.mode
}

func (s *Suppressor) Geometry() parser.Geometry {
	return s.geometry
}

// Table is the SimpleCut threshold table; empty in the calibrated modes.
func (s *Suppressor) Table() ThresholdTable {
	return s.table
}

func (s *Suppressor) SeedSNR() float64 {
	return s.seedSNR
}

// Decide applies the mode's cut to one pixel.
func (s *Suppressor) Decide(column, row int, cds float64) (float64, bool) {
	switch s.mode {
	case CalibratedMonitor:
		signal := cds - s.calibration.Pedestal(column, row)
		if signal > s.calibration.Noise(column, row)*s.seedSNR {
			return 1, true
		}
		return 0, false
	case CalibratedAnalysis:
		return cds - s.calibration.Pedestal(column, row), true
	default:
		if cds > float64(s.columnThresholds[column]) {
			return 1, true
		}
		return 0, false
	}
}

// Apply appends the surviving pixels of cds to plane, column by column and
// row by row within a column.
func (s *Suppressor) Apply(cds *CDSMatrix, plane *StandardPlane) error {
	if cds.Geometry != s.geometry {
		return fmt.Errorf("%w: signal %s, suppressor %s", parser.ErrDimensionMismatch, cds.Geometry, s.geometry)
	}
	for column := 0; column < s.geometry.Width; column++ {
		for row := 0; row < s.geometry.Height; row++ {
			if value, ok := s.Decide(column, row, cds.At(column, row)); ok {
				plane.PushPixel(column, row, value)
			}
		}
	}
	return nil
}

// SelectMode makes the one-time mode decision:
//   - no usable template, no calibration source, or a failed load: SimpleCut
//   - calibration loaded for the monitor template: CalibratedMonitor
//   - calibration loaded for the analysis template: CalibratedAnalysis
//
// Calibration failures degrade with a warning. Malformed submatrix settings
// are returned as errors.
func SelectMode(cfg *config.Config, load CalibrationLoader) (*Suppressor, error) {
	g := cfg.GeometryOrDefault()

	template := cfg.ActiveTemplate()
	switch template {
	case config.TemplateUnknown:
		switch {
		case cfg == nil:
			logging.Infof("CE65 default configuration - digital mode (SimpleCut)")
		case !cfg.Template.Known():
			logging.Warningf("Unknown configuration template %q - default converter in digital mode (SimpleCut)", cfg.Template)
		default:
			logging.Warningf("Unknown configuration template - default converter in digital mode (SimpleCut)")
		}
		return NewSimpleCut(DefaultThresholdTable(), g)

	case config.TemplateMonitor, config.TemplateAnalysis:
		logging.Infof("Load configuration for CE65, template: %s", template)
		if path := cfg.CalibrationPath(); path != "" && load != nil {
			calib, err := load(path, g)
			if err == nil && calib.Geometry() != g {
				err = fmt.Errorf("%w: calibration %s, sensor %s", parser.ErrDimensionMismatch, calib.Geometry(), g)
			}
			if err == nil {
				if template == config.TemplateMonitor {
					logging.Infof("Calibrated converter - signal/noise ratio mode, seed_threshold_snr = %g", cfg.SeedSNR())
					return NewCalibratedMonitor(calib, cfg.SeedSNR()), nil
				}
				logging.Infof("Calibrated converter - charge mode")
				return NewCalibratedAnalysis(calib), nil
			}
			logging.Warningf("CE65 - calibration file %s unusable: %v", path, err)
		}
	}

	edges, thresholds, err := cfg.Submatrices()
	if err != nil {
		return nil, err
	}
	table, err := NewThresholdTable(edges, thresholds, g.Width)
	if err != nil {
		return nil, err
	}
	logging.Infof("Default converter - digital mode (SimpleCut), submatrix_edge = %v, submatrix_threshold = %v", edges, thresholds)
	return NewSimpleCut(table, g)
}
