package analysis

import (
	"fmt"
	"math"

	"github.com/user/ce65_converter_go/internal/parser"
	"gonum.org/v1/gonum/mat"
)

// CalibrationLookup holds per-pixel pedestal and noise maps. Rows of the
// matrices are sensor columns. It is never modified after construction.
type CalibrationLookup struct {
	geometry parser.Geometry
	pedestal *mat.Dense
	noise    *mat.Dense
}

// CalibrationLoader resolves a calibration source into a lookup.
type CalibrationLoader func(path string, g parser.Geometry) (*CalibrationLookup, error)

// NewCalibrationLookup builds the maps from records that must cover every
// pixel of g exactly once.
func NewCalibrationLookup(records []parser.CalibrationRecord, g parser.Geometry) (*CalibrationLookup, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	c := &CalibrationLookup{
		geometry: g,
		pedestal: mat.NewDense(g.Width, g.Height, nil),
		noise:    mat.NewDense(g.Width, g.Height, nil),
	}
	seen := make([]bool, g.NumPixels())
	for i, rec := range records {
		if !g.Contains(rec.Column, rec.Row) {
			return nil, fmt.Errorf("%w: record %d at (%d,%d) outside %s", ErrCalibrationMalformed, i, rec.Column, rec.Row, g)
		}
		if math.IsNaN(rec.Pedestal) || math.IsInf(rec.Pedestal, 0) {
			return nil, fmt.Errorf("%w: pedestal %v at (%d,%d)", ErrCalibrationMalformed, rec.Pedestal, rec.Column, rec.Row)
		}
		if math.IsNaN(rec.Noise) || math.IsInf(rec.Noise, 0) || rec.Noise < 0 {
			return nil, fmt.Errorf("%w: noise %v at (%d,%d)", ErrCalibrationMalformed, rec.Noise, rec.Column, rec.Row)
		}
		p := g.Index(rec.Column, rec.Row)
		if seen[p] {
			return nil, fmt.Errorf("%w: pixel (%d,%d) listed twice", ErrCalibrationMalformed, rec.Column, rec.Row)
		}
		seen[p] = true
		c.pedestal.Set(rec.Column, rec.Row, rec.Pedestal)
		c.noise.Set(rec.Column, rec.Row, rec.Noise)
	}
	if len(records) != g.NumPixels() {
		return nil, fmt.Errorf("%w: %d of %d pixels", ErrCalibrationIncomplete, len(records), g.NumPixels())
	}
	return c, nil
}

// LoadCalibrationFile reads a calibration CSV. It only reports failure; the
// caller decides how to degrade.
func LoadCalibrationFile(path string, g parser.Geometry) (*CalibrationLookup, error) {
	parsed, err := parser.ReadCalibrationFile(path)
	if err != nil {
		return nil, err
	}
	return NewCalibrationLookup(parsed.Records, g)
}

func (c *CalibrationLookup) Geometry() parser.Geometry {
	return c.geometry
}

func (c *CalibrationLookup) Pedestal(column, row int) float64 {
	return c.pedestal.At(column, row)
}

func (c *CalibrationLookup) Noise(column, row int) float64 {
	return c.noise.At(column, row)
}

// Records lists the maps in pixel order, ready for parser.WriteCalibrationCSV.
func (c *CalibrationLookup) Records() []parser.CalibrationRecord {
	records := make([]parser.CalibrationRecord, 0, c.geometry.NumPixels())
	for column := 0; column < c.geometry.Width; column++ {
		for row := 0; row < c.geometry.Height; row++ {
			records = append(records, parser.CalibrationRecord{
				Column:   column,
				Row:      row,
				Pedestal: c.pedestal.At(column, row),
				Noise:    c.noise.At(column, row),
			})
		}
	}
	return records
}
