package analysis

import (
	"fmt"

	"github.com/user/ce65_converter_go/internal/parser"
)

// CDSMatrix holds last - first per pixel, in the PixelMatrix layout.
type CDSMatrix struct {
	Geometry parser.Geometry
	Values   []float64
}

func (m *CDSMatrix) At(column, row int) float64 {
	return m.Values[m.Geometry.Index(column, row)]
}

// ComputeCDS returns the correlated double sample last - first. Samples are
// widened to float64 before subtracting.
func ComputeCDS(first, last *parser.PixelMatrix) (*CDSMatrix, error) {
	if first.Geometry != last.Geometry || len(first.Samples) != len(last.Samples) {
		return nil, fmt.Errorf("%w: first %s, last %s", parser.ErrDimensionMismatch, first.Geometry, last.Geometry)
	}
	cds := &CDSMatrix{
		Geometry: first.Geometry,
		Values:   make([]float64, len(first.Samples)),
	}
	for p := range cds.Values {
		cds.Values[p] = float64(last.Samples[p]) - float64(first.Samples[p])
	}
	return cds, nil
}
