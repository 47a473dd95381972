package analysis

import (
	"fmt"

	"github.com/user/ce65_converter_go/internal/parser"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinPedestalEvents is the smallest pedestal run that yields a noise estimate.
const MinPedestalEvents = 2

// BuildCalibration derives pedestal and noise maps from a pedestal run
// (events without signal): pedestal is the mean CDS of each pixel and noise
// its sample standard deviation.
func BuildCalibration(captures []parser.RawCapture, g parser.Geometry) (*CalibrationLookup, error) {
	if len(captures) < MinPedestalEvents {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrNotEnoughPedestalEvents, len(captures), MinPedestalEvents)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	// samples[p][i] is the CDS of pixel p in event i
	samples := make([][]float64, g.NumPixels())
	for p := range samples {
		samples[p] = make([]float64, len(captures))
	}

	for i, capture := range captures {
		if len(capture.Frames) < 2 {
			return nil, fmt.Errorf("%w: pedestal event %d has %d", ErrInsufficientFrames, capture.EventN, len(capture.Frames))
		}
		first, err := parser.DecodeFrame(capture.Frames[0], g)
		if err != nil {
			return nil, fmt.Errorf("pedestal event %d: %w", capture.EventN, err)
		}
		last, err := parser.DecodeFrame(capture.Frames[len(capture.Frames)-1], g)
		if err != nil {
			return nil, fmt.Errorf("pedestal event %d: %w", capture.EventN, err)
		}
		cds, err := ComputeCDS(first, last)
		if err != nil {
			return nil, err
		}
		for p, v := range cds.Values {
			samples[p][i] = v
		}
	}

	c := &CalibrationLookup{
		geometry: g,
		pedestal: mat.NewDense(g.Width, g.Height, nil),
		noise:    mat.NewDense(g.Width, g.Height, nil),
	}
	for p, x := range samples {
		mean, std := stat.MeanStdDev(x, nil)
		column, row := g.Coords(p)
		c.pedestal.Set(column, row, mean)
		c.noise.Set(column, row, std)
	}
	return c, nil
}
