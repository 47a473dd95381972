package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/user/ce65_converter_go/internal/analysis"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var ErrNoData = errors.New("report: nothing to plot")

// Pixel maps that CreateHitmapPlot can draw.
const (
	MapHits       = "hits"
	MapOccupancy  = "occupancy"
	MapMeanCharge = "mean_charge"
)

// pixelGrid exposes one per-pixel map of a run summary as plotter.GridXYZ,
// with sensor columns on X and rows on Y.
type pixelGrid struct {
	summary *analysis.RunSummary
	value   func(column, row int) float64
}

func (g pixelGrid) Dims() (c, r int) {
	return g.summary.Geometry.Width, g.summary.Geometry.Height
}

func (g pixelGrid) Z(c, r int) float64 {
	return g.value(c, r)
}

func (g pixelGrid) X(c int) float64 {
	return float64(c)
}

func (g pixelGrid) Y(r int) float64 {
	return float64(r)
}

func newPixelGrid(summary *analysis.RunSummary, mapName string) (pixelGrid, error) {
	grid := pixelGrid{summary: summary}
	geo := summary.Geometry
	switch mapName {
	case MapHits:
		grid.value = func(c, r int) float64 { return float64(summary.Hits[geo.Index(c, r)]) }
	case MapOccupancy:
		grid.value = summary.Occupancy
	case MapMeanCharge:
		// pixels that never survived have no charge to show
		grid.value = func(c, r int) float64 {
			p := geo.Index(c, r)
			if summary.Hits[p] == 0 {
				return math.NaN()
			}
			return summary.MeanCharge[p]
		}
	default:
		return grid, fmt.Errorf("unknown pixel map for heatmap: %s", mapName)
	}
	return grid, nil
}

// CreateHitmapPlot renders a per-pixel map of the run as a PNG heatmap.
func CreateHitmapPlot(summary *analysis.RunSummary, mapName string, plotTitle string) ([]byte, error) {
	if summary == nil || summary.Events == 0 {
		return nil, fmt.Errorf("%w: no converted events for heatmap", ErrNoData)
	}
	grid, err := newPixelGrid(summary, mapName)
	if err != nil {
		return nil, err
	}
	width, height := grid.Dims()

	lo, hi := math.Inf(1), math.Inf(-1)
	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			v := grid.Z(c, r)
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 1
	}
	if lo == hi {
		hi = lo + 1
	}

	p := plot.New()
	p.Title.Text = plotTitle
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"
	p.X.Min = -0.5
	p.X.Max = float64(width) - 0.5
	p.Y.Min = -0.5
	p.Y.Max = float64(height) - 0.5
	p.X.Tick.Marker = plot.ConstantTicks(generateTicks(0, width-1, 8))
	p.Y.Tick.Marker = plot.ConstantTicks(generateTicks(0, height-1, 4))

	hm := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	hm.Min = lo
	hm.Max = hi
	hm.NaN = color.Gray{Y: 200}
	p.Add(hm)

	return renderPNG(p, vg.Points(1000), vg.Points(550))
}
