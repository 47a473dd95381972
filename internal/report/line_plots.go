package report

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/user/ce65_converter_go/internal/analysis"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// CreateColumnPlot draws the mean number of surviving pixels per event for
// each column, with the submatrix edges as dashed markers.
func CreateColumnPlot(summary *analysis.RunSummary, submatrices []analysis.Submatrix) ([]byte, error) {
	if summary == nil || summary.Events == 0 {
		return nil, fmt.Errorf("%w: no converted events for column plot", ErrNoData)
	}
	width := summary.Geometry.Width

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Column Occupancy (%d events, %s)", summary.Events, summary.Mode)
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Hits per Event"
	p.X.Min = 0
	p.X.Max = float64(width)
	p.X.Tick.Marker = plot.ConstantTicks(generateTicks(0, width, 8))
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, width)
	yMax := 0.0
	for c, hits := range summary.ColumnHits {
		pts[c].X = float64(c) + 0.5
		pts[c].Y = float64(hits) / float64(summary.Events)
		if pts[c].Y > yMax {
			yMax = pts[c].Y
		}
	}
	if yMax == 0 {
		yMax = 1
	}
	p.Y.Min = 0
	p.Y.Max = yMax * 1.1

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create column line: %w", err)
	}
	line.Color = color.RGBA{B: 255, A: 255}
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("Hits per event", line)

	for i, sub := range submatrices {
		if sub.Edge >= width {
			continue
		}
		edge, err := plotter.NewLine(plotter.XYs{{X: float64(sub.Edge), Y: 0}, {X: float64(sub.Edge), Y: p.Y.Max}})
		if err != nil {
			return nil, fmt.Errorf("failed to create edge line: %w", err)
		}
		edge.Color = color.RGBA{R: 255, A: 255}
		edge.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		p.Add(edge)
		if i == 0 {
			p.Legend.Add("Submatrix edge", edge)
		}
	}

	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(-10)

	return renderPNG(p, vg.Points(800), vg.Points(400))
}

// CreateChargeHistogram draws the spectrum of pedestal-subtracted charges.
func CreateChargeHistogram(summary *analysis.RunSummary, bins int) ([]byte, error) {
	if summary == nil || len(summary.Charges) == 0 {
		return nil, fmt.Errorf("%w: no charge samples", ErrNoData)
	}
	if bins <= 0 {
		bins = 100
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Charge Spectrum (%d samples)", len(summary.Charges))
	p.X.Label.Text = "Charge (ADC)"
	p.Y.Label.Text = "Entries"

	hist, err := plotter.NewHist(plotter.Values(summary.Charges), bins)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	hist.LineStyle.Width = vg.Points(0.5)
	p.Add(hist)

	return renderPNG(p, vg.Points(800), vg.Points(400))
}

func renderPNG(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	writer, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

// generateTicks labels every step from min to max, plus max itself.
func generateTicks(min, max, step int) []plot.Tick {
	var ticks []plot.Tick
	for i := min; i <= max; i += step {
		ticks = append(ticks, plot.Tick{Value: float64(i), Label: fmt.Sprintf("%d", i)})
	}
	if len(ticks) == 0 || ticks[len(ticks)-1].Value < float64(max) {
		ticks = append(ticks, plot.Tick{Value: float64(max), Label: fmt.Sprintf("%d", max)})
	}
	return ticks
}
