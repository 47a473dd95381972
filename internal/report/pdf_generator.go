package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/logging"
)

const (
	inchToMm               = 25.4
	pdfPageWidthLandscape  = 11 * inchToMm // Letter landscape
	pdfPageHeightLandscape = 8.5 * inchToMm
	pdfMargin              = 0.5 * inchToMm
	pdfContentWidth        = pdfPageWidthLandscape - (2 * pdfMargin)
)

// Keys of the plot images placed in the report.
const (
	PlotHitmap     = "hitmap"
	PlotMeanCharge = "mean_charge"
	PlotColumns    = "columns"
	PlotCharge     = "charge"
)

// maxReportErrors bounds the conversion errors listed in the report.
const maxReportErrors = 20

// ReportInfo describes the run a report is about.
type ReportInfo struct {
	Source      string
	RunID       string
	Generated   time.Time
	SeedSNR     float64
	Submatrices []analysis.Submatrix // SimpleCut only
}

// pdfStyler holds reusable styling and state for PDF generation
type pdfStyler struct {
	pdf         *gofpdf.Fpdf
	styles      map[string]func()
	lineHeight  float64
	currentY    float64 // Tracked manually for flowing content
	pageHeight  float64
	contentTopY float64
}

func newPDFStyler(pdf *gofpdf.Fpdf) *pdfStyler {
	s := &pdfStyler{
		pdf:         pdf,
		styles:      make(map[string]func()),
		lineHeight:  6, // mm
		pageHeight:  pdfPageHeightLandscape - pdfMargin,
		contentTopY: pdfMargin,
	}
	s.currentY = s.contentTopY
	s.defineStyles()
	return s
}

func (s *pdfStyler) defineStyles() {
	s.styles["h1"] = func() {
		s.pdf.SetFont("Arial", "B", 16)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["h2"] = func() {
		s.pdf.SetFont("Arial", "B", 14)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["normal"] = func() {
		s.pdf.SetFont("Arial", "", 10)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableHeader"] = func() {
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetFillColor(200, 200, 200)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableCell"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(50, 50, 50)
	}
	s.styles["error"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(200, 0, 0)
	}
}

func (s *pdfStyler) applyStyle(styleName string) {
	if fn, ok := s.styles[styleName]; ok {
		fn()
	} else {
		s.styles["normal"]()
	}
}

func (s *pdfStyler) checkAddPage(neededHeight float64) {
	if s.currentY+neededHeight > s.pageHeight {
		s.newPage()
	}
}

func (s *pdfStyler) newPage() {
	s.pdf.AddPage()
	s.currentY = s.contentTopY
}

func (s *pdfStyler) writeParagraph(text string, styleName string, align string) {
	s.applyStyle(styleName)
	lines := s.pdf.SplitLines([]byte(text), pdfContentWidth)
	s.checkAddPage(float64(len(lines)) * s.lineHeight)

	s.pdf.SetXY(pdfMargin, s.currentY)
	s.pdf.MultiCell(pdfContentWidth, s.lineHeight, text, "", align, false)
	s.currentY = s.pdf.GetY() + 1
}

func (s *pdfStyler) addSpacer(height float64) {
	s.currentY += height
	if s.currentY > s.pageHeight {
		s.newPage()
	}
}

func (s *pdfStyler) addImage(imageBytes []byte, imageName string, width float64, height float64, caption string) {
	s.pdf.RegisterImageOptionsReader(imageName, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(imageBytes))

	captionHeight := 0.0
	if caption != "" {
		captionHeight = s.lineHeight + 1
	}
	s.checkAddPage(height + captionHeight)

	s.pdf.ImageOptions(imageName, pdfMargin+(pdfContentWidth-width)/2, s.currentY, width, height, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	s.currentY += height

	if caption != "" {
		s.addSpacer(1)
		s.writeParagraph(caption, "normal", "C")
	}
	s.addSpacer(2)
}

// writeTable draws a header row and data rows; widths are fractions of the content width.
func (s *pdfStyler) writeTable(headers []string, widthsRel []float64, rows [][]string) {
	widths := make([]float64, len(widthsRel))
	for i, rel := range widthsRel {
		widths[i] = rel * pdfContentWidth
	}

	header := func() {
		s.applyStyle("tableHeader")
		x := pdfMargin
		for i, h := range headers {
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[i], s.lineHeight, h, "1", 0, "C", true, 0, "")
			x += widths[i]
		}
		s.currentY += s.lineHeight
	}

	s.checkAddPage(2 * s.lineHeight)
	header()
	for _, row := range rows {
		if s.currentY+s.lineHeight > s.pageHeight {
			s.newPage()
			header()
		}
		s.applyStyle("tableCell")
		x := pdfMargin
		for i, cell := range row {
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[i], s.lineHeight, cell, "1", 0, "C", false, 0, "")
			x += widths[i]
		}
		s.currentY += s.lineHeight
	}
}

// CreatePlots renders every plot the run has data for. Plots that cannot be
// drawn are logged and left out.
func CreatePlots(summary *analysis.RunSummary, submatrices []analysis.Submatrix) map[string][]byte {
	images := make(map[string][]byte)
	add := func(key string, img []byte, err error) {
		if err != nil {
			if !errors.Is(err, ErrNoData) {
				logging.Warningf("Plot %s not created: %v", key, err)
			}
			return
		}
		images[key] = img
	}

	img, err := CreateHitmapPlot(summary, MapHits, "CE65 Hitmap")
	add(PlotHitmap, img, err)
	img, err = CreateColumnPlot(summary, submatrices)
	add(PlotColumns, img, err)
	if summary != nil && !summary.Mode.Binary() {
		img, err = CreateHitmapPlot(summary, MapMeanCharge, "CE65 Mean Charge (ADC)")
		add(PlotMeanCharge, img, err)
		img, err = CreateChargeHistogram(summary, 100)
		add(PlotCharge, img, err)
	}
	return images
}

// BuildPDFReport writes the run report to w.
func BuildPDFReport(w io.Writer, info ReportInfo, summary *analysis.RunSummary, plotImages map[string][]byte) error {
	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AddPage()

	styler := newPDFStyler(pdf)
	styler.writeParagraph("CE65 Conversion Report", "h1", "C")
	styler.addSpacer(3)

	generated := info.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	styler.writeParagraph(fmt.Sprintf("Source: %s", info.Source), "normal", "L")
	if info.RunID != "" {
		styler.writeParagraph(fmt.Sprintf("Run: %s", info.RunID), "normal", "L")
	}
	styler.writeParagraph(fmt.Sprintf("Generated: %s", generated.Format(time.RFC3339)), "normal", "L")

	if summary == nil || (summary.Events == 0 && summary.Failed == 0) {
		styler.addSpacer(5)
		styler.writeParagraph("No CE65 events were converted.", "normal", "L")
		return output(pdf, w)
	}

	styler.writeParagraph(fmt.Sprintf("Mode: %s, matrix %s", summary.Mode, summary.Geometry), "normal", "L")
	if summary.Mode == analysis.CalibratedMonitor {
		styler.writeParagraph(fmt.Sprintf("Seed threshold: %g x noise", info.SeedSNR), "normal", "L")
	}
	styler.addSpacer(5)

	styler.writeParagraph("Run Statistics", "h2", "L")
	styler.writeTable(
		[]string{"Converted", "Declined", "Failed", "Pixels", "Pixels / Event"},
		[]float64{0.2, 0.2, 0.2, 0.2, 0.2},
		[][]string{{
			strconv.Itoa(summary.Events),
			strconv.Itoa(summary.Declined),
			strconv.Itoa(summary.Failed),
			strconv.Itoa(summary.Pixels),
			fmt.Sprintf("%.2f", summary.MeanPixels),
		}},
	)
	styler.addSpacer(5)

	if summary.Mode == analysis.SimpleCut && len(info.Submatrices) > 0 {
		styler.writeParagraph("Submatrix Thresholds", "h2", "L")
		rows := make([][]string, 0, len(info.Submatrices))
		start := 0
		for _, sub := range info.Submatrices {
			rows = append(rows, []string{fmt.Sprintf("%d - %d", start, sub.Edge-1), strconv.Itoa(sub.Threshold)})
			start = sub.Edge
		}
		styler.writeTable([]string{"Columns", "Threshold (ADC)"}, []float64{0.5, 0.5}, rows)
		styler.addSpacer(5)
	}

	styler.writeParagraph("Most Active Pixels", "h2", "L")
	if len(summary.RankedByHits) > 0 {
		rows := make([][]string, 0, len(summary.RankedByHits))
		for i, px := range summary.RankedByHits {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				strconv.Itoa(px.Column),
				strconv.Itoa(px.Row),
				strconv.Itoa(int(px.Value)),
				fmt.Sprintf("%.4f", summary.Occupancy(px.Column, px.Row)),
			})
		}
		styler.writeTable([]string{"Rank", "Column", "Row", "Hits", "Occupancy"}, []float64{0.1, 0.2, 0.2, 0.25, 0.25}, rows)
	} else {
		styler.writeParagraph("No pixel survived zero suppression.", "normal", "L")
	}
	styler.addSpacer(5)

	if len(summary.ConversionErrors) > 0 {
		styler.writeParagraph("Conversion Errors", "h2", "L")
		for i, msg := range summary.ConversionErrors {
			if i == maxReportErrors {
				styler.writeParagraph(fmt.Sprintf("... %d more", len(summary.ConversionErrors)-i), "error", "L")
				break
			}
			styler.writeParagraph(msg, "error", "L")
		}
	}

	plotDefs := []struct {
		Key     string
		Title   string
		Caption string
		Width   float64
		Aspect  float64
	}{
		{PlotHitmap, "Hitmap", "Events in which each pixel survived zero suppression", 0.9, 0.55},
		{PlotColumns, "Column Occupancy", "Surviving pixels per event for each column", 0.8, 0.5},
		{PlotMeanCharge, "Mean Charge", "Mean pedestal-subtracted charge per pixel (ADC)", 0.9, 0.55},
		{PlotCharge, "Charge Spectrum", "Pedestal-subtracted charge of all pixels (ADC)", 0.8, 0.5},
	}
	for _, pDef := range plotDefs {
		imgBytes, ok := plotImages[pDef.Key]
		if !ok || len(imgBytes) == 0 {
			continue
		}
		styler.newPage()
		styler.writeParagraph(pDef.Title, "h2", "L")
		width := pdfContentWidth * pDef.Width
		styler.addImage(imgBytes, pDef.Key, width, width*pDef.Aspect, pDef.Caption)
	}

	return output(pdf, w)
}

func output(pdf *gofpdf.Fpdf, w io.Writer) error {
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}

// WritePDFReportFile renders the plots and writes the report to path.
func WritePDFReportFile(path string, info ReportInfo, summary *analysis.RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := BuildPDFReport(f, info, summary, CreatePlots(summary, info.Submatrices)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
