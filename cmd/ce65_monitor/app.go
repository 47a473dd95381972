package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
	"github.com/user/ce65_converter_go/internal/pipeline"
	"github.com/user/ce65_converter_go/internal/report"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// App struct
type App struct {
	ctx context.Context

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// Startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	runtime.WindowSetTitle(a.ctx, "CE65 Monitor")
}

// Shutdown stops a conversion still in progress.
func (a *App) Shutdown(ctx context.Context) {
	a.CancelRun()
}

func (a *App) sendStatus(message string) {
	if a.ctx != nil {
		runtime.EventsEmit(a.ctx, "statusUpdate", message)
	}
	logging.Infof("%s", message)
}

func (a *App) clearLog() {
	if a.ctx != nil {
		runtime.EventsEmit(a.ctx, "clearLog")
	}
}

func (a *App) complete(ok bool, message string) {
	a.sendStatus(message)
	runtime.EventsEmit(a.ctx, "generationComplete", ok, message)
}

// SelectCaptureFile opens a file dialog for a capture file.
func (a *App) SelectCaptureFile() (string, error) {
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select CE65 capture",
		Filters: []runtime.FileFilter{
			{DisplayName: "Capture files (*.rawe, *.zst)", Pattern: "*.rawe;*.zst"},
		},
	})
}

// SelectConfigFile opens a file dialog for a YAML configuration.
func (a *App) SelectConfigFile() (string, error) {
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select configuration",
		Filters: []runtime.FileFilter{
			{DisplayName: "YAML (*.yaml, *.yml)", Pattern: "*.yaml;*.yml"},
		},
	})
}

// SelectReportFile asks where to save the PDF report.
func (a *App) SelectReportFile() (string, error) {
	return runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Save run report",
		DefaultFilename: "ce65_report.pdf",
	})
}

// CancelRun stops the running conversion, if any.
func (a *App) CancelRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// HandleConvertRun is called from the frontend to convert a capture file and
// write its PDF report. Progress is reported through events.
func (a *App) HandleConvertRun(capturePath string, configPath string, pdfFilePath string) (string, error) {
	if capturePath == "" || pdfFilePath == "" {
		return "", errors.New("capture file and report file are required")
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return "", errors.New("a conversion is already running")
	}
	runCtx, cancel := context.WithCancel(a.ctx)
	a.running = true
	a.cancel = cancel
	a.mu.Unlock()

	a.clearLog()
	a.sendStatus(fmt.Sprintf("Request: capture=[%s], config=[%s], PDF=[%s]", capturePath, configPath, pdfFilePath))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.complete(false, fmt.Sprintf("PANIC recovered: %v", r))
			}
			a.mu.Lock()
			a.running = false
			a.cancel = nil
			a.mu.Unlock()
			cancel()
		}()

		runtime.EventsEmit(a.ctx, "generationStart")

		var cfg *config.Config
		if configPath != "" {
			var err error
			a.sendStatus(fmt.Sprintf("Loading configuration: %s", configPath))
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				a.complete(false, fmt.Sprintf("Error loading configuration: %v", err))
				return
			}
		}

		converter := analysis.NewConverter(cfg)
		suppressor, err := converter.Suppressor()
		if err != nil {
			a.complete(false, fmt.Sprintf("Error in configuration: %v", err))
			return
		}
		a.sendStatus(fmt.Sprintf("Converter mode: %s, matrix %s", suppressor.Mode(), converter.Geometry()))

		r, err := parser.OpenCaptureFile(capturePath)
		if err != nil {
			a.complete(false, fmt.Sprintf("Error opening capture: %v", err))
			return
		}
		defer r.Close()

		hitmap := analysis.NewHitmap(converter.Geometry())
		start := time.Now()
		stats, err := pipeline.Run(runCtx, r, pipeline.Options{
			Converter: converter,
			Hitmap:    hitmap,
			Progress: func(s pipeline.Stats) {
				runtime.EventsEmit(a.ctx, "progress", s.Read, s.Converted, s.Failed)
			},
		})
		if err != nil {
			a.complete(false, fmt.Sprintf("Conversion stopped after %d events: %v", stats.Read, err))
			return
		}
		a.sendStatus(fmt.Sprintf("Converted %d of %d events (%d declined, %d failed) in %s",
			stats.Converted, stats.Read, stats.Declined, stats.Failed, time.Since(start).Round(time.Millisecond)))

		summary := hitmap.Summarize(10)
		if len(summary.ConversionErrors) > 0 {
			a.sendStatus("Conversion Warnings/Errors:")
			for i, e := range summary.ConversionErrors {
				if i == 10 {
					a.sendStatus(fmt.Sprintf("- ... %d more", len(summary.ConversionErrors)-i))
					break
				}
				a.sendStatus(fmt.Sprintf("- %s", e))
			}
		}

		a.sendStatus("Generating plots...")
		info := report.ReportInfo{
			Source:      capturePath,
			Generated:   time.Now(),
			SeedSNR:     cfg.SeedSNR(),
			Submatrices: suppressor.Table().Entries(),
		}
		plotImages := report.CreatePlots(summary, info.Submatrices)
		a.sendStatus(fmt.Sprintf("%d plot(s) generated.", len(plotImages)))

		a.sendStatus(fmt.Sprintf("Generating PDF: %s...", pdfFilePath))
		if err := writeReport(pdfFilePath, info, summary, plotImages); err != nil {
			a.complete(false, fmt.Sprintf("Error generating PDF report: %v", err))
			return
		}
		a.complete(true, fmt.Sprintf("PDF report successfully generated: %s", pdfFilePath))
	}()

	return "Conversion started in background.", nil
}
