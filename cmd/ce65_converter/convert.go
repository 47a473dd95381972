package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/metrics"
	"github.com/user/ce65_converter_go/internal/parser"
	"github.com/user/ce65_converter_go/internal/pipeline"
	"github.com/user/ce65_converter_go/internal/publish"
	"github.com/user/ce65_converter_go/internal/report"
)

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML configuration file (default: built-in CE65 defaults)")
	output := fs.String("o", "-", "Output file for JSON lines of planes, - for stdout, empty to discard")
	workers := fs.Int("workers", 0, "Number of conversion workers (default: GOMAXPROCS)")
	reportFile := fs.String("report", "", "Write a PDF run report to this file")
	metricsListen := fs.String("metrics-listen", "", "Serve Prometheus metrics on this address (overrides prometheus.listen)")
	stopOnError := fs.Bool("stop-on-error", false, "Abort at the first event that fails to convert")
	top := fs.Int("top", 10, "Number of most active pixels in the summary")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no capture files given")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}

	var opts []analysis.Option
	var m *metrics.Metrics
	listen := *metricsListen
	if listen == "" && cfg != nil && cfg.Prometheus.Enabled {
		listen = cfg.Prometheus.Listen
	}
	if listen != "" {
		namespace := "ce65"
		if cfg != nil {
			namespace = cfg.Prometheus.Namespace
		}
		m = metrics.New(namespace)
		opts = append(opts, analysis.WithRecorder(m))
		go func() {
			if err := m.Serve(ctx, listen); err != nil {
				logging.Errorf("Metrics server: %v", err)
			}
		}()
	}

	runID := publish.NewRunID()
	var pub *publish.Publisher
	if cfg != nil {
		pub, err = publish.NewPublisher(cfg.MQTT, runID)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		if pub != nil && m != nil {
			pub.OnPublished = m.IncPublished
		}
	}

	converter := analysis.NewConverter(cfg, opts...)
	hitmap := analysis.NewHitmap(converter.Geometry())

	out, closeOut, err := openOutput(*output)
	if err != nil {
		return err
	}
	defer closeOut()

	runOpts := pipeline.Options{
		Converter:   converter,
		Workers:     *workers,
		Hitmap:      hitmap,
		Output:      out,
		StopOnError: *stopOnError,
	}
	if pub != nil {
		runOpts.Sink = pub
	}
	if m != nil {
		runOpts.OnEvent = m.IncEventsRead
	}

	logging.Infof("Run %s: converting %d capture file(s)", runID, fs.NArg())
	start := time.Now()
	var total pipeline.Stats
	for _, path := range fs.Args() {
		stats, err := convertFile(ctx, path, runOpts)
		total.Read += stats.Read
		total.Converted += stats.Converted
		total.Declined += stats.Declined
		total.Failed += stats.Failed
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	logging.Infof("Run %s: %d events read, %d converted, %d declined, %d failed in %s",
		runID, total.Read, total.Converted, total.Declined, total.Failed, time.Since(start).Round(time.Millisecond))

	if err := closeOut(); err != nil {
		return err
	}

	summary := hitmap.Summarize(*top)
	if err := pub.PublishSummary(summary); err != nil {
		logging.Warningf("Run summary not published: %v", err)
	}

	if *reportFile != "" {
		info := report.ReportInfo{
			Source:    fmt.Sprint(fs.Args()),
			RunID:     runID,
			Generated: time.Now(),
			SeedSNR:   cfg.SeedSNR(),
		}
		if s, err := converter.Suppressor(); err == nil {
			info.Submatrices = s.Table().Entries()
		}
		if err := report.WritePDFReportFile(*reportFile, info, summary); err != nil {
			return err
		}
		logging.Infof("PDF report written to %s", *reportFile)
	}
	return nil
}

func convertFile(ctx context.Context, path string, opts pipeline.Options) (pipeline.Stats, error) {
	r, err := parser.OpenCaptureFile(path)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer r.Close()

	last := time.Now()
	opts.Progress = func(stats pipeline.Stats) {
		if time.Since(last) >= 5*time.Second {
			logging.Infof("%s: %d events, %d converted", path, stats.Read, stats.Converted)
			last = time.Now()
		}
	}
	return pipeline.Run(ctx, r, opts)
}

// openOutput returns the plane writer and an idempotent close function.
func openOutput(path string) (io.Writer, func() error, error) {
	switch path {
	case "":
		return nil, func() error { return nil }, nil
	case "-":
		bw := bufio.NewWriter(os.Stdout)
		return bw, bw.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	bw := bufio.NewWriter(f)
	closed := false
	return bw, func() error {
		if closed {
			return nil
		}
		closed = true
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}
