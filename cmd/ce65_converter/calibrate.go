package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
	"github.com/user/ce65_converter_go/internal/pipeline"
)

func runCalibrate(args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML configuration file (for the matrix geometry)")
	output := fs.String("o", "calibration.csv", "Output calibration CSV")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no pedestal capture files given")
	}
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	g := cfg.GeometryOrDefault()

	var captures []parser.RawCapture
	for _, path := range fs.Args() {
		r, err := parser.OpenCaptureFile(path)
		if err != nil {
			return err
		}
		run, err := pipeline.ReadPedestalRun(r)
		r.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logging.Infof("%s: %d pedestal events", path, len(run))
		captures = append(captures, run...)
	}

	calib, err := analysis.BuildCalibration(captures, g)
	if err != nil {
		return err
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create calibration file: %w", err)
	}
	if err := parser.WriteCalibrationCSV(f, calib.Records()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.Infof("Calibration of %s from %d events written to %s", g, len(captures), *output)
	return nil
}
