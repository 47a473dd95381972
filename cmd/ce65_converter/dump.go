package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/user/ce65_converter_go/internal/parser"
)

func runDump(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML configuration file (for the matrix geometry)")
	maxEvents := fs.Int("n", 1, "Number of CE65 events to dump, 0 for all")
	allFrames := fs.Bool("all", false, "Dump every frame instead of the first and last")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no capture files given")
	}
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	dumped := 0
	for _, path := range fs.Args() {
		n, err := dumpFile(bw, path, cfg.GeometryOrDefault(), *maxEvents-dumped, *maxEvents == 0, *allFrames)
		dumped += n
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if *maxEvents > 0 && dumped >= *maxEvents {
			break
		}
	}
	return bw.Flush()
}

func dumpFile(w io.Writer, path string, g parser.Geometry, limit int, unlimited, allFrames bool) (int, error) {
	r, err := parser.OpenCaptureFile(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	dumped := 0
	for unlimited || dumped < limit {
		ev, err := r.Next()
		if err == io.EOF {
			return dumped, nil
		}
		if err != nil {
			return dumped, err
		}
		capture, ok := parser.AsCapture(ev)
		if !ok {
			continue
		}
		if err := dumpCapture(w, capture, g, allFrames); err != nil {
			return dumped, err
		}
		dumped++
	}
	return dumped, nil
}

func dumpCapture(w io.Writer, capture parser.RawCapture, g parser.Geometry, allFrames bool) error {
	fmt.Fprintf(w, "== device %d event %d: %d frames\n", capture.DeviceN, capture.EventN, len(capture.Frames))
	indices := make([]int, 0, len(capture.Frames))
	for i := range capture.Frames {
		if allFrames || i == 0 || i == len(capture.Frames)-1 {
			indices = append(indices, i)
		}
	}
	for _, i := range indices {
		m, err := parser.DecodeFrame(capture.Frames[i], g)
		if err != nil {
			fmt.Fprintf(w, "-- frame %d: %v\n", i, err)
			continue
		}
		fmt.Fprintf(w, "-- frame %d\n", i)
		if err := parser.DumpFrame(w, m); err != nil {
			return err
		}
	}
	return nil
}
