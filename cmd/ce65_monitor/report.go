package main

import (
	"fmt"
	"os"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/report"
)

func writeReport(path string, info report.ReportInfo, summary *analysis.RunSummary, plotImages map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.BuildPDFReport(f, info, summary, plotImages); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
