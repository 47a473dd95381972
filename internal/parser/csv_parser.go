package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CalibrationRecord is one pixel of a pedestal/noise map.
type CalibrationRecord struct {
	Column   int
	Row      int
	Pedestal float64
	Noise    float64
}

// ParsedCalibration is the content of a calibration CSV file. Records keep
// file order; completeness is checked by the consumer.
type ParsedCalibration struct {
	Records     []CalibrationRecord
	ParseErrors []string // Non-fatal oddities, e.g. extra columns
}

func NewParsedCalibration() *ParsedCalibration {
	return &ParsedCalibration{
		Records:     make([]CalibrationRecord, 0),
		ParseErrors: make([]string, 0),
	}
}

var calibrationHeader = []string{"column", "row", "pedestal", "noise"}

func isCalibrationHeader(row []string) bool {
	if len(row) < len(calibrationHeader) {
		return false
	}
	for i, name := range calibrationHeader {
		if strings.ToLower(strings.TrimSpace(row[i])) != name {
			return false
		}
	}
	return true
}

// ParseCalibrationCSV reads "column,row,pedestal,noise" rows. Lines starting
// with '#' and a header line are skipped.
func ParseCalibrationCSV(r io.Reader) (*ParsedCalibration, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	parsed := NewParsedCalibration()
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCalibrationFormat, err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if isCalibrationHeader(row) {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("%w: record %d has %d fields, want 4", ErrCalibrationFormat, line, len(row))
		}
		if len(row) > 4 {
			parsed.ParseErrors = append(parsed.ParseErrors, fmt.Sprintf("Warning: record %d has %d fields, extra fields ignored.", line, len(row)))
		}

		var rec CalibrationRecord
		if rec.Column, err = strconv.Atoi(strings.TrimSpace(row[0])); err != nil {
			return nil, fmt.Errorf("%w: record %d column: %v", ErrCalibrationFormat, line, err)
		}
		if rec.Row, err = strconv.Atoi(strings.TrimSpace(row[1])); err != nil {
			return nil, fmt.Errorf("%w: record %d row: %v", ErrCalibrationFormat, line, err)
		}
		if rec.Pedestal, err = strconv.ParseFloat(strings.TrimSpace(row[2]), 64); err != nil {
			return nil, fmt.Errorf("%w: record %d pedestal: %v", ErrCalibrationFormat, line, err)
		}
		if rec.Noise, err = strconv.ParseFloat(strings.TrimSpace(row[3]), 64); err != nil {
			return nil, fmt.Errorf("%w: record %d noise: %v", ErrCalibrationFormat, line, err)
		}
		parsed.Records = append(parsed.Records, rec)
	}
	return parsed, nil
}

// ReadCalibrationFile opens path and parses it with ParseCalibrationCSV.
func ReadCalibrationFile(path string) (*ParsedCalibration, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer file.Close()
	return ParseCalibrationCSV(file)
}

// WriteCalibrationCSV writes records with a header line.
func WriteCalibrationCSV(w io.Writer, records []CalibrationRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(calibrationHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Column),
			strconv.Itoa(rec.Row),
			strconv.FormatFloat(rec.Pedestal, 'g', -1, 64),
			strconv.FormatFloat(rec.Noise, 'g', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
