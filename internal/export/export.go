// Package export writes aggregated scan results to interchange formats.
//
// The CSV format is one "freqMHz, dBm" pair per line with fixed precision.
// The WSM format targets the frequency-scan import of Sennheiser Wireless
// Systems Manager: a small header block followed by semicolon-separated
// "kHz; dBm" rows.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spectrum-scan/rfscan/internal/sweep"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatWSM Format = "wsm"
)

// ErrUnknownFormat is returned for format names other than csv and wsm.
var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat resolves a format by case-insensitive name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv", "":
		return FormatCSV, nil
	case "wsm":
		return FormatWSM, nil
	default:
		return "", fmt.Errorf("%w: %q (available: csv, wsm)", ErrUnknownFormat, name)
	}
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// WriteCSV writes points as "%.3f, %.1f" lines, frequency in MHz.
func WriteCSV(w io.Writer, points []sweep.Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		if _, err := fmt.Fprintf(bw, "%.3f, %.1f\n", p.FreqMHz, p.DBm); err != nil {
			return fmt.Errorf("export: write csv: %w", err)
		}
	}
	return bw.Flush()
}

// WriteWSM writes points in the WSM frequency-scan layout: a header naming
// the scan and its span, then one "kHz; dBm" row per point.
func WriteWSM(w io.Writer, points []sweep.Point, scannedAt time.Time) error {
	bw := bufio.NewWriter(w)

	var startKHz, stopKHz float64
	if len(points) > 0 {
		startKHz = points[0].FreqMHz * 1000
		stopKHz = points[len(points)-1].FreqMHz * 1000
	}

	header := []string{
		"Receiver; RF Explorer",
		fmt.Sprintf("Date/Time; %s", scannedAt.Format("2006-01-02 15:04:05")),
		"RFUnit; dBm",
		fmt.Sprintf("Frequency Range [kHz]; %.0f; %.0f;", startKHz, stopKHz),
		"Frequency; RF level (%); RF level",
	}
	for _, line := range header {
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return fmt.Errorf("export: write wsm header: %w", err)
		}
	}

	for _, p := range points {
		if _, err := fmt.Fprintf(bw, "%.0f; ; %.1f\n", p.FreqMHz*1000, p.DBm); err != nil {
			return fmt.Errorf("export: write wsm: %w", err)
		}
	}
	return bw.Flush()
}

// Write dispatches on format.
func Write(w io.Writer, format Format, points []sweep.Point, scannedAt time.Time) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, points)
	case FormatWSM:
		return WriteWSM(w, points, scannedAt)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DefaultFileName returns the conventional output name for a scan started at
// the given time, e.g. "Scan 2026-08-25 14:30.csv".
func DefaultFileName(start time.Time, format Format) string {
	return "Scan " + start.Format("2006-01-02 15:04") + format.Extension()
}

// WriteFile writes points to a file, creating or truncating it.
func WriteFile(path string, format Format, points []sweep.Point, scannedAt time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := Write(f, format, points, scannedAt); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
