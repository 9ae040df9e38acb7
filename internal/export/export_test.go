package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrum-scan/rfscan/internal/sweep"
)

var testPoints = []sweep.Point{
	{FreqMHz: 433.0, DBm: -100.0},
	{FreqMHz: 433.025, DBm: -42.5},
	{FreqMHz: 433.05, DBm: -71.25},
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("wsm")
	require.NoError(t, err)
	assert.Equal(t, FormatWSM, f)

	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWriteCSV(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, testPoints))

	want := "433.000, -100.0\n433.025, -42.5\n433.050, -71.2\n"
	assert.Equal(t, want, sb.String())
}

func TestWriteCSVEmpty(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, nil))
	assert.Empty(t, sb.String())
}

func TestWriteWSM(t *testing.T) {
	var sb strings.Builder
	at := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	require.NoError(t, WriteWSM(&sb, testPoints, at))

	out := sb.String()
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "Receiver; RF Explorer", lines[0])
	assert.Equal(t, "Date/Time; 2026-08-25 14:30:00", lines[1])
	assert.Equal(t, "Frequency Range [kHz]; 433000; 433050;", lines[3])
	assert.Equal(t, "433000; ; -100.0", lines[5])
	assert.Equal(t, "433025; ; -42.5", lines[6])
	assert.Equal(t, "433050; ; -71.2", lines[7])
}

func TestDefaultFileName(t *testing.T) {
	start := time.Date(2026, 8, 25, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "Scan 2026-08-25 09:05.csv", DefaultFileName(start, FormatCSV))
	assert.Equal(t, "Scan 2026-08-25 09:05.wsm", DefaultFileName(start, FormatWSM))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.csv")
	require.NoError(t, WriteFile(path, FormatCSV, testPoints, time.Now()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "433.025, -42.5\n")
}

func TestWriteFileBadPath(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "scan.csv"), FormatCSV, testPoints, time.Now())
	assert.Error(t, err)
}
