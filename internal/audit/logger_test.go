package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/plan"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestLogActionSuccess(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir)
	require.NoError(t, err)
	defer l.Close()

	l.LogAction("scan", map[string]any{"startMhz": 433.0, "stopMhz": 434.0}, nil, 1500*time.Millisecond)

	entries := readEntries(t, l.FilePath())
	require.Len(t, entries, 1)
	assert.Equal(t, "scan", entries[0].Action)
	assert.Equal(t, "SUCCESS", entries[0].Outcome)
	assert.Equal(t, "SUCCESS", entries[0].Code)
	assert.Equal(t, int64(1500), entries[0].LatencyMS)
	assert.Equal(t, 433.0, entries[0].Params["startMhz"])
}

func TestLogActionError(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir)
	require.NoError(t, err)
	defer l.Close()

	l.LogAction("setWindow", nil, device.ErrUnavailable, time.Millisecond)

	entries := readEntries(t, l.FilePath())
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0].Outcome)
	assert.Equal(t, "UNAVAILABLE", entries[0].Code)
}

func TestCodeFromError(t *testing.T) {
	assert.Equal(t, "SUCCESS", CodeFromError(nil))
	assert.Equal(t, "INVALID_RANGE", CodeFromError(device.ErrInvalidRange))
	assert.Equal(t, "INVALID_RANGE", CodeFromError(plan.ErrFrequencyOrder))
	assert.Equal(t, "BUSY", CodeFromError(device.ErrBusy))
	assert.Equal(t, "UNAVAILABLE", CodeFromError(device.NormalizeError(errors.New("port has been closed"))))
	assert.Equal(t, "TIMEOUT", CodeFromError(context.DeadlineExceeded))
	assert.Equal(t, "INTERNAL", CodeFromError(errors.New("boom")))
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir)
	require.NoError(t, err)
	defer l.Close()

	l.LogAction("scan", nil, nil, time.Millisecond)
	require.NoError(t, l.Rotate())
	l.LogAction("scan", nil, nil, time.Millisecond)

	entries := readEntries(t, l.FilePath())
	assert.Len(t, entries, 1)

	matches, err := filepath.Glob(l.FilePath() + ".*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestNewLoggerCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	l, err := NewLogger(dir)
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(l.FilePath())
	assert.NoError(t, err)
}
