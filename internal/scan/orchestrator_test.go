package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/plan"
	"github.com/spectrum-scan/rfscan/internal/protocol"
	"github.com/spectrum-scan/rfscan/internal/sweep"
	"github.com/spectrum-scan/rfscan/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAnalyzer emits synthetic sweeps for whatever window is active. Sweep
// emission runs in its own goroutine, as it does in a live session.
type fakeAnalyzer struct {
	mu       sync.Mutex
	window   plan.Range
	active   bool
	calls    []plan.Range
	failCall int // 1-based SetWindow call that fails; 0 disables
	failErr  error
	silent   bool // never emit sweeps

	sweeps chan sweep.Sweep
	done   chan struct{}
	wg     sync.WaitGroup
}

func newFakeAnalyzer() *fakeAnalyzer {
	f := &fakeAnalyzer{
		sweeps: make(chan sweep.Sweep, 16),
		done:   make(chan struct{}),
	}
	f.wg.Add(1)
	go f.emitLoop()
	return f
}

func (f *fakeAnalyzer) emitLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		active, w, silent := f.active, f.window, f.silent
		f.mu.Unlock()
		if !active || silent {
			continue
		}

		amplitudes := make([]float64, 4)
		for i := range amplitudes {
			amplitudes[i] = -50
		}
		sw := sweep.Sweep{
			StartMHz:   w.StartMHz,
			StepMHz:    (w.StopMHz - w.StartMHz) / float64(len(amplitudes)-1),
			Amplitudes: amplitudes,
		}
		select {
		case f.sweeps <- sw:
		default:
		}
	}
}

func (f *fakeAnalyzer) Reset(ctx context.Context) error { return nil }

func (f *fakeAnalyzer) SetWindow(ctx context.Context, startMHz, stopMHz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, plan.Range{StartMHz: startMHz, StopMHz: stopMHz})
	if f.failCall > 0 && len(f.calls) == f.failCall {
		return f.failErr
	}
	f.window = plan.Range{StartMHz: startMHz, StopMHz: stopMHz}
	f.active = true
	return nil
}

func (f *fakeAnalyzer) Sweeps() <-chan sweep.Sweep { return f.sweeps }
func (f *fakeAnalyzer) Config() protocol.Config    { return protocol.Config{} }
func (f *fakeAnalyzer) Info() protocol.DeviceInfo  { return protocol.DeviceInfo{} }

func (f *fakeAnalyzer) Close() error {
	close(f.done)
	f.wg.Wait()
	return nil
}

func (f *fakeAnalyzer) setWindowCalls() []plan.Range {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plan.Range(nil), f.calls...)
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (p *recordingPublisher) Publish(eventType string, data map[string]any) telemetry.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := telemetry.Event{ID: int64(len(p.events) + 1), Type: eventType, Data: data}
	p.events = append(p.events, event)
	return event
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

// recordingStore captures saved results.
type recordingStore struct {
	mu    sync.Mutex
	saved []*Result
	err   error
}

func (s *recordingStore) Save(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, res)
	return nil
}

func testRequest() Request {
	return Request{
		Ranges:     []plan.Range{{StartMHz: 240, StopMHz: 250}},
		RBWMHz:     0.025,
		Dwell:      25 * time.Millisecond,
		Calculator: "MAX",
	}
}

func TestRunVisitsEveryPlannedWindow(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()

	pub := &recordingPublisher{}
	store := &recordingStore{}
	o := New(analyzer, Options{CommandTimeout: time.Second, Hub: pub, Store: store})

	req := testRequest()
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	windows, err := plan.PlanAll(req.Ranges, req.RBWMHz)
	require.NoError(t, err)
	assert.Equal(t, windows, analyzer.setWindowCalls())

	assert.NotEmpty(t, res.ID)
	assert.NotEmpty(t, res.Points)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
	assert.Equal(t, len(res.Points), res.Stats.Count)
	assert.Equal(t, -50.0, res.Stats.MaxDBm)

	// Aggregated points arrive sorted within each window and windows are
	// visited in ascending order.
	for i := 1; i < len(res.Points); i++ {
		assert.Less(t, res.Points[i-1].FreqMHz, res.Points[i].FreqMHz)
	}

	types := pub.types()
	assert.Equal(t, "scanStarted", types[0])
	assert.Equal(t, "scanCompleted", types[len(types)-1])
	assert.Contains(t, types, "rangeStarted")
	assert.Contains(t, types, "rangeCompleted")
	assert.Contains(t, types, "sweep")

	require.Len(t, store.saved, 1)
	assert.Equal(t, res.ID, store.saved[0].ID)
}

func TestRunUnknownCalculator(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()

	o := New(analyzer, Options{CommandTimeout: time.Second})
	req := testRequest()
	req.Calculator = "MEDIAN"

	res, err := o.Run(context.Background(), req)
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, analyzer.setWindowCalls())
}

func TestRunInvalidRange(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()

	o := New(analyzer, Options{CommandTimeout: time.Second})
	req := testRequest()
	req.Ranges = []plan.Range{{StartMHz: 250, StopMHz: 240}}

	_, err := o.Run(context.Background(), req)
	assert.ErrorIs(t, err, plan.ErrFrequencyOrder)
}

func TestRunWindowFailurePreservesPoints(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()
	analyzer.failCall = 3
	analyzer.failErr = device.ErrBusy

	pub := &recordingPublisher{}
	store := &recordingStore{}
	o := New(analyzer, Options{CommandTimeout: time.Second, Hub: pub, Store: store})

	res, err := o.Run(context.Background(), testRequest())
	require.ErrorIs(t, err, device.ErrBusy)
	require.NotNil(t, res)

	// Two windows completed before the failure.
	assert.NotEmpty(t, res.Points)
	assert.False(t, res.FinishedAt.IsZero())
	assert.Contains(t, pub.types(), "fault")

	// Aborted scans are not persisted.
	assert.Empty(t, store.saved)
}

func TestRunNoSweepsDuringDwell(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()
	analyzer.silent = true

	o := New(analyzer, Options{CommandTimeout: time.Second})
	_, err := o.Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestRunSweepStreamClosed(t *testing.T) {
	analyzer := newFakeAnalyzer()
	analyzer.silent = true
	analyzer.Close()
	close(analyzer.sweeps)

	o := New(analyzer, Options{CommandTimeout: time.Second})
	_, err := o.Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestRunContextCanceled(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()
	analyzer.silent = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(analyzer, Options{CommandTimeout: time.Second})
	_, err := o.Run(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStoreFailureIsNotFatal(t *testing.T) {
	analyzer := newFakeAnalyzer()
	defer analyzer.Close()

	store := &recordingStore{err: errors.New("disk full")}
	o := New(analyzer, Options{CommandTimeout: time.Second, Store: store})

	res, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Points)
}
