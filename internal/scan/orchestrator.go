// Package scan coordinates a full frequency scan: the planner slices the
// requested ranges into analyzer windows, the device session is tuned to
// each window in turn, sweeps collected during the dwell are reduced by a
// calculator, and the aggregated points are summarized, audited, persisted
// and published as telemetry.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spectrum-scan/rfscan/internal/audit"
	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/plan"
	"github.com/spectrum-scan/rfscan/internal/stats"
	"github.com/spectrum-scan/rfscan/internal/sweep"
	"github.com/spectrum-scan/rfscan/internal/telemetry"
)

// Request describes one scan.
type Request struct {
	Ranges     []plan.Range  `json:"ranges"`
	RBWMHz     float64       `json:"rbwMhz"`
	Dwell      time.Duration `json:"dwell"`
	Calculator string        `json:"calculator"`
}

// Result is a completed (or aborted) scan.
type Result struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Request    Request       `json:"request"`
	Points     []sweep.Point `json:"points"`
	Stats      stats.Summary `json:"stats"`
}

// Store persists completed scan results.
type Store interface {
	Save(ctx context.Context, res *Result) error
}

// Publisher receives scan progress events. *telemetry.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data map[string]any) telemetry.Event
}

// Options wires the orchestrator's collaborators. All of them are optional
// except the analyzer.
type Options struct {
	// CommandTimeout bounds each window change; each subrange gets the
	// dwell plus this timeout.
	CommandTimeout time.Duration

	Hub    Publisher
	Audit  *audit.Logger
	Store  Store
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Orchestrator runs scans against one analyzer session.
type Orchestrator struct {
	analyzer device.SpectrumAnalyzer
	opts     Options
	log      *zap.Logger
	tracer   trace.Tracer
}

// New creates an orchestrator for the given analyzer.
func New(analyzer device.SpectrumAnalyzer, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		analyzer: analyzer,
		opts:     opts,
		log:      opts.Logger,
		tracer:   otel.Tracer("rfscan/scan"),
	}
}

// Run executes one scan. A subrange failure aborts the scan with a
// normalized error; points aggregated before the failure are preserved in
// the returned Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
		Request:   req,
	}

	ctx, span := o.tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("scan.id", res.ID),
		attribute.Float64("scan.rbw_mhz", req.RBWMHz),
		attribute.String("scan.calculator", req.Calculator),
	))
	defer span.End()

	calc, err := sweep.CalculatorByName(req.Calculator)
	if err != nil {
		o.logAudit("scan", res, err, time.Since(start))
		return nil, err
	}
	windows, err := plan.PlanAll(req.Ranges, req.RBWMHz)
	if err != nil {
		o.logAudit("scan", res, err, time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.Int("scan.windows", len(windows)))

	o.publish("scanStarted", map[string]any{
		"scanId":     res.ID,
		"ranges":     req.Ranges,
		"windows":    len(windows),
		"rbwMhz":     req.RBWMHz,
		"calculator": calc.Name(),
	})
	o.log.Info("scan started",
		zap.String("scanId", res.ID),
		zap.Int("windows", len(windows)),
		zap.Float64("rbwMhz", req.RBWMHz),
		zap.String("calculator", calc.Name()))

	var coll sweep.Collection
	for i, w := range windows {
		points, err := o.scanWindow(ctx, res.ID, i, w, req.Dwell, calc, &coll)
		if err != nil {
			err = device.NormalizeError(err)
			res.FinishedAt = time.Now().UTC()
			res.Stats = stats.Calculate(res.Points)
			o.publish("fault", map[string]any{
				"scanId":  res.ID,
				"window":  i,
				"code":    audit.CodeFromError(err),
				"message": err.Error(),
			})
			o.logAudit("scan", res, err, time.Since(start))
			return res, fmt.Errorf("scan %s: window %d (%.3f-%.3f MHz): %w",
				res.ID, i, w.StartMHz, w.StopMHz, err)
		}
		res.Points = append(res.Points, points...)
	}

	res.FinishedAt = time.Now().UTC()
	res.Stats = stats.Calculate(res.Points)

	o.logAudit("scan", res, nil, time.Since(start))
	o.publish("scanCompleted", map[string]any{
		"scanId":     res.ID,
		"points":     len(res.Points),
		"peakMhz":    res.Stats.MaxFreqMHz,
		"peakDbm":    res.Stats.MaxDBm,
		"durationMs": time.Since(start).Milliseconds(),
	})
	o.log.Info("scan completed",
		zap.String("scanId", res.ID),
		zap.Int("points", len(res.Points)),
		zap.Duration("duration", time.Since(start)))

	if o.opts.Store != nil {
		if err := o.opts.Store.Save(ctx, res); err != nil {
			// History is best-effort; the scan itself succeeded.
			o.log.Warn("failed to persist scan result",
				zap.String("scanId", res.ID), zap.Error(err))
		}
	}
	return res, nil
}

// scanWindow tunes one window, collects sweeps for the dwell duration, and
// aggregates them.
func (o *Orchestrator) scanWindow(ctx context.Context, scanID string, index int, w plan.Range, dwell time.Duration, calc sweep.Calculator, coll *sweep.Collection) ([]sweep.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, dwell+o.opts.CommandTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "scan.window", trace.WithAttributes(
		attribute.Int("window.index", index),
		attribute.Float64("window.start_mhz", w.StartMHz),
		attribute.Float64("window.stop_mhz", w.StopMHz),
	))
	defer span.End()

	o.publish("rangeStarted", map[string]any{
		"scanId":   scanID,
		"window":   index,
		"startMhz": w.StartMHz,
		"stopMhz":  w.StopMHz,
	})

	if err := o.analyzer.SetWindow(ctx, w.StartMHz, w.StopMHz); err != nil {
		return nil, err
	}

	sweeps := o.analyzer.Sweeps()

	// Sweeps buffered before the window change was confirmed still carry
	// the old window's frequencies. Drop them before the dwell starts.
drain:
	for {
		select {
		case _, ok := <-sweeps:
			if !ok {
				return nil, fmt.Errorf("sweep stream closed: %w", device.ErrUnavailable)
			}
		default:
			break drain
		}
	}

	coll.Reset()
	timer := time.NewTimer(dwell)
	defer timer.Stop()

collect:
	for {
		select {
		case sw, ok := <-sweeps:
			if !ok {
				return nil, fmt.Errorf("sweep stream closed: %w", device.ErrUnavailable)
			}
			coll.Add(sw)
			o.publish("sweep", map[string]any{
				"scanId": scanID,
				"window": index,
				"points": sw.Points(),
			})
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if coll.Count() == 0 {
		return nil, fmt.Errorf("no sweeps received during dwell: %w", device.ErrUnavailable)
	}

	points := coll.Aggregate(calc)
	span.SetAttributes(
		attribute.Int("window.sweeps", coll.Count()),
		attribute.Int("window.points", len(points)),
	)
	o.publish("rangeCompleted", map[string]any{
		"scanId": scanID,
		"window": index,
		"sweeps": coll.Count(),
		"points": len(points),
	})
	o.log.Debug("window scanned",
		zap.Int("window", index),
		zap.Float64("startMhz", w.StartMHz),
		zap.Float64("stopMhz", w.StopMHz),
		zap.Int("sweeps", coll.Count()))
	return points, nil
}

func (o *Orchestrator) publish(eventType string, data map[string]any) {
	if o.opts.Hub == nil {
		return
	}
	data["ts"] = time.Now().UTC().Format(time.RFC3339)
	o.opts.Hub.Publish(eventType, data)
}

func (o *Orchestrator) logAudit(action string, res *Result, err error, latency time.Duration) {
	if o.opts.Audit == nil {
		return
	}
	o.opts.Audit.LogAction(action, map[string]any{
		"scanId":     res.ID,
		"ranges":     res.Request.Ranges,
		"rbwMhz":     res.Request.RBWMHz,
		"calculator": res.Request.Calculator,
		"points":     len(res.Points),
	}, err, latency)
}
