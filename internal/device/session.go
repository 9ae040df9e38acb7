package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/spectrum-scan/rfscan/internal/protocol"
	"github.com/spectrum-scan/rfscan/internal/sweep"
)

// SpectrumAnalyzer is the southbound seam the scan orchestrator drives.
// Session is the serial implementation; tests substitute an emulator-backed
// session or a fake.
type SpectrumAnalyzer interface {
	// Reset reboots the device and waits for it to identify itself again.
	Reset(ctx context.Context) error

	// SetWindow tunes the sweep window and blocks until the device
	// confirms the new start frequency.
	SetWindow(ctx context.Context, startMHz, stopMHz float64) error

	// Sweeps delivers decoded sweeps for the active window. Sweeps are
	// dropped, not queued, when the consumer falls behind.
	Sweeps() <-chan sweep.Sweep

	// Config returns the last configuration reported by the device.
	Config() protocol.Config

	// Info returns the device identification.
	Info() protocol.DeviceInfo

	Close() error
}

// Options tunes session behavior.
type Options struct {
	// Baud is the serial line rate Dial opens the port with. The stock
	// firmware only speaks protocol.Baud, which is the default.
	Baud int

	// StabilizeDelay is how long to wait after a reset before talking to
	// the device again. The firmware needs about 3 seconds.
	StabilizeDelay time.Duration

	// ConfigWait bounds how long to wait for the device to report its
	// model and configuration after a request.
	ConfigWait time.Duration

	// AmpTopDBm and AmpBottomDBm set the amplitude span sent with every
	// window change.
	AmpTopDBm    int
	AmpBottomDBm int

	// SweepBuffer is the capacity of the sweep delivery channel.
	SweepBuffer int

	// SkipReset connects without rebooting the device first.
	SkipReset bool

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Baud <= 0 {
		o.Baud = protocol.Baud
	}
	if o.StabilizeDelay == 0 {
		o.StabilizeDelay = 3 * time.Second
	}
	if o.ConfigWait == 0 {
		o.ConfigWait = 10 * time.Second
	}
	if o.AmpTopDBm == 0 && o.AmpBottomDBm == 0 {
		o.AmpTopDBm = -10
		o.AmpBottomDBm = -120
	}
	if o.SweepBuffer == 0 {
		o.SweepBuffer = 16
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Session is a live connection to one analyzer.
type Session struct {
	rw   io.ReadWriteCloser
	opts Options
	log  *zap.Logger

	sweeps chan sweep.Sweep

	mu      sync.RWMutex
	cfg     protocol.Config
	info    protocol.DeviceInfo
	cfgSeq  int64
	lostErr error

	updated chan struct{} // coalesced state-change signal
	lost    chan struct{} // closed when the reply stream ends
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ SpectrumAnalyzer = (*Session)(nil)

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return ports, nil
}

// Dial opens the named serial port and runs the connect sequence. An empty
// name selects the first port on the system.
func Dial(ctx context.Context, portName string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if portName == "" {
		ports, err := ListPorts()
		if err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, fmt.Errorf("device: no serial ports found: %w", ErrUnavailable)
		}
		portName = ports[0]
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: opts.Baud})
	if err != nil {
		return nil, NormalizeError(err)
	}
	return Open(ctx, port, opts)
}

// Open runs the connect sequence over an already-open transport. Exported so
// tests can drive a session against the protocol emulator.
func Open(ctx context.Context, rw io.ReadWriteCloser, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		rw:      rw,
		opts:    opts,
		log:     opts.Logger,
		sweeps:  make(chan sweep.Sweep, opts.SweepBuffer),
		updated: make(chan struct{}, 1),
		lost:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	if err := s.connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// connect performs the startup sequence: reset, stabilization delay, then a
// configuration request answered by model and configuration lines.
func (s *Session) connect(ctx context.Context) error {
	if !s.opts.SkipReset {
		if err := s.writeFrame(protocol.Reset()); err != nil {
			return err
		}
		if err := sleepCtx(ctx, s.opts.StabilizeDelay); err != nil {
			return err
		}
	}

	if err := s.writeFrame(protocol.RequestConfig()); err != nil {
		return err
	}

	err := s.waitState(ctx, s.opts.ConfigWait, func() bool {
		return s.Info().MainModel != protocol.ModelNone && s.Config().SweepSteps > 0
	})
	if err != nil {
		return fmt.Errorf("device: connect: %w", err)
	}

	info := s.Info()
	s.log.Info("analyzer connected",
		zap.String("model", info.MainModel.String()),
		zap.String("firmware", info.Firmware))
	return nil
}

// Reset reboots the device and waits for it to come back.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.writeFrame(protocol.Reset()); err != nil {
		return err
	}
	if err := sleepCtx(ctx, s.opts.StabilizeDelay); err != nil {
		return err
	}

	before := s.configSeq()
	if err := s.writeFrame(protocol.RequestConfig()); err != nil {
		return err
	}
	err := s.waitState(ctx, s.opts.ConfigWait, func() bool {
		return s.configSeq() > before
	})
	if err != nil {
		return fmt.Errorf("device: reset: %w", err)
	}
	return nil
}

// SetWindow tunes the sweep window and waits for the device to confirm the
// requested start frequency. The device snaps frequencies to its internal
// grid, so confirmation allows a small tolerance.
func (s *Session) SetWindow(ctx context.Context, startMHz, stopMHz float64) error {
	frame, err := protocol.SetWindow(startMHz, stopMHz, s.opts.AmpTopDBm, s.opts.AmpBottomDBm)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidRange)
	}

	before := s.configSeq()
	if err := s.writeFrame(frame); err != nil {
		return err
	}

	wantKHz := int64(startMHz*1000 + 0.5)
	const toleranceKHz = 2

	err = s.waitState(ctx, s.opts.ConfigWait, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cfgSeq <= before {
			return false
		}
		diff := s.cfg.StartKHz - wantKHz
		return diff >= -toleranceKHz && diff <= toleranceKHz
	})
	if err != nil {
		return fmt.Errorf("device: set window %.3f-%.3f MHz: %w", startMHz, stopMHz, err)
	}
	return nil
}

// Sweeps returns the sweep delivery channel. It is closed when the session
// ends.
func (s *Session) Sweeps() <-chan sweep.Sweep { return s.sweeps }

// Config returns the last reported device configuration.
func (s *Session) Config() protocol.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Info returns the device identification, or a zero value with ModelNone
// before the first model line arrives.
func (s *Session) Info() protocol.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == (protocol.DeviceInfo{}) {
		return protocol.DeviceInfo{MainModel: protocol.ModelNone, ExpansionModel: protocol.ModelNone}
	}
	return s.info
}

// Close shuts the session down and releases the port.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.rw.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Session) configSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfgSeq
}

// readLoop decodes the reply stream until the transport fails or the session
// closes.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.sweeps)

	scanner := protocol.NewScanner(s.rw)
	for {
		msg, err := scanner.Next()
		if err != nil {
			s.mu.Lock()
			s.lostErr = NormalizeError(err)
			s.mu.Unlock()
			close(s.lost)
			return
		}

		switch m := msg.(type) {
		case protocol.ConfigMessage:
			s.mu.Lock()
			s.cfg = m.Config
			s.cfgSeq++
			s.mu.Unlock()
			s.signal()
		case protocol.ModelMessage:
			s.mu.Lock()
			s.info = m.Info
			s.mu.Unlock()
			s.signal()
		case protocol.SweepMessage:
			s.deliverSweep(m)
		case protocol.TextMessage:
			s.log.Debug("unhandled device line", zap.String("line", m.Line))
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// deliverSweep converts a sweep payload using the current configuration and
// hands it to the consumer, dropping it if the buffer is full.
func (s *Session) deliverSweep(m protocol.SweepMessage) {
	cfg := s.Config()
	if cfg.SweepSteps == 0 {
		// No configuration yet: frequencies would be meaningless.
		return
	}

	sw := sweep.Sweep{
		StartMHz:   cfg.StartMHz(),
		StepMHz:    cfg.StepMHz(),
		Amplitudes: m.DBm,
	}

	select {
	case s.sweeps <- sw:
	case <-s.done:
	default:
		s.log.Debug("sweep dropped, consumer behind",
			zap.Float64("startMhz", sw.StartMHz))
	}
}

func (s *Session) signal() {
	select {
	case s.updated <- struct{}{}:
	default:
	}
}

// waitState blocks until pred holds, the timeout elapses, the context ends,
// or the reply stream is lost.
func (s *Session) waitState(ctx context.Context, timeout time.Duration, pred func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if pred() {
			return nil
		}
		select {
		case <-s.updated:
		case <-timer.C:
			return fmt.Errorf("timed out after %v: %w", timeout, ErrUnavailable)
		case <-s.lost:
			s.mu.RLock()
			err := s.lostErr
			s.mu.RUnlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeFrame sends one framed command.
func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rw.Write(frame); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
