// Package emulator implements an in-memory RF Explorer for tests.
//
// It speaks the device side of the wire protocol over a net.Pipe transport:
// configuration requests are answered with model and configuration lines,
// window changes are applied and confirmed, and synthetic sweeps for the
// active window are emitted continuously. Signal peaks are configurable so
// tests can assert on aggregated spectra without hardware.
package emulator

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/spectrum-scan/rfscan/internal/protocol"
)

// Peak is a synthetic carrier the emulator mixes into its sweeps.
type Peak struct {
	FreqMHz  float64
	DBm      float64
	WidthMHz float64
}

// Options configures the emulated device.
type Options struct {
	Info          protocol.DeviceInfo
	MinFreqMHz    float64
	MaxFreqMHz    float64
	Steps         int
	NoiseFloorDBm float64
	Peaks         []Peak
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Info == (protocol.DeviceInfo{}) {
		o.Info = protocol.DeviceInfo{
			MainModel:      protocol.ModelWSUB1G,
			ExpansionModel: protocol.ModelNone,
			Firmware:       "01.12B26",
		}
	}
	if o.MinFreqMHz == 0 && o.MaxFreqMHz == 0 {
		o.MinFreqMHz = 0.050
		o.MaxFreqMHz = 960
	}
	if o.Steps == 0 {
		o.Steps = protocol.MinSweepPoints
	}
	if o.NoiseFloorDBm == 0 {
		o.NoiseFloorDBm = -110
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 10 * time.Millisecond
	}
	return o
}

// Emulator is one emulated analyzer.
type Emulator struct {
	conn net.Conn
	opts Options

	mu         sync.Mutex
	startKHz   int64
	stopKHz    int64
	resetCount int

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Start launches an emulator and returns the host-side transport to hand to
// a device session.
func Start(opts Options) (io.ReadWriteCloser, *Emulator) {
	opts = opts.withDefaults()
	host, dev := net.Pipe()

	e := &Emulator{
		conn: dev,
		opts: opts,
		done: make(chan struct{}),
	}
	// Boot with a default window at the bottom of the tunable range.
	e.startKHz = int64(opts.MinFreqMHz*1000 + 0.5)
	e.stopKHz = e.startKHz + int64(opts.Steps)*25 // 25 kHz default rbw

	e.wg.Add(2)
	go e.commandLoop()
	go e.sweepLoop()

	return host, e
}

// Close stops the emulator and severs the transport.
func (e *Emulator) Close() {
	e.once.Do(func() {
		close(e.done)
		_ = e.conn.Close()
	})
	e.wg.Wait()
}

// Window returns the active sweep window in MHz.
func (e *Emulator) Window() (startMHz, stopMHz float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.startKHz) / 1000, float64(e.stopKHz) / 1000
}

// ResetCount returns how many reset commands the emulator has received.
func (e *Emulator) ResetCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetCount
}

// commandLoop reads host command frames: '#', a length byte, then the body.
func (e *Emulator) commandLoop() {
	defer e.wg.Done()

	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(e.conn, buf); err != nil {
			return
		}
		if buf[0] != '#' {
			continue
		}
		if _, err := io.ReadFull(e.conn, buf); err != nil {
			return
		}
		bodyLen := int(buf[0]) - 2
		if bodyLen <= 0 {
			continue
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(e.conn, body); err != nil {
			return
		}
		e.handleCommand(string(body))
	}
}

// handleCommand runs under writeMu so replies are ordered against sweep
// emission: a sweep written after a window-confirm line is always generated
// from the new window.
func (e *Emulator) handleCommand(body string) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	switch {
	case body == "C0":
		e.writeModelLine()
		e.writeConfigLine()
	case body == "r":
		e.mu.Lock()
		e.resetCount++
		e.mu.Unlock()
		e.writeLine("RF Explorer " + e.opts.Info.Firmware)
	case len(body) > 5 && body[:5] == "C2-F:":
		e.applyWindow(body[5:])
	default:
		// CH, CS, L0/L1 and anything else: accepted, no reply.
	}
}

// applyWindow parses "SSSSSSS,EEEEEEE,TTTT,BBBB" and confirms with a fresh
// configuration line, clamping to the tunable range like the firmware does.
func (e *Emulator) applyWindow(payload string) {
	var startKHz, stopKHz, top, bottom int64
	if _, err := fmt.Sscanf(payload, "%7d,%7d,%4d,%4d", &startKHz, &stopKHz, &top, &bottom); err != nil {
		return
	}

	minKHz := int64(e.opts.MinFreqMHz*1000 + 0.5)
	maxKHz := int64(e.opts.MaxFreqMHz*1000 + 0.5)
	if startKHz < minKHz {
		startKHz = minKHz
	}
	if stopKHz > maxKHz {
		stopKHz = maxKHz
	}
	if stopKHz <= startKHz {
		return
	}

	e.mu.Lock()
	e.startKHz = startKHz
	e.stopKHz = stopKHz
	e.mu.Unlock()

	e.writeConfigLine()
}

func (e *Emulator) writeModelLine() {
	e.writeLine(fmt.Sprintf("#C2-M:%03d,%03d,%s",
		int(e.opts.Info.MainModel), int(e.opts.Info.ExpansionModel), e.opts.Info.Firmware))
}

func (e *Emulator) writeConfigLine() {
	e.mu.Lock()
	startKHz, stopKHz := e.startKHz, e.stopKHz
	e.mu.Unlock()

	stepHz := (stopKHz - startKHz) * 1000 / int64(e.opts.Steps-1)
	rbwKHz := float64(stepHz) / 1000

	e.writeLine(fmt.Sprintf("#C2-F:%07d,%07d,%s,%s,%04d,0,000,%07d,%07d,%07d,%05.0f,0000,000",
		startKHz, stepHz,
		signedAmp(-10), signedAmp(-120),
		e.opts.Steps,
		int64(e.opts.MinFreqMHz*1000+0.5),
		int64(e.opts.MaxFreqMHz*1000+0.5),
		int64((e.opts.MaxFreqMHz-e.opts.MinFreqMHz)*1000+0.5),
		rbwKHz))
}

// sweepLoop emits a sweep for the active window at each tick.
func (e *Emulator) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.writeSweep()
		}
	}
}

func (e *Emulator) writeSweep() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	startKHz, stopKHz := e.startKHz, e.stopKHz
	e.mu.Unlock()

	steps := e.opts.Steps
	stepMHz := float64(stopKHz-startKHz) / 1000 / float64(steps-1)
	startMHz := float64(startKHz) / 1000

	payload := make([]byte, 0, steps+3)
	payload = append(payload, '$', 'S', byte(steps))
	for i := 0; i < steps; i++ {
		f := startMHz + float64(i)*stepMHz
		payload = append(payload, encodeAmplitude(e.levelAt(f)))
	}
	payload = append(payload, '\r', '\n')

	_, _ = e.conn.Write(payload)
}

// levelAt returns the synthetic amplitude at a frequency: the strongest
// covering peak, or the noise floor.
func (e *Emulator) levelAt(freqMHz float64) float64 {
	level := e.opts.NoiseFloorDBm
	for _, p := range e.opts.Peaks {
		half := p.WidthMHz / 2
		if freqMHz >= p.FreqMHz-half && freqMHz <= p.FreqMHz+half && p.DBm > level {
			level = p.DBm
		}
	}
	return level
}

// writeLine writes one CRLF-terminated reply. Callers hold writeMu.
func (e *Emulator) writeLine(line string) {
	_, _ = e.conn.Write([]byte(line + "\r\n"))
}

// encodeAmplitude converts dBm to the wire byte (dBm = -b/2).
func encodeAmplitude(dBm float64) byte {
	v := int(-dBm*2 + 0.5)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// signedAmp renders a dBm value as the 4-character signed protocol field.
func signedAmp(dBm int) string {
	if dBm < 0 {
		return fmt.Sprintf("-%03d", -dBm)
	}
	return fmt.Sprintf("%04d", dBm)
}
