package protocol

import (
	"errors"
	"fmt"
)

// Protocol constants shared with the vendor firmware.
const (
	// Baud is the fixed serial line rate of every RF Explorer model.
	Baud = 500000

	// MinSweepPoints is the smallest sweep resolution the firmware
	// supports. Subrange planning derives the window span from it.
	MinSweepPoints = 112

	// maxFrameBody is the largest command body that fits the single
	// length byte of the frame (length byte counts body + 2).
	maxFrameBody = 253
)

// Errors returned by command encoding.
var (
	ErrCommandTooLong = errors.New("protocol: command body exceeds frame length byte")
	ErrWindowRange    = errors.New("protocol: window frequencies must fit 7 digits of kHz")
)

// EncodeCommand frames a command body for transmission: '#', a length byte
// covering the whole frame, then the body.
func EncodeCommand(body string) ([]byte, error) {
	if len(body) > maxFrameBody {
		return nil, ErrCommandTooLong
	}
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, '#', byte(len(body)+2))
	frame = append(frame, body...)
	return frame, nil
}

// Pre-built command bodies understood by the firmware.
const (
	cmdRequestConfig = "C0"
	cmdHold          = "CH"
	cmdShutdown      = "CS"
	cmdReset         = "r"
	cmdLCDOn         = "L1"
	cmdLCDOff        = "L0"
)

// RequestConfig asks the device to report its model and current configuration.
func RequestConfig() []byte { return mustEncode(cmdRequestConfig) }

// Reset reboots the device. The host must wait for it to stabilize and
// re-request configuration afterwards.
func Reset() []byte { return mustEncode(cmdReset) }

// Hold stops the current sweep.
func Hold() []byte { return mustEncode(cmdHold) }

// Shutdown powers the device off.
func Shutdown() []byte { return mustEncode(cmdShutdown) }

// LCD enables or disables the device screen. Scanning with the screen off
// is slightly faster and extends battery life.
func LCD(on bool) []byte {
	if on {
		return mustEncode(cmdLCDOn)
	}
	return mustEncode(cmdLCDOff)
}

// SetWindow builds the sweep window command for the given frequency range
// and amplitude span. Frequencies are sent as 7-digit kHz values, amplitudes
// as 4-character signed dBm.
func SetWindow(startMHz, stopMHz float64, topDBm, bottomDBm int) ([]byte, error) {
	startKHz := int64(startMHz*1000 + 0.5)
	stopKHz := int64(stopMHz*1000 + 0.5)
	if startKHz < 0 || startKHz > 9999999 || stopKHz < 0 || stopKHz > 9999999 {
		return nil, ErrWindowRange
	}
	body := fmt.Sprintf("C2-F:%07d,%07d,%s,%s",
		startKHz, stopKHz, formatAmplitude(topDBm), formatAmplitude(bottomDBm))
	return EncodeCommand(body)
}

// formatAmplitude renders a dBm value as the 4-character signed field the
// firmware expects, e.g. -010 or -120.
func formatAmplitude(dBm int) string {
	if dBm < 0 {
		return fmt.Sprintf("-%03d", -dBm)
	}
	return fmt.Sprintf("%04d", dBm)
}

func mustEncode(body string) []byte {
	frame, err := EncodeCommand(body)
	if err != nil {
		panic(err)
	}
	return frame
}
