package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned by reply parsing.
var (
	ErrMalformedConfig = errors.New("protocol: malformed configuration line")
	ErrMalformedModel  = errors.New("protocol: malformed model line")
)

// Model identifies an RF Explorer hardware module.
type Model int

// Model codes reported in "#C2-M:" lines.
const (
	Model433M   Model = 0
	Model868M   Model = 1
	Model915M   Model = 2
	ModelWSUB1G Model = 3
	Model24G    Model = 4
	ModelWSUB3G Model = 5
	Model6G     Model = 6
	ModelNone   Model = 255
)

func (m Model) String() string {
	switch m {
	case Model433M:
		return "433M"
	case Model868M:
		return "868M"
	case Model915M:
		return "915M"
	case ModelWSUB1G:
		return "WSUB1G"
	case Model24G:
		return "2.4G"
	case ModelWSUB3G:
		return "WSUB3G"
	case Model6G:
		return "6G"
	case ModelNone:
		return "NONE"
	default:
		return fmt.Sprintf("MODEL(%d)", int(m))
	}
}

// DeviceInfo is the parsed form of a "#C2-M:" model identification line.
type DeviceInfo struct {
	MainModel      Model
	ExpansionModel Model
	Firmware       string
}

// Config is the parsed form of a "#C2-F:" configuration line. The device
// reports one after every window change and on request.
type Config struct {
	StartKHz        int64   // sweep window start
	StepHz          int64   // frequency step between sweep points
	AmpTopDBm       int     // top of the displayed amplitude span
	AmpBottomDBm    int     // bottom of the displayed amplitude span
	SweepSteps      int     // points per sweep
	ExpansionActive bool    // expansion module in use
	Mode            int     // current operational mode
	MinFreqKHz      int64   // lowest tunable frequency
	MaxFreqKHz      int64   // highest tunable frequency
	MaxSpanKHz      int64   // widest allowed window
	RBWKHz          float64 // resolution bandwidth
	AmpOffsetDB     int     // user amplitude correction
	CalculatorMode  int     // on-device calculator setting
}

// StartMHz returns the window start frequency in MHz.
func (c Config) StartMHz() float64 { return float64(c.StartKHz) / 1000 }

// StopMHz returns the frequency of the last sweep point in MHz.
func (c Config) StopMHz() float64 {
	return c.FrequencyMHz(c.SweepSteps - 1)
}

// StepMHz returns the frequency step in MHz.
func (c Config) StepMHz() float64 { return float64(c.StepHz) / 1e6 }

// FrequencyMHz returns the frequency of sweep point i in MHz.
func (c Config) FrequencyMHz(i int) float64 {
	return (float64(c.StartKHz)*1000 + float64(i)*float64(c.StepHz)) / 1e6
}

// parseConfig parses the comma-separated payload of a "#C2-F:" line.
// Older firmware reports fewer fields; the first five are mandatory.
func parseConfig(payload string) (Config, error) {
	fields := strings.Split(payload, ",")
	if len(fields) < 5 {
		return Config{}, fmt.Errorf("%w: %d fields", ErrMalformedConfig, len(fields))
	}

	var (
		cfg Config
		err error
	)
	assign := func(dst *int64, s string) {
		if err != nil {
			return
		}
		var v int64
		v, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err == nil {
			*dst = v
		}
	}
	assign(&cfg.StartKHz, fields[0])
	assign(&cfg.StepHz, fields[1])

	var top, bottom, steps int64
	assign(&top, fields[2])
	assign(&bottom, fields[3])
	assign(&steps, fields[4])
	cfg.AmpTopDBm = int(top)
	cfg.AmpBottomDBm = int(bottom)
	cfg.SweepSteps = int(steps)

	if len(fields) > 5 {
		var v int64
		assign(&v, fields[5])
		cfg.ExpansionActive = v == 1
	}
	if len(fields) > 6 {
		var v int64
		assign(&v, fields[6])
		cfg.Mode = int(v)
	}
	if len(fields) > 7 {
		assign(&cfg.MinFreqKHz, fields[7])
	}
	if len(fields) > 8 {
		assign(&cfg.MaxFreqKHz, fields[8])
	}
	if len(fields) > 9 {
		assign(&cfg.MaxSpanKHz, fields[9])
	}
	if len(fields) > 10 && err == nil {
		cfg.RBWKHz, err = strconv.ParseFloat(strings.TrimSpace(fields[10]), 64)
	}
	if len(fields) > 11 {
		var v int64
		assign(&v, fields[11])
		cfg.AmpOffsetDB = int(v)
	}
	if len(fields) > 12 {
		var v int64
		assign(&v, fields[12])
		cfg.CalculatorMode = int(v)
	}

	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if cfg.SweepSteps <= 0 {
		return Config{}, fmt.Errorf("%w: non-positive sweep steps", ErrMalformedConfig)
	}
	return cfg, nil
}

// parseModel parses the comma-separated payload of a "#C2-M:" line.
func parseModel(payload string) (DeviceInfo, error) {
	fields := strings.Split(payload, ",")
	if len(fields) < 3 {
		return DeviceInfo{}, fmt.Errorf("%w: %d fields", ErrMalformedModel, len(fields))
	}
	main, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}
	exp, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}
	return DeviceInfo{
		MainModel:      Model(main),
		ExpansionModel: Model(exp),
		Firmware:       strings.TrimSpace(fields[2]),
	}, nil
}
