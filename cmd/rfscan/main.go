// Package main implements the rfscan command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spectrum-scan/rfscan/internal/api"
	"github.com/spectrum-scan/rfscan/internal/audit"
	"github.com/spectrum-scan/rfscan/internal/auth"
	"github.com/spectrum-scan/rfscan/internal/config"
	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/export"
	"github.com/spectrum-scan/rfscan/internal/plan"
	"github.com/spectrum-scan/rfscan/internal/scan"
	"github.com/spectrum-scan/rfscan/internal/store"
	"github.com/spectrum-scan/rfscan/internal/telemetry"
)

const version = "1.0.0"

var (
	verbose    bool
	logFile    string
	configPath string

	flagPort       string
	flagBaud       int
	flagRBW        float64
	flagDwell      float64
	flagCalculator string
	flagOutput     string
	flagFormat     string
	flagNoStore    bool
	flagSkipReset  bool
	flagAddr       string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rfscan",
	Short: "RF Explorer spectrum scanner",
	Long: `rfscan drives an RF Explorer spectrum analyzer over its serial port,
sweeps arbitrary frequency ranges in analyzer-sized windows, and writes the
aggregated spectrum as CSV or a Sennheiser WSM import file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if logFile != "" {
			zapCfg.OutputPaths = []string{logFile}
			zapCfg.ErrorOutputPaths = []string{logFile}
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan START STOP [START STOP ...]",
	Short: "Scan one or more frequency ranges (MHz) and write the spectrum",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runScan,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := device.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return nil
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored scan results",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no stored scans")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %s  %s  %d points  %s\n",
				rec.ID,
				rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
				formatRanges(rec.Ranges),
				rec.PointCount,
				rec.Calculator)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one stored scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("id:         %s\n", res.ID)
		fmt.Printf("started:    %s\n", res.StartedAt.Local().Format(time.RFC3339))
		fmt.Printf("duration:   %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Second))
		fmt.Printf("ranges:     %s\n", formatRanges(res.Request.Ranges))
		fmt.Printf("rbw:        %g MHz\n", res.Request.RBWMHz)
		fmt.Printf("dwell:      %s\n", res.Request.Dwell)
		fmt.Printf("calculator: %s\n", res.Request.Calculator)
		fmt.Printf("points:     %d\n", len(res.Points))
		if res.Stats.Count > 0 {
			fmt.Printf("peak:       %.2f dBm at %.3f MHz\n",
				res.Stats.MaxDBm, res.Stats.MaxFreqMHz)
			fmt.Printf("floor:      %.2f dBm at %.3f MHz\n",
				res.Stats.MinDBm, res.Stats.MinFreqMHz)
			fmt.Printf("average:    %.2f dBm\n", res.Stats.AverageDBm)
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export one stored scan to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		format, err := export.ParseFormat(flagFormat)
		if err != nil {
			return err
		}
		path := flagOutput
		if path == "" {
			path = export.DefaultFileName(res.StartedAt.Local(), format)
		}
		if err := export.WriteFile(path, format, res.Points, res.StartedAt); err != nil {
			return err
		}
		fmt.Printf("wrote %d points to %s\n", len(res.Points), path)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune KEEP",
	Short: "Delete all but the newest KEEP scans",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, err := strconv.Atoi(args[0])
		if err != nil || keep < 0 {
			return fmt.Errorf("KEEP must be a non-negative integer, got %q", args[0])
		}

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		pruned, err := st.Prune(cmd.Context(), keep)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d scans\n", pruned)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve device status, scan history and live telemetry over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rfscan version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("rfscan " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default rfscan.yaml if present)")

	scanCmd.Flags().Float64Var(&flagRBW, "rbw", 0.025,
		"resolution bandwidth in MHz")
	scanCmd.Flags().Float64VarP(&flagDwell, "time", "t", 3,
		"seconds to collect sweeps per subrange")
	scanCmd.Flags().StringVarP(&flagCalculator, "calculator", "c", "MAX",
		"amplitude calculator: MAX, AVG or MIN")
	scanCmd.Flags().StringVarP(&flagOutput, "output", "o", "",
		"output file (default \"Scan <timestamp>.<ext>\")")
	scanCmd.Flags().StringVar(&flagFormat, "format", "csv",
		"output format: csv or wsm")
	scanCmd.Flags().StringVar(&flagPort, "port", "",
		"serial port (default: first detected)")
	scanCmd.Flags().IntVar(&flagBaud, "baud", 0,
		"serial baud rate")
	scanCmd.Flags().BoolVar(&flagNoStore, "no-store", false,
		"do not record the scan in the history store")
	scanCmd.Flags().BoolVar(&flagSkipReset, "skip-reset", false,
		"connect without rebooting the analyzer first")

	historyExportCmd.Flags().StringVarP(&flagOutput, "output", "o", "",
		"output file (default \"Scan <timestamp>.<ext>\")")
	historyExportCmd.Flags().StringVar(&flagFormat, "format", "csv",
		"output format: csv or wsm")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "",
		"listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&flagPort, "port", "",
		"serial port (default: first detected)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd,
		historyPruneCmd)
	rootCmd.AddCommand(scanCmd, portsCmd, historyCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rfscan:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration and overlays flags the user set
// explicitly on this command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("baud") {
		cfg.Baud = flagBaud
	}
	if flags.Changed("rbw") {
		cfg.RBWMHz = flagRBW
	}
	if flags.Changed("time") {
		cfg.Dwell = time.Duration(flagDwell * float64(time.Second))
	}
	if flags.Changed("calculator") {
		cfg.Calculator = flagCalculator
	}
	if flags.Changed("addr") {
		cfg.ServeAddr = flagAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ranges, err := parseRanges(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(flagFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("connecting to analyzer%s...\n", portSuffix(cfg.Port))
	session, err := device.Dial(ctx, cfg.Port, device.Options{
		Baud:           cfg.Baud,
		StabilizeDelay: cfg.StabilizeDelay,
		ConfigWait:     cfg.ConfigWait,
		AmpTopDBm:      cfg.AmpTopDBm,
		AmpBottomDBm:   cfg.AmpBottomDBm,
		SkipReset:      flagSkipReset,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	info := session.Info()
	fmt.Printf("connected: %s (firmware %s)\n", info.MainModel, info.Firmware)

	auditLog, err := audit.NewLogger(auditDir(cfg))
	if err != nil {
		return err
	}
	defer auditLog.Close()

	opts := scan.Options{
		CommandTimeout: cfg.CommandTimeout,
		Audit:          auditLog,
		Logger:         logger,
	}
	if !flagNoStore && cfg.StorePath != "" {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Store = st
	}

	res, runErr := scan.New(session, opts).Run(ctx, scan.Request{
		Ranges:     ranges,
		RBWMHz:     cfg.RBWMHz,
		Dwell:      cfg.Dwell,
		Calculator: cfg.Calculator,
	})
	if res == nil {
		return runErr
	}

	// Write whatever was collected, even for an aborted scan.
	if len(res.Points) > 0 {
		path := flagOutput
		if path == "" {
			path = export.DefaultFileName(res.StartedAt.Local(), format)
		}
		if err := export.WriteFile(path, format, res.Points, res.StartedAt); err != nil {
			if runErr != nil {
				return errors.Join(runErr, err)
			}
			return err
		}
		fmt.Printf("wrote %d points to %s\n", len(res.Points), path)
		if res.Stats.Count > 0 {
			fmt.Printf("peak %.2f dBm at %.3f MHz\n",
				res.Stats.MaxDBm, res.Stats.MaxFreqMHz)
		}
	}
	return runErr
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := telemetry.NewHub(cfg.EventBufferSize, cfg.HeartbeatInterval)
	defer hub.Stop()

	auditLog, err := audit.NewLogger(auditDir(cfg))
	if err != nil {
		return err
	}
	defer auditLog.Close()

	apiOpts := api.Options{Telemetry: hub, Logger: logger}

	if cfg.StorePath != "" {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()
		apiOpts.History = st
	}

	session, err := device.Dial(ctx, cfg.Port, device.Options{
		Baud:           cfg.Baud,
		StabilizeDelay: cfg.StabilizeDelay,
		ConfigWait:     cfg.ConfigWait,
		AmpTopDBm:      cfg.AmpTopDBm,
		AmpBottomDBm:   cfg.AmpBottomDBm,
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("serving without a device session", zap.Error(err))
	} else {
		defer session.Close()
		apiOpts.Device = session
		go publishSweeps(hub, session)
	}

	if cfg.Auth.Algorithm != "" {
		verifier, err := auth.NewVerifier(auth.Config{
			Algorithm:        cfg.Auth.Algorithm,
			SecretKey:        cfg.Auth.SecretKey,
			PublicKeyPEMFile: cfg.Auth.PublicKeyPEMFile,
		})
		if err != nil {
			return err
		}
		apiOpts.Auth = auth.NewMiddleware(verifier)
	}

	server := api.NewServer(apiOpts)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.ServeAddr) }()

	auditLog.LogAction("serve", map[string]any{"addr": cfg.ServeAddr}, nil, 0)
	fmt.Printf("serving on %s\n", cfg.ServeAddr)

	select {
	case <-ctx.Done():
		fmt.Println("shutting down...")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// publishSweeps forwards live sweeps to the telemetry hub until the session
// ends.
func publishSweeps(hub *telemetry.Hub, session *device.Session) {
	for sw := range session.Sweeps() {
		hub.Publish("sweep", map[string]any{
			"startMhz": sw.StartMHz,
			"stepMhz":  sw.StepMHz,
			"points":   sw.Points(),
			"ts":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func openHistory(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.StorePath == "" {
		return nil, errors.New("history store is disabled (empty storePath)")
	}
	return store.Open(cfg.StorePath)
}

func parseRanges(args []string) ([]plan.Range, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("frequencies must come in START STOP pairs, got %d values", len(args))
	}
	ranges := make([]plan.Range, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		start, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start frequency %q", args[i])
		}
		stop, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stop frequency %q", args[i+1])
		}
		r := plan.Range{StartMHz: start, StopMHz: stop}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func formatRanges(ranges []plan.Range) string {
	s := ""
	for i, r := range ranges {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g-%g MHz", r.StartMHz, r.StopMHz)
	}
	return s
}

func auditDir(cfg *config.Config) string {
	if cfg.StorePath == "" {
		return "."
	}
	return filepath.Dir(cfg.StorePath)
}

func portSuffix(port string) string {
	if port == "" {
		return ""
	}
	return " on " + port
}
