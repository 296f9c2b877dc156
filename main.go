package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nimdanitro/thermo-conformance/pkg/conformance"
	"github.com/nimdanitro/thermo-conformance/pkg/contract"
	"github.com/nimdanitro/thermo-conformance/pkg/device"
	"github.com/nimdanitro/thermo-conformance/pkg/report"
)

const serviceName = "thermo-conformance"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// envFlags maps flags to the environment variables that provide their defaults.
var envFlags = map[string]string{
	"target":               "TARGET_IP",
	"timeout":              "THERMO_TIMEOUT",
	"rate":                 "THERMO_RATE",
	"attempts":             "THERMO_ATTEMPTS",
	"parallel":             "THERMO_PARALLEL",
	"last-value-tolerance": "THERMO_LAST_VALUE_TOLERANCE",
	"strict":               "THERMO_STRICT",
	"check":                "THERMO_CHECKS",
	"contract":             "THERMO_CONTRACT",
	"output":               "THERMO_OUTPUT",
	"metrics.textfile":     "THERMO_METRICS_TEXTFILE",
	"otel":                 "THERMO_OTEL",
	"debug":                "THERMO_DEBUG",
}

type options struct {
	target    string
	timeout   time.Duration
	rate      float64
	attempts  uint
	parallel  int
	tolerance float64
	strict    bool
	checks    []string
	contract  string
	output    string
	textfile  string
	otel      bool
	debug     bool
	version   bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flags.SetOutput(stderr)

	flags.StringVarP(&o.target, "target", "t", "", "Device address, e.g. 192.168.4.1 or http://thermo.local:8080")
	flags.DurationVar(&o.timeout, "timeout", device.DefaultTimeout, "Timeout of a single request")
	flags.Float64Var(&o.rate, "rate", device.DefaultRate, "Maximum requests per second against the device, 0 disables throttling")
	flags.UintVar(&o.attempts, "attempts", 1, "Attempts per request while the device cannot be reached")
	flags.IntVar(&o.parallel, "parallel", 1, "Per-sensor requests run at once")
	flags.Float64Var(&o.tolerance, "last-value-tolerance", 0, "Allowed lastValue drift between the sensor listing and the per-sensor endpoint, negative skips the comparison")
	flags.BoolVar(&o.strict, "strict", false, "Also enforce firmware limits: string lengths, IPv4 formats and max_num_active")
	flags.StringSliceVar(&o.checks, "check", nil, fmt.Sprintf("Run only these checks %v", conformance.Checks))
	flags.StringVar(&o.contract, "contract", "", "Contract YAML file replacing the built-in contract")
	flags.StringVarP(&o.output, "output", "o", "text", "Report format: text or json")
	flags.StringVar(&o.textfile, "metrics.textfile", "", "Write Prometheus metrics of the run to this file")
	flags.BoolVar(&o.otel, "otel", false, "Export traces, metrics and logs over OTLP/HTTP")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&o.version, "version", false, "Print the version and exit")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// the command line wins over the environment
	for name, key := range envFlags {
		if v := os.Getenv(key); v != "" && !flags.Changed(name) {
			if err := flags.Lookup(name).Value.Set(v); err != nil {
				return nil, fmt.Errorf("invalid %s=%q: %w", key, v, err)
			}
		}
	}
	switch {
	case flags.NArg() == 1 && !flags.Changed("target"):
		o.target = flags.Arg(0)
	case flags.NArg() > 0:
		return nil, fmt.Errorf("unexpected arguments %v", flags.Args())
	}
	if o.output != "text" && o.output != "json" {
		return nil, fmt.Errorf("invalid output %q, use text or json", o.output)
	}
	return o, nil
}

func newLogger(w io.Writer, debug, withOTel bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), level),
	}
	if withOTel {
		cores = append(cores, otelzap.NewCore("github.com/nimdanitro/thermo-conformance", otelzap.WithLoggerProvider(global.GetLoggerProvider())))
	}
	return zap.New(zapcore.NewTee(cores...))
}

func loadContract(path string) (*contract.Contract, error) {
	if path == "" {
		return contract.Default()
	}
	return contract.Load(path)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "cannot load .env: %v\n", err)
		return exitConfig
	}

	o, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	if o.version {
		fmt.Fprintf(stdout, "%s %s (commit %s, built %s)\n", serviceName, version, commit, date)
		return exitOK
	}

	// Setup Otel
	if o.otel {
		shutdown, err := setupOTelSDK(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "cannot set up OpenTelemetry: %v\n", err)
			return exitConfig
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				fmt.Fprintf(stderr, "OpenTelemetry shutdown: %v\n", err)
			}
		}()
	}

	logger := newLogger(stderr, o.debug, o.otel)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting up", zap.String("version", version), zap.String("commit", commit), zap.String("buildDate", date))

	configErr := func(err error) int {
		if errors.Is(err, device.ErrMissingTarget) {
			err = fmt.Errorf("%w: use --target or set TARGET_IP", err)
		}
		logger.Error("invalid configuration", zap.Error(err))
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	c, err := loadContract(o.contract)
	if err != nil {
		return configErr(err)
	}

	client, err := device.NewClient(o.target,
		device.WithLogger(logger),
		device.WithTimeout(o.timeout),
		device.WithRateLimit(o.rate, device.DefaultBurst),
		device.WithAttempts(o.attempts),
	)
	if err != nil {
		return configErr(err)
	}

	checker, err := conformance.New(client, c,
		conformance.WithLogger(logger),
		conformance.WithTarget(client.URL("")),
		conformance.WithStrict(o.strict),
		conformance.WithLastValueTolerance(o.tolerance),
		conformance.WithParallel(o.parallel),
		conformance.WithChecks(o.checks...),
	)
	if err != nil {
		return configErr(err)
	}

	r := checker.Run(ctx)

	if o.output == "json" {
		err = report.WriteJSON(stdout, r)
	} else {
		err = report.WriteText(stdout, r)
	}
	if err != nil {
		logger.Error("cannot write report", zap.Error(err))
		return exitFailed
	}

	if o.textfile != "" {
		if err := report.WriteTextfile(o.textfile, r); err != nil {
			logger.Error("cannot write metrics", zap.String("path", o.textfile), zap.Error(err))
			return exitFailed
		}
	}

	if !r.Passed() {
		return exitFailed
	}
	return exitOK
}
