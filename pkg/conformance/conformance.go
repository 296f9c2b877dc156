// Package conformance checks a running device's HTTP API against its contract.
//
// Every check is a GET of one endpoint followed by status, content type and schema
// validation. Checks never stop at the first problem: each violation is recorded on
// the check's Result and all checks run to the end.
package conformance

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nimdanitro/thermo-conformance/pkg/contract"
	"github.com/nimdanitro/thermo-conformance/pkg/device"
	"github.com/nimdanitro/thermo-conformance/pkg/schema"
)

const scope = "github.com/nimdanitro/thermo-conformance/pkg/conformance"

// Checks lists the top-level checks in the order they run. The per-sensor follow-ups
// of "sensors" are reported as "sensors/<id>".
var Checks = []string{
	contract.Sensors,
	contract.Readings1h,
	contract.Readings24h,
	contract.SoftAP,
	contract.Network,
}

// Violation is a failed assertion on one endpoint.
type Violation struct {
	Endpoint string `json:"endpoint"`
	schema.Violation
}

type Result struct {
	Check      string        `json:"check"`
	Endpoint   string        `json:"endpoint"`
	Violations []Violation   `json:"violations,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Requests   int           `json:"requests"`
}

func (r *Result) Passed() bool {
	return r.Err == nil && len(r.Violations) == 0
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

func (r *Result) violate(path, rule, expected, actual string) {
	r.Violations = append(r.Violations, Violation{
		Endpoint: r.Endpoint,
		Violation: schema.Violation{
			Path:     path,
			Rule:     rule,
			Expected: expected,
			Actual:   actual,
		},
	})
}

type Report struct {
	Target   string        `json:"target"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Results  []*Result     `json:"results"`
}

// Failed counts the results that did not pass.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

func (r *Report) Passed() bool {
	return r.Failed() == 0
}

type Checker struct {
	client    device.Getter
	contract  *contract.Contract
	log       *zap.Logger
	target    string
	strict    bool
	tolerance float64
	parallel  int
	only      map[string]bool

	tracer     trace.Tracer
	checks     metric.Int64Counter
	violations metric.Int64Counter
	duration   metric.Float64Histogram
}

type Option func(c *Checker) error

func New(client device.Getter, c *contract.Contract, opts ...Option) (*Checker, error) {
	if client == nil {
		return nil, fmt.Errorf("nil device client")
	}
	if c == nil {
		return nil, fmt.Errorf("nil contract")
	}

	ch := &Checker{
		client:   client,
		contract: c,
		log:      zap.L(),
		parallel: 1,
		tracer:   otel.Tracer(scope),
	}

	// apply the options
	for _, o := range opts {
		err := o(ch)
		if err != nil {
			return nil, err
		}
	}

	meter := otel.Meter(scope)
	ch.checks, _ = meter.Int64Counter("conformance.checks",
		metric.WithDescription("Checks run against the device, by result"),
	)
	ch.violations, _ = meter.Int64Counter("conformance.violations",
		metric.WithDescription("Contract violations found"),
	)
	ch.duration, _ = meter.Float64Histogram("conformance.check.duration",
		metric.WithDescription("Wall time of a single check"),
		metric.WithUnit("s"),
	)
	return ch, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) error {
		c.log = l
		return nil
	}
}

// WithTarget sets the device address shown in the report.
func WithTarget(target string) Option {
	return func(c *Checker) error {
		c.target = target
		return nil
	}
}

// WithStrict enables the firmware limits of the contract (string lengths, IPv4
// formats) and the active sensor limit.
func WithStrict(strict bool) Option {
	return func(c *Checker) error {
		c.strict = strict
		return nil
	}
}

// WithLastValueTolerance sets how far lastValue may drift between the sensor listing
// and the per-sensor endpoint. Zero requires equality, a negative value skips the
// comparison.
func WithLastValueTolerance(tolerance float64) Option {
	return func(c *Checker) error {
		c.tolerance = tolerance
		return nil
	}
}

// WithParallel runs up to n per-sensor follow-up requests at once.
func WithParallel(n int) Option {
	return func(c *Checker) error {
		if n < 1 {
			return fmt.Errorf("parallel must be at least 1, got %d", n)
		}
		c.parallel = n
		return nil
	}
}

// WithChecks restricts the run to the named checks.
func WithChecks(names ...string) Option {
	return func(c *Checker) error {
		if len(names) == 0 {
			return nil
		}
		known := make(map[string]bool, len(Checks))
		for _, n := range Checks {
			known[n] = true
		}
		c.only = make(map[string]bool, len(names))
		for _, n := range names {
			if !known[n] {
				return fmt.Errorf("unknown check %q, valid checks are %v", n, Checks)
			}
			c.only[n] = true
		}
		return nil
	}
}

// Run executes every selected check and returns the aggregated report.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{Target: c.target, Started: time.Now()}

	for _, name := range Checks {
		if c.only != nil && !c.only[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.log.Warn("run cancelled", zap.String("skipped", name))
			res := &Result{Check: name}
			res.fail(fmt.Errorf("not run: %w", err))
			report.Results = append(report.Results, res)
			continue
		}
		report.Results = append(report.Results, c.run(ctx, name)...)
	}

	report.Duration = time.Since(report.Started)
	c.log.Info("run finished",
		zap.String("target", c.target),
		zap.Int("checks", len(report.Results)),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (c *Checker) run(ctx context.Context, name string) []*Result {
	switch name {
	case contract.Sensors:
		return c.checkSensors(ctx)
	case contract.Readings1h, contract.Readings24h, contract.SoftAP, contract.Network:
		return []*Result{c.checkEndpoint(ctx, name)}
	}
	return nil
}

// start opens the span of a check and the Result it fills.
func (c *Checker) start(ctx context.Context, check, endpoint string) (context.Context, trace.Span, *Result) {
	ctx, span := c.tracer.Start(ctx, "check "+check, trace.WithAttributes(
		attribute.String("check.name", check),
		attribute.String("check.endpoint", endpoint),
	))
	return ctx, span, &Result{Check: check, Endpoint: endpoint}
}

// finish records a completed check in the logs, metrics and its span.
func (c *Checker) finish(ctx context.Context, span trace.Span, res *Result, started time.Time) {
	defer span.End()
	res.Duration = time.Since(started)

	outcome := "pass"
	if !res.Passed() {
		outcome = "fail"
	}
	attrs := metric.WithAttributes(
		attribute.String("check.name", res.Check),
		attribute.String("check.result", outcome),
	)
	c.checks.Add(ctx, 1, attrs)
	c.violations.Add(ctx, int64(len(res.Violations)), attrs)
	c.duration.Record(ctx, res.Duration.Seconds(), attrs)
	span.SetAttributes(attribute.Int("check.violations", len(res.Violations)))

	fields := []zap.Field{
		zap.String("check", res.Check),
		zap.String("endpoint", res.Endpoint),
		zap.Duration("duration", res.Duration),
	}
	switch {
	case res.Err != nil:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		c.log.Error("check errored", append(fields, zap.Error(res.Err))...)
	case len(res.Violations) > 0:
		span.SetStatus(codes.Error, fmt.Sprintf("%d violations", len(res.Violations)))
		c.log.Warn("check failed", append(fields, zap.Int("violations", len(res.Violations)))...)
		for _, v := range res.Violations {
			c.log.Debug("violation", zap.String("check", res.Check), zap.Stringer("violation", v))
		}
	default:
		c.log.Info("check passed", fields...)
	}
}
