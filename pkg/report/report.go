// Package report renders a conformance run for people and for monitoring.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimdanitro/thermo-conformance/pkg/conformance"
)

const namespace = "thermo_conformance"

// MaxViolations caps how many violations of a single check are printed. A bad
// readings window can easily produce one per sample.
var MaxViolations = 20

// WriteText prints one line per check followed by its violations and a summary.
func WriteText(w io.Writer, r *conformance.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "conformance run against %s\n", r.Target)
	for _, res := range r.Results {
		status := "PASS"
		if !res.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", status, res.Check, res.Endpoint, res.Duration.Round(time.Millisecond))
		if res.Err != nil {
			fmt.Fprintf(tw, "\t  error: %v\n", res.Err)
		}
		for i, v := range res.Violations {
			if i == MaxViolations {
				fmt.Fprintf(tw, "\t  ... and %d more\n", len(res.Violations)-MaxViolations)
				break
			}
			fmt.Fprintf(tw, "\t  %s\n", v)
		}
	}
	fmt.Fprintf(tw, "%d checks, %d failed in %s\n", len(r.Results), r.Failed(), r.Duration.Round(time.Millisecond))
	return tw.Flush()
}

func WriteJSON(w io.Writer, r *conformance.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*conformance.Report
		Passed bool `json:"passed"`
		Failed int  `json:"failed"`
	}{r, r.Passed(), r.Failed()})
}

// Registry exposes the outcome of a run as Prometheus gauges.
func Registry(r *conformance.Report) *prometheus.Registry {
	passed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "check_passed",
		Help:      "Whether the check passed (1) or failed (0).",
	}, []string{"check"})
	violations := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "check_violations",
		Help:      "Number of contract violations found by the check.",
	}, []string{"check"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "check_duration_seconds",
		Help:      "Wall time of the check.",
	}, []string{"check"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the run started.",
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(passed, violations, duration, lastRun)

	for _, res := range r.Results {
		ok := 0.0
		if res.Passed() {
			ok = 1
		}
		passed.WithLabelValues(res.Check).Set(ok)
		violations.WithLabelValues(res.Check).Set(float64(len(res.Violations)))
		duration.WithLabelValues(res.Check).Set(res.Duration.Seconds())
	}
	lastRun.Set(float64(r.Started.Unix()))
	return reg
}

// WriteTextfile writes the run in the node_exporter textfile format.
func WriteTextfile(path string, r *conformance.Report) error {
	if err := prometheus.WriteToTextfile(path, Registry(r)); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
