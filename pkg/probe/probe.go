package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Timeout bounds each individual check.
const Timeout = 5 * time.Second

// CheckFunc performs one startup check and returns nil when it passes.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // a failure prevents startup
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes the probes in order, each under its own Timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, Timeout)
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical
// probes. Non-critical failures are logged as warnings only.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	for _, r := range results {
		took := r.Duration.Round(time.Millisecond)
		switch {
		case r.Error == nil:
			slog.Info("Startup check passed", "probe", r.Probe.Name, "took", took)
		case r.Probe.Critical:
			slog.Error("Startup check failed", "probe", r.Probe.Name, "took", took, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn("Startup check failed, continuing degraded", "probe", r.Probe.Name, "took", took, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}
