package signal

import (
	"context"
	"fmt"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// Mode tells scanners which operational context they run in. Informational.
type Mode string

// Chain modes.
const (
	ModeRuntime Mode = "runtime"
	ModeAudit   Mode = "audit"
)

// RunContext carries per-audit context into each scanner.
type RunContext struct {
	Mode Mode
}

// Result is what a scanner returns: an optional replacement input (nil
// means unchanged) and zero or more findings in emission order.
type Result struct {
	Input    *normalize.Input
	Findings []Finding
}

// Scanner is one stage of the chain. Run must not mutate its input; it
// returns a new input for any change. Run returning an error aborts the
// whole audit (scanners are expected to never fail).
type Scanner interface {
	Name() string
	Kind() Kind
	Run(ctx context.Context, in *normalize.Input, rc RunContext) (Result, error)
}

// CloseableScanner is implemented by scanners holding resources
// (e.g. rule-pack file watchers). The chain runner never calls Close;
// lifecycle belongs to whoever built the chain.
type CloseableScanner interface {
	Scanner
	Close() error
}

// Func adapts a plain function into a Scanner, for the common case of
// synchronous built-ins and test doubles.
type Func struct {
	ScannerName string
	ScannerKind Kind
	RunFunc     func(ctx context.Context, in *normalize.Input, rc RunContext) (Result, error)
}

// Name implements Scanner.
func (f Func) Name() string { return f.ScannerName }

// Kind implements Scanner.
func (f Func) Kind() Kind { return f.ScannerKind }

// Run implements Scanner.
func (f Func) Run(ctx context.Context, in *normalize.Input, rc RunContext) (Result, error) {
	return f.RunFunc(ctx, in, rc)
}

// Options configures one chain run.
type Options struct {
	Mode         Mode
	FailFast     bool
	FailFastRisk RiskLevel // high (default) or critical
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeRuntime
	}
	if o.FailFastRisk == "" {
		o.FailFastRisk = RiskHigh
	}
	return o
}

// ScanSignals runs the scanners sequentially in order, threading the input
// and aggregating findings. Views are re-ensured after every scanner so the
// four-view invariant holds for each stage. With FailFast set, the chain
// stops after the first finding at or above FailFastRisk; scanners after
// the tripping one never run.
func ScanSignals(ctx context.Context, nm *normalize.Normalizer, in *normalize.Input, scanners []Scanner, opts Options) (*normalize.Input, []Finding, error) {
	opts = opts.withDefaults()
	rc := RunContext{Mode: opts.Mode}

	current := nm.EnsureViews(in)
	var findings []Finding

	for _, s := range scanners {
		if err := ctx.Err(); err != nil {
			return current, findings, fmt.Errorf("scan chain cancelled before %s: %w", s.Name(), err)
		}

		res, err := s.Run(ctx, current, rc)
		if err != nil {
			return current, findings, fmt.Errorf("scanner %s failed: %w", s.Name(), err)
		}
		if res.Input != nil {
			current = res.Input
		}
		current = nm.EnsureViews(current)
		findings = append(findings, res.Findings...)

		if opts.FailFast && tripsFailFast(res.Findings, opts.FailFastRisk) {
			break
		}
	}

	return current, findings, nil
}

func tripsFailFast(findings []Finding, threshold RiskLevel) bool {
	for _, f := range findings {
		if f.Risk.AtLeast(threshold) {
			return true
		}
	}
	return false
}
