package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/confusables"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

func testNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	tbl, err := confusables.Default()
	if err != nil {
		t.Fatalf("confusables.Default: %v", err)
	}
	return normalize.New(tbl)
}

func testInput(t *testing.T, req *ingress.AuditRequest) (*normalize.Normalizer, *normalize.Input) {
	t.Helper()
	nm := testNormalizer(t)
	return nm, nm.Normalize(req)
}

func emitAt(name string, risk RiskLevel) Scanner {
	return Func{
		ScannerName: name,
		ScannerKind: KindDetect,
		RunFunc: func(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
			return Result{Findings: []Finding{{
				ID:      FindingID(name, in.RequestID, "k"),
				Kind:    KindDetect,
				Scanner: name,
				Risk:    risk,
				Score:   0.5,
				Target:  Target{Field: FieldPrompt, View: "raw"},
			}}}, nil
		},
	}
}

func TestScanSignals_OrderAndAggregation(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "p"})

	_, findings, err := ScanSignals(context.Background(), nm, in,
		[]Scanner{emitAt("one", RiskLow), emitAt("two", RiskLow)}, Options{})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if len(findings) != 2 || findings[0].Scanner != "one" || findings[1].Scanner != "two" {
		t.Errorf("findings = %+v", findings)
	}
}

func TestScanSignals_FailFastStopsChain(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "p"})

	ran := false
	after := Func{
		ScannerName: "after",
		ScannerKind: KindDetect,
		RunFunc: func(context.Context, *normalize.Input, RunContext) (Result, error) {
			ran = true
			return Result{}, nil
		},
	}

	_, findings, err := ScanSignals(context.Background(), nm, in,
		[]Scanner{emitAt("high", RiskHigh), after},
		Options{FailFast: true, FailFastRisk: RiskHigh})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if ran {
		t.Error("scanner after fail-fast trip still ran")
	}
	if len(findings) != 1 {
		t.Errorf("findings = %+v", findings)
	}
}

func TestScanSignals_FailFastCriticalThreshold(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "p"})

	ran := false
	after := Func{
		ScannerName: "after",
		ScannerKind: KindDetect,
		RunFunc: func(context.Context, *normalize.Input, RunContext) (Result, error) {
			ran = true
			return Result{}, nil
		},
	}

	// A high finding must NOT trip a critical threshold.
	_, _, err := ScanSignals(context.Background(), nm, in,
		[]Scanner{emitAt("high", RiskHigh), after},
		Options{FailFast: true, FailFastRisk: RiskCritical})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if !ran {
		t.Error("high finding tripped critical fail-fast threshold")
	}
}

func TestScanSignals_MediumNeverTripsFailFast(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "p"})

	ran := false
	after := Func{
		ScannerName: "after",
		ScannerKind: KindDetect,
		RunFunc: func(context.Context, *normalize.Input, RunContext) (Result, error) {
			ran = true
			return Result{}, nil
		},
	}
	_, _, err := ScanSignals(context.Background(), nm, in,
		[]Scanner{emitAt("medium", RiskMedium), after},
		Options{FailFast: true})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if !ran {
		t.Error("medium finding tripped default (high) fail-fast")
	}
}

func TestScanSignals_ScannerErrorIsFatal(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "p"})

	boom := Func{
		ScannerName: "boom",
		ScannerKind: KindDetect,
		RunFunc: func(context.Context, *normalize.Input, RunContext) (Result, error) {
			return Result{}, errors.New("kaput")
		},
	}
	_, _, err := ScanSignals(context.Background(), nm, in, []Scanner{boom}, Options{})
	if err == nil {
		t.Fatal("expected fatal error from failing scanner")
	}
}

func TestScanSignals_ViewClosureAfterSloppyScanner(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{
		RequestID:    "r",
		Timestamp:    1,
		UserPrompt:   "hello",
		ResponseText: "resp",
		HasResponse:  true,
	})

	// A scanner that returns views with only raw set: the runner must
	// rebuild the other three before the next stage.
	sloppy := Func{
		ScannerName: "sloppy",
		ScannerKind: KindSanitize,
		RunFunc: func(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
			return Result{Input: in.WithPromptViews(normalize.RawViews(in.Views.Prompt.Raw))}, nil
		},
	}

	out, _, err := ScanSignals(context.Background(), nm, in, []Scanner{sloppy}, Options{})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if !out.Views.Prompt.Complete() {
		t.Error("prompt views incomplete after chain")
	}
	for i, c := range out.Views.Chunks {
		if !c.Complete() {
			t.Errorf("chunk %d views incomplete", i)
		}
	}
	if !out.Views.Response.Complete() {
		t.Error("response views incomplete")
	}
}

func TestScanSignals_InputThreading(t *testing.T) {
	nm, in := testInput(t, &ingress.AuditRequest{RequestID: "r", Timestamp: 1, UserPrompt: "hello"})

	replace := Func{
		ScannerName: "replace",
		ScannerKind: KindSanitize,
		RunFunc: func(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
			tv := in.Views.Prompt.With(normalize.ViewSanitized, "patched")
			return Result{Input: in.WithPromptViews(tv)}, nil
		},
	}
	var seen string
	observe := Func{
		ScannerName: "observe",
		ScannerKind: KindDetect,
		RunFunc: func(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
			seen = in.Views.Prompt.Get(normalize.ViewSanitized)
			return Result{}, nil
		},
	}

	_, _, err := ScanSignals(context.Background(), nm, in, []Scanner{replace, observe}, Options{})
	if err != nil {
		t.Fatalf("ScanSignals: %v", err)
	}
	if seen != "patched" {
		t.Errorf("downstream scanner saw %q, want patched", seen)
	}
	if in.Views.Prompt.Get(normalize.ViewSanitized) == "patched" {
		t.Error("original input mutated")
	}
}

func TestFindingID_Stable(t *testing.T) {
	a := FindingID("s", "r", "k")
	b := FindingID("s", "r", "k")
	if a != b {
		t.Errorf("FindingID unstable: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("FindingID length = %d, want 32 hex chars", len(a))
	}
	if FindingID("s", "r", "k2") == a {
		t.Error("different localKey produced same id")
	}
	// Separator prevents boundary ambiguity.
	if FindingID("sa", "b", "c") == FindingID("s", "ab", "c") {
		t.Error("id components collide across boundaries")
	}
}
