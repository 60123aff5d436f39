// Package pipeline wires the full audit stack: ingress adaption,
// normalization, the scanner chain, policy evaluation, and evidence
// assembly, with logging, metrics, history, and external emission around it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/auditlog"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/config"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/confusables"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/emit"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/evidence"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/history"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/metrics"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/policy"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/rulepack"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"
)

// Outcome is everything one audited turn produced.
type Outcome struct {
	Input        *normalize.Input
	Findings     []signal.Finding
	Decision     policy.Decision
	Evidence     *evidence.Package
	EvidencePath string // empty unless persistence is enabled
}

// Auditor owns the scanner chain and its collaborators for the lifetime of
// the process. One Auditor serves concurrent audits; per-audit state lives
// on the stack of each Audit call.
type Auditor struct {
	cfg        *config.Config
	normalizer *normalize.Normalizer
	scanners   []signal.Scanner
	ruleScan   *rulepack.Scanner
	policyCfg  policy.Config
	ingressOpt ingress.Options

	logger  *auditlog.Logger
	metrics *metrics.Metrics
	store   *evidence.Store
	history *history.Store
	emitter emit.Sink

	instanceID string
	now        func() time.Time
}

// Option customizes an Auditor.
type Option func(*Auditor)

// WithLogger installs a structured logger (default: no-op).
func WithLogger(l *auditlog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

// WithHistory installs a session history store.
func WithHistory(h *history.Store) Option {
	return func(a *Auditor) { a.history = h }
}

// WithEmitter installs an external submission sink.
func WithEmitter(s emit.Sink) Option {
	return func(a *Auditor) { a.emitter = s }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// New builds an Auditor from config: loads the confusables table and the
// rule pack, assembles the canonical chain (sanitizers, enricher,
// detectors), and opens the evidence store when persistence is enabled.
func New(cfg *config.Config, opts ...Option) (*Auditor, error) {
	a := &Auditor{
		cfg:        cfg,
		logger:     auditlog.NewNop(),
		instanceID: emit.DefaultInstanceID(),
		now:        time.Now,
		ingressOpt: ingress.Options{ExtractHTML: cfg.Ingress.ExtractHTML},
	}
	for _, opt := range opts {
		opt(a)
	}

	table, err := confusables.Default()
	if err != nil {
		return nil, fmt.Errorf("loading confusables table: %w", err)
	}
	a.normalizer = normalize.New(table)

	loader, err := rulepack.NewLoader(rulepack.LoaderOptions{
		Path:            cfg.RulePack.Path,
		Watch:           cfg.RulePack.Watch,
		WatchDebounceMs: cfg.RulePack.WatchDebounceMs,
		Logger:          a.logger.Zerolog(),
		OnReload:        a.observeReload,
	})
	if err != nil {
		return nil, err
	}
	a.ruleScan = rulepack.NewScanner(loader)

	a.scanners = []signal.Scanner{
		signal.NewUnicodeSanitizer(),
		signal.NewHiddenAsciiTags(),
		signal.NewSeparatorCollapse(),
		signal.NewToolArgsCanonicalizer(),
		signal.NewSkeletonEnricher(a.normalizer.Ensurer()),
		a.ruleScan,
		signal.NewKeywordInjection(),
		signal.NewToolArgsSSRF(),
		signal.NewToolArgsPathTraversal(),
		signal.NewCrossCheck(),
	}

	a.policyCfg = policy.Config{TopK: cfg.Policy.TopK}
	if len(cfg.Policy.ActionOverrides) > 0 {
		a.policyCfg.ActionOverrides = make(map[signal.RiskLevel]policy.Action, len(cfg.Policy.ActionOverrides))
		for risk, action := range cfg.Policy.ActionOverrides {
			a.policyCfg.ActionOverrides[signal.RiskLevel(risk)] = policy.Action(action)
		}
	}

	if cfg.Evidence.Enabled {
		store, err := evidence.NewStore(cfg.Evidence.Dir)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	return a, nil
}

func (a *Auditor) observeReload(version string, err error) {
	a.logger.LogRulePackReload(version, err)
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordRulePackReload(status)
	}
}

// RulePackVersion returns the live rule pack version.
func (a *Auditor) RulePackVersion() string { return a.ruleScan.PackVersion() }

// scannerInfos describes the chain for evidence metadata, in order.
func (a *Auditor) scannerInfos() []evidence.ScannerInfo {
	out := make([]evidence.ScannerInfo, 0, len(a.scanners))
	for _, s := range a.scanners {
		out = append(out, evidence.ScannerInfo{Name: s.Name(), Kind: string(s.Kind())})
	}
	return out
}

// AuditEvent validates a loose ingress event and audits it.
func (a *Auditor) AuditEvent(ctx context.Context, ev *ingress.AgentIngressEvent, sessionID string) (*Outcome, error) {
	req, err := ingress.Adapt(ev, a.ingressOpt)
	if err != nil {
		return nil, err
	}
	return a.Audit(ctx, req, sessionID)
}

// Audit runs one turn through the full pipeline. sessionID may be empty;
// when set and history is configured, the turn is appended to the session
// trail.
func (a *Auditor) Audit(ctx context.Context, req *ingress.AuditRequest, sessionID string) (*Outcome, error) {
	start := a.now()

	in := a.normalizer.Normalize(req)
	a.logger.LogAuditStart(req.RequestID, len(in.Canonical.Chunks), len(req.ToolCalls))

	chainOpts := signal.Options{
		Mode:         signal.Mode(a.cfg.Mode),
		FailFast:     a.cfg.Chain.FailFast,
		FailFastRisk: signal.RiskLevel(a.cfg.Chain.FailFastRisk),
	}
	scanned, findings, err := signal.ScanSignals(ctx, a.normalizer, in, a.scanners, chainOpts)
	if err != nil {
		a.logger.LogAuditError(req.RequestID, err)
		return nil, err
	}

	decision := policy.Evaluate(findings, a.policyCfg)

	for _, f := range findings {
		if f.Kind != signal.KindDetect {
			continue
		}
		a.logger.LogFinding(req.RequestID, f.Scanner, string(f.Risk), f.Summary, f.Target.Field, f.Score)
		if a.metrics != nil {
			a.metrics.RecordFinding(f.Scanner, string(f.Risk))
		}
	}

	pkg := evidence.Build(scanned, a.scannerInfos(), findings, decision,
		[]string{a.ruleScan.PackVersion()}, a.now().UnixMilli())

	out := &Outcome{
		Input:    scanned,
		Findings: findings,
		Decision: decision,
		Evidence: pkg,
	}

	if a.store != nil {
		path, err := a.store.Save(pkg)
		if err != nil {
			a.logger.LogAuditError(req.RequestID, err)
			return nil, fmt.Errorf("persisting evidence: %w", err)
		}
		out.EvidencePath = path
		a.logger.LogEvidenceSaved(req.RequestID, path, pkg.Integrity.RootHash)
	}

	if a.history != nil && sessionID != "" {
		if _, err := a.history.Append(ctx, history.Turn{
			SessionID:    sessionID,
			RequestID:    req.RequestID,
			TimestampMs:  req.Timestamp,
			Action:       string(decision.Action),
			Risk:         string(decision.Risk),
			FindingCount: len(findings),
			RootHash:     pkg.Integrity.RootHash,
		}); err != nil {
			a.logger.LogAuditError(req.RequestID, err)
		}
	}

	duration := a.now().Sub(start)
	a.logger.LogAuditComplete(req.RequestID, string(decision.Action), string(decision.Risk),
		len(findings), decision.Confidence, duration)
	if a.metrics != nil {
		a.metrics.RecordAudit(string(decision.Action), duration)
	}

	if a.emitter != nil {
		_ = a.emitter.Emit(ctx, emit.Event{
			Severity:   emit.SeverityForAction(string(decision.Action)),
			Type:       "audit_complete",
			Timestamp:  a.now(),
			InstanceID: a.instanceID,
			Fields: map[string]any{
				"request_id": req.RequestID,
				"action":     string(decision.Action),
				"risk":       string(decision.Risk),
				"findings":   len(findings),
				"root_hash":  pkg.Integrity.RootHash,
			},
		})
	}

	return out, nil
}

// Close releases chain resources: the rule-pack watcher and, if installed,
// the emitter. Loggers, metrics, and history are owned by the caller.
func (a *Auditor) Close() error {
	err := a.ruleScan.Close()
	if a.emitter != nil {
		if cerr := a.emitter.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
