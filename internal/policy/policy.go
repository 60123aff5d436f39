// Package policy aggregates scan findings into a single decision. The
// evaluator is a pure function: it never fails and always returns a
// decision, even over an empty finding stream.
package policy

import (
	"sort"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"
)

// Action is the policy outcome for one audited turn.
type Action string

// Actions, weakest to strongest.
const (
	ActionAllow            Action = "allow"
	ActionAllowWithWarning Action = "allow_with_warning"
	ActionChallenge        Action = "challenge"
	ActionBlock            Action = "block"
)

// Decision is the evaluator's output.
type Decision struct {
	Action     Action           `json:"action"`
	Risk       signal.RiskLevel `json:"risk"`
	Confidence float64          `json:"confidence"`
	Reasons    []string         `json:"reasons"`
}

// DefaultTopK is how many top detect scores feed the confidence average.
const DefaultTopK = 3

// Config tunes the evaluator. The zero value is the default policy.
type Config struct {
	// ActionOverrides remaps risk levels to actions (e.g. high -> block).
	ActionOverrides map[signal.RiskLevel]Action
	// TopK overrides the confidence window (0 = default 3).
	TopK int
}

// defaultActions is the built-in risk-to-action table.
var defaultActions = map[signal.RiskLevel]Action{
	signal.RiskNone:     ActionAllow,
	signal.RiskLow:      ActionAllow,
	signal.RiskMedium:   ActionAllowWithWarning,
	signal.RiskHigh:     ActionChallenge,
	signal.RiskCritical: ActionBlock,
}

// SurfaceEvidenceKey marks sanitize/enrich findings that should surface in
// the decision's reasons despite not driving the action.
const SurfaceEvidenceKey = "surface"

// Evaluate reduces the finding stream to a decision: peak risk over detect
// findings, the mapped action, a top-K score confidence, and stable-sorted
// reasons.
func Evaluate(findings []signal.Finding, cfg Config) Decision {
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	type ranked struct {
		f        signal.Finding
		emission int
	}
	var detects []ranked
	peak := signal.RiskNone
	for i, f := range findings {
		if f.Kind != signal.KindDetect {
			continue
		}
		detects = append(detects, ranked{f: f, emission: i})
		if f.Risk.Rank() > peak.Rank() {
			peak = f.Risk
		}
	}

	action := defaultActions[peak]
	if override, ok := cfg.ActionOverrides[peak]; ok {
		action = override
	}

	// Confidence: mean of the top-K detect scores, clamped to 1.
	scores := make([]float64, 0, len(detects))
	for _, d := range detects {
		scores = append(scores, d.f.Score)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > topK {
		scores = scores[:topK]
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	confidence := sum / float64(topK)
	if confidence > 1 {
		confidence = 1
	}

	// Reasons: detect findings stable-sorted by risk desc, score desc,
	// emission order; sanitize/enrich findings only when flagged to surface.
	sort.SliceStable(detects, func(i, j int) bool {
		a, b := detects[i], detects[j]
		if a.f.Risk.Rank() != b.f.Risk.Rank() {
			return a.f.Risk.Rank() > b.f.Risk.Rank()
		}
		if a.f.Score != b.f.Score {
			return a.f.Score > b.f.Score
		}
		return a.emission < b.emission
	})

	reasons := make([]string, 0, len(detects))
	for _, d := range detects {
		reasons = append(reasons, reasonString(d.f))
	}
	for _, f := range findings {
		if f.Kind == signal.KindDetect {
			continue
		}
		if f.Evidence[SurfaceEvidenceKey] == "true" {
			reasons = append(reasons, reasonString(f))
		}
	}

	return Decision{
		Action:     action,
		Risk:       peak,
		Confidence: confidence,
		Reasons:    reasons,
	}
}

// reasonString renders "<scanner>/<category-or-ruleId>@<field>".
func reasonString(f signal.Finding) string {
	label := f.Evidence["ruleId"]
	if label == "" {
		label = f.Evidence["category"]
	}
	if label == "" {
		label = string(f.Kind)
	}
	var b strings.Builder
	b.WriteString(f.Scanner)
	b.WriteByte('/')
	b.WriteString(label)
	b.WriteByte('@')
	b.WriteString(f.Target.Field)
	return b.String()
}
