package rulepack

import (
	"context"
	"strconv"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"
)

// ScannerName identifies the rule-pack detect scanner in chains and findings.
const ScannerName = "rule_pack"

// target addresses one surface during rule evaluation.
type target struct {
	field      string
	source     string
	chunkIndex int
	views      normalize.TextViews
}

func (t target) key() string {
	if t.field == signal.FieldPromptChunk {
		return t.field + ":" + strconv.Itoa(t.chunkIndex)
	}
	return t.field
}

// Scanner evaluates the live rule pack against every allowed view of every
// in-scope surface. One finding is emitted per (rule, target) with the full
// matched-view list in evidence; the finding's target view is the most
// processed matched view.
type Scanner struct {
	loader *Loader
}

// NewScanner wraps a loader into the chain's detect stage.
func NewScanner(loader *Loader) *Scanner {
	return &Scanner{loader: loader}
}

// Name implements signal.Scanner.
func (s *Scanner) Name() string { return ScannerName }

// Kind implements signal.Scanner.
func (s *Scanner) Kind() signal.Kind { return signal.KindDetect }

// Close stops the loader's watch machinery.
func (s *Scanner) Close() error { return s.loader.Close() }

// PackVersion returns the live pack's version string.
func (s *Scanner) PackVersion() string { return s.loader.Current().Version }

// Run implements signal.Scanner. The pack reference is taken once so a
// concurrent hot reload cannot change the rule set mid-audit.
func (s *Scanner) Run(_ context.Context, in *normalize.Input, _ signal.RunContext) (signal.Result, error) {
	pack := s.loader.Current()
	targets := buildTargets(in)

	var res signal.Result
	for i := range pack.rules {
		rule := &pack.rules[i]
		for _, tgt := range targets {
			if !rule.appliesTo(tgt.field, tgt.source) {
				continue
			}
			if f, ok := evaluate(rule, tgt, in.RequestID); ok {
				res.Findings = append(res.Findings, f)
			}
		}
	}
	return res, nil
}

// buildTargets lists surfaces in evaluation order: prompt, chunks by index,
// response.
func buildTargets(in *normalize.Input) []target {
	out := make([]target, 0, 2+len(in.Views.Chunks))
	out = append(out, target{field: signal.FieldPrompt, chunkIndex: -1, views: in.Views.Prompt})
	for i, c := range in.Canonical.Chunks {
		out = append(out, target{
			field:      signal.FieldPromptChunk,
			source:     c.Source,
			chunkIndex: c.ChunkIndex,
			views:      in.Views.Chunks[i],
		})
	}
	if in.Features.HasResponse {
		out = append(out, target{field: signal.FieldResponse, chunkIndex: -1, views: in.Views.Response})
	}
	return out
}

// evaluate probes every allowed view of one target with one rule. A view
// counts as matched when the pattern fires and the negative pattern does not
// fire on that same view; the rule may still match on another view.
func evaluate(rule *compiledRule, tgt target, requestID string) (signal.Finding, bool) {
	var matchedViews []string
	var snippet string

	for _, v := range rule.views {
		text := tgt.views.Get(v)
		loc := rule.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if rule.negRe != nil && rule.negRe.MatchString(text) {
			continue
		}
		matchedViews = append(matchedViews, string(v))
		if snippet == "" {
			snippet = signal.Snippet(text[loc[0]:loc[1]])
		}
	}
	if len(matchedViews) == 0 {
		return signal.Finding{}, false
	}

	preferred := preferredView(matchedViews)

	f := signal.Finding{
		ID:      signal.FindingID(ScannerName, requestID, rule.ID+"|"+tgt.key()),
		Kind:    signal.KindDetect,
		Scanner: ScannerName,
		Score:   rule.Score,
		Risk:    rule.risk,
		Tags:    []string{rule.Category},
		Summary: rule.Summary,
		Target: signal.Target{
			Field: tgt.field,
			View:  preferred,
		},
		Evidence: map[string]string{
			"ruleId":       rule.ID,
			"category":     rule.Category,
			"matchedViews": strings.Join(matchedViews, ","),
			"snippet":      snippet,
		},
	}
	if tgt.field == signal.FieldPromptChunk {
		f.Target.Source = tgt.source
		f.Target.ChunkIndex = tgt.chunkIndex
	}
	return f, true
}

// preferredView picks the canonical view for the finding target: more
// processed views are stronger evidence of evasion.
func preferredView(matched []string) string {
	set := make(map[string]bool, len(matched))
	for _, v := range matched {
		set[v] = true
	}
	for _, v := range normalize.PreferenceOrder {
		if set[string(v)] {
			return string(v)
		}
	}
	return matched[0]
}
