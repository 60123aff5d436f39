// Package rulepack implements the declarative detection core: a versioned
// pack of regex rules evaluated over every allowed view of every in-scope
// surface, with validation, hot reload, and multi-view match algebra.
package rulepack

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"
)

// PatternTypeRegex is the only pattern type in the current model.
const PatternTypeRegex = "regex"

// Rule is one declarative detection rule as it appears in the pack file.
type Rule struct {
	ID              string   `json:"id"`
	Category        string   `json:"category"`
	PatternType     string   `json:"patternType"`
	Pattern         string   `json:"pattern"`
	Flags           string   `json:"flags,omitempty"`
	NegativePattern string   `json:"negativePattern,omitempty"`
	Risk            string   `json:"risk"`
	Score           float64  `json:"score"`
	Summary         string   `json:"summary"`
	Scopes          []string `json:"scopes,omitempty"`
	Sources         []string `json:"sources,omitempty"`
	Views           []string `json:"views,omitempty"`
}

// Pack is the rule pack file shape.
type Pack struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// compiledRule is a validated rule ready for matching.
type compiledRule struct {
	Rule
	re      *regexp.Regexp
	negRe   *regexp.Regexp
	risk    signal.RiskLevel
	scopes  map[string]bool // empty = all scopes
	sources map[string]bool // empty = all sources
	views   []normalize.View
}

// CompiledPack is an immutable compiled rule set. The loader swaps whole
// CompiledPack values atomically; in-flight evaluations keep the set they
// started with.
type CompiledPack struct {
	Version string
	rules   []compiledRule
	Skipped int // rules dropped during validation
}

// Len returns the number of usable rules in the pack.
func (p *CompiledPack) Len() int { return len(p.rules) }

// Rules returns the validated rule definitions in pack order.
func (p *CompiledPack) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	for i := range p.rules {
		out[i] = p.rules[i].Rule
	}
	return out
}

// ParsePack decodes and compiles a rule pack document. Structural problems
// (bad JSON, missing version) fail; individually invalid rules are skipped
// with a logged warning, never an error.
func ParsePack(data []byte, logger zerolog.Logger) (*CompiledPack, error) {
	var pack Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parsing rule pack: %w", err)
	}
	if pack.Version == "" {
		return nil, fmt.Errorf("rule pack has no version")
	}

	compiled := &CompiledPack{Version: pack.Version}
	for i, r := range pack.Rules {
		cr, err := compileRule(r)
		if err != nil {
			compiled.Skipped++
			logger.Warn().
				Str("rule_id", r.ID).
				Int("rule_index", i).
				Err(err).
				Msg("skipping invalid rule")
			continue
		}
		compiled.rules = append(compiled.rules, cr)
	}
	return compiled, nil
}

// flagPrefix converts rule flags to a Go regexp group prefix. The u flag is
// implicit in Go's engine.
func flagPrefix(flags string) (string, error) {
	var b strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			b.WriteString("(?" + string(f) + ")")
		case 'u':
			// always on
		default:
			return "", fmt.Errorf("unsupported flag %q", string(f))
		}
	}
	return b.String(), nil
}

func compileRule(r Rule) (compiledRule, error) {
	if r.ID == "" {
		return compiledRule{}, fmt.Errorf("rule has empty id")
	}
	if r.PatternType != "" && r.PatternType != PatternTypeRegex {
		return compiledRule{}, fmt.Errorf("unsupported patternType %q", r.PatternType)
	}
	if r.Pattern == "" {
		return compiledRule{}, fmt.Errorf("rule has empty pattern")
	}
	if !signal.ValidRisk(r.Risk) {
		return compiledRule{}, fmt.Errorf("invalid risk %q", r.Risk)
	}
	if r.Score < 0 || r.Score > 1 {
		return compiledRule{}, fmt.Errorf("score %v outside [0,1]", r.Score)
	}

	prefix, err := flagPrefix(r.Flags)
	if err != nil {
		return compiledRule{}, err
	}

	// Go regexp is RE2: linear-time matching, so pathological backtracking
	// patterns cannot exist. Compile failures are the only rejection path.
	re, err := regexp.Compile(prefix + r.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("compiling pattern: %w", err)
	}
	var negRe *regexp.Regexp
	if r.NegativePattern != "" {
		negRe, err = regexp.Compile(prefix + r.NegativePattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("compiling negativePattern: %w", err)
		}
	}

	cr := compiledRule{
		Rule:    r,
		re:      re,
		negRe:   negRe,
		risk:    signal.RiskLevel(r.Risk),
		scopes:  toSet(r.Scopes),
		sources: toSet(r.Sources),
	}

	if len(r.Views) == 0 {
		cr.views = normalize.ProbeOrder
	} else {
		allowed := toSet(r.Views)
		for _, v := range normalize.ProbeOrder {
			if allowed[string(v)] {
				cr.views = append(cr.views, v)
			}
		}
		if len(cr.views) == 0 {
			return compiledRule{}, fmt.Errorf("views %v name no known view", r.Views)
		}
	}
	return cr, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// appliesTo reports whether the rule's scope/source restrictions admit the
// given target.
func (r *compiledRule) appliesTo(field, source string) bool {
	if len(r.scopes) > 0 && !r.scopes[field] {
		return false
	}
	if field == signal.FieldPromptChunk && len(r.sources) > 0 && !r.sources[source] {
		return false
	}
	return true
}
