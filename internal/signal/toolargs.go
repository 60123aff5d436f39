package signal

import (
	"context"
	"reflect"
	"sort"
	"strconv"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/canonjson"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// NameToolArgsCanonicalizer identifies the tool-argument sanitizer.
const NameToolArgsCanonicalizer = "tool_args_canonicalizer"

// DefaultNodeBudget caps how many nodes the tool-argument walkers visit.
const DefaultNodeBudget = 20000

// argWalker bounds traversal of untrusted argument trees: a node budget and
// an identity-keyed visited set guarding against cycles in shared structures.
type argWalker struct {
	budget   int
	exceeded bool
	visiting map[uintptr]bool
}

func newArgWalker(budget int) *argWalker {
	if budget <= 0 {
		budget = DefaultNodeBudget
	}
	return &argWalker{budget: budget, visiting: make(map[uintptr]bool)}
}

// spend consumes one node from the budget. Returns false when exhausted.
func (w *argWalker) spend() bool {
	if w.budget <= 0 {
		w.exceeded = true
		return false
	}
	w.budget--
	return true
}

// enter marks a container as in-progress; returns false on a cycle.
func (w *argWalker) enter(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		ptr := rv.Pointer()
		if w.visiting[ptr] {
			return 0, false
		}
		w.visiting[ptr] = true
		return ptr, true
	default:
		return 0, true
	}
}

func (w *argWalker) leave(ptr uintptr) {
	if ptr != 0 {
		delete(w.visiting, ptr)
	}
}

// walkStrings visits every string leaf of a JSON-like value in deterministic
// order (map keys sorted), invoking fn until the budget runs out or fn
// returns false.
func (w *argWalker) walkStrings(v any, fn func(s string) bool) bool {
	if !w.spend() {
		return false
	}
	ptr, ok := w.enter(v)
	if !ok {
		return true // cycle: skip, keep walking siblings
	}
	defer w.leave(ptr)

	switch val := v.(type) {
	case string:
		return fn(val)
	case []any:
		for _, item := range val {
			if !w.walkStrings(item, fn) {
				return false
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if !w.walkStrings(val[k], fn) {
				return false
			}
		}
	}
	return true
}

// rewriteStrings rebuilds a JSON-like value with every string leaf passed
// through fn. Cycles are replaced by the canonical circular marker.
func (w *argWalker) rewriteStrings(v any, fn func(s string) string) (any, bool) {
	if !w.spend() {
		return v, false
	}
	ptr, ok := w.enter(v)
	if !ok {
		return "[Circular]", true
	}
	defer w.leave(ptr)

	switch val := v.(type) {
	case string:
		nv := fn(val)
		return nv, nv != val
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, item := range val {
			nv, c := w.rewriteStrings(item, fn)
			out[i] = nv
			changed = changed || c
		}
		if !changed {
			return val, false
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for _, k := range sortedKeys(val) {
			nv, c := w.rewriteStrings(val[k], fn)
			out[k] = nv
			changed = changed || c
		}
		if !changed {
			return val, false
		}
		return out, true
	default:
		return v, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToolArgsCanonicalizer walks tool-call argument trees, NFKC-normalizing
// every string and stripping invisible/bidi carriers. When anything changed
// it swaps in a replacement canonical tool-calls serialization and emits a
// finding with per-string counters.
type ToolArgsCanonicalizer struct {
	nodeBudget int
}

// NewToolArgsCanonicalizer returns the tool-argument sanitizer with the
// default node budget.
func NewToolArgsCanonicalizer() *ToolArgsCanonicalizer {
	return &ToolArgsCanonicalizer{nodeBudget: DefaultNodeBudget}
}

// Name implements Scanner.
func (s *ToolArgsCanonicalizer) Name() string { return NameToolArgsCanonicalizer }

// Kind implements Scanner.
func (s *ToolArgsCanonicalizer) Kind() Kind { return KindSanitize }

// Run implements Scanner.
func (s *ToolArgsCanonicalizer) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	if !in.Features.HasToolCalls {
		return Result{}, nil
	}

	w := newArgWalker(s.nodeBudget)
	changedStrings := 0
	anyChanged := false

	rewritten := make([]ingress.ToolCall, len(in.Raw.ToolCalls))
	for i, tc := range in.Raw.ToolCalls {
		args, changed := w.rewriteStrings(tc.Args, func(str string) string {
			clean := normalize.Sanitize(str)
			if clean != str {
				changedStrings++
			}
			return clean
		})
		rewritten[i] = ingress.ToolCall{ToolName: tc.ToolName, Args: args}
		anyChanged = anyChanged || changed
	}

	if !anyChanged && !w.exceeded {
		return Result{}, nil
	}

	var res Result
	if anyChanged {
		res.Input = in.WithToolCallsJSON(canonjson.Canonicalize(rewritten))
	}
	res.Findings = append(res.Findings, Finding{
		ID:      FindingID(s.Name(), in.RequestID, "toolCalls"),
		Kind:    KindSanitize,
		Scanner: s.Name(),
		Score:   0.1,
		Risk:    RiskLow,
		Tags:    []string{"obfuscation", "tool-args"},
		Summary: "tool-call argument strings canonicalized",
		Target:  Target{Field: FieldPromptChunk, View: string(normalize.ViewSanitized), Source: normalize.SourceTool},
		Evidence: map[string]string{
			"changedStringCount": strconv.Itoa(changedStrings),
			"maxNodesExceeded":   strconv.FormatBool(w.exceeded),
		},
	})
	return res, nil
}
