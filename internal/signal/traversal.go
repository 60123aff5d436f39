package signal

import (
	"context"
	"strconv"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// NameToolArgsPathTraversal identifies the path-traversal detector.
const NameToolArgsPathTraversal = "tool_args_path_traversal"

// traversalMarkers are substrings indicating directory traversal, checked
// case-insensitively after normalization.
var traversalMarkers = []string{"../", "..\\", "%2e%2e", "%2f", "%5c"}

// sensitiveMarkers are path fragments referencing material no tool argument
// should name.
var sensitiveMarkers = []string{
	"/etc/passwd",
	"/etc/shadow",
	".ssh",
	"id_rsa",
	".env",
	"c:\\windows\\",
}

// ToolArgsPathTraversal walks tool-call argument strings for path-looking
// values that contain traversal segments or reference sensitive paths.
// A sensitive reference is high risk; traversal alone is medium.
type ToolArgsPathTraversal struct {
	nodeBudget int
}

// NewToolArgsPathTraversal returns the path-traversal detector.
func NewToolArgsPathTraversal() *ToolArgsPathTraversal {
	return &ToolArgsPathTraversal{nodeBudget: DefaultNodeBudget}
}

// Name implements Scanner.
func (s *ToolArgsPathTraversal) Name() string { return NameToolArgsPathTraversal }

// Kind implements Scanner.
func (s *ToolArgsPathTraversal) Kind() Kind { return KindDetect }

// Run implements Scanner.
func (s *ToolArgsPathTraversal) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	if !in.Features.HasToolCalls {
		return Result{}, nil
	}

	var res Result
	w := newArgWalker(s.nodeBudget)

	for callIdx, tc := range in.Raw.ToolCalls {
		argPos := 0
		w.walkStrings(tc.Args, func(str string) bool {
			pos := argPos
			argPos++

			category := classifyPath(str)
			if category == "" {
				return true
			}
			risk, score := RiskMedium, 0.5
			if category == "sensitive_path" {
				risk, score = RiskHigh, 0.85
			}
			res.Findings = append(res.Findings, Finding{
				ID:      FindingID(s.Name(), in.RequestID, strconv.Itoa(callIdx)+"|"+strconv.Itoa(pos)),
				Kind:    KindDetect,
				Scanner: s.Name(),
				Score:   score,
				Risk:    risk,
				Tags:    []string{"path-traversal", "tool-boundary"},
				Summary: "tool argument contains " + strings.ReplaceAll(category, "_", " "),
				Target: Target{
					Field:      FieldPromptChunk,
					View:       string(normalize.ViewRaw),
					Source:     normalize.SourceTool,
					ChunkIndex: callIdx,
				},
				Evidence: map[string]string{
					"category": "tool_args_path_traversal",
					"tool":     tc.ToolName,
					"kind":     category,
					"snippet":  Snippet(str),
				},
			})
			return true
		})
	}

	return res, nil
}

// classifyPath reports "sensitive_path", "traversal", or "" for a candidate
// argument string.
func classifyPath(raw string) string {
	cleaned := strings.ToLower(normalize.Sanitize(raw))
	if !looksLikePath(cleaned) {
		return ""
	}
	for _, m := range sensitiveMarkers {
		if strings.Contains(cleaned, m) {
			return "sensitive_path"
		}
	}
	for _, m := range traversalMarkers {
		if strings.Contains(cleaned, m) {
			return "traversal"
		}
	}
	return ""
}

func looksLikePath(s string) bool {
	return strings.ContainsAny(s, "/\\") ||
		strings.HasPrefix(s, "~") ||
		strings.HasPrefix(s, ".")
}
