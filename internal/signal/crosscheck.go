package signal

import (
	"context"
	"strconv"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// NameCrossCheck identifies the cross-field contradiction detector.
const NameCrossCheck = "cross_check"

// successClaims are response phrases asserting that requested work was done.
var successClaims = []string{
	"successfully",
	"i have completed",
	"has been completed",
	"done as requested",
	"task is complete",
}

// CrossCheck flags structural contradictions across fields: tool results
// whose ok flag disagrees with their payload, and responses claiming
// success when every tool call failed.
type CrossCheck struct{}

// NewCrossCheck returns the contradiction detector.
func NewCrossCheck() *CrossCheck { return &CrossCheck{} }

// Name implements Scanner.
func (s *CrossCheck) Name() string { return NameCrossCheck }

// Kind implements Scanner.
func (s *CrossCheck) Kind() Kind { return KindDetect }

// Run implements Scanner.
func (s *CrossCheck) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	var res Result

	// Tool chunks start after the prompt chunk and the retrieval docs.
	toolChunkBase := 1 + len(in.Raw.RetrievalDocs)

	for i, tr := range in.Raw.ToolResults {
		var summary string
		switch {
		case tr.OK && tr.Error != "":
			summary = "tool result reports success but carries an error"
		case !tr.OK && tr.Data != nil:
			summary = "tool result reports failure but carries data"
		default:
			continue
		}
		res.Findings = append(res.Findings, Finding{
			ID:      FindingID(s.Name(), in.RequestID, "toolResult:"+strconv.Itoa(i)),
			Kind:    KindDetect,
			Scanner: s.Name(),
			Score:   0.4,
			Risk:    RiskMedium,
			Tags:    []string{"contradiction", "tool-boundary"},
			Summary: summary,
			Target: Target{
				Field:      FieldPromptChunk,
				View:       string(normalize.ViewRaw),
				Source:     normalize.SourceTool,
				ChunkIndex: toolChunkBase + i,
			},
			Evidence: map[string]string{
				"category": "cross_check",
				"tool":     tr.ToolName,
				"ok":       strconv.FormatBool(tr.OK),
			},
		})
	}

	if in.Features.HasResponse && in.Features.HasToolResults {
		allFailed := true
		for _, tr := range in.Raw.ToolResults {
			if tr.OK {
				allFailed = false
				break
			}
		}
		if allFailed {
			lower := strings.ToLower(in.Views.Response.Get(normalize.ViewRevealed))
			for _, claim := range successClaims {
				if strings.Contains(lower, claim) {
					res.Findings = append(res.Findings, Finding{
						ID:      FindingID(s.Name(), in.RequestID, "response:"+claim),
						Kind:    KindDetect,
						Scanner: s.Name(),
						Score:   0.5,
						Risk:    RiskMedium,
						Tags:    []string{"contradiction", "response"},
						Summary: "response claims success but every tool call failed",
						Target:  Target{Field: FieldResponse, View: string(normalize.ViewRevealed)},
						Evidence: map[string]string{
							"category": "cross_check",
							"claim":    claim,
						},
					})
					break
				}
			}
		}
	}

	return res, nil
}
