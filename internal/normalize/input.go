package normalize

import (
	"sort"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/canonjson"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/confusables"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
)

// Chunk sources, matching rule-pack "sources" values.
const (
	SourceUser      = "user"
	SourceRetrieval = "retrieval"
	SourceTool      = "tool"
)

// CanonicalChunk is one entry of the canonical prompt-chunk list: the user
// prompt (chunk 0), each retrieval doc, then each tool output, in order.
type CanonicalChunk struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	DocID      string `json:"docId,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
}

// Canonical carries the deterministic string forms of the request: same
// input, byte-identical output.
type Canonical struct {
	Prompt          string           `json:"promptCanonical"`
	Chunks          []CanonicalChunk `json:"promptChunksCanonical"`
	ToolCallsJSON   string           `json:"toolCallsJson"`
	ToolResultsJSON string           `json:"toolResultsJson"`
	Response        string           `json:"responseCanonical"`
}

// Features flags which surfaces and structures are present, computed once.
type Features struct {
	HasRetrieval   bool `json:"hasRetrieval"`
	HasToolCalls   bool `json:"hasToolCalls"`
	HasToolResults bool `json:"hasToolResults"`
	HasResponse    bool `json:"hasResponse"`
}

// Views holds the per-surface view sets: the prompt, one per canonical
// chunk (parallel to Canonical.Chunks), and the response when present.
type Views struct {
	Prompt   TextViews   `json:"prompt"`
	Chunks   []TextViews `json:"chunks"`
	Response TextViews   `json:"response"`
}

// Input is the NormalizedInput threaded through the scanner chain. Scanners
// treat it as immutable and return a new value for any change.
type Input struct {
	RequestID string
	Timestamp int64
	Raw       *ingress.AuditRequest
	Canonical Canonical
	Features  Features
	Views     Views
}

// Normalizer builds and maintains NormalizedInput values.
type Normalizer struct {
	ensurer *Ensurer
}

// New creates a Normalizer over the given confusables table.
func New(table *confusables.Table) *Normalizer {
	return &Normalizer{ensurer: NewEnsurer(table)}
}

// Ensurer exposes the view ensurer for the chain runner.
func (n *Normalizer) Ensurer() *Ensurer { return n.ensurer }

// Normalize maps a validated AuditRequest into a NormalizedInput: raw request,
// canonical strings, feature flags, and fully seeded views. Raw is the req
// pointer itself; the request is not copied, so it is shared with the caller.
// Pure and deterministic.
func (n *Normalizer) Normalize(req *ingress.AuditRequest) *Input {
	in := &Input{
		RequestID: req.RequestID,
		Timestamp: req.Timestamp,
		Raw:       req,
		Features: Features{
			HasRetrieval:   len(req.RetrievalDocs) > 0,
			HasToolCalls:   len(req.ToolCalls) > 0,
			HasToolResults: len(req.ToolResults) > 0,
			HasResponse:    req.HasResponse,
		},
	}

	chunks := make([]CanonicalChunk, 0, 1+len(req.RetrievalDocs)+len(req.ToolResults))
	chunks = append(chunks, CanonicalChunk{
		Text:       req.UserPrompt,
		Source:     SourceUser,
		ChunkIndex: 0,
	})
	for _, d := range req.RetrievalDocs {
		chunks = append(chunks, CanonicalChunk{
			Text:       d.Text,
			Source:     SourceRetrieval,
			DocID:      d.DocID,
			ChunkIndex: len(chunks),
		})
	}
	for _, tr := range req.ToolResults {
		chunks = append(chunks, CanonicalChunk{
			Text:       ToolResultText(tr),
			Source:     SourceTool,
			DocID:      tr.ToolName,
			ChunkIndex: len(chunks),
		})
	}

	in.Canonical = Canonical{
		Prompt:          req.UserPrompt,
		Chunks:          chunks,
		ToolCallsJSON:   canonjson.Canonicalize(req.ToolCalls),
		ToolResultsJSON: canonjson.Canonicalize(req.ToolResults),
		Response:        req.ResponseText,
	}

	in.Views = Views{
		Prompt: n.ensurer.Ensure(RawViews(req.UserPrompt)),
		Chunks: make([]TextViews, len(chunks)),
	}
	for i, c := range chunks {
		in.Views.Chunks[i] = n.ensurer.Ensure(RawViews(c.Text))
	}
	if req.HasResponse {
		in.Views.Response = n.ensurer.Ensure(RawViews(req.ResponseText))
	}

	return in
}

// EnsureViews returns an input whose every present surface has all four
// views, rebuilding missing ones from raw with the default transforms.
// If nothing is missing the input is returned unchanged.
func (n *Normalizer) EnsureViews(in *Input) *Input {
	complete := in.Views.Prompt.Complete() &&
		(!in.Features.HasResponse || in.Views.Response.Complete())
	if complete {
		for _, c := range in.Views.Chunks {
			if !c.Complete() {
				complete = false
				break
			}
		}
	}
	if complete {
		return in
	}

	out := *in
	out.Views.Prompt = n.ensurer.Ensure(in.Views.Prompt)
	out.Views.Chunks = make([]TextViews, len(in.Views.Chunks))
	for i, c := range in.Views.Chunks {
		out.Views.Chunks[i] = n.ensurer.Ensure(c)
	}
	if in.Features.HasResponse {
		out.Views.Response = n.ensurer.Ensure(in.Views.Response)
	}
	return &out
}

// WithPromptViews returns a copy of in carrying new prompt views.
func (in *Input) WithPromptViews(tv TextViews) *Input {
	out := *in
	out.Views.Prompt = tv
	return &out
}

// WithChunkViews returns a copy of in carrying new views for chunk i.
// Only the chunk slice is reallocated; all strings are shared.
func (in *Input) WithChunkViews(i int, tv TextViews) *Input {
	out := *in
	out.Views.Chunks = append([]TextViews(nil), in.Views.Chunks...)
	out.Views.Chunks[i] = tv
	return &out
}

// WithResponseViews returns a copy of in carrying new response views.
func (in *Input) WithResponseViews(tv TextViews) *Input {
	out := *in
	out.Views.Response = tv
	return &out
}

// WithToolCallsJSON returns a copy of in carrying a replacement canonical
// tool-calls serialization.
func (in *Input) WithToolCallsJSON(s string) *Input {
	out := *in
	out.Canonical.ToolCallsJSON = s
	return &out
}

// ToolResultText extracts the deterministic textual form of a tool result:
// string data verbatim, structured data as its string values walked in
// sorted-key order, with the error message appended.
func ToolResultText(tr ingress.ToolResult) string {
	var parts []string
	if s := extractStrings(tr.Data); s != "" {
		parts = append(parts, s)
	}
	if tr.Error != "" {
		parts = append(parts, tr.Error)
	}
	return strings.Join(parts, "\n")
}

// extractStrings walks a JSON-like value collecting string leaves in
// deterministic order (map keys sorted).
func extractStrings(v any) string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case []any:
			for _, item := range val {
				walk(item)
			}
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(val[k])
			}
		}
	}
	walk(v)
	return strings.Join(out, "\n")
}
