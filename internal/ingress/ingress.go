// Package ingress maps loose agent events into canonical audit requests.
// It is the validation boundary: everything downstream may assume a
// well-formed AuditRequest.
package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// RetrievalDoc is one retrieved chunk of context handed to the model.
type RetrievalDoc struct {
	Text   string `json:"text"`
	DocID  string `json:"docId,omitempty"`
	Source string `json:"source,omitempty"`
}

// ToolCall is a single tool invocation with its raw argument tree.
type ToolCall struct {
	ToolName string `json:"toolName"`
	Args     any    `json:"args"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	ToolName string `json:"toolName"`
	OK       bool   `json:"ok"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AuditRequest is the canonical, validated input to one audit turn.
// It is immutable by convention: nothing downstream mutates it.
type AuditRequest struct {
	RequestID     string         `json:"requestId"`
	Timestamp     int64          `json:"timestamp"`
	UserPrompt    string         `json:"userPrompt"`
	RetrievalDocs []RetrievalDoc `json:"retrievalDocs,omitempty"`
	ToolCalls     []ToolCall     `json:"toolCalls,omitempty"`
	ToolResults   []ToolResult   `json:"toolResults,omitempty"`
	ResponseText  string         `json:"responseText,omitempty"`
	HasResponse   bool           `json:"hasResponse"`
}

// AgentIngressEvent is the loose wire shape accepted from agent harnesses.
// ResponseText is a pointer so "absent" and "empty response" stay distinct.
type AgentIngressEvent struct {
	RequestID     string         `json:"requestId"`
	Timestamp     int64          `json:"timestamp"`
	UserPrompt    *string        `json:"userPrompt"`
	RetrievalDocs []RetrievalDoc `json:"retrievalDocs,omitempty"`
	ToolCalls     []ToolCall     `json:"toolCalls,omitempty"`
	ToolResults   []ToolResult   `json:"toolResults,omitempty"`
	ResponseText  *string        `json:"responseText,omitempty"`
}

// Options controls optional ingress transforms.
type Options struct {
	// ExtractHTML runs retrieval docs that look like HTML documents through
	// readability extraction so detectors see article text, not markup.
	ExtractHTML bool
}

// ParseEvent decodes a JSON-encoded AgentIngressEvent. Numbers are decoded
// with UseNumber so oversized tool-arg integers survive verbatim.
func ParseEvent(data []byte) (*AgentIngressEvent, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var ev AgentIngressEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("parsing ingress event: %w", err)
	}
	return &ev, nil
}

// Adapt validates an ingress event and produces the AuditRequest.
// Validation failures are descriptive errors naming the offending field.
func Adapt(ev *AgentIngressEvent, opts Options) (*AuditRequest, error) {
	if ev == nil {
		return nil, fmt.Errorf("ingress: nil event")
	}
	if ev.RequestID == "" {
		return nil, fmt.Errorf("ingress: requestId is required and must be non-empty")
	}
	if ev.Timestamp <= 0 {
		return nil, fmt.Errorf("ingress: timestamp must be a positive ms-since-epoch integer")
	}
	if ev.UserPrompt == nil {
		return nil, fmt.Errorf("ingress: userPrompt is required (empty string is allowed)")
	}
	for i, d := range ev.RetrievalDocs {
		if d.Text == "" && d.DocID == "" {
			return nil, fmt.Errorf("ingress: retrievalDocs[%d] has neither text nor docId", i)
		}
	}
	for i, tc := range ev.ToolCalls {
		if tc.ToolName == "" {
			return nil, fmt.Errorf("ingress: toolCalls[%d].toolName is required", i)
		}
	}
	for i, tr := range ev.ToolResults {
		if tr.ToolName == "" {
			return nil, fmt.Errorf("ingress: toolResults[%d].toolName is required", i)
		}
	}

	req := &AuditRequest{
		RequestID:     ev.RequestID,
		Timestamp:     ev.Timestamp,
		UserPrompt:    *ev.UserPrompt,
		RetrievalDocs: append([]RetrievalDoc(nil), ev.RetrievalDocs...),
		ToolCalls:     append([]ToolCall(nil), ev.ToolCalls...),
		ToolResults:   append([]ToolResult(nil), ev.ToolResults...),
	}
	if ev.ResponseText != nil {
		req.ResponseText = *ev.ResponseText
		req.HasResponse = true
	}

	if opts.ExtractHTML {
		for i := range req.RetrievalDocs {
			req.RetrievalDocs[i].Text = maybeExtractHTML(req.RetrievalDocs[i].Text)
		}
	}

	return req, nil
}

// maybeExtractHTML reduces an HTML document to its readable text. Inputs that
// do not look like full HTML documents pass through unchanged, as does any
// input readability cannot parse.
func maybeExtractHTML(text string) string {
	if !looksLikeHTML(text) {
		return text
	}
	article, err := readability.FromReader(strings.NewReader(text), nil)
	if err != nil {
		return text
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return text
	}
	return article.TextContent
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		(strings.Contains(head, "<body") && strings.Contains(head, "<"))
}
