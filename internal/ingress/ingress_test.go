package ingress

import (
	"strings"
	"testing"
)

func strptr(s string) *string { return &s }

func TestAdapt_Valid(t *testing.T) {
	ev := &AgentIngressEvent{
		RequestID:  "req-1",
		Timestamp:  1700000000000,
		UserPrompt: strptr("hello"),
		RetrievalDocs: []RetrievalDoc{
			{Text: "doc one", DocID: "d1"},
		},
		ToolCalls: []ToolCall{
			{ToolName: "search", Args: map[string]any{"q": "x"}},
		},
		ToolResults: []ToolResult{
			{ToolName: "search", OK: true, Data: "result"},
		},
		ResponseText: strptr("answer"),
	}
	req, err := Adapt(ev, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if req.RequestID != "req-1" || req.UserPrompt != "hello" {
		t.Errorf("unexpected request: %+v", req)
	}
	if !req.HasResponse || req.ResponseText != "answer" {
		t.Errorf("response not carried: %+v", req)
	}
}

func TestAdapt_ResponseAbsentVsEmpty(t *testing.T) {
	base := AgentIngressEvent{RequestID: "r", Timestamp: 1, UserPrompt: strptr("")}

	absent := base
	req, err := Adapt(&absent, Options{})
	if err != nil {
		t.Fatalf("Adapt absent: %v", err)
	}
	if req.HasResponse {
		t.Error("absent responseText must not set HasResponse")
	}

	empty := base
	empty.ResponseText = strptr("")
	req, err = Adapt(&empty, Options{})
	if err != nil {
		t.Fatalf("Adapt empty: %v", err)
	}
	if !req.HasResponse {
		t.Error("empty responseText must set HasResponse")
	}
}

func TestAdapt_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		ev      *AgentIngressEvent
		wantSub string
	}{
		{"nil event", nil, "nil event"},
		{"missing requestId", &AgentIngressEvent{Timestamp: 1, UserPrompt: strptr("p")}, "requestId"},
		{"zero timestamp", &AgentIngressEvent{RequestID: "r", UserPrompt: strptr("p")}, "timestamp"},
		{"missing prompt", &AgentIngressEvent{RequestID: "r", Timestamp: 1}, "userPrompt"},
		{
			"tool call without name",
			&AgentIngressEvent{RequestID: "r", Timestamp: 1, UserPrompt: strptr("p"),
				ToolCalls: []ToolCall{{Args: 1}}},
			"toolCalls[0]",
		},
		{
			"tool result without name",
			&AgentIngressEvent{RequestID: "r", Timestamp: 1, UserPrompt: strptr("p"),
				ToolResults: []ToolResult{{OK: true}}},
			"toolResults[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Adapt(tt.ev, Options{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestParseEvent_NumbersPreserved(t *testing.T) {
	data := []byte(`{"requestId":"r","timestamp":1700000000000,"userPrompt":"p",` +
		`"toolCalls":[{"toolName":"t","args":{"big":9007199254740993}}]}`)
	ev, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	args, ok := ev.ToolCalls[0].Args.(map[string]any)
	if !ok {
		t.Fatalf("args not a map: %T", ev.ToolCalls[0].Args)
	}
	if got := args["big"]; got == nil {
		t.Fatal("big arg missing")
	} else if s, ok := got.(interface{ String() string }); !ok || s.String() != "9007199254740993" {
		t.Errorf("big arg lost precision: %v (%T)", got, got)
	}
}

func TestParseEvent_BadJSON(t *testing.T) {
	if _, err := ParseEvent([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestMaybeExtractHTML_Passthrough(t *testing.T) {
	plain := "just some plain retrieval text"
	if got := maybeExtractHTML(plain); got != plain {
		t.Errorf("plain text must pass through, got %q", got)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<!DOCTYPE html><html><body>x</body></html>", true},
		{"<html><body>x</body></html>", true},
		{"plain text with a < sign", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeHTML(tt.in); got != tt.want {
			t.Errorf("looksLikeHTML(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
