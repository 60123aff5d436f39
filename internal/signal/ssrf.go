package signal

import (
	"context"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// NameToolArgsSSRF identifies the tool-argument SSRF detector.
const NameToolArgsSSRF = "tool_args_ssrf"

// suspiciousHosts are hostnames that resolve into infrastructure no agent
// tool call has business reaching.
var suspiciousHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
}

var suspiciousHostSuffixes = []string{".localhost", ".local"}

// ToolArgsSSRF walks tool-call argument strings looking for URLs that point
// at private, loopback, or link-local addresses, or at well-known metadata
// endpoints. Strings are normalized (NFKC, invisible strip, scheme-only
// separator collapse) before parsing so obfuscated schemes still parse.
type ToolArgsSSRF struct {
	nodeBudget int
}

// NewToolArgsSSRF returns the SSRF detector with the default node budget.
func NewToolArgsSSRF() *ToolArgsSSRF { return &ToolArgsSSRF{nodeBudget: DefaultNodeBudget} }

// Name implements Scanner.
func (s *ToolArgsSSRF) Name() string { return NameToolArgsSSRF }

// Kind implements Scanner.
func (s *ToolArgsSSRF) Kind() Kind { return KindDetect }

// Run implements Scanner.
func (s *ToolArgsSSRF) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
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

			host, reason := classifySSRF(str)
			if reason == "" {
				return true
			}
			res.Findings = append(res.Findings, Finding{
				ID:      FindingID(s.Name(), in.RequestID, strconv.Itoa(callIdx)+"|"+strconv.Itoa(pos)),
				Kind:    KindDetect,
				Scanner: s.Name(),
				Score:   0.9,
				Risk:    RiskHigh,
				Tags:    []string{"ssrf", "tool-boundary"},
				Summary: "tool argument targets internal network address",
				Target: Target{
					Field:      FieldPromptChunk,
					View:       string(normalize.ViewRaw),
					Source:     normalize.SourceTool,
					ChunkIndex: callIdx,
				},
				Evidence: map[string]string{
					"category": "tool_args_ssrf",
					"tool":     tc.ToolName,
					"host":     host,
					"reason":   reason,
					"snippet":  Snippet(str),
				},
			})
			return true
		})
	}

	if w.exceeded && len(res.Findings) > 0 {
		res.Findings[len(res.Findings)-1].Evidence["maxNodesExceeded"] = "true"
	}
	return res, nil
}

// classifySSRF normalizes a candidate string, parses it as a URL, and
// classifies the host. Returns the host and a non-empty reason on a hit.
func classifySSRF(raw string) (host, reason string) {
	cleaned := normalize.CollapseSchemeSeparators(normalize.Sanitize(raw))
	if !strings.Contains(cleaned, "://") {
		return "", ""
	}
	u, err := url.Parse(cleaned)
	if err != nil || u.Hostname() == "" {
		return "", ""
	}
	host = strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))

	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return host, "loopback_address"
		case addr.IsPrivate():
			return host, "private_address"
		case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
			return host, "link_local_address"
		case addr.IsUnspecified():
			return host, "unspecified_address"
		}
		if suspiciousHosts[host] {
			return host, "metadata_endpoint"
		}
		return "", ""
	}

	if suspiciousHosts[host] {
		return host, "suspicious_hostname"
	}
	for _, suffix := range suspiciousHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return host, "suspicious_hostname"
		}
	}
	return "", ""
}
