// Package evidence assembles the deterministic, hash-chained evidence
// package produced after policy evaluation. Hashing uses the canonical JSON
// rule throughout, so re-running the same input reproduces the same root
// hash bit for bit.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/policy"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/canonjson"
)

// Schema identifies the evidence package format.
const Schema = "schnabel-evidence-v0"

// HashAlgo names the content-address hash.
const HashAlgo = "sha256"

// previewRunes caps rawDigest previews.
const previewRunes = 80

// ScannerInfo records one chain stage in order.
type ScannerInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Digest content-addresses one raw surface.
type Digest struct {
	Preview string `json:"preview"`
	Length  int    `json:"length"`
	Hash    string `json:"hash"`
}

// Normalized carries the canonical forms and feature flags of the input.
type Normalized struct {
	Canonical normalize.Canonical `json:"canonical"`
	Features  normalize.Features  `json:"features"`
}

// Scanned carries the post-chain views of every surface.
type Scanned struct {
	Views normalize.Views `json:"views"`
}

// Meta carries audit-level metadata.
type Meta struct {
	RulePackVersions []string `json:"rulePackVersions"`
}

// IntegrityItem is one per-section hash.
type IntegrityItem struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Integrity is the hash chain over the package sections.
type Integrity struct {
	Algo     string          `json:"algo"`
	RootHash string          `json:"rootHash"`
	Items    []IntegrityItem `json:"items"`
}

// Package is the complete evidence record for one audited turn.
type Package struct {
	Schema        string            `json:"schema"`
	RequestID     string            `json:"requestId"`
	GeneratedAtMs int64             `json:"generatedAtMs"`
	Scanners      []ScannerInfo     `json:"scanners"`
	Normalized    Normalized        `json:"normalized"`
	Scanned       Scanned           `json:"scanned"`
	RawDigest     map[string]Digest `json:"rawDigest"`
	Findings      []signal.Finding  `json:"findings"`
	Decision      policy.Decision   `json:"decision"`
	Meta          Meta              `json:"meta"`
	Integrity     Integrity         `json:"integrity"`
}

// Build assembles and hash-chains the evidence package. generatedAtMs is
// stamped into the envelope but excluded from the hash material, so the
// root hash depends only on canonicalized content, never the wall clock.
func Build(in *normalize.Input, scanners []ScannerInfo, findings []signal.Finding, decision policy.Decision, rulePackVersions []string, generatedAtMs int64) *Package {
	if findings == nil {
		findings = []signal.Finding{}
	}
	if rulePackVersions == nil {
		rulePackVersions = []string{}
	}

	pkg := &Package{
		Schema:        Schema,
		RequestID:     in.RequestID,
		GeneratedAtMs: generatedAtMs,
		Scanners:      scanners,
		Normalized:    Normalized{Canonical: in.Canonical, Features: in.Features},
		Scanned:       Scanned{Views: in.Views},
		RawDigest:     rawDigests(in),
		Findings:      findings,
		Decision:      decision,
		Meta:          Meta{RulePackVersions: rulePackVersions},
	}

	sections := []struct {
		name  string
		value any
	}{
		{"scanners", pkg.Scanners},
		{"normalized", pkg.Normalized},
		{"scanned", pkg.Scanned},
		{"rawDigest", pkg.RawDigest},
		{"findings", pkg.Findings},
		{"decision", pkg.Decision},
		{"meta", pkg.Meta},
	}

	items := make([]IntegrityItem, 0, len(sections))
	for _, s := range sections {
		items = append(items, IntegrityItem{Name: s.name, Hash: hashValue(s.value)})
	}

	pkg.Integrity = Integrity{
		Algo:     HashAlgo,
		Items:    items,
		RootHash: rootHash(pkg, items),
	}
	return pkg
}

// rootHash hashes the canonicalized package with the rootHash field absent
// and the wall-clock stamp excluded.
func rootHash(pkg *Package, items []IntegrityItem) string {
	material := map[string]any{
		"schema":     pkg.Schema,
		"requestId":  pkg.RequestID,
		"scanners":   pkg.Scanners,
		"normalized": pkg.Normalized,
		"scanned":    pkg.Scanned,
		"rawDigest":  pkg.RawDigest,
		"findings":   pkg.Findings,
		"decision":   pkg.Decision,
		"meta":       pkg.Meta,
		"integrity": map[string]any{
			"algo":  HashAlgo,
			"items": items,
		},
	}
	return hashValue(material)
}

func hashValue(v any) string {
	sum := sha256.Sum256(canonjson.CanonicalizeToBytes(v))
	return hex.EncodeToString(sum[:])
}

// rawDigests content-addresses the raw input surfaces.
func rawDigests(in *normalize.Input) map[string]Digest {
	out := map[string]Digest{
		"prompt":      digest(in.Raw.UserPrompt),
		"toolCalls":   digest(in.Canonical.ToolCallsJSON),
		"toolResults": digest(in.Canonical.ToolResultsJSON),
	}
	if in.Features.HasResponse {
		out["response"] = digest(in.Raw.ResponseText)
	}
	return out
}

func digest(s string) Digest {
	sum := sha256.Sum256([]byte(s))
	preview := s
	if runes := []rune(s); len(runes) > previewRunes {
		preview = string(runes[:previewRunes])
	}
	return Digest{
		Preview: preview,
		Length:  len(s),
		Hash:    hex.EncodeToString(sum[:]),
	}
}

// Canonical serializes the package to its canonical JSON form, the single
// shape used for persistence and transport.
func (p *Package) Canonical() []byte {
	return canonjson.CanonicalizeToBytes(p)
}
