package signal

import (
	"context"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// Built-in scanner names.
const (
	NameUnicodeSanitizer  = "unicode_sanitizer"
	NameHiddenAsciiTags   = "hidden_ascii_tags"
	NameSeparatorCollapse = "separator_collapse"
)

// UnicodeSanitizer strips invisible and bidi carriers from every surface and
// NFKC-normalizes, rebuilding the sanitized and revealed views from raw.
// Emits one low-risk finding per surface that actually changed.
type UnicodeSanitizer struct{}

// NewUnicodeSanitizer returns the standard first sanitizer of the chain.
func NewUnicodeSanitizer() *UnicodeSanitizer { return &UnicodeSanitizer{} }

// Name implements Scanner.
func (s *UnicodeSanitizer) Name() string { return NameUnicodeSanitizer }

// Kind implements Scanner.
func (s *UnicodeSanitizer) Kind() Kind { return KindSanitize }

// Run implements Scanner.
func (s *UnicodeSanitizer) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	var res Result
	current := in

	for _, sf := range surfaces(current) {
		raw := sf.views.Raw
		invisible, bidi := normalize.CountInvisible(raw)
		stripped := normalize.StripInvisible(raw)
		sanitized := norm.NFKC.String(stripped)
		nfkcApplied := sanitized != stripped

		if invisible == 0 && !nfkcApplied {
			continue
		}

		tv := sf.views.
			With(normalize.ViewSanitized, sanitized).
			With(normalize.ViewRevealed, normalize.Reveal(raw))
		current = applyViews(current, sf, tv)

		res.Findings = append(res.Findings, Finding{
			ID:      FindingID(s.Name(), in.RequestID, sf.localKey()),
			Kind:    KindSanitize,
			Scanner: s.Name(),
			Score:   0.1,
			Risk:    RiskLow,
			Tags:    []string{"obfuscation", "unicode"},
			Summary: "invisible or compatibility characters removed",
			Target:  sf.target(normalize.ViewSanitized),
			Evidence: map[string]string{
				"removedInvisibleCount": strconv.Itoa(invisible),
				"removedBidiCount":      strconv.Itoa(bidi),
				"nfkcApplied":           strconv.FormatBool(nfkcApplied),
			},
		})
	}

	if current != in {
		res.Input = current
	}
	return res, nil
}

// HiddenAsciiTags recovers ASCII payloads smuggled in the Unicode Tags
// block. The sanitized view has the Tag range stripped; the revealed view
// carries the decoded payload inline at its original position.
type HiddenAsciiTags struct{}

// NewHiddenAsciiTags returns the hidden-TAG sanitizer.
func NewHiddenAsciiTags() *HiddenAsciiTags { return &HiddenAsciiTags{} }

// Name implements Scanner.
func (s *HiddenAsciiTags) Name() string { return NameHiddenAsciiTags }

// Kind implements Scanner.
func (s *HiddenAsciiTags) Kind() Kind { return KindSanitize }

// Run implements Scanner.
func (s *HiddenAsciiTags) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	var res Result
	current := in

	for _, sf := range surfaces(current) {
		raw := sf.views.Raw
		if !normalize.HasTags(raw) {
			continue
		}

		hidden := 0
		for _, r := range raw {
			if normalize.IsTag(r) {
				hidden++
			}
		}

		revealed := normalize.Reveal(raw)
		tv := sf.views.With(normalize.ViewRevealed, revealed)
		current = applyViews(current, sf, tv)

		res.Findings = append(res.Findings, Finding{
			ID:      FindingID(s.Name(), in.RequestID, sf.localKey()),
			Kind:    KindSanitize,
			Scanner: s.Name(),
			Score:   0.3,
			Risk:    RiskLow,
			Tags:    []string{"obfuscation", "steganography"},
			Summary: "hidden ASCII recovered from Unicode tag characters",
			Target:  sf.target(normalize.ViewRevealed),
			Evidence: map[string]string{
				"hiddenAsciiCount": strconv.Itoa(hidden),
				"snippet":          Snippet(revealed),
			},
		})
	}

	if current != in {
		res.Input = current
	}
	return res, nil
}

// SeparatorCollapse removes inter-letter separator obfuscation (h.t.t.p,
// i|g|n|o|r|e) from the sanitized view of every surface.
type SeparatorCollapse struct{}

// NewSeparatorCollapse returns the separator-collapse sanitizer.
func NewSeparatorCollapse() *SeparatorCollapse { return &SeparatorCollapse{} }

// Name implements Scanner.
func (s *SeparatorCollapse) Name() string { return NameSeparatorCollapse }

// Kind implements Scanner.
func (s *SeparatorCollapse) Kind() Kind { return KindSanitize }

// Run implements Scanner.
func (s *SeparatorCollapse) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	var res Result
	current := in

	for _, sf := range surfaces(current) {
		sanitized := sf.views.Get(normalize.ViewSanitized)
		collapsed := normalize.CollapseSeparators(sanitized)
		if collapsed == sanitized {
			continue
		}

		tv := sf.views.With(normalize.ViewSanitized, collapsed)
		current = applyViews(current, sf, tv)

		res.Findings = append(res.Findings, Finding{
			ID:      FindingID(s.Name(), in.RequestID, sf.localKey()),
			Kind:    KindSanitize,
			Scanner: s.Name(),
			Score:   0.2,
			Risk:    RiskLow,
			Tags:    []string{"obfuscation", "separator"},
			Summary: "inter-letter separator obfuscation collapsed",
			Target:  sf.target(normalize.ViewSanitized),
			Evidence: map[string]string{
				"snippet": Snippet(collapsed),
			},
		})
	}

	if current != in {
		res.Input = current
	}
	return res, nil
}
