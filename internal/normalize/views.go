package normalize

import "github.com/LumiWave/schnabel-open-audit-sdk/internal/confusables"

// View names one of the four parallel representations of a text surface.
type View string

// The four views, in default probe order.
const (
	ViewRaw       View = "raw"
	ViewSanitized View = "sanitized"
	ViewRevealed  View = "revealed"
	ViewSkeleton  View = "skeleton"
)

// ProbeOrder is the default order detectors iterate views in.
var ProbeOrder = []View{ViewRaw, ViewSanitized, ViewRevealed, ViewSkeleton}

// PreferenceOrder ranks views for choosing a finding's canonical target when
// a rule matched several: more processed views are stronger evidence of
// evasion.
var PreferenceOrder = []View{ViewRevealed, ViewSkeleton, ViewSanitized, ViewRaw}

type viewMask uint8

const (
	maskRaw viewMask = 1 << iota
	maskSanitized
	maskRevealed
	maskSkeleton
)

func maskFor(v View) viewMask {
	switch v {
	case ViewRaw:
		return maskRaw
	case ViewSanitized:
		return maskSanitized
	case ViewRevealed:
		return maskRevealed
	case ViewSkeleton:
		return maskSkeleton
	}
	return 0
}

// TextViews holds the four parallel strings for one surface. The zero value
// has no views present; value semantics make copies cheap (strings share
// storage), which is how scanners return modified inputs without mutation.
type TextViews struct {
	Raw       string `json:"raw"`
	Sanitized string `json:"sanitized"`
	Revealed  string `json:"revealed"`
	Skeleton  string `json:"skeleton"`
	present   viewMask
}

// Has reports whether the given view has been set.
func (t TextViews) Has(v View) bool { return t.present&maskFor(v) != 0 }

// Complete reports whether all four views are present.
func (t TextViews) Complete() bool {
	return t.present == maskRaw|maskSanitized|maskRevealed|maskSkeleton
}

// Get returns the string for the given view. Unset views return "".
func (t TextViews) Get(v View) string {
	switch v {
	case ViewRaw:
		return t.Raw
	case ViewSanitized:
		return t.Sanitized
	case ViewRevealed:
		return t.Revealed
	case ViewSkeleton:
		return t.Skeleton
	}
	return ""
}

// With returns a copy of t with the given view set.
func (t TextViews) With(v View, s string) TextViews {
	switch v {
	case ViewRaw:
		t.Raw = s
	case ViewSanitized:
		t.Sanitized = s
	case ViewRevealed:
		t.Revealed = s
	case ViewSkeleton:
		t.Skeleton = s
	default:
		return t
	}
	t.present |= maskFor(v)
	return t
}

// RawViews seeds a view set with only the raw view present.
func RawViews(raw string) TextViews {
	return TextViews{}.With(ViewRaw, raw)
}

// Ensurer rebuilds missing views from raw using the default transforms.
// The chain runner calls it between every pair of scanners so the four-view
// invariant holds no matter what a scanner left unset.
type Ensurer struct {
	conf *confusables.Table
}

// NewEnsurer creates an Ensurer over the given confusables table.
func NewEnsurer(table *confusables.Table) *Ensurer {
	return &Ensurer{conf: table}
}

// Skeletonize applies the UTS #39 skeleton transform.
func (e *Ensurer) Skeletonize(s string) string { return e.conf.Skeleton(s) }

// Ensure fills any missing view with its default transform: sanitized from
// raw, revealed from raw (tag decode + sanitize), skeleton from revealed. Present views are never recomputed, so sanitizer output
// survives.
func (e *Ensurer) Ensure(t TextViews) TextViews {
	if !t.Has(ViewRaw) {
		t = t.With(ViewRaw, t.Raw)
	}
	if !t.Has(ViewSanitized) {
		t = t.With(ViewSanitized, Sanitize(t.Raw))
	}
	if !t.Has(ViewRevealed) {
		t = t.With(ViewRevealed, Reveal(t.Raw))
	}
	if !t.Has(ViewSkeleton) {
		t = t.With(ViewSkeleton, e.conf.Skeleton(t.Get(ViewRevealed)))
	}
	return t
}
