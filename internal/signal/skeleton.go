package signal

import (
	"context"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// NameSkeletonEnricher identifies the UTS #39 skeleton enricher.
const NameSkeletonEnricher = "uts39_skeleton"

// SkeletonEnricher writes the skeleton view of every surface from its
// revealed view. It produces no findings and must run after the sanitizers
// and before detectors that match the skeleton view.
type SkeletonEnricher struct {
	ensurer *normalize.Ensurer
}

// NewSkeletonEnricher builds the enricher over the given view ensurer
// (which carries the loaded confusables table).
func NewSkeletonEnricher(e *normalize.Ensurer) *SkeletonEnricher {
	return &SkeletonEnricher{ensurer: e}
}

// Name implements Scanner.
func (s *SkeletonEnricher) Name() string { return NameSkeletonEnricher }

// Kind implements Scanner.
func (s *SkeletonEnricher) Kind() Kind { return KindEnrich }

// Run implements Scanner.
func (s *SkeletonEnricher) Run(_ context.Context, in *normalize.Input, _ RunContext) (Result, error) {
	current := in
	for _, sf := range surfaces(current) {
		revealed := sf.views.Get(normalize.ViewRevealed)
		skeleton := s.ensurer.Skeletonize(revealed)
		if sf.views.Has(normalize.ViewSkeleton) && sf.views.Get(normalize.ViewSkeleton) == skeleton {
			continue
		}
		current = applyViews(current, sf, sf.views.With(normalize.ViewSkeleton, skeleton))
	}

	var res Result
	if current != in {
		res.Input = current
	}
	return res, nil
}
