package signal

import (
	"strconv"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
)

// surface pairs one audited text surface with its addressing metadata.
// chunkIndex is -1 for the prompt and response surfaces.
type surface struct {
	field      string
	source     string
	chunkIndex int
	views      normalize.TextViews
}

// localKey returns the surface part of a scanner-local finding key.
func (s surface) localKey() string {
	switch s.field {
	case FieldPromptChunk:
		return s.field + ":" + strconv.Itoa(s.chunkIndex)
	default:
		return s.field
	}
}

func (s surface) target(view normalize.View) Target {
	t := Target{Field: s.field, View: string(view)}
	if s.field == FieldPromptChunk {
		t.Source = s.source
		t.ChunkIndex = s.chunkIndex
	}
	return t
}

// surfaces lists the audited surfaces of in, in canonical iteration order:
// prompt, chunks by index, response.
func surfaces(in *normalize.Input) []surface {
	out := make([]surface, 0, 2+len(in.Views.Chunks))
	out = append(out, surface{field: FieldPrompt, source: normalize.SourceUser, chunkIndex: -1, views: in.Views.Prompt})
	for i, c := range in.Canonical.Chunks {
		out = append(out, surface{
			field:      FieldPromptChunk,
			source:     c.Source,
			chunkIndex: c.ChunkIndex,
			views:      in.Views.Chunks[i],
		})
	}
	if in.Features.HasResponse {
		out = append(out, surface{field: FieldResponse, chunkIndex: -1, views: in.Views.Response})
	}
	return out
}

// applyViews returns a copy of in with the given surface's views replaced.
func applyViews(in *normalize.Input, s surface, tv normalize.TextViews) *normalize.Input {
	switch s.field {
	case FieldPrompt:
		return in.WithPromptViews(tv)
	case FieldResponse:
		return in.WithResponseViews(tv)
	default:
		return in.WithChunkViews(s.chunkIndex, tv)
	}
}
