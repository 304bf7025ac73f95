package generation

import (
	"slices"

	"github.com/gomlx/go-dataquality/tokenizers/api"
)

// AlignTokensToCharacterSpans splits the text covered by the token spans at every token boundary.
//
// It returns the resulting character segments, in order, and for each segment the sorted positions
// of the tokens that cover it. Overlapping tokens (common with byte-fallback or sub-word tokenizers)
// yield segments covered by more than one token. Characters not covered by any token (e.g. skipped
// whitespace) and empty token spans don't produce segments.
func AlignTokensToCharacterSpans(spans []api.TokenSpan) (offsets []api.TokenSpan, positions [][]int) {
	boundaries := make([]int, 0, 2*len(spans))
	for _, span := range spans {
		if span.Len() > 0 {
			boundaries = append(boundaries, span.Start, span.End)
		}
	}
	slices.Sort(boundaries)
	boundaries = slices.Compact(boundaries)

	for i := 0; i+1 < len(boundaries); i++ {
		segment := api.TokenSpan{Start: boundaries[i], End: boundaries[i+1]}
		var covering []int
		for pos, span := range spans {
			if span.Start <= segment.Start && span.End >= segment.End {
				covering = append(covering, pos)
			}
		}
		if len(covering) == 0 {
			continue
		}
		offsets = append(offsets, segment)
		positions = append(positions, covering)
	}
	return offsets, positions
}
