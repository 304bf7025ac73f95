package sentencepiece

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignPieces(t *testing.T) {
	testCases := []struct {
		name   string
		text   string
		pieces []string
		want   []api.TokenSpan
	}{
		{
			name:   "words",
			text:   "Hello world",
			pieces: []string{"▁Hello", "▁world"},
			want:   []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}},
		},
		{
			name:   "sub-words",
			text:   "Hello world",
			pieces: []string{"▁Hel", "lo", "▁wor", "ld"},
			want:   []api.TokenSpan{{Start: 0, End: 3}, {Start: 3, End: 5}, {Start: 6, End: 9}, {Start: 9, End: 11}},
		},
		{
			name:   "standalone metaspace",
			text:   "a  (b)",
			pieces: []string{"▁a", "▁", "(", "b", ")"},
			want:   []api.TokenSpan{{Start: 0, End: 1}, {Start: 1, End: 3}, {Start: 3, End: 4}, {Start: 4, End: 5}, {Start: 5, End: 6}},
		},
		{
			name:   "multi-byte",
			text:   "über 世界",
			pieces: []string{"▁über", "▁世", "界"},
			want:   []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 9}, {Start: 9, End: 12}},
		},
		{
			name:   "normalized piece not found",
			text:   "ab",
			pieces: []string{"▁x", "b"},
			want:   []api.TokenSpan{{Start: 0, End: 1}, {Start: 1, End: 2}},
		},
		{
			name: "empty",
			text: "",
			want: []api.TokenSpan{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := alignPieces(tc.text, tc.pieces)
			assert.Equal(t, tc.want, got)
			for _, span := range got {
				assert.True(t, span.Start >= 0 && span.Start <= span.End && span.End <= len(tc.text),
					"invalid span %+v", span)
			}
		})
	}
}

func TestNewFromFileMissing(t *testing.T) {
	_, err := NewFromFile(filepath.Join(t.TempDir(), "missing.model"), nil)
	require.Error(t, err)
}

func TestNewFromFileInvalidConfig(t *testing.T) {
	_, err := NewFromFile("unused.model", &api.Config{PaddingSide: "middle"})
	require.Error(t, err)
}

// TestTokenizer runs against a real model, pointed to by DQ_SENTENCEPIECE_MODEL (e.g. T5's spiece.model).
func TestTokenizer(t *testing.T) {
	modelPath := os.Getenv("DQ_SENTENCEPIECE_MODEL")
	if modelPath == "" {
		t.Skip("DQ_SENTENCEPIECE_MODEL not set")
	}
	tok, err := NewFromFile(modelPath, &api.Config{MaxLength: 64, PaddingSide: "left"})
	require.NoError(t, err)
	assert.Equal(t, 64, tok.MaxLength())
	assert.Equal(t, api.PadLeft, tok.PaddingSide())
	assert.Greater(t, tok.VocabSize(), 0)

	eos, err := tok.SpecialTokenID(api.TokEndOfSentence)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eos, 0)
	_, err = tok.SpecialTokenID(api.TokMask)
	require.Error(t, err)

	for _, input := range []string{"", "Hello, world!", "Hello, 世界!", "The  quick\tbrown fox."} {
		t.Run(input, func(t *testing.T) {
			result := tok.EncodeWithSpans(input)
			require.Equal(t, tok.Encode(input), result.IDs)
			require.Len(t, result.Spans, len(result.IDs))
			prevEnd := 0
			for i, span := range result.Spans {
				require.Truef(t, span.Start >= prevEnd && span.Start <= span.End && span.End <= len(input),
					"invalid span #%d %+v for %q", i, span, input)
				prevEnd = span.End
			}
		})
	}
	assert.Equal(t, "Hello, world!", tok.Decode(tok.Encode("Hello, world!")))
}
