package spanerrors

import (
	"strings"
	"testing"

	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/tagging"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/gomlx/go-dataquality/tokenizers/byt5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// charSample creates a sample over text tokenized one token per character.
func charSample(t *testing.T, text string, gold, pred []tagging.Span) Sample {
	tok, err := byt5.New(nil)
	require.NoError(t, err)
	return Sample{
		ID:        7,
		Split:     dataset.Validation,
		Epoch:     1,
		Tokens:    api.NewCharOffsets(text).Spans(tok.EncodeWithSpans(text).Spans),
		GoldSpans: gold,
		PredSpans: pred,
	}
}

// wordSpans returns the spans of the space separated words of an ASCII text.
func wordSpans(text string) []api.TokenSpan {
	var spans []api.TokenSpan
	offset := 0
	for _, word := range strings.Split(text, " ") {
		if word != "" {
			spans = append(spans, api.TokenSpan{Start: offset, End: offset + len(word)})
		}
		offset += len(word) + 1
	}
	return spans
}

func TestClassifySampleScenarios(t *testing.T) {
	const text = "Bob is in Rome."
	tests := []struct {
		name string
		gold []tagging.Span
		pred []tagging.Span
		want Record
	}{
		{
			name: "exact match",
			gold: []tagging.Span{{Start: 0, End: 3, Label: "PER"}},
			pred: []tagging.Span{{Start: 0, End: 3, Label: "PER"}},
			want: Record{SpanStart: 0, SpanEnd: 3, Gold: "PER", Pred: "PER", ErrorType: None, IsGold: true, IsPred: true},
		},
		{
			name: "wrong tag",
			gold: []tagging.Span{{Start: 0, End: 3, Label: "PER"}},
			pred: []tagging.Span{{Start: 0, End: 3, Label: "ORG"}},
			want: Record{SpanStart: 0, SpanEnd: 3, Gold: "PER", Pred: "ORG", ErrorType: WrongTag, IsGold: true, IsPred: true},
		},
		{
			name: "missed label",
			gold: []tagging.Span{{Start: 0, End: 3, Label: "PER"}},
			pred: nil,
			want: Record{SpanStart: 0, SpanEnd: 3, Gold: "PER", ErrorType: MissedLabel, IsGold: true},
		},
		{
			name: "ghost span",
			gold: nil,
			pred: []tagging.Span{{Start: 5, End: 8, Label: "LOC"}},
			want: Record{SpanStart: 5, SpanEnd: 8, Pred: "LOC", ErrorType: GhostSpan, IsPred: true},
		},
		{
			name: "span shift",
			gold: []tagging.Span{{Start: 10, End: 14, Label: "LOC"}},
			pred: []tagging.Span{{Start: 7, End: 14, Label: "LOC"}},
			want: Record{SpanStart: 7, SpanEnd: 14, Gold: "LOC", Pred: "LOC", ErrorType: SpanShift, IsPred: true},
		},
	}
	for _, scheme := range []tagging.Scheme{tagging.BIO, tagging.BILOU, tagging.BIOES} {
		for _, tt := range tests {
			t.Run(scheme.String()+"/"+tt.name, func(t *testing.T) {
				records, err := ClassifySample(scheme, charSample(t, text, tt.gold, tt.pred))
				require.NoError(t, err)
				require.Len(t, records, 1)
				want := tt.want
				want.SampleID, want.Split, want.Epoch = 7, dataset.Validation, 1
				assert.Equal(t, want, records[0])
			})
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		gold string
		pred string
		want []Classification
	}{
		{
			name: "shift with different label",
			gold: "B-PER I-PER O O",
			pred: "O B-ORG I-ORG O",
			want: []Classification{
				{Tokens: tagging.TokenRange{Start: 1, End: 3, Label: "ORG"}, Gold: "PER", Pred: "ORG", ErrorType: SpanShift, IsPred: true},
			},
		},
		{
			name: "largest overlap wins",
			gold: "B-PER O B-LOC I-LOC I-LOC",
			pred: "B-LOC I-LOC I-LOC I-LOC O",
			want: []Classification{
				{Tokens: tagging.TokenRange{Start: 0, End: 4, Label: "LOC"}, Gold: "LOC", Pred: "LOC", ErrorType: SpanShift, IsPred: true},
			},
		},
		{
			name: "equal overlap prefers first gold",
			gold: "B-PER I-PER O B-LOC I-LOC",
			pred: "O B-ORG I-ORG I-ORG O",
			want: []Classification{
				{Tokens: tagging.TokenRange{Start: 1, End: 4, Label: "ORG"}, Gold: "PER", Pred: "ORG", ErrorType: SpanShift, IsPred: true},
			},
		},
		{
			name: "mixed",
			gold: "B-PER O O B-LOC O B-ORG",
			pred: "B-PER O B-X O O B-ORG",
			want: []Classification{
				{Tokens: tagging.TokenRange{Start: 0, End: 1, Label: "PER"}, Gold: "PER", Pred: "PER", ErrorType: None, IsGold: true, IsPred: true},
				{Tokens: tagging.TokenRange{Start: 2, End: 3, Label: "X"}, Pred: "X", ErrorType: GhostSpan, IsPred: true},
				{Tokens: tagging.TokenRange{Start: 3, End: 4, Label: "LOC"}, Gold: "LOC", ErrorType: MissedLabel, IsGold: true},
				{Tokens: tagging.TokenRange{Start: 5, End: 6, Label: "ORG"}, Gold: "ORG", Pred: "ORG", ErrorType: None, IsGold: true, IsPred: true},
			},
		},
		{
			name: "orphan inside tags become ghost span",
			gold: "O O O",
			pred: "O I-PER O",
			want: []Classification{
				{Tokens: tagging.TokenRange{Start: 1, End: 2, Label: "PER"}, Pred: "PER", ErrorType: GhostSpan, IsPred: true},
			},
		},
		{
			name: "nothing",
			gold: "O O",
			pred: "O O",
			want: []Classification{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tagging.BIO, strings.Fields(tt.gold), strings.Fields(tt.pred))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	_, err := Classify(tagging.BIO, []string{"O"}, []string{"O", "O"})
	var alignErr *tagging.AlignmentError
	assert.ErrorAs(t, err, &alignErr)

	_, err = Classify(tagging.BIO, []string{"PER"}, []string{"O"})
	var tagErr *tagging.InvalidTagError
	assert.ErrorAs(t, err, &tagErr)

	_, err = Classify(tagging.Scheme(5), []string{"O"}, []string{"O"})
	var schemeErr *tagging.UnsupportedSchemeError
	assert.ErrorAs(t, err, &schemeErr)
}

func TestClassifySampleCharOverlap(t *testing.T) {
	// With word tokens of different lengths the character overlap, not the token count, breaks the tie:
	// the prediction covers 1 token of each gold span, but more characters of the second.
	tokens := wordSpans("a bbbbbb c")
	sample := Sample{
		Tokens:   tokens,
		GoldTags: []string{"B-PER", "B-LOC", "O"},
		PredTags: []string{"B-ORG", "I-ORG", "I-ORG"},
	}
	records, err := ClassifySample(tagging.BIO, sample)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "LOC", records[0].Gold)
	assert.Equal(t, SpanShift, records[0].ErrorType)
	assert.Equal(t, 0, records[0].SpanStart)
	assert.Equal(t, 10, records[0].SpanEnd)
}

func TestClassifySampleMultiByte(t *testing.T) {
	// "ë" and "ö" are 2 bytes each: spans are in characters, not bytes.
	const text = "Zoë lives in Köln"
	sample := charSample(t, text,
		[]tagging.Span{{Start: 0, End: 3, Label: "PER"}, {Start: 13, End: 17, Label: "LOC"}},
		[]tagging.Span{{Start: 13, End: 17, Label: "LOC"}, {Start: 4, End: 9, Label: "ORG"}})
	records, err := ClassifySample(tagging.BIOES, sample)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []ErrorType{MissedLabel, GhostSpan, None},
		[]ErrorType{records[0].ErrorType, records[1].ErrorType, records[2].ErrorType})
	assert.Equal(t, 0, records[0].SpanStart)
	assert.Equal(t, 3, records[0].SpanEnd)
	assert.Equal(t, 13, records[2].SpanStart)
	assert.Equal(t, 17, records[2].SpanEnd)
	assert.Equal(t, "Köln", string([]rune(text)[records[2].SpanStart:records[2].SpanEnd]))
}

func TestClassifySampleErrors(t *testing.T) {
	sample := charSample(t, "Bob", []tagging.Span{{Start: 1, End: 5, Label: "PER"}}, nil)
	_, err := ClassifySample(tagging.BIO, sample)
	var alignErr *tagging.AlignmentError
	require.ErrorAs(t, err, &alignErr)
	assert.Contains(t, err.Error(), "gold labels")

	sample = charSample(t, "Bob", nil, nil)
	sample.PredTags = []string{"O"}
	_, err = ClassifySample(tagging.BIO, sample)
	require.ErrorAs(t, err, &alignErr)

	sample = charSample(t, "Bob", nil, nil)
	sample.TokenEmbeddings = [][]float32{{1}}
	_, err = ClassifySample(tagging.BIO, sample)
	assert.Error(t, err)
}

func TestSpanEmbedding(t *testing.T) {
	embs := [][]float32{{1, 2}, {3, 4}, {5, 9}}
	assert.Equal(t, []float32{4, 6.5}, SpanEmbedding(embs, tagging.TokenRange{Start: 1, End: 3}))
	assert.Equal(t, []float32{1, 2}, SpanEmbedding(embs, tagging.TokenRange{Start: 0, End: 1}))
	assert.Nil(t, SpanEmbedding(embs, tagging.TokenRange{Start: 2, End: 4}))

	sample := charSample(t, "ab", []tagging.Span{{Start: 0, End: 2, Label: "X"}}, []tagging.Span{{Start: 0, End: 2, Label: "X"}})
	sample.TokenEmbeddings = [][]float32{{0, 2}, {2, 0}}
	records, err := ClassifySample(tagging.BILOU, sample)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []float32{1, 1}, records[0].Emb)
}

func TestErrorTypeText(t *testing.T) {
	for _, name := range []string{"None", "none", "wrong_tag", "missed_label", "span_shift", "ghost_span"} {
		errType, err := ParseErrorType(name)
		require.NoError(t, err)
		assert.True(t, strings.EqualFold(name, errType.String()))
	}
	_, err := ParseErrorType("bad")
	assert.Error(t, err)

	var e ErrorType
	require.NoError(t, e.UnmarshalText([]byte("ghost_span")))
	assert.Equal(t, GhostSpan, e)
	text, err := SpanShift.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "span_shift", string(text))
	text, err = None.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "None", string(text))
}

func TestSummarize(t *testing.T) {
	records := []Record{{ErrorType: None}, {ErrorType: None}, {ErrorType: GhostSpan}, {ErrorType: MissedLabel}}
	summary := Summarize(records)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Counts[None])
	assert.Equal(t, 1, summary.Counts[GhostSpan])
	assert.InDelta(t, 0.5, summary.ErrorRate(), 1e-9)
	assert.Zero(t, Summarize(nil).ErrorRate())
}
