package spanerrors

import (
	"fmt"

	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/tagging"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
)

// Sample is one labeled and predicted sample of a sequence labeling (NER) task.
//
// Gold and predicted labels are given either as tags (GoldTags, PredTags) or as spans of text
// (GoldSpans, PredSpans), the latter converted to tags with the tokens' spans. Tags take precedence.
type Sample struct {
	ID    int64         `json:"id"`
	Split dataset.Split `json:"split"`
	Epoch int           `json:"epoch"`

	// Tokens are the character spans of the sample's tokens in its text. Tokenizers report byte
	// spans: convert them with api.CharOffsets.
	Tokens []api.TokenSpan `json:"tokens"`

	GoldTags  []string       `json:"gold_tags,omitempty"`
	PredTags  []string       `json:"pred_tags,omitempty"`
	GoldSpans []tagging.Span `json:"gold_spans,omitempty"`
	PredSpans []tagging.Span `json:"pred_spans,omitempty"`

	// TokenEmbeddings holds one embedding per token. Optional.
	TokenEmbeddings [][]float32 `json:"token_embeddings,omitempty"`
}

// Record is the classification of one span of a sample, in character offsets of the sample's text.
// It's what is persisted downstream, keyed by (SampleID, Split, Epoch).
type Record struct {
	SampleID  int64
	Split     dataset.Split
	Epoch     int
	SpanStart int
	SpanEnd   int
	Gold      string // Empty if absent.
	Pred      string // Empty if absent.
	ErrorType ErrorType
	IsGold    bool
	IsPred    bool

	// Emb is the mean of the embeddings of the span's tokens, nil if the sample has no token embeddings.
	Emb []float32
}

// ClassifySample classifies the spans of a sample, see Classify. Overlaps are measured in characters of text.
func ClassifySample(scheme tagging.Scheme, sample Sample) ([]Record, error) {
	gold, err := sampleRanges(scheme, sample.GoldTags, sample.GoldSpans, sample.Tokens)
	if err != nil {
		return nil, errors.WithMessagef(err, "sample %d gold labels", sample.ID)
	}
	pred, err := sampleRanges(scheme, sample.PredTags, sample.PredSpans, sample.Tokens)
	if err != nil {
		return nil, errors.WithMessagef(err, "sample %d predictions", sample.ID)
	}
	if sample.TokenEmbeddings != nil && len(sample.TokenEmbeddings) != len(sample.Tokens) {
		return nil, errors.Errorf("sample %d has %d token embeddings for %d tokens",
			sample.ID, len(sample.TokenEmbeddings), len(sample.Tokens))
	}

	charOverlap := func(a, b tagging.TokenRange) int {
		return tagging.ToSpan(a, sample.Tokens).Overlap(tagging.ToSpan(b, sample.Tokens))
	}
	classifications := classify(gold, pred, charOverlap)
	records := make([]Record, len(classifications))
	for i, c := range classifications {
		span := tagging.ToSpan(c.Tokens, sample.Tokens)
		records[i] = Record{
			SampleID:  sample.ID,
			Split:     sample.Split,
			Epoch:     sample.Epoch,
			SpanStart: span.Start,
			SpanEnd:   span.End,
			Gold:      c.Gold,
			Pred:      c.Pred,
			ErrorType: c.ErrorType,
			IsGold:    c.IsGold,
			IsPred:    c.IsPred,
		}
		if sample.TokenEmbeddings != nil {
			records[i].Emb = SpanEmbedding(sample.TokenEmbeddings, c.Tokens)
		}
	}
	return records, nil
}

// sampleRanges decodes tags, or spans if no tags are given, into token ranges.
func sampleRanges(scheme tagging.Scheme, tags []string, spans []tagging.Span, tokens []api.TokenSpan) ([]tagging.TokenRange, error) {
	if tags == nil {
		var err error
		tags, err = tagging.SpansToTags(scheme, spans, tokens)
		if err != nil {
			return nil, err
		}
	} else if len(tags) != len(tokens) {
		return nil, &tagging.AlignmentError{Reason: fmt.Sprintf("got %d tags for %d tokens", len(tags), len(tokens))}
	}
	return tagging.TagsToTokenSpans(scheme, tags)
}

// SpanEmbedding returns the mean of the token embeddings in the range r.
func SpanEmbedding(tokenEmbs [][]float32, r tagging.TokenRange) []float32 {
	if r.End <= r.Start || r.End > len(tokenEmbs) {
		return nil
	}
	mean := make([]float32, len(tokenEmbs[r.Start]))
	for _, emb := range tokenEmbs[r.Start:r.End] {
		for i, v := range emb {
			mean[i] += v
		}
	}
	n := float32(r.End - r.Start)
	for i := range mean {
		mean[i] /= n
	}
	return mean
}
