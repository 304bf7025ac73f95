// Package byt5 implements a byte-level tokenizer with the ByT5 id layout: ids 0, 1 and 2 are the
// <pad>, </s> and <unk> special tokens, and every byte b of the UTF-8 text is the id b+3.
//
// Each token covers exactly one byte of the original text, so for ASCII text there is one token
// per character. That makes it the reference tokenizer for span alignment: every character offset
// is a token boundary.
package byt5

import (
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
)

const (
	PadID = 0
	EosID = 1
	UnkID = 2

	// offset of the first byte token.
	offset = 3
)

// Tokenizer is a stateless byte-level tokenizer, safe for concurrent use.
type Tokenizer struct {
	maxLength   int
	paddingSide api.PaddingSide
}

// Compile time assert that Tokenizer implements api.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// New creates a byte-level tokenizer. config may be nil, in which case defaults are used.
func New(config *api.Config) (*Tokenizer, error) {
	maxLength, side, err := config.ResolveMetadata()
	if err != nil {
		return nil, errors.WithMessage(err, "byt5 tokenizer")
	}
	return &Tokenizer{maxLength: maxLength, paddingSide: side}, nil
}

// Encode returns one id per byte of text. No special tokens are added.
func (t *Tokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i]) + offset
	}
	return ids
}

// EncodeWithSpans returns one id per byte of text, each spanning that byte.
// It implements api.TokenizerWithSpans.
func (t *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	spans := make([]api.TokenSpan, len(text))
	for i := range spans {
		spans[i] = api.TokenSpan{Start: i, End: i + 1}
	}
	return api.EncodingResult{IDs: t.Encode(text), Spans: spans}
}

// Decode returns the text of the byte tokens in ids. Special and out-of-range ids are skipped.
func (t *Tokenizer) Decode(ids []int) string {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id >= offset && id < offset+256 {
			buf = append(buf, byte(id-offset))
		}
	}
	return string(buf)
}

// DecodeToken renders a single id. Special tokens are rendered with their conventional names.
func (t *Tokenizer) DecodeToken(id int) string {
	switch {
	case id == PadID:
		return "<pad>"
	case id == EosID:
		return "</s>"
	case id >= offset && id < offset+256:
		return string([]byte{byte(id - offset)})
	default:
		return "<unk>"
	}
}

// SpecialTokenID returns the id of the pad, end-of-sentence and unknown tokens.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokPad:
		return PadID, nil
	case api.TokEndOfSentence:
		return EosID, nil
	case api.TokUnknown:
		return UnkID, nil
	default:
		return 0, errors.Errorf("special token %s not defined for byt5 tokenizer", token)
	}
}

// VocabSize is 3 special tokens plus 256 byte values.
func (t *Tokenizer) VocabSize() int {
	return offset + 256
}

// MaxLength implements api.Metadata.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// PaddingSide implements api.Metadata.
func (t *Tokenizer) PaddingSide() api.PaddingSide {
	return t.paddingSide
}
