// Package sentencepiece implements an api.TokenizerWithSpans based on a SentencePiece model file
// (like T5's "spiece.model" or Llama's "tokenizer.model").
package sentencepiece

import (
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
)

// metaspace is U+2581 (lower one eighth block), which SentencePiece uses to replace spaces.
const metaspace = "▁"

// NewFromFile creates a SentencePiece tokenizer from a model file, which must be a SentencePiece
// Model proto. config may be nil, in which case defaults are used.
func NewFromFile(modelPath string, config *api.Config) (*Tokenizer, error) {
	maxLength, side, err := config.ResolveMetadata()
	if err != nil {
		return nil, errors.WithMessage(err, "sentencepiece tokenizer")
	}
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", modelPath)
	}
	return &Tokenizer{
		Processor:   proc,
		Info:        proc.ModelInfo(),
		maxLength:   maxLength,
		paddingSide: side,
	}, nil
}

// Tokenizer implements api.TokenizerWithSpans based on SentencePiece tokenizer by Google.
// It's safe for concurrent use.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo

	maxLength   int
	paddingSide api.PaddingSide
}

// Compile time assert that sentencepiece.Tokenizer implements api.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// Encode returns the text encoded into a sequence of ids.
func (p *Tokenizer) Encode(text string) []int {
	tokens := p.Processor.Encode(text)
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids
}

// EncodeWithSpans returns the text encoded into a sequence of ids along with their byte spans.
// It implements api.TokenizerWithSpans.
func (p *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	tokens := p.Processor.Encode(text)
	ids := make([]int, len(tokens))
	pieces := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
		pieces[i] = t.Text
	}
	return api.EncodingResult{IDs: ids, Spans: alignPieces(text, pieces)}
}

// alignPieces finds the byte span in text of each piece, matching them in order.
//
// A leading metaspace in a piece matches any whitespace in the text. A piece that is only a metaspace
// spans the whitespace before the following token. Pieces that can't be found (e.g. normalized
// characters) are assumed to advance by their length.
func alignPieces(text string, pieces []string) []api.TokenSpan {
	spans := make([]api.TokenSpan, len(pieces))
	pos := 0
	for i, piece := range pieces {
		matchPiece, hasLeadingSpace := strings.CutPrefix(piece, metaspace)
		if hasLeadingSpace {
			whitespaceStart := pos
			for pos < len(text) && isSpace(text[pos]) {
				pos++
			}
			if matchPiece == "" {
				spans[i] = api.TokenSpan{Start: whitespaceStart, End: pos}
				continue
			}
		}
		start := pos
		if idx := strings.Index(text[pos:], matchPiece); idx >= 0 {
			start = pos + idx
			pos = start + len(matchPiece)
		} else {
			pos = min(pos+len(matchPiece), len(text))
		}
		spans[i] = api.TokenSpan{Start: start, End: pos}
	}
	return spans
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Decode returns the text from a sequence of ids.
func (p *Tokenizer) Decode(ids []int) string {
	return p.Processor.Decode(ids)
}

// DecodeToken returns the text of a single id.
func (p *Tokenizer) DecodeToken(id int) string {
	return p.Processor.Decode([]int{id})
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
func (p *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return p.Info.UnknownID, nil
	case api.TokPad:
		return p.Info.PadID, nil
	case api.TokBeginningOfSentence:
		return p.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return p.Info.EndOfSentenceID, nil
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}

// VocabSize returns the size of the model's vocabulary.
func (p *Tokenizer) VocabSize() int {
	return p.Info.VocabularySize
}

// MaxLength implements api.Metadata.
func (p *Tokenizer) MaxLength() int {
	return p.maxLength
}

// PaddingSide implements api.Metadata.
func (p *Tokenizer) PaddingSide() api.PaddingSide {
	return p.paddingSide
}
