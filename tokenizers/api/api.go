// Package api defines the tokenizer contracts the analytics engine depends on.
//
// Tokenizers are external collaborators: the engine only needs to encode text into ids with byte spans,
// decode single ids into display strings (for top-K candidates) and know the tokenizer's truncation and
// padding metadata. Implementations live in sibling packages (byt5, wordpiece, sentencepiece).
package api

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TokenSpan represents the byte span of a token in the original text.
// Start and End are byte offsets (not rune offsets), suitable for slicing
// Go strings directly: originalText[span.Start:span.End].
type TokenSpan struct {
	Start int `json:"start"` // start byte position (inclusive)
	End   int `json:"end"`   // end byte position (exclusive)
}

// Len returns the number of bytes covered by the span.
func (s TokenSpan) Len() int {
	return s.End - s.Start
}

// Overlap returns the number of bytes shared by s and other, 0 if they are disjoint.
func (s TokenSpan) Overlap(other TokenSpan) int {
	start := max(s.Start, other.Start)
	end := min(s.End, other.End)
	if end <= start {
		return 0
	}
	return end - start
}

// EncodingResult contains tokens with their spans in the original text.
type EncodingResult struct {
	IDs   []int       // token IDs
	Spans []TokenSpan // byte spans for each token (use originalText[span.Start:span.End] to extract)
}

// Len returns the number of tokens.
func (r EncodingResult) Len() int {
	return len(r.IDs)
}

// Truncate returns the first n tokens of the result. It's a no-op if n >= r.Len().
func (r EncodingResult) Truncate(n int) EncodingResult {
	if n < 0 {
		n = 0
	}
	if n >= len(r.IDs) {
		return r
	}
	return EncodingResult{IDs: r.IDs[:n], Spans: r.Spans[:n]}
}

// Decoder renders token ids as strings. It's the "decode capability" used to render top-K candidates,
// and it must be deterministic for a fixed id and safe for concurrent use.
type Decoder interface {
	// DecodeToken returns the display string of a single token id.
	DecodeToken(id int) string
}

// Tokenizer interface allows one convert text to "tokens" (integer ids) and back.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type Tokenizer interface {
	Decoder

	Encode(text string) []int
	Decode([]int) string

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)

	// VocabSize is the size of the id space: all ids are in [0, VocabSize).
	VocabSize() int
}

// TokenizerWithSpans extends Tokenizer with span tracking capability.
// It is what the engine uses to map token predictions back to byte positions in the original text.
type TokenizerWithSpans interface {
	Tokenizer
	Metadata

	// EncodeWithSpans returns tokens along with their byte spans in the original text.
	// Special tokens (e.g. a trailing EOS) are not included.
	EncodeWithSpans(text string) EncodingResult
}

// Metadata holds the truncation and padding conventions of a tokenizer.
type Metadata interface {
	// MaxLength is the maximum number of tokens (including special tokens) of an encoded sequence.
	MaxLength() int

	// PaddingSide tells on which side batches of sequences are padded.
	PaddingSide() PaddingSide
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{"beginning_of_sentence", "end_of_sentence", "unknown", "pad", "mask", "classification"}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return "SpecialToken(" + strconv.Itoa(int(t)) + ")"
	}
	return specialTokenNames[t]
}

// PaddingSide is where padding tokens are placed when batching sequences of different lengths.
type PaddingSide int

const (
	PadRight PaddingSide = iota
	PadLeft
)

// String implements fmt.Stringer, using the same names as HuggingFace's "padding_side".
func (p PaddingSide) String() string {
	if p == PadLeft {
		return "left"
	}
	return "right"
}

// ParsePaddingSide converts "left"/"right" (case-insensitive) to a PaddingSide.
func ParsePaddingSide(s string) (PaddingSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "right", "":
		return PadRight, nil
	case "left":
		return PadLeft, nil
	default:
		return PadRight, errors.Errorf("invalid padding side %q, valid values are \"left\" or \"right\"", s)
	}
}

// Config holds the tokenizer options shared by all implementations.
type Config struct {
	// MaxLength of encoded sequences, including special tokens. 0 means DefaultMaxLength.
	MaxLength int `yaml:"max_length"`

	// PaddingSide is "left" or "right" (default).
	PaddingSide string `yaml:"padding_side"`

	// Special tokens, used by implementations that don't carry them in their own model files.
	UnkToken  string `yaml:"unk_token"`
	PadToken  string `yaml:"pad_token"`
	BosToken  string `yaml:"bos_token"`
	EosToken  string `yaml:"eos_token"`
	ClsToken  string `yaml:"cls_token"`
	SepToken  string `yaml:"sep_token"`
	MaskToken string `yaml:"mask_token"`
}

// DefaultMaxLength is used when Config.MaxLength is not set. It's the model_max_length of T5 models.
const DefaultMaxLength = 512

// ResolveMetadata returns the max length and padding side configured, with defaults for a nil config.
func (c *Config) ResolveMetadata() (maxLength int, side PaddingSide, err error) {
	maxLength = DefaultMaxLength
	if c == nil {
		return maxLength, PadRight, nil
	}
	if c.MaxLength > 0 {
		maxLength = c.MaxLength
	}
	side, err = ParsePaddingSide(c.PaddingSide)
	return
}
