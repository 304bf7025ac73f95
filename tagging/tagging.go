// Package tagging converts between labeled character spans and per-token tag sequences, under the
// BIO, BILOU and BIOES tagging schemes.
//
// Tags are strings like "B-PER", "I-PER" or "O". Encoding spans requires the tokens' spans, in the
// same unit as the spans (characters, see tokenizers/api.CharOffsets): span bounds must fall on token
// boundaries. Decoding is lenient: runs of tags that don't start with a valid start tag are still
// decoded into best-effort spans, so they can be classified downstream.
package tagging

import (
	"fmt"
	"strings"
)

// Scheme is a tagging scheme.
type Scheme int

const (
	BIO Scheme = iota
	BILOU
	BIOES
)

var schemeNames = [...]string{"BIO", "BILOU", "BIOES"}

// String implements fmt.Stringer.
func (s Scheme) String() string {
	if !s.valid() {
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
	return schemeNames[s]
}

func (s Scheme) valid() bool {
	return s >= 0 && int(s) < len(schemeNames)
}

// ParseScheme converts a scheme name (case-insensitive) to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	for i, schemeName := range schemeNames {
		if strings.EqualFold(strings.TrimSpace(name), schemeName) {
			return Scheme(i), nil
		}
	}
	return 0, &UnsupportedSchemeError{Scheme: name}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scheme) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, &UnsupportedSchemeError{Scheme: s.String()}
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so schemes can be read from configuration files.
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// prefixes returns the tag prefixes used by the scheme, in canonical order.
func (s Scheme) prefixes() []string {
	switch s {
	case BILOU:
		return []string{"B", "I", "L", "U"}
	case BIOES:
		return []string{"B", "I", "E", "S"}
	default:
		return []string{"B", "I"}
	}
}

// lastPrefix and singlePrefix return the prefixes for the last token of a multi-token span and for
// a single token span.
func (s Scheme) lastPrefix() string {
	switch s {
	case BILOU:
		return "L"
	case BIOES:
		return "E"
	default:
		return "I"
	}
}

func (s Scheme) singlePrefix() string {
	switch s {
	case BILOU:
		return "U"
	case BIOES:
		return "S"
	default:
		return "B"
	}
}

// Outside is the tag of tokens not covered by any span.
const Outside = "O"

// Span is a labeled range of text, in character offsets, End exclusive.
type Span struct {
	Start int    `json:"span_start"`
	End   int    `json:"span_end"`
	Label string `json:"label"`
}

// Overlap returns the number of characters shared by s and other.
func (s Span) Overlap(other Span) int {
	start, end := max(s.Start, other.Start), min(s.End, other.End)
	if end <= start {
		return 0
	}
	return end - start
}

// TokenRange is a labeled range of token positions, End exclusive.
type TokenRange struct {
	Start int
	End   int
	Label string
}

// UnsupportedSchemeError is returned for schemes other than BIO, BILOU and BIOES.
type UnsupportedSchemeError struct {
	Scheme string
}

// Error implements error.
func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("tagging: unsupported scheme %q, valid values are %q", e.Scheme, schemeNames)
}

// AlignmentError is returned when spans don't align with the token boundaries reported by the
// tokenizer, or when the number of tags doesn't match the number of tokens.
type AlignmentError struct {
	Span   Span // Zero if not span specific.
	Reason string
}

// Error implements error.
func (e *AlignmentError) Error() string {
	if e.Span == (Span{}) {
		return "tagging: alignment error: " + e.Reason
	}
	return fmt.Sprintf("tagging: span [%d, %d) %q: %s", e.Span.Start, e.Span.End, e.Span.Label, e.Reason)
}

// InvalidTagError is returned for malformed tags, or tags not in an alphabet.
type InvalidTagError struct {
	Position int
	Tag      string
}

// Error implements error.
func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("tagging: invalid tag %q at position %d", e.Tag, e.Position)
}

// TagAlphabet returns the tags of the scheme for the given labels: "O" first, followed, for each
// label in order, by the label's tags in the scheme's prefix order (e.g. B, I, L, U for BILOU).
// The position of a tag in the alphabet is its class index.
func TagAlphabet(scheme Scheme, labels []string) ([]string, error) {
	if !scheme.valid() {
		return nil, &UnsupportedSchemeError{Scheme: scheme.String()}
	}
	prefixes := scheme.prefixes()
	alphabet := make([]string, 0, 1+len(labels)*len(prefixes))
	alphabet = append(alphabet, Outside)
	for _, label := range labels {
		for _, prefix := range prefixes {
			alphabet = append(alphabet, prefix+"-"+label)
		}
	}
	return alphabet, nil
}

// TagIndices converts tags to their index in the alphabet.
func TagIndices(tags, alphabet []string) ([]int, error) {
	index := make(map[string]int, len(alphabet))
	for i, tag := range alphabet {
		index[tag] = i
	}
	indices := make([]int, len(tags))
	for i, tag := range tags {
		idx, found := index[tag]
		if !found {
			return nil, &InvalidTagError{Position: i, Tag: tag}
		}
		indices[i] = idx
	}
	return indices, nil
}

// TagsFromIndices converts class indices back to tags of the alphabet.
func TagsFromIndices(indices []int, alphabet []string) ([]string, error) {
	tags := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(alphabet) {
			return nil, &InvalidTagError{Position: i, Tag: fmt.Sprintf("#%d", idx)}
		}
		tags[i] = alphabet[idx]
	}
	return tags, nil
}
