package tagging

import (
	"fmt"
	"strings"

	"github.com/gomlx/go-dataquality/tokenizers/api"
)

// SpansToTags returns one tag per token for the given spans.
//
// Span bounds must coincide with token bounds: the span must start where a token starts and end
// where a token ends. Spans must not overlap each other, and empty spans are not allowed.
func SpansToTags(scheme Scheme, spans []Span, tokens []api.TokenSpan) ([]string, error) {
	if !scheme.valid() {
		return nil, &UnsupportedSchemeError{Scheme: scheme.String()}
	}
	tags := make([]string, len(tokens))
	for i := range tags {
		tags[i] = Outside
	}
	for _, span := range spans {
		first, last, err := tokenRange(span, tokens)
		if err != nil {
			return nil, err
		}
		for i := first; i <= last; i++ {
			if tags[i] != Outside {
				return nil, &AlignmentError{Span: span, Reason: fmt.Sprintf("overlaps another span at token %d", i)}
			}
		}
		if first == last {
			tags[first] = scheme.singlePrefix() + "-" + span.Label
			continue
		}
		tags[first] = "B-" + span.Label
		for i := first + 1; i < last; i++ {
			tags[i] = "I-" + span.Label
		}
		tags[last] = scheme.lastPrefix() + "-" + span.Label
	}
	return tags, nil
}

// tokenRange returns the first and last (inclusive) token positions of span.
func tokenRange(span Span, tokens []api.TokenSpan) (first, last int, err error) {
	if span.End <= span.Start {
		return 0, 0, &AlignmentError{Span: span, Reason: "empty span"}
	}
	first, last = -1, -1
	for i, token := range tokens {
		if first < 0 && token.Start == span.Start {
			first = i
		}
		if first >= 0 && token.End == span.End {
			last = i
			break
		}
	}
	switch {
	case first < 0:
		return 0, 0, &AlignmentError{Span: span, Reason: "start is not a token boundary"}
	case last < 0:
		return 0, 0, &AlignmentError{Span: span, Reason: "end is not a token boundary"}
	}
	return first, last, nil
}

// TagsToTokenSpans decodes tags into labeled ranges of token positions.
//
// Decoding is best-effort: a run of tags of the same label is turned into a range even if it doesn't
// start with a "B-" tag (e.g. an orphan "I-PER" or "L-PER"). A "B-" tag, a single-token tag ("U-"/"S-")
// or a change of label always starts a new range, and a last-token tag ("L-"/"E-") always ends one.
// Prefixes of the other schemes are accepted with their usual meaning.
//
// Tags that are neither "O" nor of the form "<prefix>-<label>" return an InvalidTagError.
func TagsToTokenSpans(scheme Scheme, tags []string) ([]TokenRange, error) {
	if !scheme.valid() {
		return nil, &UnsupportedSchemeError{Scheme: scheme.String()}
	}
	var (
		ranges  []TokenRange
		current *TokenRange
	)
	closeCurrent := func(end int) {
		if current != nil {
			current.End = end
			ranges = append(ranges, *current)
			current = nil
		}
	}
	for i, tag := range tags {
		if tag == Outside {
			closeCurrent(i)
			continue
		}
		prefix, label, err := splitTag(i, tag)
		if err != nil {
			return nil, err
		}
		continues := current != nil && current.Label == label
		switch prefix {
		case "B":
			closeCurrent(i)
			current = &TokenRange{Start: i, Label: label}
		case "I":
			if !continues {
				closeCurrent(i)
				current = &TokenRange{Start: i, Label: label}
			}
		case "L", "E":
			if !continues {
				closeCurrent(i)
				current = &TokenRange{Start: i, Label: label}
			}
			closeCurrent(i + 1)
		case "U", "S":
			closeCurrent(i)
			ranges = append(ranges, TokenRange{Start: i, End: i + 1, Label: label})
		}
	}
	closeCurrent(len(tags))
	return ranges, nil
}

// splitTag splits a tag into its prefix and label.
func splitTag(position int, tag string) (prefix, label string, err error) {
	prefix, label, found := strings.Cut(tag, "-")
	if !found || label == "" || len(prefix) != 1 || !strings.Contains("BILUES", prefix) {
		return "", "", &InvalidTagError{Position: position, Tag: tag}
	}
	return prefix, label, nil
}

// TagsToSpans decodes tags into labeled spans of text, using the tokens' spans.
// See TagsToTokenSpans for the decoding rules.
func TagsToSpans(scheme Scheme, tags []string, tokens []api.TokenSpan) ([]Span, error) {
	if len(tags) != len(tokens) {
		return nil, &AlignmentError{Reason: fmt.Sprintf("got %d tags for %d tokens", len(tags), len(tokens))}
	}
	ranges, err := TagsToTokenSpans(scheme, tags)
	if err != nil {
		return nil, err
	}
	spans := make([]Span, len(ranges))
	for i, r := range ranges {
		spans[i] = ToSpan(r, tokens)
	}
	return spans, nil
}

// ToSpan converts a range of token positions to a span of text. The range must be within tokens.
func ToSpan(r TokenRange, tokens []api.TokenSpan) Span {
	return Span{Start: tokens[r.Start].Start, End: tokens[r.End-1].End, Label: r.Label}
}
