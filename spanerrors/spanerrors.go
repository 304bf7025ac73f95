// Package spanerrors classifies the predicted spans of a sequence labeling model against the gold
// spans of a sample, assigning each span one error type.
//
// Given the decoded gold and predicted spans of a sample:
//
//   - A predicted span with the same bounds and label as a gold span is correct (None).
//   - A predicted span with the same bounds as a gold span but a different label is WrongTag.
//   - A predicted span overlapping a gold span with different bounds is SpanShift.
//   - A predicted span overlapping no gold span is GhostSpan.
//   - A gold span overlapped by no predicted span is reported as MissedLabel, without predicted label.
//
// When a predicted span overlaps several gold spans, it's matched to the one with the largest
// overlap, and among those to the one that starts first.
package spanerrors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/go-dataquality/tagging"
	"github.com/pkg/errors"
)

// ErrorType of a span.
type ErrorType int

const (
	None ErrorType = iota
	WrongTag
	MissedLabel
	SpanShift
	GhostSpan
)

// errorTypeNames are the persisted names. A correct span is "None", the name downstream consumers of
// the span error tables expect.
var errorTypeNames = [...]string{"None", "wrong_tag", "missed_label", "span_shift", "ghost_span"}

// String implements fmt.Stringer.
func (e ErrorType) String() string {
	if e < 0 || int(e) >= len(errorTypeNames) {
		return fmt.Sprintf("ErrorType(%d)", int(e))
	}
	return errorTypeNames[e]
}

// ParseErrorType converts an error type name to an ErrorType. It's case-insensitive, so "none" is accepted.
func ParseErrorType(name string) (ErrorType, error) {
	for i, typeName := range errorTypeNames {
		if strings.EqualFold(strings.TrimSpace(name), typeName) {
			return ErrorType(i), nil
		}
	}
	return 0, errors.Errorf("spanerrors: invalid error type %q, valid values are %q", name, errorTypeNames)
}

// MarshalText implements encoding.TextMarshaler.
func (e ErrorType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ErrorType) UnmarshalText(text []byte) error {
	parsed, err := ParseErrorType(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Classification of one span.
type Classification struct {
	// Tokens is the range of the predicted span, or of the gold span for MissedLabel.
	Tokens tagging.TokenRange

	// Gold is the label of the matched gold span, empty if there is none (GhostSpan).
	Gold string

	// Pred is the predicted label, empty for MissedLabel.
	Pred string

	ErrorType ErrorType
	IsGold    bool // Whether Tokens are the bounds of a gold span.
	IsPred    bool // Whether Tokens are the bounds of a predicted span.
}

// Classify decodes the gold and predicted tags of one sample with the given scheme, and classifies
// the predicted spans, plus the missed gold spans. Overlaps are measured in tokens.
//
// The results are sorted by start position; at the same start, predicted spans come before missed gold spans.
func Classify(scheme tagging.Scheme, gold, pred []string) ([]Classification, error) {
	if len(gold) != len(pred) {
		return nil, &tagging.AlignmentError{Reason: fmt.Sprintf("got %d gold tags and %d predicted tags", len(gold), len(pred))}
	}
	goldRanges, err := tagging.TagsToTokenSpans(scheme, gold)
	if err != nil {
		return nil, err
	}
	predRanges, err := tagging.TagsToTokenSpans(scheme, pred)
	if err != nil {
		return nil, err
	}
	return classify(goldRanges, predRanges, tokenOverlap), nil
}

// overlapFn returns how much two ranges overlap, in whatever unit is relevant.
type overlapFn func(a, b tagging.TokenRange) int

func tokenOverlap(a, b tagging.TokenRange) int {
	return max(0, min(a.End, b.End)-max(a.Start, b.Start))
}

// classify implements Classify on decoded ranges.
func classify(gold, pred []tagging.TokenRange, overlap overlapFn) []Classification {
	results := make([]Classification, 0, len(gold)+len(pred))
	overlapped := make([]bool, len(gold))
	for _, p := range pred {
		result := Classification{Tokens: p, Pred: p.Label, IsPred: true}
		best, bestOverlap := -1, 0
		exact := -1
		for gi, g := range gold {
			o := overlap(p, g)
			if o == 0 {
				continue
			}
			overlapped[gi] = true
			if g.Start == p.Start && g.End == p.End && (exact < 0 || g.Label == p.Label) {
				exact = gi
			}
			if o > bestOverlap || (o == bestOverlap && g.Start < gold[best].Start) {
				best, bestOverlap = gi, o
			}
		}
		switch {
		case exact >= 0:
			result.IsGold = true
			result.Gold = gold[exact].Label
			if result.Gold == p.Label {
				result.ErrorType = None
			} else {
				result.ErrorType = WrongTag
			}
		case best >= 0:
			result.Gold = gold[best].Label
			result.ErrorType = SpanShift
		default:
			result.ErrorType = GhostSpan
		}
		results = append(results, result)
	}
	for gi, g := range gold {
		if !overlapped[gi] {
			results = append(results, Classification{Tokens: g, Gold: g.Label, ErrorType: MissedLabel, IsGold: true})
		}
	}
	slices.SortStableFunc(results, func(a, b Classification) int {
		return a.Tokens.Start - b.Tokens.Start
	})
	return results
}

// Summary counts spans per error type.
type Summary struct {
	Counts map[ErrorType]int
	Total  int
}

// Summarize counts the records per error type.
func Summarize(records []Record) Summary {
	var summary Summary
	summary.Add(records)
	return summary
}

// Add counts more records.
func (s *Summary) Add(records []Record) {
	if s.Counts == nil {
		s.Counts = make(map[ErrorType]int, len(errorTypeNames))
	}
	for _, r := range records {
		s.Counts[r.ErrorType]++
		s.Total++
	}
}

// ErrorRate is the fraction of spans with an error type other than None, 0 if there are no spans.
func (s Summary) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Total-s.Counts[None]) / float64(s.Total)
}
