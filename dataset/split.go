// Package dataset holds the run-scoped context of a data quality logging session and the records
// produced for each sample.
package dataset

import (
	"fmt"
	"strings"
)

// Split of the dataset a sample belongs to.
type Split int

const (
	Training Split = iota
	Validation
	Test
	Inference
)

var splitNames = [...]string{"training", "validation", "test", "inference"}

// splitAliases are the accepted alternative spellings.
var splitAliases = map[string]Split{
	"train":   Training,
	"val":     Validation,
	"valid":   Validation,
	"testing": Test,
}

// String implements fmt.Stringer.
func (s Split) String() string {
	if s < 0 || int(s) >= len(splitNames) {
		return fmt.Sprintf("Split(%d)", int(s))
	}
	return splitNames[s]
}

// InvalidSplitError is returned when parsing an unknown split name.
type InvalidSplitError struct {
	Split string
}

// Error implements error.
func (e *InvalidSplitError) Error() string {
	return fmt.Sprintf("dataset: split should be one of %q, but got %q", splitNames, e.Split)
}

// ParseSplit converts a split name (case-insensitive) to a Split.
// Common aliases, like "train" or "val", are accepted.
func ParseSplit(name string) (Split, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, splitName := range splitNames {
		if key == splitName {
			return Split(i), nil
		}
	}
	if s, found := splitAliases[key]; found {
		return s, nil
	}
	return 0, &InvalidSplitError{Split: name}
}

// MarshalText implements encoding.TextMarshaler.
func (s Split) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so splits can be read from configuration files.
func (s *Split) UnmarshalText(text []byte) error {
	parsed, err := ParseSplit(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
