package generation

import (
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
)

// Cutoff returns the character (rune) offset in text up to which tokens are retained when the text is
// truncated to maxTokens tokens. The count includes a trailing end-of-sequence token that is not part
// of the text, so at most maxTokens-1 text tokens are retained. A character only partially covered by
// the retained tokens (byte-level tokenizers) is not retained.
//
// If maxTokens <= 0 the tokenizer's MaxLength is used.
func Cutoff(tokenizer api.TokenizerWithSpans, text string, maxTokens int) int {
	if maxTokens <= 0 {
		maxTokens = tokenizer.MaxLength()
	}
	kept := tokenizer.EncodeWithSpans(text).Truncate(maxTokens - 1)
	if kept.Len() == 0 {
		return 0
	}
	return api.NewCharOffsets(text).Floor(kept.Spans[kept.Len()-1].End)
}

// Cutoffs returns the Cutoff of each text.
func Cutoffs(tokenizer api.TokenizerWithSpans, texts []string, maxTokens int) []int {
	cutoffs := make([]int, len(texts))
	for i, text := range texts {
		cutoffs[i] = Cutoff(tokenizer, text, maxTokens)
	}
	return cutoffs
}

// Cutoffs returns the "input_cutoff" and "target_cutoff" of each sample, using the configured
// MaxInputTokens and MaxTargetTokens. targets may be nil if the dataset has no targets.
func (d *Driver) Cutoffs(inputs, targets []string) (inputCutoffs, targetCutoffs []int, err error) {
	if targets != nil && len(targets) != len(inputs) {
		return nil, nil, errors.Errorf("generation: got %d targets for %d inputs", len(targets), len(inputs))
	}
	inputCutoffs = Cutoffs(d.tokenizer, inputs, d.config.MaxInputTokens)
	if targets != nil {
		targetCutoffs = Cutoffs(d.tokenizer, targets, d.config.MaxTargetTokens)
	}
	return inputCutoffs, targetCutoffs, nil
}
