// Package generation drives an external text generation model over a large set of inputs, in
// fixed-size batches, and computes for each generated sample its quality signals: decoded text,
// character-aligned token labels, per-token log-probabilities and top-K alternatives.
//
// Batches may be dispatched to a bounded pool of workers, but results are always assembled in
// input order. Any failed batch aborts the whole run: no partial results are returned.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/gomlx/go-dataquality/tokenprobs"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Generator is the external generation capability.
//
// Generate is called once per batch with the (truncated) token ids of each input. It returns the
// generated token ids of each row and the per-step logits, shaped [batch, seq, vocab], right padded.
// The vocabulary axis must be the same for every call within one run.
//
// Unless documented as safe for concurrent use, a Generator should be driven with Concurrency 1.
type Generator interface {
	Generate(ctx context.Context, inputIDs [][]int) (*Output, error)
}

// Output of one Generator call.
type Output struct {
	TokenIDs [][]int
	Logits   *tensors.Tensor
}

// Config of a Driver.
type Config struct {
	// BatchSize is the number of inputs per Generate call. Default is DefaultBatchSize.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`

	// Concurrency is the maximum number of batches in flight. Default is 1: exclusive,
	// sequential access to the Generator.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`

	// MaxInputTokens and MaxTargetTokens are the truncation limits, including the trailing
	// end-of-sequence token. 0 means the tokenizer's MaxLength.
	MaxInputTokens  int `yaml:"max_input_tokens" validate:"gte=0"`
	MaxTargetTokens int `yaml:"max_target_tokens" validate:"gte=0"`

	// TopK is the number of candidates per generated token. Default is tokenprobs.TopK.
	TopK int `yaml:"top_k" validate:"gte=0"`
}

// DefaultBatchSize is used when Config.BatchSize is 0.
const DefaultBatchSize = 100

// Row holds the quality signals of one generated sample.
type Row struct {
	GeneratedOutput string `json:"generated_output"`

	// TokenLabelOffsets and TokenLabelPositions are the character (rune) segments of GeneratedOutput
	// and the positions, in the generated ids, of the tokens covering each segment. See
	// AlignTokensToCharacterSpans.
	TokenLabelOffsets   []api.TokenSpan `json:"generated_token_label_offsets"`
	TokenLabelPositions [][]int         `json:"generated_token_label_positions"`

	TokenLogprobs []float32                `json:"generated_token_logprobs"`
	TopLogprobs   [][]tokenprobs.Candidate `json:"generated_top_logprobs"`
}

// GenerationBatchError is returned when the generation of a batch fails. Start and End are the
// input rows of the batch, End exclusive.
type GenerationBatchError struct {
	Start, End int
	Err        error
}

// Error implements error.
func (e *GenerationBatchError) Error() string {
	return fmt.Sprintf("generation: batch of rows [%d, %d) failed: %v", e.Start, e.End, e.Err)
}

// Unwrap returns the underlying generation error.
func (e *GenerationBatchError) Unwrap() error {
	return e.Err
}

// Driver runs a Generator over batches of texts.
type Driver struct {
	generator Generator
	tokenizer api.TokenizerWithSpans
	extractor *tokenprobs.Extractor
	config    Config
	eosID     int // -1 if the tokenizer has no end-of-sequence token.
}

// New creates a Driver. The tokenizer is used to encode inputs, to decode generated ids and to
// align the generated text, and it is shared read-only across workers.
func New(generator Generator, tokenizer api.TokenizerWithSpans, config Config) (*Driver, error) {
	if generator == nil || tokenizer == nil {
		return nil, errors.New("generation: generator and tokenizer must be given")
	}
	if config.BatchSize < 0 || config.Concurrency < 0 || config.MaxInputTokens < 0 || config.MaxTargetTokens < 0 || config.TopK < 0 {
		return nil, errors.Errorf("generation: invalid negative value in config %+v", config)
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Concurrency == 0 {
		config.Concurrency = 1
	}
	if config.TopK == 0 {
		config.TopK = tokenprobs.TopK
	}
	eosID, err := tokenizer.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		eosID = -1
	}
	// Generated sequences are always right padded, whatever the tokenizer's padding side for inputs.
	extractor := tokenprobs.New(tokenizer.VocabSize(), api.PadRight, tokenizer).WithTopK(config.TopK)
	return &Driver{
		generator: generator,
		tokenizer: tokenizer,
		extractor: extractor,
		config:    config,
		eosID:     eosID,
	}, nil
}

// Config returns the configuration of the driver, with defaults filled in.
func (d *Driver) Config() Config {
	return d.config
}

// Run generates outputs for all inputs and returns one Row per input, in input order.
//
// Cancellation of ctx is checked before dispatching each batch: batches already dispatched run to
// completion, but Run then returns the context error. If any batch fails Run returns a
// *GenerationBatchError and no rows.
func (d *Driver) Run(ctx context.Context, inputs []string) ([]Row, error) {
	batchSize := d.config.BatchSize
	numBatches := (len(inputs) + batchSize - 1) / batchSize
	results := make([][]Row, numBatches)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)
	dispatched := 0
	for batchIdx := range numBatches {
		if gCtx.Err() != nil {
			break
		}
		start := batchIdx * batchSize
		end := min(start+batchSize, len(inputs))
		g.Go(func() error {
			// g.Go may have waited for a free worker, while another batch failed or ctx was cancelled.
			if err := gCtx.Err(); err != nil {
				return errors.Wrapf(err, "generation: cancelled before batch of rows [%d, %d)", start, end)
			}
			rows, err := d.runBatch(ctx, inputs[start:end])
			if err != nil {
				batchesTotal.WithLabelValues("failed").Inc()
				return &GenerationBatchError{Start: start, End: end, Err: err}
			}
			batchesTotal.WithLabelValues("ok").Inc()
			rowsTotal.Add(float64(len(rows)))
			results[batchIdx] = rows
			klog.V(1).Infof("generation: batch %d/%d (rows [%d, %d)) done", batchIdx+1, numBatches, start, end)
			return nil
		})
		dispatched++
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if dispatched < numBatches {
		return nil, errors.Wrapf(ctx.Err(), "generation: cancelled after dispatching %d of %d batches", dispatched, numBatches)
	}

	rows := make([]Row, 0, len(inputs))
	for _, batchRows := range results {
		rows = append(rows, batchRows...)
	}
	return rows, nil
}

// runBatch generates one batch and builds its rows.
func (d *Driver) runBatch(ctx context.Context, texts []string) ([]Row, error) {
	inputIDs := make([][]int, len(texts))
	for i, text := range texts {
		inputIDs[i] = d.encodeInput(text)
	}
	start := time.Now()
	output, err := d.generator.Generate(ctx, inputIDs)
	batchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if output == nil || output.Logits == nil {
		return nil, errors.New("generator returned no output")
	}
	if len(output.TokenIDs) != len(texts) {
		return nil, errors.Errorf("generator returned %d rows for a batch of %d", len(output.TokenIDs), len(texts))
	}
	probs, err := d.extractor.Extract(output.Logits, output.TokenIDs)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to extract generated token probabilities")
	}
	rows := make([]Row, len(texts))
	for i, ids := range output.TokenIDs {
		text := d.tokenizer.Decode(ids)
		spans := api.NewCharOffsets(text).Spans(d.generatedSpans(ids, text))
		offsets, positions := AlignTokensToCharacterSpans(spans)
		rows[i] = Row{
			GeneratedOutput:     text,
			TokenLabelOffsets:   offsets,
			TokenLabelPositions: positions,
			TokenLogprobs:       probs[i].TokenLogprobs,
			TopLogprobs:         probs[i].TopK,
		}
	}
	return rows, nil
}

// generatedSpans returns the byte span in text, the decoding of ids, of each generated id: how much the
// decoded prefix grows when the id is appended. Tokens that decode to nothing (end-of-sequence) get
// empty spans, so positions index ids, like the token log-probabilities.
func (d *Driver) generatedSpans(ids []int, text string) []api.TokenSpan {
	spans := make([]api.TokenSpan, len(ids))
	prev := 0
	for i := range ids {
		end := min(max(len(d.tokenizer.Decode(ids[:i+1])), prev), len(text))
		spans[i] = api.TokenSpan{Start: prev, End: end}
		prev = end
	}
	return spans
}

// encodeInput tokenizes text truncated to MaxInputTokens, the last of which is the end-of-sequence token.
func (d *Driver) encodeInput(text string) []int {
	maxTokens := d.config.MaxInputTokens
	if maxTokens <= 0 {
		maxTokens = d.tokenizer.MaxLength()
	}
	if d.eosID < 0 {
		return d.tokenizer.EncodeWithSpans(text).Truncate(maxTokens).IDs
	}
	ids := d.tokenizer.EncodeWithSpans(text).Truncate(maxTokens - 1).IDs
	return append(append(make([]int, 0, len(ids)+1), ids...), d.eosID)
}
