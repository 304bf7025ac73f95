package main

import (
	"fmt"

	"github.com/gomlx/go-dataquality/generation"
	"github.com/gomlx/go-dataquality/sink"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// generationInput is one line of the inputs file.
type generationInput struct {
	ID     int64  `json:"id"`
	Input  string `json:"input"`
	Target string `json:"target"`
}

func newGenerateCmd(a *app) *cobra.Command {
	var inputsPath, outputsPath string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Extracts log-probabilities and top-K candidates of generated text",
		Long: `Replays the outputs of a sequence-to-sequence model recorded in a safetensors file, and
computes for each sample the generated text, its token log-probabilities, top-K candidates and the
alignment of tokens to character segments, along with the input and target truncation cutoffs.

The safetensors file holds "input_ids" [samples, input_len] with the encoded (truncated, with EOS)
inputs, "generated_ids" [samples, steps] and "logits" [samples, steps, vocab]. Negative ids are
padding. Each line of the inputs file is a JSON object with an "id", the "input" and "target" texts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGenerate(cmd, inputsPath, outputsPath)
		},
	}
	cmd.Flags().StringVar(&inputsPath, "inputs", "", "Path to the JSONL inputs file.")
	cmd.Flags().StringVar(&outputsPath, "outputs", "", "Path to the safetensors file with the recorded model outputs.")
	_ = cmd.MarkFlagRequired("inputs")
	_ = cmd.MarkFlagRequired("outputs")
	return cmd
}

func (a *app) runGenerate(cmd *cobra.Command, inputsPath, outputsPath string) (err error) {
	if err := a.requireTask(taskSeq2Seq); err != nil {
		return err
	}
	inputs, err := readJSONL[generationInput](inputsPath)
	if err != nil {
		return err
	}
	tok, err := newTokenizer(a.config.Tokenizer)
	if err != nil {
		return err
	}
	generator, err := newReplayGenerator(outputsPath)
	if err != nil {
		return err
	}
	driver, err := generation.New(generator, tok, a.config.Generation)
	if err != nil {
		return err
	}

	texts := make([]string, len(inputs))
	targets := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i], targets[i] = in.Input, in.Target
	}
	rows, err := driver.Run(cmd.Context(), texts)
	if err != nil {
		return err
	}
	inputCutoffs, targetCutoffs, err := driver.Cutoffs(texts, targets)
	if err != nil {
		return err
	}

	a.run.ObserveEpoch(a.config.Epoch)
	records := make([]sink.GeneratedRecord, len(rows))
	numTokens := 0
	for i, row := range rows {
		records[i] = sink.GeneratedRecord{
			SampleID:     inputs[i].ID,
			Split:        a.run.Split(),
			Epoch:        a.config.Epoch,
			InputCutoff:  inputCutoffs[i],
			TargetCutoff: targetCutoffs[i],
			Row:          row,
		}
		numTokens += len(row.TokenLogprobs)
	}

	out, err := a.openSink(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if err := out.WriteGenerated(records); err != nil {
		return err
	}
	klog.V(1).Infof("wrote %d generated samples", len(records))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderCounts("Generation",
		[]string{"samples", "generated tokens"}, []int{len(records), numTokens}))
	return err
}
