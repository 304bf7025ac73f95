package main

import (
	"fmt"

	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/gomlx/go-dataquality/tagging"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// sampleLine is one line of the samples file. Tokens may be omitted if Text is given, in which case
// the configured tokenizer is used.
type sampleLine struct {
	Text string `json:"text"`
	spanerrors.Sample
}

// spansWriteBatch is the number of records buffered before writing to the sink.
const spansWriteBatch = 10_000

func newSpansCmd(a *app) *cobra.Command {
	var samplesPath string
	cmd := &cobra.Command{
		Use:   "spans",
		Short: "Classifies the span errors of sequence labeling samples",
		Long: `Classifies the gold and predicted spans of each sample as None, wrong_tag,
missed_label, span_shift or ghost_span, and writes one record per span.

Each line of the samples file is a JSON object with an "id", the "tokens" character spans (or
the "text" to tokenize), and the labels as "gold_tags"/"pred_tags" or "gold_spans"/"pred_spans".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSpans(cmd, samplesPath)
		},
	}
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Path to the JSONL samples file.")
	_ = cmd.MarkFlagRequired("samples")
	return cmd
}

func (a *app) runSpans(cmd *cobra.Command, samplesPath string) (err error) {
	if err := a.requireTask(taskNER); err != nil {
		return err
	}
	lines, err := readJSONL[sampleLine](samplesPath)
	if err != nil {
		return err
	}
	knownLabels := make(map[string]bool, len(a.config.Labels))
	for _, label := range a.config.Labels {
		knownLabels[label] = true
	}
	warnedLabels := make(map[string]bool)

	out, err := a.openSink(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	a.run.ObserveEpoch(a.config.Epoch)
	var tok api.TokenizerWithSpans // Created on first use.
	var summary spanerrors.Summary
	var pending []spanerrors.Record
	for _, line := range lines {
		if err := cmd.Context().Err(); err != nil {
			return errors.Wrap(err, "span classification interrupted")
		}
		sample := line.Sample
		sample.Split, sample.Epoch = a.run.Split(), a.config.Epoch
		if sample.Tokens == nil {
			if tok == nil {
				if tok, err = newTokenizer(a.config.Tokenizer); err != nil {
					return err
				}
			}
			sample.Tokens = api.NewCharOffsets(line.Text).Spans(tok.EncodeWithSpans(line.Text).Spans)
		}
		records, err := spanerrors.ClassifySample(a.config.Scheme, sample)
		if err != nil {
			return err
		}
		for _, r := range records {
			for _, label := range []string{r.Gold, r.Pred} {
				if label != "" && len(knownLabels) > 0 && !knownLabels[label] && !warnedLabels[label] {
					klog.Warningf("label %q of sample %d is not in the configured labels", label, sample.ID)
					warnedLabels[label] = true
				}
			}
		}
		summary.Add(records)
		pending = append(pending, records...)
		if len(pending) >= spansWriteBatch {
			if err := out.WriteSpans(pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
	if err := out.WriteSpans(pending); err != nil {
		return err
	}
	klog.V(1).Infof("classified %d spans of %d samples", summary.Total, len(lines))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderSpanSummary(a.config.Scheme, summary))
	return err
}

// schemeTitle is the title of the summary table.
func schemeTitle(scheme tagging.Scheme) string {
	return fmt.Sprintf("Span errors (%s)", scheme)
}
