package main

import (
	"fmt"

	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/go-dataquality/outputs/safetensors"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Names of the tensors of a text classification outputs file.
const (
	tensorIDs        = "ids"        // [samples], int
	tensorEmbeddings = "embeddings" // [samples, dim], float
)

func newClassifyCmd(a *app) *cobra.Command {
	var outputsPath string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Computes class probabilities and predictions of text classification outputs",
		Long: `Reads "ids" [samples], "embeddings" [samples, dim] and "logits" [samples, classes] from a
safetensors file, and writes the class probabilities and predicted class of each sample.
A single logit column is taken as the probability of the first class of a binary classifier.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClassify(cmd, outputsPath)
		},
	}
	cmd.Flags().StringVar(&outputsPath, "outputs", "", "Path to the safetensors file with the model outputs.")
	_ = cmd.MarkFlagRequired("outputs")
	return cmd
}

func (a *app) runClassify(cmd *cobra.Command, outputsPath string) (err error) {
	if err := a.requireTask(taskTextClassification); err != nil {
		return err
	}
	all, err := safetensors.ReadFile(outputsPath)
	if err != nil {
		return err
	}
	ids, _, err := tensorutil.Ints(all[tensorIDs])
	if err != nil {
		return errors.WithMessagef(err, "tensor %q", tensorIDs)
	}
	embs, err := floatRows(all, tensorEmbeddings)
	if err != nil {
		return err
	}
	logits, err := floatRows(all, tensorLogits)
	if err != nil {
		return err
	}
	sampleIDs := make([]int64, len(ids))
	for i, id := range ids {
		sampleIDs[i] = int64(id)
	}
	records, err := dataset.ClassificationRecords(a.run, a.config.Epoch, sampleIDs, embs, logits)
	if err != nil {
		return err
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
	if err := out.WriteClassifications(records); err != nil {
		return err
	}
	klog.V(1).Infof("wrote %d classification samples", len(records))

	numLabels := a.run.ObservedNumLabels()
	names := make([]string, numLabels)
	counts := make([]int, numLabels)
	for i := range names {
		names[i] = fmt.Sprintf("class %d", i)
		if len(a.config.Labels) == numLabels {
			names[i] = a.config.Labels[i]
		}
	}
	for _, r := range records {
		counts[r.Pred]++
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderCounts("Predictions", names, counts))
	return err
}

// floatRows returns the named rank-2 tensor as rows.
func floatRows(all map[string]*tensors.Tensor, name string) ([][]float32, error) {
	flat, dims, err := tensorutil.Float32s(all[name])
	if err == nil && len(dims) != 2 {
		err = errors.Errorf("expected rank 2, got shape %v", dims)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", name)
	}
	rows := make([][]float32, dims[0])
	for i := range rows {
		rows[i] = flat[i*dims[1] : (i+1)*dims[1]]
	}
	return rows, nil
}
