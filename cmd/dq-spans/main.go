// dq-spans computes data quality signals from model outputs: span error types of sequence labeling
// (NER) samples, log-probabilities and top-K candidates of generated text, and class probabilities
// of text classification. Results are written to the configured sink.
//
// Usage:
//
//	dq-spans --config run.yaml spans --samples samples.jsonl
//	dq-spans --config run.yaml generate --inputs inputs.jsonl --outputs outputs.safetensors
//	dq-spans --config run.yaml classify --outputs outputs.safetensors
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/gomlx/go-dataquality/config"
	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/sink"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// app holds the state shared by the subcommands, loaded before any of them runs.
type app struct {
	configPath string
	config     *config.Config
	run        *dataset.RunContext
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		klog.Errorf("dq-spans: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "dq-spans",
		Short:         "Computes data quality signals from model outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "dataquality.yaml", "Path to the YAML run configuration.")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(newSpansCmd(a), newGenerateCmd(a), newClassifyCmd(a))
	return rootCmd
}

func (a *app) load() error {
	var err error
	if a.config, err = config.Load(a.configPath); err != nil {
		return err
	}
	if a.run, err = a.config.NewRunContext(); err != nil {
		return err
	}
	klog.V(1).Infof("run %s: task=%s split=%s epoch=%d", a.run.ID(), a.config.Task, a.run.Split(), a.config.Epoch)
	return nil
}

// Tasks, as configured in config.Config.Task.
const (
	taskNER                = "ner"
	taskSeq2Seq            = "seq2seq"
	taskTextClassification = "text_classification"
)

func (a *app) requireTask(task string) error {
	if a.config.Task != task {
		return errors.Errorf("command requires task %q, but the configuration has task %q", task, a.config.Task)
	}
	return nil
}

// openSink opens the configured sink for the run.
func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	return sink.Open(ctx, a.config.Output.Sink, a.config.Output.Dir, a.run)
}
