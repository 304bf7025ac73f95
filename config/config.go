// Package config loads the YAML configuration of a data quality run.
//
// Values that name enumerations (tagging scheme, split) are parsed into their typed form while
// decoding, and the rest is checked with struct tag validation. Anything invalid is reported by
// Load, before any sample is processed.
package config

import (
	"bytes"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/generation"
	"github.com/gomlx/go-dataquality/tagging"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of a run.
type Config struct {
	// Task is the kind of model outputs logged.
	Task string `yaml:"task" validate:"required,oneof=ner seq2seq text_classification"`

	Scheme        tagging.Scheme `yaml:"tagging_scheme"`
	Split         dataset.Split  `yaml:"split"`
	InferenceName string         `yaml:"inference_name"`
	Epoch         int            `yaml:"epoch" validate:"gte=0"`

	Labels []string `yaml:"labels" validate:"required_if=Task ner,dive,required"`

	Tokenizer  Tokenizer         `yaml:"tokenizer"`
	Generation generation.Config `yaml:"generation"`
	Output     Output            `yaml:"output"`
}

// Tokenizer configuration.
type Tokenizer struct {
	// Kind of tokenizer. "byt5" needs no model file.
	Kind string `yaml:"kind" validate:"required,oneof=byt5 wordpiece sentencepiece"`

	// Path to the tokenizer model file: a tokenizer.json for wordpiece, a .model for sentencepiece.
	Path string `yaml:"path" validate:"required_unless=Kind byt5"`

	api.Config `yaml:",inline"`
}

// Output configuration.
type Output struct {
	Dir  string `yaml:"dir" validate:"required"`
	Sink string `yaml:"sink" validate:"required,oneof=parquet sqlite"`
}

// Environment variables overriding the configuration file.
const (
	EnvOutputDir   = "DQ_OUTPUT_DIR"
	EnvConcurrency = "DQ_CONCURRENCY"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used for fields absent from the configuration file.
func Default() *Config {
	return &Config{
		Task:      "ner",
		Scheme:    tagging.BIO,
		Split:     dataset.Training,
		Tokenizer: Tokenizer{Kind: "byt5"},
		Output:    Output{Sink: "parquet"},
	}
}

// Load reads the configuration file at path, applies the environment overrides and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	return config, nil
}

// Parse decodes a YAML configuration over the defaults, applies the environment overrides and validates it.
// Unknown fields are an error.
func Parse(data []byte) (*Config, error) {
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid value %q for $%s", v, EnvConcurrency)
		}
		c.Generation.Concurrency = n
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if (c.Split == dataset.Inference) != (c.InferenceName != "") {
		return errors.Errorf("invalid configuration: inference_name must be set if and only if split is %q", dataset.Inference)
	}
	if _, _, err := c.Tokenizer.ResolveMetadata(); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	return nil
}

// NewRunContext creates the run context of the configured split.
func (c *Config) NewRunContext() (*dataset.RunContext, error) {
	return dataset.NewRunContext(c.Split, c.InferenceName)
}
