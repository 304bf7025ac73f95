package main

import (
	"github.com/gomlx/go-dataquality/config"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/gomlx/go-dataquality/tokenizers/byt5"
	"github.com/gomlx/go-dataquality/tokenizers/sentencepiece"
	"github.com/gomlx/go-dataquality/tokenizers/wordpiece"
	"github.com/pkg/errors"
)

// newTokenizer creates the configured tokenizer.
func newTokenizer(cfg config.Tokenizer) (api.TokenizerWithSpans, error) {
	switch cfg.Kind {
	case "byt5":
		return byt5.New(&cfg.Config)
	case "wordpiece":
		return wordpiece.NewFromFile(cfg.Path, &cfg.Config)
	case "sentencepiece":
		return sentencepiece.NewFromFile(cfg.Path, &cfg.Config)
	default:
		return nil, errors.Errorf("unknown tokenizer kind %q", cfg.Kind)
	}
}
