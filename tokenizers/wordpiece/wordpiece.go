// Package wordpiece implements an api.TokenizerWithSpans for HuggingFace's tokenizer.json files with
// a WordPiece (BERT-like) or WordLevel model.
//
// Offsets are tracked through normalization: every normalized byte remembers the original rune it
// came from, so token spans always point into the original (un-normalized) text.
package wordpiece

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// TokenizerJSON is the subset of HuggingFace's tokenizer.json used here.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	Truncation   *Truncation   `json:"truncation"`
	Padding      *Padding      `json:"padding"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Decoder      *Decoder      `json:"decoder"`
	Model        Model         `json:"model"`
}

// Truncation holds the default truncation parameters.
type Truncation struct {
	MaxLength int `json:"max_length"`
}

// Padding holds the default padding parameters.
type Padding struct {
	// Direction is "Left" or "Right".
	Direction string `json:"direction"`
}

// AddedToken represents a token added to the vocabulary, usually a special token.
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type         string       `json:"type"`
	Lowercase    bool         `json:"lowercase"`
	CleanText    bool         `json:"clean_text"`
	StripAccents *bool        `json:"strip_accents"`
	Normalizers  []Normalizer `json:"normalizers"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type          string         `json:"type"`
	PreTokenizers []PreTokenizer `json:"pretokenizers"`
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type    string `json:"type"`
	Prefix  string `json:"prefix"`
	Cleanup *bool  `json:"cleanup"`
}

// Model represents the tokenizer model.
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	UnkToken                string         `json:"unk_token"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
}

const (
	modelWordPiece = "WordPiece"
	modelWordLevel = "WordLevel"

	defaultSubwordPrefix   = "##"
	defaultMaxCharsPerWord = 100
)

// Tokenizer implements api.TokenizerWithSpans. It's immutable after creation and safe for concurrent use.
type Tokenizer struct {
	model       Model
	idToToken   []string
	special     []bool
	addedTokens []AddedToken
	normalize   normalizer
	split       splitter
	prefix      string
	cleanup     bool

	specialIDs  [api.TokSpecialTokensCount]int
	maxLength   int
	paddingSide api.PaddingSide
}

// Compile time assert that Tokenizer implements api.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// NewFromFile creates a tokenizer from a local tokenizer.json file. config may be nil.
func NewFromFile(filePath string, config *api.Config) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	t, err := NewFromContent(content, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "tokenizer file %q", filePath)
	}
	return t, nil
}

// NewFromContent creates a tokenizer from the contents of a tokenizer.json file. config may be nil.
func NewFromContent(content []byte, config *api.Config) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != modelWordPiece && tj.Model.Type != modelWordLevel {
		return nil, errors.Errorf("unsupported tokenizer model %q, only %q and %q are supported",
			tj.Model.Type, modelWordPiece, modelWordLevel)
	}

	t := &Tokenizer{
		model:       tj.Model,
		addedTokens: tj.AddedTokens,
		prefix:      tj.Model.ContinuingSubwordPrefix,
		cleanup:     true,
	}
	if t.prefix == "" {
		t.prefix = defaultSubwordPrefix
	}
	if tj.Decoder != nil {
		if tj.Decoder.Prefix != "" {
			t.prefix = tj.Decoder.Prefix
		}
		if tj.Decoder.Cleanup != nil {
			t.cleanup = *tj.Decoder.Cleanup
		}
	}
	var err error
	if t.normalize, err = newNormalizer(tj.Normalizer); err != nil {
		return nil, err
	}
	if t.split, err = newSplitter(tj.PreTokenizer); err != nil {
		return nil, err
	}

	vocabSize := 0
	for _, id := range tj.Model.Vocab {
		vocabSize = max(vocabSize, id+1)
	}
	for _, at := range tj.AddedTokens {
		vocabSize = max(vocabSize, at.ID+1)
	}
	t.idToToken = make([]string, vocabSize)
	t.special = make([]bool, vocabSize)
	for token, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, errors.Errorf("negative id %d for token %q", id, token)
		}
		t.idToToken[id] = token
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			return nil, errors.Errorf("negative id %d for added token %q", at.ID, at.Content)
		}
		t.idToToken[at.ID] = at.Content
		t.special[at.ID] = at.Special
	}
	t.resolveSpecialTokens(config)

	if err := t.resolveMetadata(config, &tj); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tokenizer) resolveMetadata(config *api.Config, tj *TokenizerJSON) error {
	var err error
	t.maxLength, t.paddingSide, err = config.ResolveMetadata()
	if err != nil {
		return errors.WithMessage(err, "wordpiece tokenizer")
	}
	if (config == nil || config.MaxLength <= 0) && tj.Truncation != nil && tj.Truncation.MaxLength > 0 {
		t.maxLength = tj.Truncation.MaxLength
	}
	if (config == nil || config.PaddingSide == "") && tj.Padding != nil {
		if t.paddingSide, err = api.ParsePaddingSide(tj.Padding.Direction); err != nil {
			return errors.WithMessage(err, "tokenizer.json padding")
		}
	}
	return nil
}

// specialTokenNames lists the conventional names of each special token, in order of preference.
var specialTokenNames = [api.TokSpecialTokensCount][]string{
	api.TokBeginningOfSentence: {"<s>", "[BOS]"},
	api.TokEndOfSentence:       {"</s>", "[EOS]"},
	api.TokUnknown:             {"[UNK]", "<unk>"},
	api.TokPad:                 {"[PAD]", "<pad>"},
	api.TokMask:                {"[MASK]", "<mask>"},
	api.TokClassification:      {"[CLS]", "<cls>"},
}

// resolveSpecialTokens maps special tokens to ids: the config takes precedence, then the model's
// unknown token, then the conventional names.
func (t *Tokenizer) resolveSpecialTokens(config *api.Config) {
	for i := range t.specialIDs {
		t.specialIDs[i] = -1
	}
	if config != nil {
		for token, content := range map[api.SpecialToken]string{
			api.TokUnknown:             config.UnkToken,
			api.TokPad:                 config.PadToken,
			api.TokBeginningOfSentence: config.BosToken,
			api.TokEndOfSentence:       config.EosToken,
			api.TokClassification:      config.ClsToken,
			api.TokMask:                config.MaskToken,
		} {
			if id, ok := t.TokenToID(content); ok && content != "" {
				t.specialIDs[token] = id
			}
		}
		// BERT-like models end sequences with the separator.
		if id, ok := t.TokenToID(config.SepToken); ok && config.SepToken != "" && t.specialIDs[api.TokEndOfSentence] < 0 {
			t.specialIDs[api.TokEndOfSentence] = id
		}
	}
	if id, ok := t.TokenToID(t.model.UnkToken); ok && t.specialIDs[api.TokUnknown] < 0 {
		t.specialIDs[api.TokUnknown] = id
	}
	for token, names := range specialTokenNames {
		for _, name := range names {
			if t.specialIDs[token] >= 0 {
				break
			}
			if id, ok := t.TokenToID(name); ok {
				t.specialIDs[token] = id
			}
		}
	}
	if t.specialIDs[api.TokEndOfSentence] < 0 {
		if id, ok := t.TokenToID("[SEP]"); ok {
			t.specialIDs[api.TokEndOfSentence] = id
		}
	}
	if t.specialIDs[api.TokBeginningOfSentence] < 0 {
		t.specialIDs[api.TokBeginningOfSentence] = t.specialIDs[api.TokClassification]
	}
}

// TokenToID converts a token string to its id.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	for _, at := range t.addedTokens {
		if at.Content == token {
			return at.ID, true
		}
	}
	id, ok := t.model.Vocab[token]
	return id, ok
}

// Encode converts text to a sequence of token ids.
func (t *Tokenizer) Encode(text string) []int {
	return t.EncodeWithSpans(text).IDs
}

// EncodeWithSpans converts text to a sequence of token ids and their byte spans in text.
// No special tokens are added.
func (t *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	result := api.EncodingResult{IDs: []int{}, Spans: []api.TokenSpan{}}
	pos := 0
	for pos < len(text) {
		start, added := t.nextAddedToken(text, pos)
		for _, word := range t.split(text, api.TokenSpan{Start: pos, End: start}) {
			t.encodeWord(text, word, &result)
		}
		if added == nil {
			break
		}
		end := start + len(added.Content)
		result.IDs = append(result.IDs, added.ID)
		result.Spans = append(result.Spans, api.TokenSpan{Start: start, End: end})
		pos = end
	}
	return result
}

// nextAddedToken finds the first added token in text at or after pos, preferring the longest on ties.
// If there is none it returns len(text) and nil.
func (t *Tokenizer) nextAddedToken(text string, pos int) (int, *AddedToken) {
	bestStart, best := len(text), (*AddedToken)(nil)
	for i := range t.addedTokens {
		at := &t.addedTokens[i]
		if at.Content == "" {
			continue
		}
		idx := strings.Index(text[pos:], at.Content)
		if idx < 0 {
			continue
		}
		start := pos + idx
		if start < bestStart || (start == bestStart && best != nil && len(at.Content) > len(best.Content)) {
			bestStart, best = start, at
		}
	}
	return bestStart, best
}

// encodeWord normalizes one pre-tokenized word and appends its tokens to result.
func (t *Tokenizer) encodeWord(text string, word api.TokenSpan, result *api.EncodingResult) {
	normalized, origins := t.normalize.apply(text, word)
	if normalized == "" {
		return
	}
	unknown := func() {
		if unk := t.specialIDs[api.TokUnknown]; unk >= 0 {
			result.IDs = append(result.IDs, unk)
			result.Spans = append(result.Spans, word)
		}
	}
	if t.model.Type == modelWordLevel {
		if id, ok := t.model.Vocab[normalized]; ok {
			result.IDs = append(result.IDs, id)
			result.Spans = append(result.Spans, word)
		} else {
			unknown()
		}
		return
	}

	maxChars := t.model.MaxInputCharsPerWord
	if maxChars <= 0 {
		maxChars = defaultMaxCharsPerWord
	}
	if utf8.RuneCountInString(normalized) > maxChars {
		unknown()
		return
	}

	// Greedy longest-match-first, on rune boundaries.
	var ids []int
	var spans []api.TokenSpan
	for start := 0; start < len(normalized); {
		end := len(normalized)
		found := false
		for end > start {
			piece := normalized[start:end]
			if start > 0 {
				piece = t.prefix + piece
			}
			if id, ok := t.model.Vocab[piece]; ok {
				ids = append(ids, id)
				spans = append(spans, api.TokenSpan{Start: origins[start].Start, End: origins[end-1].End})
				found = true
				break
			}
			_, size := utf8.DecodeLastRuneInString(normalized[start:end])
			end -= size
		}
		if !found {
			unknown()
			return
		}
		start = end
	}
	result.IDs = append(result.IDs, ids...)
	result.Spans = append(result.Spans, spans...)
}

// Decode converts a sequence of token ids back to text, skipping special tokens.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	first := true
	for _, id := range ids {
		if id < 0 || id >= len(t.idToToken) || t.special[id] {
			continue
		}
		token := t.idToToken[id]
		if !first {
			if trimmed, ok := strings.CutPrefix(token, t.prefix); ok {
				token = trimmed
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(token)
		first = false
	}
	if !t.cleanup {
		return sb.String()
	}
	return cleanupReplacer.Replace(sb.String())
}

// cleanupReplacer removes the spaces the decoder introduces before punctuation and English contractions.
var cleanupReplacer = strings.NewReplacer(
	" .", ".", " ?", "?", " !", "!", " ,", ",", " ' ", "'",
	" n't", "n't", " 'm", "'m", " 's", "'s", " 've", "'ve", " 're", "'re",
)

// DecodeToken returns the vocabulary entry of the id, or an empty string if it's unknown.
func (t *Tokenizer) DecodeToken(id int) string {
	if id < 0 || id >= len(t.idToToken) {
		return ""
	}
	return t.idToToken[id]
}

// SpecialTokenID returns the id of the given special token, or an error if the vocabulary doesn't have one.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	if token < 0 || token >= api.TokSpecialTokensCount || t.specialIDs[token] < 0 {
		return 0, errors.Errorf("special token %s not found", token)
	}
	return t.specialIDs[token], nil
}

// VocabSize returns one more than the largest id in the vocabulary or added tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.idToToken)
}

// MaxLength implements api.Metadata.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// PaddingSide implements api.Metadata.
func (t *Tokenizer) PaddingSide() api.PaddingSide {
	return t.paddingSide
}

// normalizer is a sequence of per-rune transformations.
type normalizer []func(string) string

func newNormalizer(n *Normalizer) (normalizer, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Type {
	case "BertNormalizer":
		var steps normalizer
		if n.CleanText {
			steps = append(steps, cleanText)
		}
		stripAccents := n.Lowercase
		if n.StripAccents != nil {
			stripAccents = *n.StripAccents
		}
		if stripAccents {
			steps = append(steps, removeAccents)
		}
		if n.Lowercase {
			steps = append(steps, strings.ToLower)
		}
		return steps, nil
	case "Lowercase":
		return normalizer{strings.ToLower}, nil
	case "StripAccents":
		return normalizer{removeAccents}, nil
	case "NFD":
		return normalizer{norm.NFD.String}, nil
	case "NFC":
		return normalizer{norm.NFC.String}, nil
	case "NFKD":
		return normalizer{norm.NFKD.String}, nil
	case "NFKC":
		return normalizer{norm.NFKC.String}, nil
	case "Sequence":
		var steps normalizer
		for i := range n.Normalizers {
			child, err := newNormalizer(&n.Normalizers[i])
			if err != nil {
				return nil, err
			}
			steps = append(steps, child...)
		}
		return steps, nil
	default:
		return nil, errors.Errorf("unsupported normalizer %q", n.Type)
	}
}

// apply normalizes text[word.Start:word.End] one rune at a time. origins[i] is the span of the
// original rune that produced the normalized byte i.
func (n normalizer) apply(text string, word api.TokenSpan) (normalized string, origins []api.TokenSpan) {
	var sb strings.Builder
	for i, r := range text[word.Start:word.End] {
		s := string(r)
		for _, step := range n {
			s = step(s)
		}
		origin := api.TokenSpan{Start: word.Start + i, End: word.Start + i + utf8.RuneLen(r)}
		for range len(s) {
			origins = append(origins, origin)
		}
		sb.WriteString(s)
	}
	return sb.String(), origins
}

func cleanText(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == 0 || r == utf8.RuneError || isControl(r):
		case isWhitespace(r):
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func removeAccents(s string) string {
	var sb strings.Builder
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// splitter splits the span of text into words, returning their spans.
type splitter func(text string, span api.TokenSpan) []api.TokenSpan

// Rune classes used by the pre-tokenizers: spaces separate words and are dropped, isolated runes
// are words of their own, and consecutive runes of any other equal class are merged.
const (
	classSpace = iota - 1
	classIsolated
	classWord
	classOther
)

func newSplitter(pt *PreTokenizer) (splitter, error) {
	if pt == nil {
		return splitByClass(whitespaceSplitClass), nil
	}
	switch pt.Type {
	case "BertPreTokenizer":
		return splitByClass(bertClass), nil
	case "Whitespace":
		return splitByClass(whitespaceClass), nil
	case "WhitespaceSplit":
		return splitByClass(whitespaceSplitClass), nil
	case "Punctuation":
		return splitByClass(punctuationClass), nil
	case "Sequence":
		children := make([]splitter, len(pt.PreTokenizers))
		for i := range pt.PreTokenizers {
			var err error
			if children[i], err = newSplitter(&pt.PreTokenizers[i]); err != nil {
				return nil, err
			}
		}
		return func(text string, span api.TokenSpan) []api.TokenSpan {
			words := []api.TokenSpan{span}
			for _, child := range children {
				var next []api.TokenSpan
				for _, word := range words {
					next = append(next, child(text, word)...)
				}
				words = next
			}
			return words
		}, nil
	default:
		return nil, errors.Errorf("unsupported pre-tokenizer %q", pt.Type)
	}
}

func splitByClass(class func(r rune) int) splitter {
	return func(text string, span api.TokenSpan) []api.TokenSpan {
		var words []api.TokenSpan
		current, currentClass := -1, classSpace
		flush := func(end int) {
			if current >= 0 {
				words = append(words, api.TokenSpan{Start: current, End: end})
				current = -1
			}
		}
		for i, r := range text[span.Start:span.End] {
			pos := span.Start + i
			c := class(r)
			if c != currentClass || c == classIsolated {
				flush(pos)
			}
			if c != classSpace && current < 0 {
				current = pos
			}
			currentClass = c
		}
		flush(span.End)
		return words
	}
}

func bertClass(r rune) int {
	switch {
	case isWhitespace(r):
		return classSpace
	case isPunctuation(r) || isChinese(r):
		return classIsolated
	default:
		return classWord
	}
}

// whitespaceClass matches HuggingFace's `\w+|[^\w\s]+` splitting.
func whitespaceClass(r rune) int {
	switch {
	case isWhitespace(r):
		return classSpace
	case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
		return classWord
	default:
		return classOther
	}
}

func whitespaceSplitClass(r rune) int {
	if isWhitespace(r) {
		return classSpace
	}
	return classWord
}

func punctuationClass(r rune) int {
	if isPunctuation(r) {
		return classIsolated
	}
	return classWord
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	// ASCII punctuation
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// isChinese reports whether r is in the CJK Unified Ideographs blocks, which BERT splits per character.
func isChinese(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) || (r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) || (r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) || (r >= 0x2F800 && r <= 0x2FA1F)
}
