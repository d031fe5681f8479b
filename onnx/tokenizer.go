// Package onnx provides the real tokenizer and model backing a generation
// run: HuggingFace tokenizer.json files through pure-tokenizers and ONNX
// masked-language-models through the pure-onnx runtime binding.
package onnx

import (
	"fmt"
	"os"

	tokenizers "github.com/amikos-tech/pure-tokenizers"

	"github.com/amikos-tech/splade-golden/golden"
)

// TokenizerOption customizes tokenizer initialization.
type TokenizerOption func(*tokenizerConfig) error

type tokenizerConfig struct {
	libraryPath string
}

// WithTokenizerLibraryPath sets the explicit pure-tokenizers shared library
// path.
func WithTokenizerLibraryPath(path string) TokenizerOption {
	return func(cfg *tokenizerConfig) error {
		if path == "" {
			return fmt.Errorf("tokenizer library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// Tokenizer wraps a HuggingFace tokenizer configured for right-truncation
// and fixed padding to one sequence length. It implements golden.Tokenizer
// and golden.Labeler.
type Tokenizer struct {
	sequenceLength int
	vocabSize      int
	tokenizer      *tokenizers.Tokenizer
	labelCache     map[int]string
}

// NewTokenizer loads tokenizerPath and fixes truncation/padding to
// sequenceLength.
func NewTokenizer(tokenizerPath string, sequenceLength int, opts ...TokenizerOption) (*Tokenizer, error) {
	if tokenizerPath == "" {
		return nil, fmt.Errorf("tokenizer path cannot be empty")
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return nil, fmt.Errorf("tokenizer path %q is not usable: %w", tokenizerPath, err)
	}
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", sequenceLength)
	}

	cfg := tokenizerConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	tokenizerOpts := []tokenizers.TokenizerOption{
		tokenizers.WithTruncation(
			uintptr(sequenceLength),
			tokenizers.TruncationDirectionRight,
			tokenizers.TruncationStrategyLongestFirst,
		),
		tokenizers.WithPadding(true, tokenizers.PaddingStrategy{
			Tag:       tokenizers.PaddingStrategyFixed,
			FixedSize: uintptr(sequenceLength),
		}),
	}
	if cfg.libraryPath != "" {
		tokenizerOpts = append(tokenizerOpts, tokenizers.WithLibraryPath(cfg.libraryPath))
	}

	tokenizer, err := tokenizers.FromFile(tokenizerPath, tokenizerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	size, err := tokenizer.VocabSize()
	if err != nil {
		closeErr := tokenizer.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to derive vocabulary size from tokenizer: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to derive vocabulary size from tokenizer: %w", err)
	}
	if size == 0 {
		_ = tokenizer.Close()
		return nil, fmt.Errorf("derived vocabulary size is zero")
	}

	return &Tokenizer{
		sequenceLength: sequenceLength,
		vocabSize:      int(size),
		tokenizer:      tokenizer,
		labelCache:     make(map[int]string),
	}, nil
}

// VocabSize returns the tokenizer's vocabulary width.
func (t *Tokenizer) VocabSize() int { return t.vocabSize }

// Encode tokenizes the batch into flattened fixed-length buffers.
// sequenceLength must match the length the tokenizer was built with; padding
// and truncation are fixed at construction time.
func (t *Tokenizer) Encode(texts []string, sequenceLength int) (*golden.Encoding, error) {
	if t == nil || t.tokenizer == nil {
		return nil, fmt.Errorf("tokenizer has been closed")
	}
	if sequenceLength != t.sequenceLength {
		return nil, fmt.Errorf("sequence length mismatch: tokenizer is fixed at %d, got %d", t.sequenceLength, sequenceLength)
	}

	totalTokens := len(texts) * t.sequenceLength
	enc := &golden.Encoding{
		InputIDs:      make([]int64, totalTokens),
		AttentionMask: make([]int64, totalTokens),
	}

	for i, text := range texts {
		encoding, err := t.tokenizer.Encode(
			text,
			tokenizers.WithAddSpecialTokens(),
			tokenizers.WithReturnAttentionMask(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize document %d: %w", i, err)
		}
		if encoding == nil {
			return nil, fmt.Errorf("failed to tokenize document %d: empty tokenizer result", i)
		}

		rowStart := i * t.sequenceLength
		rowEnd := rowStart + t.sequenceLength
		fillUint32AsInt64(enc.InputIDs[rowStart:rowEnd], encoding.IDs)

		if len(encoding.AttentionMask) > 0 {
			fillUint32AsInt64(enc.AttentionMask[rowStart:rowEnd], encoding.AttentionMask)
		} else {
			deriveAttentionMask(enc.AttentionMask[rowStart:rowEnd], enc.InputIDs[rowStart:rowEnd])
		}
	}

	return enc, nil
}

// Label decodes a vocabulary index to its token string. Results are cached
// per index for the lifetime of the tokenizer.
func (t *Tokenizer) Label(index int) (string, error) {
	if t == nil || t.tokenizer == nil {
		return "", fmt.Errorf("tokenizer has been closed")
	}

	const maxUint32 = ^uint32(0)
	if index < 0 || uint64(index) > uint64(maxUint32) {
		return "", fmt.Errorf("sparse index %d is out of uint32 range", index)
	}

	if label, ok := t.labelCache[index]; ok {
		return label, nil
	}
	decoded, err := t.tokenizer.Decode([]uint32{uint32(index)}, false)
	if err != nil {
		return "", err
	}
	t.labelCache[index] = decoded
	return decoded, nil
}

// Close releases tokenizer resources.
func (t *Tokenizer) Close() error {
	if t == nil || t.tokenizer == nil {
		return nil
	}
	err := t.tokenizer.Close()
	t.tokenizer = nil
	t.labelCache = nil
	return err
}

func fillUint32AsInt64(dst []int64, src []uint32) {
	count := len(dst)
	if len(src) < count {
		count = len(src)
	}
	for i := 0; i < count; i++ {
		dst[i] = int64(src[i])
	}
}

func deriveAttentionMask(dst []int64, tokenIDs []int64) {
	for i := range dst {
		if tokenIDs[i] != 0 {
			dst[i] = 1
		}
	}
}
