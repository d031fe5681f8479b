package golden

import (
	"fmt"
	"math"
	"sort"
)

// DefaultSequenceLength matches the common SPLADE token window.
const DefaultSequenceLength = 256

// Encoding holds the tokenized form of one batch: flattened row-major
// [batch, sequenceLength] token ids and attention mask.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
}

// Tokenizer converts raw texts into fixed-length token buffers. Shorter
// inputs are padded and longer inputs truncated to sequenceLength; the
// truncation policy itself belongs to the implementation.
type Tokenizer interface {
	Encode(texts []string, sequenceLength int) (*Encoding, error)
}

// Model runs a masked-language-model forward pass over a tokenized batch and
// returns flattened [batch, sequenceLength, vocabSize] token logits.
type Model interface {
	Forward(enc *Encoding, batchSize int) ([]float32, error)
	VocabSize() int
}

// Labeler maps a vocabulary dimension index to its human-readable token.
type Labeler interface {
	Label(index int) (string, error)
}

// EncoderOption customizes encoder initialization.
type EncoderOption func(*encoderConfig) error

type encoderConfig struct {
	sequenceLength int
	topK           int
	pruneThreshold float32
	withLabels     bool
}

func defaultEncoderConfig() encoderConfig {
	return encoderConfig{
		sequenceLength: DefaultSequenceLength,
		topK:           0,
		pruneThreshold: 0,
		withLabels:     false,
	}
}

// WithSequenceLength sets truncation and fixed padding length.
func WithSequenceLength(length int) EncoderOption {
	return func(cfg *encoderConfig) error {
		if length <= 0 {
			return fmt.Errorf("sequence length must be > 0, got %d", length)
		}
		cfg.sequenceLength = length
		return nil
	}
}

// WithTopK keeps at most top-k sparse dimensions per row (0 means unbounded).
func WithTopK(topK int) EncoderOption {
	return func(cfg *encoderConfig) error {
		if topK < 0 {
			return fmt.Errorf("topK must be >= 0, got %d", topK)
		}
		cfg.topK = topK
		return nil
	}
}

// WithPruneThreshold drops sparse dimensions with values <= threshold.
func WithPruneThreshold(threshold float32) EncoderOption {
	return func(cfg *encoderConfig) error {
		if threshold < 0 {
			return fmt.Errorf("prune threshold must be >= 0, got %f", threshold)
		}
		cfg.pruneThreshold = threshold
		return nil
	}
}

// WithLabels includes decoded token labels for each sparse index.
func WithLabels() EncoderOption {
	return func(cfg *encoderConfig) error {
		cfg.withLabels = true
		return nil
	}
}

// Encoder reduces batches of texts to sparse vectors through a Tokenizer and
// a Model. It holds no state across batches.
type Encoder struct {
	tokenizer      Tokenizer
	model          Model
	labeler        Labeler
	sequenceLength int
	topK           int
	pruneThreshold float32
	withLabels     bool
}

// NewEncoder creates a sparse encoder. labeler may be nil unless WithLabels
// is requested.
func NewEncoder(tokenizer Tokenizer, model Model, labeler Labeler, opts ...EncoderOption) (*Encoder, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer cannot be nil")
	}
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}

	cfg := defaultEncoderConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.withLabels && labeler == nil {
		return nil, fmt.Errorf("labeler cannot be nil when labels are requested")
	}
	if model.VocabSize() <= 0 {
		return nil, fmt.Errorf("model vocabulary size must be > 0, got %d", model.VocabSize())
	}

	return &Encoder{
		tokenizer:      tokenizer,
		model:          model,
		labeler:        labeler,
		sequenceLength: cfg.sequenceLength,
		topK:           cfg.topK,
		pruneThreshold: cfg.pruneThreshold,
		withLabels:     cfg.withLabels,
	}, nil
}

// SequenceLength returns the configured truncation/padding length.
func (e *Encoder) SequenceLength() int { return e.sequenceLength }

// EncodeBatch converts a batch of texts into one SparseVector per text, in
// input order.
func (e *Encoder) EncodeBatch(texts []string) ([]SparseVector, error) {
	if len(texts) == 0 {
		return []SparseVector{}, nil
	}

	enc, err := e.tokenizer.Encode(texts, e.sequenceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize batch: %w", err)
	}
	if enc == nil {
		return nil, fmt.Errorf("tokenizer returned empty result")
	}

	logits, err := e.model.Forward(enc, len(texts))
	if err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}

	vectors, err := sparseFromTokenLogits(
		logits,
		enc.AttentionMask,
		len(texts),
		e.sequenceLength,
		e.model.VocabSize(),
		e.pruneThreshold,
		e.topK,
	)
	if err != nil {
		return nil, err
	}

	if e.withLabels {
		if err := attachLabels(vectors, e.labeler); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// sparseFromTokenLogits reduces flattened [batch, sequenceLength, vocabSize]
// token logits into one sparse vector per row: log1p(relu) transform,
// attention-mask zeroing, element-wise max over token positions, then
// prune/top-k selection.
func sparseFromTokenLogits(logits []float32, attentionMask []int64, batchSize int, sequenceLength int, vocabSize int, pruneThreshold float32, topK int) ([]SparseVector, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", sequenceLength)
	}
	if vocabSize <= 0 {
		return nil, fmt.Errorf("vocabulary size must be > 0, got %d", vocabSize)
	}
	if pruneThreshold < 0 {
		return nil, fmt.Errorf("prune threshold must be >= 0, got %f", pruneThreshold)
	}
	if topK < 0 {
		return nil, fmt.Errorf("topK must be >= 0, got %d", topK)
	}

	expectedMaskLen := batchSize * sequenceLength
	if len(attentionMask) != expectedMaskLen {
		return nil, fmt.Errorf("attention mask length mismatch: got %d, want %d", len(attentionMask), expectedMaskLen)
	}
	expectedLen := expectedMaskLen * vocabSize
	if len(logits) != expectedLen {
		return nil, fmt.Errorf("token logits length mismatch: got %d, want %d", len(logits), expectedLen)
	}

	vectors := make([]SparseVector, batchSize)
	dense := make([]float32, vocabSize)
	for row := 0; row < batchSize; row++ {
		clear(dense)
		rowTokenOffset := row * sequenceLength
		for tokenIndex := 0; tokenIndex < sequenceLength; tokenIndex++ {
			if attentionMask[rowTokenOffset+tokenIndex] == 0 {
				continue
			}
			tokenOffset := (rowTokenOffset + tokenIndex) * vocabSize
			for vocabIndex := 0; vocabIndex < vocabSize; vocabIndex++ {
				logit := logits[tokenOffset+vocabIndex]
				if logit <= 0 {
					continue
				}
				value := float32(math.Log1p(float64(logit)))
				if value > dense[vocabIndex] {
					dense[vocabIndex] = value
				}
			}
		}
		vectors[row] = denseToSparse(dense, pruneThreshold, topK)
	}
	return vectors, nil
}

type indexedValue struct {
	index int
	value float32
}

// denseToSparse selects the surviving dimensions of one dense row. The prune
// boundary is strictly exclusive: a dimension whose value equals the
// threshold is dropped, including exact zeros at the default threshold.
func denseToSparse(dense []float32, pruneThreshold float32, topK int) SparseVector {
	candidates := make([]indexedValue, 0, len(dense)/16)
	for i, value := range dense {
		if value <= pruneThreshold {
			continue
		}
		candidates = append(candidates, indexedValue{index: i, value: value})
	}

	if topK > 0 && len(candidates) > topK {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].value == candidates[j].value {
				return candidates[i].index < candidates[j].index
			}
			return candidates[i].value > candidates[j].value
		})
		candidates = candidates[:topK]
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].index < candidates[j].index
	})

	indices := make([]int, len(candidates))
	values := make([]float32, len(candidates))
	for i := range candidates {
		indices[i] = candidates[i].index
		values[i] = candidates[i].value
	}

	return SparseVector{
		Indices: indices,
		Values:  values,
	}
}

func attachLabels(vectors []SparseVector, labeler Labeler) error {
	if labeler == nil {
		return fmt.Errorf("labeler is not initialized")
	}
	for row := range vectors {
		if len(vectors[row].Indices) == 0 {
			continue
		}
		labels := make([]string, len(vectors[row].Indices))
		for i, idx := range vectors[row].Indices {
			label, err := labeler.Label(idx)
			if err != nil {
				return fmt.Errorf("failed to decode sparse index %d: %w", idx, err)
			}
			labels[i] = label
		}
		vectors[row].Labels = labels
	}
	return nil
}
