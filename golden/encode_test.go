package golden

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

// stubTokenizer returns a fixed encoding regardless of input, recording the
// texts it was asked to encode.
type stubTokenizer struct {
	encoding *Encoding
	err      error
	gotTexts []string
}

func (s *stubTokenizer) Encode(texts []string, sequenceLength int) (*Encoding, error) {
	s.gotTexts = append([]string(nil), texts...)
	if s.err != nil {
		return nil, s.err
	}
	return s.encoding, nil
}

// stubModel returns fixed logits regardless of input.
type stubModel struct {
	logits    []float32
	vocabSize int
	err       error
}

func (s *stubModel) Forward(enc *Encoding, batchSize int) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.logits, nil
}

func (s *stubModel) VocabSize() int { return s.vocabSize }

// stubLabeler labels index n as "tok<n>".
type stubLabeler struct {
	err error
}

func (s *stubLabeler) Label(index int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("tok%d", index), nil
}

func log1p(v float32) float32 {
	return float32(math.Log1p(float64(v)))
}

func assertIndices(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("indices length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indices[%d] = %d, want %d (got %v)", i, got[i], want[i], got)
		}
	}
}

func assertValues(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("values length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSparseFromTokenLogitsTopK(t *testing.T) {
	// batch=1, sequenceLength=2, vocabSize=4
	logits := []float32{
		0, 1, 2, -1, // token 0
		0.5, 3, 1, 4, // token 1
	}
	mask := []int64{1, 1}

	vectors, err := sparseFromTokenLogits(logits, mask, 1, 2, 4, 1.0, 2)
	if err != nil {
		t.Fatalf("sparseFromTokenLogits returned error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}

	// Dense maxima after log1p(relu): v0=log1p(0.5), v1=log1p(3),
	// v2=log1p(2), v3=log1p(4). Prune > 1.0 keeps v1, v2, v3; top-2 keeps
	// v3 and v1, re-sorted ascending.
	assertIndices(t, vectors[0].Indices, []int{1, 3})
	assertValues(t, vectors[0].Values, []float32{log1p(3), log1p(4)})
}

func TestSparseFromTokenLogitsRespectsAttentionMask(t *testing.T) {
	// Padding token carries huge logits that must not leak into the result.
	logits := []float32{
		0, 2, -1, // token 0, attended
		50, 60, 70, // token 1, masked out
	}
	mask := []int64{1, 0}

	vectors, err := sparseFromTokenLogits(logits, mask, 1, 2, 3, 0, 0)
	if err != nil {
		t.Fatalf("sparseFromTokenLogits returned error: %v", err)
	}
	assertIndices(t, vectors[0].Indices, []int{1})
	assertValues(t, vectors[0].Values, []float32{log1p(2)})
}

func TestSparseFromTokenLogitsMultiBatch(t *testing.T) {
	// batch=2, sequenceLength=1, vocabSize=3
	logits := []float32{
		1, 0, 2, // row 0
		0, 4, 0, // row 1
	}
	mask := []int64{1, 1}

	vectors, err := sparseFromTokenLogits(logits, mask, 2, 1, 3, 0, 0)
	if err != nil {
		t.Fatalf("sparseFromTokenLogits returned error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	assertIndices(t, vectors[0].Indices, []int{0, 2})
	assertValues(t, vectors[0].Values, []float32{log1p(1), log1p(2)})
	assertIndices(t, vectors[1].Indices, []int{1})
	assertValues(t, vectors[1].Values, []float32{log1p(4)})
}

func TestSparseFromTokenLogitsValidation(t *testing.T) {
	tests := []struct {
		name           string
		logits         []float32
		mask           []int64
		batchSize      int
		sequenceLength int
		vocabSize      int
		wantErr        string
	}{
		{
			name:           "mask length mismatch",
			logits:         make([]float32, 6),
			mask:           []int64{1},
			batchSize:      1,
			sequenceLength: 2,
			vocabSize:      3,
			wantErr:        "attention mask length mismatch",
		},
		{
			name:           "logits length mismatch",
			logits:         make([]float32, 5),
			mask:           []int64{1, 1},
			batchSize:      1,
			sequenceLength: 2,
			vocabSize:      3,
			wantErr:        "token logits length mismatch",
		},
		{
			name:           "bad batch size",
			logits:         nil,
			mask:           nil,
			batchSize:      0,
			sequenceLength: 2,
			vocabSize:      3,
			wantErr:        "batch size must be > 0",
		},
		{
			name:           "bad vocabulary size",
			logits:         nil,
			mask:           nil,
			batchSize:      1,
			sequenceLength: 2,
			vocabSize:      0,
			wantErr:        "vocabulary size must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sparseFromTokenLogits(tt.logits, tt.mask, tt.batchSize, tt.sequenceLength, tt.vocabSize, 0, 0)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDenseToSparseTieBreak(t *testing.T) {
	// Equal values are broken by ascending index, so top-2 keeps dimensions
	// 1 and 2, never 3.
	dense := []float32{0, 5, 5, 5}

	vec := denseToSparse(dense, 0, 2)
	assertIndices(t, vec.Indices, []int{1, 2})
	assertValues(t, vec.Values, []float32{5, 5})
}

func TestDenseToSparseExactThresholdExcluded(t *testing.T) {
	dense := []float32{0, 0.5, 0.7}

	// The boundary is strictly exclusive: exact zeros survive no threshold,
	// and a value equal to the threshold is dropped.
	vec := denseToSparse(dense, 0, 0)
	assertIndices(t, vec.Indices, []int{1, 2})

	vec = denseToSparse(dense, 0.5, 0)
	assertIndices(t, vec.Indices, []int{2})
	assertValues(t, vec.Values, []float32{0.7})
}

func TestDenseToSparseUnboundedTopK(t *testing.T) {
	dense := []float32{1, 2, 3, 4, 5}

	vec := denseToSparse(dense, 0, 0)
	assertIndices(t, vec.Indices, []int{0, 1, 2, 3, 4})
	assertValues(t, vec.Values, []float32{1, 2, 3, 4, 5})
}

func TestDenseToSparseTopKLargerThanCandidates(t *testing.T) {
	dense := []float32{0, 2, 0, 1}

	vec := denseToSparse(dense, 0, 10)
	assertIndices(t, vec.Indices, []int{1, 3})
	assertValues(t, vec.Values, []float32{2, 1})
}

func TestEncodeBatchWithLabels(t *testing.T) {
	tokenizer := &stubTokenizer{
		encoding: &Encoding{
			InputIDs:      []int64{101, 102},
			AttentionMask: []int64{1, 1},
		},
	}
	model := &stubModel{
		// batch=1, sequenceLength=2, vocabSize=4
		logits: []float32{
			0, 1, 2, 0,
			0, 3, 0, 4,
		},
		vocabSize: 4,
	}

	enc, err := NewEncoder(tokenizer, model, &stubLabeler{},
		WithSequenceLength(2),
		WithTopK(2),
		WithLabels(),
	)
	if err != nil {
		t.Fatalf("NewEncoder returned error: %v", err)
	}

	vectors, err := enc.EncodeBatch([]string{"a document"})
	if err != nil {
		t.Fatalf("EncodeBatch returned error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	assertIndices(t, vectors[0].Indices, []int{1, 3})
	if len(vectors[0].Labels) != 2 {
		t.Fatalf("got %d labels, want 2", len(vectors[0].Labels))
	}
	if vectors[0].Labels[0] != "tok1" || vectors[0].Labels[1] != "tok3" {
		t.Fatalf("labels = %v, want [tok1 tok3]", vectors[0].Labels)
	}
	if len(tokenizer.gotTexts) != 1 || tokenizer.gotTexts[0] != "a document" {
		t.Fatalf("tokenizer saw texts %v, want [a document]", tokenizer.gotTexts)
	}
}

func TestEncodeBatchEmptyInput(t *testing.T) {
	enc, err := NewEncoder(&stubTokenizer{}, &stubModel{vocabSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewEncoder returned error: %v", err)
	}

	vectors, err := enc.EncodeBatch(nil)
	if err != nil {
		t.Fatalf("EncodeBatch returned error: %v", err)
	}
	if vectors == nil || len(vectors) != 0 {
		t.Fatalf("got %v, want empty non-nil slice", vectors)
	}
}

func TestEncodeBatchPropagatesErrors(t *testing.T) {
	tokErr := fmt.Errorf("tokenizer exploded")
	enc, err := NewEncoder(&stubTokenizer{err: tokErr}, &stubModel{vocabSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewEncoder returned error: %v", err)
	}
	if _, err := enc.EncodeBatch([]string{"x"}); err == nil || !strings.Contains(err.Error(), "failed to tokenize batch") {
		t.Fatalf("error = %v, want tokenize failure", err)
	}

	modelErr := fmt.Errorf("session gone")
	enc, err = NewEncoder(
		&stubTokenizer{encoding: &Encoding{InputIDs: []int64{1}, AttentionMask: []int64{1}}},
		&stubModel{vocabSize: 4, err: modelErr},
		nil,
		WithSequenceLength(1),
	)
	if err != nil {
		t.Fatalf("NewEncoder returned error: %v", err)
	}
	if _, err := enc.EncodeBatch([]string{"x"}); err == nil || !strings.Contains(err.Error(), "model inference failed") {
		t.Fatalf("error = %v, want inference failure", err)
	}
}

func TestNewEncoderValidation(t *testing.T) {
	tokenizer := &stubTokenizer{}
	model := &stubModel{vocabSize: 4}

	if _, err := NewEncoder(nil, model, nil); err == nil {
		t.Fatal("expected error for nil tokenizer")
	}
	if _, err := NewEncoder(tokenizer, nil, nil); err == nil {
		t.Fatal("expected error for nil model")
	}
	if _, err := NewEncoder(tokenizer, model, nil, WithLabels()); err == nil {
		t.Fatal("expected error for labels without labeler")
	}
	if _, err := NewEncoder(tokenizer, model, nil, WithSequenceLength(0)); err == nil {
		t.Fatal("expected error for zero sequence length")
	}
	if _, err := NewEncoder(tokenizer, model, nil, WithTopK(-1)); err == nil {
		t.Fatal("expected error for negative topK")
	}
	if _, err := NewEncoder(tokenizer, model, nil, WithPruneThreshold(-0.1)); err == nil {
		t.Fatal("expected error for negative prune threshold")
	}
	if _, err := NewEncoder(tokenizer, &stubModel{vocabSize: 0}, nil); err == nil {
		t.Fatal("expected error for zero vocabulary size")
	}
}
