package onnx

import (
	"fmt"
	"os"

	"github.com/amikos-tech/pure-onnx/ort"

	"github.com/amikos-tech/splade-golden/golden"
)

const (
	defaultInputIDsName      = "input_ids"
	defaultAttentionMaskName = "input_mask"
	// #nosec G101 -- ONNX input identifier string, not credential material.
	defaultTokenTypeIDsName = "segment_ids"
	defaultOutputName       = "output"
)

// ModelOption customizes model initialization.
type ModelOption func(*modelConfig) error

type modelConfig struct {
	inputIDsName      string
	attentionMaskName string
	tokenTypeIDsName  string
	outputName        string
	useTokenTypeIDs   bool
}

func defaultModelConfig() modelConfig {
	return modelConfig{
		inputIDsName:      defaultInputIDsName,
		attentionMaskName: defaultAttentionMaskName,
		tokenTypeIDsName:  defaultTokenTypeIDsName,
		outputName:        defaultOutputName,
		useTokenTypeIDs:   true,
	}
}

// WithInputOutputNames overrides ONNX input/output tensor names.
// tokenTypeIDsName may be empty for models without token_type_ids.
func WithInputOutputNames(inputIDsName, attentionMaskName, tokenTypeIDsName, outputName string) ModelOption {
	return func(cfg *modelConfig) error {
		if inputIDsName == "" || attentionMaskName == "" || outputName == "" {
			return fmt.Errorf("input_ids, attention_mask, and output names cannot be empty")
		}
		cfg.inputIDsName = inputIDsName
		cfg.attentionMaskName = attentionMaskName
		cfg.tokenTypeIDsName = tokenTypeIDsName
		cfg.useTokenTypeIDs = tokenTypeIDsName != ""
		cfg.outputName = outputName
		return nil
	}
}

// WithoutTokenTypeIDsInput configures the model for graphs that do not
// consume token_type_ids.
func WithoutTokenTypeIDsInput() ModelOption {
	return func(cfg *modelConfig) error {
		cfg.useTokenTypeIDs = false
		cfg.tokenTypeIDsName = ""
		return nil
	}
}

// Model runs an ONNX masked-language-model and returns token logits. It
// implements golden.Model.
//
// The caller must initialize ONNX Runtime (see InitRuntime) before Forward.
type Model struct {
	modelPath       string
	sequenceLength  int
	vocabSize       int
	inputNames      []string
	outputNames     []string
	useTokenTypeIDs bool
	// sessions caches one ONNX session per batch size seen. A single run
	// touches at most two: the full batch size and the trailing partial.
	sessions map[int]*inferenceSession
}

type inferenceSession struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64

	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	session             *ort.AdvancedSession
}

// NewModel creates a model backed by the ONNX graph at modelPath, producing
// [batch, sequenceLength, vocabSize] token logits.
func NewModel(modelPath string, sequenceLength int, vocabSize int, opts ...ModelOption) (*Model, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model path %q is not usable: %w", modelPath, err)
	}
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", sequenceLength)
	}
	if vocabSize <= 0 {
		return nil, fmt.Errorf("vocabulary size must be > 0, got %d", vocabSize)
	}

	cfg := defaultModelConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	inputNames := []string{cfg.inputIDsName, cfg.attentionMaskName}
	if cfg.useTokenTypeIDs {
		inputNames = append(inputNames, cfg.tokenTypeIDsName)
	}

	return &Model{
		modelPath:       modelPath,
		sequenceLength:  sequenceLength,
		vocabSize:       vocabSize,
		inputNames:      inputNames,
		outputNames:     []string{cfg.outputName},
		useTokenTypeIDs: cfg.useTokenTypeIDs,
		sessions:        make(map[int]*inferenceSession),
	}, nil
}

// VocabSize returns the vocabulary width of the model output.
func (m *Model) VocabSize() int { return m.vocabSize }

// Forward copies the encoding into the session buffers for this batch size,
// runs inference, and returns a copy of the flattened token logits.
func (m *Model) Forward(enc *golden.Encoding, batchSize int) ([]float32, error) {
	if m == nil || m.sessions == nil {
		return nil, fmt.Errorf("model has been closed")
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding cannot be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	totalTokens := batchSize * m.sequenceLength
	if len(enc.InputIDs) != totalTokens || len(enc.AttentionMask) != totalTokens {
		return nil, fmt.Errorf(
			"encoding length mismatch: got input_ids=%d attention_mask=%d, want %d",
			len(enc.InputIDs),
			len(enc.AttentionMask),
			totalTokens,
		)
	}
	if !ort.IsInitialized() {
		return nil, fmt.Errorf("ONNX Runtime not initialized: call InitRuntime first")
	}

	session, err := m.sessionFor(batchSize)
	if err != nil {
		return nil, err
	}

	copy(session.inputIDs, enc.InputIDs)
	copy(session.attentionMask, enc.AttentionMask)
	if session.tokenTypeIDs != nil {
		// Single-sentence inputs: segment ids are all zero.
		clear(session.tokenTypeIDs)
	}

	if err := session.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}

	// The output tensor buffer is reused across runs; hand back a copy.
	output := session.outputTensor.GetData()
	logits := make([]float32, len(output))
	copy(logits, output)
	return logits, nil
}

func (m *Model) sessionFor(batchSize int) (*inferenceSession, error) {
	if session, ok := m.sessions[batchSize]; ok {
		return session, nil
	}
	session, err := newInferenceSession(m.modelPath, m.inputNames, m.outputNames, m.sequenceLength, batchSize, m.vocabSize, m.useTokenTypeIDs)
	if err != nil {
		return nil, err
	}
	m.sessions[batchSize] = session
	return session, nil
}

// Close releases all cached ONNX session resources.
func (m *Model) Close() error {
	if m == nil {
		return nil
	}
	var err error
	for batchSize, session := range m.sessions {
		if destroyErr := session.Destroy(); destroyErr != nil {
			err = joinErr(err, fmt.Errorf("failed to destroy batch-%d inference resources: %w", batchSize, destroyErr))
		}
	}
	m.sessions = nil
	return err
}

func newInferenceSession(modelPath string, inputNames []string, outputNames []string, sequenceLength int, batchSize int, vocabSize int, useTokenTypeIDs bool) (*inferenceSession, error) {
	totalTokens := batchSize * sequenceLength
	inputIDs := make([]int64, totalTokens)
	attentionMask := make([]int64, totalTokens)

	shape := ort.Shape{int64(batchSize), int64(sequenceLength)}
	inputIDsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMaskTensor, err := ort.NewTensor[int64](shape, attentionMask)
	if err != nil {
		_ = inputIDsTensor.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}

	var tokenTypeIDs []int64
	var tokenTypeIDsTensor *ort.Tensor[int64]
	if useTokenTypeIDs {
		tokenTypeIDs = make([]int64, totalTokens)
		tokenTypeIDsTensor, err = ort.NewTensor[int64](shape, tokenTypeIDs)
		if err != nil {
			_ = attentionMaskTensor.Destroy()
			_ = inputIDsTensor.Destroy()
			return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
		}
	}

	outputShape := ort.Shape{int64(batchSize), int64(sequenceLength), int64(vocabSize)}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		cleanupErr := destroyAll(tokenTypeIDsTensor, attentionMaskTensor, inputIDsTensor)
		if cleanupErr != nil {
			return nil, fmt.Errorf("failed to create output tensor: %w (cleanup: %v)", err, cleanupErr)
		}
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	inputValues := []ort.Value{inputIDsTensor, attentionMaskTensor}
	if tokenTypeIDsTensor != nil {
		inputValues = append(inputValues, tokenTypeIDsTensor)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		inputValues,
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		cleanupErr := destroyAll(outputTensor, tokenTypeIDsTensor, attentionMaskTensor, inputIDsTensor)
		if cleanupErr != nil {
			return nil, fmt.Errorf("failed to create inference session: %w (cleanup: %v)", err, cleanupErr)
		}
		return nil, fmt.Errorf("failed to create inference session: %w", err)
	}

	return &inferenceSession{
		inputIDs:            inputIDs,
		attentionMask:       attentionMask,
		tokenTypeIDs:        tokenTypeIDs,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		outputTensor:        outputTensor,
		session:             session,
	}, nil
}

func (s *inferenceSession) Destroy() error {
	if s == nil {
		return nil
	}

	err := destroyAll(
		s.session,
		s.outputTensor,
		s.tokenTypeIDsTensor,
		s.attentionMaskTensor,
		s.inputIDsTensor,
	)

	s.inputIDs = nil
	s.attentionMask = nil
	s.tokenTypeIDs = nil
	s.session = nil
	s.outputTensor = nil
	s.tokenTypeIDsTensor = nil
	s.attentionMaskTensor = nil
	s.inputIDsTensor = nil
	return err
}
