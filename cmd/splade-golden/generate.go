package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/splade-golden/corpus"
	"github.com/amikos-tech/splade-golden/device"
	"github.com/amikos-tech/splade-golden/golden"
	"github.com/amikos-tech/splade-golden/hub"
	"github.com/amikos-tech/splade-golden/onnx"
)

const (
	generatorIdentity = "go:cmd/splade-golden"
	sourceType        = "local_onnxruntime"
)

// usageError marks input-validation failures that must exit with status 2
// before any model or runtime loading.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// validateOptions rejects invalid numeric settings and an unknown device
// name. Corpus emptiness is validated separately after loading.
func validateOptions(o *options) error {
	if o.outputJSONL == "" {
		return usagef("--output-jsonl cannot be empty")
	}
	if o.sequenceLength <= 0 {
		return usagef("--sequence-length must be > 0, got %d", o.sequenceLength)
	}
	if o.batchSize <= 0 {
		return usagef("--batch-size must be > 0, got %d", o.batchSize)
	}
	if o.topK < 0 {
		return usagef("--top-k must be >= 0, got %d", o.topK)
	}
	if o.pruneThreshold < 0 {
		return usagef("--prune-threshold must be >= 0, got %f", o.pruneThreshold)
	}
	if _, err := device.ParseKind(o.device); err != nil {
		return &usageError{err: err}
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := validateOptions(&opts); err != nil {
		return err
	}

	texts, err := corpus.Load(opts.texts, opts.textsFile)
	if err != nil {
		if errors.Is(err, corpus.ErrEmptyCorpus) {
			return &usageError{err: err}
		}
		return err
	}

	requested, err := device.ParseKind(opts.device)
	if err != nil {
		return &usageError{err: err}
	}
	resolved, err := device.Resolve(requested, device.Detect())
	if err != nil {
		return err
	}

	token := ""
	if opts.hfTokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(opts.hfTokenEnv))
	}

	modelPath, tokenizerPath, err := resolveAssets(token)
	if err != nil {
		return err
	}

	logger.Info().
		Str("model", opts.modelName).
		Str("device", string(resolved)).
		Int("documents", len(texts)).
		Msg("loading tokenizer and model")

	libPath, err := onnx.InitRuntime()
	if err != nil {
		return err
	}
	defer func() {
		if err := onnx.ShutdownRuntime(); err != nil {
			logger.Warn().Err(err).Msg("failed to shut down ONNX Runtime")
		}
	}()
	logger.Debug().Str("library", libPath).Msg("ONNX Runtime initialized")

	var tokenizerOpts []onnx.TokenizerOption
	if opts.tokenizerLib != "" {
		tokenizerOpts = append(tokenizerOpts, onnx.WithTokenizerLibraryPath(opts.tokenizerLib))
	}
	tokenizer, err := onnx.NewTokenizer(tokenizerPath, opts.sequenceLength, tokenizerOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := tokenizer.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close tokenizer")
		}
	}()

	model, err := onnx.NewModel(modelPath, opts.sequenceLength, tokenizer.VocabSize())
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close model")
		}
	}()

	encoderOpts := []golden.EncoderOption{
		golden.WithSequenceLength(opts.sequenceLength),
		golden.WithTopK(opts.topK),
		golden.WithPruneThreshold(opts.pruneThreshold),
	}
	if opts.withLabels {
		encoderOpts = append(encoderOpts, golden.WithLabels())
	}
	encoder, err := golden.NewEncoder(tokenizer, model, tokenizer, encoderOpts...)
	if err != nil {
		return err
	}

	rows, err := golden.Run(encoder, texts, opts.batchSize, logger)
	if err != nil {
		return err
	}

	if err := golden.WriteRows(opts.outputJSONL, rows); err != nil {
		return err
	}
	digest, err := golden.FileSHA256(opts.outputJSONL)
	if err != nil {
		return err
	}

	metadataPath := opts.metadataPath
	if metadataPath == "" {
		metadataPath = golden.DefaultMetadataPath(opts.outputJSONL)
	}

	// The resolved device is recorded as provenance; session execution uses
	// the runtime's default execution provider.
	metadata := golden.Metadata{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Generator:      generatorIdentity,
		SourceType:     sourceType,
		ModelRepo:      opts.modelName,
		RowCount:       len(rows),
		DatasetDigest:  digest,
		Settings: golden.Settings{
			SequenceLength: opts.sequenceLength,
			BatchSize:      opts.batchSize,
			TopK:           opts.topK,
			PruneThreshold: opts.pruneThreshold,
			WithLabels:     opts.withLabels,
			Device:         string(resolved),
		},
		RequestPayload: map[string]string{"texts": "batch_of_strings"},
		ResponseShape:  "vectors[{indices,values,labels}]",
	}
	if err := golden.WriteMetadata(metadataPath, metadata); err != nil {
		return err
	}

	logger.Info().
		Str("jsonl", opts.outputJSONL).
		Str("metadata", metadataPath).
		Str("sha256", digest).
		Int("rows", len(rows)).
		Msg("wrote golden dataset")
	return nil
}

// resolveAssets returns local model and tokenizer paths, downloading from
// the hub whichever was not overridden on the command line.
func resolveAssets(token string) (modelPath string, tokenizerPath string, err error) {
	modelPath = opts.modelPath
	tokenizerPath = opts.tokenizerPath
	if modelPath != "" && tokenizerPath != "" {
		return modelPath, tokenizerPath, nil
	}

	clientOpts := []hub.Option{hub.WithToken(token)}
	if opts.cacheDir != "" {
		clientOpts = append(clientOpts, hub.WithCacheDir(opts.cacheDir))
	}
	client, err := hub.NewClient(clientOpts...)
	if err != nil {
		return "", "", err
	}

	logger.Info().Str("repo", opts.modelName).Msg("resolving checkpoint assets")
	assets, err := client.EnsureAssets(opts.modelName)
	if err != nil {
		return "", "", err
	}
	if modelPath == "" {
		modelPath = assets.ModelPath
	}
	if tokenizerPath == "" {
		tokenizerPath = assets.TokenizerPath
	}
	return modelPath, tokenizerPath, nil
}
