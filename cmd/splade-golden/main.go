// Package main implements splade-golden, a generator for SPLADE sparse
// embedding fixture datasets: it runs an ONNX masked-language-model over a
// corpus and writes golden JSONL rows plus a provenance metadata document.
package main

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amikos-tech/splade-golden/golden"
	"github.com/amikos-tech/splade-golden/hub"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

type options struct {
	texts          []string
	textsFile      string
	outputJSONL    string
	metadataPath   string
	modelName      string
	sequenceLength int
	batchSize      int
	topK           int
	pruneThreshold float32
	withLabels     bool
	device         string
	hfTokenEnv     string

	// Local overrides that skip the hub download.
	modelPath     string
	tokenizerPath string
	tokenizerLib  string
	cacheDir      string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "splade-golden",
	Short: "Generate SPLADE sparse-vector golden JSONL datasets",
	Long: `splade-golden runs a SPLADE masked-language-model over input texts and
writes one sparse-vector row per document as newline-delimited JSON, plus a
metadata document recording the generation settings and output digest.

Examples:
  # Encode two inline texts with the default checkpoint
  splade-golden --text "the cat sat" --text "hello world" \
    --output-jsonl /tmp/golden/v1/rows.jsonl

  # Encode a corpus file with token labels and a top-k cap
  splade-golden --texts-file corpus.txt --with-labels --top-k 24 \
    --output-jsonl /tmp/golden/v1/rows.jsonl`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGenerate,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringArrayVar(&opts.texts, "text", nil, "input text (can be passed multiple times)")
	flags.StringVar(&opts.textsFile, "texts-file", "", "path to a text file with one document per line")
	flags.StringVar(&opts.outputJSONL, "output-jsonl", "", "destination JSONL file for rows {id,text,indices,values,labels}")
	flags.StringVar(&opts.metadataPath, "metadata-path", "", "destination metadata.json path (default: alongside --output-jsonl)")
	flags.StringVar(&opts.modelName, "model-name", hub.DefaultModelRepo, "HuggingFace model repo id")
	flags.IntVar(&opts.sequenceLength, "sequence-length", golden.DefaultSequenceLength, "tokenizer truncation/padding length")
	flags.IntVar(&opts.batchSize, "batch-size", 8, "batch size for inference")
	flags.IntVar(&opts.topK, "top-k", 24, "max sparse dimensions per row (0 means unbounded)")
	flags.Float32Var(&opts.pruneThreshold, "prune-threshold", 0, "drop dimensions where value <= threshold")
	flags.BoolVar(&opts.withLabels, "with-labels", false, "include token labels in JSONL rows")
	flags.StringVar(&opts.device, "device", "auto", "compute device (auto, cpu, cuda, mps)")
	flags.StringVar(&opts.hfTokenEnv, "hf-token-env", "HF_TOKEN", "environment variable containing a HuggingFace token")
	flags.StringVar(&opts.modelPath, "model-path", "", "local ONNX model path (skips hub download)")
	flags.StringVar(&opts.tokenizerPath, "tokenizer-path", "", "local tokenizer.json path (skips hub download)")
	flags.StringVar(&opts.tokenizerLib, "tokenizer-lib", "", "explicit pure-tokenizers shared library path")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "asset cache directory (default: user cache dir)")

	if err := rootCmd.MarkFlagRequired("output-jsonl"); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Msg(err.Error())
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
