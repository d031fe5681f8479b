package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func validOptions() options {
	return options{
		texts:          []string{"the cat sat"},
		outputJSONL:    "/tmp/rows.jsonl",
		modelName:      "prithivida/Splade_PP_en_v1",
		sequenceLength: 256,
		batchSize:      8,
		topK:           24,
		pruneThreshold: 0,
		device:         "auto",
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*options)
		valid  bool
	}{
		{name: "defaults", mutate: func(o *options) {}, valid: true},
		{name: "unbounded top-k", mutate: func(o *options) { o.topK = 0 }, valid: true},
		{name: "explicit cpu", mutate: func(o *options) { o.device = "cpu" }, valid: true},
		{name: "missing output", mutate: func(o *options) { o.outputJSONL = "" }},
		{name: "zero batch size", mutate: func(o *options) { o.batchSize = 0 }},
		{name: "negative sequence length", mutate: func(o *options) { o.sequenceLength = -1 }},
		{name: "negative top-k", mutate: func(o *options) { o.topK = -1 }},
		{name: "negative prune threshold", mutate: func(o *options) { o.pruneThreshold = -0.5 }},
		{name: "unknown device", mutate: func(o *options) { o.device = "tpu" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(&o)
			err := validateOptions(&o)
			if tt.valid {
				if err != nil {
					t.Fatalf("validateOptions returned error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var uerr *usageError
			if !errors.As(err, &uerr) {
				t.Fatalf("error %v must be a usage error", err)
			}
		})
	}
}

func TestRunGenerateValidationWritesNothing(t *testing.T) {
	saved := opts
	defer func() { opts = saved }()

	outputPath := filepath.Join(t.TempDir(), "rows.jsonl")
	opts = validOptions()
	opts.outputJSONL = outputPath
	opts.batchSize = 0

	err := runGenerate(rootCmd, nil)
	var uerr *usageError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want usage error", err)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatal("validation failure must not create output files")
	}
}

func TestRunGenerateEmptyCorpusIsUsageError(t *testing.T) {
	saved := opts
	defer func() { opts = saved }()

	opts = validOptions()
	opts.texts = nil
	opts.textsFile = ""
	opts.outputJSONL = filepath.Join(t.TempDir(), "rows.jsonl")

	err := runGenerate(rootCmd, nil)
	var uerr *usageError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want usage error for empty corpus", err)
	}
}

func TestUsageErrorUnwrap(t *testing.T) {
	inner := errors.New("bad flag")
	err := &usageError{err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("usage error must unwrap to its cause")
	}
	if err.Error() != "bad flag" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "bad flag")
	}
}

func TestRootCommandFlagDefaults(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{flag: "model-name", want: "prithivida/Splade_PP_en_v1"},
		{flag: "sequence-length", want: "256"},
		{flag: "batch-size", want: "8"},
		{flag: "top-k", want: "24"},
		{flag: "prune-threshold", want: "0"},
		{flag: "with-labels", want: "false"},
		{flag: "device", want: "auto"},
		{flag: "hf-token-env", want: "HF_TOKEN"},
	}

	for _, tt := range tests {
		f := rootCmd.Flags().Lookup(tt.flag)
		if f == nil {
			t.Fatalf("flag --%s is not registered", tt.flag)
		}
		if f.DefValue != tt.want {
			t.Fatalf("--%s default = %q, want %q", tt.flag, f.DefValue, tt.want)
		}
	}

	required := rootCmd.Flags().Lookup("output-jsonl")
	if required == nil {
		t.Fatal("flag --output-jsonl is not registered")
	}
	if required.Annotations[cobra.BashCompOneRequiredFlag] == nil {
		t.Fatal("--output-jsonl must be marked required")
	}
}
