// Package golden turns a corpus of texts into SPLADE-style sparse embedding
// rows suitable for use as regression-test fixtures: newline-delimited JSON
// rows plus a metadata document describing how they were generated.
package golden

import "fmt"

// SparseVector is a sparse representation of one document embedding.
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float32 `json:"values"`
	Labels  []string  `json:"labels,omitempty"`
}

// Validate checks sparse vector invariants: index/value/label alignment and
// strictly increasing indices.
func (v SparseVector) Validate() error {
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("sparse vector has mismatched indices/values lengths: indices=%d values=%d", len(v.Indices), len(v.Values))
	}
	if len(v.Labels) > 0 && len(v.Labels) != len(v.Indices) {
		return fmt.Errorf("sparse vector has mismatched labels/indices lengths: labels=%d indices=%d", len(v.Labels), len(v.Indices))
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i] <= v.Indices[i-1] {
			return fmt.Errorf("sparse vector indices are not strictly increasing at position %d: %d after %d", i, v.Indices[i], v.Indices[i-1])
		}
	}
	return nil
}

// Row is one persisted fixture row. Slice fields are always serialized as
// arrays, never null, so downstream JSONL consumers get a stable shape.
type Row struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Indices []int     `json:"indices"`
	Values  []float32 `json:"values"`
	Labels  []string  `json:"labels"`
}

// Settings records the generation parameters that shaped a dataset.
type Settings struct {
	SequenceLength int     `json:"sequence_length"`
	BatchSize      int     `json:"batch_size"`
	TopK           int     `json:"top_k"`
	PruneThreshold float32 `json:"prune_threshold"`
	WithLabels     bool    `json:"with_labels"`
	Device         string  `json:"device"`
}

// Metadata is the provenance record written alongside a dataset. It is
// created once after all rows are on disk and never mutated.
type Metadata struct {
	GeneratedAtUTC string            `json:"generated_at_utc"`
	Generator      string            `json:"generator"`
	SourceType     string            `json:"source_type"`
	ModelRepo      string            `json:"model_repo"`
	RowCount       int               `json:"row_count"`
	DatasetDigest  string            `json:"dataset_digest_sha256"`
	Settings       Settings          `json:"settings"`
	RequestPayload map[string]string `json:"request_payload"`
	ResponseShape  string            `json:"response_shape"`
}
