package golden

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AssembleRows pairs batch texts with their sparse vectors and assigns
// sequential ids continuing after assembled rows from earlier batches: the
// first row of a run is s1, ids are global across batches.
func AssembleRows(texts []string, vectors []SparseVector, assembled int) ([]Row, error) {
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("row assembly mismatch: %d texts but %d sparse vectors", len(texts), len(vectors))
	}
	if assembled < 0 {
		return nil, fmt.Errorf("assembled row count must be >= 0, got %d", assembled)
	}

	rows := make([]Row, len(texts))
	for i := range texts {
		if err := vectors[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid sparse vector for row %d: %w", assembled+i+1, err)
		}
		indices := vectors[i].Indices
		if indices == nil {
			indices = []int{}
		}
		values := vectors[i].Values
		if values == nil {
			values = []float32{}
		}
		labels := vectors[i].Labels
		if labels == nil {
			labels = []string{}
		}
		rows[i] = Row{
			ID:      fmt.Sprintf("s%d", assembled+i+1),
			Text:    texts[i],
			Indices: indices,
			Values:  values,
			Labels:  labels,
		}
	}
	return rows, nil
}

// Run encodes the whole corpus one batch at a time and returns the assembled
// rows in input order. Progress is reported through log for operator
// visibility only.
func Run(enc *Encoder, texts []string, batchSize int, log zerolog.Logger) ([]Row, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder cannot be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}

	rows := make([]Row, 0, len(texts))
	batchNumber := 0
	for batch := range Batches(texts, batchSize) {
		batchNumber++
		log.Info().
			Int("batch", batchNumber).
			Int("documents", len(batch)).
			Msg("encoding batch")

		vectors, err := enc.EncodeBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("failed to encode batch %d: %w", batchNumber, err)
		}

		batchRows, err := AssembleRows(batch, vectors, len(rows))
		if err != nil {
			return nil, fmt.Errorf("failed to assemble batch %d: %w", batchNumber, err)
		}
		rows = append(rows, batchRows...)
	}
	return rows, nil
}
