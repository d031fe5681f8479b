package golden

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMetadataFilename is used when no explicit metadata path is given.
const DefaultMetadataFilename = "metadata.json"

// WriteRows serializes rows as newline-delimited JSON: one compact object per
// line, UTF-8, trailing newline after the final line. Parent directories are
// created as needed. HTML escaping is disabled so fixture bytes carry text
// verbatim.
func WriteRows(path string, rows []Row) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory for %q: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close output file %q: %w", path, closeErr)
		}
	}()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	for i := range rows {
		// Encode appends exactly one newline per value.
		if err := encoder.Encode(rows[i]); err != nil {
			return fmt.Errorf("failed to encode row %q: %w", rows[i].ID, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output file %q: %w", path, err)
	}
	return nil
}

// FileSHA256 returns the lowercase hex SHA-256 digest of the file's bytes.
func FileSHA256(path string) (_ string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q for hashing: %w", path, err)
	}
	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// WriteMetadata writes the provenance document as pretty-printed JSON with a
// trailing newline, creating parent directories as needed.
func WriteMetadata(path string, metadata Metadata) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory for %q: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metadata file %q: %w", path, err)
	}
	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close metadata file %q: %w", path, closeErr)
		}
	}()

	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(metadata); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return nil
}

// DefaultMetadataPath returns the metadata location alongside a JSONL output
// path.
func DefaultMetadataPath(jsonlPath string) string {
	return filepath.Join(filepath.Dir(jsonlPath), DefaultMetadataFilename)
}
