// Package corpus gathers input documents for a generation run.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyCorpus reports that no input documents were provided.
var ErrEmptyCorpus = errors.New("no input texts: provide at least one inline text or a texts file with non-empty lines")

// Load returns the inline texts in argument order followed by the non-empty,
// whitespace-trimmed lines of the optional file in file order. path may be
// empty. Returns ErrEmptyCorpus when the combined result is empty.
func Load(inline []string, path string) (_ []string, err error) {
	texts := make([]string, 0, len(inline))
	texts = append(texts, inline...)

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open texts file %q: %w", path, err)
		}
		defer func() {
			closeErr := file.Close()
			if err == nil && closeErr != nil {
				err = closeErr
			}
		}()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			texts = append(texts, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read texts file %q: %w", path, err)
		}
	}

	if len(texts) == 0 {
		return nil, ErrEmptyCorpus
	}
	return texts, nil
}
