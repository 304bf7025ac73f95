package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// maxLineSize of the JSONL input files: lines may hold token embeddings.
const maxLineSize = 64 * 1024 * 1024

// readJSONL decodes each non-empty line of the file at path into a T.
func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer f.Close()

	var values []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var value T
		if err := json.Unmarshal(line, &value); err != nil {
			return nil, errors.Wrapf(err, "%s:%d: failed to decode line", path, lineNum)
		}
		values = append(values, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	return values, nil
}
