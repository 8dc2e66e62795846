// Package capture records the parsed lines of streamed chat responses to
// disk and summarizes them with DuckDB.
package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Ext is the extension of capture files
const Ext = ".jsonl"

// File is one capture, holding the lines of a single exchange
type File struct {
	*os.File
	ID string
}

// Create opens a new capture file in dir, creating dir when needed
func Create(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	id := uuid.New().String()
	f, err := os.Create(filepath.Join(dir, id+Ext))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	return &File{File: f, ID: id}, nil
}
