package sink

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/pkg/errors"
)

// FileOutput appends records as JSON lines.
type FileOutput struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &FileOutput{path: path, file: f}, nil
}

func (f *FileOutput) Name() string { return "file" }

func (f *FileOutput) Send(ctx context.Context, events []record.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return errors.Wrapf(err, "write %s", f.path)
		}
	}
	return f.file.Sync()
}

func (f *FileOutput) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
