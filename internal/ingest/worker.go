package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Extractor is the text-extraction engine. It is constructed once at startup
// with its language set and shared by all workers.
type Extractor interface {
	// Extract returns the recognized text segments of the file at path.
	Extract(ctx context.Context, path string) ([]string, error)

	// Close releases engine resources.
	Close() error
}

// Worker invokes the extraction engine on one file. It performs no retry.
type Worker struct {
	extractor Extractor
}

func NewWorker(extractor Extractor) *Worker {
	return &Worker{extractor: extractor}
}

// Extract returns the segments of path joined by newlines.
// A panic inside the engine is returned as an error.
func (w *Worker) Extract(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()

	segments, err := w.extractor.Extract(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "\n"), nil
}
