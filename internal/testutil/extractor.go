package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ScriptedExtractor returns the non-blank lines of each file, except for
// files scripted by base name to fail or panic. Safe for concurrent use.
type ScriptedExtractor struct {
	// OnExtract, if set, runs before every extraction.
	OnExtract func(ctx context.Context, path string)

	mu     sync.Mutex
	errs   map[string]error
	panics map[string]any
	calls  []string
	closed bool
}

func NewScriptedExtractor() *ScriptedExtractor {
	return &ScriptedExtractor{
		errs:   make(map[string]error),
		panics: make(map[string]any),
	}
}

// FailOn makes extraction of files named name fail with err.
func (e *ScriptedExtractor) FailOn(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[name] = err
}

// PanicOn makes extraction of files named name panic with v.
func (e *ScriptedExtractor) PanicOn(name string, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panics[name] = v
}

func (e *ScriptedExtractor) Extract(ctx context.Context, path string) ([]string, error) {
	if e.OnExtract != nil {
		e.OnExtract(ctx, path)
	}

	name := filepath.Base(path)
	e.mu.Lock()
	e.calls = append(e.calls, name)
	err, failing := e.errs[name]
	v, panicking := e.panics[name]
	e.mu.Unlock()

	if panicking {
		panic(v)
	}
	if failing {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	var segments []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			segments = append(segments, line)
		}
	}
	return segments, nil
}

// Calls returns the base names of extracted files, in call order.
func (e *ScriptedExtractor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *ScriptedExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *ScriptedExtractor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
