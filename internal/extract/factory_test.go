package extract

import (
	"testing"

	"ocr-ingest/internal/config"
)

func TestNewExtractorFromConfig(t *testing.T) {
	t.Run("text extractor", func(t *testing.T) {
		got, err := NewExtractorFromConfig(config.ExtractorConfig{Type: "text"})
		if err != nil {
			t.Fatalf("NewExtractorFromConfig() error = %v", err)
		}
		if _, ok := got.(TextExtractor); !ok {
			t.Errorf("NewExtractorFromConfig() = %T, want TextExtractor", got)
		}
	})

	t.Run("tesseract without languages", func(t *testing.T) {
		got, err := NewExtractorFromConfig(config.ExtractorConfig{Type: "tesseract"})
		if err == nil {
			t.Error("NewExtractorFromConfig() expected error without languages")
		}
		if got != nil {
			t.Error("NewExtractorFromConfig() should return nil on error")
		}
	})

	t.Run("unknown extractor type", func(t *testing.T) {
		got, err := NewExtractorFromConfig(config.ExtractorConfig{Type: "easyocr"})
		if err == nil {
			t.Error("NewExtractorFromConfig() expected error for unknown type")
		}
		if got != nil {
			t.Error("NewExtractorFromConfig() should return nil on error")
		}
	})
}
