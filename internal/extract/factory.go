// Package extract provides the text-extraction engines behind ingest.Extractor.
package extract

import (
	"fmt"

	"ocr-ingest/internal/config"
	"ocr-ingest/internal/ingest"
)

// NewExtractorFromConfig creates an Extractor implementation based on the extractor config type.
func NewExtractorFromConfig(cfg config.ExtractorConfig) (ingest.Extractor, error) {
	switch cfg.Type {
	case "tesseract":
		e, err := NewTesseractExtractor(cfg.Languages)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "text":
		return TextExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor type: %s", cfg.Type)
	}
}
