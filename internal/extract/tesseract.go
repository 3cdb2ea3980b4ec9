package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"ocr-ingest/internal/ingest"
)

// minHeight is the height below which images are upscaled before recognition.
const minHeight = 900

// TesseractExtractor recognizes text in images with a single Tesseract engine.
// The engine is not reentrant, so calls are serialized.
type TesseractExtractor struct {
	mu        sync.Mutex
	client    *gosseract.Client
	languages []string
}

var _ ingest.Extractor = (*TesseractExtractor)(nil)

// NewTesseractExtractor loads the engine once for the given language codes (e.g. "por", "eng").
func NewTesseractExtractor(languages []string) (*TesseractExtractor, error) {
	if len(languages) == 0 {
		return nil, fmt.Errorf("tesseract extractor requires at least one language")
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract languages %v: %w", languages, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}

	return &TesseractExtractor{client: client, languages: languages}, nil
}

// Extract returns one segment per recognized paragraph.
func (e *TesseractExtractor) Extract(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, preprocess(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	segments := make([]string, 0, len(boxes))
	for _, box := range boxes {
		if text := strings.TrimSpace(box.Word); text != "" {
			segments = append(segments, text)
		}
	}
	return segments, nil
}

func (e *TesseractExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}

// preprocess converts to grayscale, raises contrast and upscales small scans.
func preprocess(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 15)
	out = imaging.Sharpen(out, 0.7)
	if out.Bounds().Dy() < minHeight {
		out = imaging.Resize(out, 0, minHeight, imaging.Lanczos)
	}
	return out
}
