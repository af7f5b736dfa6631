//go:build cgo

package ocr

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

var levels = map[string]gosseract.PageIteratorLevel{
	LevelWord:  gosseract.RIL_WORD,
	LevelLine:  gosseract.RIL_TEXTLINE,
	LevelBlock: gosseract.RIL_BLOCK,
}

// probe initialises Tesseract on a blank image to surface missing language
// data, and returns the engine version.
func probe(opts Options) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(opts.Language); err != nil {
		return "", fmt.Errorf("tesseract language %q: %w", opts.Language, err)
	}
	blank, err := encode(image.NewGray(image.Rect(0, 0, 16, 16)))
	if err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(blank); err != nil {
		return "", fmt.Errorf("tesseract init: %w", err)
	}
	if _, err := client.Text(); err != nil {
		return "", fmt.Errorf("tesseract init: %w", err)
	}
	return client.Version(), nil
}

// recognize runs Tesseract on img. gosseract clients are not safe for
// concurrent use, so every call owns its client.
func recognize(img image.Image, opts Options) ([]word, error) {
	level, ok := levels[opts.Level]
	if !ok {
		level = gosseract.RIL_WORD
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(opts.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	data, err := encode(img)
	if err != nil {
		return nil, err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(level)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes: %w", err)
	}
	words := make([]word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, word{
			box:        b.Box,
			text:       b.Word,
			confidence: b.Confidence / 100,
		})
	}
	return words, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
