//go:build !cgo

package ocr

import (
	"errors"
	"image"
)

var errNoCgo = errors.New("tesseract requires a cgo build")

func probe(Options) (string, error) {
	return "", errNoCgo
}

func recognize(image.Image, Options) ([]word, error) {
	return nil, errNoCgo
}
