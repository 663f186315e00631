package source

import (
	"context"
	"image"
	"os"
	"strings"

	"github.com/haramshield/haramshield-go/internal/errors"
)

// SidecarSuffix is appended to a frame's path to find its recognized text.
const SidecarSuffix = ".txt"

// SidecarOCR reads text an external recognizer wrote next to the frame,
// e.g. shot.png.txt for shot.png. A frame without a sidecar has no text.
type SidecarOCR struct{}

func (SidecarOCR) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, ok := img.(pathed)
	if !ok || p.SourcePath() == "" {
		return "", nil
	}

	path := p.SourcePath() + SidecarSuffix
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.New(err).
			Component("source").
			Category(errors.CategoryOCR).
			Context("path", path).
			Build()
	}
	return strings.TrimSpace(string(data)), nil
}

// StaticOCR returns the same text for every frame.
type StaticOCR string

func (s StaticOCR) Recognize(context.Context, image.Image) (string, error) {
	return string(s), nil
}

var (
	_ OCR         = SidecarOCR{}
	_ OCR         = StaticOCR("")
	_ FrameSource = FileSource{}
	_ FrameSource = DirectorySource{}
)
