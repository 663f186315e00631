// Package source provides file-backed frame sources and OCR adapters so the
// pipeline can be driven without a device screen.
package source

import (
	"context"
	"image"
	"time"
)

// FrameSource captures the current screen. A nil frame with a nil error
// means the surface could not be read, e.g. a secure window.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// OCR recognizes text in a frame.
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Frame is a captured image together with the file it came from.
type Frame struct {
	image.Image
	Path    string
	ModTime time.Time
}

// SourcePath returns the file the frame was read from.
func (f *Frame) SourcePath() string { return f.Path }

// pathed is implemented by frames that know their origin file.
type pathed interface {
	SourcePath() string
}
