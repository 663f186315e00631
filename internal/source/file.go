package source

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	// frame decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// FileSource always captures the same file.
type FileSource struct {
	Path string
}

func (s FileSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFrame(s.Path)
}

// DirectorySource captures the most recently modified image in a directory,
// typically one a screenshot tool keeps writing to. An empty directory
// yields a nil frame.
type DirectorySource struct {
	Dir string
}

func (s DirectorySource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryCapture).
			Context("dir", s.Dir).
			Build()
	}

	var newest string
	var newestInfo os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
			newest, newestInfo = e.Name(), info
		}
	}
	if newest == "" {
		GetLogger().Debug("no frame available", logger.String("dir", s.Dir))
		return nil, nil
	}
	return decodeFrame(filepath.Join(s.Dir, newest))
}

func decodeFrame(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryCapture).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryCapture).
			Context("path", path).
			Context("operation", "decode").
			Build()
	}

	frame := &Frame{Image: img, Path: path}
	if info, err := f.Stat(); err == nil {
		frame.ModTime = info.ModTime()
	}
	GetLogger().Trace("frame decoded",
		logger.String("path", path),
		logger.String("format", format))
	return frame, nil
}
