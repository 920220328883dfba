// Package upload stores chat attachments. Images are recompressed to a
// bounded width JPEG, videos are stored untouched.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	// ImageWidth is the width images are resized to. Height keeps the
	// aspect ratio.
	ImageWidth = 800
	// JPEGQuality is the quality used when re-encoding images.
	JPEGQuality = 80

	compressedPrefix = "compressed-"
)

var (
	// ErrUnsupportedType is returned for anything that is not image/* or video/*.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrCompression is returned when an image could not be decoded or re-encoded.
	ErrCompression = errors.New("error compressing image")
)

// Result is returned to the uploader.
type Result struct {
	FileURL string `json:"fileUrl"`
}

// Service writes uploads below a directory served at URLPrefix.
type Service struct {
	dir       string
	urlPrefix string
	log       zerolog.Logger
}

// NewService creates dir if needed.
func NewService(dir, urlPrefix string, logger zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Service{
		dir:       dir,
		urlPrefix: urlPrefix,
		log:       logger.With().Str("component", "upload").Logger(),
	}, nil
}

// Dir returns the storage directory.
func (s *Service) Dir() string {
	return s.dir
}

// Save stores the content of r under a unique name derived from filename.
// contentType decides the treatment.
func (s *Service) Save(filename, contentType string, r io.Reader) (Result, error) {
	isImage := strings.HasPrefix(contentType, "image/")
	if !isImage && !strings.HasPrefix(contentType, "video/") {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	name := storedName(filename)
	path := filepath.Join(s.dir, name)
	if err := writeFile(path, r); err != nil {
		return Result{}, err
	}

	if !isImage {
		s.log.Info().Str("file", name).Str("type", contentType).Msg("stored video")
		return Result{FileURL: s.urlPrefix + name}, nil
	}

	out := compressedPrefix + name
	if err := compress(path, filepath.Join(s.dir, out)); err != nil {
		s.log.Error().Err(err).Str("file", name).Msg("image compression failed")
		return Result{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if err := os.Remove(path); err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("remove original upload")
	}

	s.log.Info().Str("file", out).Str("type", contentType).Msg("stored compressed image")
	return Result{FileURL: s.urlPrefix + out}, nil
}

func storedName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return ulid.Make().String() + "-" + base
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write upload: %w", err)
	}
	return f.Close()
}

func compress(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	resized := imaging.Resize(img, ImageWidth, 0, imaging.Lanczos)

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := imaging.Encode(f, resized, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
