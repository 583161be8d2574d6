package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var (
	ErrTooLarge     = errors.New("file too large")
	ErrEmpty        = errors.New("empty file")
	ErrInvalidImage = errors.New("invalid image")
	ErrUnsupported  = errors.New("unsupported file type")
)

type AttachmentOptions struct {
	MaxBytes    int64
	MaxDim      int
	JPEGQuality int
	// Transparent images are flattened onto this background.
	Background color.RGBA
}

func DefaultAttachmentOptions(maxBytes int64) AttachmentOptions {
	return AttachmentOptions{
		MaxBytes:    maxBytes,
		MaxDim:      2048,
		JPEGQuality: 85,
		Background:  color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// Processed is an upload ready to be stored.
type Processed struct {
	Data        []byte
	ContentType string
	Ext         string
	Image       bool
}

func (p Processed) Size() int64 { return int64(len(p.Data)) }

var fileTypes = map[string]string{
	"application/pdf":           ".pdf",
	"application/zip":           ".zip",
	"text/plain; charset=utf-8": ".txt",
}

// ProcessAttachment reads at most opts.MaxBytes from r. Images are decoded,
// downscaled to fit opts.MaxDim and re-encoded as JPEG. Other files pass
// through if their sniffed type is accepted.
func ProcessAttachment(r io.Reader, opts AttachmentOptions) (Processed, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10_000_000
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = 2048
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return Processed{}, err
	}
	if int64(len(data)) > opts.MaxBytes {
		return Processed{}, ErrTooLarge
	}
	if len(data) == 0 {
		return Processed{}, ErrEmpty
	}

	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return normalizeImage(data, sniffed, opts)
	}
	if ext, ok := fileTypes[sniffed]; ok {
		return Processed{Data: data, ContentType: sniffed, Ext: ext}, nil
	}
	return Processed{}, ErrUnsupported
}

func normalizeImage(data []byte, contentType string, opts AttachmentOptions) (Processed, error) {
	var (
		img image.Image
		err error
	)
	switch contentType {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/gif":
		img, err = gif.Decode(bytes.NewReader(data))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return Processed{}, ErrUnsupported
	}
	if err != nil {
		return Processed{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return Processed{}, ErrInvalidImage
	}
	tw, th := fit(w, h, opts.MaxDim)

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return Processed{}, fmt.Errorf("encode: %w", err)
	}
	return Processed{Data: out.Bytes(), ContentType: "image/jpeg", Ext: ".jpg", Image: true}, nil
}

// fit never upscales.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	var tw, th int
	if w >= h {
		tw = maxDim
		th = int(float64(h) * (float64(maxDim) / float64(w)))
	} else {
		th = maxDim
		tw = int(float64(w) * (float64(maxDim) / float64(h)))
	}
	return max(tw, 1), max(th, 1)
}
