// Package imaging implements the image-processing port on top of the
// disintegration/imaging library. The admission core treats this as an
// opaque collaborator: buffer in, transformed buffer plus metadata out.
package imaging

import (
	"bytes"
	"context"
	"image"

	"github.com/disintegration/imaging"

	// Decode-only webp support. There is no pure-Go webp encoder, so webp
	// never appears in plan allow lists; registering the decoder turns a
	// webp upload into a clear format rejection instead of a decode error.
	_ "golang.org/x/image/webp"

	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/ports"
)

// defaultQuality is applied when the request does not specify one.
const defaultQuality = 80

// Processor implements ports.Processor.
type Processor struct{}

// New creates a Processor.
func New() *Processor {
	return &Processor{}
}

// Probe reads image metadata from the buffer header without decoding pixel
// data. Used by validation to check pixel limits before any CPU-bound work.
func (p *Processor) Probe(data []byte) (job.ImageMeta, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return job.ImageMeta{}, apierror.CorruptedInput(err.Error())
	}
	return job.ImageMeta{
		Size:   int64(len(data)),
		Format: plan.Normalize(format),
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Process decodes the buffer, applies the requested operations in order
// (resize, crop, recompress/convert) and re-encodes. Re-encoding strips
// metadata; preserving it is not supported by this engine.
func (p *Processor) Process(ctx context.Context, data []byte, params job.Params) ([]byte, job.ImageMeta, error) {
	if params.Metadata == "keep" {
		return nil, job.ImageMeta{}, apierror.UnsupportedOperation("metadata")
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, job.ImageMeta{}, apierror.CorruptedInput(err.Error())
	}

	if params.Resize != nil {
		img = applyResize(img, *params.Resize)
	}

	if params.Crop != nil {
		img, err = applyCrop(img, *params.Crop)
		if err != nil {
			return nil, job.ImageMeta{}, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, job.ImageMeta{}, err
	}

	outFormat := plan.Normalize(srcFormat)
	if params.Format != "" {
		outFormat = plan.Normalize(params.Format)
	}

	encFormat, ok := encodeFormat(outFormat)
	if !ok {
		return nil, job.ImageMeta{}, apierror.UnsupportedOperation("convert to " + outFormat)
	}

	quality := params.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, encFormat, imaging.JPEGQuality(quality)); err != nil {
		return nil, job.ImageMeta{}, apierror.CorruptedInput(err.Error())
	}

	bounds := img.Bounds()
	meta := job.ImageMeta{
		Size:   int64(buf.Len()),
		Format: outFormat,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	return buf.Bytes(), meta, nil
}

func applyResize(img image.Image, r job.Resize) image.Image {
	switch {
	case r.Width > 0 && r.Height > 0 && (r.Fit == "fill" || r.Fit == "cover"):
		return imaging.Fill(img, r.Width, r.Height, imaging.Center, imaging.Lanczos)
	case r.Width > 0 && r.Height > 0:
		return imaging.Fit(img, r.Width, r.Height, imaging.Lanczos)
	default:
		// One dimension given: scale preserving aspect ratio.
		return imaging.Resize(img, r.Width, r.Height, imaging.Lanczos)
	}
}

func applyCrop(img image.Image, c job.Crop) (image.Image, error) {
	switch c.Mode {
	case "center":
		return imaging.CropCenter(img, c.Width, c.Height), nil
	case "exact":
		rect := image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
		return imaging.Crop(img, rect), nil
	default:
		return nil, apierror.UnsupportedOperation("crop mode " + c.Mode)
	}
}

// encodeFormat maps a normalized format name to the library's encoder.
func encodeFormat(format string) (imaging.Format, bool) {
	switch format {
	case "jpg":
		return imaging.JPEG, true
	case "png":
		return imaging.PNG, true
	case "gif":
		return imaging.GIF, true
	case "tif", "tiff":
		return imaging.TIFF, true
	case "bmp":
		return imaging.BMP, true
	default:
		return 0, false
	}
}

// Ensure interface compliance.
var _ ports.Processor = (*Processor)(nil)
