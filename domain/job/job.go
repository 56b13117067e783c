// Package job provides the optimize-request value types, operation counting
// and plan-limit validation. All functions are pure; image bytes are never
// decoded here.
package job

import (
	"fmt"
	"time"

	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/quota"
)

// Resize describes a resize operation.
type Resize struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Fit    string `json:"fit"` // "fit", "fill", "cover"; empty = fit
}

// Crop describes a crop operation.
type Crop struct {
	Mode   string `json:"mode"` // "center", "exact"
	Width  int    `json:"width"`
	Height int    `json:"height"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// Params are the requested operations, parsed from the request body.
type Params struct {
	Resize   *Resize
	Crop     *Crop
	Format   string // target format; empty = keep original
	Quality  int    // 1-100; 0 = default
	Metadata string // "strip" (default) or "keep"
}

// Request is an admission request (value type, extracted from HTTP).
type Request struct {
	APIKey     string
	Data       []byte
	Filename   string
	Params     Params
	ModeHeader string
	ModeQuery  string
	RemoteIP   string
	UserAgent  string
	RequestID  string
}

// ImageMeta describes an image buffer without carrying its bytes.
type ImageMeta struct {
	Size   int64  `json:"size"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Savings summarizes the size reduction achieved.
type Savings struct {
	Bytes   int64   `json:"bytes"`
	Percent float64 `json:"percent"`
}

// Result is the success payload returned by the admission pipeline.
type Result struct {
	Data       []byte         `json:"-"`
	Original   ImageMeta      `json:"original"`
	Optimized  ImageMeta      `json:"optimized"`
	Savings    Savings        `json:"savings"`
	Operations []string       `json:"operations"`
	Usage      quota.Snapshot `json:"usage"`
	Sandbox    bool           `json:"sandbox,omitempty"`
	Duration   time.Duration  `json:"-"`
}

// ComputeSavings derives the savings summary from before/after sizes.
func ComputeSavings(originalSize, optimizedSize int64) Savings {
	s := Savings{Bytes: originalSize - optimizedSize}
	if originalSize > 0 {
		s.Percent = float64(s.Bytes) / float64(originalSize) * 100
	}
	return s
}

// CountOperations counts billable operations. Compression always counts as
// one; resize, crop, format conversion and metadata preservation each add one.
func CountOperations(p Params) int {
	count := 1
	if p.Resize != nil && (p.Resize.Width > 0 || p.Resize.Height > 0) {
		count++
	}
	if p.Crop != nil && p.Crop.Mode != "" {
		count++
	}
	if p.Format != "" {
		count++
	}
	if p.Metadata == "keep" {
		count++
	}
	return count
}

// OperationBreakdown lists the operations a request performs, in the order
// they are applied.
func OperationBreakdown(p Params) []string {
	ops := []string{"compress"}
	if p.Resize != nil && (p.Resize.Width > 0 || p.Resize.Height > 0) {
		ops = append(ops, "resize")
	}
	if p.Crop != nil && p.Crop.Mode != "" {
		ops = append(ops, "crop")
	}
	if p.Format != "" {
		ops = append(ops, "convert")
	}
	if p.Metadata == "keep" {
		ops = append(ops, "metadata")
	}
	return ops
}

// Validate checks a request against plan limits. Constraints are checked in
// a fixed order (size, pixels, operation count, format) so the same
// malformed input always produces the same error. Returns nil when valid.
// This is a pure function; meta comes from a cheap header-only decode.
func Validate(p Params, fileSize int64, meta ImageMeta, limits plan.Limits) *apierror.Error {
	if fileSize > limits.MaxFileSize {
		return apierror.Validation(
			apierror.CodeSizeExceeded,
			fmt.Sprintf("File size %d bytes exceeds plan limit of %d bytes", fileSize, limits.MaxFileSize),
			413,
			map[string]any{
				"max_size":  limits.MaxFileSize,
				"your_size": fileSize,
			},
		)
	}

	pixels := int64(meta.Width) * int64(meta.Height)
	if limits.MaxPixels > 0 && pixels > limits.MaxPixels {
		return apierror.Validation(
			apierror.CodePixelsExceeded,
			fmt.Sprintf("Image resolution %dx%d exceeds plan limit of %d pixels", meta.Width, meta.Height, limits.MaxPixels),
			400,
			map[string]any{
				"max_pixels":  limits.MaxPixels,
				"your_pixels": pixels,
				"width":       meta.Width,
				"height":      meta.Height,
			},
		)
	}

	opCount := CountOperations(p)
	if opCount > limits.MaxOperations {
		return apierror.Validation(
			apierror.CodeOperationsExceeded,
			fmt.Sprintf("Too many operations. %s plan allows max %d operations", limits.Tier, limits.MaxOperations),
			400,
			map[string]any{
				"requested_operations": opCount,
				"allowed_operations":   limits.MaxOperations,
				"operations":           OperationBreakdown(p),
			},
		)
	}

	// Both the source format and any requested target format must be on the
	// plan's allow list.
	if !limits.AllowsFormat(meta.Format) {
		return unsupportedFormat(meta.Format, limits)
	}
	if p.Format != "" && !limits.AllowsFormat(p.Format) {
		return unsupportedFormat(p.Format, limits)
	}

	return nil
}

func unsupportedFormat(format string, limits plan.Limits) *apierror.Error {
	return apierror.Validation(
		apierror.CodeUnsupportedFormat,
		fmt.Sprintf("Format %q is not supported on %s plan", format, limits.Tier),
		415,
		map[string]any{
			"your_format": format,
			"supported":   limits.AllowedFormats,
		},
	)
}
