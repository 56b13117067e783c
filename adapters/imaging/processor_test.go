package imaging_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/pixelpress/pixelpress/adapters/imaging"
	"github.com/pixelpress/pixelpress/config"
	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/sandbox"
)

// testPNG encodes a solid-color PNG of the given dimensions.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 64, 48)

	meta, err := p.Probe(data)
	if err != nil {
		t.Fatalf("Probe() = %v", err)
	}
	if meta.Format != "png" {
		t.Errorf("format = %q, want png", meta.Format)
	}
	if meta.Width != 64 || meta.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", meta.Width, meta.Height)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", meta.Size, len(data))
	}
}

func TestProbe_CorruptedInput(t *testing.T) {
	p := imaging.New()
	_, err := p.Probe([]byte("not an image"))
	if err == nil {
		t.Fatal("Probe() = nil, want error")
	}
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Probe() error type = %T, want *apierror.Error", err)
	}
	if apiErr.Kind != apierror.KindCorruptedInput {
		t.Errorf("kind = %v, want KindCorruptedInput", apiErr.Kind)
	}
}

func TestProcess_Recompress(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 32, 32)

	out, meta, err := p.Process(context.Background(), data, job.Params{})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Process() returned empty output")
	}
	if meta.Format != "png" {
		t.Errorf("format = %q, want png (kept)", meta.Format)
	}
	if meta.Width != 32 || meta.Height != 32 {
		t.Errorf("dimensions = %dx%d, want 32x32", meta.Width, meta.Height)
	}
}

func TestProcess_Resize(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 100, 50)

	out, meta, err := p.Process(context.Background(), data, job.Params{
		Resize: &job.Resize{Width: 50, Height: 25},
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if meta.Width != 50 || meta.Height != 25 {
		t.Errorf("dimensions = %dx%d, want 50x25", meta.Width, meta.Height)
	}
	if meta.Size != int64(len(out)) {
		t.Errorf("size = %d, want %d", meta.Size, len(out))
	}
}

func TestProcess_ResizeSingleDimension(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 100, 50)

	_, meta, err := p.Process(context.Background(), data, job.Params{
		Resize: &job.Resize{Width: 40},
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	// Aspect ratio preserved.
	if meta.Width != 40 || meta.Height != 20 {
		t.Errorf("dimensions = %dx%d, want 40x20", meta.Width, meta.Height)
	}
}

func TestProcess_CropCenter(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 100, 100)

	_, meta, err := p.Process(context.Background(), data, job.Params{
		Crop: &job.Crop{Mode: "center", Width: 30, Height: 40},
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if meta.Width != 30 || meta.Height != 40 {
		t.Errorf("dimensions = %dx%d, want 30x40", meta.Width, meta.Height)
	}
}

func TestProcess_ConvertFormat(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 20, 20)

	_, meta, err := p.Process(context.Background(), data, job.Params{Format: "jpeg"})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if meta.Format != "jpg" {
		t.Errorf("format = %q, want jpg", meta.Format)
	}
}

func TestProcess_MetadataKeepUnsupported(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 20, 20)

	_, _, err := p.Process(context.Background(), data, job.Params{Metadata: "keep"})
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *apierror.Error", err)
	}
	if apiErr.Kind != apierror.KindUnsupportedOperation {
		t.Errorf("kind = %v, want KindUnsupportedOperation", apiErr.Kind)
	}
}

func TestProcess_CorruptedInput(t *testing.T) {
	p := imaging.New()
	_, _, err := p.Process(context.Background(), []byte("garbage"), job.Params{})
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *apierror.Error", err)
	}
	if apiErr.Kind != apierror.KindCorruptedInput {
		t.Errorf("kind = %v, want KindCorruptedInput", apiErr.Kind)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	p := imaging.New()
	data := testPNG(t, 20, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.Process(ctx, data, job.Params{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() = %v, want context.Canceled", err)
	}
}

// minimalWebP is the smallest valid lossy webp file, a 1x1 VP8 key frame.
var minimalWebP = []byte{
	'R', 'I', 'F', 'F', 0x24, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P',
	'V', 'P', '8', ' ', 0x18, 0x00, 0x00, 0x00,
	0x30, 0x01, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00,
	0x02, 0x00, 0x34, 0x25, 0xa4, 0x00, 0x03, 0x70, 0x00, 0xfe,
	0xfb, 0xfd, 0x50, 0x00,
}

func TestProbe_WebPSource(t *testing.T) {
	p := imaging.New()

	// The decoder is registered, so a webp upload probes with its real
	// format and gets a format rejection from validation instead of being
	// misreported as a corrupted image.
	meta, err := p.Probe(minimalWebP)
	if err != nil {
		t.Fatalf("Probe() = %v", err)
	}
	if meta.Format != "webp" {
		t.Errorf("format = %q, want webp", meta.Format)
	}
}

// Every format the default plan catalog and sandbox limits advertise must
// round-trip through the encoder. A format that validates but cannot be
// encoded would take a quota reservation and a gate slot before failing.
func TestProcess_EncodesDefaultCatalogFormats(t *testing.T) {
	p := imaging.New()
	src := testPNG(t, 8, 8)

	formats := make(map[string]bool)
	for _, pc := range config.DefaultPlans() {
		for _, f := range pc.AllowedFormats {
			formats[f] = true
		}
	}
	for _, f := range sandbox.DefaultLimits().AllowedFormats {
		formats[f] = true
	}
	if len(formats) == 0 {
		t.Fatal("no formats in default catalog")
	}

	for f := range formats {
		_, meta, err := p.Process(context.Background(), src, job.Params{Format: f})
		if err != nil {
			t.Errorf("Process(format=%s) = %v", f, err)
			continue
		}
		if meta.Format != plan.Normalize(f) {
			t.Errorf("Process(format=%s) output format = %q", f, meta.Format)
		}
	}
}
