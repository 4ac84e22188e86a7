package commands

import (
	"bytes"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"regexp"
	"strconv"

	"github.com/jo-hoe/potd/internal/backend/commandstructure"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	vectorSniffLength     = 100
	vectorDeepSniffLength = 1024
	svgTagScanLength      = 8192
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// hasCorrectPngSignature checks whether the provided data begins with a valid PNG signature
func hasCorrectPngSignature(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// IsVectorFormat reports whether data looks like SVG markup. The leading bytes
// are checked for an svg tag; when only an XML declaration is found there the
// check continues a little deeper into the payload.
func IsVectorFormat(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), vectorSniffLength)]))
	if bytes.Contains(head, []byte("<svg")) {
		return true
	}
	if !bytes.Contains(head, []byte("<?xml")) {
		return false
	}
	deeper := bytes.ToLower(data[:min(len(data), vectorDeepSniffLength)])
	return bytes.Contains(deeper, []byte("<svg"))
}

// PngConverterCommand normalizes any supported input (raster or SVG) to PNG.
type PngConverterCommand struct {
	name              string
	svgFallbackWidth  int
	svgFallbackHeight int
}

// NewPngConverterCommand creates a new PNG converter command
func NewPngConverterCommand(params map[string]any) (commandstructure.Command, error) {
	w := commandstructure.GetIntParam(params, "svgFallbackWidth", 0)
	h := commandstructure.GetIntParam(params, "svgFallbackHeight", 0)
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("svg fallback size must not be negative, got %dx%d", w, h)
	}
	return NewPngConverterCommandWithFallback(w, h), nil
}

// NewPngConverterCommandWithFallback creates a converter that renders SVGs
// without any intrinsic size at fallbackWidth x fallbackHeight.
func NewPngConverterCommandWithFallback(fallbackWidth, fallbackHeight int) *PngConverterCommand {
	return &PngConverterCommand{
		name:              "PngConverterCommand",
		svgFallbackWidth:  fallbackWidth,
		svgFallbackHeight: fallbackHeight,
	}
}

// Name returns the command name
func (c *PngConverterCommand) Name() string {
	return c.name
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if hasCorrectPngSignature(imageData) {
		slog.Debug("PngConverterCommand: PNG detected; returning original bytes")
		return imageData, nil
	}

	if IsVectorFormat(imageData) {
		return c.ConvertToRaster(imageData)
	}

	img, currentFormat, err := decodeImage(imageData)
	if err != nil {
		slog.Error("PngConverterCommand: failed to decode image", "error", err)
		return nil, err
	}
	slog.Debug("PngConverterCommand: decoded raster image",
		"current_format", currentFormat,
		"orig_width", img.Bounds().Dx(),
		"orig_height", img.Bounds().Dy())

	out, err := encodePNG(img)
	if err != nil {
		slog.Error("PngConverterCommand: failed to encode image to PNG", "error", err)
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}
	return out, nil
}

// ConvertToRaster renders SVG markup to PNG. The render size comes from the
// root element's width/height, then its viewBox, then the configured fallback.
func (c *PngConverterCommand) ConvertToRaster(svgData []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		slog.Error("PngConverterCommand: failed to parse SVG", "error", err)
		return nil, fmt.Errorf("%w: failed to parse SVG: %v", ErrImageDecode, err)
	}

	w, h, source := c.svgRenderSize(svgData, icon)
	if w <= 0 || h <= 0 {
		slog.Error("PngConverterCommand: SVG has no usable size and no fallback is configured")
		return nil, fmt.Errorf("%w: SVG has no intrinsic size and no fallback size is set", ErrImageDecode)
	}
	slog.Debug("PngConverterCommand: rendering SVG", "width", w, "height", h, "size_source", source)

	icon.SetTarget(0, 0, float64(w), float64(h))
	dst := createTargetCanvas(w, h, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)

	out, err := encodePNG(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	slog.Debug("PngConverterCommand: SVG render complete", "output_size_bytes", len(out))
	return out, nil
}

func (c *PngConverterCommand) svgRenderSize(data []byte, icon *oksvg.SvgIcon) (int, int, string) {
	if w, h, ok := parseSvgExplicitSize(data); ok {
		return w, h, "attributes"
	}
	if icon.ViewBox.W >= 1 && icon.ViewBox.H >= 1 {
		return int(math.Round(icon.ViewBox.W)), int(math.Round(icon.ViewBox.H)), "viewBox"
	}
	return c.svgFallbackWidth, c.svgFallbackHeight, "fallback"
}

// ConvertToRaster renders SVG markup to PNG with the given fallback size.
func ConvertToRaster(svgData []byte, fallbackWidth, fallbackHeight int) ([]byte, error) {
	return NewPngConverterCommandWithFallback(fallbackWidth, fallbackHeight).ConvertToRaster(svgData)
}

var (
	svgOpenTag = regexp.MustCompile(`(?is)<svg\b[^>]*>`)
	// pixel lengths only; percentages and physical units fall through to the viewBox
	svgLengthAttr = regexp.MustCompile(`(?i)\s(width|height)\s*=\s*["']\s*([0-9]*\.?[0-9]+)\s*(px)?\s*["']`)
)

// parseSvgExplicitSize extracts pixel width and height from the root svg tag.
func parseSvgExplicitSize(data []byte) (int, int, bool) {
	tag := svgOpenTag.Find(data[:min(len(data), svgTagScanLength)])
	if tag == nil {
		return 0, 0, false
	}

	var w, h int
	for _, m := range svgLengthAttr.FindAllSubmatch(tag, -1) {
		v, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil || v < 1 {
			continue
		}
		switch string(bytes.ToLower(m[1])) {
		case "width":
			if w == 0 {
				w = int(math.Round(v))
			}
		case "height":
			if h == 0 {
				h = int(math.Round(v))
			}
		}
	}
	return w, h, w > 0 && h > 0
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("PngConverterCommand", NewPngConverterCommand); err != nil {
		panic(fmt.Sprintf("failed to register PngConverterCommand: %v", err))
	}
}
