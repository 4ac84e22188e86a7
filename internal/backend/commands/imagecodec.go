package commands

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode marks payloads that are corrupt or in an unsupported format.
var ErrImageDecode = errors.New("image decode failed")

// maxDecodePixels bounds the declared size of an image before its pixels are
// decoded.
var maxDecodePixels = 1 << 27

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// decodeImage decodes any registered raster format.
func decodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrImageDecode)
	}
	cfg, _, err := decodeConfig(data)
	if err != nil {
		return nil, "", err
	}
	if cfg.Width > 0 && cfg.Height > maxDecodePixels/cfg.Width {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageDecode, cfg.Width, cfg.Height, maxDecodePixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", ErrImageDecode)
	}
	return img, format, nil
}

// decodeConfig reports the dimensions and format of an encoded payload without decoding pixels.
func decodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return cfg, format, nil
}

func createTargetCanvas(w, h int, bg color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	return dst
}

// encodePNG writes img as PNG. Opaque RGBA images are written as 24-bit RGB and
// two-colour paletted images as 1-bit by the standard encoder.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// rough heuristic: 1 byte per pixel
	buf.Grow(bb.Dx() * bb.Dy())
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
