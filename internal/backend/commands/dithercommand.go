package commands

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math/rand/v2"

	"github.com/jo-hoe/potd/internal/backend/commandstructure"
)

const (
	defaultDitherThreshold = 128
	defaultNoiseAmplitude  = 5
)

var monochromePalette = color.Palette{color.Black, color.White}

// DitherParams represents typed parameters for dither command
type DitherParams struct {
	Threshold float32 // luma at or above becomes white
	// NoiseAmplitude is the maximum deviation of the uniform noise added to each
	// luma sample before diffusion. Zero disables noise.
	NoiseAmplitude float32
}

// NewDitherParamsFromMap creates DitherParams from a generic map
func NewDitherParamsFromMap(params map[string]any) (*DitherParams, error) {
	threshold := commandstructure.GetFloatParam(params, "threshold", defaultDitherThreshold)
	if threshold <= 0 || threshold >= 255 {
		return nil, fmt.Errorf("threshold must be between 0 and 255 (exclusive), got %v", threshold)
	}
	noise := commandstructure.GetFloatParam(params, "noise", defaultNoiseAmplitude)
	if noise < 0 || noise > 64 {
		return nil, fmt.Errorf("noise must be between 0 and 64, got %v", noise)
	}
	return &DitherParams{
		Threshold:      float32(threshold),
		NoiseAmplitude: float32(noise),
	}, nil
}

// DitherCommand converts an image to strict black and white with
// Floyd-Steinberg error diffusion.
type DitherCommand struct {
	name   string
	params *DitherParams
	noise  func() float32
}

// NewDitherCommand creates a new dither command from configuration parameters
func NewDitherCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewDitherParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &DitherCommand{
		name:   "DitherCommand",
		params: typedParams,
		noise:  rand.Float32,
	}, nil
}

// Name returns the command name
func (c *DitherCommand) Name() string {
	return c.name
}

// Execute dithers the image into a 1-bit PNG
func (c *DitherCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := decodeImage(imageData)
	if err != nil {
		slog.Error("DitherCommand: failed to decode image", "error", err)
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	slog.Debug("DitherCommand: dithering",
		"width", w,
		"height", h,
		"threshold", c.params.Threshold,
		"noise_amplitude", c.params.NoiseAmplitude)

	lum := c.lumaWithNoise(img)
	out := diffuse(lum, w, h, c.params.Threshold)

	encoded, err := encodePNG(out)
	if err != nil {
		slog.Error("DitherCommand: failed to encode dithered image", "error", err)
		return nil, fmt.Errorf("failed to encode dithered PNG image: %w", err)
	}
	slog.Debug("DitherCommand: dithering complete", "output_size_bytes", len(encoded))
	return encoded, nil
}

// GetParams returns the typed parameters
func (c *DitherCommand) GetParams() *DitherParams {
	return c.params
}

// lumaWithNoise flattens img onto white and returns row-major luma samples in
// [0, 255] with the configured noise already applied.
func (c *DitherCommand) lumaWithNoise(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	flat := createTargetCanvas(w, h, white)
	draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)

	lum := make([]float32, w*h)
	amplitude := c.params.NoiseAmplitude
	parallelFor(h, func(y int) {
		row := flat.Pix[y*flat.Stride : y*flat.Stride+w*4]
		for x := range w {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			v := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
			if amplitude > 0 {
				v += (c.noise()*2 - 1) * amplitude
			}
			lum[y*w+x] = min(max(v, 0), 255)
		}
	})
	return lum
}

// diffuse quantizes lum in a single forward raster pass and spreads each
// pixel's error to its unvisited neighbours (7/16, 3/16, 5/16, 1/16).
func diffuse(lum []float32, w, h int, threshold float32) *image.Paletted {
	out := image.NewPaletted(image.Rect(0, 0, w, h), monochromePalette)
	for y := range h {
		for x := range w {
			i := y*w + x
			old := lum[i]
			var quantized float32
			if old >= threshold {
				quantized = 255
				out.Pix[y*out.Stride+x] = 1
			}
			e := old - quantized

			if x+1 < w {
				lum[i+1] += e * 7 / 16
			}
			if y+1 < h {
				if x > 0 {
					lum[i+w-1] += e * 3 / 16
				}
				lum[i+w] += e * 5 / 16
				if x+1 < w {
					lum[i+w+1] += e * 1 / 16
				}
			}
		}
	}
	return out
}

// Dither applies the default dither operation to an encoded image.
func Dither(imageData []byte) ([]byte, error) {
	command, err := NewDitherCommand(map[string]any{})
	if err != nil {
		return nil, err
	}
	return command.Execute(imageData)
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("DitherCommand", NewDitherCommand); err != nil {
		panic(fmt.Sprintf("failed to register DitherCommand: %v", err))
	}
}
