package commands

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/potd/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

// ScaleParams holds the optional target dimensions of a scale.
//
//   - neither set: the payload is returned untouched
//   - both set: the image is stretched to exactly Width x Height
//   - one set: the other follows the source aspect ratio, rounded down
type ScaleParams struct {
	Width  *int
	Height *int
}

// NewScaleParamsFromMap creates ScaleParams from a generic map
func NewScaleParamsFromMap(params map[string]any) (*ScaleParams, error) {
	width, err := commandstructure.GetOptionalDimensionParam(params, "width")
	if err != nil {
		return nil, err
	}
	height, err := commandstructure.GetOptionalDimensionParam(params, "height")
	if err != nil {
		return nil, err
	}
	return &ScaleParams{Width: width, Height: height}, nil
}

// ScaleCommand resizes an image with a smooth resampling filter.
type ScaleCommand struct {
	name   string
	params *ScaleParams
}

// NewScaleCommand creates a new scale command from configuration parameters
func NewScaleCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewScaleParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &ScaleCommand{
		name:   "ScaleCommand",
		params: typedParams,
	}, nil
}

// NewScaleCommandWithParams creates a scale command from optional dimensions.
func NewScaleCommandWithParams(width, height *int) (*ScaleCommand, error) {
	if width != nil && *width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", *width)
	}
	if height != nil && *height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", *height)
	}
	return &ScaleCommand{
		name:   "ScaleCommand",
		params: &ScaleParams{Width: width, Height: height},
	}, nil
}

// Name returns the command name
func (c *ScaleCommand) Name() string {
	return c.name
}

// Execute scales the image according to the configured dimensions
func (c *ScaleCommand) Execute(imageData []byte) ([]byte, error) {
	if c.params.Width == nil && c.params.Height == nil {
		slog.Debug("ScaleCommand: no dimensions requested; returning input")
		return imageData, nil
	}

	img, format, err := decodeImage(imageData)
	if err != nil {
		slog.Error("ScaleCommand: failed to decode image", "error", err)
		return nil, err
	}

	bounds := img.Bounds()
	targetWidth, targetHeight := computeTargetDimensions(bounds.Dx(), bounds.Dy(), c.params.Width, c.params.Height)
	slog.Debug("ScaleCommand: scaling image",
		"format", format,
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"target_width", targetWidth,
		"target_height", targetHeight)

	dst := createTargetCanvas(targetWidth, targetHeight, white)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	out, err := encodePNG(dst)
	if err != nil {
		slog.Error("ScaleCommand: failed to encode scaled image", "error", err)
		return nil, fmt.Errorf("failed to encode scaled PNG image: %w", err)
	}
	return out, nil
}

// GetParams returns the typed parameters
func (c *ScaleCommand) GetParams() *ScaleParams {
	return c.params
}

// computeTargetDimensions resolves the three-way dimension rule. The derived
// side is rounded down in integer arithmetic but never drops below one pixel.
func computeTargetDimensions(originalWidth, originalHeight int, width, height *int) (int, int) {
	switch {
	case width != nil && height != nil:
		return *width, *height
	case width != nil:
		h := *width * originalHeight / originalWidth
		return *width, max(h, 1)
	case height != nil:
		w := *height * originalWidth / originalHeight
		return max(w, 1), *height
	default:
		return originalWidth, originalHeight
	}
}

// Scale applies the scale operation to an encoded image.
func Scale(imageData []byte, width, height *int) ([]byte, error) {
	command, err := NewScaleCommandWithParams(width, height)
	if err != nil {
		return nil, err
	}
	return command.Execute(imageData)
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("ScaleCommand", NewScaleCommand); err != nil {
		panic(fmt.Sprintf("failed to register ScaleCommand: %v", err))
	}
}
