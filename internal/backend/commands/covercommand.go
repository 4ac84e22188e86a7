package commands

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/jo-hoe/potd/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

// CoverParams represents typed parameters for the cover command
type CoverParams struct {
	Width  int
	Height int
}

// NewCoverParamsFromMap creates CoverParams from a generic map
func NewCoverParamsFromMap(params map[string]any) (*CoverParams, error) {
	if err := commandstructure.ValidateRequiredParams(params, []string{"width", "height"}); err != nil {
		return nil, err
	}

	width := commandstructure.GetIntParam(params, "width", 0)
	height := commandstructure.GetIntParam(params, "height", 0)
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}
	if height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", height)
	}

	return &CoverParams{Width: width, Height: height}, nil
}

// CoverCommand scales an image so it fills the target canvas completely and
// centers it, cropping whatever overflows.
type CoverCommand struct {
	name   string
	params *CoverParams
}

// NewCoverCommand creates a new cover command from configuration parameters
func NewCoverCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewCoverParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &CoverCommand{
		name:   "CoverCommand",
		params: typedParams,
	}, nil
}

// Name returns the command name
func (c *CoverCommand) Name() string {
	return c.name
}

// Execute cover-fits the image into the configured canvas
func (c *CoverCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := decodeImage(imageData)
	if err != nil {
		slog.Error("CoverCommand: failed to decode image", "error", err)
		return nil, err
	}

	bounds := img.Bounds()
	targetWidth, targetHeight := c.params.Width, c.params.Height
	scaledWidth, scaledHeight, offsetX, offsetY := computeCoverLayout(bounds.Dx(), bounds.Dy(), targetWidth, targetHeight)

	slog.Debug("CoverCommand: placing scaled image",
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"scaled_width", scaledWidth,
		"scaled_height", scaledHeight,
		"offset_x", offsetX,
		"offset_y", offsetY)

	// white shows only if the layout ever leaves a gap
	dst := createTargetCanvas(targetWidth, targetHeight, white)
	placement := image.Rect(offsetX, offsetY, offsetX+scaledWidth, offsetY+scaledHeight)
	xdraw.CatmullRom.Scale(dst, placement, img, bounds, xdraw.Over, nil)

	out, err := encodePNG(dst)
	if err != nil {
		slog.Error("CoverCommand: failed to encode image", "error", err)
		return nil, fmt.Errorf("failed to encode cover PNG image: %w", err)
	}
	return out, nil
}

// GetParams returns the typed parameters
func (c *CoverCommand) GetParams() *CoverParams {
	return c.params
}

// computeCoverLayout scales by the larger axis ratio and centers the result.
// Offsets are zero or negative.
func computeCoverLayout(originalWidth, originalHeight, targetWidth, targetHeight int) (scaledWidth, scaledHeight, offsetX, offsetY int) {
	scale := math.Max(
		float64(targetWidth)/float64(originalWidth),
		float64(targetHeight)/float64(originalHeight),
	)
	// truncation may land a fraction short of the target on the dominant axis
	scaledWidth = max(int(float64(originalWidth)*scale), targetWidth)
	scaledHeight = max(int(float64(originalHeight)*scale), targetHeight)
	offsetX = (targetWidth - scaledWidth) / 2
	offsetY = (targetHeight - scaledHeight) / 2
	return scaledWidth, scaledHeight, offsetX, offsetY
}

// CoverFitCenter applies the cover operation to an encoded image.
func CoverFitCenter(imageData []byte, targetWidth, targetHeight int) ([]byte, error) {
	command, err := NewCoverCommand(map[string]any{"width": targetWidth, "height": targetHeight})
	if err != nil {
		return nil, err
	}
	return command.Execute(imageData)
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("CoverCommand", NewCoverCommand); err != nil {
		panic(fmt.Sprintf("failed to register CoverCommand: %v", err))
	}
}
