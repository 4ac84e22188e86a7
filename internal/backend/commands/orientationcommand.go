package commands

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/jo-hoe/potd/internal/backend/commandstructure"
)

const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// OrientationParams represents typed parameters for the orientation command
type OrientationParams struct {
	Orientation string
	Clockwise   bool
}

func NewOrientationParamsFromMap(params map[string]any) (*OrientationParams, error) {
	orientation := commandstructure.GetStringParam(params, "orientation", OrientationLandscape)
	if orientation != OrientationPortrait && orientation != OrientationLandscape {
		return nil, fmt.Errorf("invalid orientation: %s (must be '%s' or '%s')", orientation, OrientationPortrait, OrientationLandscape)
	}
	return &OrientationParams{
		Orientation: orientation,
		Clockwise:   commandstructure.GetBoolParam(params, "clockwise", true),
	}, nil
}

// OrientationCommand turns pictures by 90 degrees so they match a display
// mounted in portrait or landscape. Square pictures are left alone.
type OrientationCommand struct {
	name   string
	params *OrientationParams
}

func NewOrientationCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewOrientationParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &OrientationCommand{
		name:   "OrientationCommand",
		params: typedParams,
	}, nil
}

func (c *OrientationCommand) Name() string {
	return c.name
}

func (c *OrientationCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	portrait := h > w
	if w == h || portrait == (c.params.Orientation == OrientationPortrait) {
		slog.Debug("OrientationCommand: no rotation needed", "width", w, "height", h, "orientation", c.params.Orientation)
		return imageData, nil
	}

	slog.Debug("OrientationCommand: rotating image", "width", w, "height", h, "clockwise", c.params.Clockwise)
	return encodePNG(rotate90(img, c.params.Clockwise))
}

func rotate90(img image.Image, clockwise bool) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := range h {
		for x := range w {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if clockwise {
				dst.Set(h-1-y, x, c)
			} else {
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("OrientationCommand", NewOrientationCommand); err != nil {
		panic(fmt.Sprintf("failed to register OrientationCommand: %v", err))
	}
}
