package commands

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestNewDitherParamsFromMap_Defaults(t *testing.T) {
	params, err := NewDitherParamsFromMap(map[string]any{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if params.Threshold != 128 {
		t.Errorf("expected threshold 128, got %v", params.Threshold)
	}
	if params.NoiseAmplitude != 5 {
		t.Errorf("expected noise amplitude 5, got %v", params.NoiseAmplitude)
	}
}

func TestNewDitherParamsFromMap_Invalid(t *testing.T) {
	tests := []map[string]any{
		{"threshold": 0},
		{"threshold": 300},
		{"noise": -1},
		{"noise": 100.0},
	}
	for _, params := range tests {
		if _, err := NewDitherParamsFromMap(params); err == nil {
			t.Errorf("expected error for %v", params)
		}
	}
}

func assertStrictlyBinary(t *testing.T, img image.Image) (black, total int) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			switch g {
			case 0:
				black++
			case 255:
			default:
				t.Fatalf("pixel (%d,%d) has intermediate value %d", x, y, g)
			}
			total++
		}
	}
	return black, total
}

func TestDither_OutputIsStrictlyBinary(t *testing.T) {
	out, err := Dither(createTestImage(120, 80))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := decodePNGForTest(t, out)
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 80 {
		t.Fatalf("dither must keep dimensions, got %v", img.Bounds())
	}
	if _, ok := img.(*image.Paletted); !ok {
		t.Errorf("expected paletted 1-bit output, got %T", img)
	}
	assertStrictlyBinary(t, img)
}

func TestDither_MidGrayIsRoughlyHalfBlack(t *testing.T) {
	// noise makes the result vary between runs, so check the ratio only
	source := createUniformImage(64, 64, color.RGBA{128, 128, 128, 255})
	for run := 0; run < 3; run++ {
		out, err := Dither(source)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		black, total := assertStrictlyBinary(t, decodePNGForTest(t, out))
		ratio := float64(black) / float64(total)
		if ratio < 0.40 || ratio > 0.60 {
			t.Errorf("run %d: black ratio %.3f outside [0.40, 0.60]", run, ratio)
		}
	}
}

func TestDither_ExtremesStaySolid(t *testing.T) {
	tests := []struct {
		name      string
		fill      color.Color
		wantBlack bool
	}{
		{"white", color.White, false},
		{"black", color.Black, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Dither(createUniformImage(40, 40, tt.fill))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			black, total := assertStrictlyBinary(t, decodePNGForTest(t, out))
			if tt.wantBlack && black != total {
				t.Errorf("expected all black, got %d/%d", black, total)
			}
			if !tt.wantBlack && black != 0 {
				t.Errorf("expected all white, got %d black", black)
			}
		})
	}
}

func TestDither_TransparentPixelsBecomeWhite(t *testing.T) {
	source := mustEncodePNG(image.NewNRGBA(image.Rect(0, 0, 16, 16)))
	out, err := Dither(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	black, _ := assertStrictlyBinary(t, decodePNGForTest(t, out))
	if black != 0 {
		t.Errorf("expected fully transparent image to dither to white, got %d black pixels", black)
	}
}

func TestDiffuse_WithoutNoiseIsDeterministic(t *testing.T) {
	lum := []float32{100, 100, 100, 100}
	out := diffuse(lum, 2, 2, 128)
	// (0,0) 100 -> black, pushes +43.75 right
	// (1,0) 143.75 -> white, pulls the bottom row down
	// (0,1) and (1,1) stay below the threshold
	want := []uint8{0, 1, 0, 0}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Fatalf("pixel %d: got %d, want %d (all %v)", i, out.Pix[i], v, out.Pix)
		}
	}
}

func TestDitherCommand_NoiseIsBoundedAndClamped(t *testing.T) {
	command, err := NewDitherCommand(map[string]any{})
	if err != nil {
		t.Fatalf("failed to create command: %v", err)
	}
	dc := command.(*DitherCommand)

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 253
	}

	tests := []struct {
		name  string
		noise float32
		want  float32
	}{
		{"max positive noise clamps", 0.999, 255},
		{"max negative noise", 0, 248},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc.noise = func() float32 { return tt.noise }
			for i, v := range dc.lumaWithNoise(img) {
				if v > 255 || v < 0 {
					t.Fatalf("sample %d out of range: %v", i, v)
				}
				if d := v - tt.want; d > 0.01 || d < -0.01 {
					t.Fatalf("sample %d: got %v, want %v", i, v, tt.want)
				}
			}
		})
	}
}

func TestDither_InvalidImage(t *testing.T) {
	if _, err := Dither([]byte("definitely not an image")); !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}
