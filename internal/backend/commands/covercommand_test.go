package commands

import (
	"errors"
	"image/color"
	"testing"
)

func TestNewCoverParamsFromMap(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"width": 800, "height": 480}, false},
		{"missing height", map[string]any{"width": 800}, true},
		{"zero width", map[string]any{"width": 0, "height": 480}, true},
		{"negative height", map[string]any{"width": 800, "height": -5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoverParamsFromMap(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCoverFitCenter_OutputAlwaysTargetSize(t *testing.T) {
	sources := []struct {
		name string
		w, h int
	}{
		{"wide", 1600, 600},
		{"tall", 300, 900},
		{"same aspect", 400, 240},
		{"smaller than target", 40, 30},
		{"odd ratio", 333, 777},
		{"single pixel", 1, 1},
	}

	for _, src := range sources {
		t.Run(src.name, func(t *testing.T) {
			out, err := CoverFitCenter(createTestImage(src.w, src.h), 800, 480)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			img := decodePNGForTest(t, out)
			if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 480 {
				t.Errorf("got %v, want 800x480", img.Bounds())
			}
		})
	}
}

func TestComputeCoverLayout(t *testing.T) {
	tests := []struct {
		name                       string
		ow, oh, tw, th             int
		wantW, wantH, wantX, wantY int
	}{
		{"wide source crops sides", 1600, 600, 800, 480, 1280, 480, -240, 0},
		{"tall source crops top and bottom", 400, 800, 800, 480, 800, 1600, 0, -560},
		{"exact aspect", 400, 240, 800, 480, 800, 480, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, x, y := computeCoverLayout(tt.ow, tt.oh, tt.tw, tt.th)
			if w != tt.wantW || h != tt.wantH || x != tt.wantX || y != tt.wantY {
				t.Errorf("got (%d,%d,%d,%d), want (%d,%d,%d,%d)", w, h, x, y, tt.wantW, tt.wantH, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestComputeCoverLayout_NeverSmallerThanTarget(t *testing.T) {
	for ow := 1; ow < 60; ow += 7 {
		for oh := 1; oh < 60; oh += 5 {
			w, h, x, y := computeCoverLayout(ow, oh, 800, 480)
			if w < 800 || h < 480 {
				t.Fatalf("%dx%d: scaled %dx%d is smaller than target", ow, oh, w, h)
			}
			if x > 0 || y > 0 {
				t.Fatalf("%dx%d: offsets (%d,%d) must not be positive", ow, oh, x, y)
			}
		}
	}
}

func TestCoverFitCenter_NoBackgroundVisible(t *testing.T) {
	black := createUniformImage(30, 90, color.Black)
	out, err := CoverFitCenter(black, 120, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := decodePNGForTest(t, out)
	for _, p := range [][2]int{{0, 0}, {119, 0}, {0, 59}, {119, 59}, {60, 30}} {
		r, g, b, _ := img.At(p[0], p[1]).RGBA()
		if r>>8 > 16 || g>>8 > 16 || b>>8 > 16 {
			t.Errorf("pixel %v shows background (%d,%d,%d)", p, r>>8, g>>8, b>>8)
		}
	}
}

func TestCoverFitCenter_InvalidImage(t *testing.T) {
	if _, err := CoverFitCenter([]byte{0x00, 0x01}, 800, 480); !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}
