package postproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/mzyy94/glasscap/internal/reassembly"
)

// testJPEG encodes a w×h image whose top-left quadrant is red and the rest
// blue, so orientation can be checked after rotation.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.RGBA{B: 255, A: 255}
			if x < w/2 && y < h/2 {
				c = color.RGBA{R: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r > 0xC000 && g < 0x4000 && b < 0x4000
}

func TestParseRotation(t *testing.T) {
	tests := []struct {
		in      string
		want    Rotation
		wantErr bool
	}{
		{"", Rotate0, false},
		{"0", Rotate0, false},
		{"90", Rotate90, false},
		{"180", Rotate180, false},
		{" 270 ", Rotate270, false},
		{"90cw", Rotate90, false},
		{"180deg", Rotate180, false},
		{"45", 0, true},
		{"left", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRotation(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRotation(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRotation(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestProcess_Rotate0PassesThrough(t *testing.T) {
	data := testJPEG(t, 40, 20)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewProcessor(Config{Rotation: Rotate0})

	photo, err := p.Process(reassembly.Image{Data: data, Timestamp: ts})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(photo.Data, data) {
		t.Error("Rotate0 should keep the original bytes")
	}
	if photo.Width != 40 || photo.Height != 20 {
		t.Errorf("size = %dx%d, want 40x20", photo.Width, photo.Height)
	}
	if !photo.CapturedAt.Equal(ts) {
		t.Errorf("CapturedAt = %v, want %v", photo.CapturedAt, ts)
	}
	if photo.ID == "" {
		t.Error("ID is empty")
	}
}

func TestProcess_Rotations(t *testing.T) {
	data := testJPEG(t, 40, 20)
	tests := []struct {
		rot          Rotation
		wantW, wantH int
		// expected position of the red quadrant's centre after rotation
		redX, redY int
	}{
		{Rotate90, 20, 40, 15, 10},  // top-left → top-right
		{Rotate180, 40, 20, 30, 15}, // top-left → bottom-right
		{Rotate270, 20, 40, 5, 30},  // top-left → bottom-left
	}
	for _, tt := range tests {
		t.Run(tt.rot.String(), func(t *testing.T) {
			p := NewProcessor(Config{Rotation: tt.rot})
			photo, err := p.Process(reassembly.Image{Data: data, Timestamp: time.Now()})
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if photo.Width != tt.wantW || photo.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", photo.Width, photo.Height, tt.wantW, tt.wantH)
			}
			out, err := jpeg.Decode(bytes.NewReader(photo.Data))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if !isRed(out.At(tt.redX, tt.redY)) {
				t.Errorf("pixel (%d,%d) = %v, want red", tt.redX, tt.redY, out.At(tt.redX, tt.redY))
			}
			if photo.Rotation != tt.rot {
				t.Errorf("Rotation = %v, want %v", photo.Rotation, tt.rot)
			}
		})
	}
}

func TestProcess_InvalidJPEG(t *testing.T) {
	for _, rot := range []Rotation{Rotate0, Rotate180} {
		p := NewProcessor(Config{Rotation: rot})
		if _, err := p.Process(reassembly.Image{Data: []byte("not a jpeg")}); err == nil {
			t.Errorf("rotation %v: expected error for invalid data", rot)
		}
	}
}

func TestSetConfig(t *testing.T) {
	p := NewProcessor(Config{})
	if err := p.SetConfig(Config{Rotation: 45}); err == nil {
		t.Error("expected error for rotation 45")
	}
	if err := p.SetConfig(Config{Rotation: Rotate90, Quality: 101}); err == nil {
		t.Error("expected error for quality 101")
	}
	if err := p.SetConfig(Config{Rotation: Rotate270, Quality: 80}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if got := p.Config(); got.Rotation != Rotate270 || got.Quality != 80 {
		t.Errorf("Config = %+v", got)
	}
}
