package postproc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/mzyy94/glasscap/internal/reassembly"
)

// Rotation is a clockwise orientation correction.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation accepts "0", "90", "180", "270" with an optional "cw" or
// "deg" suffix.
func ParseRotation(s string) (Rotation, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "cw")
	v = strings.TrimSuffix(v, "deg")
	switch v {
	case "", "0":
		return Rotate0, nil
	case "90":
		return Rotate90, nil
	case "180":
		return Rotate180, nil
	case "270":
		return Rotate270, nil
	}
	return 0, fmt.Errorf("invalid rotation %q: expected 0, 90, 180 or 270", s)
}

func (r Rotation) String() string { return fmt.Sprintf("%d", int(r)) }

// Valid reports whether r is one of the supported amounts.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// DefaultQuality is the JPEG quality used when re-encoding rotated images.
const DefaultQuality = 90

// Config holds post-processing parameters.
type Config struct {
	Rotation Rotation
	Quality  int // JPEG quality 1..100; 0 = DefaultQuality
}

// Photo is a post-processed image ready for consumers.
type Photo struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Rotation   Rotation  `json:"rotation"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Processor applies orientation correction. Config may be changed while
// the processor is in use.
type Processor struct {
	mu  sync.RWMutex
	cfg Config
}

// NewProcessor creates a Processor with the given config.
func NewProcessor(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// Config returns the current config.
func (p *Processor) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetConfig replaces the config for subsequent images.
func (p *Processor) SetConfig(cfg Config) error {
	if !cfg.Rotation.Valid() {
		return fmt.Errorf("invalid rotation %d", cfg.Rotation)
	}
	if cfg.Quality < 0 || cfg.Quality > 100 {
		return fmt.Errorf("invalid JPEG quality %d", cfg.Quality)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return nil
}

// Process turns a reassembled image into a Photo. Rotate0 keeps the
// original bytes; other rotations decode, rotate and re-encode.
func (p *Processor) Process(img reassembly.Image) (Photo, error) {
	cfg := p.Config()
	photo := Photo{
		ID:         uuid.NewString(),
		Rotation:   cfg.Rotation,
		CapturedAt: img.Timestamp,
	}

	if cfg.Rotation == Rotate0 {
		ic, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
		if err != nil {
			return Photo{}, fmt.Errorf("decode image config: %w", err)
		}
		photo.Data = img.Data
		photo.Width, photo.Height = ic.Width, ic.Height
		return photo, nil
	}

	start := time.Now()
	src, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Photo{}, fmt.Errorf("decode image: %w", err)
	}

	var dst *image.NRGBA
	switch cfg.Rotation {
	case Rotate90:
		dst = imaging.Rotate270(src) // imaging rotates counter-clockwise
	case Rotate180:
		dst = imaging.Rotate180(src)
	case Rotate270:
		dst = imaging.Rotate90(src)
	default:
		return Photo{}, fmt.Errorf("invalid rotation %d", cfg.Rotation)
	}

	quality := cfg.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Photo{}, fmt.Errorf("encode image: %w", err)
	}

	b := dst.Bounds()
	photo.Data = buf.Bytes()
	photo.Width, photo.Height = b.Dx(), b.Dy()
	slog.Debug("image rotated",
		"rotation", cfg.Rotation,
		"in_bytes", len(img.Data),
		"out_bytes", len(photo.Data),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return photo, nil
}
