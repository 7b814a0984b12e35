// Package escl exposes captured photos to network scanning clients through
// the eSCL (AirScan) protocol. The photo queue plays the role of the
// document feeder: it is loaded while there are photos nobody has scanned
// out yet.
package escl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/OpenPrinting/go-mfp/abstract"
	"github.com/OpenPrinting/go-mfp/util/generic"
	"github.com/OpenPrinting/go-mfp/util/uuid"

	"github.com/mzyy94/glasscap/internal/postproc"
)

// DefaultResolution is reported for camera photos, which carry no
// physical scale.
const DefaultResolution = 72

// DefaultQueueCapacity is advertised as the feeder capacity.
const DefaultQueueCapacity = 32

// ErrNoPhotos is returned by Scan when there is nothing to deliver.
var ErrNoPhotos = errors.New("no photos waiting")

// Source is the queue of captured photos.
type Source interface {
	Unread() int
	TakeUnread() []postproc.Photo
	Changed() <-chan struct{}
}

// Capturer requests a single shot from the camera.
type Capturer interface {
	Capture(ctx context.Context) error
}

// Options configures an Adapter.
type Options struct {
	Name   string
	Host   string // used to derive a stable device UUID
	Serial string

	// Capture, when set, is asked for a photo if a scan starts with an
	// empty queue. CaptureTimeout bounds the wait for it to arrive.
	Capture        Capturer
	CaptureTimeout time.Duration
}

// Adapter implements abstract.Scanner on top of the photo queue.
type Adapter struct {
	src  Source
	opts Options
	caps *abstract.ScannerCapabilities
}

// NewAdapter creates an eSCL adapter serving photos from src.
func NewAdapter(src Source, opts Options) *Adapter {
	if opts.Name == "" {
		opts.Name = "Glasscap"
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 30 * time.Second
	}
	a := &Adapter{src: src, opts: opts}
	a.caps = a.buildCapabilities()
	return a
}

func (a *Adapter) buildCapabilities() *abstract.ScannerCapabilities {
	profile := abstract.SettingsProfile{
		ColorModes: generic.MakeBitset(abstract.ColorModeColor),
		Depths:     generic.MakeBitset(abstract.ColorDepth8),
		Resolutions: []abstract.Resolution{
			{XResolution: DefaultResolution, YResolution: DefaultResolution},
		},
	}

	feeder := &abstract.InputCapabilities{
		MinWidth:              10 * abstract.Millimeter,
		MaxWidth:              1000 * abstract.Millimeter,
		MinHeight:             10 * abstract.Millimeter,
		MaxHeight:             1000 * abstract.Millimeter,
		MaxOpticalXResolution: DefaultResolution,
		MaxOpticalYResolution: DefaultResolution,
		Intents:               generic.MakeBitset(abstract.IntentPhoto),
		Profiles:              []abstract.SettingsProfile{profile},
	}

	serial := a.opts.Serial
	if serial == "" {
		serial = a.opts.Host
	}

	return &abstract.ScannerCapabilities{
		UUID:            uuid.SHA1(uuid.NameSpaceDNS, "glasscap."+a.opts.Host),
		MakeAndModel:    a.opts.Name,
		Manufacturer:    "Glasscap",
		SerialNumber:    serial,
		DocumentFormats: []string{"image/jpeg", "application/pdf"},
		ADFCapacity:     DefaultQueueCapacity,
		ADFSimplex:      feeder,
	}
}

// Capabilities returns the scanner capabilities.
func (a *Adapter) Capabilities() *abstract.ScannerCapabilities {
	return a.caps
}

// Scan hands out every photo not yet scanned as one document.
func (a *Adapter) Scan(ctx context.Context, req abstract.ScannerRequest) (abstract.Document, error) {
	if err := req.Validate(a.caps); err != nil {
		return nil, err
	}
	return a.document(ctx, req.DocumentFormat, req.Resolution)
}

func (a *Adapter) document(ctx context.Context, format string, res abstract.Resolution) (abstract.Document, error) {
	photos := a.src.TakeUnread()
	if len(photos) == 0 && a.opts.Capture != nil {
		var err error
		photos, err = a.captureOne(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(photos) == 0 {
		return nil, ErrNoPhotos
	}
	slog.Info("scan requested", "photos", len(photos), "format", format)

	if res.IsZero() {
		res = abstract.Resolution{XResolution: DefaultResolution, YResolution: DefaultResolution}
	}
	pages := make([][]byte, len(photos))
	for i, p := range photos {
		pages[i] = p.Data
	}
	doc := &jpegDocument{res: res, pages: pages}

	if format != "" && format != "image/jpeg" {
		return abstract.NewFilter(doc, abstract.FilterOptions{
			OutputFormat: format,
		}), nil
	}
	return doc, nil
}

func (a *Adapter) captureOne(ctx context.Context) ([]postproc.Photo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CaptureTimeout)
	defer cancel()

	changed := a.src.Changed()
	if err := a.opts.Capture.Capture(ctx); err != nil {
		return nil, err
	}
	slog.Info("feeder empty, waiting for a capture", "timeout", a.opts.CaptureTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ErrNoPhotos
		case <-changed:
			changed = a.src.Changed()
			if photos := a.src.TakeUnread(); len(photos) > 0 {
				return photos, nil
			}
		}
	}
}

// CheckADFStatus reports whether photos are waiting.
func (a *Adapter) CheckADFStatus() (bool, error) {
	return a.src.Unread() > 0, nil
}

// Close implements abstract.Scanner.
func (a *Adapter) Close() error { return nil }

// --------------------------------------------------------------------------
// Document / DocumentFile implementation for JPEG photos
// --------------------------------------------------------------------------

type jpegDocument struct {
	res   abstract.Resolution
	pages [][]byte
	idx   int
}

func (d *jpegDocument) Resolution() abstract.Resolution { return d.res }

func (d *jpegDocument) Next() (abstract.DocumentFile, error) {
	if d.idx >= len(d.pages) {
		return nil, io.EOF
	}
	f := &jpegFile{Reader: bytes.NewReader(d.pages[d.idx])}
	d.idx++
	return f, nil
}

func (d *jpegDocument) Close() error { return nil }

type jpegFile struct {
	*bytes.Reader
}

func (f *jpegFile) Format() string { return "image/jpeg" }
