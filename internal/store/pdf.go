package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"

	"github.com/go-pdf/fpdf"

	"github.com/mzyy94/glasscap/internal/postproc"
)

// DefaultDPI sizes pages for JPEGs that carry no JFIF density.
const DefaultDPI = 72

// WritePDF renders photos into a PDF file, one page per photo.
func WritePDF(photos []postproc.Photo, outputPath string) error {
	data, err := GeneratePDF(photos)
	if err != nil {
		return err
	}
	tmp := outputPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, outputPath)
}

// GeneratePDF renders photos into a PDF in memory. Each page matches the
// photo's physical size as given by its pixel dimensions and density.
func GeneratePDF(photos []postproc.Photo) ([]byte, error) {
	if len(photos) == 0 {
		return nil, fmt.Errorf("no photos to write")
	}

	pdf := fpdf.New("P", "mm", "", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("glasscap", true)

	for i, p := range photos {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
		if err != nil {
			return nil, fmt.Errorf("decode photo %s config: %w", p.ID, err)
		}
		dpi := detectJPEGDPI(p.Data)
		if dpi <= 0 {
			dpi = DefaultDPI
		}
		widthMM := float64(cfg.Width) / float64(dpi) * 25.4
		heightMM := float64(cfg.Height) / float64(dpi) * 25.4

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: widthMM, Ht: heightMM})

		name := fmt.Sprintf("photo%d", i)
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPEG"}, bytes.NewReader(p.Data))
		pdf.ImageOptions(name, 0, 0, widthMM, heightMM, false, fpdf.ImageOptions{}, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("generate PDF: %w", err)
	}
	return out.Bytes(), nil
}

// detectJPEGDPI reads the horizontal density from a JFIF APP0 segment.
// Returns 0 if absent or given as an aspect ratio only.
func detectJPEGDPI(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0
	}
	i := 2
	for i+4 < len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if marker == 0xDA { // start of scan, no more headers
			break
		}
		if marker == 0xE0 && segLen >= 14 {
			seg := data[i+4:]
			if len(seg) >= 10 && string(seg[0:5]) == "JFIF\x00" {
				xd := int(binary.BigEndian.Uint16(seg[8:10]))
				switch seg[7] {
				case 1: // dots per inch
					return xd
				case 2: // dots per cm
					return int(float64(xd) * 2.54)
				}
			}
		}
		i += 2 + segLen
	}
	return 0
}
