package media

import (
	"context"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
)

// ImageMetadata describes a still image. EXIF fields are only set when the
// file carries EXIF data.
type ImageMetadata struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Resolution string `json:"resolution"`
	Format     string `json:"format"`

	DateTaken   *time.Time `json:"date_taken,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
}

// DecodeImage decodes a PNG, JPEG or GIF file into a frame.
// Only the first frame of an animated GIF is used.
func (p *FFmpegProcessor) DecodeImage(ctx context.Context, path string) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return Frame{}, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("decode image %s: %w", path, err)
	}
	return FrameFromImage(img), nil
}

// ReadImageMetadata returns the size and format of an image plus any EXIF
// date, camera and GPS information it carries.
func ReadImageMetadata(path string) (*ImageMetadata, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image config %s: %w", path, err)
	}

	meta := &ImageMetadata{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Resolution: fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		Format:     format,
	}

	if _, err := f.Seek(0, 0); err != nil {
		return meta, nil
	}

	// Most PNGs and GIFs have no EXIF block; that is not an error.
	exifData, err := imagemeta.Decode(f)
	if err != nil {
		return meta, nil
	}

	if lat, lng := exifData.GPS.Latitude(), exifData.GPS.Longitude(); lat != 0 || lng != 0 {
		meta.Latitude = &lat
		meta.Longitude = &lng
	}

	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			taken := t
			meta.DateTaken = &taken
			break
		}
	}

	meta.CameraMake = strings.TrimSpace(exifData.Make)
	meta.CameraModel = strings.TrimSpace(exifData.Model)

	return meta, nil
}
