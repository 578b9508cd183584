package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies an input file.
type Kind string

// Supported media kinds.
const (
	KindUnknown Kind = ""
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
)

// ImageExtensions maps accepted still-image extensions to MIME types.
var ImageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// VideoExtensions maps extensions accepted for slideshow assembly to MIME types.
var VideoExtensions = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
}

// captionOnlyVideoExtensions are additionally treated as video when captioning.
var captionOnlyVideoExtensions = map[string]string{
	".mkv": "video/x-matroska",
}

// Classify returns the kind of a file for slideshow assembly, by extension
// (case-insensitive). Unsupported files are KindUnknown.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := VideoExtensions[ext]; ok {
		return KindVideo
	}
	if _, ok := ImageExtensions[ext]; ok {
		return KindImage
	}
	return KindUnknown
}

// ClassifyForCaption returns the kind used when captioning a file.
// Any extension that is not a known video (including .mkv) is treated as an image.
func ClassifyForCaption(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := VideoExtensions[ext]; ok {
		return KindVideo
	}
	if _, ok := captionOnlyVideoExtensions[ext]; ok {
		return KindVideo
	}
	return KindImage
}

// MIMEType returns the MIME type for a file, falling back to
// application/octet-stream for unknown extensions.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for _, m := range []map[string]string{ImageExtensions, VideoExtensions, captionOnlyVideoExtensions} {
		if t, ok := m[ext]; ok {
			return t
		}
	}
	return "application/octet-stream"
}

// Partition splits paths into slideshow images and videos, preserving order.
// Files with unsupported extensions are returned in skipped.
func Partition(paths []string) (images, videos, skipped []string) {
	for _, p := range paths {
		switch Classify(p) {
		case KindImage:
			images = append(images, p)
		case KindVideo:
			videos = append(videos, p)
		default:
			skipped = append(skipped, p)
		}
	}
	return images, videos, skipped
}
