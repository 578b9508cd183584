package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ErrInvalidDimensions is returned when the provided dimensions are not positive.
var ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")

// Frame is one decoded picture stored as packed 8-bit RGB (3 bytes per pixel).
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	return Frame{Width: width, Height: height, Pix: make([]byte, width*height*3)}, nil
}

// Size returns the frame's resolution.
func (f Frame) Size() (int, int) {
	return f.Width, f.Height
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0
}

// FrameFromImage converts any image into an RGB frame, dropping alpha.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	f := Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]byte, b.Dx()*b.Dy()*3)}

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < f.Height; y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := f.Pix[y*f.Width*3:]
			for x := 0; x < f.Width; x++ {
				dst[x*3] = src[x*4]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		}
		return f
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return f
}

// Image returns the frame as an opaque *image.RGBA.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, i := 0, 0; p < len(f.Pix); p, i = p+3, i+4 {
		img.Pix[i] = f.Pix[p]
		img.Pix[i+1] = f.Pix[p+1]
		img.Pix[i+2] = f.Pix[p+2]
		img.Pix[i+3] = 0xff
	}
	return img
}

// Resize scales the frame to exactly width x height (aspect ratio is not kept).
// The frame is returned unchanged when it already has that size.
func Resize(f Frame, width, height int) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	if f.Width == width && f.Height == height {
		return f, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	src := f.Image()
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return FrameFromImage(dst), nil
}
