package domain

import (
	"image"
	"time"
)

// Frame is a captured video frame. Consumers receive copies; the pixel
// buffer of a Frame handed out by the capture layer is never written again.
type Frame struct {
	Image      *image.NRGBA
	Seq        uint64
	CapturedAt time.Time
}

func (f Frame) Empty() bool {
	return f.Image == nil
}

func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Clone returns a deep copy of the frame's pixel buffer.
func (f Frame) Clone() Frame {
	if f.Image == nil {
		return f
	}
	pix := make([]uint8, len(f.Image.Pix))
	copy(pix, f.Image.Pix)
	return Frame{
		Image: &image.NRGBA{
			Pix:    pix,
			Stride: f.Image.Stride,
			Rect:   f.Image.Rect,
		},
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
}

// WithImage returns a frame carrying img and the capture metadata of f.
func (f Frame) WithImage(img *image.NRGBA) Frame {
	return Frame{
		Image:      img,
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
}
