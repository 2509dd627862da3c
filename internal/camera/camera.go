// Package camera provides the frame sources a session can track: a live
// capture device or an uploaded video/image file.
package camera

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"time"
)

// ErrUnavailable marks a source that could not be acquired.
var ErrUnavailable = errors.New("camera: source unavailable")

// Frame is one decoded video frame.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Sequence  int64
}

// Source produces frames until closed or exhausted. Frames is closed when the
// source stops producing.
type Source interface {
	Open(ctx context.Context) error
	Frames() <-chan Frame
	Close() error
}

// Stats tracks source throughput.
type Stats struct {
	TotalFrames   int64     `json:"totalFrames"`
	DroppedFrames int64     `json:"droppedFrames"`
	LastFrameTime time.Time `json:"lastFrameTime"`
}

// cloneImage copies img so the source may reuse its buffers.
func cloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.RGBA:
		dst := *src
		dst.Pix = make([]byte, len(src.Pix))
		copy(dst.Pix, src.Pix)
		return &dst
	case *image.YCbCr:
		dst := *src
		dst.Y = append([]byte(nil), src.Y...)
		dst.Cb = append([]byte(nil), src.Cb...)
		dst.Cr = append([]byte(nil), src.Cr...)
		return &dst
	default:
		bounds := img.Bounds()
		dst := image.NewRGBA(bounds)
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
		return dst
	}
}
