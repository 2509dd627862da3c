package capture

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Encoder turns frames into small JPEG snapshots.
type Encoder struct {
	// Width of the snapshot; height follows the aspect ratio. 0 keeps the
	// source size.
	Width   int
	Quality int
}

// NewEncoder returns an encoder with the given target width and JPEG quality.
func NewEncoder(width, quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	return &Encoder{Width: width, Quality: quality}
}

// Encode downscales img and encodes it as JPEG.
func (e *Encoder) Encode(img image.Image, ts time.Time) (Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return Image{}, fmt.Errorf("convert snapshot: %w", err)
	}
	defer mat.Close()

	w, h := mat.Cols(), mat.Rows()
	if w == 0 || h == 0 {
		return Image{}, fmt.Errorf("empty frame")
	}

	if e.Width > 0 && w > e.Width {
		nh := h * e.Width / w
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(e.Width, nh), 0, 0, gocv.InterpolationArea)
		return e.encode(resized, e.Width, nh, ts)
	}
	return e.encode(mat, w, h, ts)
}

func (e *Encoder) encode(mat gocv.Mat, w, h int, ts time.Time) (Image, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), e.Quality})
	if err != nil {
		return Image{}, fmt.Errorf("encode snapshot: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return Image{Timestamp: ts, Data: data, Width: w, Height: h}, nil
}
