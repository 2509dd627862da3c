package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FileSource replays an uploaded video file frame by frame. Frame timestamps
// follow the file's own clock, starting at the time Open is called.
type FileSource struct {
	path   string
	logger *zap.Logger
	frames chan Frame

	mu        sync.Mutex
	capture   *gocv.VideoCapture
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	opened    bool
}

// NewFileSource creates a source for the video at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: zap.L().Named("file-source"),
		frames: make(chan Frame, 2),
		done:   make(chan struct{}),
	}
}

// Open opens the file and starts decoding.
func (fs *FileSource) Open(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.opened {
		return nil
	}

	vc, err := gocv.VideoCaptureFile(fs.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, fs.path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: cannot decode %s", ErrUnavailable, fs.path)
	}
	fs.capture = vc
	fs.opened = true

	readCtx, cancel := context.WithCancel(ctx)
	fs.cancel = cancel
	go fs.decode(readCtx)
	return nil
}

func (fs *FileSource) decode(ctx context.Context) {
	defer close(fs.done)
	defer close(fs.frames)

	mat := gocv.NewMat()
	defer mat.Close()

	fps := fs.capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25
	}
	step := time.Duration(float64(time.Second) / fps)
	origin := time.Now()

	var seq int64
	for {
		if ctx.Err() != nil {
			return
		}
		if ok := fs.capture.Read(&mat); !ok || mat.Empty() {
			fs.logger.Info("End of video", zap.String("path", fs.path), zap.Int64("frames", seq))
			return
		}
		img, err := mat.ToImage()
		if err != nil {
			fs.logger.Debug("frame conversion failed", zap.Error(err))
			continue
		}

		frame := Frame{Image: img, Timestamp: origin.Add(time.Duration(seq) * step), Sequence: seq + 1}
		seq++

		// Files are not live; wait for the consumer instead of dropping.
		select {
		case fs.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Frames returns the frame channel.
func (fs *FileSource) Frames() <-chan Frame {
	return fs.frames
}

// Close stops decoding and releases the capture handle.
func (fs *FileSource) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if !fs.opened {
			close(fs.frames)
			return
		}
		fs.cancel()
		<-fs.done
		err = fs.capture.Close()
	})
	return err
}

// ImageSource yields a single still image, for one-shot analysis.
type ImageSource struct {
	path      string
	frames    chan Frame
	openOnce  sync.Once
	closeOnce sync.Once
}

// NewImageSource creates a source for the image at path.
func NewImageSource(path string) *ImageSource {
	return &ImageSource{path: path, frames: make(chan Frame, 1)}
}

// Open decodes the image and queues it as the only frame.
func (is *ImageSource) Open(context.Context) error {
	var err error
	is.openOnce.Do(func() {
		mat := gocv.IMRead(is.path, gocv.IMReadColor)
		defer mat.Close()
		if mat.Empty() {
			err = fmt.Errorf("%w: cannot read image %s", ErrUnavailable, is.path)
			return
		}
		img, cerr := mat.ToImage()
		if cerr != nil {
			err = fmt.Errorf("decode %s: %w", is.path, cerr)
			return
		}
		is.closeOnce.Do(func() {
			is.frames <- Frame{Image: img, Timestamp: time.Now(), Sequence: 1}
			close(is.frames)
		})
	})
	return err
}

// Frames returns the frame channel.
func (is *ImageSource) Frames() <-chan Frame {
	return is.frames
}

// Close is a no-op once the frame has been produced.
func (is *ImageSource) Close() error {
	is.closeOnce.Do(func() { close(is.frames) })
	return nil
}
