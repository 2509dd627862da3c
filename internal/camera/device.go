package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// DeviceConfig selects and sizes the capture device.
type DeviceConfig struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate float64
	Buffer    int
}

// DeviceInfo describes an attached camera.
type DeviceInfo struct {
	DeviceID string
	Label    string
}

// ListDevices returns the video input devices known to the driver.
func ListDevices() []DeviceInfo {
	var out []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			out = append(out, DeviceInfo{DeviceID: d.DeviceID, Label: d.Label})
		}
	}
	return out
}

// DeviceSource reads raw frames from a camera through GetUserMedia.
type DeviceSource struct {
	config DeviceConfig
	logger *zap.Logger

	stream mediadevices.MediaStream
	frames chan Frame

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	closeOnce sync.Once

	totalFrames   atomic.Int64
	droppedFrames atomic.Int64
	lastFrameTime atomic.Value
}

// NewDeviceSource creates an unopened device source.
func NewDeviceSource(config DeviceConfig) *DeviceSource {
	if config.Width == 0 {
		config.Width = 1280
	}
	if config.Height == 0 {
		config.Height = 720
	}
	if config.FrameRate == 0 {
		config.FrameRate = 15
	}
	if config.Buffer == 0 {
		config.Buffer = 2
	}
	ds := &DeviceSource{
		config: config,
		logger: zap.L().Named("camera"),
		frames: make(chan Frame, config.Buffer),
	}
	ds.lastFrameTime.Store(time.Time{})
	return ds
}

// Open acquires the camera and starts reading.
func (ds *DeviceSource) Open(ctx context.Context) error {
	if !ds.isRunning.CompareAndSwap(false, true) {
		return nil
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if ds.config.DeviceID != "" {
				c.DeviceID = prop.String(ds.config.DeviceID)
			}
			c.Width = prop.Int(ds.config.Width)
			c.Height = prop.Int(ds.config.Height)
			c.FrameRate = prop.Float(ds.config.FrameRate)
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		ds.isRunning.Store(false)
		return fmt.Errorf("%w: get user media: %v", ErrUnavailable, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		ds.isRunning.Store(false)
		return fmt.Errorf("%w: no video tracks", ErrUnavailable)
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		ds.isRunning.Store(false)
		return fmt.Errorf("%w: track is %T, not a video track", ErrUnavailable, tracks[0])
	}
	ds.stream = stream

	readCtx, cancel := context.WithCancel(ctx)
	ds.cancel = cancel

	ds.wg.Add(1)
	go ds.readFrames(readCtx, videoTrack)

	ds.logger.Info("Camera opened",
		zap.String("track", videoTrack.ID()),
		zap.Int("width", ds.config.Width),
		zap.Int("height", ds.config.Height))
	return nil
}

func (ds *DeviceSource) readFrames(ctx context.Context, track *mediadevices.VideoTrack) {
	defer ds.wg.Done()
	defer close(ds.frames)

	reader := track.NewReader(false)
	var seq int64

	for {
		if ctx.Err() != nil {
			return
		}

		img, release, err := reader.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ds.logger.Debug("frame read failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		seq++
		frame := Frame{Image: cloneImage(img), Timestamp: time.Now(), Sequence: seq}
		if release != nil {
			release()
		}

		ds.totalFrames.Add(1)
		ds.lastFrameTime.Store(frame.Timestamp)

		// The analysis loop paces itself; stale frames are not worth queuing.
		select {
		case ds.frames <- frame:
		default:
			ds.droppedFrames.Add(1)
		}
	}
}

// Frames returns the frame channel.
func (ds *DeviceSource) Frames() <-chan Frame {
	return ds.frames
}

// Close stops reading and detaches the camera tracks. Safe to call twice.
func (ds *DeviceSource) Close() error {
	ds.closeOnce.Do(func() {
		if !ds.isRunning.Load() {
			close(ds.frames)
			return
		}
		if ds.cancel != nil {
			ds.cancel()
		}
		// Closing the track unblocks a pending Read.
		for _, t := range ds.stream.GetTracks() {
			t.Close()
		}

		done := make(chan struct{})
		go func() {
			ds.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			ds.logger.Warn("camera reader did not stop in time")
		}
		ds.isRunning.Store(false)
		ds.logger.Info("Camera closed",
			zap.Int64("frames", ds.totalFrames.Load()),
			zap.Int64("dropped", ds.droppedFrames.Load()))
	})
	return nil
}

// Stats returns frame counters.
func (ds *DeviceSource) Stats() Stats {
	last, _ := ds.lastFrameTime.Load().(time.Time)
	return Stats{
		TotalFrames:   ds.totalFrames.Load(),
		DroppedFrames: ds.droppedFrames.Load(),
		LastFrameTime: last,
	}
}
