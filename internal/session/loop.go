package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/camera"
	"github.com/mikeyg42/bodytrack/internal/landmark"
	"github.com/mikeyg42/bodytrack/internal/opt"
)

func someBool(v bool) opt.Option[bool] {
	return opt.Some(v)
}

// frameLoop analyzes frames as fast as the source delivers them.
func (c *Controller) frameLoop(ctx context.Context, r *run) {
	defer close(r.sourceDone)
	frames := r.source.Frames()
	for {
		if err := r.gate.wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.logger.Info("Frame source exhausted", zap.String("session", r.id), zap.Int64("frames", r.frames.Load()))
				return
			}
			if r.gate.isPaused() {
				continue
			}
			c.processFrame(ctx, r, f)
		}
	}
}

// processFrame detects, analyzes, records and publishes one frame. The
// snapshot is built completely before it is published.
func (c *Controller) processFrame(ctx context.Context, r *run, f camera.Frame) {
	var raw landmark.RawFrame
	if r.detector != nil {
		dctx, cancel := context.WithTimeout(ctx, c.config.DetectTimeout)
		raw = r.detector.Detect(dctx, f.Image)
		cancel()
	}
	if !c.isCurrent(r.gen) || ctx.Err() != nil {
		return
	}

	a := c.deps.Analyzer.Analyze(raw)

	ts := time.Since(r.origin).Milliseconds()
	if ts <= r.lastTs {
		ts = r.lastTs + 1
	}
	r.lastTs = ts

	r.history.Record(ts, a)
	c.deps.Broadcaster.Publish(a)

	r.frames.Add(1)
	r.lastPose.Store(int32(a.PoseConfidence))
	frame := f
	r.latest.Store(&frame)

	if rec := c.deps.Recorder; rec != nil && rec.Active() {
		clip, err := rec.WriteFrame(f.Image, f.Timestamp)
		if err != nil {
			c.logger.Warn("Failed to record frame", zap.Error(err))
		} else if clip != nil {
			c.logger.Info("Movement clip finished",
				zap.String("clip", clip.ID),
				zap.Duration("duration", clip.Duration()),
				zap.Int("frames", clip.Frames))
		}
	}
}

// captureTask keeps the snapshot ring fresh and starts movement recordings.
func (c *Controller) captureTask(ctx context.Context, r *run) {
	every(ctx, c.config.CaptureInterval, func(now time.Time) {
		if r.gate.isPaused() {
			return
		}
		c.capture(r, now)
	})
}

func (c *Controller) capture(r *run, now time.Time) {
	r.captureMu.Lock()
	if !r.lastCapture.IsZero() && now.Sub(r.lastCapture) < c.config.MinCaptureGap {
		r.captureMu.Unlock()
		return
	}
	r.lastCapture = now
	r.captureMu.Unlock()

	f := r.latest.Load()
	if f == nil {
		return
	}

	if c.deps.Snapshotter != nil {
		img, err := c.deps.Snapshotter.Encode(f.Image, now)
		if err != nil {
			c.logger.Warn("Failed to encode snapshot", zap.Error(err))
		} else {
			r.ring.Add(img)
		}
	}

	rec := c.deps.Recorder
	threshold := c.config.RecordThreshold
	if rec == nil || threshold <= 0 || rec.Active() {
		return
	}
	if int(r.lastPose.Load()) >= threshold {
		id := r.id + "-" + now.Format("150405")
		if err := rec.Start(id, now); err != nil {
			c.logger.Warn("Failed to start movement recording", zap.Error(err))
		}
	}
}

// flushTask periodically uploads the snapshot ring. Uploads run detached
// from the task so Stop never waits on the network; a result arriving after
// Stop is discarded by the generation check.
func (c *Controller) flushTask(ctx context.Context, r *run) {
	every(ctx, c.config.FlushInterval, func(time.Time) {
		if r.gate.isPaused() || r.ring.Len() == 0 {
			return
		}
		if !r.flushing.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer r.flushing.Store(false)
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FlushTimeout)
			defer cancel()

			n, err := c.deps.Exporter.FlushImages(fctx, r.ring, r.meta, func() bool { return c.isCurrent(r.gen) })
			if err != nil {
				c.logger.Warn("Snapshot upload failed, will retry", zap.String("session", r.id), zap.Error(err))
				return
			}
			if n > 0 {
				c.logger.Debug("Snapshots uploaded", zap.String("session", r.id), zap.Int("count", n))
			}
		}()
	})
}
