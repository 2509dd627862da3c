package landmark

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Task selects which MediaPipe solution a helper process runs.
type Task string

const (
	TaskPose  Task = "pose"
	TaskFace  Task = "face"
	TaskHands Task = "hands"
)

// ProcessConfig configures a MediaPipe helper process.
type ProcessConfig struct {
	Python        string
	Script        string
	MaxHands      int
	MinConfidence float64
	IdleTimeout   time.Duration
}

// process drives one Python MediaPipe helper over stdin/stdout. Each request
// is a 4-byte big-endian length followed by a JPEG; each reply is one JSON
// line. The process is started lazily and shut down after IdleTimeout.
type process struct {
	task   Task
	config ProcessConfig
	logger *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

type processReply struct {
	Landmarks      [][]Point `json:"landmarks"`
	WorldLandmarks [][]Point `json:"worldLandmarks"`
	Handedness     []string  `json:"handedness"`
	Error          string    `json:"error"`
}

func newProcess(task Task, config ProcessConfig) (*process, error) {
	if config.Script == "" {
		return nil, fmt.Errorf("mediapipe %s: script path is empty", task)
	}
	if _, err := os.Stat(config.Script); err != nil {
		return nil, fmt.Errorf("mediapipe %s: %w", task, err)
	}
	if config.Python == "" {
		config.Python = "python3"
	}
	if config.MaxHands == 0 {
		config.MaxHands = 2
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = 0.5
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 30 * time.Second
	}
	return &process{
		task:   task,
		config: config,
		logger: zap.L().Named("mediapipe-" + string(task)),
	}, nil
}

func (p *process) detect(ctx context.Context, img image.Image) (*processReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	if _, err := p.stdin.Write(length); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := p.stdin.Write(data); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	type readResult struct {
		line string
		err  error
	}
	done := make(chan readResult, 1)
	stdout := p.stdout
	go func() {
		line, err := stdout.ReadString('\n')
		done <- readResult{line: line, err: err}
	}()

	var res readResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The reply stream is now out of step; restart on next use.
		p.shutdown()
		return nil, ctx.Err()
	}
	if res.err != nil {
		p.shutdown()
		return nil, fmt.Errorf("read response: %w", res.err)
	}

	var reply processReply
	if err := json.Unmarshal([]byte(res.line), &reply); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	p.resetIdleTimer()
	return &reply, nil
}

func (p *process) ensureStarted() error {
	if p.started {
		return nil
	}

	p.cmd = exec.Command(p.config.Python, p.config.Script,
		"--task", string(p.task),
		"--max-hands", strconv.Itoa(p.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(p.config.MinConfidence, 'f', 2, 64),
	)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.cmd.Stderr = os.Stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe %s: %w", p.task, err)
	}

	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	p.started = true
	p.logger.Info("MediaPipe helper started", zap.Int("pid", p.cmd.Process.Pid))
	return nil
}

func (p *process) shutdown() error {
	if !p.started {
		return nil
	}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	if p.stdin != nil {
		p.stdin.Close()
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		err = <-waitErr
	}

	p.started = false
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil
	return err
}

func (p *process) resetIdleTimer() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.config.IdleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.shutdown(); err != nil {
			p.logger.Debug("idle shutdown", zap.Error(err))
		}
	})
}

func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown()
}

func encodeJPEG(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// PoseProcess is a PoseDetector backed by a MediaPipe helper.
type PoseProcess struct{ *process }

// NewPoseProcess creates a lazily started pose helper.
func NewPoseProcess(config ProcessConfig) (*PoseProcess, error) {
	p, err := newProcess(TaskPose, config)
	if err != nil {
		return nil, err
	}
	return &PoseProcess{p}, nil
}

func (p *PoseProcess) DetectPose(ctx context.Context, img image.Image) (*PoseResult, error) {
	reply, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return &PoseResult{Landmarks: reply.Landmarks, WorldLandmarks: reply.WorldLandmarks}, nil
}

// FaceProcess is a FaceDetector backed by a MediaPipe helper.
type FaceProcess struct{ *process }

// NewFaceProcess creates a lazily started face-mesh helper.
func NewFaceProcess(config ProcessConfig) (*FaceProcess, error) {
	p, err := newProcess(TaskFace, config)
	if err != nil {
		return nil, err
	}
	return &FaceProcess{p}, nil
}

func (p *FaceProcess) DetectFace(ctx context.Context, img image.Image) (*FaceResult, error) {
	reply, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return &FaceResult{Landmarks: reply.Landmarks}, nil
}

// HandsProcess is a HandDetector backed by a MediaPipe helper.
type HandsProcess struct{ *process }

// NewHandsProcess creates a lazily started hands helper.
func NewHandsProcess(config ProcessConfig) (*HandsProcess, error) {
	p, err := newProcess(TaskHands, config)
	if err != nil {
		return nil, err
	}
	return &HandsProcess{p}, nil
}

func (p *HandsProcess) DetectHands(ctx context.Context, img image.Image) (*HandsResult, error) {
	reply, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return &HandsResult{Landmarks: reply.Landmarks, Handedness: reply.Handedness}, nil
}

// OpenProcesses starts (lazily) whichever helpers can be created and returns
// them as a Source. Helpers that fail to initialize are skipped.
func OpenProcesses(config ProcessConfig) (*Source, error) {
	logger := zap.L().Named("landmark-source")

	var (
		pose  PoseDetector
		face  FaceDetector
		hands HandDetector
	)
	if p, err := NewPoseProcess(config); err != nil {
		logger.Warn("pose detector unavailable", zap.Error(err))
	} else {
		pose = p
	}
	if p, err := NewFaceProcess(config); err != nil {
		logger.Warn("face detector unavailable", zap.Error(err))
	} else {
		face = p
	}
	if p, err := NewHandsProcess(config); err != nil {
		logger.Warn("hand detector unavailable", zap.Error(err))
	} else {
		hands = p
	}
	return NewSource(pose, face, hands)
}
