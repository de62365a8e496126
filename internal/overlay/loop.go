package overlay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultFrameInterval is the fallback sampling cadence. The reference
// overlay is vsync-gated; without a display we tick once per second.
const DefaultFrameInterval = time.Second

// Sampler is the metrics collector as seen by the frame loop: refresh once,
// then read the latest values. Update and the accessors run on the loop's
// tick, never concurrently.
type Sampler interface {
	Update()
	GetCpuLoad() float64
	GetMemoryUsage() float64
	GetDiskUsage() float64
}

// Loop polls the sampler once per frame and hands each frame to the
// renderer. Sampling and rendering share the tick: a slow query stalls the
// frame, never a background goroutine.
type Loop struct {
	sampler  Sampler
	renderer Renderer
	history  *History
	interval time.Duration
	logger   *zap.Logger
}

// NewLoop creates a frame loop. A non-positive interval falls back to
// DefaultFrameInterval; a nil history gets the default capacity.
func NewLoop(sampler Sampler, renderer Renderer, history *History, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Loop{
		sampler:  sampler,
		renderer: renderer,
		history:  history,
		interval: interval,
		logger:   logger,
	}
}

// Run renders an initial frame, then one frame per tick until the context is
// cancelled. Renderer errors are logged and never stop sampling.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("overlay loop running", zap.Duration("frame_interval", l.interval))

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("overlay loop stopped")
			return nil
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick samples and renders one frame.
func (l *Loop) tick() {
	l.sampler.Update()
	l.history.Push(l.sampler.GetCpuLoad())

	frame := Frame{
		CPU:        l.sampler.GetCpuLoad(),
		Memory:     l.sampler.GetMemoryUsage(),
		Disk:       l.sampler.GetDiskUsage(),
		CPUHistory: l.history.Values(),
	}
	if err := l.renderer.RenderFrame(frame); err != nil {
		l.logger.Warn("render frame failed", zap.Error(err))
	}
}
