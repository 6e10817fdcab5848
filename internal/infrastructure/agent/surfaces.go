package agent

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LogNotifier renders user-facing notifications into the structured log.
// Headless agents have no toast surface.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: log.Sugar()}
}

func (n *LogNotifier) Toast(message string) {
	n.logger.Infow("notice", "message", message)
}

func (n *LogNotifier) ToastError(message string) {
	n.logger.Warnw("notice", "message", message)
}

func (n *LogNotifier) SetDegraded(degraded bool, reason string) {
	if degraded {
		n.logger.Warnw("connection degraded", "reason", reason)
		return
	}
	n.logger.Infow("connection restored")
}

// LogRenderSurface stands in for a video element: it records which remote
// tracks arrived so the agent's drain loops can do the actual consuming.
type LogRenderSurface struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	tracks []string
}

func NewLogRenderSurface(log *zap.Logger) *LogRenderSurface {
	return &LogRenderSurface{logger: log.Sugar()}
}

func (s *LogRenderSurface) Attach(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track.ID())
	s.mu.Unlock()
	s.logger.Infow("remote track attached", "id", track.ID(), "kind", track.Kind())
}

func (s *LogRenderSurface) Clear() {
	s.mu.Lock()
	n := len(s.tracks)
	s.tracks = nil
	s.mu.Unlock()
	if n > 0 {
		s.logger.Infow("render surface cleared", "tracks", n)
	}
}

// NopFullscreen satisfies the fullscreen port where no display exists.
type NopFullscreen struct {
	mu       sync.Mutex
	active   bool
	onChange func(active bool)
}

func NewNopFullscreen() *NopFullscreen {
	return &NopFullscreen{}
}

func (f *NopFullscreen) Enter() error { return f.set(true) }
func (f *NopFullscreen) Exit() error  { return f.set(false) }

func (f *NopFullscreen) set(active bool) error {
	f.mu.Lock()
	changed := f.active != active
	f.active = active
	fn := f.onChange
	f.mu.Unlock()
	if changed && fn != nil {
		fn(active)
	}
	return nil
}

func (f *NopFullscreen) OnChange(fn func(active bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}
