package media

import (
	"context"
	"sync"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"go.uber.org/zap"
)

// Manager owns the exclusive local capture source. At most one non-none kind
// is active at a time; starting one kind while the other is live is rejected
// rather than silently overridden.
type Manager struct {
	devices ports.MediaDevices
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	kind   domain.CaptureKind
	tracks []ports.LocalTrack

	onSourceEnded func(kind domain.CaptureKind)
}

func NewManager(devices ports.MediaDevices, log *zap.Logger) *Manager {
	return &Manager{
		devices: devices,
		logger:  log.Sugar(),
		kind:    domain.CaptureNone,
	}
}

func (m *Manager) StartCamera(ctx context.Context, c domain.CaptureConstraints) error {
	m.mu.Lock()
	if m.kind != domain.CaptureNone {
		m.mu.Unlock()
		return domain.ErrCaptureBusy
	}
	m.mu.Unlock()

	tracks, err := m.devices.OpenCamera(ctx, c)
	if err != nil {
		return err
	}

	m.adopt(domain.CaptureCamera, tracks)
	m.logger.Infow("camera capture started", "tracks", len(tracks), "microphone", c.Microphone)
	return nil
}

func (m *Manager) StartScreenShare(ctx context.Context, c domain.CaptureConstraints) error {
	m.mu.Lock()
	if m.kind != domain.CaptureNone {
		m.mu.Unlock()
		return domain.ErrCaptureBusy
	}
	m.mu.Unlock()

	tracks, err := m.devices.OpenScreen(ctx, c)
	if err != nil {
		return err
	}

	// Microphone failure degrades to video-only instead of failing the
	// whole share.
	if c.Microphone {
		mic, micErr := m.devices.OpenMicrophone(ctx)
		if micErr != nil {
			m.logger.Warnw("microphone unavailable, sharing without audio", "error", micErr)
		} else {
			tracks = append(tracks, mic)
		}
	}

	m.adopt(domain.CaptureScreen, tracks)
	m.logger.Infow("screen share started", "tracks", len(tracks))
	return nil
}

// adopt installs the new source and watches every track for out-of-band
// termination (e.g. the user revoking screen share from OS chrome).
func (m *Manager) adopt(kind domain.CaptureKind, tracks []ports.LocalTrack) {
	m.mu.Lock()
	m.kind = kind
	m.tracks = tracks
	m.mu.Unlock()

	for _, t := range tracks {
		t.OnEnded(func() {
			m.handleTrackEnded(kind)
		})
	}
}

func (m *Manager) handleTrackEnded(kind domain.CaptureKind) {
	m.mu.Lock()
	if m.kind != kind {
		// Source already replaced or stopped; stale signal.
		m.mu.Unlock()
		return
	}
	tracks := m.tracks
	m.kind = domain.CaptureNone
	m.tracks = nil
	cb := m.onSourceEnded
	m.mu.Unlock()

	m.logger.Infow("capture source ended out of band", "kind", kind)
	for _, t := range tracks {
		t.Stop()
	}
	if cb != nil {
		cb(kind)
	}
}

// Stop releases all tracks. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	tracks := m.tracks
	kind := m.kind
	m.kind = domain.CaptureNone
	m.tracks = nil
	m.mu.Unlock()

	if kind == domain.CaptureNone {
		return
	}
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			m.logger.Warnw("failed to stop track", "error", err)
		}
	}
	m.logger.Infow("capture stopped", "kind", kind)
}

func (m *Manager) ActiveKind() domain.CaptureKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

func (m *Manager) Tracks() []ports.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.LocalTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *Manager) OnSourceEnded(fn func(kind domain.CaptureKind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSourceEnded = fn
}
