package media

import (
	"context"
	"sync"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// silentOpusFrame is a single 20ms silent Opus frame.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// blackFrame is a minimal VP8 payload carrying a black keyframe-sized
// placeholder. Receivers treat it as an (undecodable) filler frame; it only
// exists to keep the track flowing, exactly like the original client's
// canvas-captured black frame.
var blackFrame = []byte{
	0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a,
	0x80, 0x02, 0xe0, 0x01, 0x00, 0x00,
}

// SyntheticDevices generates media without hardware: a black video track and
// a silent audio track. It backs the headless agents and doubles as the
// placeholder source a viewer uses to originate a call.
type SyntheticDevices struct{}

func NewSyntheticDevices() *SyntheticDevices {
	return &SyntheticDevices{}
}

func (d *SyntheticDevices) OpenCamera(ctx context.Context, c domain.CaptureConstraints) ([]ports.LocalTrack, error) {
	tracks := []ports.LocalTrack{}
	video, err := newSyntheticVideo(c.FrameRate)
	if err != nil {
		return nil, domain.ErrDeviceUnavailable
	}
	tracks = append(tracks, video)

	if c.Microphone {
		audio, err := d.OpenMicrophone(ctx)
		if err != nil {
			video.Stop()
			return nil, err
		}
		tracks = append(tracks, audio)
	}
	return tracks, nil
}

func (d *SyntheticDevices) OpenScreen(ctx context.Context, c domain.CaptureConstraints) ([]ports.LocalTrack, error) {
	video, err := newSyntheticVideo(c.FrameRate)
	if err != nil {
		return nil, domain.ErrDeviceUnavailable
	}
	return []ports.LocalTrack{video}, nil
}

func (d *SyntheticDevices) OpenMicrophone(ctx context.Context) (ports.LocalTrack, error) {
	audio, err := newSyntheticAudio()
	if err != nil {
		return nil, domain.ErrDeviceUnavailable
	}
	return audio, nil
}

// NewPlaceholderTracks builds the silent-audio + black-video pair used to
// originate a call when the transport requires a local stream. Never
// rendered, never unmuted.
func NewPlaceholderTracks() ([]ports.LocalTrack, error) {
	video, err := newSyntheticVideo(5)
	if err != nil {
		return nil, err
	}
	audio, err := newSyntheticAudio()
	if err != nil {
		video.Stop()
		return nil, err
	}
	return []ports.LocalTrack{audio, video}, nil
}

type syntheticTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType

	mu      sync.Mutex
	onEnded []func()

	stopOnce sync.Once
	done     chan struct{}
}

func newSyntheticVideo(frameRate int) (*syntheticTrack, error) {
	if frameRate <= 0 {
		frameRate = 30
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"synthetic-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}

	t := &syntheticTrack{
		track: track,
		kind:  webrtc.RTPCodecTypeVideo,
		done:  make(chan struct{}),
	}
	interval := time.Second / time.Duration(frameRate)
	go t.writeLoop(blackFrame, interval)
	return t, nil
}

func newSyntheticAudio() (*syntheticTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"synthetic-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}

	t := &syntheticTrack{
		track: track,
		kind:  webrtc.RTPCodecTypeAudio,
		done:  make(chan struct{}),
	}
	go t.writeLoop(silentOpusFrame, 20*time.Millisecond)
	return t, nil
}

func (t *syntheticTrack) writeLoop(frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			// Write errors mean no reader is bound yet; keep going.
			t.track.WriteSample(media.Sample{Data: frame, Duration: interval})
		}
	}
}

func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

func (t *syntheticTrack) Kind() webrtc.RTPCodecType {
	return t.kind
}

func (t *syntheticTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *syntheticTrack) Stop() error {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	return nil
}
