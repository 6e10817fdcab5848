package ports

import (
	"context"

	"redlive/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// LocalTrack is one live media track from a capture source. Stop releases
// the underlying device; OnEnded fires when the OS terminates the track out
// of band (for example the user revoking screen share from OS chrome).
type LocalTrack interface {
	TrackLocal() webrtc.TrackLocal
	Kind() webrtc.RTPCodecType
	OnEnded(fn func())
	Stop() error
}

// MediaDevices acquires tracks from the platform. Implementations surface
// domain.ErrPermissionDenied, domain.ErrDeviceUnavailable and
// domain.ErrUserCancelled so callers can react without string matching.
type MediaDevices interface {
	OpenCamera(ctx context.Context, c domain.CaptureConstraints) ([]LocalTrack, error)
	OpenScreen(ctx context.Context, c domain.CaptureConstraints) ([]LocalTrack, error)
	OpenMicrophone(ctx context.Context) (LocalTrack, error)
}

// RenderSurface is where a viewer's remote media ends up. The placeholder
// tracks used to originate a call are never attached here.
type RenderSurface interface {
	Attach(track *webrtc.TrackRemote)
	Clear()
}

// SignalEnvelope is one rendezvous signal between two peers. Exactly one of
// SDP, Candidate or Reject is set.
type SignalEnvelope struct {
	From         domain.PeerID
	To           domain.PeerID
	ConnectionID string
	SDP          *webrtc.SessionDescription
	Candidate    *webrtc.ICECandidateInit
	Reject       string
}

// Rendezvous is the peer-library identity exchange: the broadcaster
// registers a well-known id derived from the stream id and viewers dial it
// directly. No SDP or ICE travels over the stream's SignalingChannel.
type Rendezvous interface {
	Open(ctx context.Context, self domain.PeerID) error
	Send(env SignalEnvelope) error
	// Recv yields inbound signals in arrival order. The channel closes when
	// the rendezvous connection goes away.
	Recv() <-chan SignalEnvelope
	Close() error
}
