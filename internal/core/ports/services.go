package ports

import (
	"context"

	"redlive/internal/core/domain"
)

// StreamAPI is the REST backend owning stream CRUD and historical comments.
// It is an external collaborator; this client only consumes it.
type StreamAPI interface {
	GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	GetComments(ctx context.Context, id domain.StreamID) ([]*domain.ChatComment, error)
	StartStream(ctx context.Context, id domain.StreamID) error
	EndStream(ctx context.Context, id domain.StreamID) error
}

// SignalingChannel is the single duplex channel per stream session carrying
// presence, chat and lifecycle messages. Implementations own the reconnect
// policy; after exhausting attempts they surface a terminal disconnect
// through SignalingEvents.
type SignalingChannel interface {
	Connect(ctx context.Context, streamID domain.StreamID, authToken string) error
	// Send returns domain.ErrSignalingNotConnected when the socket is not
	// open instead of failing into unrelated call sites.
	Send(msg domain.SignalingMessage) error
	Connected() bool
	// Close tears the socket down and cancels any pending reconnect timer.
	Close()
}

// CaptureManager owns the exclusive local capture source.
type CaptureManager interface {
	StartCamera(ctx context.Context, c domain.CaptureConstraints) error
	StartScreenShare(ctx context.Context, c domain.CaptureConstraints) error
	// Stop releases all tracks. Idempotent.
	Stop()
	ActiveKind() domain.CaptureKind
	Tracks() []LocalTrack
	// OnSourceEnded fires when the OS/browser terminates a track out of
	// band, after the source has transitioned to none.
	OnSourceEnded(fn func(kind domain.CaptureKind))
}

// PeerHub manages the set of peer media links for one session.
type PeerHub interface {
	// Open registers the session's identity with the rendezvous service and
	// starts answering (broadcaster) or accepting signals (viewer).
	Open(ctx context.Context, self domain.PeerID) error
	// Dial establishes the viewer's single outbound link to the
	// broadcaster's well-known peer id. A second call while a link is open
	// returns domain.ErrAlreadyLinked.
	Dial(ctx context.Context, remote domain.PeerID) error
	// CloseAll closes every open link and clears the set. Safe to invoke
	// while a connection attempt is in flight.
	CloseAll()
	// Close releases the rendezvous registration after CloseAll.
	Close()
	Links() []domain.PeerLink
	OnLinkClosed(fn func(remote domain.PeerID, cause error))
}
