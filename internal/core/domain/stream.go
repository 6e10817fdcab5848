package domain

type StreamID string
type PeerID string
type UserID string

// StreamStatus is owned by the backend; the client only observes it.
type StreamStatus string

const (
	StreamIdle  StreamStatus = "idle"
	StreamLive  StreamStatus = "live"
	StreamEnded StreamStatus = "ended"
)

// CanTransitionTo enforces the idle -> live -> ended lifecycle. Ended is
// terminal; a stream id is never resurrected.
func (s StreamStatus) CanTransitionTo(next StreamStatus) bool {
	switch s {
	case StreamIdle:
		return next == StreamLive
	case StreamLive:
		return next == StreamEnded
	default:
		return false
	}
}

// Stream is the client's read-through cached copy of the backend record,
// held for the session's lifetime.
type Stream struct {
	ID           StreamID     `json:"id"`
	Title        string       `json:"title"`
	Status       StreamStatus `json:"status"`
	StreamerID   UserID       `json:"streamer"`
	StreamerName string       `json:"streamer_username"`
	ViewerCount  int          `json:"viewers_count"`
}

// BroadcasterPeerID derives the well-known rendezvous identity viewers dial.
func BroadcasterPeerID(streamID StreamID) PeerID {
	return PeerID("streamer-" + string(streamID))
}
