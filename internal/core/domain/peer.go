package domain

import "time"

// PeerRole describes which side originated the link.
type PeerRole string

const (
	RoleOfferer  PeerRole = "offerer"
	RoleAnswerer PeerRole = "answerer"
)

// MediaDirection describes which way media flows on a link.
type MediaDirection string

const (
	DirectionSend    MediaDirection = "send"
	DirectionReceive MediaDirection = "receive"
)

// LinkState is the lifecycle of one peer connection.
type LinkState string

const (
	LinkConnecting LinkState = "connecting"
	LinkConnected  LinkState = "connected"
	LinkClosed     LinkState = "closed"
)

// PeerLink is one WebRTC connection. The broadcaster's hub owns one
// answerer/send link per viewer; a viewer owns exactly one offerer/receive
// link to the broadcaster.
type PeerLink struct {
	RemotePeerID PeerID
	Role         PeerRole
	Direction    MediaDirection
	State        LinkState
	OpenedAt     time.Time
	Stats        LinkStats
}

// LinkStats carries quality figures extracted from RTCP receiver reports.
type LinkStats struct {
	Timestamp  time.Time
	PacketLoss float64
	Jitter     time.Duration
	RTT        time.Duration
}
