package peer

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RendezvousConfig configures the peer identity exchange connection.
type RendezvousConfig struct {
	URL               string // ws(s)://host
	Key               string
	OpenTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// wireMessage is the PeerJS-compatible signaling frame. The broadcaster
// registers under its well-known id; viewers dial that id directly, so no
// SDP or ICE ever crosses the stream's own signaling channel.
type wireMessage struct {
	Type    string       `json:"type"`
	Src     string       `json:"src,omitempty"`
	Dst     string       `json:"dst,omitempty"`
	Payload *wirePayload `json:"payload,omitempty"`
}

type wirePayload struct {
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Type         string                     `json:"type,omitempty"`
	ConnectionID string                     `json:"connectionId,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
}

const (
	wireOpen      = "OPEN"
	wireOffer     = "OFFER"
	wireAnswer    = "ANSWER"
	wireCandidate = "CANDIDATE"
	wireLeave     = "LEAVE"
	wireHeartbeat = "HEARTBEAT"
	wireError     = "ERROR"
	wireIDTaken   = "ID-TAKEN"
)

// Rendezvous speaks the PeerJS wire protocol over its own websocket.
type Rendezvous struct {
	cfg    RendezvousConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	self    domain.PeerID
	closed  bool

	opened chan struct{}
	recv   chan ports.SignalEnvelope
	done   chan struct{}
}

func NewRendezvous(cfg RendezvousConfig, log *zap.Logger) *Rendezvous {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Rendezvous{
		cfg:    cfg,
		logger: log.Sugar(),
		opened: make(chan struct{}),
		recv:   make(chan ports.SignalEnvelope, 32),
		done:   make(chan struct{}),
	}
}

// Open registers self with the rendezvous server and starts the read and
// heartbeat loops. It returns once the server acknowledges the id.
func (r *Rendezvous) Open(ctx context.Context, self domain.PeerID) error {
	endpoint := fmt.Sprintf("%s/peerjs?key=%s&id=%s&token=%s",
		r.cfg.URL, url.QueryEscape(r.cfg.Key), url.QueryEscape(string(self)), uuid.NewString())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRendezvousUnavailable, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.self = self
	r.mu.Unlock()

	go r.readLoop(conn)
	go r.heartbeatLoop(conn)

	select {
	case <-r.opened:
		r.logger.Infow("rendezvous registered", "peer_id", self)
		return nil
	case <-r.done:
		return domain.ErrRendezvousUnavailable
	case <-time.After(r.cfg.OpenTimeout):
		r.Close()
		return fmt.Errorf("%w: open not acknowledged", domain.ErrRendezvousUnavailable)
	case <-ctx.Done():
		r.Close()
		return ctx.Err()
	}
}

func (r *Rendezvous) readLoop(conn *websocket.Conn) {
	defer close(r.recv)
	openSeen := false

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.logger.Warnw("rendezvous connection lost", "error", err)
				r.markDone()
			}
			return
		}

		switch msg.Type {
		case wireOpen:
			if !openSeen {
				openSeen = true
				close(r.opened)
			}
		case wireOffer, wireAnswer, wireCandidate, wireLeave:
			env := ports.SignalEnvelope{
				From: domain.PeerID(msg.Src),
				To:   r.self,
			}
			if msg.Payload != nil {
				env.ConnectionID = msg.Payload.ConnectionID
				env.SDP = msg.Payload.SDP
				env.Candidate = msg.Payload.Candidate
				env.Reject = msg.Payload.Reason
			}
			if msg.Type == wireLeave && env.Reject == "" {
				env.Reject = "LEAVE"
			}
			select {
			case r.recv <- env:
			case <-r.done:
				return
			}
		case wireIDTaken, wireError:
			r.logger.Warnw("rendezvous server error", "type", msg.Type)
			r.markDone()
			return
		default:
			// Protocol chatter we do not care about.
		}
	}
}

func (r *Rendezvous) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			err := conn.WriteJSON(wireMessage{Type: wireHeartbeat})
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send routes one signal to its destination peer.
func (r *Rendezvous) Send(env ports.SignalEnvelope) error {
	r.mu.Lock()
	conn := r.conn
	closed := r.closed
	r.mu.Unlock()
	if closed || conn == nil {
		return domain.ErrRendezvousUnavailable
	}

	msg := wireMessage{Dst: string(env.To), Payload: &wirePayload{ConnectionID: env.ConnectionID}}
	switch {
	case env.SDP != nil && env.SDP.Type == webrtc.SDPTypeOffer:
		msg.Type = wireOffer
		msg.Payload.SDP = env.SDP
		msg.Payload.Type = "media"
	case env.SDP != nil:
		msg.Type = wireAnswer
		msg.Payload.SDP = env.SDP
		msg.Payload.Type = "media"
	case env.Candidate != nil:
		msg.Type = wireCandidate
		msg.Payload.Candidate = env.Candidate
	case env.Reject != "":
		msg.Type = wireLeave
		msg.Payload.Reason = env.Reject
	default:
		return fmt.Errorf("empty signal envelope")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("rendezvous send failed: %w", err)
	}
	return nil
}

// Recv yields inbound signals in arrival order.
func (r *Rendezvous) Recv() <-chan ports.SignalEnvelope {
	return r.recv
}

func (r *Rendezvous) markDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// Close tears down the rendezvous connection.
func (r *Rendezvous) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
