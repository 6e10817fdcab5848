package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"
	"redlive/internal/infrastructure/media"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RejectNotBroadcasting is the reject reason sent to a viewer that dials in
// before the broadcaster has gone live. The viewer keeps waiting and redials
// on the stream-started announcement.
const RejectNotBroadcasting = "NOT_BROADCASTING"

// HubConfig carries the WebRTC transport settings.
type HubConfig struct {
	ICEServers []webrtc.ICEServer
	PortMin    uint16
	PortMax    uint16
}

// Metrics is the subset of the monitoring collector the hub reports to.
type Metrics interface {
	RecordLinkOpened()
	RecordLinkClosed()
	ObserveLinkSetup(d time.Duration)
	RecordMediaBytes(kind string, n int)
}

// Hub keeps the star topology: the broadcaster answers one send link per
// viewer, a viewer owns exactly one receive link to the broadcaster's
// well-known peer id.
type Hub struct {
	cfg        HubConfig
	rendezvous ports.Rendezvous
	metrics    Metrics
	logger     *zap.SugaredLogger

	api *webrtc.API

	mu      sync.Mutex
	self    domain.PeerID
	links   map[domain.PeerID]*link
	gen     int // bumped by CloseAll; in-flight setups re-check before registering
	dialing bool
	closed  bool

	source       func() []ports.LocalTrack
	render       ports.RenderSurface
	onLinkClosed func(remote domain.PeerID, cause error)
}

type link struct {
	remote       domain.PeerID
	connectionID string
	role         domain.PeerRole
	direction    domain.MediaDirection
	pc           *webrtc.PeerConnection
	openedAt     time.Time

	mu           sync.Mutex
	state        domain.LinkState
	stats        domain.LinkStats
	placeholders []ports.LocalTrack
}

func NewHub(cfg HubConfig, rendezvous ports.Rendezvous, metrics Metrics, log *zap.Logger) (*Hub, error) {
	se := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("invalid udp port range: %w", err)
		}
	}

	return &Hub{
		cfg:        cfg,
		rendezvous: rendezvous,
		metrics:    metrics,
		logger:     log.Sugar(),
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		links:      make(map[domain.PeerID]*link),
	}, nil
}

// ServeBroadcast puts the hub in broadcaster mode. The source callback is
// consulted on every inbound offer; returning no tracks rejects the caller
// with RejectNotBroadcasting.
func (h *Hub) ServeBroadcast(source func() []ports.LocalTrack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = source
}

// SetRenderSurface routes remote media on viewer links to the given surface.
func (h *Hub) SetRenderSurface(rs ports.RenderSurface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.render = rs
}

func (h *Hub) OnLinkClosed(fn func(remote domain.PeerID, cause error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLinkClosed = fn
}

// Open registers self with the rendezvous service and starts consuming
// inbound signals.
func (h *Hub) Open(ctx context.Context, self domain.PeerID) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return domain.ErrRendezvousUnavailable
	}
	h.self = self
	h.mu.Unlock()

	if err := h.rendezvous.Open(ctx, self); err != nil {
		return err
	}
	go h.signalLoop()
	return nil
}

func (h *Hub) signalLoop() {
	for env := range h.rendezvous.Recv() {
		switch {
		case env.SDP != nil && env.SDP.Type == webrtc.SDPTypeOffer:
			h.handleOffer(env)
		case env.SDP != nil:
			h.handleAnswer(env)
		case env.Candidate != nil:
			h.handleCandidate(env)
		case env.Reject != "":
			h.handleReject(env)
		}
	}
}

// handleOffer answers one viewer's call with the live capture tracks, or
// rejects it when nothing is being captured.
func (h *Hub) handleOffer(env ports.SignalEnvelope) {
	h.mu.Lock()
	source := h.source
	gen := h.gen
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return
	}
	if source == nil {
		// Viewers never receive offers; drop rather than answer.
		h.logger.Warnw("unexpected inbound offer", "from", env.From)
		return
	}

	tracks := source()
	if len(tracks) == 0 {
		h.logger.Infow("rejecting viewer, not broadcasting", "from", env.From)
		h.rendezvous.Send(ports.SignalEnvelope{
			To:           env.From,
			ConnectionID: env.ConnectionID,
			Reject:       RejectNotBroadcasting,
		})
		return
	}

	l := &link{
		remote:       env.From,
		connectionID: env.ConnectionID,
		role:         domain.RoleAnswerer,
		direction:    domain.DirectionSend,
		openedAt:     time.Now(),
		state:        domain.LinkConnecting,
	}

	pc, err := h.newPeerConnection(l)
	if err != nil {
		h.logger.Errorw("failed to build peer connection", "from", env.From, "error", err)
		return
	}
	l.pc = pc

	for _, t := range tracks {
		sender, err := pc.AddTrack(t.TrackLocal())
		if err != nil {
			h.logger.Errorw("failed to attach track", "from", env.From, "error", err)
			pc.Close()
			return
		}
		go h.senderReportLoop(l, sender)
	}

	if err := pc.SetRemoteDescription(*env.SDP); err != nil {
		h.logger.Errorw("bad remote offer", "from", env.From, "error", err)
		pc.Close()
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return
	}

	if !h.register(l, gen) {
		pc.Close()
		return
	}

	if err := h.rendezvous.Send(ports.SignalEnvelope{
		To:           env.From,
		ConnectionID: env.ConnectionID,
		SDP:          pc.LocalDescription(),
	}); err != nil {
		h.closeLink(l, err)
		return
	}
	h.logger.Infow("answered viewer", "from", env.From, "tracks", len(tracks))
}

// Dial establishes the viewer's single outbound link.
func (h *Hub) Dial(ctx context.Context, remote domain.PeerID) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return domain.ErrRendezvousUnavailable
	}
	if h.dialing || len(h.links) > 0 {
		h.mu.Unlock()
		return domain.ErrAlreadyLinked
	}
	h.dialing = true
	gen := h.gen
	h.mu.Unlock()

	err := h.dial(ctx, remote, gen)

	h.mu.Lock()
	h.dialing = false
	h.mu.Unlock()
	return err
}

func (h *Hub) dial(ctx context.Context, remote domain.PeerID, gen int) error {
	// The transport needs a local stream to originate a call. These tracks
	// are placeholders only and are never rendered on the remote side.
	placeholders, err := media.NewPlaceholderTracks()
	if err != nil {
		return fmt.Errorf("failed to build placeholder tracks: %w", err)
	}

	l := &link{
		remote:       remote,
		connectionID: "mc_" + uuid.NewString(),
		role:         domain.RoleOfferer,
		direction:    domain.DirectionReceive,
		openedAt:     time.Now(),
		state:        domain.LinkConnecting,
		placeholders: placeholders,
	}

	fail := func(err error) error {
		for _, t := range placeholders {
			t.Stop()
		}
		if l.pc != nil {
			l.pc.Close()
		}
		return err
	}

	pc, err := h.newPeerConnection(l)
	if err != nil {
		return fail(fmt.Errorf("failed to build peer connection: %w", err))
	}
	l.pc = pc

	for _, t := range placeholders {
		if _, err := pc.AddTrack(t.TrackLocal()); err != nil {
			return fail(fmt.Errorf("failed to attach placeholder track: %w", err))
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		h.mu.Lock()
		render := h.render
		h.mu.Unlock()
		if render != nil {
			render.Attach(track)
		}
		go h.drainRemoteTrack(track)
		go h.receiverReportLoop(l, receiver, track.Kind())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to apply local offer: %w", err))
	}

	if !h.register(l, gen) {
		return fail(errors.New("session closed during dial"))
	}

	if err := h.rendezvous.Send(ports.SignalEnvelope{
		To:           remote,
		ConnectionID: l.connectionID,
		SDP:          pc.LocalDescription(),
	}); err != nil {
		h.closeLink(l, err)
		return err
	}
	h.logger.Infow("dialed broadcaster", "remote", remote)
	return nil
}

func (h *Hub) handleAnswer(env ports.SignalEnvelope) {
	l := h.lookup(env.From)
	if l == nil {
		h.logger.Debugw("answer for unknown link", "from", env.From)
		return
	}
	if err := l.pc.SetRemoteDescription(*env.SDP); err != nil {
		h.logger.Errorw("bad remote answer", "from", env.From, "error", err)
		h.closeLink(l, err)
	}
}

func (h *Hub) handleCandidate(env ports.SignalEnvelope) {
	l := h.lookup(env.From)
	if l == nil {
		return
	}
	if err := l.pc.AddICECandidate(*env.Candidate); err != nil {
		h.logger.Warnw("failed to add remote candidate", "from", env.From, "error", err)
	}
}

func (h *Hub) handleReject(env ports.SignalEnvelope) {
	l := h.lookup(env.From)
	if l == nil {
		return
	}
	cause := fmt.Errorf("remote peer left: %s", env.Reject)
	if env.Reject == RejectNotBroadcasting {
		cause = domain.ErrNotBroadcasting
	}
	h.logger.Infow("link rejected by remote", "from", env.From, "reason", env.Reject)
	h.closeLink(l, cause)
}

func (h *Hub) newPeerConnection(l *link) (*webrtc.PeerConnection, error) {
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{ICEServers: h.cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := h.rendezvous.Send(ports.SignalEnvelope{
			To:           l.remote,
			ConnectionID: l.connectionID,
			Candidate:    &init,
		}); err != nil {
			h.logger.Warnw("failed to trickle candidate", "remote", l.remote, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.mu.Lock()
			l.state = domain.LinkConnected
			l.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ObserveLinkSetup(time.Since(l.openedAt))
			}
			h.logger.Infow("peer link connected", "remote", l.remote, "role", l.role)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			h.closeLink(l, fmt.Errorf("connection state %s", s))
		}
	})

	return pc, nil
}

// register installs a fully prepared link, replacing any older link to the
// same remote peer. It refuses links prepared before the last CloseAll.
func (h *Hub) register(l *link, gen int) bool {
	h.mu.Lock()
	if h.closed || gen != h.gen {
		h.mu.Unlock()
		return false
	}
	old := h.links[l.remote]
	h.links[l.remote] = l
	h.mu.Unlock()

	if old != nil {
		h.logger.Infow("replacing stale link", "remote", l.remote)
		h.teardown(old)
	}
	if h.metrics != nil {
		h.metrics.RecordLinkOpened()
	}
	return true
}

func (h *Hub) lookup(remote domain.PeerID) *link {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[remote]
}

// closeLink removes the link if it is still registered, tears it down and
// fires the closed callback exactly once.
func (h *Hub) closeLink(l *link, cause error) {
	h.mu.Lock()
	cur, ok := h.links[l.remote]
	if !ok || cur != l {
		h.mu.Unlock()
		return
	}
	delete(h.links, l.remote)
	cb := h.onLinkClosed
	h.mu.Unlock()

	h.teardown(l)
	h.logger.Infow("peer link closed", "remote", l.remote, "cause", cause)
	if cb != nil {
		cb(l.remote, cause)
	}
}

func (h *Hub) teardown(l *link) {
	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = domain.LinkClosed
	placeholders := l.placeholders
	l.placeholders = nil
	l.mu.Unlock()

	l.pc.Close()
	for _, t := range placeholders {
		t.Stop()
	}
	if h.metrics != nil {
		h.metrics.RecordLinkClosed()
	}
}

// CloseAll closes every link and clears the set. Connection attempts that
// were in flight when it ran cannot register afterwards.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.gen++
	links := make([]*link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.links = make(map[domain.PeerID]*link)
	render := h.render
	h.mu.Unlock()

	for _, l := range links {
		h.teardown(l)
	}
	if render != nil {
		render.Clear()
	}
	if len(links) > 0 {
		h.logger.Infow("closed all peer links", "count", len(links))
	}
}

// Close releases the rendezvous registration after closing all links.
func (h *Hub) Close() {
	h.CloseAll()
	h.mu.Lock()
	already := h.closed
	h.closed = true
	h.mu.Unlock()
	if already {
		return
	}
	h.rendezvous.Close()
}

// Links reports a snapshot of the open links.
func (h *Hub) Links() []domain.PeerLink {
	h.mu.Lock()
	links := make([]*link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.mu.Unlock()

	out := make([]domain.PeerLink, 0, len(links))
	for _, l := range links {
		l.mu.Lock()
		out = append(out, domain.PeerLink{
			RemotePeerID: l.remote,
			Role:         l.role,
			Direction:    l.direction,
			State:        l.state,
			OpenedAt:     l.openedAt,
			Stats:        l.stats,
		})
		l.mu.Unlock()
	}
	return out
}

// senderReportLoop consumes RTCP receiver reports coming back from a viewer
// and folds them into the link stats. It also keeps the interceptor chain
// draining.
func (h *Hub) senderReportLoop(l *link, sender *webrtc.RTPSender) {
	clock := rtpClockRate(sender.Track().Kind())
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		h.foldReports(l, pkts, clock)
	}
}

func (h *Hub) receiverReportLoop(l *link, receiver *webrtc.RTPReceiver, kind webrtc.RTPCodecType) {
	clock := rtpClockRate(kind)
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		h.foldReports(l, pkts, clock)
	}
}

// rtpClockRate returns the RTP timestamp clock for the track kind. Opus runs
// at 48 kHz, the video codecs at 90 kHz.
func rtpClockRate(kind webrtc.RTPCodecType) time.Duration {
	if kind == webrtc.RTPCodecTypeAudio {
		return 48000
	}
	return 90000
}

func (h *Hub) foldReports(l *link, pkts []rtcp.Packet, clock time.Duration) {
	for _, p := range pkts {
		rr, ok := p.(*rtcp.ReceiverReport)
		if !ok || len(rr.Reports) == 0 {
			continue
		}
		r := rr.Reports[0]
		l.mu.Lock()
		l.stats = domain.LinkStats{
			Timestamp:  time.Now(),
			PacketLoss: float64(r.FractionLost) / 256,
			// Interarrival jitter is in RTP timestamp units.
			Jitter: time.Duration(r.Jitter) * time.Second / clock,
			RTT:    l.stats.RTT,
		}
		l.mu.Unlock()
	}
}

// drainRemoteTrack keeps the remote track's buffer flowing and feeds the
// received byte counters. The render surface holds its own reference to the
// track for actual playback.
func (h *Hub) drainRemoteTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordMediaBytes(track.Kind().String(), n)
		}
	}
}
