package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"
	rlog "redlive/pkg/logger"
	"redlive/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState is the lifecycle of one stream session. Ended is terminal; a
// new session means a new controller.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateConfiguring  SessionState = "configuring"
	StateBroadcasting SessionState = "broadcasting"
	StateWatching     SessionState = "watching"
	StateEnded        SessionState = "ended"
)

// SessionMetrics is the subset of the monitoring collector the controller
// reports to.
type SessionMetrics interface {
	SetViewerCount(count int)
}

// SessionConfig carries the per-session tunables.
type SessionConfig struct {
	Capture domain.CaptureConstraints
}

// SessionSnapshot is a point-in-time view for the status surface.
type SessionSnapshot struct {
	State       SessionState
	StreamID    domain.StreamID
	ViewerCount int
	Degraded    bool
	StartedAt   time.Time
}

// SessionController drives one stream session end to end: backend lookup,
// signaling, capture, peer links and chat. All public methods are safe for
// concurrent use; inbound signaling events are applied in arrival order.
type SessionController struct {
	cfg        SessionConfig
	api        ports.StreamAPI
	channel    ports.SignalingChannel
	capture    ports.CaptureManager
	hub        ports.PeerHub
	chat       *ChatRelay
	notifier   ports.Notifier
	fullscreen ports.FullscreenController
	identity   domain.UserIdentity
	authToken  string
	metrics    SessionMetrics
	logger     *zap.SugaredLogger

	mu          sync.Mutex
	state       SessionState
	gen         int // bumped when the session ends; stale async callbacks check it
	stream      *domain.Stream
	selfPeer    domain.PeerID
	viewerCount int
	viewers     []string
	degraded    bool
	startedAt   time.Time
}

func NewSessionController(
	cfg SessionConfig,
	api ports.StreamAPI,
	channel ports.SignalingChannel,
	capture ports.CaptureManager,
	hub ports.PeerHub,
	chat *ChatRelay,
	notifier ports.Notifier,
	fullscreen ports.FullscreenController,
	identity domain.UserIdentity,
	authToken string,
	metrics SessionMetrics,
	log *zap.Logger,
) *SessionController {
	return &SessionController{
		cfg:        cfg,
		api:        api,
		channel:    channel,
		capture:    capture,
		hub:        hub,
		chat:       chat,
		notifier:   notifier,
		fullscreen: fullscreen,
		identity:   identity,
		authToken:  authToken,
		metrics:    metrics,
		logger:     log.Sugar(),
		state:      StateIdle,
	}
}

// Join loads the stream record and brings up signaling and the rendezvous
// registration. A stream that already ended short-circuits to Ended without
// connecting anything.
func (c *SessionController) Join(ctx context.Context, streamID domain.StreamID) error {
	ctx = rlog.WithStreamID(ctx, string(streamID))
	ctx, span := tracing.TraceSessionOperation(ctx, "join", string(streamID))
	defer span.End()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.mu.Unlock()

	stream, err := c.api.GetStream(ctx, streamID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	if stream.Status == domain.StreamEnded {
		c.mu.Lock()
		c.stream = stream
		c.state = StateEnded
		c.mu.Unlock()
		c.toast("This stream has ended")
		c.logger.Infow("joined an ended stream", "stream_id", streamID)
		return nil
	}

	self := domain.BroadcasterPeerID(streamID)
	if !c.isBroadcasterOf(stream) {
		self = domain.PeerID("viewer-" + uuid.NewString())
	}

	c.mu.Lock()
	c.stream = stream
	c.state = StateConfiguring
	c.selfPeer = self
	c.viewerCount = stream.ViewerCount
	c.startedAt = time.Now()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.chat.SetStreamer(stream.StreamerID)

	c.capture.OnSourceEnded(func(kind domain.CaptureKind) {
		if !c.genValid(gen) {
			return
		}
		c.handleSourceEnded(kind)
	})
	c.hub.OnLinkClosed(func(remote domain.PeerID, cause error) {
		if !c.genValid(gen) {
			return
		}
		c.handleLinkClosed(remote, cause)
	})

	// The channel owns its reconnect policy; an initial failure is not fatal
	// here, it keeps retrying in the background.
	if err := c.channel.Connect(ctx, streamID, c.authToken); err != nil {
		c.logger.Warnw("signaling connect pending", "stream_id", streamID, "error", err)
	}

	if err := c.chat.Preload(ctx, streamID); err != nil {
		c.logger.Warnw("chat history unavailable", "stream_id", streamID, "error", err)
	}

	if err := c.hub.Open(ctx, self); err != nil {
		tracing.RecordError(ctx, err)
		c.toastError("Media connection unavailable")
		return err
	}

	c.logger.Infow("session configured",
		"stream_id", streamID,
		"peer_id", self,
		"broadcaster", c.isBroadcasterOf(stream),
	)
	return nil
}

// StartBroadcast captures the requested source, flips the backend record to
// live and announces it. Only the stream owner may call it.
func (c *SessionController) StartBroadcast(ctx context.Context, kind domain.CaptureKind) error {
	c.mu.Lock()
	stream := c.stream
	if c.state != StateConfiguring {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if c.degraded {
		c.mu.Unlock()
		return domain.ErrSignalingUnavailable
	}
	if !c.isBroadcasterOf(stream) {
		c.mu.Unlock()
		return domain.ErrPermissionDenied
	}
	gen := c.gen
	c.mu.Unlock()

	ctx = rlog.WithStreamID(ctx, string(stream.ID))
	ctx, span := tracing.TraceSessionOperation(ctx, "start_broadcast", string(stream.ID))
	defer span.End()

	var err error
	switch kind {
	case domain.CaptureCamera:
		err = c.capture.StartCamera(ctx, c.cfg.Capture)
	case domain.CaptureScreen:
		err = c.capture.StartScreenShare(ctx, c.cfg.Capture)
	default:
		err = domain.ErrNoActiveSource
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	// A kick or end announcement processed while the capture prompt was up
	// already tore the session down; release what we just re-acquired.
	if !c.genValid(gen) {
		c.capture.Stop()
		return domain.ErrStreamEnded
	}

	if err := c.api.StartStream(ctx, stream.ID); err != nil {
		tracing.RecordError(ctx, err)
		c.capture.Stop()
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConfiguring {
		// The session ended during the backend call. Ended is terminal, so
		// undo the start instead of committing it.
		c.mu.Unlock()
		c.capture.Stop()
		if err := c.api.EndStream(ctx, stream.ID); err != nil {
			c.logger.Errorw("failed to end stream on backend", "stream_id", stream.ID, "error", err)
		}
		return domain.ErrStreamEnded
	}
	c.state = StateBroadcasting
	c.stream.Status = domain.StreamLive
	c.mu.Unlock()

	if err := c.channel.Send(domain.SignalingMessage{Type: domain.MsgStreamStarted}); err != nil {
		// Viewers poll by redialing; a missed announcement delays them but
		// does not break the broadcast.
		c.logger.Warnw("start announcement not sent", "error", err)
	}

	c.toast("You are live")
	c.logger.Infow("broadcast started", "stream_id", stream.ID, "kind", kind)
	return nil
}

// StopBroadcast ends the live broadcast permanently. Capture is released
// before links so viewers see a clean track end, then the backend record and
// the room are told.
func (c *SessionController) StopBroadcast(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateBroadcasting {
		c.mu.Unlock()
		return domain.ErrNotBroadcasting
	}
	stream := c.stream
	c.gen++
	c.mu.Unlock()

	ctx = rlog.WithStreamID(ctx, string(stream.ID))
	ctx, span := tracing.TraceSessionOperation(ctx, "stop_broadcast", string(stream.ID))
	defer span.End()

	c.capture.Stop()
	c.hub.CloseAll()

	if err := c.api.EndStream(ctx, stream.ID); err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to end stream on backend", "stream_id", stream.ID, "error", err)
	}
	if err := c.channel.Send(domain.SignalingMessage{Type: domain.MsgStreamEnded}); err != nil {
		c.logger.Warnw("end announcement not sent", "error", err)
	}

	c.mu.Lock()
	c.state = StateEnded
	c.stream.Status = domain.StreamEnded
	c.mu.Unlock()

	c.logger.Infow("broadcast stopped", "stream_id", stream.ID)
	return nil
}

// Watch puts a viewer session into watching mode and dials the broadcaster
// if the stream is already live. When it is not, the dial happens on the
// stream-started announcement instead.
func (c *SessionController) Watch(ctx context.Context) error {
	c.mu.Lock()
	stream := c.stream
	if c.state != StateConfiguring {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if c.isBroadcasterOf(stream) {
		c.mu.Unlock()
		return domain.ErrPermissionDenied
	}
	c.state = StateWatching
	live := stream.Status == domain.StreamLive
	c.mu.Unlock()

	if !live {
		c.toast("Waiting for the broadcast to start")
		return nil
	}
	return c.dialBroadcaster(ctx)
}

func (c *SessionController) dialBroadcaster(ctx context.Context) error {
	c.mu.Lock()
	streamID := c.stream.ID
	self := c.selfPeer
	c.mu.Unlock()

	ctx = rlog.WithStreamID(ctx, string(streamID))
	ctx = rlog.WithPeerID(ctx, string(self))
	ctx, span := tracing.TracePeerOperation(ctx, "dial", string(domain.BroadcasterPeerID(streamID)))
	defer span.End()

	err := c.hub.Dial(ctx, domain.BroadcasterPeerID(streamID))
	if err != nil && !errors.Is(err, domain.ErrAlreadyLinked) {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("dial failed", "stream_id", streamID, "error", err)
		c.toastError("Could not connect to the broadcast")
		return err
	}
	return nil
}

// SendComment publishes one chat comment.
func (c *SessionController) SendComment(content string) error {
	return c.chat.Send(content)
}

func (c *SessionController) EnterFullscreen() error {
	if c.fullscreen == nil {
		return nil
	}
	return c.fullscreen.Enter()
}

func (c *SessionController) ExitFullscreen() error {
	if c.fullscreen == nil {
		return nil
	}
	return c.fullscreen.Exit()
}

// Leave is the single cleanup path. It runs synchronously, in dependency
// order, and is safe to call from any state and more than once.
func (c *SessionController) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateEnded
		c.mu.Unlock()
		return nil
	}
	wasBroadcasting := c.state == StateBroadcasting
	stream := c.stream
	c.gen++
	c.mu.Unlock()

	ctx = rlog.WithStreamID(ctx, string(stream.ID))
	ctx, span := tracing.TraceSessionOperation(ctx, "leave", string(stream.ID))
	defer span.End()

	c.capture.Stop()
	c.hub.CloseAll()

	if wasBroadcasting {
		if err := c.api.EndStream(ctx, stream.ID); err != nil {
			tracing.RecordError(ctx, err)
			c.logger.Errorw("failed to end stream on backend", "stream_id", stream.ID, "error", err)
		}
		if err := c.channel.Send(domain.SignalingMessage{Type: domain.MsgStreamEnded}); err != nil {
			c.logger.Warnw("end announcement not sent", "error", err)
		}
	}

	c.hub.Close()
	c.channel.Close()

	c.mu.Lock()
	c.state = StateEnded
	if wasBroadcasting {
		c.stream.Status = domain.StreamEnded
	}
	c.mu.Unlock()

	c.logger.Infow("left session", "stream_id", stream.ID)
	return nil
}

// State reports the current session state.
func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stream reports the cached stream record, nil before Join.
func (c *SessionController) Stream() *domain.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Viewers reports the last viewer list received from signaling.
func (c *SessionController) Viewers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.viewers))
	copy(out, c.viewers)
	return out
}

// Snapshot feeds the status surface.
func (c *SessionController) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := SessionSnapshot{
		State:       c.state,
		ViewerCount: c.viewerCount,
		Degraded:    c.degraded,
		StartedAt:   c.startedAt,
	}
	if c.stream != nil {
		snap.StreamID = c.stream.ID
	}
	return snap
}

// --- signaling events ---

func (c *SessionController) OnConnected() {
	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = false
	c.mu.Unlock()

	if wasDegraded && c.notifier != nil {
		c.notifier.SetDegraded(false, "")
	}
}

func (c *SessionController) OnDisconnected(terminal bool) {
	if !terminal {
		c.logger.Warnw("signaling dropped, reconnecting")
		return
	}

	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()

	c.logger.Errorw("signaling permanently lost")
	if c.notifier != nil {
		c.notifier.SetDegraded(true, "Chat connection lost")
	}
}

func (c *SessionController) OnComment(comment *domain.ChatComment) {
	c.chat.Receive(comment)
}

func (c *SessionController) OnViewerCount(count int) {
	c.mu.Lock()
	c.viewerCount = count
	if c.stream != nil {
		c.stream.ViewerCount = count
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetViewerCount(count)
	}
}

func (c *SessionController) OnViewerList(viewers []string) {
	c.mu.Lock()
	c.viewers = viewers
	c.mu.Unlock()
}

func (c *SessionController) OnStreamStarted() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if c.stream != nil {
		c.stream.Status = domain.StreamLive
	}
	watching := c.state == StateWatching
	c.mu.Unlock()

	c.toast("Broadcast started")
	if watching && len(c.hub.Links()) == 0 {
		go c.dialBroadcaster(context.Background())
	}
}

// OnStreamEnded moves to Ended unconditionally, whatever state the session
// was in when the announcement arrived.
func (c *SessionController) OnStreamEnded() {
	c.endedByServer("The stream has ended")
}

func (c *SessionController) OnKicked(reason string) {
	msg := "You were removed from the stream"
	if reason != "" {
		msg = msg + ": " + reason
	}
	c.toastError(msg)
	c.endedByServer("")
}

func (c *SessionController) OnSystemMessage(message string) {
	c.toast(message)
}

func (c *SessionController) endedByServer(message string) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	if c.stream != nil {
		c.stream.Status = domain.StreamEnded
	}
	c.gen++
	c.mu.Unlock()

	c.capture.Stop()
	c.hub.CloseAll()
	if message != "" {
		c.toast(message)
	}
	c.logger.Infow("session ended by server")
}

// --- async infrastructure callbacks ---

func (c *SessionController) genValid(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// handleSourceEnded reacts to the OS killing the capture out of band, e.g.
// screen share revoked from system chrome. The capture manager already
// released the tracks.
func (c *SessionController) handleSourceEnded(kind domain.CaptureKind) {
	c.mu.Lock()
	broadcasting := c.state == StateBroadcasting
	c.mu.Unlock()

	c.logger.Warnw("capture source ended", "kind", kind)
	if !broadcasting {
		return
	}
	c.toastError("Capture ended, stopping the broadcast")
	if err := c.StopBroadcast(context.Background()); err != nil && !errors.Is(err, domain.ErrNotBroadcasting) {
		c.logger.Errorw("failed to stop broadcast after capture loss", "error", err)
	}
}

func (c *SessionController) handleLinkClosed(remote domain.PeerID, cause error) {
	if errors.Is(cause, domain.ErrNotBroadcasting) {
		c.toast("The broadcast has not started yet")
		return
	}

	c.mu.Lock()
	watching := c.state == StateWatching
	c.mu.Unlock()

	if watching {
		c.toastError("Lost connection to the broadcaster")
		return
	}
	c.logger.Infow("viewer link closed", "remote", remote, "cause", cause)
}

func (c *SessionController) isBroadcasterOf(stream *domain.Stream) bool {
	return stream != nil && c.identity.ID == stream.StreamerID
}

func (c *SessionController) toast(message string) {
	if c.notifier != nil {
		c.notifier.Toast(message)
	}
}

func (c *SessionController) toastError(message string) {
	if c.notifier != nil {
		c.notifier.ToastError(message)
	}
}
