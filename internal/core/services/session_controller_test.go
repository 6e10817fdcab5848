package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCapture struct {
	log *callLog

	mu            sync.Mutex
	kind          domain.CaptureKind
	startErr      error
	startHook     func()
	onSourceEnded func(kind domain.CaptureKind)
}

func (f *fakeCapture) StartCamera(ctx context.Context, c domain.CaptureConstraints) error {
	return f.start(domain.CaptureCamera)
}

func (f *fakeCapture) StartScreenShare(ctx context.Context, c domain.CaptureConstraints) error {
	return f.start(domain.CaptureScreen)
}

func (f *fakeCapture) start(kind domain.CaptureKind) error {
	f.mu.Lock()
	hook := f.startHook
	f.mu.Unlock()
	// Runs outside the lock, like a device prompt blocking the caller while
	// other events keep flowing.
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.kind != domain.CaptureNone {
		return domain.ErrCaptureBusy
	}
	f.kind = kind
	f.log.add("capture.start")
	return nil
}

func (f *fakeCapture) Stop() {
	f.log.add("capture.stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kind = domain.CaptureNone
}

func (f *fakeCapture) ActiveKind() domain.CaptureKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kind
}

func (f *fakeCapture) Tracks() []ports.LocalTrack { return nil }

func (f *fakeCapture) OnSourceEnded(fn func(kind domain.CaptureKind)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSourceEnded = fn
}

func (f *fakeCapture) fireSourceEnded(kind domain.CaptureKind) {
	f.mu.Lock()
	fn := f.onSourceEnded
	f.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

type fakeHub struct {
	log *callLog

	mu           sync.Mutex
	self         domain.PeerID
	links        []domain.PeerLink
	dialErr      error
	onLinkClosed func(remote domain.PeerID, cause error)

	dialed chan domain.PeerID
}

func (f *fakeHub) Open(ctx context.Context, self domain.PeerID) error {
	f.log.add("hub.open")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.self = self
	return nil
}

func (f *fakeHub) Dial(ctx context.Context, remote domain.PeerID) error {
	f.mu.Lock()
	err := f.dialErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.log.add("hub.dial")
	f.dialed <- remote
	return nil
}

func (f *fakeHub) CloseAll() {
	f.log.add("hub.closeall")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = nil
}

func (f *fakeHub) Close() {
	f.log.add("hub.close")
}

func (f *fakeHub) Links() []domain.PeerLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PeerLink, len(f.links))
	copy(out, f.links)
	return out
}

func (f *fakeHub) OnLinkClosed(fn func(remote domain.PeerID, cause error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLinkClosed = fn
}

func (f *fakeHub) fireLinkClosed(remote domain.PeerID, cause error) {
	f.mu.Lock()
	fn := f.onLinkClosed
	f.mu.Unlock()
	if fn != nil {
		fn(remote, cause)
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	toasts   []string
	errors   []string
	degraded bool
}

func (f *fakeNotifier) Toast(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, message)
}

func (f *fakeNotifier) ToastError(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
}

func (f *fakeNotifier) SetDegraded(degraded bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = degraded
}

func (f *fakeNotifier) isDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

type fixture struct {
	log      *callLog
	api      *fakeAPI
	channel  *fakeChannel
	capture  *fakeCapture
	hub      *fakeHub
	notifier *fakeNotifier
	ctrl     *SessionController
}

func newFixture(t *testing.T, userID domain.UserID, stream *domain.Stream) *fixture {
	t.Helper()
	log := &callLog{}
	api := &fakeAPI{log: log, stream: stream}
	channel := &fakeChannel{log: log}
	capture := &fakeCapture{log: log}
	hub := &fakeHub{log: log, dialed: make(chan domain.PeerID, 4)}
	notifier := &fakeNotifier{}

	chat := NewChatRelay(channel, api, ChatConfig{MessagesPerSecond: 100, Burst: 100}, nil, zaptest.NewLogger(t))
	ctrl := NewSessionController(
		SessionConfig{Capture: domain.DefaultCaptureConstraints()},
		api, channel, capture, hub, chat,
		notifier, nil,
		domain.UserIdentity{ID: userID, Username: "tester"},
		"tok", nil, zaptest.NewLogger(t),
	)
	return &fixture{log: log, api: api, channel: channel, capture: capture, hub: hub, notifier: notifier, ctrl: ctrl}
}

func idleStream(streamer domain.UserID) *domain.Stream {
	return &domain.Stream{ID: "s1", Title: "t", Status: domain.StreamIdle, StreamerID: streamer}
}

func liveStream(streamer domain.UserID) *domain.Stream {
	s := idleStream(streamer)
	s.Status = domain.StreamLive
	return s
}

func TestJoinEndedStreamShortCircuits(t *testing.T) {
	stream := idleStream("42")
	stream.Status = domain.StreamEnded
	fx := newFixture(t, "42", stream)

	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.False(t, fx.channel.Connected())
	assert.Equal(t, -1, fx.log.indexOf("hub.open"))
}

func TestJoinConfiguresSession(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))

	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	assert.Equal(t, StateConfiguring, fx.ctrl.State())
	assert.True(t, fx.channel.Connected())
	assert.GreaterOrEqual(t, fx.log.indexOf("hub.open"), 0)
	assert.Equal(t, domain.PeerID("streamer-s1"), fx.hub.self)
	assert.Equal(t, 1, fx.log.count("api.get_comments"))
}

func TestJoinTwiceRejected(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	assert.ErrorIs(t, fx.ctrl.Join(context.Background(), "s1"), domain.ErrInvalidTransition)
}

func TestViewerGetsRandomPeerIdentity(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))

	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	assert.NotEqual(t, domain.BroadcasterPeerID("s1"), fx.hub.self)
	assert.Contains(t, string(fx.hub.self), "viewer-")
}

func TestStartBroadcastRequiresConfiguring(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStartBroadcastRequiresOwnership(t *testing.T) {
	fx := newFixture(t, "99", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestStartBroadcast(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	require.NoError(t, fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera))

	assert.Equal(t, StateBroadcasting, fx.ctrl.State())
	assert.Equal(t, domain.StreamLive, fx.ctrl.Stream().Status)
	assert.Equal(t, domain.CaptureCamera, fx.capture.ActiveKind())
	assert.Equal(t, 1, fx.log.count("api.start_stream"))
	assert.Equal(t, 1, fx.log.count("channel.send:"+domain.MsgStreamStarted))
}

func TestStartBroadcastBackendFailureReleasesCapture(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	fx.api.startErr = assert.AnError
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	require.Error(t, err)
	assert.Equal(t, StateConfiguring, fx.ctrl.State())
	assert.Equal(t, domain.CaptureNone, fx.capture.ActiveKind())
	assert.Equal(t, 0, fx.log.count("channel.send:"+domain.MsgStreamStarted))
}

func TestStartBroadcastBlockedWhenDegraded(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	fx.ctrl.OnDisconnected(true)
	assert.True(t, fx.notifier.isDegraded())

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	assert.ErrorIs(t, err, domain.ErrSignalingUnavailable)
}

func TestStopBroadcastOrdering(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera))

	require.NoError(t, fx.ctrl.StopBroadcast(context.Background()))

	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, domain.StreamEnded, fx.ctrl.Stream().Status)

	stop := fx.log.indexOf("capture.stop")
	closeAll := fx.log.indexOf("hub.closeall")
	end := fx.log.indexOf("api.end_stream")
	announce := fx.log.indexOf("channel.send:" + domain.MsgStreamEnded)
	require.NotEqual(t, -1, stop)
	require.NotEqual(t, -1, closeAll)
	require.NotEqual(t, -1, end)
	require.NotEqual(t, -1, announce)
	assert.Less(t, stop, closeAll)
	assert.Less(t, closeAll, end)
	assert.Less(t, end, announce)
}

func TestStopBroadcastWhenNotBroadcasting(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	assert.ErrorIs(t, fx.ctrl.StopBroadcast(context.Background()), domain.ErrNotBroadcasting)
}

func TestWatchLiveStreamDials(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	require.NoError(t, fx.ctrl.Watch(context.Background()))
	assert.Equal(t, StateWatching, fx.ctrl.State())
	assert.Equal(t, domain.BroadcasterPeerID("s1"), <-fx.hub.dialed)
}

func TestWatchIdleStreamWaitsForAnnouncement(t *testing.T) {
	fx := newFixture(t, "99", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.Watch(context.Background()))

	assert.Equal(t, StateWatching, fx.ctrl.State())
	select {
	case <-fx.hub.dialed:
		t.Fatal("dialed before the broadcast started")
	case <-time.After(50 * time.Millisecond):
	}

	fx.ctrl.OnStreamStarted()

	select {
	case remote := <-fx.hub.dialed:
		assert.Equal(t, domain.BroadcasterPeerID("s1"), remote)
	case <-time.After(2 * time.Second):
		t.Fatal("announcement did not trigger a dial")
	}
	assert.Equal(t, domain.StreamLive, fx.ctrl.Stream().Status)
}

func TestWatchRejectsBroadcaster(t *testing.T) {
	fx := newFixture(t, "42", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	assert.ErrorIs(t, fx.ctrl.Watch(context.Background()), domain.ErrPermissionDenied)
}

func TestLeaveOrderingAndIdempotence(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera))

	require.NoError(t, fx.ctrl.Leave(context.Background()))
	assert.Equal(t, StateEnded, fx.ctrl.State())

	stop := fx.log.indexOf("capture.stop")
	closeAll := fx.log.indexOf("hub.closeall")
	end := fx.log.indexOf("api.end_stream")
	hubClose := fx.log.indexOf("hub.close")
	chanClose := fx.log.indexOf("channel.close")
	assert.Less(t, stop, closeAll)
	assert.Less(t, closeAll, end)
	assert.Less(t, end, hubClose)
	assert.Less(t, hubClose, chanClose)

	// A second leave must not end the stream again.
	require.NoError(t, fx.ctrl.Leave(context.Background()))
	assert.Equal(t, 1, fx.log.count("api.end_stream"))
}

func TestViewerLeaveDoesNotEndStream(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.Watch(context.Background()))
	<-fx.hub.dialed

	require.NoError(t, fx.ctrl.Leave(context.Background()))
	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, 0, fx.log.count("api.end_stream"))
	assert.Equal(t, 0, fx.log.count("channel.send:"+domain.MsgStreamEnded))
}

func TestStreamEndedAnnouncementIsTerminal(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.Watch(context.Background()))
	<-fx.hub.dialed

	fx.ctrl.OnStreamEnded()

	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, 1, fx.log.count("hub.closeall"))

	// Ended is terminal, later announcements change nothing.
	fx.ctrl.OnStreamStarted()
	assert.Equal(t, StateEnded, fx.ctrl.State())
}

func TestKickedIsTerminal(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.Watch(context.Background()))
	<-fx.hub.dialed

	fx.ctrl.OnKicked("spam")

	assert.Equal(t, StateEnded, fx.ctrl.State())
	fx.notifier.mu.Lock()
	defer fx.notifier.mu.Unlock()
	require.NotEmpty(t, fx.notifier.errors)
	assert.Contains(t, fx.notifier.errors[0], "spam")
}

// A kick processed while the capture prompt is up must not let the pending
// start resurrect the session.
func TestKickedDuringCaptureStaysEnded(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	fx.capture.mu.Lock()
	fx.capture.startHook = func() { fx.ctrl.OnKicked("spam") }
	fx.capture.mu.Unlock()

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	assert.ErrorIs(t, err, domain.ErrStreamEnded)
	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, domain.StreamEnded, fx.ctrl.Stream().Status)
	assert.Equal(t, domain.CaptureNone, fx.capture.ActiveKind())
	assert.Equal(t, 0, fx.log.count("api.start_stream"))
}

func TestStreamEndedDuringBackendStartRollsBack(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	fx.api.startHook = func() { fx.ctrl.OnStreamEnded() }

	err := fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera)
	assert.ErrorIs(t, err, domain.ErrStreamEnded)
	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, domain.StreamEnded, fx.ctrl.Stream().Status)
	assert.Equal(t, domain.CaptureNone, fx.capture.ActiveKind())
	assert.Equal(t, 1, fx.log.count("api.end_stream"))
	assert.Equal(t, 0, fx.log.count("channel.send:"+domain.MsgStreamStarted))
}

func TestViewerCountUpdates(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	fx.ctrl.OnViewerCount(12)
	assert.Equal(t, 12, fx.ctrl.Snapshot().ViewerCount)
	assert.Equal(t, 12, fx.ctrl.Stream().ViewerCount)

	fx.ctrl.OnViewerList([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, fx.ctrl.Viewers())
}

func TestCaptureLossStopsBroadcast(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.StartBroadcast(context.Background(), domain.CaptureScreen))

	fx.capture.fireSourceEnded(domain.CaptureScreen)

	assert.Equal(t, StateEnded, fx.ctrl.State())
	assert.Equal(t, 1, fx.log.count("api.end_stream"))
}

func TestStaleCaptureCallbackIgnoredAfterLeave(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.StartBroadcast(context.Background(), domain.CaptureCamera))
	require.NoError(t, fx.ctrl.Leave(context.Background()))
	require.Equal(t, 1, fx.log.count("api.end_stream"))

	fx.capture.fireSourceEnded(domain.CaptureCamera)

	assert.Equal(t, 1, fx.log.count("api.end_stream"))
}

func TestNotBroadcastingRejectKeepsWatching(t *testing.T) {
	fx := newFixture(t, "99", liveStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))
	require.NoError(t, fx.ctrl.Watch(context.Background()))
	<-fx.hub.dialed

	fx.hub.fireLinkClosed(domain.BroadcasterPeerID("s1"), domain.ErrNotBroadcasting)

	assert.Equal(t, StateWatching, fx.ctrl.State())
}

func TestSignalingRecoveryClearsDegraded(t *testing.T) {
	fx := newFixture(t, "42", idleStream("42"))
	require.NoError(t, fx.ctrl.Join(context.Background(), "s1"))

	fx.ctrl.OnDisconnected(true)
	assert.True(t, fx.notifier.isDegraded())

	fx.ctrl.OnConnected()
	assert.False(t, fx.notifier.isDegraded())
}
