package ports

import "redlive/internal/core/domain"

// SignalingEvents receives inbound signaling messages, one handler per tag,
// in the order they arrived on the socket.
type SignalingEvents interface {
	OnConnected()
	// OnDisconnected fires on every drop; terminal is true once the
	// reconnect budget is exhausted and no further attempts will be made.
	OnDisconnected(terminal bool)
	OnComment(c *domain.ChatComment)
	OnViewerCount(count int)
	OnViewerList(viewers []string)
	OnStreamStarted()
	OnStreamEnded()
	OnKicked(reason string)
	OnSystemMessage(message string)
}

// Notifier is the UI-facing notification boundary (toasts and the persistent
// degraded-connection indicator).
type Notifier interface {
	Toast(message string)
	ToastError(message string)
	SetDegraded(degraded bool, reason string)
}

// FullscreenController is the narrow injected interface replacing document
// level fullscreen listeners, so sessions are testable without a rendering
// surface.
type FullscreenController interface {
	Enter() error
	Exit() error
	OnChange(fn func(active bool))
}
