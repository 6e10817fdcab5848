package domain

import "errors"

var (
	ErrPermissionDenied      = errors.New("media permission denied")
	ErrDeviceUnavailable     = errors.New("media device unavailable")
	ErrUserCancelled         = errors.New("capture cancelled by user")
	ErrCaptureBusy           = errors.New("another capture source is active")
	ErrSignalingNotConnected = errors.New("signaling channel not connected")
	ErrSignalingUnavailable  = errors.New("signaling channel unavailable after reconnect attempts")
	ErrNoActiveSource        = errors.New("no active capture source")
	ErrInvalidTransition     = errors.New("invalid session state transition")
	ErrNotBroadcasting       = errors.New("broadcaster is not broadcasting")
	ErrStreamEnded           = errors.New("stream has ended")
	ErrAlreadyLinked         = errors.New("peer link already established")
	ErrEmptyComment          = errors.New("comment content is empty")
	ErrCommentRateLimited    = errors.New("comment rate limit exceeded")
	ErrStreamNotFound        = errors.New("stream not found")
	ErrRendezvousUnavailable = errors.New("rendezvous server unavailable")
)
