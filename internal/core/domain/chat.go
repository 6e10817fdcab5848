package domain

import "time"

// ChatComment is immutable once created. Editing and deletion are an
// external-collaborator concern; this subsystem only appends.
type ChatComment struct {
	AuthorID    UserID    `json:"user"`
	AuthorName  string    `json:"user_username"`
	Content     string    `json:"content"`
	IsModerator bool      `json:"is_mod"`
	IsVIP       bool      `json:"is_vip"`
	CreatedAt   time.Time `json:"created_at"`
}

// Badge is a role decoration rendered next to the author name.
type Badge string

const (
	BadgeStreamer  Badge = "streamer"
	BadgeModerator Badge = "moderator"
	BadgeVIP       Badge = "vip"
)

// DecoratedComment is a ChatComment plus the derived presentation fields.
// Decoration is deterministic: the same author always gets the same color
// within a session.
type DecoratedComment struct {
	ChatComment
	Badges []Badge
	Color  string
}

// UserIdentity is what the auth token tells us about the local user. The
// token itself is issued and verified elsewhere; we only consume its claims.
type UserIdentity struct {
	ID       UserID
	Username string
}
