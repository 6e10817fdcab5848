package services

import (
	"context"
	"strings"
	"sync"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// authorPalette is the fixed set of author name colors. Assignment is a
// deterministic hash of the username, so an author keeps one color for the
// whole session and every participant computes the same color locally.
var authorPalette = [14]string{
	"#ff4500", "#ffa800", "#ffd635", "#46d160", "#25b79f",
	"#0dd3bb", "#24a0ed", "#0079d3", "#7193ff", "#4856a3",
	"#c065f9", "#ff66ac", "#db0064", "#ea0027",
}

// ChatMetrics is the subset of the monitoring collector the relay reports to.
type ChatMetrics interface {
	RecordCommentSent()
	RecordCommentReceived()
}

// ChatConfig bounds the local send rate. The server enforces its own limits;
// this keeps an agent from tripping them.
type ChatConfig struct {
	MessagesPerSecond float64
	Burst             int
}

// ChatRelay owns the session's append-only comment log. Outbound comments are
// sent to the server and NOT appended locally; they come back on the
// signaling channel like everyone else's, which keeps ordering identical for
// all participants.
type ChatRelay struct {
	channel ports.SignalingChannel
	api     ports.StreamAPI
	limiter *rate.Limiter
	metrics ChatMetrics
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	streamerID domain.UserID
	log        []domain.DecoratedComment
	onComment  func(domain.DecoratedComment)
}

func NewChatRelay(channel ports.SignalingChannel, api ports.StreamAPI, cfg ChatConfig, metrics ChatMetrics, log *zap.Logger) *ChatRelay {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &ChatRelay{
		channel: channel,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		metrics: metrics,
		logger:  log.Sugar(),
	}
}

// SetStreamer records the stream owner so their comments get the streamer
// badge.
func (r *ChatRelay) SetStreamer(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamerID = id
}

// Preload fetches the comment history from the backend and seeds the log.
func (r *ChatRelay) Preload(ctx context.Context, streamID domain.StreamID) error {
	comments, err := r.api.GetComments(ctx, streamID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = r.log[:0]
	for _, c := range comments {
		r.log = append(r.log, r.decorate(c))
	}
	r.logger.Infow("chat history preloaded", "stream_id", streamID, "comments", len(comments))
	return nil
}

// Send publishes one comment. The local log is not touched; the comment is
// appended when the server broadcasts it back.
func (r *ChatRelay) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.ErrEmptyComment
	}
	if !r.limiter.Allow() {
		return domain.ErrCommentRateLimited
	}

	if err := r.channel.Send(domain.SignalingMessage{
		Type:    domain.MsgComment,
		Content: content,
	}); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordCommentSent()
	}
	return nil
}

// Receive decorates an inbound comment, appends it and notifies the UI.
func (r *ChatRelay) Receive(c *domain.ChatComment) {
	r.mu.Lock()
	decorated := r.decorate(c)
	r.log = append(r.log, decorated)
	cb := r.onComment
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordCommentReceived()
	}
	if cb != nil {
		cb(decorated)
	}
}

// History reports a snapshot of the comment log in arrival order.
func (r *ChatRelay) History() []domain.DecoratedComment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DecoratedComment, len(r.log))
	copy(out, r.log)
	return out
}

func (r *ChatRelay) OnComment(fn func(domain.DecoratedComment)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onComment = fn
}

// decorate derives badges and the author color. Caller holds r.mu.
func (r *ChatRelay) decorate(c *domain.ChatComment) domain.DecoratedComment {
	d := domain.DecoratedComment{
		ChatComment: *c,
		Color:       colorFor(c.AuthorName),
	}
	if r.streamerID != "" && c.AuthorID == r.streamerID {
		d.Badges = append(d.Badges, domain.BadgeStreamer)
	}
	if c.IsModerator {
		d.Badges = append(d.Badges, domain.BadgeModerator)
	}
	if c.IsVIP {
		d.Badges = append(d.Badges, domain.BadgeVIP)
	}
	return d
}

func colorFor(name string) string {
	sum := 0
	for _, r := range name {
		sum += int(r)
	}
	return authorPalette[sum%len(authorPalette)]
}
