package domain

import "encoding/json"

// Signaling message tags as they appear on the wire. The transport delivers
// each message at most once per physical connection; the application layer
// does not deduplicate.
const (
	MsgNewComment    = "new_comment"
	MsgViewersUpdate = "viewers_update"
	MsgViewersList   = "viewers_list"
	MsgStreamStarted = "stream_started"
	MsgStreamEnded   = "stream_ended"
	MsgKicked        = "kicked"
	MsgSystemMessage = "system_message"

	// Client -> server tags.
	MsgComment = "comment"
)

// SignalingMessage is the tagged envelope multiplexed over the one stream
// socket. Fields beyond Type are populated per tag; unknown tags are ignored
// by the dispatcher, not treated as fatal.
type SignalingMessage struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Comment json.RawMessage `json:"comment,omitempty"`
	Count   int             `json:"count,omitempty"`
	Viewers []string        `json:"viewers,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DecodeComment unpacks the comment payload of a new_comment message.
func (m *SignalingMessage) DecodeComment() (*ChatComment, error) {
	var c ChatComment
	if err := json.Unmarshal(m.Comment, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
