package message

import "time"

// Event is anything the transport delivers to ingestion.
type Event interface {
	event()
}

// ChatEvent is a regular chat line.
type ChatEvent struct {
	Meta Metadata
	Text string
}

// ClearChatEvent wipes the whole chat.
type ClearChatEvent struct {
	Channel string
}

// BanEvent removes every message of a permanently banned user.
type BanEvent struct {
	Channel  string
	Username string
}

// TimeoutEvent removes every message of a temporarily banned user.
type TimeoutEvent struct {
	Channel  string
	Username string
	Duration time.Duration
}

// DeletedEvent removes a single message.
type DeletedEvent struct {
	Channel  string
	Username string
	Text     string
	TargetID string
}

func (ChatEvent) event()      {}
func (ClearChatEvent) event() {}
func (BanEvent) event()       {}
func (TimeoutEvent) event()   {}
func (DeletedEvent) event()   {}
