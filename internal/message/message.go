package message

import (
	"strings"
	"time"
)

// MetadataVersion is bumped whenever the Metadata shape changes.
const MetadataVersion = 1

// State is the lifecycle state of a record in the queue.
// States only ever move forward.
type State int

const (
	Displaying State = iota // enter animation in flight
	Visible                 // on screen, waiting for TTL
	Expired                 // exit animation in flight
	Dead                    // gone from the projection, waiting for sweep
)

func (s State) String() string {
	switch s {
	case Displaying:
		return "displaying"
	case Visible:
		return "visible"
	case Expired:
		return "expired"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// Role is the privilege tier of the message author.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleModerator   Role = "moderator"
	RoleSubscriber  Role = "subscriber"
	RoleVIP         Role = "vip"
	RoleDefault     Role = "default"
)

// Privileged reports whether the role may run chat commands.
func (r Role) Privileged() bool {
	return r == RoleBroadcaster || r == RoleModerator
}

// Reason records why a record reached Dead or left the queue.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonExpired Reason = "expired" // TTL fired and the exit animation finished
	ReasonEvicted Reason = "evicted" // capacity limit exceeded
	ReasonCleared Reason = "cleared" // clear command or CLEARCHAT
	ReasonPurged  Reason = "purged"  // author banned or timed out
	ReasonDeleted Reason = "deleted" // single message deleted by a moderator
)

// Badge is one entry of the badges tag, e.g. subscriber/12.
type Badge struct {
	Set     string `json:"set"`
	Version string `json:"version"`
}

// EmoteAnnotation is a platform-native emote occurrence. Start and End are a
// closed range of character offsets into the original text.
type EmoteAnnotation struct {
	Code  string `json:"code"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Metadata is everything the transport tells us about a chat message.
// It is immutable once a Record has been created from it.
type Metadata struct {
	ID          string            `json:"id,omitempty"`
	Channel     string            `json:"channel"`
	UserID      string            `json:"user_id,omitempty"`
	Username    string            `json:"username"`
	DisplayName string            `json:"display_name,omitempty"`
	Color       string            `json:"color,omitempty"`
	Badges      []Badge           `json:"badges,omitempty"`
	Mod         bool              `json:"mod,omitempty"`
	Emotes      []EmoteAnnotation `json:"emotes,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

// HasBadge reports whether the author carries a badge from the given set.
func (m Metadata) HasBadge(set string) bool {
	for _, b := range m.Badges {
		if b.Set == set {
			return true
		}
	}
	return false
}

// Normalize trims and lowercases the login and fills the display name.
func (m Metadata) Normalize() Metadata {
	m.Username = strings.ToLower(strings.TrimSpace(m.Username))
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	if m.DisplayName == "" {
		m.DisplayName = m.Username
	}
	m.Channel = strings.TrimPrefix(strings.ToLower(m.Channel), "#")
	return m
}

// Record is the unit of the lifecycle pipeline.
type Record struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	HTML  string   `json:"html"`
	Meta  Metadata `json:"meta"`
	Role  Role     `json:"role"`
	State State    `json:"state"`
	// Order is assigned exactly once, when the queue accepts the record.
	Order     uint64    `json:"order"`
	Reason    Reason    `json:"reason,omitempty"`
	ArrivedAt time.Time `json:"arrived_at"`
}
