// Package role derives the privilege tier of a chat author from badge flags.
package role

import "github.com/john/chatoverlay/internal/message"

// Resolve returns the author's role. The first matching tier wins, in the order
// broadcaster, moderator, subscriber, vip. Everyone else is default.
func Resolve(meta message.Metadata) message.Role {
	switch {
	case meta.HasBadge("broadcaster"):
		return message.RoleBroadcaster
	case meta.Mod || meta.HasBadge("moderator"):
		return message.RoleModerator
	case meta.HasBadge("subscriber") || meta.HasBadge("founder"):
		return message.RoleSubscriber
	case meta.HasBadge("vip"):
		return message.RoleVIP
	}
	return message.RoleDefault
}
