package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/badge"
	"github.com/john/chatoverlay/internal/emote"
)

// CatalogSources are the remote sources decorating messages. Helix may be nil
// when no client id or token is configured; only global emotes are loaded
// then and badges stay empty.
type CatalogSources struct {
	Helix   *badge.Client
	Emotes  *emote.Loader
	Channel string
}

// LoadCatalogs resolves the broadcaster, fetches badges and emotes and hands
// them to the loop. Messages arriving before it finishes render with whatever
// catalog is current. Failures only degrade decoration.
func (s *Session) LoadCatalogs(ctx context.Context, src CatalogSources) {
	var broadcasterID string
	if src.Helix != nil {
		user, err := src.Helix.LookupUser(ctx, src.Channel)
		if err != nil {
			s.log.Warn("broadcaster lookup failed, loading global catalogs only",
				zap.String("channel", src.Channel), zap.Error(err))
		} else {
			broadcasterID = user.ID
			s.log.Info("resolved broadcaster",
				zap.String("channel", src.Channel), zap.String("id", broadcasterID))
		}
	}

	if src.Helix != nil {
		r := badge.Load(ctx, s.log, src.Helix, broadcasterID)
		if err := s.UpdateBadges(ctx, r); err != nil {
			return
		}
	}

	if src.Emotes != nil {
		c := src.Emotes.Load(ctx, broadcasterID)
		if err := s.UpdateCatalog(ctx, c); err != nil {
			return
		}
		s.log.Info("emote catalog loaded", zap.Int("entries", len(c)))
	}
}
