// Package badge loads Twitch chat badge images and resolves the badges of a
// message to image URLs.
package badge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicklaw5/helix/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/john/chatoverlay/internal/message"
	"github.com/john/chatoverlay/internal/metrics"
)

const DefaultHelixBase = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login does not resolve to a user.
var ErrUserNotFound = errors.New("user not found")

// User is the subset of a Helix user the overlay needs.
type User struct {
	ID          string
	Login       string
	DisplayName string
}

// Image is one version of a badge set.
type Image struct {
	ID         string
	ImageURL1x string
	ImageURL2x string
	ImageURL4x string
}

// Set maps a badge set id to its versions keyed by version id.
type Set map[string]map[string]Image

// Client talks to the Helix API.
type Client struct {
	opts helix.Options
}

// NewClient creates a Helix client. base may be empty for the public API.
func NewClient(base, clientID, token string) *Client {
	if base == "" {
		base = DefaultHelixBase
	}
	return &Client{opts: helix.Options{
		ClientID:        clientID,
		UserAccessToken: token,
		APIBaseURL:      base,
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
	}}
}

// api binds a helix client to ctx; helix carries the context per client
// rather than per call.
func (c *Client) api(ctx context.Context) (*helix.Client, error) {
	opts := c.opts
	hc, err := helix.NewClientWithContext(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}
	return hc, nil
}

func checkResponse(r helix.ResponseCommon) error {
	if r.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d: %s", r.StatusCode, r.ErrorMessage)
	}
	return nil
}

// LookupUser resolves a login to a user.
func (c *Client) LookupUser(ctx context.Context, login string) (User, error) {
	hc, err := c.api(ctx)
	if err != nil {
		return User{}, err
	}
	resp, err := hc.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return User{}, fmt.Errorf("lookup user %s: %w", login, err)
	}
	if err := checkResponse(resp.ResponseCommon); err != nil {
		return User{}, fmt.Errorf("lookup user %s: %w", login, err)
	}
	if len(resp.Data.Users) == 0 {
		return User{}, fmt.Errorf("lookup user %s: %w", login, ErrUserNotFound)
	}
	u := resp.Data.Users[0]
	return User{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
}

// ChannelBadges fetches the custom badges of a broadcaster.
func (c *Client) ChannelBadges(ctx context.Context, broadcasterID string) (Set, error) {
	hc, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := hc.GetChannelChatBadges(&helix.GetChatBadgeParams{BroadcasterID: broadcasterID})
	if err != nil {
		return nil, fmt.Errorf("fetch channel badges: %w", err)
	}
	if err := checkResponse(resp.ResponseCommon); err != nil {
		return nil, fmt.Errorf("fetch channel badges: %w", err)
	}
	return toSet(resp.Data.Badges), nil
}

// GlobalBadges fetches the badges every channel shares.
func (c *Client) GlobalBadges(ctx context.Context) (Set, error) {
	hc, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := hc.GetGlobalChatBadges()
	if err != nil {
		return nil, fmt.Errorf("fetch global badges: %w", err)
	}
	if err := checkResponse(resp.ResponseCommon); err != nil {
		return nil, fmt.Errorf("fetch global badges: %w", err)
	}
	return toSet(resp.Data.Badges), nil
}

func toSet(badges []helix.ChatBadge) Set {
	set := make(Set, len(badges))
	for _, bs := range badges {
		versions := make(map[string]Image, len(bs.Versions))
		for _, v := range bs.Versions {
			versions[v.ID] = Image{
				ID:         v.ID,
				ImageURL1x: v.ImageUrl1x,
				ImageURL2x: v.ImageUrl2x,
				ImageURL4x: v.ImageUrl4x,
			}
		}
		set[bs.SetID] = versions
	}
	return set
}

// Resolver maps message badges to image URLs.
type Resolver struct {
	Channel Set
	Global  Set
}

// URLs returns the 1x image of every badge in tag order. A set defined by the
// channel is looked up there only; anything else falls back to the global
// sets. Badges that resolve to nothing are skipped.
func (r Resolver) URLs(badges []message.Badge) []string {
	var out []string
	for _, b := range badges {
		pool := r.Global
		if _, ok := r.Channel[b.Set]; ok {
			pool = r.Channel
		}
		if img, ok := pool[b.Set][b.Version]; ok && img.ImageURL1x != "" {
			out = append(out, img.ImageURL1x)
		}
	}
	return out
}

// Load fetches channel and global badges concurrently. A failed fetch is
// logged and leaves that half of the resolver empty. An empty broadcasterID
// loads global badges only.
func Load(ctx context.Context, log *zap.Logger, c *Client, broadcasterID string) Resolver {
	var r Resolver
	var g errgroup.Group
	g.Go(func() error {
		if broadcasterID == "" {
			return nil
		}
		set, err := c.ChannelBadges(ctx, broadcasterID)
		if err != nil {
			log.Warn("channel badges unavailable", zap.Error(err))
			metrics.CatalogFetchFail.WithLabelValues("badges_channel").Inc()
			return nil
		}
		r.Channel = set
		return nil
	})
	g.Go(func() error {
		set, err := c.GlobalBadges(ctx)
		if err != nil {
			log.Warn("global badges unavailable", zap.Error(err))
			metrics.CatalogFetchFail.WithLabelValues("badges_global").Inc()
			return nil
		}
		r.Global = set
		return nil
	})
	_ = g.Wait()
	return r
}
