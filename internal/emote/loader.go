package emote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/john/chatoverlay/internal/metrics"
)

const (
	DefaultBTTVBase    = "https://api.betterttv.net/3"
	Default7TVBase     = "https://7tv.io/v3"
	DefaultCacheTTL    = 30 * time.Minute
	defaultHTTPTimeout = 10 * time.Second

	bttvCDN    = "https://cdn.betterttv.net/emote/%s/3x.webp"
	seventvCDN = "https://cdn.7tv.app/emote/%s/3x.webp"
)

type bttvEmote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type bttvUser struct {
	ChannelEmotes []bttvEmote `json:"channelEmotes"`
	SharedEmotes  []bttvEmote `json:"sharedEmotes"`
}

type seventvEmote struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type seventvSet struct {
	Emotes []seventvEmote `json:"emotes"`
}

type seventvUser struct {
	EmoteSet *seventvSet `json:"emote_set"`
}

type cached struct {
	catalog Catalog
	exp     time.Time
}

// Loader fetches and caches third-party catalogs per channel.
type Loader struct {
	client      *http.Client
	log         *zap.Logger
	bttvBase    string
	seventvBase string
	ttl         time.Duration

	mu    sync.Mutex
	cache map[string]cached
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithBaseURLs points the loader at different API roots.
func WithBaseURLs(bttv, seventv string) Option {
	return func(l *Loader) {
		l.bttvBase = bttv
		l.seventvBase = seventv
	}
}

// WithCacheTTL sets how long a loaded catalog is reused.
func WithCacheTTL(d time.Duration) Option {
	return func(l *Loader) { l.ttl = d }
}

// NewLoader creates a catalog loader.
func NewLoader(log *zap.Logger, opts ...Option) *Loader {
	l := &Loader{
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		log:         log.Named("emote"),
		bttvBase:    DefaultBTTVBase,
		seventvBase: Default7TVBase,
		ttl:         DefaultCacheTTL,
		cache:       make(map[string]cached),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load returns the merged BTTV and 7TV catalog for a channel. An empty
// channelID loads global emotes only. Load never fails: every fetch that errors
// contributes nothing and is logged.
func (l *Loader) Load(ctx context.Context, channelID string) Catalog {
	key := channelID
	if key == "" {
		key = "global"
	}

	l.mu.Lock()
	if c, ok := l.cache[key]; ok && time.Now().Before(c.exp) {
		l.mu.Unlock()
		return c.catalog
	}
	l.mu.Unlock()

	var (
		bttvGlobal, bttvChannel, bttvShared Catalog
		stvGlobal, stvChannel               Catalog
		failedMu                            sync.Mutex
		failed                              int
	)
	fail := func(source string, err error) {
		l.log.Warn("catalog fetch failed", zap.String("source", source), zap.Error(err))
		metrics.CatalogFetchFail.WithLabelValues(source).Inc()
		failedMu.Lock()
		failed++
		failedMu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		var emotes []bttvEmote
		if err := l.getJSON(ctx, l.bttvBase+"/cached/emotes/global", &emotes); err != nil {
			fail("bttv_global", err)
			return nil
		}
		bttvGlobal = fromBTTV(emotes)
		return nil
	})
	g.Go(func() error {
		var set seventvSet
		if err := l.getJSON(ctx, l.seventvBase+"/emote-sets/global", &set); err != nil {
			fail("7tv_global", err)
			return nil
		}
		stvGlobal = from7TV(set.Emotes)
		return nil
	})
	if channelID != "" {
		g.Go(func() error {
			var user bttvUser
			if err := l.getJSON(ctx, l.bttvBase+"/cached/users/twitch/"+channelID, &user); err != nil {
				fail("bttv_channel", err)
				return nil
			}
			bttvChannel = fromBTTV(user.ChannelEmotes)
			bttvShared = fromBTTV(user.SharedEmotes)
			return nil
		})
		g.Go(func() error {
			var user seventvUser
			if err := l.getJSON(ctx, l.seventvBase+"/users/twitch/"+channelID, &user); err != nil {
				fail("7tv_channel", err)
				return nil
			}
			if user.EmoteSet != nil {
				stvChannel = from7TV(user.EmoteSet.Emotes)
			}
			return nil
		})
	}
	_ = g.Wait()

	catalog := Build(
		Merge(bttvGlobal, bttvChannel, bttvShared),
		Merge(stvGlobal, stvChannel),
	)
	l.log.Info("third-party emotes loaded",
		zap.String("channel_id", channelID),
		zap.Int("count", len(catalog)),
		zap.Int("failed_fetches", failed))

	if failed == 0 {
		l.mu.Lock()
		l.cache[key] = cached{catalog: catalog, exp: time.Now().Add(l.ttl)}
		l.mu.Unlock()
	}
	return catalog
}

func (l *Loader) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func fromBTTV(emotes []bttvEmote) Catalog {
	c := make(Catalog, len(emotes))
	for _, e := range emotes {
		if e.Code == "" {
			continue
		}
		c[e.Code] = Entry{
			Code:     e.Code,
			URL:      fmt.Sprintf(bttvCDN, e.ID),
			Provider: ProviderBTTV,
			ID:       e.ID,
		}
	}
	return c
}

func from7TV(emotes []seventvEmote) Catalog {
	c := make(Catalog, len(emotes))
	for _, e := range emotes {
		if e.Name == "" {
			continue
		}
		c[e.Name] = Entry{
			Code:     e.Name,
			URL:      fmt.Sprintf(seventvCDN, e.ID),
			Provider: Provider7TV,
			ID:       e.ID,
		}
	}
	return c
}
