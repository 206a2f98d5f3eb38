// Package session runs the single event loop that owns the lifecycle queue.
//
// Transport events, TTL firings, sweep ticks, animation reports from the
// overlays and catalog updates all funnel into Start's select loop, so the
// queue is only ever touched from one goroutine.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/badge"
	"github.com/john/chatoverlay/internal/emote"
	"github.com/john/chatoverlay/internal/ingest"
	"github.com/john/chatoverlay/internal/lifecycle"
	"github.com/john/chatoverlay/internal/message"
	"github.com/john/chatoverlay/internal/metrics"
)

// Animation names reported by overlays.
const (
	SlideIn  = "slide-in"
	SlideOut = "slide-out"
)

// ErrStopped is returned by calls made after the loop has exited.
var ErrStopped = errors.New("session stopped")

// ErrUnknownAnimation is returned for animation names other than SlideIn and
// SlideOut.
var ErrUnknownAnimation = errors.New("unknown animation")

// View is one message as the render projection shows it.
type View struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name"`
	Color       string       `json:"color,omitempty"`
	Role        message.Role `json:"role"`
	Badges      []string     `json:"badges,omitempty"`
	HTML        string       `json:"html"`
	State       string       `json:"state"`
}

// Snapshot is the ordered list of non-dead messages.
type Snapshot struct {
	Scroll   bool   `json:"scroll"`
	Messages []View `json:"messages"`
}

// Publisher receives a snapshot after every change. Publish must not block.
type Publisher interface {
	Publish(Snapshot)
}

// Options is the overlay configuration, resolved once per session.
type Options struct {
	Limit        int
	TTL          time.Duration
	Sweep        time.Duration
	Scroll       bool
	HideCommands bool
	ClearCommand string
	Exclude      map[string]struct{}
}

type animationReport struct {
	id   string
	name string
}

// Session wires ingestion, the queue and the scheduler together.
type Session struct {
	log       *zap.Logger
	opts      Options
	queue     *lifecycle.Queue
	sched     *lifecycle.Scheduler
	stage     *ingest.Stage
	publisher Publisher
	archive   chan<- message.Record

	// owned by the loop
	catalog emote.Catalog
	badges  badge.Resolver

	animations chan animationReport
	snapshots  chan chan Snapshot
	catalogs   chan emote.Catalog
	badgeSets  chan badge.Resolver
	done       chan struct{}
}

// New creates a session. publisher may be nil.
func New(log *zap.Logger, opts Options, publisher Publisher) *Session {
	s := &Session{
		log:        log.Named("session"),
		opts:       opts,
		queue:      lifecycle.NewQueue(opts.Limit),
		sched:      lifecycle.NewScheduler(opts.TTL, opts.Sweep),
		publisher:  publisher,
		animations: make(chan animationReport, 64),
		snapshots:  make(chan chan Snapshot),
		catalogs:   make(chan emote.Catalog),
		badgeSets:  make(chan badge.Resolver),
		done:       make(chan struct{}),
	}
	s.stage = ingest.New(log, s.queue, s.sched, s.render, ingest.Options{
		HideCommands: opts.HideCommands,
		ClearCommand: opts.ClearCommand,
		Exclude:      opts.Exclude,
	})
	return s
}

// ArchiveTo sends every record leaving the queue to ch. A full channel drops
// the record. Must be called before Start.
func (s *Session) ArchiveTo(ch chan<- message.Record) {
	s.archive = ch
	s.queue.OnRetire = func(r message.Record) {
		select {
		case s.archive <- r:
		default:
			metrics.ArchiveDropped.Inc()
			s.log.Warn("archive queue full, record dropped", zap.String("id", r.ID))
		}
	}
}

func (s *Session) render(text string, natives []message.EmoteAnnotation) string {
	return emote.Substitute(text, natives, s.catalog)
}

// Start runs the loop until ctx is done. All timers are cancelled before it
// returns.
func (s *Session) Start(ctx context.Context, events <-chan message.Event) error {
	defer close(s.done)
	defer s.sched.Stop()

	s.log.Info("session started",
		zap.Int("limit", s.queue.Limit()),
		zap.Duration("ttl", s.sched.TTL()),
		zap.Bool("hide_commands", s.opts.HideCommands))

	for {
		changed := false

		select {
		case ev, ok := <-events:
			if !ok {
				s.log.Warn("transport event stream closed")
				events = nil
				continue
			}
			switch s.stage.Handle(ev) {
			case ingest.Inserted, ingest.Cleared, ingest.Purged, ingest.Deleted:
				changed = true
			}

		case id := <-s.sched.Fired():
			if s.queue.TTLFired(id) {
				metrics.Expired.Inc()
				changed = true
			}

		case <-s.sched.Sweeps():
			if n := s.queue.Sweep(); n > 0 {
				metrics.Swept.Add(float64(n))
				s.log.Debug("swept dead records", zap.Int("count", n))
			}

		case rep := <-s.animations:
			changed = s.applyAnimation(rep)

		case c := <-s.catalogs:
			s.catalog = c
			metrics.CatalogEntries.WithLabelValues("emotes").Set(float64(len(c)))

		case r := <-s.badgeSets:
			s.badges = r
			metrics.CatalogEntries.WithLabelValues("badge_sets").Set(float64(len(r.Channel) + len(r.Global)))
			changed = true

		case reply := <-s.snapshots:
			reply <- s.snapshot()

		case <-ctx.Done():
			s.log.Info("session stopping", zap.Int("pending_timers", s.sched.Pending()))
			return ctx.Err()
		}

		metrics.QueueSize.Set(float64(s.queue.Len()))
		if changed && s.publisher != nil {
			s.publisher.Publish(s.snapshot())
		}
	}
}

func (s *Session) applyAnimation(rep animationReport) bool {
	switch rep.name {
	case SlideIn:
		return s.queue.EnterAnimationComplete(rep.id)
	case SlideOut:
		return s.queue.ExitAnimationComplete(rep.id)
	}
	return false
}

func (s *Session) snapshot() Snapshot {
	live := s.queue.Live()
	views := make([]View, 0, len(live))
	for _, r := range live {
		views = append(views, View{
			ID:          r.ID,
			Username:    r.Meta.Username,
			DisplayName: r.Meta.DisplayName,
			Color:       r.Meta.Color,
			Role:        r.Role,
			Badges:      s.badges.URLs(r.Meta.Badges),
			HTML:        r.HTML,
			State:       r.State.String(),
		})
	}
	return Snapshot{Scroll: s.opts.Scroll, Messages: views}
}

// stopped reports whether Start has returned. Sends into the loop check it
// first because a buffered send stays ready after the loop is gone.
func (s *Session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ReportAnimation records that an overlay finished the named animation for a
// message. Reports for unknown or already advanced messages are ignored.
func (s *Session) ReportAnimation(ctx context.Context, id, name string) error {
	if name != SlideIn && name != SlideOut {
		return ErrUnknownAnimation
	}
	if s.stopped() {
		return ErrStopped
	}
	select {
	case s.animations <- animationReport{id: id, name: name}:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current projection.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.stopped() {
		return Snapshot{}, ErrStopped
	}
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshots <- reply:
	case <-s.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// UpdateCatalog replaces the third-party emote catalog used for new messages.
func (s *Session) UpdateCatalog(ctx context.Context, c emote.Catalog) error {
	if s.stopped() {
		return ErrStopped
	}
	select {
	case s.catalogs <- c:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateBadges replaces the badge resolver used by the projection.
func (s *Session) UpdateBadges(ctx context.Context, r badge.Resolver) error {
	if s.stopped() {
		return ErrStopped
	}
	select {
	case s.badgeSets <- r:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
