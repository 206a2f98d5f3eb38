// Package ingest turns transport events into queue operations.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/message"
	"github.com/john/chatoverlay/internal/metrics"
	"github.com/john/chatoverlay/internal/role"
)

// DefaultClearCommand wipes the overlay when sent by a broadcaster or moderator.
const DefaultClearCommand = "!clear"

const commandMarker = "!"

// Queue is the subset of the lifecycle queue ingestion drives.
type Queue interface {
	Insert(r message.Record) (evicted int, ok bool)
	Clear() int
	PurgeByUser(username string) int
	RemoveByID(id string) bool
}

// Scheduler arms the TTL of freshly inserted records.
type Scheduler interface {
	Schedule(id string)
}

// Renderer produces the display text of a record.
type Renderer func(text string, natives []message.EmoteAnnotation) string

// Outcome tells what ingestion did with an event.
type Outcome int

const (
	Inserted Outcome = iota
	Duplicate
	Cleared
	DroppedCommand
	DroppedExcluded
	Purged
	Deleted
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Cleared:
		return "cleared"
	case DroppedCommand:
		return "dropped_command"
	case DroppedExcluded:
		return "dropped_excluded"
	case Purged:
		return "purged"
	case Deleted:
		return "deleted"
	}
	return "ignored"
}

// Options is the filtering policy, fixed for the session.
type Options struct {
	HideCommands bool
	ClearCommand string
	Exclude      map[string]struct{}
}

// Stage applies command and exclusion policy and feeds the queue.
type Stage struct {
	queue  Queue
	ttl    Scheduler
	render Renderer
	opts   Options
	log    *zap.Logger

	now   func() time.Time
	newID func(time.Time) string
}

// New creates an ingestion stage. render may be nil, in which case the raw
// text is used as display text.
func New(log *zap.Logger, q Queue, ttl Scheduler, render Renderer, opts Options) *Stage {
	if opts.ClearCommand == "" {
		opts.ClearCommand = DefaultClearCommand
	}
	if render == nil {
		render = func(text string, _ []message.EmoteAnnotation) string { return text }
	}
	return &Stage{
		queue:  q,
		ttl:    ttl,
		render: render,
		opts:   opts,
		log:    log.Named("ingest"),
		now:    time.Now,
		newID:  syntheticID,
	}
}

// Handle dispatches a transport event.
func (s *Stage) Handle(ev message.Event) Outcome {
	var out Outcome
	switch ev := ev.(type) {
	case message.ChatEvent:
		out = s.HandleChat(ev)
	case message.ClearChatEvent:
		out = s.HandleClearChat(ev)
	case message.BanEvent:
		out = s.HandleBan(ev)
	case message.TimeoutEvent:
		out = s.HandleTimeout(ev)
	case message.DeletedEvent:
		out = s.HandleDeleted(ev)
	default:
		out = Ignored
	}
	metrics.Ingested.WithLabelValues(out.String()).Inc()
	return out
}

// HandleChat runs the command, exclusion and insertion policy for one line.
func (s *Stage) HandleChat(ev message.ChatEvent) Outcome {
	meta := ev.Meta.Normalize()
	r := role.Resolve(meta)

	if strings.HasPrefix(ev.Text, commandMarker) {
		if r.Privileged() && ev.Text == s.opts.ClearCommand {
			n := s.queue.Clear()
			s.log.Info("chat cleared by command", zap.String("by", meta.Username), zap.Int("records", n))
			return Cleared
		}
		if s.opts.HideCommands {
			return DroppedCommand
		}
	}

	if _, excluded := s.opts.Exclude[meta.Username]; excluded {
		return DroppedExcluded
	}

	now := s.now()
	id := meta.ID
	if id == "" {
		id = s.newID(now)
	}

	rec := message.Record{
		ID:        id,
		Text:      ev.Text,
		HTML:      s.render(ev.Text, meta.Emotes),
		Meta:      meta,
		Role:      r,
		ArrivedAt: now,
	}

	evicted, ok := s.queue.Insert(rec)
	if !ok {
		s.log.Debug("duplicate message ignored", zap.String("id", id))
		return Duplicate
	}
	if evicted > 0 {
		metrics.Evicted.Add(float64(evicted))
	}
	if s.ttl != nil {
		s.ttl.Schedule(id)
	}
	return Inserted
}

// HandleClearChat wipes the queue.
func (s *Stage) HandleClearChat(ev message.ClearChatEvent) Outcome {
	n := s.queue.Clear()
	s.log.Info("chat cleared", zap.String("channel", ev.Channel), zap.Int("records", n))
	return Cleared
}

// HandleBan removes every message of the banned user.
func (s *Stage) HandleBan(ev message.BanEvent) Outcome {
	return s.purge(ev.Username, "ban")
}

// HandleTimeout removes every message of the timed out user.
func (s *Stage) HandleTimeout(ev message.TimeoutEvent) Outcome {
	return s.purge(ev.Username, "timeout")
}

func (s *Stage) purge(username, cause string) Outcome {
	n := s.queue.PurgeByUser(username)
	metrics.Removed.WithLabelValues(cause).Add(float64(n))
	s.log.Info("user purged", zap.String("username", username), zap.String("cause", cause), zap.Int("records", n))
	return Purged
}

// HandleDeleted removes the single targeted message.
func (s *Stage) HandleDeleted(ev message.DeletedEvent) Outcome {
	if s.queue.RemoveByID(ev.TargetID) {
		metrics.Removed.WithLabelValues("deleted").Inc()
	}
	return Deleted
}

// syntheticID builds an id for messages the transport did not tag.
func syntheticID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
