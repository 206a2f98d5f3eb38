package ingest

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/john/chatoverlay/internal/lifecycle"
	"github.com/john/chatoverlay/internal/message"
)

type recordingScheduler struct {
	ids []string
}

func (s *recordingScheduler) Schedule(id string) { s.ids = append(s.ids, id) }

func newStage(t *testing.T, limit int, opts Options) (*Stage, *lifecycle.Queue, *recordingScheduler) {
	t.Helper()
	q := lifecycle.NewQueue(limit)
	sched := &recordingScheduler{}
	return New(zaptest.NewLogger(t), q, sched, nil, opts), q, sched
}

func chat(id, user, text string, badges ...string) message.ChatEvent {
	meta := message.Metadata{ID: id, Username: user, Channel: "#chan"}
	for _, b := range badges {
		meta.Badges = append(meta.Badges, message.Badge{Set: b, Version: "1"})
	}
	return message.ChatEvent{Meta: meta, Text: text}
}

func liveIDs(q *lifecycle.Queue) []string {
	var out []string
	for _, r := range q.Live() {
		out = append(out, r.ID)
	}
	return out
}

func TestHandleChatInserts(t *testing.T) {
	s, q, sched := newStage(t, 10, Options{})

	if got := s.Handle(chat("1", "Viewer", "hello", "subscriber")); got != Inserted {
		t.Fatalf("outcome = %v, want inserted", got)
	}

	r, ok := q.Get("1")
	if !ok {
		t.Fatal("record not queued")
	}
	if r.State != message.Displaying || r.Role != message.RoleSubscriber {
		t.Errorf("record = %v/%v", r.State, r.Role)
	}
	if r.Meta.Username != "viewer" || r.Meta.DisplayName != "viewer" || r.Meta.Channel != "chan" {
		t.Errorf("metadata not normalized: %+v", r.Meta)
	}
	if diff := cmp.Diff([]string{"1"}, sched.ids); diff != "" {
		t.Errorf("scheduled mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleChatDuplicate(t *testing.T) {
	s, q, sched := newStage(t, 10, Options{})
	s.Handle(chat("1", "a", "hi"))

	if got := s.Handle(chat("1", "a", "hi")); got != Duplicate {
		t.Errorf("outcome = %v, want duplicate", got)
	}
	if q.Len() != 1 || len(sched.ids) != 1 {
		t.Errorf("len=%d scheduled=%d", q.Len(), len(sched.ids))
	}
}

func TestClearCommand(t *testing.T) {
	tests := []struct {
		name    string
		ev      message.ChatEvent
		hide    bool
		want    Outcome
		wantIDs []string
	}{
		{"broadcaster clears", chat("c", "owner", "!clear", "broadcaster"), false, Cleared, nil},
		{"moderator clears", chat("c", "mod", "!clear", "moderator"), false, Cleared, nil},
		{"viewer command is chat", chat("c", "viewer", "!clear"), false, Inserted, []string{"a", "c"}},
		{"viewer command hidden", chat("c", "viewer", "!clear"), true, DroppedCommand, []string{"a"}},
		{"mod other command hidden", chat("c", "mod", "!uptime", "moderator"), true, DroppedCommand, []string{"a"}},
		{"clear needs exact text", chat("c", "mod", "!clear now", "moderator"), false, Inserted, []string{"a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, q, _ := newStage(t, 10, Options{HideCommands: tt.hide})
			s.Handle(chat("a", "someone", "first"))

			if got := s.Handle(tt.ev); got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
			if diff := cmp.Diff(tt.wantIDs, liveIDs(q)); diff != "" {
				t.Errorf("live mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModFlagCanClear(t *testing.T) {
	s, q, _ := newStage(t, 10, Options{})
	s.Handle(chat("a", "someone", "first"))

	ev := chat("c", "mod", "!clear")
	ev.Meta.Mod = true
	if got := s.Handle(ev); got != Cleared {
		t.Errorf("outcome = %v, want cleared", got)
	}
	if len(q.Live()) != 0 {
		t.Error("queue not cleared")
	}
}

func TestExcludedUsers(t *testing.T) {
	s, q, _ := newStage(t, 10, Options{Exclude: map[string]struct{}{"nightbot": {}}})

	if got := s.Handle(chat("1", "Nightbot", "buy followers")); got != DroppedExcluded {
		t.Errorf("outcome = %v, want dropped_excluded", got)
	}
	if q.Len() != 0 {
		t.Error("excluded message queued")
	}
}

func TestSyntheticIDs(t *testing.T) {
	s, q, _ := newStage(t, 10, Options{})
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	s.Handle(chat("", "a", "one"))
	s.Handle(chat("", "a", "two"))

	records := q.Records()
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	pattern := regexp.MustCompile(`^1700000000123-[0-9a-f]{9}$`)
	for _, r := range records {
		if !pattern.MatchString(r.ID) {
			t.Errorf("id %q does not match %s", r.ID, pattern)
		}
	}
	if records[0].ID == records[1].ID {
		t.Error("synthetic ids collided")
	}
}

func TestRendererIsApplied(t *testing.T) {
	q := lifecycle.NewQueue(10)
	render := func(text string, natives []message.EmoteAnnotation) string {
		return "<b>" + text + "</b>"
	}
	s := New(zaptest.NewLogger(t), q, nil, render, Options{})
	s.Handle(chat("1", "a", "hi"))

	if r, _ := q.Get("1"); r.HTML != "<b>hi</b>" || r.Text != "hi" {
		t.Errorf("record text=%q html=%q", r.Text, r.HTML)
	}
}

func TestModerationEvents(t *testing.T) {
	s, q, _ := newStage(t, 10, Options{})
	s.Handle(chat("1", "troll", "a"))
	s.Handle(chat("2", "friend", "b"))
	s.Handle(chat("3", "troll", "c"))
	s.Handle(chat("4", "other", "d"))
	s.Handle(chat("5", "spammer", "e"))

	if got := s.Handle(message.BanEvent{Username: "Troll"}); got != Purged {
		t.Errorf("ban outcome = %v", got)
	}
	if got := s.Handle(message.TimeoutEvent{Username: "spammer", Duration: time.Minute}); got != Purged {
		t.Errorf("timeout outcome = %v", got)
	}
	if got := s.Handle(message.DeletedEvent{TargetID: "4"}); got != Deleted {
		t.Errorf("delete outcome = %v", got)
	}
	if diff := cmp.Diff([]string{"2"}, liveIDs(q)); diff != "" {
		t.Errorf("live mismatch (-want +got):\n%s", diff)
	}

	if got := s.Handle(message.ClearChatEvent{}); got != Cleared {
		t.Errorf("clearchat outcome = %v", got)
	}
	if len(q.Live()) != 0 {
		t.Error("queue not cleared")
	}
}

func TestLimitTwoEndToEnd(t *testing.T) {
	s, q, _ := newStage(t, 2, Options{})
	for _, id := range []string{"A", "B", "C"} {
		s.Handle(chat(id, "u", "msg "+id))
	}
	if diff := cmp.Diff([]string{"B", "C"}, liveIDs(q)); diff != "" {
		t.Errorf("live mismatch (-want +got):\n%s", diff)
	}
}
