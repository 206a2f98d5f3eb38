// Package lifecycle holds the bounded message queue and the timers that move
// records through Displaying, Visible, Expired and Dead.
//
// A Queue is not safe for concurrent use. It is owned by a single event loop
// and every method must be called from that loop.
package lifecycle

import (
	"strings"

	"github.com/john/chatoverlay/internal/message"
)

// DefaultLimit is the capacity used when a non-positive limit is given.
const DefaultLimit = 50

// RetireFunc observes records leaving the queue.
type RetireFunc func(r message.Record)

// Queue is the ordered store of live records.
type Queue struct {
	limit   int
	records []*message.Record
	byID    map[string]*message.Record
	next    uint64

	// OnRetire, if set, is called for every record removed from the queue,
	// whether by sweep, purge or delete.
	OnRetire RetireFunc
}

// NewQueue creates a queue holding at most limit non-swept records before
// capacity eviction kicks in.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{
		limit: limit,
		byID:  make(map[string]*message.Record),
	}
}

// Limit returns the configured capacity.
func (q *Queue) Limit() int { return q.limit }

// Len returns the number of records held, dead ones included.
func (q *Queue) Len() int { return len(q.records) }

// Insert appends r in state Displaying and assigns its arrival order. A record
// whose ID is already queued is ignored and Insert reports false. When the
// queue grows past its limit the oldest records are forced to Dead; the number
// of records newly evicted this way is returned.
func (q *Queue) Insert(r message.Record) (evicted int, ok bool) {
	if _, dup := q.byID[r.ID]; dup {
		return 0, false
	}

	q.next++
	r.Order = q.next
	r.State = message.Displaying
	r.Reason = message.ReasonNone

	rec := &r
	q.records = append(q.records, rec)
	q.byID[rec.ID] = rec

	if excess := len(q.records) - q.limit; excess > 0 {
		for _, old := range q.records[:excess] {
			if old.State != message.Dead {
				old.State = message.Dead
				old.Reason = message.ReasonEvicted
				evicted++
			}
		}
	}
	return evicted, true
}

// EnterAnimationComplete moves a record from Displaying to Visible.
func (q *Queue) EnterAnimationComplete(id string) bool {
	r, ok := q.byID[id]
	if !ok || r.State != message.Displaying {
		return false
	}
	r.State = message.Visible
	return true
}

// TTLFired moves a Displaying or Visible record to Expired. The TTL wins over
// an enter animation that has not reported completion yet.
func (q *Queue) TTLFired(id string) bool {
	r, ok := q.byID[id]
	if !ok || (r.State != message.Displaying && r.State != message.Visible) {
		return false
	}
	r.State = message.Expired
	return true
}

// ExitAnimationComplete moves an Expired record to Dead.
func (q *Queue) ExitAnimationComplete(id string) bool {
	r, ok := q.byID[id]
	if !ok || r.State != message.Expired {
		return false
	}
	r.State = message.Dead
	r.Reason = message.ReasonExpired
	return true
}

// Clear forces every record to Dead. It returns how many changed state.
func (q *Queue) Clear() int {
	n := 0
	for _, r := range q.records {
		if r.State != message.Dead {
			r.State = message.Dead
			r.Reason = message.ReasonCleared
			n++
		}
	}
	return n
}

// PurgeByUser removes every record authored by username, compared
// case-insensitively. Removed records do not need sweeping.
func (q *Queue) PurgeByUser(username string) int {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return 0
	}
	return q.removeWhere(message.ReasonPurged, func(r *message.Record) bool {
		return strings.ToLower(r.Meta.Username) == username
	})
}

// RemoveByID removes the record with the given ID.
func (q *Queue) RemoveByID(id string) bool {
	if _, ok := q.byID[id]; !ok {
		return false
	}
	return q.removeWhere(message.ReasonDeleted, func(r *message.Record) bool {
		return r.ID == id
	}) > 0
}

func (q *Queue) removeWhere(reason message.Reason, match func(*message.Record) bool) int {
	kept := q.records[:0]
	removed := 0
	for _, r := range q.records {
		if !match(r) {
			kept = append(kept, r)
			continue
		}
		delete(q.byID, r.ID)
		removed++
		if r.State != message.Dead {
			r.State = message.Dead
			r.Reason = reason
		}
		q.retire(r)
	}
	clearTail(q.records, len(kept))
	q.records = kept
	return removed
}

// Sweep removes the longest run of Dead records at the head of the queue and
// stops at the first record that is not Dead. Dead records further back stay
// until everything in front of them is dead too.
func (q *Queue) Sweep() int {
	n := 0
	for n < len(q.records) && q.records[n].State == message.Dead {
		r := q.records[n]
		delete(q.byID, r.ID)
		q.retire(r)
		n++
	}
	if n == 0 {
		return 0
	}
	rest := copy(q.records, q.records[n:])
	clearTail(q.records, rest)
	q.records = q.records[:rest]
	return n
}

// Get returns a copy of the record with the given ID.
func (q *Queue) Get(id string) (message.Record, bool) {
	r, ok := q.byID[id]
	if !ok {
		return message.Record{}, false
	}
	return *r, true
}

// Records returns copies of every held record in arrival order.
func (q *Queue) Records() []message.Record {
	out := make([]message.Record, len(q.records))
	for i, r := range q.records {
		out[i] = *r
	}
	return out
}

// Live returns copies of the non-Dead records in arrival order. This is what
// the render projection shows.
func (q *Queue) Live() []message.Record {
	out := make([]message.Record, 0, len(q.records))
	for _, r := range q.records {
		if r.State != message.Dead {
			out = append(out, *r)
		}
	}
	return out
}

func (q *Queue) retire(r *message.Record) {
	if q.OnRetire != nil {
		q.OnRetire(*r)
	}
}

// clearTail drops references past n so removed records can be collected.
func clearTail(s []*message.Record, n int) {
	for i := n; i < len(s); i++ {
		s[i] = nil
	}
}
