// SPDX-License-Identifier: MIT

// Package broadcast fans a single camera's media fragments out to any
// number of HTTP subscribers, and keeps a late-joiner cache so a new
// subscriber can start rendering immediately instead of waiting for the
// next keyframe.
//
// A Go slice header is the same "cheap reference, shared backing array"
// shape as the Arc<Bytes> the original desktop prototype broadcasts: every
// subscriber gets its own slice header over the same bytes, so fanning a
// 200 KB fragment out to N clients costs N slice copies, not N byte
// copies. Callers must never mutate a []byte after handing it to
// Broadcast.
package broadcast

import "sync"

const (
	// subscriberBuffer bounds how many fragments a single slow subscriber
	// can fall behind before the oldest buffered one is dropped.
	subscriberBuffer = 32

	// ringCap bounds the late-joiner fragment cache.
	ringCap = 120
)

// Fragment is a single unit handed to subscribers: either the once-per-
// attempt init segment or a media fragment.
type Fragment struct {
	Data     []byte
	Keyframe bool
}

// Subscriber is a per-client channel of fragments. The zero value is not
// usable; obtain one via Hub.Subscribe.
type Subscriber struct {
	ch chan Fragment
}

// C returns the channel to range over for fragments. It is never closed
// except by Hub.Unsubscribe's caller discarding the Subscriber; readers
// should stop reading once they no longer hold a reference.
func (s *Subscriber) C() <-chan Fragment {
	return s.ch
}

// Hub is the broadcast fabric and late-joiner cache for a single camera.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	initSegment []byte
	ring        [][]byte
}

// NewHub returns an empty hub with no cached init segment or fragments.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber and returns a late-joiner snapshot:
// the cached init segment (nil if none yet) and the cached fragment ring,
// both to be sent to the new client before it starts reading from C().
func (h *Hub) Subscribe() (sub *Subscriber, initSegment []byte, cached [][]byte) {
	sub = &Subscriber{ch: make(chan Fragment, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}

	if h.initSegment != nil {
		initSegment = append([]byte(nil), h.initSegment...)
	}
	if len(h.ring) > 0 {
		cached = make([][]byte, len(h.ring))
		copy(cached, h.ring)
	}
	return sub, initSegment, cached
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// SubscriberCount reports how many subscribers currently hold a channel.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishInit stores and broadcasts the camera's init segment. Called once
// per worker attempt, when the parser's moov box completes.
func (h *Hub) PublishInit(data []byte) {
	h.mu.Lock()
	h.initSegment = data
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		send(s.ch, Fragment{Data: data})
	}
}

// PublishFragment updates the late-joiner cache and fans the fragment out
// to every current subscriber. A keyframed fragment clears the cache
// before pushing itself, since a GOP boundary invalidates everything
// buffered before it for a new joiner. If there are no subscribers the
// send is skipped entirely — the common case for a background camera
// nobody is viewing.
func (h *Hub) PublishFragment(frag Fragment) {
	h.mu.Lock()
	if frag.Keyframe {
		h.ring = h.ring[:0]
	}
	h.ring = append(h.ring, frag.Data)
	if len(h.ring) > ringCap {
		h.ring = h.ring[len(h.ring)-ringCap:]
	}

	if len(h.subs) == 0 {
		h.mu.Unlock()
		return
	}
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		send(s.ch, frag)
	}
}

// Reset drops the init segment and fragment cache, the same recovery path
// taken when a worker attempt ends and the next attempt starts fresh.
// Current subscribers stay subscribed; they simply receive nothing until
// the new attempt's first init segment arrives.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.initSegment = nil
	h.ring = nil
	h.mu.Unlock()
}

// send delivers a fragment to a subscriber's channel without blocking the
// producer. On a full channel — a lagging consumer — the oldest buffered
// fragment is dropped to make room rather than disconnecting the client:
// forcing a lagging MSE pipeline to rebuild from scratch is worse than
// having it resume from the oldest fragment still available.
func send(ch chan Fragment, frag Fragment) {
	for {
		select {
		case ch <- frag:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
