package engine

import (
	"context"
	"sync"

	"github.com/davidthor/vmprov/pkg/tracker"
)

// hub wakes watchers of a deployment when its record changes. Wakeups are
// coalesced; a watcher always re-reads the latest record.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *hub) notify(_ tracker.Status, rec tracker.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[rec.ID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *hub) subscribe(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan struct{}]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[id], ch)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
	}
}

// Watch streams the record of a deployment: the current record first, then
// every change until the record is terminal or ctx is done. The channel is
// closed afterwards. Intermediate records may be skipped if the reader is
// slow, the terminal record never is.
func (o *Orchestrator) Watch(ctx context.Context, id string) (<-chan tracker.Record, error) {
	wake, cancel := o.watchers.subscribe(id)

	rec, err := o.tracker.Get(id)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan tracker.Record)
	go func() {
		defer close(out)
		defer cancel()

		last := rec
		if !send(ctx, out, last) {
			return
		}
		for !last.Status.Terminal() {
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}

			cur, err := o.tracker.Get(id)
			if err != nil {
				return
			}
			if changed(last, cur) {
				if !send(ctx, out, cur) {
					return
				}
			}
			last = cur
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- tracker.Record, rec tracker.Record) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

func changed(a, b tracker.Record) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.Message != b.Message
}
