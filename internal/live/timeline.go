package live

import (
	"sync"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

// Timeline is the id-keyed render state for one open conversation. A
// message a viewer sends shows up twice — once as the optimistic local echo
// and once as the feed delivery carrying the same id — and Apply collapses
// the pair: the first arrival inserts, every later arrival with a known id
// is a merge no-op. The same rule absorbs at-least-once feed redelivery.
type Timeline struct {
	mu    sync.Mutex
	order []string
	byID  map[string]domain.Message
}

func NewTimeline(initial []domain.Message) *Timeline {
	t := &Timeline{byID: make(map[string]domain.Message, len(initial))}
	for _, m := range initial {
		t.Apply(m)
	}
	return t
}

// Apply records the message and reports whether it was new.
func (t *Timeline) Apply(m domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[m.ID]; ok {
		return false
	}
	t.byID[m.ID] = m
	t.order = append(t.order, m.ID)
	return true
}

// Messages returns the rendered view in arrival order.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Message, len(t.order))
	for i, id := range t.order {
		out[i] = t.byID[id]
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// LastID returns the id of the most recently applied message, or "".
func (t *Timeline) LastID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return ""
	}
	return t.order[len(t.order)-1]
}
