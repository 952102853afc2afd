package call

import "sync"

// handlerSet holds the per-call event listeners. Unsubscribing is done via
// the closure returned at registration time.
type handlerSet struct {
	mu           sync.Mutex
	nextID       int
	feedsChanged map[int]func()
	stateChanged map[int]func(State, State)
	hangup       map[int]func()
	replaced     map[int]func(Call)
}

func newHandlerSet() *handlerSet {
	return &handlerSet{
		feedsChanged: make(map[int]func()),
		stateChanged: make(map[int]func(State, State)),
		hangup:       make(map[int]func()),
		replaced:     make(map[int]func(Call)),
	}
}

func (h *handlerSet) onFeedsChanged(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.feedsChanged[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.feedsChanged, id)
	}
}

func (h *handlerSet) onStateChanged(fn func(State, State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.stateChanged[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.stateChanged, id)
	}
}

func (h *handlerSet) onHangup(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.hangup[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.hangup, id)
	}
}

func (h *handlerSet) onReplaced(fn func(Call)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.replaced[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.replaced, id)
	}
}

func (h *handlerSet) fireFeedsChanged() {
	for _, fn := range h.snapshotFeeds() {
		fn()
	}
}

func (h *handlerSet) fireStateChanged(newState, oldState State) {
	h.mu.Lock()
	fns := make([]func(State, State), 0, len(h.stateChanged))
	for _, fn := range h.stateChanged {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(newState, oldState)
	}
}

func (h *handlerSet) fireHangup() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.hangup))
	for _, fn := range h.hangup {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *handlerSet) fireReplaced(replacement Call) {
	h.mu.Lock()
	fns := make([]func(Call), 0, len(h.replaced))
	for _, fn := range h.replaced {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(replacement)
	}
}

func (h *handlerSet) snapshotFeeds() []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(), 0, len(h.feedsChanged))
	for _, fn := range h.feedsChanged {
		fns = append(fns, fn)
	}
	return fns
}
