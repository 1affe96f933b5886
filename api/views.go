package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskboard/board"
)

// view is one open board page. Each view owns a controller for as long as its
// event stream is connected.
type view struct {
	id      string
	owner   string
	ctrl    *board.Controller
	surface *surface
	stop    context.CancelFunc
}

// disconnectedTTL bounds how long a closed view id keeps answering 409.
const disconnectedTTL = 10 * time.Minute

type disconnected struct {
	owner string
	at    time.Time
}

type viewRegistry struct {
	mu     sync.Mutex
	views  map[string]*view
	closed map[string]disconnected
	now    func() time.Time
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{
		views:  make(map[string]*view),
		closed: make(map[string]disconnected),
		now:    time.Now,
	}
}

// mount registers v. A view with the same id and owner is replaced and
// returned so its stream can be stopped. It reports false when the id is held
// by another owner.
func (r *viewRegistry) mount(v *view) (*view, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.views[v.id]
	if ok && prev.owner != v.owner {
		return nil, false
	}
	if gone, ok := r.closed[v.id]; ok {
		if gone.owner != v.owner {
			return nil, false
		}
		delete(r.closed, v.id)
	}
	r.views[v.id] = v
	return prev, true
}

// unmount removes v and remembers its id as disconnected.
func (r *viewRegistry) unmount(v *view) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.views[v.id] != v {
		return
	}
	delete(r.views, v.id)
	now := r.now()
	for id, gone := range r.closed {
		if now.Sub(gone.at) > disconnectedTTL {
			delete(r.closed, id)
		}
	}
	r.closed[v.id] = disconnected{owner: v.owner, at: now}
}

func (r *viewRegistry) lookup(id string) (*view, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	return v, ok
}

// disconnectedOwner returns the owner of a view whose stream has ended.
func (r *viewRegistry) disconnectedOwner(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gone, ok := r.closed[id]
	if !ok || r.now().Sub(gone.at) > disconnectedTTL {
		return "", false
	}
	return gone.owner, true
}

func (r *viewRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

const defaultClipboardTimeout = 10 * time.Second

var (
	errViewClosed        = errors.New("view is closed")
	errViewBusy          = errors.New("view is not reading events")
	errClipboardRejected = errors.New("browser could not write to the clipboard")
	errClipboardTimeout  = errors.New("browser did not confirm the clipboard write")
)

type surfaceEvent struct {
	name    string
	payload any
}

// surface forwards clipboard writes and notifications to the browser over the
// view's event stream. A clipboard write completes only when the page posts
// back the outcome for its ack id.
type surface struct {
	events  chan surfaceEvent
	timeout time.Duration
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	acks   map[string]chan bool
}

func newSurface(timeout time.Duration) *surface {
	if timeout <= 0 {
		timeout = defaultClipboardTimeout
	}
	return &surface{
		events:  make(chan surfaceEvent, 8),
		timeout: timeout,
		done:    make(chan struct{}),
		acks:    make(map[string]chan bool),
	}
}

func (s *surface) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := uuid.NewString()
	result := make(chan bool, 1)
	s.mu.Lock()
	s.acks[id] = result
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.acks, id)
		s.mu.Unlock()
	}()

	if err := s.push(surfaceEvent{name: "clipboard", payload: clipboardEvent{Text: text, Ack: id}}); err != nil {
		return err
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case ok := <-result:
		if !ok {
			return errClipboardRejected
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errViewClosed
	case <-timer.C:
		return errClipboardTimeout
	}
}

// ack delivers the page's outcome for a pending clipboard write. It reports
// false when no write with that id is waiting.
func (s *surface) ack(id string, ok bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, found := s.acks[id]
	if !found {
		return false
	}
	delete(s.acks, id)
	result <- ok
	return true
}

func (s *surface) Notify(message string) {
	_ = s.push(surfaceEvent{name: "notify", payload: notifyEvent{Message: message}})
}

func (s *surface) push(ev surfaceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errViewClosed
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return errViewBusy
	}
}

func (s *surface) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

type clipboardEvent struct {
	Text string `json:"text"`
	Ack  string `json:"ack"`
}

type clipboardAck struct {
	OK bool `json:"ok"`
}

type notifyEvent struct {
	Message string `json:"message"`
}
