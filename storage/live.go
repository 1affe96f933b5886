package storage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Live turns a Backend and a Feed into a store with live owner queries.
type Live struct {
	backend    Backend
	feed       Feed
	log        *log.Logger
	retryDelay time.Duration
}

// NewLive combines backend and feed.
func NewLive(backend Backend, feed Feed, logger *log.Logger) *Live {
	if backend == nil || feed == nil {
		panic("storage.NewLive: backend and feed are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Live{backend: backend, feed: feed, log: logger, retryDelay: time.Second}
}

// Subscribe starts a live query. The first snapshot and every snapshot after
// a change are complete result sets in the requested order.
func (l *Live) Subscribe(ctx context.Context, q domain.Query) (domain.Subscription, error) {
	if q.Owner == "" {
		return nil, ErrMissingOwner
	}
	if q.OrderBy != domain.OrderByCreatedAt {
		return nil, ErrUnsupportedOrder
	}
	ctx, cancel := context.WithCancel(ctx)
	changes, err := l.feed.Subscribe(ctx, q.Owner)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &liveSubscription{
		out:    make(chan []domain.Task, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, l, q, changes)
	return s, nil
}

// Get returns a single task regardless of owner.
func (l *Live) Get(ctx context.Context, id string) (domain.Task, error) {
	return l.backend.Get(ctx, id)
}

// Insert stores task and notifies live queries of its owner.
func (l *Live) Insert(ctx context.Context, task domain.Task) (domain.Task, error) {
	stored, err := l.backend.Insert(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	l.publish(ctx, stored.Owner)
	return stored, nil
}

// DeleteByID removes a task of owner and notifies its live queries.
func (l *Live) DeleteByID(ctx context.Context, owner, id string) error {
	if err := l.backend.Delete(ctx, owner, id); err != nil {
		return err
	}
	l.publish(ctx, owner)
	return nil
}

// publish failures are logged only; the write itself succeeded. The
// notification is sent even when the caller's context ended after the write.
func (l *Live) publish(ctx context.Context, owner string) {
	if err := l.feed.Publish(context.WithoutCancel(ctx), owner); err != nil {
		l.log.WithError(err).WithField("owner", owner).Error("publish task change failed")
	}
}

type liveSubscription struct {
	out    chan []domain.Task
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *liveSubscription) Snapshots() <-chan []domain.Task { return s.out }

func (s *liveSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *liveSubscription) run(ctx context.Context, l *Live, q domain.Query, changes <-chan struct{}) {
	defer close(s.done)
	defer close(s.out)

	var retry <-chan time.Time
	refresh := func() {
		retry = nil
		tasks, err := l.backend.List(ctx, q.Owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.WithError(err).WithField("owner", q.Owner).Error("live query fetch failed")
			retry = time.After(l.retryDelay)
			return
		}
		domain.SortTasks(tasks, q.Descending)
		s.deliver(tasks)
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			refresh()
		case <-retry:
			refresh()
		}
	}
}

// deliver replaces an unread snapshot with tasks.
func (s *liveSubscription) deliver(tasks []domain.Task) {
	for {
		select {
		case s.out <- tasks:
			return
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}
