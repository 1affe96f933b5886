package board

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Options configures a Controller.
type Options struct {
	// BaseURL prefixes share links, e.g. https://tasks.example.com.
	BaseURL   string
	Clipboard Clipboard
	Notifier  Notifier
	Logger    *log.Logger
	Now       func() time.Time
}

// Controller is the view-model behind a task board. It keeps the owner's task
// list in sync with one live query and turns user actions into store requests.
// The list only changes when the store delivers a new snapshot.
type Controller struct {
	store     DocumentStore
	clipboard Clipboard
	notifier  Notifier
	baseURL   string
	log       *log.Logger
	now       func() time.Time

	// lifecycle serializes Initialize and Close.
	lifecycle sync.Mutex

	mu            sync.Mutex
	owner         string
	draftText     string
	draftIsPublic bool
	tasks         []domain.Task
	sub           domain.Subscription
	cancel        context.CancelFunc
	done          chan struct{}
	closed        bool
	changes       chan State
}

// New returns an uninitialized controller.
func New(store DocumentStore, opts Options) *Controller {
	if store == nil {
		panic("board.New: store is nil")
	}
	c := &Controller{
		store:     store,
		clipboard: opts.Clipboard,
		notifier:  opts.Notifier,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		log:       opts.Logger,
		now:       opts.Now,
		changes:   make(chan State, 1),
	}
	if c.log == nil {
		c.log = log.StandardLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Initialize opens the live query for owner. A previous subscription is
// released first. The subscription lives until Close or until ctx is done.
func (c *Controller) Initialize(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrNoOwner
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev, prevCancel, prevDone := c.detachLocked()
	c.mu.Unlock()

	if prev != nil {
		if err := release(prev, prevCancel, prevDone); err != nil {
			c.log.WithError(err).WithField("owner", c.Owner()).Warn("board: release previous subscription")
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := c.store.Subscribe(subCtx, domain.OwnerQuery(owner))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to tasks of %s: %w", owner, err)
	}
	done := make(chan struct{})

	c.mu.Lock()
	c.owner = owner
	c.tasks = nil
	c.sub = sub
	c.cancel = cancel
	c.done = done
	c.publishLocked()
	c.mu.Unlock()

	go c.consume(sub, done)

	c.log.WithField("owner", owner).Debug("board: subscribed")
	return nil
}

func (c *Controller) consume(sub domain.Subscription, done chan struct{}) {
	defer close(done)
	for snapshot := range sub.Snapshots() {
		c.apply(sub, snapshot)
	}
}

// apply replaces the task list wholesale with snapshot.
func (c *Controller) apply(sub domain.Subscription, snapshot []domain.Task) {
	tasks := make([]domain.Task, len(snapshot))
	copy(tasks, snapshot)
	domain.SortTasks(tasks, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return
	}
	c.tasks = tasks
	c.publishLocked()
}

// State returns a copy of the current view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Owner returns the identity the controller is subscribed for.
func (c *Controller) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Changes delivers the latest state after every change. Intermediate states
// may be skipped when the reader falls behind. The channel is closed by Close.
func (c *Controller) Changes() <-chan State {
	return c.changes
}

// UpdateDraftText sets the draft text. Validation happens on submit.
func (c *Controller) UpdateDraftText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draftText = text
	c.publishLocked()
}

// UpdateDraftVisibility sets whether the next task is public.
func (c *Controller) UpdateDraftVisibility(public bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draftIsPublic = public
	c.publishLocked()
}

// SubmitTask inserts the draft as a new task. A blank draft returns
// ErrEmptyDraft without contacting the store. On success the draft is reset;
// the task shows up with the next snapshot.
func (c *Controller) SubmitTask(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	task := domain.Task{
		Text:     c.draftText,
		IsPublic: c.draftIsPublic,
		Owner:    c.owner,
	}
	c.mu.Unlock()

	if domain.BlankText(task.Text) {
		return ErrEmptyDraft
	}
	task.CreatedAt = c.now().UTC()

	stored, err := c.store.Insert(ctx, task)
	if err != nil {
		c.log.WithError(err).WithFields(log.Fields{
			"owner":  task.Owner,
			"public": task.IsPublic,
		}).Error("board: insert task failed")
		return fmt.Errorf("submit task: %w", err)
	}

	c.mu.Lock()
	c.draftText = ""
	c.draftIsPublic = false
	c.publishLocked()
	c.mu.Unlock()

	c.log.WithFields(log.Fields{"owner": stored.Owner, "task": stored.ID}).Debug("board: task submitted")
	return nil
}

// DeleteTask asks the store to delete id. The list is not touched locally.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	owner := c.owner
	c.mu.Unlock()

	if err := c.store.DeleteByID(ctx, owner, id); err != nil {
		c.log.WithError(err).WithFields(log.Fields{"owner": owner, "task": id}).Error("board: delete task failed")
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// ShareTask copies the public link of id to the clipboard and confirms it to
// the user. A failed clipboard write is retried once.
func (c *Controller) ShareTask(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if c.clipboard == nil {
		return "", fmt.Errorf("share task %s: no clipboard configured", id)
	}

	link := c.ShareURL(id)
	err := c.clipboard.WriteText(ctx, link)
	if err != nil {
		c.log.WithError(err).WithField("task", id).Warn("board: clipboard write failed, retrying")
		err = c.clipboard.WriteText(ctx, link)
	}
	if err != nil {
		c.log.WithError(err).WithField("task", id).Error("board: clipboard write failed")
		return "", fmt.Errorf("share task %s: %w", id, err)
	}
	if c.notifier != nil {
		c.notifier.Notify(ShareConfirmation)
	}
	return link, nil
}

// ShareURL builds the public link of a task.
func (c *Controller) ShareURL(id string) string {
	return c.baseURL + "/task/" + id
}

// Close releases the live query and closes Changes. It is safe to call more
// than once.
func (c *Controller) Close() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, cancel, done := c.detachLocked()
	c.mu.Unlock()

	var err error
	if sub != nil {
		err = release(sub, cancel, done)
	}

	c.mu.Lock()
	close(c.changes)
	c.mu.Unlock()
	return err
}

func (c *Controller) readyLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.sub == nil {
		return ErrNotInitialized
	}
	return nil
}

func (c *Controller) detachLocked() (domain.Subscription, context.CancelFunc, chan struct{}) {
	sub, cancel, done := c.sub, c.cancel, c.done
	c.sub, c.cancel, c.done = nil, nil, nil
	return sub, cancel, done
}

func (c *Controller) stateLocked() State {
	tasks := make([]domain.Task, len(c.tasks))
	copy(tasks, c.tasks)
	return State{DraftText: c.draftText, DraftIsPublic: c.draftIsPublic, Tasks: tasks}
}

// publishLocked replaces any unread state with the current one.
func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	s := c.stateLocked()
	for {
		select {
		case c.changes <- s:
			return
		default:
		}
		select {
		case <-c.changes:
		default:
		}
	}
}

func release(sub domain.Subscription, cancel context.CancelFunc, done chan struct{}) error {
	cancel()
	err := sub.Close()
	<-done
	return err
}
