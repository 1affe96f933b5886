package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Feed carries "owner's tasks changed" notifications between writers and
// live queries.
type Feed interface {
	Publish(ctx context.Context, owner string) error
	// Subscribe returns a channel that receives a value after changes for
	// owner. Bursts may be coalesced into one value. The channel is closed
	// once ctx is done.
	Subscribe(ctx context.Context, owner string) (<-chan struct{}, error)
}

// LocalFeed fans notifications out within one process.
type LocalFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewLocalFeed returns an empty in-process feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[chan struct{}]struct{})}
}

func (f *LocalFeed) Subscribe(ctx context.Context, owner string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	if f.subs[owner] == nil {
		f.subs[owner] = make(map[chan struct{}]struct{})
	}
	f.subs[owner][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.subs[owner]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(f.subs, owner)
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (f *LocalFeed) Publish(ctx context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

const changesChannelPrefix = "taskboard:changes:"

type changeMessage struct {
	Owner string `json:"owner"`
	At    int64  `json:"at"`
}

// RedisFeed publishes notifications on a per-owner Redis channel so every
// instance serving that owner refreshes its live queries.
type RedisFeed struct {
	redis          *redis.Client
	log            *log.Logger
	reconnectDelay time.Duration
}

// NewRedisFeed creates a feed on top of the given client.
func NewRedisFeed(client *redis.Client, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisFeed{redis: client, log: logger, reconnectDelay: time.Second}
}

func changesChannel(owner string) string {
	return changesChannelPrefix + owner
}

func (f *RedisFeed) Publish(ctx context.Context, owner string) error {
	payload, err := sonic.Marshal(changeMessage{Owner: owner, At: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return f.redis.Publish(ctx, changesChannel(owner), payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so a change
// published after Subscribe returns is never missed.
func (f *RedisFeed) Subscribe(ctx context.Context, owner string) (<-chan struct{}, error) {
	sub, err := f.subscribe(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go f.forward(ctx, owner, sub, out)
	return out, nil
}

func (f *RedisFeed) subscribe(ctx context.Context, owner string) (*redis.PubSub, error) {
	sub := f.redis.Subscribe(ctx, changesChannel(owner))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (f *RedisFeed) forward(ctx context.Context, owner string, sub *redis.PubSub, out chan struct{}) {
	defer close(out)
	for {
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break recv
				}
				signal(out)
			}
		}
		_ = sub.Close()
		f.log.WithField("owner", owner).Error("pubsub channel closed, reconnecting")
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.reconnectDelay):
			}
			next, err := f.subscribe(ctx, owner)
			if err != nil {
				f.log.WithError(err).WithField("owner", owner).Error("pubsub resubscribe failed")
				continue
			}
			sub = next
			break
		}
		// Changes may have been missed while disconnected.
		signal(out)
	}
}

func signal(out chan struct{}) {
	select {
	case out <- struct{}{}:
	default:
	}
}
