package domain

// Subscription is a live query handle. Snapshots delivers complete result
// sets and is closed once the subscription ends.
type Subscription interface {
	Snapshots() <-chan []Task
	Close() error
}
