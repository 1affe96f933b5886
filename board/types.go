package board

import (
	"context"
	"errors"

	"taskboard/domain"
)

// DocumentStore holds task records and evaluates live owner queries.
type DocumentStore interface {
	Subscribe(ctx context.Context, q domain.Query) (domain.Subscription, error)
	// Insert stores task and returns it with the id assigned by the store.
	Insert(ctx context.Context, task domain.Task) (domain.Task, error)
	DeleteByID(ctx context.Context, owner, id string) error
}

// Clipboard receives share links.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Notifier shows a confirmation to the user.
type Notifier interface {
	Notify(message string)
}

// State is what a view renders.
type State struct {
	DraftText     string        `json:"draftText"`
	DraftIsPublic bool          `json:"draftIsPublic"`
	Tasks         []domain.Task `json:"tasks"`
}

// ShareConfirmation is shown after a share link was copied.
const ShareConfirmation = "URL copied successfully"

var (
	ErrNoOwner        = errors.New("board: owner identity is required")
	ErrEmptyDraft     = errors.New("board: task text is empty")
	ErrNotInitialized = errors.New("board: controller is not subscribed")
	ErrClosed         = errors.New("board: controller is closed")
)
