package sync

import (
	"context"
	"fmt"
	"strconv"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// HistorySource fetches pages of chat history.
type HistorySource interface {
	ChatMessages(ctx context.Context, chatID int64, cursor string, limit int, dir rest.Direction) (rest.MessagesPage, error)
}

// Checkpoints records sync cursors by key.
type Checkpoints interface {
	UpdateCheckpoint(key, value string) error
}

// Reconciler fetches REST history and merges it through the engine.
type Reconciler struct {
	src    HistorySource
	engine *Engine
	limit  int
	logger *zap.Logger

	mu          gosync.Mutex
	checkpoints Checkpoints
	cursors     map[string]string
}

// NewReconciler creates a new reconciler. A non-positive limit means
// rest.DefaultLimit. cp may be nil.
func NewReconciler(src HistorySource, engine *Engine, limit int, cp Checkpoints, logger *zap.Logger) *Reconciler {
	if limit <= 0 {
		limit = rest.DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		src:         src,
		engine:      engine,
		limit:       limit,
		logger:      logger.Named("reconciler"),
		checkpoints: cp,
		cursors:     make(map[string]string),
	}
}

func cursorKey(convID int64) string {
	return "history.older." + strconv.FormatInt(convID, 10)
}

// FetchHistory merges the newest page of a conversation. It runs on every
// (re)connect; the page never replaces live messages.
func (r *Reconciler) FetchHistory(ctx context.Context, convID int64) ([]timeline.Message, error) {
	page, err := r.src.ChatMessages(ctx, convID, "", r.limit, rest.Older)
	if err != nil {
		return nil, fmt.Errorf("fetch history of %d: %w", convID, err)
	}
	if _, ok := r.checkpoint(convID); !ok {
		r.saveCheckpoint(convID, page)
	}
	return r.engine.IngestHistory(convID, page.Timeline(convID), page.Pagination.HasNext), nil
}

// LoadOlder merges the page before the oldest one fetched so far. It
// reports false when the server has nothing older.
func (r *Reconciler) LoadOlder(ctx context.Context, convID int64) ([]timeline.Message, bool, error) {
	cursor, ok := r.checkpoint(convID)
	if !ok {
		applied, err := r.FetchHistory(ctx, convID)
		if err != nil {
			return nil, false, err
		}
		next, _ := r.checkpoint(convID)
		return applied, next != "", nil
	}
	if cursor == "" {
		return nil, false, nil
	}

	page, err := r.src.ChatMessages(ctx, convID, cursor, r.limit, rest.Older)
	if err != nil {
		return nil, false, fmt.Errorf("fetch older history of %d: %w", convID, err)
	}
	r.saveCheckpoint(convID, page)
	applied := r.engine.IngestHistory(convID, page.Timeline(convID), page.Pagination.HasNext)
	return applied, page.Pagination.HasNext, nil
}

// Forget drops the cursor of a conversation.
func (r *Reconciler) Forget(convID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, cursorKey(convID))
}

// Reset drops every cursor.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = make(map[string]string)
}

// checkpoint returns the older-page cursor. An empty cursor with ok means
// the oldest page has been reached.
func (r *Reconciler) checkpoint(convID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cursorKey(convID)
	v, ok := r.cursors[key]
	return v, ok
}

func (r *Reconciler) saveCheckpoint(convID int64, page rest.MessagesPage) {
	value := ""
	if page.Pagination.HasNext {
		value = page.Pagination.NextCursor
	}
	key := cursorKey(convID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[key] = value
	if r.checkpoints != nil {
		if err := r.checkpoints.UpdateCheckpoint(key, value); err != nil {
			r.logger.Warn("failed to persist checkpoint", zap.String("key", key), zap.Error(err))
		}
	}
}
