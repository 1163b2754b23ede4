package storage

import (
	"context"
	"log/slog"
	"time"

	"eurovault/core/types"
)

const journalWriteTimeout = 5 * time.Second

// Journal adapts the store to the module emitter interfaces. Writes are
// best-effort: a failed insert is logged and the originating operation is
// unaffected.
type Journal struct {
	store  *Storage
	logger *slog.Logger
}

// NewJournal wraps the store for event emission.
func NewJournal(store *Storage, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, logger: logger}
}

// Emit journals the event.
func (j *Journal) Emit(evt *types.Event) {
	if j == nil || j.store == nil || evt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.store.AppendEvent(ctx, evt); err != nil {
		j.logger.Error("event journal write failed", "type", evt.Type, "err", err)
	}
}
