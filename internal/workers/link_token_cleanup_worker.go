package workers

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// LinkTokenCleanupWorker removes expired or consumed auth link tokens
// (password-reset and email sign-in links) so the table does not grow
// without bound.
type LinkTokenCleanupWorker struct {
	DB              *sql.DB
	RetentionHours  int // how long to keep consumed tokens (default: 24)
	CheckIntervalMs int // how often to run cleanup (default: 3600000 = 1 hour)
}

// Start begins the cleanup loop.
func (w *LinkTokenCleanupWorker) Start(ctx context.Context) {
	if w.RetentionHours <= 0 {
		w.RetentionHours = 24
	}
	if w.CheckIntervalMs <= 0 {
		w.CheckIntervalMs = 3600000 // 1 hour
	}

	ticker := time.NewTicker(time.Duration(w.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("[LinkTokenCleanup] started (retention=%dh, interval=%dms)", w.RetentionHours, w.CheckIntervalMs)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[LinkTokenCleanup] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *LinkTokenCleanupWorker) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(w.RetentionHours) * time.Hour)

	result, err := w.DB.ExecContext(ctx, `
		DELETE FROM public.auth_link_tokens
		WHERE expires_at < NOW()
		   OR (consumed_at IS NOT NULL AND consumed_at < $1)
	`, cutoff)
	if err != nil {
		log.Printf("[LinkTokenCleanup] error: %v", err)
		return
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		log.Printf("[LinkTokenCleanup] error getting rows affected: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[LinkTokenCleanup] deleted %d stale link tokens", deleted)
	}
}
