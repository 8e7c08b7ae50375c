package app

import (
	"context"
	"encoding/json"
	"time"

	"mindfulbot/internal/eventbus"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	logx "mindfulbot/pkg/logx"
)

// AuditSink is the part of the store the audit subscriber writes to.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// auditEntry converts a reminder.* bus event into an audit row. Other events
// are ignored.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	if !eventbus.HasPrefix(e, "reminder.") {
		return storage.AuditEntry{}, false
	}
	d, ok := e.Data.(reminder.EventData)
	if !ok {
		return storage.AuditEntry{}, false
	}
	entry := storage.AuditEntry{
		At:     e.Time,
		UserID: d.UserID,
		Action: e.Type,
		RunID:  d.RunID,
		OK:     e.Type == reminder.EventSent || e.Type == reminder.EventForced,
		Error:  d.Error,
	}
	if d.LocalDate != "" {
		if b, err := json.Marshal(map[string]string{"local_date": d.LocalDate}); err == nil {
			entry.MetaJSON = string(b)
		}
	}
	return entry, true
}

func runAudit(ctx context.Context, events <-chan eventbus.Event, sink AuditSink, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := sink.AppendAudit(wctx, entry); err != nil {
				log.Warn("audit write failed", logx.String("action", entry.Action), logx.Int64("user_id", entry.UserID), logx.Err(err))
			}
			cancel()
		}
	}
}
