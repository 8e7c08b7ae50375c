package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tracker records which (user, local date) pairs already received a reminder.
//
// MarkSent is a conditional insert: marking the same key twice leaves a single
// record and is not an error. PurgeStale drops records dated before the day
// preceding the given UTC date. Later dates are kept: zones ahead of UTC are
// already on the next calendar day.
type Tracker interface {
	AlreadySentToday(ctx context.Context, userID int64, localDate string) (bool, error)
	MarkSent(ctx context.Context, userID int64, localDate string) error
	PurgeStale(ctx context.Context, currentUTCDate string) (int, error)
}

// PurgeCutoff returns the oldest date PurgeStale keeps for currentUTCDate,
// the calendar day before it. Dates sort lexically in DateLayout.
func PurgeCutoff(currentUTCDate string) (string, error) {
	d, err := time.Parse(DateLayout, currentUTCDate)
	if err != nil {
		return "", fmt.Errorf("purge: bad date %q: %w", currentUTCDate, err)
	}
	return d.AddDate(0, 0, -1).Format(DateLayout), nil
}

type dispatchKey struct {
	userID int64
	date   string
}

// MemoryTracker keeps dispatch records in process memory. Records are lost on
// restart.
type MemoryTracker struct {
	mu   sync.Mutex
	sent map[dispatchKey]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{sent: make(map[dispatchKey]struct{})}
}

func (t *MemoryTracker) AlreadySentToday(_ context.Context, userID int64, localDate string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sent[dispatchKey{userID, localDate}]
	return ok, nil
}

func (t *MemoryTracker) MarkSent(_ context.Context, userID int64, localDate string) error {
	t.mu.Lock()
	t.sent[dispatchKey{userID, localDate}] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *MemoryTracker) PurgeStale(_ context.Context, currentUTCDate string) (int, error) {
	cutoff, err := PurgeCutoff(currentUTCDate)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.sent {
		if k.date < cutoff {
			delete(t.sent, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of records held.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// DispatchStore is the persistence contract StoreTracker needs.
// internal/storage implements it on SQLite.
type DispatchStore interface {
	HasDispatch(ctx context.Context, userID int64, localDate string) (bool, error)
	// InsertDispatch inserts the record unless it exists; inserted reports
	// whether a new row was written.
	InsertDispatch(ctx context.Context, userID int64, localDate string, at time.Time) (inserted bool, err error)
	// DeleteDispatchesBefore removes records dated strictly before cutoff.
	DeleteDispatchesBefore(ctx context.Context, cutoff string) (int, error)
}

// StoreTracker persists dispatch records so they survive restarts.
type StoreTracker struct {
	store DispatchStore
	now   func() time.Time
}

func NewStoreTracker(store DispatchStore) *StoreTracker {
	return &StoreTracker{store: store, now: time.Now}
}

func (t *StoreTracker) AlreadySentToday(ctx context.Context, userID int64, localDate string) (bool, error) {
	ok, err := t.store.HasDispatch(ctx, userID, localDate)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTracker, err)
	}
	return ok, nil
}

func (t *StoreTracker) MarkSent(ctx context.Context, userID int64, localDate string) error {
	if _, err := t.store.InsertDispatch(ctx, userID, localDate, t.now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrTracker, err)
	}
	return nil
}

func (t *StoreTracker) PurgeStale(ctx context.Context, currentUTCDate string) (int, error) {
	cutoff, err := PurgeCutoff(currentUTCDate)
	if err != nil {
		return 0, err
	}
	n, err := t.store.DeleteDispatchesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTracker, err)
	}
	return n, nil
}
