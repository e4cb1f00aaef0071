// Package memory keeps dead letter entries in process memory. Entries do
// not survive a restart; use it for development and tests.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/store"
)

var _ store.Store = (*Store)(nil)

// Store is safe for concurrent use. Callers never share an *dlq.Entry
// with it: entries are copied in both directions.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*dlq.Entry
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*dlq.Entry),
		now:     time.Now,
	}
}

// Migrate, Ping and Close have nothing to do.
func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// PushDLQ stores a copy of entry, replacing any entry with the same ID.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	s.entries[entry.ID] = copyEntry(entry)
	s.mu.Unlock()
	return nil
}

// ListDLQ returns entries newest failure first, ties broken by ID.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	matched := slices.Collect(func(yield func(*dlq.Entry) bool) {
		for e := range maps.Values(s.entries) {
			if opts.Queue != "" && e.Queue != opts.Queue {
				continue
			}
			if !yield(copyEntry(e)) {
				return
			}
		}
	})
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *dlq.Entry) int {
		if c := b.FailedAt.Compare(a.FailedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	lo := min(max(opts.Offset, 0), len(matched))
	hi := len(matched)
	if opts.Limit > 0 {
		hi = min(lo+opts.Limit, hi)
	}
	return matched[lo:hi], nil
}

// GetDLQ returns a copy of the entry or sqjobs.ErrDLQNotFound.
func (s *Store) GetDLQ(_ context.Context, entryID string) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[entryID]; ok {
		return copyEntry(e), nil
	}
	return nil, sqjobs.ErrDLQNotFound
}

// ReplayDLQ stamps ReplayedAt.
func (s *Store) ReplayDLQ(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return sqjobs.ErrDLQNotFound
	}
	at := s.now().UTC()
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ drops entries that failed before before.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	maps.DeleteFunc(s.entries, func(_ string, e *dlq.Entry) bool { return e.FailedAt.Before(before) })
	return int64(n - len(s.entries)), nil
}

// CountDLQ returns the number of stored entries.
func (s *Store) CountDLQ(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func copyEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Args = slices.Clone(e.Args)
	cp.Kwargs = maps.Clone(e.Kwargs)
	cp.FirstExecutionOn = copyTime(e.FirstExecutionOn)
	cp.ReplayedAt = copyTime(e.ReplayedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
