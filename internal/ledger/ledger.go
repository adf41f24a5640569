// ABOUTME: Dedup ledger tracking which alert identities were already notified.
// ABOUTME: Unbounded set by default, optionally LRU-bounded, optionally snapshotted to disk.

package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Ledger records alert identities that have been notified. It is owned by
// the poll scheduler and mutated from that single goroutine only, so it
// carries no lock. It never evicts in unbounded mode; memory grows with the
// number of distinct alerts ever seen.
type Ledger struct {
	seen    map[types.AlertIdentity]struct{}
	bounded *lru.Cache[types.AlertIdentity, struct{}]
	logger  *logrus.Logger
}

// New creates a ledger. maxEntries > 0 switches to an LRU-bounded set with
// that capacity; 0 means unbounded.
func New(maxEntries int, logger *logrus.Logger) (*Ledger, error) {
	l := &Ledger{logger: logger}

	if maxEntries > 0 {
		cache, err := lru.New[types.AlertIdentity, struct{}](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("creating bounded ledger: %w", err)
		}
		l.bounded = cache
		logger.WithField("max_entries", maxEntries).Info("Using bounded dedup ledger")
	} else {
		l.seen = make(map[types.AlertIdentity]struct{})
	}

	return l, nil
}

// IsNew reports whether the identity has not been seen before and records it.
// The check-and-insert is a single step from the caller's point of view.
func (l *Ledger) IsNew(id types.AlertIdentity) bool {
	if l.bounded != nil {
		if _, ok := l.bounded.Get(id); ok {
			return false
		}
		l.bounded.Add(id, struct{}{})
		return true
	}

	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}

// Size returns the number of recorded identities.
func (l *Ledger) Size() int {
	if l.bounded != nil {
		return l.bounded.Len()
	}
	return len(l.seen)
}

func (l *Ledger) identities() []types.AlertIdentity {
	if l.bounded != nil {
		return l.bounded.Keys()
	}

	ids := make([]types.AlertIdentity, 0, len(l.seen))
	for id := range l.seen {
		ids = append(ids, id)
	}
	return ids
}

// SaveSnapshot writes all recorded identities to a JSON file so a restarted
// process does not re-notify everything.
func (l *Ledger) SaveSnapshot(path string) error {
	data, err := json.Marshal(l.identities())
	if err != nil {
		return fmt.Errorf("encoding ledger snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing ledger snapshot: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"path":       path,
		"identities": l.Size(),
	}).Debug("Saved ledger snapshot")
	return nil
}

// LoadSnapshot restores identities from a snapshot file. A missing file is
// not an error; the ledger simply starts empty.
func (l *Ledger) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.WithField("path", path).Debug("No ledger snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("reading ledger snapshot: %w", err)
	}

	var ids []types.AlertIdentity
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("decoding ledger snapshot: %w", err)
	}

	for _, id := range ids {
		if l.bounded != nil {
			l.bounded.Add(id, struct{}{})
		} else {
			l.seen[id] = struct{}{}
		}
	}

	l.logger.WithFields(logrus.Fields{
		"path":       path,
		"identities": len(ids),
	}).Info("Restored ledger snapshot")
	return nil
}
