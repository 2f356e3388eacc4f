package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ccollins476ad/savedl/saved"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Status is the final outcome of processing a saved item.
type Status string

const (
	StatusStored      Status = "stored"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
	StatusUnsupported Status = "unsupported"
)

const keyPrefix = "item:"

// Entry records what happened to a saved item the last time it was
// processed.
type Entry struct {
	URL    string    `json:"url"`
	Status Status    `json:"status"`
	Stage  string    `json:"stage,omitempty"` // Stage that failed, if any.
	Kind   string    `json:"kind,omitempty"`  // Resolver kind.
	Error  string    `json:"error,omitempty"`
	Assets int       `json:"assets"`
	RunID  string    `json:"run_id,omitempty"`
	Time   time.Time `json:"time"`
}

// Store is a BadgerDB-backed ledger of item outcomes. It is safe for
// concurrent use.
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: path=%s: %w", path, err)
	}
	logger.Debugf("history db opened: path=%s", path)

	return &Store{
		db:  db,
		log: logger.WithField("component", "history"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(u string) []byte {
	return []byte(keyPrefix + u)
}

// Record stores e, replacing any earlier entry for the same url.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: url=%s: %w", e.URL, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(e.URL), b))
	})
	if err != nil {
		return fmt.Errorf("failed to save history entry: url=%s: %w", e.URL, err)
	}

	s.log.WithFields(logrus.Fields{
		"url":    e.URL,
		"status": e.Status,
	}).Debug("recorded outcome")
	return nil
}

// Entries returns every recorded entry, most recent first.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	return s.entries(ctx, func(Entry) bool { return true })
}

// Failures returns the entries whose last outcome was a failure, most recent
// first.
func (s *Store) Failures(ctx context.Context) ([]Entry, error) {
	return s.entries(ctx, func(e Entry) bool { return e.Status == StatusFailed })
}

func (s *Store) entries(ctx context.Context, keep func(Entry) bool) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("failed to decode history entry: key=%s: %w", item.Key(), err)
				}
				if keep(e) {
					entries = append(entries, e)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})

	return entries, nil
}

// FetchAllSaved implements saved.Source. It yields the items that failed the
// last time they were processed, so a run can retry just those.
func (s *Store) FetchAllSaved(ctx context.Context) ([]saved.Item, error) {
	failures, err := s.Failures(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]saved.Item, 0, len(failures))
	for _, e := range failures {
		items = append(items, saved.Item{URL: e.URL})
	}
	return items, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface. Badger
// is chatty at info level, so info is demoted to debug.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
