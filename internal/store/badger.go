package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	tmpl/<subject>/<key>  template blob
//	settings              JSON-encoded Settings
const (
	templatePrefix = "tmpl/"
	settingsKey    = "settings"
)

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool
}

// Badger is a Store backed by an embedded BadgerDB.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// NewBadger opens (or creates) the database described by opts.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func templateKey(subject, key string) []byte {
	return []byte(templatePrefix + Subject(subject) + "/" + key)
}

func subjectPrefix(subject string) []byte {
	return []byte(templatePrefix + Subject(subject) + "/")
}

func (b *Badger) PutTemplate(_ context.Context, subject, key string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(templateKey(subject, key), data)
	})
	if err != nil {
		return fmt.Errorf("store: put template: %w", err)
	}
	return nil
}

func (b *Badger) GetTemplate(_ context.Context, subject, key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(templateKey(subject, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get template: %w", err)
	}
	return val, nil
}

func (b *Badger) DeleteTemplates(_ context.Context, subject string, keys ...string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(templateKey(subject, k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: delete templates: %w", err)
	}
	return nil
}

func (b *Badger) ListTemplates(_ context.Context, subject string) ([]string, error) {
	prefix := subjectPrefix(subject)
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := bytes.TrimPrefix(it.Item().Key(), prefix)
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list templates: %w", err)
	}
	return keys, nil
}

func (b *Badger) GetSettings(context.Context) (Settings, error) {
	s := DefaultSettings()
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(settingsKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	return s, nil
}

func (b *Badger) PutSettings(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(settingsKey), val)
	}); err != nil {
		return fmt.Errorf("store: put settings: %w", err)
	}
	return nil
}

func (b *Badger) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("store: badger is closed")
	}
	return nil
}

func (b *Badger) Close() error { return b.db.Close() }

// badgerLogger routes badger warnings and errors to slog and drops the rest.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any) {
	slog.Error("store: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (badgerLogger) Warningf(f string, v ...any) {
	slog.Warn("store: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
