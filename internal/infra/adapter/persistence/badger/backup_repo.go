package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"template-studio/internal/domain/entity"
	"template-studio/internal/repository"
	"template-studio/internal/resilience/classify"
)

// Namespaces separate the primary backups from the copies used for
// alternative recovery when both live in the same database.
const (
	NamespacePrimary   = "primary"
	NamespaceAlternate = "alternate"
)

// BackupRepo implements repository.BackupRepository on BadgerDB.
// Keys are "<namespace>/backup/<doc:id|role:name>", values are JSON records.
type BackupRepo struct {
	db     *badger.DB
	prefix []byte
}

var _ repository.BackupRepository = (*BackupRepo)(nil)

// NewBackupRepo returns a repository scoped to namespace.
func NewBackupRepo(db *badger.DB, namespace string) *BackupRepo {
	if namespace == "" {
		namespace = NamespacePrimary
	}
	return &BackupRepo{db: db, prefix: []byte(namespace + "/backup/")}
}

func (r *BackupRepo) key(k entity.BackupKey) []byte {
	out := make([]byte, 0, len(r.prefix)+len(k.String()))
	out = append(out, r.prefix...)
	return append(out, k.String()...)
}

// Write stores rec unless a newer record is already stored for its key.
func (r *BackupRepo) Write(ctx context.Context, rec *entity.BackupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Write: marshal: %w", err)
	}
	key := r.key(rec.Key())

	err = r.db.Update(func(txn *badger.Txn) error {
		current, err := getRecord(txn, key)
		if err != nil {
			return err
		}
		if current != nil && current.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return translate("Write", err)
	}
	return nil
}

// Exists reports whether a record is stored for k.
func (r *BackupRepo) Exists(ctx context.Context, k entity.BackupKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(r.key(k))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, translate("Exists", err)
	}
	return found, nil
}

// Read returns the record for k, or nil, nil when there is none.
func (r *BackupRepo) Read(ctx context.Context, k entity.BackupKey) (*entity.BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *entity.BackupRecord
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, r.key(k))
		return err
	})
	if err != nil {
		return nil, translate("Read", err)
	}
	return rec, nil
}

// Remove deletes the record for k and reports whether one existed.
func (r *BackupRepo) Remove(ctx context.Context, k entity.BackupKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var removed bool
	key := r.key(k)
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, translate("Remove", err)
	}
	return removed, nil
}

// PruneBefore deletes records last updated before t.
func (r *BackupRepo) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	var stale [][]byte

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = r.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec entity.BackupRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				// Undecodable entries are garbage as far as retention goes.
				stale = append(stale, item.KeyCopy(nil))
				continue
			}
			if rec.UpdatedAt.Before(t) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, translate("PruneBefore", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return 0, translate("PruneBefore", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, translate("PruneBefore", err)
	}
	return len(stale), nil
}

// CollectGarbage runs one value log GC pass. Nothing to rewrite and in-memory
// databases are not errors.
func (r *BackupRepo) CollectGarbage(discardRatio float64) error {
	err := r.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return fmt.Errorf("CollectGarbage: %w", err)
}

func getRecord(txn *badger.Txn, key []byte) (*entity.BackupRecord, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec entity.BackupRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rec, nil
}

// translate tags badger failures that mean the store cannot take more data.
// ENOSPC passes through untagged; the classifier recognises it.
func translate(op string, err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return classify.Storage("badger."+op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
