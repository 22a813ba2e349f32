package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"template-studio/internal/domain/entity"
	"template-studio/internal/repository"
	"template-studio/internal/resilience/classify"
)

// BackupRepo implements repository.BackupRepository on Redis.
// Each record is a JSON string; a sorted set indexes keys by update time for
// retention.
type BackupRepo struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

var _ repository.BackupRepository = (*BackupRepo)(nil)

// NewBackupRepo returns a repository whose keys are prefixed with namespace.
// A positive ttl makes Redis expire records on its own.
func NewBackupRepo(rdb *redis.Client, namespace string, ttl time.Duration) *BackupRepo {
	if namespace == "" {
		namespace = "template-studio"
	}
	return &BackupRepo{rdb: rdb, namespace: namespace, ttl: ttl}
}

// Key helpers
func (r *BackupRepo) recordKey(k entity.BackupKey) string {
	return fmt.Sprintf("%s:backup:%s", r.namespace, k.String())
}

func (r *BackupRepo) indexKey() string {
	return fmt.Sprintf("%s:backups:by_updated", r.namespace)
}

// Write stores rec unless a newer record is already stored for its key.
func (r *BackupRepo) Write(ctx context.Context, rec *entity.BackupRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Write: marshal: %w", err)
	}

	key := r.recordKey(rec.Key())
	member := rec.Key().String()
	score := float64(rec.UpdatedAt.UnixMilli())

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != nil && current.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: score, Member: member})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return translate("Write", err)
	}
	return nil
}

// Exists reports whether a record is stored for k.
func (r *BackupRepo) Exists(ctx context.Context, k entity.BackupKey) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.recordKey(k)).Result()
	if err != nil {
		return false, translate("Exists", err)
	}
	return n > 0, nil
}

// Read returns the record for k, or nil, nil when there is none.
func (r *BackupRepo) Read(ctx context.Context, k entity.BackupKey) (*entity.BackupRecord, error) {
	rec, err := readRecord(ctx, r.rdb, r.recordKey(k))
	if err != nil {
		return nil, translate("Read", err)
	}
	return rec, nil
}

// Remove deletes the record for k and reports whether one existed.
func (r *BackupRepo) Remove(ctx context.Context, k entity.BackupKey) (bool, error) {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.recordKey(k))
		pipe.ZRem(ctx, r.indexKey(), k.String())
		return nil
	})
	if err != nil {
		return false, translate("Remove", err)
	}
	return del.Val() > 0, nil
}

// PruneBefore deletes records last updated before t.
func (r *BackupRepo) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	members, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, translate("PruneBefore", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, len(members))
	zmembers := make([]interface{}, len(members))
	for i, m := range members {
		keys[i] = fmt.Sprintf("%s:backup:%s", r.namespace, m)
		zmembers[i] = m
	}

	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.indexKey(), zmembers...)
		return nil
	})
	if err != nil {
		return 0, translate("PruneBefore", err)
	}
	return int(del.Val()), nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readRecord(ctx context.Context, c getter, key string) (*entity.BackupRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec entity.BackupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rec, nil
}

// translate tags the server's out-of-memory reply as a storage failure.
func translate(op string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "OOM") {
		return classify.Storage("redis."+op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
