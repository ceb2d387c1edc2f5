package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"agent-bridge/configs"
	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var _ output.DurableStore = (*BlobStore)(nil)

const (
	fieldData        = "data"
	fieldContentType = "content_type"
	fieldUpdatedAt   = "updated_at"

	scanBatchSize = 500
)

// globEscaper escapes SCAN MATCH metacharacters so a prefix matches literally
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// BlobStore struct - Secondary/Driven adapter keeping durable objects as Redis hashes
type BlobStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewClient func - Creates a Redis client from configuration
func NewClient(config configs.Redis) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
}

// NewBlobStore func - Creates new Redis blob store. Every key is namespaced under prefix.
func NewBlobStore(client goredis.UniversalClient, prefix string) *BlobStore {
	if prefix == "" {
		prefix = "agent-bridge"
	}
	return &BlobStore{
		client: client,
		prefix: prefix + ":",
	}
}

func (s *BlobStore) key(path string) string {
	return s.prefix + path
}

// Get func
func (s *BlobStore) Get(ctx context.Context, path string) (*domain.Blob, error) {
	fields, err := s.client.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, err
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}

	blob := &domain.Blob{
		Data:        []byte(data),
		ContentType: fields[fieldContentType],
	}
	if nanos, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64); err == nil {
		blob.UpdatedAt = time.Unix(0, nanos)
	}
	return blob, nil
}

// Put func
func (s *BlobStore) Put(ctx context.Context, path string, blob domain.Blob) error {
	updatedAt := blob.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	key := s.key(path)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldData, blob.Data,
			fieldContentType, blob.ContentType,
			fieldUpdatedAt, strconv.FormatInt(updatedAt.UnixNano(), 10),
		)
		return nil
	})
	return err
}

// Delete func
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	return s.client.Del(ctx, s.key(path)).Err()
}

// List func
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	match := globEscaper.Replace(s.key(prefix)) + "*"

	paths := make([]string, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			paths = append(paths, strings.TrimPrefix(key, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// SCAN may return a key more than once
	sort.Strings(paths)
	return compact(paths), nil
}

// Ping func
func (s *BlobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		logrus.Errorf("Redis ping failed: %v", err)
		return err
	}
	return nil
}

func compact(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
