package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "PenPal/internal/errors"
	"PenPal/internal/registry"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	// Key 是快照键的前缀，最新快照存于 <Key>:latest，历史存于 <Key>:history。
	Key     string
	History int
}

// SnapshotStore 使用 Redis 保存插件注册表快照。
type SnapshotStore struct {
	client  redis.UniversalClient
	latest  string
	history string
	limit   int64
}

var _ registry.Store = (*SnapshotStore)(nil)

// NewSnapshotStore 创建 Redis 客户端并检查连通性。
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewSnapshotStoreWithClient(client, cfg), nil
}

// NewSnapshotStoreWithClient 使用已有客户端创建快照存储。
func NewSnapshotStoreWithClient(client redis.UniversalClient, cfg Config) *SnapshotStore {
	prefix := cfg.Key
	if prefix == "" {
		prefix = "penpal:registry"
	}
	limit := cfg.History
	if limit <= 0 {
		limit = 20
	}
	return &SnapshotStore{
		client:  client,
		latest:  prefix + ":latest",
		history: prefix + ":history",
		limit:   int64(limit),
	}
}

// Save 原子地写入最新快照并追加到历史列表。
func (s *SnapshotStore) Save(ctx context.Context, snap registry.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化快照失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.latest, payload, 0)
		pipe.LPush(ctx, s.history, payload)
		pipe.LTrim(ctx, s.history, 0, s.limit-1)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 保存快照失败")
	}
	return nil
}

// Latest 读取最新快照。
func (s *SnapshotStore) Latest(ctx context.Context) (registry.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.latest).Bytes()
	if errors.Is(err, redis.Nil) {
		return registry.Snapshot{}, registry.ErrNoSnapshot
	}
	if err != nil {
		return registry.Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取快照失败")
	}
	return decode(raw)
}

// History 返回最近的快照，最新的在前。
func (s *SnapshotStore) History(ctx context.Context, limit int) ([]registry.Snapshot, error) {
	if limit <= 0 || int64(limit) > s.limit {
		limit = int(s.limit)
	}
	values, err := s.client.LRange(ctx, s.history, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取快照历史失败")
	}
	snaps := make([]registry.Snapshot, 0, len(values))
	for _, value := range values {
		snap, err := decode([]byte(value))
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Close 关闭 Redis 客户端。
func (s *SnapshotStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decode(raw []byte) (registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return registry.Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("decode snapshot: %w", err), "解析快照失败")
	}
	return snap, nil
}
