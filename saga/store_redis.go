package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"marketsaga/logging"
)

// RedisConfig describes how the Redis state store should connect/behave.
type RedisConfig struct {
	Client    redis.UniversalClient
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	Logger    logging.Logger
}

// RedisStateStore 基于 Redis 的 Saga 状态存储
//
// 实例以 JSON 存于 <prefix><correlationId>；乐观并发通过
// WATCH + 事务管道实现：并发写入者修改同一键时事务失败，
// 映射为版本冲突错误。
type RedisStateStore struct {
	cfg       RedisConfig
	client    redis.UniversalClient
	ownClient bool
	logger    logging.Logger
}

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(cfg RedisConfig) (*RedisStateStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "saga:order:"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("saga.store.redis")
	}

	var cl redis.UniversalClient
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis addr not configured")
		}
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		own = true
	}

	return &RedisStateStore{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
	}, nil
}

// Load 加载实例
func (s *RedisStateStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	data, err := s.client.Get(ctx, s.key(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NewNotFoundError(correlationID)
		}
		return nil, NewStoreFailedError(correlationID, err)
	}
	instance := &Instance{}
	if err := instance.FromJSON(data); err != nil {
		return nil, NewStoreFailedError(correlationID, err)
	}
	return instance, nil
}

// Save 带版本检查地持久化实例
//
// 键被 WATCH 后读取当前版本并与 expectedVersion 比对；比对通过则
// 在事务管道中写入。事务因并发修改而失败时返回版本冲突。
func (s *RedisStateStore) Save(ctx context.Context, instance *Instance, expectedVersion uint64) error {
	if instance == nil || instance.CorrelationID == "" {
		return ErrInvalidInstance
	}
	key := s.key(instance.CorrelationID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return NewNotFoundError(instance.CorrelationID)
			}
		case err != nil:
			return NewStoreFailedError(instance.CorrelationID, err)
		default:
			if expectedVersion == 0 {
				return NewVersionConflictError(instance.CorrelationID, 0, currentVersion(data))
			}
			current := currentVersion(data)
			if current != expectedVersion {
				return NewVersionConflictError(instance.CorrelationID, expectedVersion, current)
			}
		}

		instance.Version = expectedVersion + 1
		payload, err := instance.ToJSON()
		if err != nil {
			instance.Version = expectedVersion
			return NewStoreFailedError(instance.CorrelationID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			instance.Version = expectedVersion
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		instance.Version = expectedVersion
		return NewVersionConflictError(instance.CorrelationID, expectedVersion, 0)
	}
	return err
}

// ListByState 列出处于给定状态的所有实例（SCAN 全量遍历，仅供运维使用）
func (s *RedisStateStore) ListByState(ctx context.Context, state OrderState) ([]*Instance, error) {
	result := make([]*Instance, 0)
	iter := s.client.Scan(ctx, 0, s.cfg.KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, NewStoreFailedError("", err)
		}
		instance := &Instance{}
		if err := instance.FromJSON(data); err != nil {
			s.logger.Warn(ctx, "skip undecodable saga instance", logging.String("key", iter.Val()), logging.Error(err))
			continue
		}
		if instance.CurrentState == state {
			result = append(result, instance)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, NewStoreFailedError("", err)
	}
	return result, nil
}

// Close 关闭存储（仅关闭自建客户端）
func (s *RedisStateStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStateStore) key(correlationID string) string {
	return fmt.Sprintf("%s%s", s.cfg.KeyPrefix, correlationID)
}

// currentVersion 从存储的 JSON 中提取版本号；解码失败视为版本 0
func currentVersion(data []byte) uint64 {
	instance := &Instance{}
	if err := instance.FromJSON(data); err != nil {
		return 0
	}
	return instance.Version
}

var _ IStateStore = (*RedisStateStore)(nil)
