package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"rag-chat-go/internal/model"
)

// TurnLocker 保证同一对话同时只有一个轮次在执行。
type TurnLocker interface {
	// Acquire 获取对话锁，锁已被占用时返回 model.ErrTurnInProgress。
	// 返回的 release 函数只会释放自己持有的锁。
	Acquire(ctx context.Context, conversationID string) (release func(), err error)
}

// 仅当值与持有者 token 相同时才删除，避免误删过期后被他人重新获取的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisTurnLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTurnLocker 基于 Redis SETNX 创建 TurnLocker，ttl 用于进程崩溃后的自动释放。
func NewTurnLocker(rdb *redis.Client, ttl time.Duration) TurnLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisTurnLocker{rdb: rdb, ttl: ttl}
}

func (l *redisTurnLocker) Acquire(ctx context.Context, conversationID string) (func(), error) {
	key := fmt.Sprintf("conversation:%s:turn_lock", conversationID)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, model.ErrTurnInProgress
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
	}, nil
}
