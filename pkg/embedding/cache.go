package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

type cachedClient struct {
	inner Client
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

// NewCachedClient 在 inner 外包一层 Redis 缓存。未命中的文本合并为一次批量调用，
// Redis 出错时按未命中处理。
func NewCachedClient(inner Client, rdb *redis.Client, modelName string, ttl time.Duration) Client {
	return &cachedClient{inner: inner, rdb: rdb, model: modelName, ttl: ttl}
}

func (c *cachedClient) cacheKey(text string) string {
	return fmt.Sprintf("embedding:%s:%x", c.model, sha256.Sum256([]byte(text)))
}

func (c *cachedClient) CreateEmbedding(ctx context.Context, text string) (model.Embedding, error) {
	embeddings, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return model.Embedding{}, err
	}
	return embeddings[0], nil
}

func (c *cachedClient) CreateEmbeddings(ctx context.Context, texts []string) ([]model.Embedding, error) {
	if len(texts) == 0 {
		return []model.Embedding{}, nil
	}
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	result := make([]model.Embedding, len(texts))
	hit := make([]bool, len(texts))
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败, 全部按未命中处理: %v", err)
		values = nil
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vector []float32
		if err := json.Unmarshal([]byte(s), &vector); err != nil || len(vector) == 0 {
			continue
		}
		result[i] = model.NewEmbedding(vector, c.model, texts[i])
		hit[i] = true
	}

	var missTexts []string
	var missIdx []int
	for i := range texts {
		if !hit[i] {
			missTexts = append(missTexts, texts[i])
			missIdx = append(missIdx, i)
		}
	}
	if len(missTexts) == 0 {
		return result, nil
	}

	fresh, err := c.inner.CreateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for j, e := range fresh {
		result[missIdx[j]] = e
		data, err := json.Marshal(e.Vector())
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[missIdx[j]], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
	}
	log.Debugf("[EmbeddingCache] 命中 %d 条, 新生成 %d 条", len(texts)-len(missTexts), len(missTexts))
	return result, nil
}
