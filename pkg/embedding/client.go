// Package embedding 提供文本向量化能力，底层调用 OpenAI 兼容的 Embedding API。
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

const defaultBatchSize = 100

// Client 是 Embedding 端口。CreateEmbeddings 的输出与输入等长同序，
// 任意一项失败都会让整批返回 *model.EmbeddingError，不返回部分结果。
type Client interface {
	CreateEmbedding(ctx context.Context, text string) (model.Embedding, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([]model.Embedding, error)
}

type openAIClient struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
	maxRetries uint64

	initialInterval time.Duration
	maxElapsed      time.Duration
}

// NewClient 根据配置创建 Embedding 客户端。SDK 自带的重试被关闭，只对 429 做指数退避。
func NewClient(cfg config.EmbeddingConfig) Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &openAIClient{
		client:          openai.NewClient(opts...),
		model:           cfg.Model,
		dimensions:      cfg.Dimensions,
		batchSize:       batchSize,
		maxRetries:      uint64(maxRetries),
		initialInterval: 500 * time.Millisecond,
		maxElapsed:      30 * time.Second,
	}
}

// CreateEmbedding 为单条文本生成向量。
func (c *openAIClient) CreateEmbedding(ctx context.Context, text string) (model.Embedding, error) {
	embeddings, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return model.Embedding{}, err
	}
	return embeddings[0], nil
}

// CreateEmbeddings 按 batchSize 分批调用 API，任何一批失败整个调用即失败。
func (c *openAIClient) CreateEmbeddings(ctx context.Context, texts []string) ([]model.Embedding, error) {
	if len(texts) == 0 {
		return []model.Embedding{}, nil
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, inputs: %d", c.model, len(texts))

	result := make([]model.Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatchWithRetry(ctx, texts[start:end])
		if err != nil {
			log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, batch: [%d,%d), error: %v", start, end, err)
			return nil, &model.EmbeddingError{Model: c.model, Err: err}
		}
		for i, vector := range vectors {
			result = append(result, model.NewEmbedding(vector, c.model, texts[start+i]))
		}
	}

	log.Infof("[EmbeddingClient] 成功获取向量, 数量: %d, 维度: %d", len(result), result[0].Dimensions())
	return result, nil
}

// embedBatchWithRetry 调用一次批量接口，只有 429 会触发退避重试。
func (c *openAIClient) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	var vectors [][]float32
	operation := func() error {
		resp, err := c.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				log.Warnf("[EmbeddingClient] 触发限流, 准备重试")
				return err
			}
			return backoff.Permanent(err)
		}
		ordered, err := orderByIndex(resp.Data, len(texts))
		if err != nil {
			return backoff.Permanent(err)
		}
		vectors = ordered
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// orderByIndex 按响应中的 index 字段还原输入顺序，并校验数量与空向量。
func orderByIndex(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(data))
	}
	vectors := make([][]float32, want)
	for _, d := range data {
		if d.Index < 0 || int(d.Index) >= want {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if vectors[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		vectors[d.Index] = toFloat32(d.Embedding)
	}
	return vectors, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
