package embedding

import (
	"context"
	"errors"
	"fmt"

	"rag-chat-go/internal/model"
)

type perItemClient struct {
	inner Client
	model string
}

// NewPerItemClient 逐条调用 inner.CreateEmbedding，适用于不支持批量输入的服务。
// 顺序保持不变，任意一条失败即整批失败。
func NewPerItemClient(inner Client, modelName string) Client {
	return &perItemClient{inner: inner, model: modelName}
}

func (c *perItemClient) CreateEmbedding(ctx context.Context, text string) (model.Embedding, error) {
	return c.inner.CreateEmbedding(ctx, text)
}

func (c *perItemClient) CreateEmbeddings(ctx context.Context, texts []string) ([]model.Embedding, error) {
	result := make([]model.Embedding, 0, len(texts))
	for i, text := range texts {
		e, err := c.inner.CreateEmbedding(ctx, text)
		if err != nil {
			var embErr *model.EmbeddingError
			if !errors.As(err, &embErr) {
				err = &model.EmbeddingError{Model: c.model, Err: err}
			}
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		result = append(result, e)
	}
	return result, nil
}
