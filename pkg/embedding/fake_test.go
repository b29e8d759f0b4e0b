package embedding

import (
	"context"
	"errors"
	"sync"

	"rag-chat-go/internal/model"
)

// fakeClient 记录每次批量调用的输入，failOn 中的文本会导致失败。
type fakeClient struct {
	mu      sync.Mutex
	batches [][]string
	failOn  map[string]bool
}

func (f *fakeClient) CreateEmbedding(ctx context.Context, text string) (model.Embedding, error) {
	out, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return model.Embedding{}, err
	}
	return out[0], nil
}

func (f *fakeClient) CreateEmbeddings(_ context.Context, texts []string) ([]model.Embedding, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	out := make([]model.Embedding, 0, len(texts))
	for _, text := range texts {
		if f.failOn[text] {
			return nil, errors.New("upstream unavailable")
		}
		out = append(out, model.NewEmbedding([]float32{float32(len(text)), 1}, "fake", text))
	}
	return out, nil
}
