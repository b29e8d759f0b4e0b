package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/pkg/tasks"
)

type fakeProcessor struct {
	err   error
	calls int
}

func (f *fakeProcessor) Process(_ context.Context, _ tasks.DocumentTask) error {
	f.calls++
	return f.err
}

func newTestConsumer(t *testing.T, p TaskProcessor, maxAttempts int64) (*Consumer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Consumer{rdb: rdb, processor: p, maxAttempts: maxAttempts}, mr
}

func taskMessage(t *testing.T, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.DocumentTask{DocumentID: id, UserID: 1, Filename: "a.txt"})
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandle_SuccessCommitsAndClearsAttempts(t *testing.T) {
	p := &fakeProcessor{}
	c, mr := newTestConsumer(t, p, 3)
	mr.Set("kafka:attempts:doc-1", "2")

	assert.True(t, c.handle(context.Background(), taskMessage(t, "doc-1")))
	assert.Equal(t, 1, p.calls)
	assert.False(t, mr.Exists("kafka:attempts:doc-1"))
}

func TestHandle_RetriesUntilMaxAttempts(t *testing.T) {
	p := &fakeProcessor{err: errors.New("tika down")}
	c, mr := newTestConsumer(t, p, 3)
	msg := taskMessage(t, "doc-2")

	assert.False(t, c.handle(context.Background(), msg))
	assert.False(t, c.handle(context.Background(), msg))
	assert.True(t, c.handle(context.Background(), msg))

	got, err := mr.Get("kafka:attempts:doc-2")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestHandle_MalformedMessageIsCommitted(t *testing.T) {
	p := &fakeProcessor{}
	c, _ := newTestConsumer(t, p, 3)

	assert.True(t, c.handle(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.Zero(t, p.calls)
}

func TestHandle_RedisDownLeavesMessageUncommitted(t *testing.T) {
	p := &fakeProcessor{err: errors.New("boom")}
	c, mr := newTestConsumer(t, p, 1)
	mr.Close()

	assert.False(t, c.handle(context.Background(), taskMessage(t, "doc-3")))
}
