package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
)

// TurnState 是一轮对话所处的阶段。
type TurnState int

const (
	TurnReceived TurnState = iota
	TurnContextAssembled
	TurnGenerating
	TurnCommitted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnReceived:
		return "RECEIVED"
	case TurnContextAssembled:
		return "CONTEXT_ASSEMBLED"
	case TurnGenerating:
		return "GENERATING"
	case TurnCommitted:
		return "COMMITTED"
	case TurnFailed:
		return "FAILED"
	}
	return fmt.Sprintf("TurnState(%d)", int(s))
}

// Retriever 根据用户问题返回按相关度排序的文档片段。
type Retriever interface {
	Retrieve(ctx context.Context, userID uint, query string, topK int) ([]model.RetrievedChunk, error)
}

// Orchestrator 把检索、生成与对话聚合串成一个轮次。
// 它不做任何加锁，同一对话的轮次需要调用方串行执行。
type Orchestrator struct {
	retriever     Retriever
	generator     llm.Generator
	historyWindow int
	topK          int
}

func NewOrchestrator(retriever Retriever, generator llm.Generator, historyWindow, topK int) *Orchestrator {
	return &Orchestrator{
		retriever:     retriever,
		generator:     generator,
		historyWindow: historyWindow,
		topK:          topK,
	}
}

// Turn 记录一轮对话的结果。失败时 Assistant 为零值。
type Turn struct {
	State     TurnState
	User      model.ChatMessage
	Assistant model.ChatMessage
	Context   []model.RetrievedChunk
}

// BuildContext 把检索结果拼成 "[序号] (文件名) 内容" 的多行文本，保持检索顺序。
func BuildContext(chunks []model.RetrievedChunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		label := c.Filename
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, label, c.Text)
	}
	return sb.String()
}

// begin 执行 RECEIVED 与 CONTEXT_ASSEMBLED 两步：追加用户消息、检索并组装上下文。
func (o *Orchestrator) begin(ctx context.Context, conv *model.Conversation, text string) (*Turn, string, error) {
	turn := &Turn{State: TurnReceived}
	turn.User = conv.AddUserMessage(text)

	chunks, err := o.retriever.Retrieve(ctx, conv.UserID, text, o.topK)
	if err != nil {
		turn.State = TurnFailed
		log.Errorf("[Orchestrator] 检索上下文失败, conversation: %s, error: %v", conv.ID, err)
		return turn, "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	turn.Context = chunks
	turn.State = TurnContextAssembled
	log.Infof("[Orchestrator] 上下文组装完成, conversation: %s, chunks: %d", conv.ID, len(chunks))
	return turn, BuildContext(chunks), nil
}

// Run 同步执行一轮对话。失败时用户消息保留在对话中，不追加助手消息。
func (o *Orchestrator) Run(ctx context.Context, conv *model.Conversation, text string) (*Turn, error) {
	turn, contextText, err := o.begin(ctx, conv, text)
	if err != nil {
		return turn, err
	}

	turn.State = TurnGenerating
	reply, err := o.generator.Generate(ctx, conv.RecentMessages(o.historyWindow), contextText)
	if err != nil {
		turn.State = TurnFailed
		return turn, err
	}

	turn.Assistant = conv.AddAssistantMessage(reply)
	turn.State = TurnCommitted
	return turn, nil
}

// Stream 完成上下文组装后返回 StreamingTurn，生成在遍历 Deltas 时才开始。
func (o *Orchestrator) Stream(ctx context.Context, conv *model.Conversation, text string) (*StreamingTurn, error) {
	turn, contextText, err := o.begin(ctx, conv, text)
	st := &StreamingTurn{Turn: turn, conv: conv}
	if err != nil {
		return st, err
	}
	turn.State = TurnGenerating
	st.deltas = o.generator.GenerateStream(ctx, conv.RecentMessages(o.historyWindow), contextText)
	return st, nil
}

// StreamingTurn 是一个进行中的流式轮次。
type StreamingTurn struct {
	*Turn
	conv   *model.Conversation
	deltas iter.Seq2[string, error]
	err    error
}

var errStreamAbandoned = errors.New("stream abandoned before completion")

// Deltas 逐个返回生成的增量，同时缓存全文。只有流被完整消费后才把全文作为一条
// 助手消息追加到对话；提前 break 或出错都会让轮次进入 FAILED。
func (st *StreamingTurn) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if st.deltas == nil {
			yield("", llm.ErrStreamConsumed)
			return
		}
		deltas := st.deltas
		st.deltas = nil

		var sb strings.Builder
		for delta, err := range deltas {
			if err != nil {
				st.State = TurnFailed
				st.err = err
				yield("", err)
				return
			}
			sb.WriteString(delta)
			if !yield(delta, nil) {
				st.State = TurnFailed
				st.err = errStreamAbandoned
				log.Infof("[Orchestrator] 流式输出被放弃, conversation: %s", st.conv.ID)
				return
			}
		}
		st.Assistant = st.conv.AddAssistantMessage(sb.String())
		st.State = TurnCommitted
	}
}

// Err 返回导致轮次失败的错误。
func (st *StreamingTurn) Err() error {
	return st.err
}
