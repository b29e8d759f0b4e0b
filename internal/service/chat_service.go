package service

import (
	"context"
	"fmt"
	"time"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/metrics"
)

// ChatRequest 是一轮对话的输入。ConversationID 为空时创建新对话。
type ChatRequest struct {
	UserID         uint
	ConversationID string
	Message        string
}

// ChatResult 是一轮成功提交的对话。
type ChatResult struct {
	ConversationID   string                 `json:"conversationId"`
	Title            string                 `json:"title"`
	State            string                 `json:"state"`
	UserMessage      model.ChatMessage      `json:"userMessage"`
	AssistantMessage model.ChatMessage      `json:"assistantMessage"`
	Context          []model.RetrievedChunk `json:"context"`
}

// DeltaSink 接收流式增量，返回错误会放弃本轮流式输出。
type DeltaSink func(delta string) error

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	StreamChat(ctx context.Context, req ChatRequest, sink DeltaSink) (*ChatResult, error)
}

type chatService struct {
	orchestrator     *Orchestrator
	conversationRepo repository.ConversationRepository
	locker           repository.TurnLocker
	metrics          *metrics.Metrics
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(orchestrator *Orchestrator, conversationRepo repository.ConversationRepository,
	locker repository.TurnLocker, m *metrics.Metrics) ChatService {
	return &chatService{
		orchestrator:     orchestrator,
		conversationRepo: conversationRepo,
		locker:           locker,
		metrics:          m,
	}
}

// pendingTurn 是已经加锁并加载好的对话。loaded 之后的消息是本轮新增的，尚未持久化。
type pendingTurn struct {
	conv    *model.Conversation
	loaded  int
	release func()
}

// prepare 校验输入、获取对话锁并加载（或新建）对话。调用方负责执行 release。
// 已有对话只加载最近 historyWindow 条消息，与发给模型的历史一致。
func (s *chatService) prepare(ctx context.Context, req ChatRequest) (*pendingTurn, error) {
	if err := model.ValidateMessage(req.Message); err != nil {
		return nil, err
	}

	if req.ConversationID == "" {
		conv := model.NewConversation(req.UserID)
		release, err := s.locker.Acquire(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if err := s.conversationRepo.Create(ctx, conv); err != nil {
			release()
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		log.Infof("[ChatService] 创建新对话, conversation: %s, user: %d", conv.ID, req.UserID)
		return &pendingTurn{conv: conv, release: release}, nil
	}

	// 先加锁再读取，保证本轮看到的是上一轮提交后的状态
	release, err := s.locker.Acquire(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	conv, err := s.load(ctx, req)
	if err != nil {
		release()
		return nil, err
	}
	return &pendingTurn{conv: conv, loaded: conv.MessageCount(), release: release}, nil
}

func (s *chatService) load(ctx context.Context, req ChatRequest) (*model.Conversation, error) {
	window := s.orchestrator.historyWindow
	conv, err := s.conversationRepo.GetByID(ctx, req.ConversationID, window <= 0)
	if err != nil {
		return nil, err
	}
	if conv.UserID != req.UserID {
		log.Warnf("[ChatService] 用户 %d 试图访问不属于自己的对话 %s", req.UserID, req.ConversationID)
		return nil, model.ErrConversationNotFound
	}
	if window <= 0 {
		return conv, nil
	}
	recent, err := s.conversationRepo.GetRecentMessages(ctx, conv.ID, window)
	if err != nil {
		return nil, err
	}
	return model.RestoreConversation(conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt, conv.Metadata, recent,
		model.WithTitleSet(!conv.HasDefaultTitle())), nil
}

// persist 追加本轮新增的消息并更新对话标题。客户端断开不影响已经产生的消息。
func (s *chatService) persist(ctx context.Context, pt *pendingTurn) error {
	ctx = context.WithoutCancel(ctx)
	conv := pt.conv
	for _, msg := range conv.Messages()[pt.loaded:] {
		if _, err := s.conversationRepo.AddMessage(ctx, conv.ID, msg); err != nil {
			log.Errorf("[ChatService] 保存消息失败, conversation: %s, error: %v", conv.ID, err)
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	if err := s.conversationRepo.Save(ctx, conv); err != nil {
		log.Errorf("[ChatService] 保存对话失败, conversation: %s, error: %v", conv.ID, err)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func newChatResult(conv *model.Conversation, turn *Turn) *ChatResult {
	return &ChatResult{
		ConversationID:   conv.ID,
		Title:            conv.Title,
		State:            turn.State.String(),
		UserMessage:      turn.User,
		AssistantMessage: turn.Assistant,
		Context:          turn.Context,
	}
}

// Chat 同步执行一轮对话。
func (s *chatService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := time.Now()
	pt, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer pt.release()
	conv := pt.conv

	turn, runErr := s.orchestrator.Run(ctx, conv, req.Message)
	saveErr := s.persist(ctx, pt)
	s.metrics.ObserveTurn("sync", turn.State.String(), time.Since(start))

	if runErr != nil {
		log.Errorf("[ChatService] 对话轮次失败, conversation: %s, state: %s, error: %v", conv.ID, turn.State, runErr)
		return nil, runErr
	}
	if saveErr != nil {
		return nil, saveErr
	}
	log.Infof("[ChatService] 对话轮次完成, conversation: %s", conv.ID)
	return newChatResult(conv, turn), nil
}

// StreamChat 流式执行一轮对话，每个增量交给 sink。
// 只有流被完整消费后才提交助手消息；sink 出错或生成失败时本轮失败，用户消息仍会保存。
func (s *chatService) StreamChat(ctx context.Context, req ChatRequest, sink DeltaSink) (*ChatResult, error) {
	start := time.Now()
	pt, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer pt.release()
	conv := pt.conv

	st, err := s.orchestrator.Stream(ctx, conv, req.Message)
	if err != nil {
		_ = s.persist(ctx, pt)
		s.metrics.ObserveTurn("stream", st.State.String(), time.Since(start))
		return nil, err
	}

	var sinkErr error
	delivered := 0
	for delta, err := range st.Deltas() {
		if err != nil {
			break
		}
		if sinkErr = sink(delta); sinkErr != nil {
			break
		}
		delivered++
	}
	s.metrics.AddStreamDeltas(delivered)

	saveErr := s.persist(ctx, pt)
	s.metrics.ObserveTurn("stream", st.State.String(), time.Since(start))

	switch {
	case sinkErr != nil:
		log.Warnf("[ChatService] 流式输出中断, conversation: %s, error: %v", conv.ID, sinkErr)
		return nil, fmt.Errorf("stream delivery stopped: %w", sinkErr)
	case st.Err() != nil:
		log.Errorf("[ChatService] 流式生成失败, conversation: %s, error: %v", conv.ID, st.Err())
		return nil, st.Err()
	case saveErr != nil:
		return nil, saveErr
	}
	log.Infof("[ChatService] 流式轮次完成, conversation: %s, deltas: %d", conv.ID, delivered)
	return newChatResult(conv, st.Turn), nil
}
