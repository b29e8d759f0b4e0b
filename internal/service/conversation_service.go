package service

import (
	"context"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/log"
)

// ConversationSummary 是对话列表中的一项。
type ConversationSummary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	MessageCount int64           `json:"messageCount"`
	CreatedAt    model.LocalTime `json:"createdAt"`
	UpdatedAt    model.LocalTime `json:"updatedAt"`
}

// ConversationDetail 是单个对话及其消息。
type ConversationDetail struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Metadata  map[string]any      `json:"metadata"`
	Messages  []model.ChatMessage `json:"messages"`
	CreatedAt model.LocalTime     `json:"createdAt"`
	UpdatedAt model.LocalTime     `json:"updatedAt"`
}

// ConversationService 定义了对话管理的接口，所有操作都限定在用户自己的对话内。
type ConversationService interface {
	Create(ctx context.Context, userID uint, title string) (*ConversationDetail, error)
	Get(ctx context.Context, userID uint, id string) (*ConversationDetail, error)
	List(ctx context.Context, userID uint, page, size int) ([]ConversationSummary, int64, error)
	Messages(ctx context.Context, userID uint, id string, page, size int) ([]model.ChatMessage, error)
	Rename(ctx context.Context, userID uint, id, title string) (*ConversationDetail, error)
	Delete(ctx context.Context, userID uint, id string) error
}

type conversationService struct {
	repo   repository.ConversationRepository
	locker repository.TurnLocker
}

// NewConversationService 创建一个新的 ConversationService。
// 重命名与删除和对话轮次共用 locker，轮次进行中返回 model.ErrTurnInProgress。
func NewConversationService(repo repository.ConversationRepository, locker repository.TurnLocker) ConversationService {
	return &conversationService{repo: repo, locker: locker}
}

func toConversationDetail(conv *model.Conversation) *ConversationDetail {
	return &ConversationDetail{
		ID:        conv.ID,
		Title:     conv.Title,
		Metadata:  conv.Metadata,
		Messages:  conv.Messages(),
		CreatedAt: model.LocalTime(conv.CreatedAt),
		UpdatedAt: model.LocalTime(conv.UpdatedAt),
	}
}

// Create 新建一个空对话。title 为空时使用占位标题，由首条用户消息生成。
func (s *conversationService) Create(ctx context.Context, userID uint, title string) (*ConversationDetail, error) {
	if title != "" {
		if err := model.ValidateTitle(title); err != nil {
			return nil, err
		}
	}
	conv := model.NewConversation(userID, model.WithTitle(title))
	if err := s.repo.Create(ctx, conv); err != nil {
		log.Errorf("[ConversationService] 创建对话失败, user: %d, error: %v", userID, err)
		return nil, err
	}
	log.Infof("[ConversationService] 对话创建成功, conversation: %s, user: %d", conv.ID, userID)
	return toConversationDetail(conv), nil
}

// load 读取对话并校验归属，不属于该用户的对话视为不存在。
func (s *conversationService) load(ctx context.Context, userID uint, id string, includeMessages bool) (*model.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, id, includeMessages)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, model.ErrConversationNotFound
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, userID uint, id string) (*ConversationDetail, error) {
	conv, err := s.load(ctx, userID, id, true)
	if err != nil {
		return nil, err
	}
	return toConversationDetail(conv), nil
}

// List 按最近更新时间倒序分页返回用户的对话，同时返回总数。page 从 1 开始。
func (s *conversationService) List(ctx context.Context, userID uint, page, size int) ([]ConversationSummary, int64, error) {
	limit, offset := pagination(page, size)
	convs, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	counts, err := s.repo.MessageCounts(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		items = append(items, ConversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: counts[c.ID],
			CreatedAt:    model.LocalTime(c.CreatedAt),
			UpdatedAt:    model.LocalTime(c.UpdatedAt),
		})
	}
	return items, total, nil
}

// Messages 按时间正序分页返回对话消息。
func (s *conversationService) Messages(ctx context.Context, userID uint, id string, page, size int) ([]model.ChatMessage, error) {
	if _, err := s.load(ctx, userID, id, false); err != nil {
		return nil, err
	}
	limit, offset := pagination(page, size)
	return s.repo.GetMessages(ctx, id, limit, offset)
}

// Rename 在持有对话锁时修改标题。
func (s *conversationService) Rename(ctx context.Context, userID uint, id, title string) (*ConversationDetail, error) {
	if err := model.ValidateTitle(title); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.load(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	if err := conv.Rename(title); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, conv); err != nil {
		return nil, err
	}
	log.Infof("[ConversationService] 对话重命名成功, conversation: %s", id)
	return toConversationDetail(conv), nil
}

// Delete 在持有对话锁时删除对话及其消息。
func (s *conversationService) Delete(ctx context.Context, userID uint, id string) error {
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.load(ctx, userID, id, false); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	log.Infof("[ConversationService] 对话已删除, conversation: %s, user: %d", id, userID)
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pagination 把从 1 开始的页码换算成 limit/offset，并限制每页大小。
func pagination(page, size int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	return size, (page - 1) * size
}
