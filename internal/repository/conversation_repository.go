// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"rag-chat-go/internal/model"
)

// ConversationRepository 定义了对话及其消息的持久化操作。
// 查询不存在的对话时返回 model.ErrConversationNotFound。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Save(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, id string, includeMessages bool) (*model.Conversation, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]*model.Conversation, error)
	CountByUser(ctx context.Context, userID uint) (int64, error)
	MessageCounts(ctx context.Context, ids []string) (map[string]int64, error)
	AddMessage(ctx context.Context, conversationID string, msg model.ChatMessage) (model.ChatMessage, error)
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error)
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func toConversationRecord(conv *model.Conversation) *model.ConversationRecord {
	return &model.ConversationRecord{
		ID:        conv.ID,
		UserID:    conv.UserID,
		Title:     conv.Title,
		TitleSet:  !conv.HasDefaultTitle(),
		Metadata:  conv.Metadata,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func toMessageRecord(conversationID string, position int, msg model.ChatMessage) *model.MessageRecord {
	return &model.MessageRecord{
		ID:             msg.ID,
		ConversationID: conversationID,
		Position:       position,
		Role:           msg.Role.String(),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

func toMessages(records []model.MessageRecord) ([]model.ChatMessage, error) {
	msgs := make([]model.ChatMessage, 0, len(records))
	for _, r := range records {
		m, err := r.ToMessage()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", r.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Create 插入新对话及其已有消息。
func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toConversationRecord(conv)).Error; err != nil {
			return err
		}
		msgs := conv.Messages()
		if len(msgs) == 0 {
			return nil
		}
		records := make([]*model.MessageRecord, 0, len(msgs))
		for i, m := range msgs {
			records = append(records, toMessageRecord(conv.ID, i, m))
		}
		return tx.CreateInBatches(records, 100).Error
	})
}

// Save 更新已存在对话的标题、元数据与 updated_at，不写消息。
// 对话已被删除时返回 model.ErrConversationNotFound，不会重新插入。
func (r *conversationRepository) Save(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureConversation(tx, conv.ID); err != nil {
			return err
		}
		rec := toConversationRecord(conv)
		return tx.Model(rec).
			Select("title", "title_set", "metadata", "updated_at").
			UpdateColumns(rec).Error
	})
}

// GetByID 根据 ID 查询对话，includeMessages 为 true 时按顺序加载全部消息。
func (r *conversationRepository) GetByID(ctx context.Context, id string, includeMessages bool) (*model.Conversation, error) {
	db := r.db.WithContext(ctx)
	var rec model.ConversationRecord
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrConversationNotFound
		}
		return nil, err
	}

	var msgs []model.ChatMessage
	if includeMessages {
		var records []model.MessageRecord
		if err := db.Where("conversation_id = ?", id).Order("position ASC").Order("created_at ASC").Find(&records).Error; err != nil {
			return nil, err
		}
		var err error
		if msgs, err = toMessages(records); err != nil {
			return nil, err
		}
	}
	return restore(rec, msgs), nil
}

func restore(rec model.ConversationRecord, msgs []model.ChatMessage) *model.Conversation {
	return model.RestoreConversation(rec.ID, rec.UserID, rec.Title, rec.CreatedAt, rec.UpdatedAt, rec.Metadata, msgs,
		model.WithTitleSet(rec.TitleSet))
}

// Delete 删除对话及其全部消息。
func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.ConversationRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrConversationNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&model.MessageRecord{}).Error
	})
}

func (r *conversationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ConversationRecord{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// ListByUser 按最近更新时间倒序分页返回对话，不加载消息。
func (r *conversationRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]*model.Conversation, error) {
	var records []model.ConversationRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	convs := make([]*model.Conversation, 0, len(records))
	for _, rec := range records {
		convs = append(convs, restore(rec, nil))
	}
	return convs, nil
}

func (r *conversationRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ConversationRecord{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// MessageCounts 批量统计每个对话的消息数。
func (r *conversationRepository) MessageCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	var rows []struct {
		ConversationID string
		Count          int64
	}
	err := r.db.WithContext(ctx).Model(&model.MessageRecord{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ConversationID] = row.Count
	}
	return counts, nil
}

// AddMessage 把消息追加到对话末尾，并推进对话的 updated_at。
func (r *conversationRepository) AddMessage(ctx context.Context, conversationID string, msg model.ChatMessage) (model.ChatMessage, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.ConversationRecord
		if err := tx.Select("id", "updated_at").Where("id = ?", conversationID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrConversationNotFound
			}
			return err
		}

		var position int64
		if err := tx.Model(&model.MessageRecord{}).Where("conversation_id = ?", conversationID).Count(&position).Error; err != nil {
			return err
		}
		if err := tx.Create(toMessageRecord(conversationID, int(position), msg)).Error; err != nil {
			return err
		}
		if msg.CreatedAt.After(rec.UpdatedAt) {
			return tx.Model(&model.ConversationRecord{}).Where("id = ?", conversationID).
				Update("updated_at", msg.CreatedAt).Error
		}
		return nil
	})
	if err != nil {
		return model.ChatMessage{}, err
	}
	return msg, nil
}

// GetMessages 按时间正序分页返回消息。
func (r *conversationRepository) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error) {
	if err := r.ensureExists(ctx, conversationID); err != nil {
		return nil, err
	}
	var records []model.MessageRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("position ASC").Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toMessages(records)
}

// GetRecentMessages 取最近 limit 条消息：倒序查询后反转为时间正序。
func (r *conversationRepository) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	if err := r.ensureExists(ctx, conversationID); err != nil {
		return nil, err
	}
	var records []model.MessageRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("position DESC").Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	return toMessages(records)
}

func ensureConversation(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&model.ConversationRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return model.ErrConversationNotFound
	}
	return nil
}

func (r *conversationRepository) ensureExists(ctx context.Context, id string) error {
	return ensureConversation(r.db.WithContext(ctx), id)
}
