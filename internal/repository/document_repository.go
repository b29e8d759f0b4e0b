package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"rag-chat-go/internal/model"
)

// DocumentRepository 定义了文档元数据与正文的持久化操作。
// 查询不存在的文档时返回 model.ErrDocumentNotFound。
type DocumentRepository interface {
	Save(ctx context.Context, doc *model.DocumentRecord) error
	GetByID(ctx context.Context, id string) (*model.DocumentRecord, error)
	GetByFilename(ctx context.Context, filename string, userID uint) (*model.DocumentRecord, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]model.DocumentRecord, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	CountByUser(ctx context.Context, userID uint) (int64, error)
	SearchByUser(ctx context.Context, userID uint, query string, limit int) ([]model.DocumentRecord, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.DocumentRecord, error)
	MarkProcessed(ctx context.Context, id, content string, chunkCount int) error
	UpdateStatus(ctx context.Context, id string, status int) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Save(ctx context.Context, doc *model.DocumentRecord) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

func (r *documentRepository) first(ctx context.Context, query string, args ...interface{}) (*model.DocumentRecord, error) {
	var doc model.DocumentRecord
	err := r.db.WithContext(ctx).Where(query, args...).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) GetByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *documentRepository) GetByFilename(ctx context.Context, filename string, userID uint) (*model.DocumentRecord, error) {
	return r.first(ctx, "filename = ? AND user_id = ?", filename, userID)
}

// ListByUser 按创建时间倒序分页返回用户的文档。
func (r *documentRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]model.DocumentRecord, error) {
	var docs []model.DocumentRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&docs).Error
	return docs, err
}

func (r *documentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.DocumentRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func (r *documentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *documentRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// SearchByUser 在文件名与正文中做大小写不敏感的子串匹配。
func (r *documentRepository) SearchByUser(ctx context.Context, userID uint, query string, limit int) ([]model.DocumentRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var docs []model.DocumentRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(LOWER(content) LIKE ? ESCAPE '!' OR LOWER(filename) LIKE ? ESCAPE '!')", pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// FindByIDs 批量查询文档，用于给检索结果补全文件名。
func (r *documentRepository) FindByIDs(ctx context.Context, ids []string) ([]model.DocumentRecord, error) {
	var docs []model.DocumentRecord
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).Select("id", "filename", "user_id").Where("id IN ?", ids).Find(&docs).Error
	return docs, err
}

// MarkProcessed 写回解析后的正文与片段数量。
func (r *documentRepository) MarkProcessed(ctx context.Context, id, content string, chunkCount int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"content":      content,
		"chunk_count":  chunkCount,
		"status":       model.DocumentStatusProcessed,
		"processed_at": &now,
	}).Error
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id string, status int) error {
	return r.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("id = ?", id).Update("status", status).Error
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
