package repository

import (
	"context"

	"gorm.io/gorm"

	"rag-chat-go/internal/model"
)

// DocumentVectorRepository 定义了对 document_vectors 表的数据操作接口。
type DocumentVectorRepository interface {
	ReplaceForDocument(ctx context.Context, documentID string, vectors []*model.DocumentVector) error
	FindByDocumentID(ctx context.Context, documentID string) ([]*model.DocumentVector, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type documentVectorRepository struct {
	db *gorm.DB
}

// NewDocumentVectorRepository 创建一个新的 DocumentVectorRepository 实例。
func NewDocumentVectorRepository(db *gorm.DB) DocumentVectorRepository {
	return &documentVectorRepository{db: db}
}

// ReplaceForDocument 删除文档已有的片段记录后批量写入新记录，重复处理同一文档是幂等的。
func (r *documentVectorRepository) ReplaceForDocument(ctx context.Context, documentID string, vectors []*model.DocumentVector) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentVector{}).Error; err != nil {
			return err
		}
		if len(vectors) == 0 {
			return nil
		}
		return tx.CreateInBatches(vectors, 100).Error
	})
}

// FindByDocumentID 按片段序号返回文档的全部片段。
func (r *documentVectorRepository) FindByDocumentID(ctx context.Context, documentID string) ([]*model.DocumentVector, error) {
	var vectors []*model.DocumentVector
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_id ASC").Find(&vectors).Error
	return vectors, err
}

func (r *documentVectorRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentVector{}).Error
}
