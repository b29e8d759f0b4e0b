package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
	"rag-chat-go/pkg/vectorstore"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	downloadURLExpiry  = time.Hour
)

// DocumentInfo 是返回给前端的文档信息，不包含正文全文。
type DocumentInfo struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	Size        int64            `json:"size"`
	Status      string           `json:"status"`
	ChunkCount  int              `json:"chunkCount"`
	Preview     string           `json:"preview"`
	CreatedAt   model.LocalTime  `json:"createdAt"`
	ProcessedAt *model.LocalTime `json:"processedAt,omitempty"`
}

// UploadRequest 描述一次文档上传。
type UploadRequest struct {
	UserID   uint
	Filename string
	Size     int64
	Body     io.Reader
}

// DocumentService 接口定义了文档管理相关的业务操作，所有操作都限定在用户自己的文档内。
type DocumentService interface {
	Upload(ctx context.Context, req UploadRequest) (*DocumentInfo, error)
	List(ctx context.Context, userID uint, page, size int) ([]DocumentInfo, int64, error)
	Get(ctx context.Context, userID uint, id string) (*DocumentInfo, error)
	Search(ctx context.Context, userID uint, query string, limit int) ([]DocumentInfo, error)
	Delete(ctx context.Context, userID uint, id string) error
	DownloadURL(ctx context.Context, userID uint, id string) (string, error)
}

type documentService struct {
	docRepo       repository.DocumentRepository
	docVectorRepo repository.DocumentVectorRepository
	store         vectorstore.Store
	objects       storage.ObjectStore
	producer      kafka.TaskProducer
	cfg           config.DocumentConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, docVectorRepo repository.DocumentVectorRepository,
	store vectorstore.Store, objects storage.ObjectStore, producer kafka.TaskProducer, cfg config.DocumentConfig) DocumentService {
	return &documentService{
		docRepo:       docRepo,
		docVectorRepo: docVectorRepo,
		store:         store,
		objects:       objects,
		producer:      producer,
		cfg:           cfg,
	}
}

func statusText(status int) string {
	switch status {
	case model.DocumentStatusProcessed:
		return "PROCESSED"
	case model.DocumentStatusFailed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

func toDocumentInfo(rec *model.DocumentRecord) DocumentInfo {
	info := DocumentInfo{
		ID:         rec.ID,
		Filename:   rec.Filename,
		Size:       rec.Size,
		Status:     statusText(rec.Status),
		ChunkCount: rec.ChunkCount,
		Preview:    rec.ToDocument().Preview(),
		CreatedAt:  model.LocalTime(rec.CreatedAt),
	}
	if rec.ProcessedAt != nil {
		t := model.LocalTime(*rec.ProcessedAt)
		info.ProcessedAt = &t
	}
	return info
}

// isPlainText 判断文件能否不经 Tika 直接作为正文。
func isPlainText(ext string) bool {
	return ext == "txt" || ext == "md"
}

func (s *documentService) validateUpload(req UploadRequest) (string, error) {
	name := strings.TrimSpace(filepath.Base(req.Filename))
	if name == "" || name == "." || name == "/" {
		return "", &model.ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(name) > 255 {
		return "", &model.ValidationError{Field: "filename", Reason: "must be at most 255 characters"}
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if !slices.Contains(s.cfg.AllowedExtensions, ext) {
		return "", &model.ValidationError{Field: "filename", Reason: fmt.Sprintf("extension %q is not allowed", ext)}
	}
	if req.Size <= 0 {
		return "", &model.ValidationError{Field: "file", Reason: "must not be empty"}
	}
	if req.Size > s.cfg.MaxFileSize {
		return "", &model.ValidationError{Field: "file", Reason: fmt.Sprintf("must be at most %d bytes", s.cfg.MaxFileSize)}
	}
	return name, nil
}

// Upload 校验并保存原始文件，写入文档记录后投递异步处理任务。
func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*DocumentInfo, error) {
	name, err := s.validateUpload(req)
	if err != nil {
		return nil, err
	}

	// 1. 同一用户下文件名唯一
	if _, err := s.docRepo.GetByFilename(ctx, name, req.UserID); err == nil {
		return nil, model.ErrDocumentExists
	} else if !errors.Is(err, model.ErrDocumentNotFound) {
		return nil, err
	}

	// 2. 读入内存，声明的大小不可信
	data, err := io.ReadAll(io.LimitReader(req.Body, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, &model.ValidationError{Field: "file", Reason: fmt.Sprintf("must be at most %d bytes", s.cfg.MaxFileSize)}
	}

	rec := &model.DocumentRecord{
		ID:        model.NewID(),
		UserID:    req.UserID,
		Filename:  name,
		Size:      int64(len(data)),
		Status:    model.DocumentStatusPending,
		CreatedAt: time.Now(),
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if isPlainText(ext) {
		if !utf8.Valid(data) {
			return nil, &model.ValidationError{Field: "file", Reason: "text files must be UTF-8 encoded"}
		}
		rec.Content = string(data)
	}
	rec.ObjectName = fmt.Sprintf("documents/%d/%s/%s", req.UserID, rec.ID, name)

	// 3. 原始文件写入 MinIO
	if err := s.objects.Put(ctx, rec.ObjectName, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		log.Errorf("[DocumentService] 上传文件到对象存储失败, filename: %s, error: %v", name, err)
		return nil, err
	}

	// 4. 文档记录与异步任务
	if err := s.docRepo.Save(ctx, rec); err != nil {
		_ = s.objects.Remove(context.WithoutCancel(ctx), rec.ObjectName)
		return nil, err
	}
	task := tasks.DocumentTask{DocumentID: rec.ID, UserID: rec.UserID, Filename: rec.Filename, ObjectName: rec.ObjectName}
	if err := s.producer.ProduceDocumentTask(ctx, task); err != nil {
		log.Errorf("[DocumentService] 投递文档任务失败, document: %s, error: %v", rec.ID, err)
		_ = s.docRepo.UpdateStatus(context.WithoutCancel(ctx), rec.ID, model.DocumentStatusFailed)
		return nil, fmt.Errorf("failed to enqueue document task: %w", err)
	}

	log.Infof("[DocumentService] 文档上传成功, document: %s, filename: %s, size: %d", rec.ID, name, rec.Size)
	info := toDocumentInfo(rec)
	return &info, nil
}

func (s *documentService) List(ctx context.Context, userID uint, page, size int) ([]DocumentInfo, int64, error) {
	limit, offset := pagination(page, size)
	recs, err := s.docRepo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.docRepo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	items := make([]DocumentInfo, 0, len(recs))
	for i := range recs {
		items = append(items, toDocumentInfo(&recs[i]))
	}
	return items, total, nil
}

// load 读取文档并校验归属，不属于该用户的文档视为不存在。
func (s *documentService) load(ctx context.Context, userID uint, id string) (*model.DocumentRecord, error) {
	rec, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, model.ErrDocumentNotFound
	}
	return rec, nil
}

func (s *documentService) Get(ctx context.Context, userID uint, id string) (*DocumentInfo, error) {
	rec, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	info := toDocumentInfo(rec)
	return &info, nil
}

// Search 在文件名与正文中做子串匹配，不是语义检索。
func (s *documentService) Search(ctx context.Context, userID uint, query string, limit int) ([]DocumentInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &model.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit < 1 || limit > maxSearchLimit {
		return nil, &model.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxSearchLimit)}
	}
	recs, err := s.docRepo.SearchByUser(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]DocumentInfo, 0, len(recs))
	for i := range recs {
		items = append(items, toDocumentInfo(&recs[i]))
	}
	return items, nil
}

// Delete 删除文档记录、片段、向量与原始文件。对象存储删除失败只记录日志。
func (s *documentService) Delete(ctx context.Context, userID uint, id string) error {
	rec, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.docVectorRepo.DeleteByDocumentID(ctx, id); err != nil {
		return err
	}
	if rec.ObjectName != "" {
		if err := s.objects.Remove(ctx, rec.ObjectName); err != nil {
			log.Warnf("[DocumentService] 删除原始文件失败, object: %s, error: %v", rec.ObjectName, err)
		}
	}
	if err := s.docRepo.Delete(ctx, id); err != nil {
		return err
	}
	log.Infof("[DocumentService] 文档已删除, document: %s, user: %d", id, userID)
	return nil
}

// DownloadURL 生成原始文件的临时下载链接，有效期一小时。
func (s *documentService) DownloadURL(ctx context.Context, userID uint, id string) (string, error) {
	rec, err := s.load(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.objects.PresignedURL(ctx, rec.ObjectName, downloadURLExpiry)
}
