// Package pipeline 定义了文档入库的处理流程：抽取正文、切分、向量化、写入向量库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"rag-chat-go/internal/chunker"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/metrics"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
	"rag-chat-go/pkg/vectorstore"
)

// TextExtractor 从原始文件中提取纯文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Processor 封装了文档处理的所有依赖和逻辑。
type Processor struct {
	objects         storage.ObjectStore
	extractor       TextExtractor
	embeddingClient embedding.Client
	store           vectorstore.Store
	docRepo         repository.DocumentRepository
	docVectorRepo   repository.DocumentVectorRepository
	chunker         chunker.Chunker
	modelName       string
	metrics         *metrics.Metrics
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	objects storage.ObjectStore,
	extractor TextExtractor,
	embeddingClient embedding.Client,
	store vectorstore.Store,
	docRepo repository.DocumentRepository,
	docVectorRepo repository.DocumentVectorRepository,
	ch chunker.Chunker,
	modelName string,
	m *metrics.Metrics,
) *Processor {
	return &Processor{
		objects:         objects,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		store:           store,
		docRepo:         docRepo,
		docVectorRepo:   docVectorRepo,
		chunker:         ch,
		modelName:       modelName,
		metrics:         m,
	}
}

// errEmptyContent 表示文档没有可切分的正文，重试也无济于事。
var errEmptyContent = errors.New("document has no text content")

// Process 处理一条文档任务。重复处理同一文档是幂等的：旧的片段会先被清理。
// 失败时文档被标记为失败，返回错误交给消费者重试；正文为空属于永久失败，不再重试。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentTask) error {
	log.Infof("[Processor] 开始处理文档, document: %s, filename: %s, user: %d", task.DocumentID, task.Filename, task.UserID)

	doc, err := p.docRepo.GetByID(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			log.Warnf("[Processor] 文档已不存在，跳过, document: %s", task.DocumentID)
			return nil
		}
		return err
	}

	chunkCount, err := p.process(ctx, doc)
	if err != nil {
		if statusErr := p.docRepo.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed); statusErr != nil {
			log.Errorf("[Processor] 更新文档状态失败: %v", statusErr)
		}
		p.metrics.DocumentProcessed("failed")
		if errors.Is(err, errEmptyContent) {
			log.Warnf("[Processor] 文档正文为空, 处理中止, document: %s", doc.ID)
			return nil
		}
		return err
	}

	p.metrics.DocumentProcessed("processed")
	log.Infof("[Processor] 文档处理成功, document: %s, chunks: %d", doc.ID, chunkCount)
	return nil
}

func (p *Processor) process(ctx context.Context, doc *model.DocumentRecord) (int, error) {
	// 1. 获取正文，纯文本文件在上传时已经写入
	content := doc.Content
	if strings.TrimSpace(content) == "" {
		extracted, err := p.extract(ctx, doc)
		if err != nil {
			return 0, err
		}
		content = extracted
	}
	if strings.TrimSpace(content) == "" {
		return 0, errEmptyContent
	}
	log.Infof("[Processor] 步骤1: 正文就绪, 长度: %d 字符", utf8.RuneCountInString(content))

	// 2. 切分
	chunks := chunker.Collect(p.chunker.Split(content))
	log.Infof("[Processor] 步骤2: 文本分块完成, chunkSize: %d, 共 %d 块", p.chunker.Size, len(chunks))

	// 3. 整批向量化，任何一块失败都不会写入部分结果
	embeddings, err := p.embeddingClient.CreateEmbeddings(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	p.metrics.ObserveEmbeddingBatch(len(chunks))

	// 4. 写入向量库
	records := make([]vectorstore.Record, 0, len(chunks))
	rows := make([]*model.DocumentVector, 0, len(chunks))
	for i, e := range embeddings {
		records = append(records, vectorstore.Record{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			ChunkID:    i,
			Text:       e.Text(),
			Vector:     e.Vector(),
			Model:      p.modelName,
			UserID:     doc.UserID,
		})
		rows = append(rows, &model.DocumentVector{
			DocumentID:   doc.ID,
			ChunkID:      i,
			TextContent:  e.Text(),
			ModelVersion: p.modelName,
			UserID:       doc.UserID,
		})
	}
	if err := p.store.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("failed to clear old vectors: %w", err)
	}
	if err := p.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to upsert vectors: %w", err)
	}
	log.Infof("[Processor] 步骤3: 已写入 %d 个向量", len(records))

	// 5. 片段记录与文档状态
	if err := p.docVectorRepo.ReplaceForDocument(ctx, doc.ID, rows); err != nil {
		return 0, fmt.Errorf("failed to save chunk rows: %w", err)
	}
	if err := p.docRepo.MarkProcessed(ctx, doc.ID, content, len(chunks)); err != nil {
		return 0, fmt.Errorf("failed to mark document processed: %w", err)
	}
	return len(chunks), nil
}

func (p *Processor) extract(ctx context.Context, doc *model.DocumentRecord) (string, error) {
	obj, err := p.objects.Get(ctx, doc.ObjectName)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	text, err := p.extractor.ExtractText(ctx, obj, doc.Filename)
	if err != nil {
		log.Errorf("[Processor] 提取正文失败, filename: %s, error: %v", doc.Filename, err)
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	return text, nil
}
