// Package es 使用 Elasticsearch 作为文档片段的向量库，支持 kNN 与 BM25 的混合检索。
package es

import (
	"bytes"
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/vectorstore"
)

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// Store 基于 Elasticsearch 实现 vectorstore.Store。
type Store struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

func NewStore(client *elasticsearch.Client, index string, dims int) *Store {
	return &Store{client: client, index: index, dims: dims}
}

// EnsureIndex 检查索引是否存在，不存在则按向量维度创建。
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" }
			}
		}
	}`, s.dims)

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", s.index)
	return nil
}

// Upsert 通过 bulk 接口写入片段，以片段 ID 作为文档 ID，重复写入会覆盖。
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		meta := map[string]any{"index": map[string]any{"_index": s.index, "_id": r.ID()}}
		doc := model.EsDocument{
			VectorID:     r.ID(),
			DocumentID:   r.DocumentID,
			Filename:     r.Filename,
			ChunkID:      r.ChunkID,
			TextContent:  r.Text,
			Vector:       r.Vector,
			ModelVersion: r.Model,
			UserID:       r.UserID,
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量写入 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index chunks")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk index reported item errors")
	}
	return nil
}

// Search 执行混合检索：kNN 召回加上 BM25 匹配，只在用户自己的片段中检索。
// ES 的混合得分没有上界，只用于召回；返回的相关度是查询向量与片段向量的余弦相似度，
// 截断到 [0,1]，与 Qdrant 的得分口径一致，结果按它降序排列。
func (s *Store) Search(ctx context.Context, q vectorstore.Query) ([]model.RetrievedChunk, error) {
	normalized := normalizeQuery(q.Text)
	userFilter := map[string]any{"term": map[string]any{"user_id": q.UserID}}
	esQuery := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   q.Vector,
			"k":              q.TopK * 10,
			"num_candidates": q.TopK * 30,
			"filter":         userFilter,
		},
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{"match": map[string]any{"text_content": normalized}},
				},
				"filter": userFilter,
			},
		},
		"size": q.TopK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ESStore] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := esResponse.Hits.Hits
	chunks := make([]model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, model.RetrievedChunk{
			DocumentID: h.Source.DocumentID,
			Filename:   h.Source.Filename,
			ChunkID:    h.Source.ChunkID,
			Text:       h.Source.TextContent,
			Score:      model.ClampScore(cosine(q.Vector, h.Source.Vector)),
		})
	}
	slices.SortStableFunc(chunks, func(a, b model.RetrievedChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})
	log.Infof("[ESStore] 检索完成, 命中 %d 条", len(chunks))
	return chunks, nil
}

// DeleteByDocument 删除某个文档的全部片段。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	body := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		strings.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query failed: %s", res.Status())
	}
	return nil
}

// cosine 计算两个向量的余弦相似度，维度不一致或存在零向量时返回 0。
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var (
	reKeep  = regexp.MustCompile(`[^\p{Han}\p{L}\p{N}\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 去掉标点与多余空白，供 BM25 匹配使用。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q
	}
	return kept
}
