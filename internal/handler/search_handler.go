package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

const maxTopK = 100

// SearchHandler 提供检索预览接口，返回对话时会使用的上下文片段。
type SearchHandler struct {
	searchService service.SearchService
	defaultTopK   int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, defaultTopK int) *SearchHandler {
	return &SearchHandler{searchService: searchService, defaultTopK: defaultTopK}
}

func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		respondBadRequest(c, "query must not be empty")
		return
	}
	topK := intQuery(c, "topK", h.defaultTopK)
	if topK < 1 || topK > maxTopK {
		respondBadRequest(c, "topK must be between 1 and 100")
		return
	}

	results, err := h.searchService.Retrieve(c.Request.Context(), currentUser(c).ID, query, topK)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respondOK(c, "success", results)
}
