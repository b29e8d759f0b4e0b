package handler

import (
	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 接收 multipart 表单中的 file 字段。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	info, err := h.docService.Upload(c.Request.Context(), service.UploadRequest{
		UserID:   currentUser(c).ID,
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		log.Warnf("[DocumentHandler] 上传失败, filename: %s, error: %v", fh.Filename, err)
		respondError(c, err)
		return
	}
	respondOK(c, "Document uploaded", info)
}

func (h *DocumentHandler) List(c *gin.Context) {
	page, size := intQuery(c, "page", 1), intQuery(c, "size", 20)
	items, total, err := h.docService.List(c.Request.Context(), currentUser(c).ID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", PageData{Items: items, Total: total, Page: page, Size: size})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	info, err := h.docService.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", info)
}

// Search 在文件名与正文中做子串搜索。
func (h *DocumentHandler) Search(c *gin.Context) {
	items, err := h.docService.Search(c.Request.Context(), currentUser(c).ID, c.Query("query"), intQuery(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", items)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.docService.Delete(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Document deleted", nil)
}

// Download 返回原始文件的临时下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	url, err := h.docService.DownloadURL(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", gin.H{"downloadUrl": url})
}
