package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PageData 是分页列表的响应体。
type PageData struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// intQuery 读取整数查询参数，缺省或非法时返回 def。
func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
