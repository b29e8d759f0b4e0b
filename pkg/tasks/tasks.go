// Package tasks 定义了通过 Kafka 传递的异步任务。
package tasks

// DocumentTask 是一份待处理文档：抽取正文、切分、向量化并写入向量库。
type DocumentTask struct {
	DocumentID string `json:"document_id"`
	UserID     uint   `json:"user_id"`
	Filename   string `json:"filename"`
	ObjectName string `json:"object_name"`
}
