package services

import (
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/logger"
)

// 入库进度事件
const (
	EventChunkingCompleted = "chunking_completed"
	EventBatchEmbedded     = "batch_embedded"
	EventDocumentProcessed = "document_processed"
)

// ProgressNotifier 入库进度通知接口，调用方可替换为自己的推送实现
type ProgressNotifier interface {
	Notify(event string, payload map[string]interface{})
}

// LogNotifier 默认实现，进度写入结构化日志
type LogNotifier struct{}

// NewLogNotifier 创建日志进度通知器
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(event string, payload map[string]interface{}) {
	fields := make([]zap.Field, 0, len(payload)+1)
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	logger.Info("入库进度: "+event, fields...)
}
