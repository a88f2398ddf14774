package knowledge

import (
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/logger"
)

const (
	// MaxChunksPerDocument 单文档分块上限，超过直接报错
	MaxChunksPerDocument = 5000
	// WarnChunksPerDocument 分块数告警阈值
	WarnChunksPerDocument = 1000
)

// 分块边界字符，中英文句末标点和换行
var boundaryRunes = map[rune]bool{
	'。': true, '.': true,
	'！': true, '!': true,
	'？': true, '?': true,
	'；': true, ';': true,
	'\n': true,
}

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 文本分块器，按句末边界切分并保留重叠
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// Split 将文本切分为多个chunk。
// 每个窗口优先在 chunkSize/3 之后最靠右的边界字符处切开，
// 找不到边界则硬切；下一个窗口从切点回退 overlap 个字符开始。
func (c *Chunker) Split(text string) ([]Chunk, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	minSplit := c.chunkSize / 3

	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			// 余下部分作为最后一块
			c.appendChunk(&chunks, runes[start:])
			break
		}

		// 窗口内从右往左找边界字符，切点在边界字符之后
		splitPoint := end
		for i := end - 1; i > start+minSplit; i-- {
			if boundaryRunes[runes[i]] {
				splitPoint = i + 1
				break
			}
		}

		c.appendChunk(&chunks, runes[start:splitPoint])
		if len(chunks) > MaxChunksPerDocument {
			return nil, apperrors.NewChunkCountExceededError(len(chunks), MaxChunksPerDocument)
		}

		next := splitPoint - c.chunkOverlap
		if next <= start {
			// overlap过大导致无法前进时直接跳到窗口右缘，保证终止
			next = end
		}
		start = next
	}

	// 最后一块在循环外追加，上限在完整列表上再查一次
	if len(chunks) > MaxChunksPerDocument {
		return nil, apperrors.NewChunkCountExceededError(len(chunks), MaxChunksPerDocument)
	}
	if len(chunks) > WarnChunksPerDocument {
		logger.Warn("文档分块数量偏高",
			zap.Int("chunks", len(chunks)),
			zap.Int("chunk_size", c.chunkSize))
	}

	return chunks, nil
}

// ChunkSize 返回配置的分块大小
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// ChunkOverlap 返回配置的重叠大小
func (c *Chunker) ChunkOverlap() int {
	return c.chunkOverlap
}

func (c *Chunker) appendChunk(chunks *[]Chunk, runes []rune) {
	text := strings.TrimSpace(string(runes))
	if text == "" {
		return
	}
	*chunks = append(*chunks, Chunk{
		Index: len(*chunks),
		Text:  text,
	})
}
