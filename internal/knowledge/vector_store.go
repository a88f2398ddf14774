package knowledge

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/aihub/knowledge-engine/internal/models"
)

// VectorRecord 一条待插入的向量记录。ChunkID必须等于所属分块主键。
type VectorRecord struct {
	ChunkID      int64
	CollectionID string
	Embedding    []float32
}

// VectorStore 向量存储契约，嵌入式SQLite实现与Qdrant实现共用
type VectorStore interface {
	// InsertVectors 事务性批量插入，全部成功或全部回滚
	InsertVectors(ctx context.Context, records []VectorRecord) error
	// Search 按集合检索，返回经过阈值过滤、去重、分组排序的结果
	Search(ctx context.Context, queryVector []float32, collectionID string, limit int, threshold float64) ([]models.SearchResult, error)
	// DeleteDocument 级联删除文档的向量、分块和文档行
	DeleteDocument(ctx context.Context, documentID string) error
	// VectorCount 集合内向量条数
	VectorCount(ctx context.Context, collectionID string) (int, error)
	// HealthCheck 独立探测元数据存储、向量存储和距离函数
	HealthCheck(ctx context.Context) (models.DatabaseHealth, error)
}

// EncodeVector 将float32向量编码为小端BLOB
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector 从小端BLOB还原float32向量
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// NormalizeVector 归一化为单位向量，零向量原样返回
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// L2ToCosine 单位向量间L2距离转余弦相似度。
// d² = 2(1 − cosθ)，故 similarity = 1 − d²/2。
func L2ToCosine(distance float64) float64 {
	return 1 - distance*distance/2
}

// postFilterResults 对候选集做阈值过滤、去重、长度过滤和分组排序，
// 两个存储后端共用同一套后处理流程
func postFilterResults(candidates []models.SearchResult, limit int, threshold float64, minLen, maxLen int) []models.SearchResult {
	seen := make(map[uint64]bool)
	var filtered []models.SearchResult
	for _, r := range candidates {
		if r.Similarity < threshold {
			continue
		}
		// 相同文本只保留首次出现，应对重复入库
		hash := xxhash.Sum64String(r.ChunkText)
		if seen[hash] {
			continue
		}
		length := len([]rune(r.ChunkText))
		if length < minLen || length > maxLen {
			continue
		}
		seen[hash] = true
		filtered = append(filtered, r)
	}

	// 按文档分组，组间按组内最高分排序
	groups := make(map[string][]models.SearchResult)
	var order []string
	for _, r := range filtered {
		if _, ok := groups[r.DocumentID]; !ok {
			order = append(order, r.DocumentID)
		}
		groups[r.DocumentID] = append(groups[r.DocumentID], r)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return groups[order[i]][0].Similarity > groups[order[j]][0].Similarity
	})

	// 展平后整体按相似度降序
	flattened := make([]models.SearchResult, 0, len(filtered))
	for _, docID := range order {
		flattened = append(flattened, groups[docID]...)
	}
	sort.SliceStable(flattened, func(i, j int) bool {
		return flattened[i].Similarity > flattened[j].Similarity
	})

	if len(flattened) > limit {
		flattened = flattened[:limit]
	}
	return flattened
}
