package knowledge

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aihub/knowledge-engine/internal/metrics"
	"github.com/aihub/knowledge-engine/internal/models"
)

// QueryCache 搜索结果LRU缓存。
// 任何底层写入（插入/删除向量）都整体失效，宁可少命中不可错命中。
// 缓存值连同实际生效的阈值一起存放，降级命中的结果二次返回时阈值口径一致。
type QueryCache struct {
	lru *lru.Cache[uint64, cacheEntry]
	cap int
}

type cacheEntry struct {
	results       []models.SearchResult
	usedThreshold float64
}

// NewQueryCache 创建查询缓存
func NewQueryCache(capacity int) (*QueryCache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	c, err := lru.New[uint64, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &QueryCache{lru: c, cap: capacity}, nil
}

// CacheKey 由集合ID、limit、阈值位模式和查询向量位模式生成摘要
func CacheKey(collectionID string, limit int, threshold float64, vector []float32) uint64 {
	d := xxhash.New()
	d.WriteString(collectionID)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(limit))
	d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(threshold))
	d.Write(buf[:])

	for _, v := range vector {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		d.Write(buf[:4])
	}
	return d.Sum64()
}

// Get 查询缓存，返回结果副本和当初生效的阈值
func (c *QueryCache) Get(key uint64) ([]models.SearchResult, float64, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, 0, false
	}
	metrics.CacheHits.Inc()

	out := make([]models.SearchResult, len(entry.results))
	copy(out, entry.results)
	return out, entry.usedThreshold, true
}

// Put 写入缓存，usedThreshold为产生该结果集的实际阈值（可能是降级档位）
func (c *QueryCache) Put(key uint64, results []models.SearchResult, usedThreshold float64) {
	stored := make([]models.SearchResult, len(results))
	copy(stored, results)
	c.lru.Add(key, cacheEntry{results: stored, usedThreshold: usedThreshold})
}

// Clear 整体清空
func (c *QueryCache) Clear() {
	c.lru.Purge()
}

// Len 当前条目数
func (c *QueryCache) Len() int {
	return c.lru.Len()
}

// Cap 缓存容量
func (c *QueryCache) Cap() int {
	return c.cap
}
