package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	Qdrant    QdrantConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type StorageConfig struct {
	Path        string
	MaxOpenConn int
	BusyTimeout int // 毫秒
}

type EmbeddingConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	BatchSize    int
	TimeoutSec   int
}

type SearchConfig struct {
	DefaultCollection string
	DefaultLimit      int
	Threshold         float64
	FallbackLadder    []float64
	OverfetchFactor   int
	OverfetchCap      int
	CacheCapacity     int
	MinChunkLen       int
	MaxChunkLen       int
}

type QdrantConfig struct {
	Enabled bool
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
}

type TelemetryConfig struct {
	EnableSearchHistory bool
	MetricsEnabled      bool
}

var AppConfig *Config

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	// 设置默认值
	viper.SetDefault("server.port", "8200")
	viper.SetDefault("server.env", "development")

	viper.SetDefault("storage.path", "./data/knowledge.db")
	viper.SetDefault("storage.max_open_conn", 10)
	viper.SetDefault("storage.busy_timeout", 5000)

	viper.SetDefault("embedding.base_url", "https://api.siliconflow.cn/v1")
	viper.SetDefault("embedding.default_model", "BAAI/bge-m3")
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("embedding.timeout_sec", 60)

	viper.SetDefault("search.default_collection", "")
	viper.SetDefault("search.default_limit", 10)
	viper.SetDefault("search.threshold", 0.7)
	viper.SetDefault("search.fallback_ladder", []float64{0.40, 0.30})
	viper.SetDefault("search.overfetch_factor", 3)
	viper.SetDefault("search.overfetch_cap", 100)
	viper.SetDefault("search.cache_capacity", 1000)
	viper.SetDefault("search.min_chunk_len", 5)
	viper.SetDefault("search.max_chunk_len", 5000)

	viper.SetDefault("qdrant.enabled", false)
	viper.SetDefault("qdrant.host", "localhost")
	viper.SetDefault("qdrant.port", 6334)
	viper.SetDefault("qdrant.use_tls", false)

	viper.SetDefault("telemetry.enable_search_history", true)
	viper.SetDefault("telemetry.metrics_enabled", false)

	// 读取环境变量
	viper.SetEnvPrefix("KNOWLEDGE")
	viper.AutomaticEnv()

	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if dbPath := os.Getenv("KNOWLEDGE_DB_PATH"); dbPath != "" {
		viper.Set("storage.path", dbPath)
	}
	if baseURL := os.Getenv("EMBEDDING_BASE_URL"); baseURL != "" {
		viper.Set("embedding.base_url", baseURL)
	}
	if apiKey := os.Getenv("EMBEDDING_API_KEY"); apiKey != "" {
		viper.Set("embedding.api_key", apiKey)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		viper.Set("embedding.default_model", model)
	}
	if ladder := os.Getenv("SEARCH_FALLBACK_LADDER"); ladder != "" {
		// 支持逗号分隔的阈值列表
		parts := strings.Split(ladder, ",")
		values := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err == nil {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			viper.Set("search.fallback_ladder", values)
		}
	}
	if qdrantHost := os.Getenv("QDRANT_HOST"); qdrantHost != "" {
		viper.Set("qdrant.host", qdrantHost)
		viper.Set("qdrant.enabled", true)
	}
	if qdrantAPIKey := os.Getenv("QDRANT_API_KEY"); qdrantAPIKey != "" {
		viper.Set("qdrant.api_key", qdrantAPIKey)
	}
	if history := os.Getenv("ENABLE_SEARCH_HISTORY"); history == "false" {
		viper.Set("telemetry.enable_search_history", false)
	}
	if metrics := os.Getenv("METRICS_ENABLED"); metrics == "true" {
		viper.Set("telemetry.metrics_enabled", true)
	}

	AppConfig = &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Storage: StorageConfig{
			Path:        viper.GetString("storage.path"),
			MaxOpenConn: viper.GetInt("storage.max_open_conn"),
			BusyTimeout: viper.GetInt("storage.busy_timeout"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:      viper.GetString("embedding.base_url"),
			APIKey:       viper.GetString("embedding.api_key"),
			DefaultModel: viper.GetString("embedding.default_model"),
			BatchSize:    viper.GetInt("embedding.batch_size"),
			TimeoutSec:   viper.GetInt("embedding.timeout_sec"),
		},
		Search: SearchConfig{
			DefaultCollection: viper.GetString("search.default_collection"),
			DefaultLimit:      viper.GetInt("search.default_limit"),
			Threshold:         viper.GetFloat64("search.threshold"),
			FallbackLadder:    getFloat64Slice("search.fallback_ladder"),
			OverfetchFactor:   viper.GetInt("search.overfetch_factor"),
			OverfetchCap:      viper.GetInt("search.overfetch_cap"),
			CacheCapacity:     viper.GetInt("search.cache_capacity"),
			MinChunkLen:       viper.GetInt("search.min_chunk_len"),
			MaxChunkLen:       viper.GetInt("search.max_chunk_len"),
		},
		Qdrant: QdrantConfig{
			Enabled: viper.GetBool("qdrant.enabled"),
			Host:    viper.GetString("qdrant.host"),
			Port:    viper.GetInt("qdrant.port"),
			APIKey:  viper.GetString("qdrant.api_key"),
			UseTLS:  viper.GetBool("qdrant.use_tls"),
		},
		Telemetry: TelemetryConfig{
			EnableSearchHistory: viper.GetBool("telemetry.enable_search_history"),
			MetricsEnabled:      viper.GetBool("telemetry.metrics_enabled"),
		},
	}

	return AppConfig, nil
}

func getFloat64Slice(key string) []float64 {
	raw := viper.Get(key)
	switch v := raw.(type) {
	case []float64:
		return v
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case string:
				if f, err := strconv.ParseFloat(n, 64); err == nil {
					out = append(out, f)
				}
			}
		}
		return out
	}
	return nil
}
