// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Index         IndexConfig         `mapstructure:"index"`
	Session       SessionConfig       `mapstructure:"session"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置，DSN 为空时不记录文档版本。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置，Addr 为空时会话仅保存在内存中。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置，Brokers 为空时禁用异步索引。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 镜像索引的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	// Concurrency 是索引时并行向量化的分块数上限。
	Concurrency int `mapstructure:"concurrency"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
	FallbackText string `mapstructure:"fallback_text"`
}

// ChunkingConfig 配置章节切分参数。
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// IndexConfig 配置向量索引及其快照持久化。
type IndexConfig struct {
	Dimension int `mapstructure:"dimension"`
	// SnapshotBackend 取值 file、minio 或 none。
	SnapshotBackend string `mapstructure:"snapshot_backend"`
	SnapshotPath    string `mapstructure:"snapshot_path"`
	SnapshotObject  string `mapstructure:"snapshot_object"`
}

// SessionConfig 配置会话保留策略。
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	HistoryTurns  int           `mapstructure:"history_turns"`
}

// ChatConfig 配置问答流程参数。
type ChatConfig struct {
	TopK              int     `mapstructure:"top_k"`
	MaxContextChars   int     `mapstructure:"max_context_chars"`
	MinSimilarity     float64 `mapstructure:"min_similarity"`
	ConfidenceFloor   float64 `mapstructure:"confidence_floor"`
	ConfidenceCeiling float64 `mapstructure:"confidence_ceiling"`
}

// VectorDimension 返回外部向量存储使用的维度：index.dimension 为 0（首条写入时确定）时退回 embedding.dimensions。
func (c Config) VectorDimension() int {
	if c.Index.Dimension > 0 {
		return c.Index.Dimension
	}
	return c.Embedding.Dimensions
}

// Init 从指定的路径读取 YAML 文件并解析到 Conf 变量中，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Load 读取配置文件，环境变量（RAG_ 前缀）可覆盖文件中的值。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "chapter-index")
	v.SetDefault("kafka.group_id", "course-rag-go-consumer")
	v.SetDefault("elasticsearch.index_name", "course_chunks")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.timeout", 5*time.Second)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("llm.timeout", 8*time.Second)
	v.SetDefault("chunking.size", 500)
	v.SetDefault("chunking.overlap", 100)
	v.SetDefault("index.snapshot_backend", "file")
	v.SetDefault("index.snapshot_path", "data/vector_index.json")
	v.SetDefault("index.snapshot_object", "index/vector_index.json")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
	v.SetDefault("session.history_turns", 6)
	v.SetDefault("chat.top_k", 3)
	v.SetDefault("chat.max_context_chars", 6000)
	v.SetDefault("chat.min_similarity", 0.2)
	v.SetDefault("chat.confidence_floor", 0.2)
	v.SetDefault("chat.confidence_ceiling", 0.85)
}
